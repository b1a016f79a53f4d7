package cfg

import (
	"fmt"
	"slices"

	"blockvm/internal/frame"
)

// LoopBody describes one natural loop: its header and every block the loop
// dispatcher may visit without exiting. Nested loop headers appear in the
// body of the enclosing loop.
type LoopBody struct {
	ID     LoopID
	Header BlockID
	Body   []BlockID

	member  []bool
	wrapper *Block
}

// Contains reports whether id belongs to the loop body.
func (l *LoopBody) Contains(id BlockID) bool {
	return id >= 0 && int(id) < len(l.member) && l.member[id]
}

// Wrapper returns the block that stands for the whole loop outside of it.
func (l *LoopBody) Wrapper() *Block { return l.wrapper }

// Exits returns the blocks the loop can exit to.
func (l *LoopBody) Exits() []BlockID {
	if l.wrapper == nil {
		return nil
	}
	return l.wrapper.Term.Loop.Successors
}

// Func is one function's control-flow graph together with its node arena
// and frame layout.
type Func struct {
	Name   string
	Layout frame.Layout
	Blocks []*Block
	Nodes  *Nodes
	Loops  []*LoopBody
	Entry  BlockID

	// ExceptionSlot receives the exception caught on an unwind edge.
	ExceptionSlot frame.SlotID
	// LoopSuccessorSlot carries the exit target out of a loop dispatcher.
	LoopSuccessorSlot frame.SlotID

	wrappers []*Block
	sealed   bool
}

// NewFrame allocates a fresh frame for one activation of f.
func (f *Func) NewFrame() *frame.Frame {
	return frame.New(f.Layout)
}

// Block returns the block with the given id as laid out in Blocks.
func (f *Func) Block(id BlockID) *Block {
	if id < 0 || int(id) >= len(f.Blocks) {
		return nil
	}
	return f.Blocks[id]
}

// LoopAt returns the loop whose header is id.
func (f *Func) LoopAt(id BlockID) (*LoopBody, bool) {
	if id < 0 || int(id) >= len(f.wrappers) || f.wrappers[id] == nil {
		return nil, false
	}
	return f.Loops[f.wrappers[id].Term.Loop.Loop], true
}

// Sealed reports whether Seal has completed.
func (f *Func) Sealed() bool { return f.sealed }

// Seal validates the graph, derives loop membership and exit sets, creates
// the loop wrapper blocks and allocates branch counters. After Seal the
// function may be executed and must not be modified.
func (f *Func) Seal() error {
	if f.sealed {
		return nil
	}
	if f.Nodes == nil {
		f.Nodes = &Nodes{}
	}
	if err := Validate(f); err != nil {
		return fmt.Errorf("function %s: %w", f.Name, err)
	}
	f.wrappers = make([]*Block, len(f.Blocks))
	for i, l := range f.Loops {
		l.ID = LoopID(i) //nolint:gosec // bounded by validated loop count
		l.member = make([]bool, len(f.Blocks))
		for _, id := range l.Body {
			l.member[id] = true
		}
		header := f.Blocks[l.Header]
		w := &Block{
			ID:             l.Header,
			NullableBefore: header.NullableBefore,
			Term: Terminator{
				Kind: TermLoop,
				Loop: LoopTerm{Loop: l.ID, Successors: loopExits(f, l)},
			},
		}
		w.allocCounters()
		l.wrapper = w
		f.wrappers[l.Header] = w
	}
	for _, b := range f.Blocks {
		b.allocCounters()
	}
	f.sealed = true
	return nil
}

// loopExits collects the targets outside the body that body blocks branch to,
// in ascending id order.
func loopExits(f *Func, l *LoopBody) []BlockID {
	var exits []BlockID
	for _, id := range l.Body {
		for _, s := range f.Blocks[id].Term.Successors() {
			if s < 0 || l.member[s] {
				continue
			}
			if !slices.Contains(exits, s) {
				exits = append(exits, s)
			}
		}
	}
	slices.Sort(exits)
	return exits
}

// View resolves block ids for one dispatch context.
type View struct {
	fn   *Func
	loop *LoopBody
}

// TopView is the context of the function-level dispatcher: every loop header
// resolves to its loop wrapper.
func (f *Func) TopView() View { return View{fn: f} }

// LoopView is the context of the dispatcher running l: l's own header
// resolves to the header block, other headers to their wrappers.
func (f *Func) LoopView(l *LoopBody) View { return View{fn: f, loop: l} }

// Loop returns the loop of a loop view, nil at function level.
func (v View) Loop() *LoopBody { return v.loop }

// Block resolves id in this context.
func (v View) Block(id BlockID) *Block {
	if id < 0 || int(id) >= len(v.fn.Blocks) {
		return nil
	}
	if w := v.fn.wrappers[id]; w != nil && (v.loop == nil || v.loop.Header != id) {
		return w
	}
	return v.fn.Blocks[id]
}
