package cfg

import (
	"fmt"
	"slices"

	"fortio.org/safecast"

	"blockvm/internal/frame"
)

// Builder assembles a Func. Blocks may be declared in any order but must end
// up dense: ids 0..n-1 with no gaps.
type Builder struct {
	fn     *Func
	blocks map[BlockID]*BlockBuilder
	derive bool
	err    error
}

// NewBuilder starts a function with the given name. Block 0 is the entry
// unless Entry is called.
func NewBuilder(name string) *Builder {
	return &Builder{
		fn: &Func{
			Name:              name,
			Nodes:             &Nodes{},
			ExceptionSlot:     frame.NoSlot,
			LoopSuccessorSlot: frame.NoSlot,
		},
		blocks: make(map[BlockID]*BlockBuilder),
	}
}

// Slot declares a frame slot.
func (b *Builder) Slot(name string, kind frame.Kind) frame.SlotID {
	id, err := safecast.Conv[frame.SlotID](len(b.fn.Layout))
	if err != nil {
		b.fail(fmt.Errorf("slot %q: %w", name, err))
		return frame.NoSlot
	}
	b.fn.Layout = append(b.fn.Layout, frame.SlotDesc{Name: name, Kind: kind})
	return id
}

// ExceptionSlot declares the slot receiving exceptions caught on unwind edges.
func (b *Builder) ExceptionSlot(name string) frame.SlotID {
	id := b.Slot(name, frame.KindRef)
	b.fn.ExceptionSlot = id
	return id
}

// LoopSuccessorSlot declares the slot carrying a loop's exit target.
func (b *Builder) LoopSuccessorSlot(name string) frame.SlotID {
	id := b.Slot(name, frame.KindInt)
	b.fn.LoopSuccessorSlot = id
	return id
}

// Nodes exposes the arena being filled.
func (b *Builder) Nodes() *Nodes { return b.fn.Nodes }

// Expr adds an expression node.
func (b *Builder) Expr(e Expr) ExprID { return b.fn.Nodes.AddExpr(e) }

// Stmt adds a statement node.
func (b *Builder) Stmt(s Stmt) StmtID { return b.fn.Nodes.AddStmt(s) }

// Case adds a switch case matcher.
func (b *Builder) Case(c Case) CaseID { return b.fn.Nodes.AddCase(c) }

// Read adds an expression reading slot.
func (b *Builder) Read(slot frame.SlotID) ExprID { return b.Expr(SlotRef(slot)) }

// Const adds a constant expression.
func (b *Builder) Const(v frame.Value) ExprID { return b.Expr(Const(v)) }

// Phi builds a parallel assignment batch from writes.
func (b *Builder) Phi(writes ...PhiWrite) PhiBatch {
	return SplitPhi(b.fn.Nodes, writes...)
}

// DeriveNullable makes Build compute every block's nullable lists from slot
// usage instead of taking the declared ones. All nodes must implement SlotUser.
func (b *Builder) DeriveNullable() *Builder {
	b.derive = true
	return b
}

// Entry sets the entry block.
func (b *Builder) Entry(id BlockID) { b.fn.Entry = id }

// Block returns the builder for block id, creating it on first use.
func (b *Builder) Block(id BlockID) *BlockBuilder {
	if bb, ok := b.blocks[id]; ok {
		return bb
	}
	bb := &BlockBuilder{parent: b, block: &Block{ID: id}}
	b.blocks[id] = bb
	return bb
}

// Loop declares a loop with the given header and body blocks. The header is
// added to the body if missing.
func (b *Builder) Loop(header BlockID, body ...BlockID) {
	members := slices.Clone(body)
	if !slices.Contains(members, header) {
		members = append(members, header)
	}
	slices.Sort(members)
	members = slices.Compact(members)
	b.fn.Loops = append(b.fn.Loops, &LoopBody{Header: header, Body: members})
}

// Build lays out the blocks and seals the function.
func (b *Builder) Build() (*Func, error) {
	if b.err != nil {
		return nil, b.err
	}
	n := len(b.blocks)
	b.fn.Blocks = make([]*Block, n)
	for id, bb := range b.blocks {
		if id < 0 || int(id) >= n {
			return nil, fmt.Errorf("function %s: block ids must be dense, got %s with %d blocks", b.fn.Name, id, n)
		}
		b.fn.Blocks[id] = bb.block
	}
	if b.derive {
		if err := Validate(b.fn); err != nil {
			return nil, fmt.Errorf("function %s: %w", b.fn.Name, err)
		}
		if err := DeriveNullable(b.fn); err != nil {
			return nil, fmt.Errorf("function %s: %w", b.fn.Name, err)
		}
	}
	if err := b.fn.Seal(); err != nil {
		return nil, err
	}
	return b.fn, nil
}

// MustBuild is Build for graphs known to be valid.
func (b *Builder) MustBuild() *Func {
	fn, err := b.Build()
	if err != nil {
		panic(err)
	}
	return fn
}

func (b *Builder) fail(err error) {
	if b.err == nil {
		b.err = err
	}
}

// BlockBuilder fills in one block.
type BlockBuilder struct {
	parent *Builder
	block  *Block
}

// ID returns the block id.
func (bb *BlockBuilder) ID() BlockID { return bb.block.ID }

// Do appends statements.
func (bb *BlockBuilder) Do(stmts ...StmtID) *BlockBuilder {
	bb.block.Stmts = append(bb.block.Stmts, stmts...)
	return bb
}

// Lazy defers building the statement list until the block is first reached.
func (bb *BlockBuilder) Lazy(build func() []Stmt) *BlockBuilder {
	bb.block.Lazy = build
	return bb
}

// NullBefore lists slots dead on entry.
func (bb *BlockBuilder) NullBefore(slots ...frame.SlotID) *BlockBuilder {
	bb.block.NullableBefore = append(bb.block.NullableBefore, slots...)
	return bb
}

// NullAfter lists slots dead once the block is left.
func (bb *BlockBuilder) NullAfter(slots ...frame.SlotID) *BlockBuilder {
	bb.block.NullableAfter = append(bb.block.NullableAfter, slots...)
	return bb
}

// Branch ends the block with an unconditional branch.
func (bb *BlockBuilder) Branch(target BlockID, phi PhiBatch) {
	bb.block.Term = Terminator{Kind: TermBranch, Branch: BranchTerm{Target: target, Phi: phi}}
}

// CondBranch ends the block with a two-way branch on a boolean expression.
func (bb *BlockBuilder) CondBranch(cond ExprID, then BlockID, thenPhi PhiBatch, els BlockID, elsePhi PhiBatch) {
	bb.block.Term = Terminator{Kind: TermCondBranch, CondBranch: CondBranchTerm{
		Cond: cond, Then: then, ThenPhi: thenPhi, Else: els, ElsePhi: elsePhi,
	}}
}

// Switch ends the block with a multi-way branch.
func (bb *BlockBuilder) Switch(value ExprID, cases []SwitchCase, def BlockID, defPhi PhiBatch) {
	bb.block.Term = Terminator{Kind: TermSwitch, Switch: SwitchTerm{
		Value: value, Cases: cases, Default: def, DefaultPhi: defPhi,
	}}
}

// IndirectBranch ends the block with a computed jump. phis may be nil when
// no edge carries a phi.
func (bb *BlockBuilder) IndirectBranch(addr ExprID, targets []BlockID, phis []PhiBatch) {
	if phis == nil {
		phis = make([]PhiBatch, len(targets))
	}
	bb.block.Term = Terminator{Kind: TermIndirectBranch, IndirectBranch: IndirectBranchTerm{
		Address: addr, Targets: targets, Phis: phis,
	}}
}

// Invoke ends the block with a call that may unwind.
func (bb *BlockBuilder) Invoke(call StmtID, normal BlockID, normalPhi PhiBatch, unwind BlockID, unwindPhi PhiBatch) {
	bb.block.Term = Terminator{Kind: TermInvoke, Invoke: InvokeTerm{
		Call: call, Normal: normal, NormalPhi: normalPhi, Unwind: unwind, UnwindPhi: unwindPhi,
	}}
}

// Return ends the block by returning value.
func (bb *BlockBuilder) Return(value ExprID) {
	bb.block.Term = Terminator{Kind: TermReturn, Return: ReturnTerm{HasValue: value != NoExpr, Value: value}}
}

// Resume ends the block by rethrowing; reaching it is fatal.
func (bb *BlockBuilder) Resume() {
	bb.block.Term = Terminator{Kind: TermResume}
}

// Unreachable marks the block as never reached.
func (bb *BlockBuilder) Unreachable() {
	bb.block.Term = Terminator{Kind: TermUnreachable}
}
