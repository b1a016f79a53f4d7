package vm

import (
	"fmt"

	"blockvm/internal/cfg"
	"blockvm/internal/frame"
	"blockvm/internal/trace"
)

type statusKind uint8

const (
	statusContinue statusKind = iota // go on at next
	statusBreak                      // left the loop towards next
	statusReturn                     // the function returned value
)

// status is the outcome of dispatching one terminator or one loop.
type status struct {
	kind  statusKind
	next  cfg.BlockID
	value frame.Value

	// settled marks an edge the loop dispatcher already tested for a back
	// edge: the exit of a loop seen through its wrapper.
	settled bool
}

func continueAt(next cfg.BlockID) status { return status{kind: statusContinue, next: next} }

func returned(v frame.Value) status { return status{kind: statusReturn, next: cfg.ReturnFromFunction, value: v} }

// dispatcher is the state of one activation: its frame, back-edge counter
// and history. It is used by a single goroutine.
type dispatcher struct {
	in      *Interpreter
	fn      *cfg.Func
	fr      *frame.Frame
	counter Counter
	steps   uint64
	osr     bool   // transfers allowed
	depth   int    // loop nesting, for traces
	span    uint64 // innermost open span, parent of loop spans
	eb      faultBuilder
	trail   trail
	path    []cfg.BlockID
	scratch []frame.Value

	transferred bool
	transferAt  cfg.BlockID
}

func newDispatcher(in *Interpreter, fr *frame.Frame, osr bool) *dispatcher {
	d := &dispatcher{
		in:         in,
		fn:         in.fn,
		fr:         fr,
		osr:        osr && in.opts.Tier != nil,
		transferAt: cfg.NoBlock,
	}
	d.eb = faultBuilder{d: d}
	return d
}

func (d *dispatcher) result(v frame.Value) Result {
	return Result{
		Value:       v,
		BackEdges:   d.counter.BackEdges,
		Steps:       d.steps,
		Path:        d.path,
		Transferred: d.transferred,
		TransferAt:  d.transferAt,
	}
}

// run is the top-level dispatch loop. Loop headers resolve to their loop
// wrappers here, so every loop is handed to a loop dispatcher.
func (d *dispatcher) run(start cfg.BlockID) (frame.Value, error) {
	view := d.fn.TopView()
	cur := start
	for {
		bb := view.Block(cur)
		if bb == nil {
			return frame.Value{}, d.eb.badBlock(cur, cur)
		}
		st, err := d.step(view, bb)
		if err != nil {
			return frame.Value{}, err
		}
		if st.kind == statusReturn {
			return st.value, nil
		}
		if st.next <= bb.ID && !st.settled {
			v, done, err := d.backEdge(bb.ID, st.next)
			if err != nil || done {
				return v, err
			}
		}
		cur = st.next
	}
}

// resume continues an activation handed over at entry.
func (d *dispatcher) resume(entry cfg.BlockID) (frame.Value, error) {
	l, ok := d.fn.LoopAt(entry)
	if !ok {
		return d.run(entry)
	}
	st, err := d.runLoop(l)
	if err != nil {
		return frame.Value{}, err
	}
	if st.kind == statusReturn {
		return st.value, nil
	}
	// Leave the loop the way its wrapper would.
	st, err = d.leaveLoop(d.fn.TopView(), l.Wrapper(), l)
	if err != nil {
		return frame.Value{}, err
	}
	return d.run(st.next)
}

// backEdge counts a backward transition and gives the tier a chance to take
// over. done reports that the activation finished in compiled code.
func (d *dispatcher) backEdge(from, to cfg.BlockID) (v frame.Value, done bool, err error) {
	d.counter.BackEdges++
	d.in.opts.Trace.TraceBackEdge(d.depth, d.fn.Name, from, to, d.counter)
	if !d.osr || !d.in.opts.Tier.PollBackEdge(to, d.counter) {
		return frame.Value{}, false, nil
	}
	at := d.counter
	v, ok, err := d.tryOSR(to)
	d.in.opts.Trace.TraceOSR(d.depth, d.fn.Name, to, at, ok || err != nil)
	if err != nil {
		return frame.Value{}, true, err
	}
	if !ok {
		return frame.Value{}, false, nil
	}
	d.transferred = true
	d.transferAt = to
	trace.Point(d.in.opts.Events, trace.ScopeLoop, "osr", fmt.Sprintf("%s %s", d.fn.Name, to))
	return v, true, nil
}

// tryOSR asks the tier to finish the activation at target. Statistics of
// the resumed part are folded into this activation when the tier reports
// them.
func (d *dispatcher) tryOSR(target cfg.BlockID) (frame.Value, bool, error) {
	rt, ok := d.in.opts.Tier.(ResultTier)
	if !ok {
		return d.in.opts.Tier.TryOSR(target, d.counter, d.fr)
	}
	res, ok, err := rt.TryOSRResult(target, d.counter, d.fr)
	if ok {
		d.counter.BackEdges = max(d.counter.BackEdges, res.BackEdges)
		d.steps += res.Steps
		if d.in.opts.RecordPath {
			d.path = append(d.path, res.Path...)
		}
	}
	return res.Value, ok, err
}

// enter records the block about to run.
func (d *dispatcher) enter(bb *cfg.Block) error {
	d.steps++
	if limit := d.in.opts.MaxSteps; limit > 0 && d.steps > limit {
		return d.eb.at(bb.ID, FaultStepLimit, "exceeded %d blocks", limit)
	}
	d.trail.push(bb.ID)
	if d.in.opts.RecordPath {
		d.path = append(d.path, bb.ID)
	}
	d.in.opts.Trace.TraceBlock(d.depth, d.fn.Name, bb)
	return nil
}
