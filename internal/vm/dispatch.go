package vm

import (
	"errors"
	"slices"

	"fortio.org/safecast"

	"blockvm/internal/cfg"
	"blockvm/internal/frame"
)

// step runs bb and dispatches its terminator. It is shared by the top-level
// and loop dispatchers; view decides how successor ids resolve. The result
// is either statusContinue with the successor, after the edge transition has
// run, or statusReturn.
func (d *dispatcher) step(view cfg.View, bb *cfg.Block) (status, error) {
	t := bb.Terminator()
	if t.Kind == cfg.TermLoop {
		return d.execLoop(view, bb)
	}

	if err := d.enter(bb); err != nil {
		return status{}, err
	}
	bb.InitializeLazily(d.fn.Nodes)
	if err := bb.Execute(d.fr); err != nil {
		return status{}, d.locate(err, bb)
	}

	switch t.Kind {
	case cfg.TermBranch:
		return d.take(view, bb, 0, t.Branch.Target, &t.Branch.Phi)
	case cfg.TermCondBranch:
		return d.execCondBranch(view, bb, &t.CondBranch)
	case cfg.TermSwitch:
		return d.execSwitch(view, bb, &t.Switch)
	case cfg.TermIndirectBranch:
		return d.execIndirectBranch(view, bb, &t.IndirectBranch)
	case cfg.TermInvoke:
		return d.execInvoke(view, bb, &t.Invoke)
	case cfg.TermReturn:
		return d.execReturn(bb, &t.Return)
	case cfg.TermResume:
		return status{}, d.eb.resume(bb.ID)
	case cfg.TermUnreachable:
		return status{}, d.eb.unreachable(bb.ID)
	default:
		return status{}, d.eb.at(bb.ID, FaultUnreachable, "unknown terminator kind %d", t.Kind)
	}
}

// take performs the transition along edge index of bb: clear the slots dead
// after bb, apply the edge's phi batch, then clear the slots dead before the
// successor.
func (d *dispatcher) take(view cfg.View, bb *cfg.Block, index int, next cfg.BlockID, phi *cfg.PhiBatch) (status, error) {
	succ := view.Block(next)
	if succ == nil {
		return status{}, d.eb.badBlock(bb.ID, next)
	}
	bb.RecordTaken(index)

	ClearSlots(d.fr, bb.NullableAfter)
	if err := applyPhi(d.fr, d.fn.Nodes, phi, &d.scratch); err != nil {
		return status{}, d.locate(err, bb)
	}
	ClearSlots(d.fr, succ.NullableBefore)

	if d.in.opts.Trace != nil {
		cleared := append(slices.Clone(bb.NullableAfter), succ.NullableBefore...)
		d.in.opts.Trace.TraceEdge(d.depth, d.fn.Name, bb, index, next, phi, cleared)
	}
	return continueAt(next), nil
}

func (d *dispatcher) execCondBranch(view cfg.View, bb *cfg.Block, t *cfg.CondBranchTerm) (status, error) {
	cond, err := d.eval(bb, t.Cond)
	if err != nil {
		return status{}, err
	}
	if cond.Kind != frame.KindBool {
		return status{}, d.eb.condition(bb.ID, cond.Kind.String())
	}
	if cond.AsBool() {
		return d.take(view, bb, 0, t.Then, &t.ThenPhi)
	}
	return d.take(view, bb, 1, t.Else, &t.ElsePhi)
}

// execSwitch evaluates the value once and tests the cases in order; the first
// match wins and the default edge comes last.
func (d *dispatcher) execSwitch(view cfg.View, bb *cfg.Block, t *cfg.SwitchTerm) (status, error) {
	v, err := d.eval(bb, t.Value)
	if err != nil {
		return status{}, err
	}
	for i := range t.Cases {
		c := &t.Cases[i]
		ok, err := d.fn.Nodes.Case(c.Match).Matches(d.fr, v)
		if err != nil {
			return status{}, d.locate(err, bb)
		}
		if ok {
			return d.take(view, bb, i, c.Target, &c.Phi)
		}
	}
	return d.take(view, bb, len(t.Cases), t.Default, &t.DefaultPhi)
}

func (d *dispatcher) execIndirectBranch(view cfg.View, bb *cfg.Block, t *cfg.IndirectBranchTerm) (status, error) {
	addr, err := d.eval(bb, t.Address)
	if err != nil {
		return status{}, err
	}
	if addr.Kind != frame.KindInt {
		return status{}, d.eb.at(bb.ID, FaultIndirectTarget, "indirect branch address must be int, got %s", addr.Kind)
	}
	target, err := safecast.Conv[cfg.BlockID](addr.AsInt())
	if err != nil {
		return status{}, d.eb.at(bb.ID, FaultIndirectTarget, "indirect branch address %d: %v", addr.AsInt(), err)
	}
	i := slices.Index(t.Targets, target)
	if i < 0 {
		return status{}, d.eb.at(bb.ID, FaultIndirectTarget, "%s is not an allowed target %v", target, t.Targets)
	}
	if i >= len(t.Phis) {
		return status{}, d.eb.at(bb.ID, FaultPhiArity, "no phi batch for indirect target %d", i)
	}
	return d.take(view, bb, i, target, &t.Phis[i])
}

// execInvoke runs the call. A *frame.Exception anywhere in the error chain is
// caught: the exception is stored in the exception slot and the unwind edge
// is taken. Any other error leaves the activation unchanged.
func (d *dispatcher) execInvoke(view cfg.View, bb *cfg.Block, t *cfg.InvokeTerm) (status, error) {
	err := d.fn.Nodes.Stmt(t.Call).Exec(d.fr)
	if err == nil {
		return d.take(view, bb, 0, t.Normal, &t.NormalPhi)
	}
	var exc *frame.Exception
	if !errors.As(err, &exc) {
		return status{}, err
	}
	if !d.fr.Valid(d.fn.ExceptionSlot) {
		return status{}, d.eb.at(bb.ID, FaultBadSlot, "exception slot %d is not in the frame", d.fn.ExceptionSlot)
	}
	d.fr.Set(d.fn.ExceptionSlot, frame.Ref(exc))
	return d.take(view, bb, 1, t.Unwind, &t.UnwindPhi)
}

func (d *dispatcher) execReturn(bb *cfg.Block, t *cfg.ReturnTerm) (status, error) {
	if !t.Phi.Empty() {
		return status{}, d.eb.at(bb.ID, FaultPhiArity, "return edge carries a phi batch of %d writes", t.Phi.Len())
	}
	var v frame.Value
	if t.HasValue {
		var err error
		if v, err = d.eval(bb, t.Value); err != nil {
			return status{}, err
		}
	}
	bb.RecordTaken(0)
	ClearSlots(d.fr, bb.NullableAfter)
	d.in.opts.Trace.TraceReturn(d.depth, d.fn.Name, bb.ID, v)
	return returned(v), nil
}

// execLoop hands a loop wrapper to the loop dispatcher and, once the loop
// breaks, follows the exit it chose. The loop dispatcher has already counted
// the exit edge if it was a back edge, so the result is settled.
func (d *dispatcher) execLoop(view cfg.View, wrapper *cfg.Block) (status, error) {
	l := d.fn.Loops[wrapper.Term.Loop.Loop]
	st, err := d.runLoop(l)
	if err != nil || st.kind == statusReturn {
		return st, err
	}
	st, err = d.leaveLoop(view, wrapper, l)
	st.settled = err == nil
	return st, err
}

// leaveLoop reads the exit chosen by the loop dispatcher from the loop
// successor slot, checks it against the wrapper's successors and clears the
// slot again.
func (d *dispatcher) leaveLoop(view cfg.View, wrapper *cfg.Block, l *cfg.LoopBody) (status, error) {
	slot := d.fn.LoopSuccessorSlot
	if !d.fr.Valid(slot) {
		return status{}, d.eb.at(l.Header, FaultBadSlot, "loop successor slot %d is not in the frame", slot)
	}
	v := d.fr.Get(slot)
	if !d.fr.IsLive(slot) || v.Kind != frame.KindInt {
		return status{}, d.eb.at(l.Header, FaultLoopSuccessor, "loop L%d broke without an exit", l.ID)
	}
	next, err := safecast.Conv[cfg.BlockID](v.AsInt())
	if err != nil {
		return status{}, d.eb.at(l.Header, FaultLoopSuccessor, "loop L%d exit %d: %v", l.ID, v.AsInt(), err)
	}
	i := slices.Index(wrapper.Term.Loop.Successors, next)
	if i < 0 {
		return status{}, d.eb.at(l.Header, FaultLoopSuccessor, "loop L%d exit %s is not one of %v", l.ID, next, wrapper.Term.Loop.Successors)
	}
	d.fr.Clear(slot)
	return d.take(view, wrapper, i, next, nil)
}

func (d *dispatcher) eval(bb *cfg.Block, id cfg.ExprID) (frame.Value, error) {
	v, err := d.fn.Nodes.Expr(id).Eval(d.fr)
	if err != nil {
		return frame.Value{}, d.locate(err, bb)
	}
	return v, nil
}

// locate stamps a position on faults raised below the dispatcher. Other
// errors pass through untouched.
func (d *dispatcher) locate(err error, bb *cfg.Block) error {
	var f *Fault
	if errors.As(err, &f) {
		d.eb.locate(f, bb.ID)
	}
	return err
}
