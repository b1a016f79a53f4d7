package cfg

import (
	"errors"
	"fmt"
	"slices"

	"blockvm/internal/frame"
)

// Validate checks the invariants the dispatcher relies on and joins every
// violation into one error.
func Validate(f *Func) error {
	if f == nil {
		return errors.New("nil function")
	}
	var errs []error

	// 1. Block table shape and entry
	if err := validateBlockTable(f); err != nil {
		// Nothing below is meaningful on a broken table.
		return err
	}

	// 2. Reserved slots
	if err := validateReservedSlots(f); err != nil {
		errs = append(errs, err)
	}

	// 3. Terminators: targets, node ids, defaults, phi arity
	if err := validateTerminators(f); err != nil {
		errs = append(errs, err)
	}

	// 4. Liveness lists and their interaction with phi writes
	if err := validateNullable(f); err != nil {
		errs = append(errs, err)
	}

	// 5. Loops
	if err := validateLoops(f); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

func validateBlockTable(f *Func) error {
	if len(f.Blocks) == 0 {
		return errors.New("function has no blocks")
	}
	var errs []error
	for i, b := range f.Blocks {
		if b == nil {
			errs = append(errs, fmt.Errorf("bb%d: missing block", i))
			continue
		}
		if int(b.ID) != i {
			errs = append(errs, fmt.Errorf("bb%d: block carries id %s", i, b.ID))
		}
	}
	if !blockExists(f, f.Entry) {
		errs = append(errs, fmt.Errorf("entry block %s does not exist", f.Entry))
	}
	return errors.Join(errs...)
}

func validateReservedSlots(f *Func) error {
	var errs []error
	needsException := false
	for _, b := range f.Blocks {
		if b.Term.Kind == TermInvoke {
			needsException = true
		}
	}
	if needsException && !slotExists(f, f.ExceptionSlot) {
		errs = append(errs, fmt.Errorf("invoke present but exception slot %d is not in the frame layout", f.ExceptionSlot))
	}
	if len(f.Loops) > 0 {
		if !slotExists(f, f.LoopSuccessorSlot) {
			errs = append(errs, fmt.Errorf("loops present but loop successor slot %d is not in the frame layout", f.LoopSuccessorSlot))
		} else if k := f.Layout[f.LoopSuccessorSlot].Kind; k != frame.KindInt {
			errs = append(errs, fmt.Errorf("loop successor slot must be int, got %s", k))
		}
	}
	return errors.Join(errs...)
}

func validateTerminators(f *Func) error {
	var errs []error
	nodes := f.Nodes
	for i, b := range f.Blocks {
		t := &b.Term
		where := fmt.Sprintf("bb%d %s", i, t.Kind)

		for _, id := range b.Stmts {
			if !nodes.HasStmt(id) {
				errs = append(errs, fmt.Errorf("%s: statement #%d does not exist", where, id))
			}
		}

		switch t.Kind {
		case TermNone:
			errs = append(errs, fmt.Errorf("bb%d: unterminated block", i))
			continue
		case TermLoop:
			errs = append(errs, fmt.Errorf("%s: loop terminators are derived from loop bodies, not declared", where))
			continue
		case TermCondBranch:
			if !nodes.HasExpr(t.CondBranch.Cond) {
				errs = append(errs, fmt.Errorf("%s: condition #%d does not exist", where, t.CondBranch.Cond))
			}
		case TermSwitch:
			if !nodes.HasExpr(t.Switch.Value) {
				errs = append(errs, fmt.Errorf("%s: switch value #%d does not exist", where, t.Switch.Value))
			}
			for j, c := range t.Switch.Cases {
				if !nodes.HasCase(c.Match) {
					errs = append(errs, fmt.Errorf("%s: case %d matcher #%d does not exist", where, j, c.Match))
				}
			}
		case TermIndirectBranch:
			ib := &t.IndirectBranch
			if !nodes.HasExpr(ib.Address) {
				errs = append(errs, fmt.Errorf("%s: address #%d does not exist", where, ib.Address))
			}
			if len(ib.Targets) == 0 {
				errs = append(errs, fmt.Errorf("%s: no allowed targets", where))
			}
			if len(ib.Phis) != len(ib.Targets) {
				errs = append(errs, fmt.Errorf("%s: %d phi batches for %d targets", where, len(ib.Phis), len(ib.Targets)))
			}
		case TermInvoke:
			if !nodes.HasStmt(t.Invoke.Call) {
				errs = append(errs, fmt.Errorf("%s: call #%d does not exist", where, t.Invoke.Call))
			}
		case TermReturn:
			if t.Return.HasValue && !nodes.HasExpr(t.Return.Value) {
				errs = append(errs, fmt.Errorf("%s: value #%d does not exist", where, t.Return.Value))
			}
			if !t.Return.Phi.Empty() {
				errs = append(errs, fmt.Errorf("%s: return edge carries a phi batch", where))
			}
			continue
		case TermResume, TermUnreachable:
			continue
		}

		for s := range t.NumSuccessors() {
			target := t.Successor(s)
			if !blockExists(f, target) {
				errs = append(errs, fmt.Errorf("%s: successor %d target %s does not exist", where, s, target))
			}
			if err := validatePhi(f, t.Phi(s)); err != nil {
				errs = append(errs, fmt.Errorf("%s: successor %d: %w", where, s, err))
			}
		}
	}
	return errors.Join(errs...)
}

func validatePhi(f *Func, p *PhiBatch) error {
	if p == nil {
		return nil
	}
	var errs []error
	if len(p.CyclicReads) != len(p.CyclicWrites) {
		errs = append(errs, fmt.Errorf("phi arity mismatch: %d cyclic reads, %d cyclic writes", len(p.CyclicReads), len(p.CyclicWrites)))
	}
	for _, id := range p.CyclicReads {
		if !f.Nodes.HasExpr(id) {
			errs = append(errs, fmt.Errorf("phi read #%d does not exist", id))
		}
	}
	seen := make(map[frame.SlotID]bool, p.Len())
	for _, s := range p.Targets() {
		if !slotExists(f, s) {
			errs = append(errs, fmt.Errorf("phi target slot %d does not exist", s))
		}
		if seen[s] {
			errs = append(errs, fmt.Errorf("phi writes slot %d twice", s))
		}
		seen[s] = true
	}
	for _, w := range p.Writes {
		if !f.Nodes.HasExpr(w.Value) {
			errs = append(errs, fmt.Errorf("phi value #%d does not exist", w.Value))
		}
	}
	return errors.Join(errs...)
}

func validateNullable(f *Func) error {
	var errs []error
	reserved := func(s frame.SlotID) bool {
		return s != frame.NoSlot && (s == f.ExceptionSlot || s == f.LoopSuccessorSlot)
	}
	for i, b := range f.Blocks {
		for _, s := range b.NullableBefore {
			if !slotExists(f, s) {
				errs = append(errs, fmt.Errorf("bb%d: nullable-before slot %d does not exist", i, s))
			} else if reserved(s) {
				errs = append(errs, fmt.Errorf("bb%d: reserved slot %d listed as nullable-before", i, s))
			}
		}
		for _, s := range b.NullableAfter {
			if !slotExists(f, s) {
				errs = append(errs, fmt.Errorf("bb%d: nullable-after slot %d does not exist", i, s))
			} else if reserved(s) {
				errs = append(errs, fmt.Errorf("bb%d: reserved slot %d listed as nullable-after", i, s))
			}
		}
	}
	// A phi write into a slot the successor clears on entry would be lost.
	for i, b := range f.Blocks {
		t := &b.Term
		if t.Kind == TermReturn || t.Kind == TermLoop {
			continue
		}
		for s := range t.NumSuccessors() {
			target := t.Successor(s)
			if !blockExists(f, target) {
				continue
			}
			before := f.Blocks[target].NullableBefore
			for _, w := range t.Phi(s).Targets() {
				if slices.Contains(before, w) {
					errs = append(errs, fmt.Errorf("bb%d -> %s: phi writes slot %d which the successor clears on entry", i, target, w))
				}
			}
			// Slots dead after the block are cleared before the phi runs.
			for _, r := range phiReads(f.Nodes, t.Phi(s)) {
				if slices.Contains(b.NullableAfter, r) {
					errs = append(errs, fmt.Errorf("bb%d -> %s: phi reads slot %d which the block clears on exit", i, target, r))
				}
			}
		}
	}
	return errors.Join(errs...)
}

func validateLoops(f *Func) error {
	var errs []error
	headers := make(map[BlockID]int, len(f.Loops))
	for li, l := range f.Loops {
		if l == nil {
			errs = append(errs, fmt.Errorf("loop %d: missing", li))
			continue
		}
		if prev, dup := headers[l.Header]; dup {
			errs = append(errs, fmt.Errorf("loop %d: header %s already heads loop %d", li, l.Header, prev))
		}
		headers[l.Header] = li
		if !blockExists(f, l.Header) {
			errs = append(errs, fmt.Errorf("loop %d: header %s does not exist", li, l.Header))
			continue
		}
		if !slices.Contains(l.Body, l.Header) {
			errs = append(errs, fmt.Errorf("loop %d: header %s is not part of the body", li, l.Header))
		}
		for _, id := range l.Body {
			if !blockExists(f, id) {
				errs = append(errs, fmt.Errorf("loop %d: body block %s does not exist", li, id))
			}
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	// Loops must nest: a loop whose header lies in another body lies in it entirely.
	for oi, outer := range f.Loops {
		for ii, inner := range f.Loops {
			if oi == ii || !slices.Contains(outer.Body, inner.Header) {
				continue
			}
			for _, id := range inner.Body {
				if !slices.Contains(outer.Body, id) {
					errs = append(errs, fmt.Errorf("loop %d: nested in loop %d but %s is outside it", ii, oi, id))
				}
			}
		}
	}
	return errors.Join(errs...)
}

func blockExists(f *Func, id BlockID) bool {
	return id >= 0 && int(id) < len(f.Blocks)
}

func slotExists(f *Func, id frame.SlotID) bool {
	return id >= 0 && int(id) < len(f.Layout)
}

// phiReads lists the slots read by the values of batch, as far as the nodes
// report them.
func phiReads(nodes *Nodes, batch *PhiBatch) []frame.SlotID {
	if batch.Empty() {
		return nil
	}
	var out []frame.SlotID
	add := func(id ExprID) {
		if !nodes.HasExpr(id) {
			return
		}
		if u, ok := nodes.Expr(id).(SlotUser); ok {
			out = append(out, u.SlotReads()...)
		}
	}
	for _, id := range batch.CyclicReads {
		add(id)
	}
	for _, w := range batch.Writes {
		add(w.Value)
	}
	return out
}
