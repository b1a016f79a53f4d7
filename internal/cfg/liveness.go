package cfg

import (
	"errors"
	"fmt"

	"blockvm/internal/frame"
)

// ErrOpaqueNode is returned by DeriveNullable when a node does not report
// the slots it touches.
var ErrOpaqueNode = errors.New("node does not implement SlotUser")

type blockLiveness struct {
	use slotSet // read before any write in the block, terminator included
	def slotSet // written by the block
	in  slotSet
	out slotSet
}

// DeriveNullable computes NullableBefore and NullableAfter for every block of
// an unsealed function by backward dataflow over slot uses. Every node must
// implement SlotUser. Reserved slots are never listed.
func DeriveNullable(f *Func) error {
	if f == nil || f.Sealed() {
		return errors.New("derive nullable: function must be non-nil and unsealed")
	}
	info := make([]blockLiveness, len(f.Blocks))
	for i, b := range f.Blocks {
		use, def, err := blockUseDef(f, b)
		if err != nil {
			return fmt.Errorf("bb%d: %w", i, err)
		}
		info[i].use, info[i].def = use, def
	}
	edges := make([][]edgeEffect, len(f.Blocks))
	for i, b := range f.Blocks {
		eff, err := blockEdges(f, b)
		if err != nil {
			return fmt.Errorf("bb%d: %w", i, err)
		}
		edges[i] = eff
	}

	changed := true
	for changed {
		changed = false
		for i := len(f.Blocks) - 1; i >= 0; i-- {
			out := slotSet{}
			for _, e := range edges[i] {
				if e.target < 0 || int(e.target) >= len(f.Blocks) {
					continue
				}
				live := subtract(info[e.target].in, e.writes)
				out = union(out, union(live, e.reads))
			}
			in := union(subtract(out, info[i].def), info[i].use)
			if !setEqual(out, info[i].out) || !setEqual(in, info[i].in) {
				info[i].out, info[i].in = out, in
				changed = true
			}
		}
	}

	reserved := slotSet{}
	if f.ExceptionSlot != frame.NoSlot {
		reserved.add(f.ExceptionSlot)
	}
	if f.LoopSuccessorSlot != frame.NoSlot {
		reserved.add(f.LoopSuccessorSlot)
	}

	// Slots live at the end of some predecessor but not on entry to a block
	// die on that edge.
	incoming := make([]slotSet, len(f.Blocks))
	phiInto := make([]slotSet, len(f.Blocks))
	for i := range f.Blocks {
		for _, e := range edges[i] {
			if e.target < 0 || int(e.target) >= len(f.Blocks) {
				continue
			}
			incoming[e.target] = union(incoming[e.target], info[i].out)
			phiInto[e.target] = union(phiInto[e.target], e.writes)
		}
	}

	for i, b := range f.Blocks {
		touched := union(union(slotSet{}, info[i].in), info[i].def)
		for _, e := range edges[i] {
			touched = union(touched, e.reads)
		}
		after := subtract(subtract(touched, info[i].out), reserved)
		b.NullableAfter = after.sorted()

		before := subtract(subtract(subtract(incoming[i], info[i].in), phiInto[i]), reserved)
		b.NullableBefore = before.sorted()
	}
	return nil
}

type edgeEffect struct {
	target BlockID
	reads  slotSet
	writes slotSet
}

func blockUseDef(f *Func, b *Block) (use, def slotSet, err error) {
	use, def = slotSet{}, slotSet{}
	touch := func(n any) error {
		u, ok := n.(SlotUser)
		if !ok {
			return fmt.Errorf("%w: %T", ErrOpaqueNode, n)
		}
		for _, s := range u.SlotReads() {
			if !def.has(s) {
				use.add(s)
			}
		}
		def.addAll(u.SlotWrites())
		return nil
	}
	if b.Lazy != nil {
		return nil, nil, fmt.Errorf("%w: lazy block body", ErrOpaqueNode)
	}
	for _, id := range b.Stmts {
		if err := touch(f.Nodes.Stmt(id)); err != nil {
			return nil, nil, err
		}
	}
	t := &b.Term
	switch t.Kind {
	case TermCondBranch:
		err = touch(f.Nodes.Expr(t.CondBranch.Cond))
	case TermSwitch:
		err = touch(f.Nodes.Expr(t.Switch.Value))
		for _, c := range t.Switch.Cases {
			if err != nil {
				break
			}
			if m, ok := f.Nodes.Case(c.Match).(SlotUser); ok {
				err = touch(m)
			}
		}
	case TermIndirectBranch:
		err = touch(f.Nodes.Expr(t.IndirectBranch.Address))
	case TermInvoke:
		err = touch(f.Nodes.Stmt(t.Invoke.Call))
	case TermReturn:
		if t.Return.HasValue {
			err = touch(f.Nodes.Expr(t.Return.Value))
		}
	}
	return use, def, err
}

func blockEdges(f *Func, b *Block) ([]edgeEffect, error) {
	t := &b.Term
	n := t.NumSuccessors()
	out := make([]edgeEffect, 0, n)
	for i := range n {
		e := edgeEffect{target: t.Successor(i), reads: slotSet{}, writes: slotSet{}}
		if p := t.Phi(i); p != nil {
			for _, id := range p.CyclicReads {
				u, ok := f.Nodes.Expr(id).(SlotUser)
				if !ok {
					return nil, fmt.Errorf("%w: phi read #%d", ErrOpaqueNode, id)
				}
				e.reads.addAll(u.SlotReads())
			}
			for _, w := range p.Writes {
				u, ok := f.Nodes.Expr(w.Value).(SlotUser)
				if !ok {
					return nil, fmt.Errorf("%w: phi value #%d", ErrOpaqueNode, w.Value)
				}
				e.reads.addAll(u.SlotReads())
			}
			e.writes.addAll(p.Targets())
		}
		if t.Kind == TermInvoke && i == 1 && f.ExceptionSlot != frame.NoSlot {
			e.writes.add(f.ExceptionSlot)
		}
		out = append(out, e)
	}
	return out, nil
}
