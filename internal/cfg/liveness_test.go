package cfg

import (
	"errors"
	"slices"
	"testing"

	"blockvm/internal/frame"
)

// copyStmt writes the value of src (or a constant when src is NoSlot) to dst
// and reports its slot usage.
type copyStmt struct {
	dst, src frame.SlotID
}

func (s copyStmt) Exec(fr *frame.Frame) error {
	if s.src == frame.NoSlot {
		fr.Set(s.dst, frame.Int(1))
		return nil
	}
	v, err := fr.Read(s.src)
	if err != nil {
		return err
	}
	fr.Set(s.dst, v)
	return nil
}

func (s copyStmt) SlotReads() []frame.SlotID {
	if s.src == frame.NoSlot {
		return nil
	}
	return []frame.SlotID{s.src}
}

func (s copyStmt) SlotWrites() []frame.SlotID { return []frame.SlotID{s.dst} }

func TestDeriveNullableOnDiamond(t *testing.T) {
	b := NewBuilder("diamond").DeriveNullable()
	flag := b.Slot("flag", frame.KindBool)
	x := b.Slot("x", frame.KindInt)
	b.Block(0).Do(b.Stmt(copyStmt{dst: x, src: frame.NoSlot})).
		CondBranch(b.Read(flag), 1, PhiBatch{}, 2, PhiBatch{})
	b.Block(1).Return(b.Read(x))
	b.Block(2).Return(b.Const(frame.Int(0)))
	fn, err := b.Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	cases := []struct {
		block  BlockID
		before []frame.SlotID
		after  []frame.SlotID
	}{
		{block: 0, before: nil, after: []frame.SlotID{flag}},
		{block: 1, before: nil, after: []frame.SlotID{x}},
		{block: 2, before: []frame.SlotID{x}, after: nil},
	}
	for _, tc := range cases {
		bb := fn.Block(tc.block)
		if !slices.Equal(bb.NullableBefore, tc.before) {
			t.Errorf("%s: before = %v, want %v", tc.block, bb.NullableBefore, tc.before)
		}
		if !slices.Equal(bb.NullableAfter, tc.after) {
			t.Errorf("%s: after = %v, want %v", tc.block, bb.NullableAfter, tc.after)
		}
	}
}

func TestDeriveNullableKeepsLoopCarriedAndReservedSlots(t *testing.T) {
	b := NewBuilder("loop").DeriveNullable()
	i := b.Slot("i", frame.KindInt)
	exc := b.ExceptionSlot("exc")
	succ := b.LoopSuccessorSlot("succ")
	b.Block(0).Do(b.Stmt(copyStmt{dst: i, src: frame.NoSlot})).Branch(1, PhiBatch{})
	b.Block(1).Do(b.Stmt(copyStmt{dst: i, src: i})).
		CondBranch(b.Read(i), 1, PhiBatch{}, 2, PhiBatch{})
	b.Block(2).Return(NoExpr)
	b.Loop(1)
	fn, err := b.Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	header := fn.Block(1)
	if slices.Contains(header.NullableAfter, i) || slices.Contains(header.NullableBefore, i) {
		t.Fatalf("loop-carried slot cleared inside the loop: before=%v after=%v", header.NullableBefore, header.NullableAfter)
	}
	for _, bb := range fn.Blocks {
		for _, s := range append(slices.Clone(bb.NullableBefore), bb.NullableAfter...) {
			if s == exc || s == succ {
				t.Fatalf("%s lists reserved slot S%d", bb.ID, s)
			}
		}
	}
}

func TestDeriveNullableRejectsOpaqueNodes(t *testing.T) {
	b := NewBuilder("opaque").DeriveNullable()
	b.Block(0).Do(b.Stmt(StmtFunc(func(*frame.Frame) error { return nil }))).Return(NoExpr)
	_, err := b.Build()
	if !errors.Is(err, ErrOpaqueNode) {
		t.Fatalf("expected ErrOpaqueNode, got %v", err)
	}
}
