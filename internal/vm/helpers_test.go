package vm

import (
	"slices"
	"testing"

	"blockvm/internal/cfg"
	"blockvm/internal/frame"
)

type setConst struct {
	dst frame.SlotID
	v   frame.Value
}

func (s setConst) Exec(fr *frame.Frame) error {
	fr.Set(s.dst, s.v)
	return nil
}

func (setConst) SlotReads() []frame.SlotID    { return nil }
func (s setConst) SlotWrites() []frame.SlotID { return []frame.SlotID{s.dst} }

// addConst evaluates src + k.
type addConst struct {
	src frame.SlotID
	k   int64
}

func (e addConst) Eval(fr *frame.Frame) (frame.Value, error) {
	v, err := fr.Read(e.src)
	if err != nil {
		return frame.Value{}, err
	}
	return frame.Int(v.AsInt() + e.k), nil
}

func (e addConst) SlotReads() []frame.SlotID { return []frame.SlotID{e.src} }
func (addConst) SlotWrites() []frame.SlotID  { return nil }

// addSlots evaluates x + y.
type addSlots struct{ x, y frame.SlotID }

func (e addSlots) Eval(fr *frame.Frame) (frame.Value, error) {
	x, err := fr.Read(e.x)
	if err != nil {
		return frame.Value{}, err
	}
	y, err := fr.Read(e.y)
	if err != nil {
		return frame.Value{}, err
	}
	return frame.Int(x.AsInt() + y.AsInt()), nil
}

func (e addSlots) SlotReads() []frame.SlotID { return []frame.SlotID{e.x, e.y} }
func (addSlots) SlotWrites() []frame.SlotID  { return nil }

// below evaluates src + add < bound.
type below struct {
	src        frame.SlotID
	add, bound int64
}

func (e below) Eval(fr *frame.Frame) (frame.Value, error) {
	v, err := fr.Read(e.src)
	if err != nil {
		return frame.Value{}, err
	}
	return frame.Bool(v.AsInt()+e.add < e.bound), nil
}

func (e below) SlotReads() []frame.SlotID { return []frame.SlotID{e.src} }
func (below) SlotWrites() []frame.SlotID  { return nil }

// capture copies the frame when executed.
type capture struct{ into *[]frame.Slot }

func (c capture) Exec(fr *frame.Frame) error {
	*c.into = slices.Clone(fr.Slots)
	return nil
}

// doWhile builds the counting loop:
//
//	bb0: i = 0; br bb1
//	bb1: condbr i+1 < limit, bb1 phi{i <- i+1}, bb2 phi{i <- i+1}
//	bb2: ret i
func doWhile(t *testing.T, limit int64) *cfg.Func {
	t.Helper()
	b := cfg.NewBuilder("count")
	i := b.Slot("i", frame.KindInt)
	b.LoopSuccessorSlot("succ")
	inc := b.Phi(cfg.Assign(i, b.Expr(addConst{src: i, k: 1})))
	b.Block(0).Do(b.Stmt(setConst{dst: i, v: frame.Int(0)})).Branch(1, cfg.PhiBatch{})
	b.Block(1).CondBranch(b.Expr(below{src: i, add: 1, bound: limit}), 1, inc, 2, inc)
	b.Block(2).Return(b.Read(i))
	b.Loop(1)
	fn, err := b.Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	return fn
}

// fibLoop iterates a, b = b, a+b n times through a loop header phi:
//
//	bb0: a = 0; b = 1; k = 0; br bb1
//	bb1: condbr k < n, bb1 phi{a <- b; b <- a+b; k <- k+1}, bb2
//	bb2: ret a
func fibLoop(t *testing.T, n int64) *cfg.Func {
	t.Helper()
	b := cfg.NewBuilder("fib")
	a := b.Slot("a", frame.KindInt)
	bs := b.Slot("b", frame.KindInt)
	k := b.Slot("k", frame.KindInt)
	b.LoopSuccessorSlot("succ")
	b.Block(0).Do(
		b.Stmt(setConst{dst: a, v: frame.Int(0)}),
		b.Stmt(setConst{dst: bs, v: frame.Int(1)}),
		b.Stmt(setConst{dst: k, v: frame.Int(0)}),
	).Branch(1, cfg.PhiBatch{})
	step := b.Phi(
		cfg.Assign(a, b.Read(bs)),
		cfg.Assign(bs, b.Expr(addSlots{x: a, y: bs})),
		cfg.Assign(k, b.Expr(addConst{src: k, k: 1})),
	)
	b.Block(1).CondBranch(b.Expr(below{src: k, bound: n}), 1, step, 2, cfg.PhiBatch{})
	b.Block(2).Return(b.Read(a))
	b.Loop(1)
	fn, err := b.Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	return fn
}

// nestedSum sums 0..inner-1 once per outer iteration:
//
//	bb0: i = 0; acc = 0; br bb1
//	bb1: condbr i < outer, bb2 phi{j <- 0}, bb5        (outer header)
//	bb2: condbr j < inner, bb3, bb4                    (inner header)
//	bb3: br bb2 phi{acc <- acc+j; j <- j+1}
//	bb4: br bb1 phi{i <- i+1}
//	bb5: ret acc
func nestedSum(t *testing.T, outer, inner int64) *cfg.Func {
	t.Helper()
	b := cfg.NewBuilder("nested")
	i := b.Slot("i", frame.KindInt)
	j := b.Slot("j", frame.KindInt)
	acc := b.Slot("acc", frame.KindInt)
	b.LoopSuccessorSlot("succ")
	b.Block(0).Do(
		b.Stmt(setConst{dst: i, v: frame.Int(0)}),
		b.Stmt(setConst{dst: acc, v: frame.Int(0)}),
	).Branch(1, cfg.PhiBatch{})
	b.Block(1).CondBranch(b.Expr(below{src: i, bound: outer}),
		2, b.Phi(cfg.Assign(j, b.Const(frame.Int(0)))),
		5, cfg.PhiBatch{})
	b.Block(2).CondBranch(b.Expr(below{src: j, bound: inner}), 3, cfg.PhiBatch{}, 4, cfg.PhiBatch{})
	b.Block(3).Branch(2, b.Phi(
		cfg.Assign(acc, b.Expr(addSlots{x: acc, y: j})),
		cfg.Assign(j, b.Expr(addConst{src: j, k: 1})),
	))
	b.Block(4).Branch(1, b.Phi(cfg.Assign(i, b.Expr(addConst{src: i, k: 1}))))
	b.Block(5).Return(b.Read(acc))
	b.Loop(1, 2, 3, 4)
	b.Loop(2, 3)
	fn, err := b.Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	return fn
}

// innerExitsToOuter nests a loop whose header leaves straight for the outer
// header:
//
//	bb0: i = 0; br bb1
//	bb1: condbr i < outer, bb2 phi{j <- 0}, bb4        (outer header)
//	bb2: condbr j < inner, bb3, bb1 phi{i <- i+1}      (inner header)
//	bb3: br bb2 phi{j <- j+1}
//	bb4: ret i
func innerExitsToOuter(t *testing.T, outer, inner int64) *cfg.Func {
	t.Helper()
	b := cfg.NewBuilder("rejoin")
	i := b.Slot("i", frame.KindInt)
	j := b.Slot("j", frame.KindInt)
	b.LoopSuccessorSlot("succ")
	b.Block(0).Do(b.Stmt(setConst{dst: i, v: frame.Int(0)})).Branch(1, cfg.PhiBatch{})
	b.Block(1).CondBranch(b.Expr(below{src: i, bound: outer}),
		2, b.Phi(cfg.Assign(j, b.Const(frame.Int(0)))),
		4, cfg.PhiBatch{})
	b.Block(2).CondBranch(b.Expr(below{src: j, bound: inner}),
		3, cfg.PhiBatch{},
		1, b.Phi(cfg.Assign(i, b.Expr(addConst{src: i, k: 1}))))
	b.Block(3).Branch(2, b.Phi(cfg.Assign(j, b.Expr(addConst{src: j, k: 1}))))
	b.Block(4).Return(b.Read(i))
	b.Loop(1, 2, 3)
	b.Loop(2, 3)
	fn, err := b.Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	return fn
}

// backwardSteps counts the transitions in path that do not move forward.
func backwardSteps(path []cfg.BlockID) uint64 {
	var n uint64
	for k := 1; k < len(path); k++ {
		if path[k] <= path[k-1] {
			n++
		}
	}
	return n
}

func mustNew(t *testing.T, fn *cfg.Func, opts Options) *Interpreter {
	t.Helper()
	in, err := New(fn, opts)
	if err != nil {
		t.Fatalf("new interpreter: %v", err)
	}
	return in
}

func sameSlots(a, b []frame.Slot) bool {
	return slices.EqualFunc(a, b, func(x, y frame.Slot) bool {
		return x.Live == y.Live && x.V.Equal(y.V)
	})
}
