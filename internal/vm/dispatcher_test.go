package vm

import (
	"bytes"
	"slices"
	"strings"
	"sync"
	"testing"

	"blockvm/internal/cfg"
	"blockvm/internal/frame"
)

// The loop is tested at its bottom (i+1 < limit) so three iterations take
// two back edges. A header-tested form (bb1: condbr i < 3, bb1, bb2) visits
// the header four times and re-enters it three times, and every re-entry
// satisfies next <= current, so it would count three.
func TestCountingLoopTakesBackEdgeTwice(t *testing.T) {
	fn := doWhile(t, 3)
	in := mustNew(t, fn, Options{RecordPath: true})
	res, err := in.Run(fn.NewFrame())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Value.Kind != frame.KindInt || res.Value.AsInt() != 3 {
		t.Fatalf("value = %s, want 3", res.Value)
	}
	if res.BackEdges != 2 {
		t.Fatalf("back edges = %d, want 2", res.BackEdges)
	}
	if want := []cfg.BlockID{0, 1, 1, 1, 2}; !slices.Equal(res.Path, want) {
		t.Fatalf("path = %v, want %v", res.Path, want)
	}
	header := fn.Block(1)
	if header.TakenCount(0) != 2 || header.TakenCount(1) != 1 {
		t.Fatalf("taken = %d/%d, want 2/1", header.TakenCount(0), header.TakenCount(1))
	}
}

func TestPhiSwapMatchesReferenceEvaluator(t *testing.T) {
	for _, n := range []int64{0, 1, 2, 7, 30} {
		fn := fibLoop(t, n)
		in := mustNew(t, fn, Options{})
		fr := fn.NewFrame()
		got, err := in.Execute(fr)
		if err != nil {
			t.Fatalf("n=%d: %v", n, err)
		}

		a, b := int64(0), int64(1)
		for range n {
			a, b = b, a+b
		}
		if got.AsInt() != a {
			t.Fatalf("n=%d: a = %d, want %d", n, got.AsInt(), a)
		}
		if fr.Get(1).AsInt() != b {
			t.Fatalf("n=%d: b = %d, want %d", n, fr.Get(1).AsInt(), b)
		}
	}
}

func TestAcyclicRunsAreDeterministic(t *testing.T) {
	b := cfg.NewBuilder("diamond")
	x := b.Slot("x", frame.KindInt)
	b.Block(0).Do(b.Stmt(setConst{dst: x, v: frame.Int(4)})).
		CondBranch(b.Expr(below{src: x, bound: 5}), 1, cfg.PhiBatch{}, 2, cfg.PhiBatch{})
	b.Block(1).Branch(3, b.Phi(cfg.Assign(x, b.Expr(addConst{src: x, k: 10}))))
	b.Block(2).Branch(3, cfg.PhiBatch{})
	b.Block(3).Return(b.Read(x))
	fn := b.MustBuild()
	in := mustNew(t, fn, Options{RecordPath: true})

	first, err := in.Run(fn.NewFrame())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if first.Value.AsInt() != 14 || !slices.Equal(first.Path, []cfg.BlockID{0, 1, 3}) {
		t.Fatalf("unexpected first run: %+v", first)
	}

	var wg sync.WaitGroup
	results := make([]Result, 16)
	errs := make([]error, 16)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = in.Run(fn.NewFrame())
		}()
	}
	wg.Wait()
	for i, res := range results {
		if errs[i] != nil {
			t.Fatalf("run %d: %v", i, errs[i])
		}
		if !res.Value.Equal(first.Value) || !slices.Equal(res.Path, first.Path) {
			t.Fatalf("run %d diverged: %+v vs %+v", i, res, first)
		}
	}
}

func TestSwitchFallsBackToDefault(t *testing.T) {
	b := cfg.NewBuilder("switch")
	v := b.Slot("v", frame.KindInt)
	cases := []cfg.SwitchCase{
		{Match: b.Case(cfg.CaseEquals(frame.Int(0))), Target: 1},
		{Match: b.Case(cfg.CaseEquals(frame.Int(1))), Target: 2},
	}
	b.Block(0).Switch(b.Read(v), cases, 3, cfg.PhiBatch{})
	b.Block(1).Return(b.Const(frame.Int('A')))
	b.Block(2).Return(b.Const(frame.Int('B')))
	b.Block(3).Return(b.Const(frame.Int('C')))
	fn := b.MustBuild()
	in := mustNew(t, fn, Options{RecordPath: true})

	tests := []struct {
		cond int64
		want int64
		path []cfg.BlockID
	}{
		{cond: 0, want: 'A', path: []cfg.BlockID{0, 1}},
		{cond: 1, want: 'B', path: []cfg.BlockID{0, 2}},
		{cond: 2, want: 'C', path: []cfg.BlockID{0, 3}},
	}
	for _, tt := range tests {
		fr := fn.NewFrame()
		fr.Set(v, frame.Int(tt.cond))
		res, err := in.Run(fr)
		if err != nil {
			t.Fatalf("cond %d: %v", tt.cond, err)
		}
		if res.Value.AsInt() != tt.want || !slices.Equal(res.Path, tt.path) {
			t.Fatalf("cond %d: got %c via %v, want %c via %v", tt.cond, res.Value.AsInt(), res.Path, tt.want, tt.path)
		}
	}
	if p := fn.Block(0).BranchProbability(2); p < 0.33 || p > 0.34 {
		t.Fatalf("default probability = %v", p)
	}
}

func TestIndirectBranchSelectsTargetAndPhi(t *testing.T) {
	b := cfg.NewBuilder("indirect")
	addr := b.Slot("addr", frame.KindInt)
	out := b.Slot("out", frame.KindInt)
	b.Block(0).IndirectBranch(b.Read(addr), []cfg.BlockID{1, 2}, []cfg.PhiBatch{
		b.Phi(cfg.Assign(out, b.Const(frame.Int(100)))),
		b.Phi(cfg.Assign(out, b.Const(frame.Int(200)))),
	})
	b.Block(1).Return(b.Read(out))
	b.Block(2).Return(b.Expr(addConst{src: out, k: 1}))
	fn := b.MustBuild()
	in := mustNew(t, fn, Options{})

	fr := fn.NewFrame()
	fr.Set(addr, frame.Int(2))
	got, err := in.Execute(fr)
	if err != nil || got.AsInt() != 201 {
		t.Fatalf("got %s, %v; want 201", got, err)
	}

	fr = fn.NewFrame()
	fr.Set(addr, frame.Int(3))
	_, err = in.Execute(fr)
	if f, ok := AsFault(err); !ok || f.Code != FaultIndirectTarget || f.Block != 0 {
		t.Fatalf("expected %s at bb0, got %v", FaultIndirectTarget, err)
	}
}

func TestNestedLoopsSumAndExitThroughSuccessorSlot(t *testing.T) {
	fn := nestedSum(t, 3, 4)
	in := mustNew(t, fn, Options{})
	fr := fn.NewFrame()
	res, err := in.Run(fr)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Value.AsInt() != 18 {
		t.Fatalf("sum = %s, want 18", res.Value)
	}
	if res.BackEdges != 15 {
		t.Fatalf("back edges = %d, want 15", res.BackEdges)
	}
	if fr.IsLive(fn.LoopSuccessorSlot) {
		t.Fatalf("loop successor slot still live after the loops exited")
	}
}

func TestLoopExitToOuterHeaderCountsOnce(t *testing.T) {
	fn := innerExitsToOuter(t, 2, 2)
	in := mustNew(t, fn, Options{RecordPath: true})
	res, err := in.Run(fn.NewFrame())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Value.AsInt() != 2 {
		t.Fatalf("value = %s, want 2", res.Value)
	}
	want := []cfg.BlockID{0, 1, 2, 3, 2, 3, 2, 1, 2, 3, 2, 3, 2, 1, 4}
	if !slices.Equal(res.Path, want) {
		t.Fatalf("path = %v, want %v", res.Path, want)
	}
	if got := backwardSteps(res.Path); res.BackEdges != got || got != 6 {
		t.Fatalf("back edges = %d, path has %d backward steps", res.BackEdges, got)
	}

	tier := &forcedTier{in: in, at: 1 << 62}
	if _, err := in.WithTier(tier).Run(fn.NewFrame()); err != nil {
		t.Fatalf("run with tier: %v", err)
	}
	if tier.polls != 6 {
		t.Fatalf("polls = %d, want one per back edge", tier.polls)
	}
}

func TestTracerWritesEdgesAndLoops(t *testing.T) {
	var buf bytes.Buffer
	fn := doWhile(t, 3)
	in := mustNew(t, fn, Options{Trace: NewTracer(&buf)})
	if _, err := in.Execute(fn.NewFrame()); err != nil {
		t.Fatalf("run: %v", err)
	}
	out := buf.String()
	for _, want := range []string{
		"[depth=0] count bb0 (1 stmts)",
		"count bb1 -[0]-> bb1 phi{S0}",
		"back-edge bb1 -> bb1 count=2",
		"loop L0 exit -> bb2",
		"count bb2 ret 3",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("trace missing %q:\n%s", want, out)
		}
	}
}

func TestNewRejectsUnsealedFunctionsAndForeignFrames(t *testing.T) {
	if _, err := New(&cfg.Func{Name: "raw"}, Options{}); err == nil {
		t.Fatalf("expected error for unsealed function")
	}
	fn := doWhile(t, 3)
	in := mustNew(t, fn, Options{})
	if _, err := in.Execute(frame.New(nil)); err == nil {
		t.Fatalf("expected error for a frame of the wrong size")
	}
}
