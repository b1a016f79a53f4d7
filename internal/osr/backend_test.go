package osr

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"blockvm/internal/cfg"
	"blockvm/internal/frame"
	"blockvm/internal/vm"
)

// countLoop builds a loop header phi that counts k up to n and returns it:
//
//	bb0: br bb1 phi{k <- 0}
//	bb1: condbr k < n, bb1 phi{k <- k+1}, bb2
//	bb2: ret k
func countLoop(t *testing.T, n int64) *cfg.Func {
	t.Helper()
	b := cfg.NewBuilder("count")
	k := b.Slot("k", frame.KindInt)
	b.LoopSuccessorSlot("succ")
	below := b.Expr(cfg.ExprFunc(func(fr *frame.Frame) (frame.Value, error) {
		v, err := fr.Read(k)
		return frame.Bool(v.AsInt() < n), err
	}))
	inc := b.Expr(cfg.ExprFunc(func(fr *frame.Frame) (frame.Value, error) {
		v, err := fr.Read(k)
		return frame.Int(v.AsInt() + 1), err
	}))
	b.Block(0).Branch(1, b.Phi(cfg.Assign(k, b.Const(frame.Int(0)))))
	b.Block(1).CondBranch(below, 1, b.Phi(cfg.Assign(k, inc)), 2, cfg.PhiBatch{})
	b.Block(2).Return(b.Read(k))
	b.Loop(1)
	fn, err := b.Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	return fn
}

func drain(t *testing.T, b *Backend) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := b.Drain(ctx); err != nil {
		t.Fatalf("drain: %v", err)
	}
}

func TestBackendCompilesHotLoopAndTransfers(t *testing.T) {
	b := NewBackend(Config{HotThreshold: 3, OSRThreshold: 5, QueueSize: 4}, nil)
	defer b.Close()

	fn := countLoop(t, 40)
	base, err := vm.New(fn, vm.Options{})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	in := base.WithTier(b.For(base))

	// The first run makes the header hot; whether it also transfers depends
	// on the worker, but the value never does.
	first, err := in.Run(fn.NewFrame())
	if err != nil || first.Value.AsInt() != 40 {
		t.Fatalf("first run: %s, %v", first.Value, err)
	}
	drain(t, b)
	if _, ok := b.Lookup(Key{Func: fn, Block: 1}); !ok {
		t.Fatalf("hot header was not compiled")
	}

	res, err := in.Run(fn.NewFrame())
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	// The compiled part reports its back edges too, so the total matches a
	// purely interpreted run.
	if !res.Transferred || res.TransferAt != 1 || res.BackEdges != 40 {
		t.Fatalf("expected a transfer at bb1 and 40 back edges, got %+v", res)
	}
	if res.Value.AsInt() != 40 {
		t.Fatalf("compiled continuation returned %s", res.Value)
	}
	if st := b.Stats(); st.Compiled != 1 || st.Transfers == 0 || st.Hot != 1 {
		t.Fatalf("stats = %+v", st)
	}
}

func TestTierDeclinesWithoutArtifact(t *testing.T) {
	b := NewBackend(Config{HotThreshold: 1 << 40, OSRThreshold: 1}, nil)
	defer b.Close()
	fn := countLoop(t, 10)
	base, err := vm.New(fn, vm.Options{})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	tier := b.For(base)
	if tier.PollBackEdge(1, vm.Counter{BackEdges: 10}) {
		t.Fatalf("poll succeeded with nothing compiled")
	}
	if _, ok, err := tier.TryOSR(1, vm.Counter{}, fn.NewFrame()); ok || err != nil {
		t.Fatalf("TryOSR = %v, %v; want a silent decline", ok, err)
	}
}

func TestProfilerReportsHotOnce(t *testing.T) {
	p := NewProfiler(50)
	var calls atomic.Int32
	p.OnHot = func(Key, *TargetProfile) { calls.Add(1) }
	key := Key{Block: 3}

	var wg sync.WaitGroup
	var became atomic.Int32
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				if p.RecordBackEdge(key) {
					became.Add(1)
				}
			}
		}()
	}
	wg.Wait()

	if became.Load() != 1 || calls.Load() != 1 || p.HotCount() != 1 {
		t.Fatalf("hot transitions = %d, callbacks = %d", became.Load(), calls.Load())
	}
	if got := p.Profile(key).BackEdges.Load(); got != 800 {
		t.Fatalf("back edges = %d, want 800", got)
	}
}

func TestQueueDeduplicatesTargets(t *testing.T) {
	b := NewBackend(Config{HotThreshold: 1}, nil)
	defer b.Close()
	fn := countLoop(t, 1)
	base, err := vm.New(fn, vm.Options{})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	item := workItem{key: Key{Func: fn, Block: 1}, interp: base, hash: cfg.Hash(fn)}
	if !b.queue(item) {
		t.Fatalf("first queue rejected")
	}
	if b.queue(item) {
		t.Fatalf("duplicate queued")
	}
	drain(t, b)
}

func TestCompileRejectsMissingBlock(t *testing.T) {
	fn := countLoop(t, 1)
	base, err := vm.New(fn, vm.Options{})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if _, err := compile(base, cfg.Hash(fn), 42); err == nil {
		t.Fatalf("expected error for a missing block")
	}
	c, err := compile(base, cfg.Hash(fn), 1)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if c.Loop != 0 || len(c.Exits) != 1 || c.Exits[0] != 2 {
		t.Fatalf("artifact = %+v", c)
	}
}

func TestCloseReleasesQueuedWork(t *testing.T) {
	b := NewBackend(Config{QueueSize: 4, CompileDelay: 100 * time.Millisecond}, nil)
	fn := countLoop(t, 3)
	base, err := vm.New(fn, vm.Options{})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	hash := cfg.Hash(fn)
	for _, id := range []cfg.BlockID{0, 1, 2} {
		if !b.queue(workItem{key: Key{Func: fn, Block: id}, interp: base, hash: hash}) {
			t.Fatalf("queue bb%d refused", id)
		}
	}
	if err := b.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := b.Drain(ctx); err != nil {
		t.Fatalf("drain after close: %v", err)
	}
	st := b.Stats()
	if st.Compiled+st.Dropped != 3 {
		t.Fatalf("stats = %+v, want every queued item compiled or dropped", st)
	}
	if b.queue(workItem{key: Key{Func: fn, Block: 0}, interp: base, hash: hash}) {
		t.Fatalf("queue accepted work after close")
	}
}
