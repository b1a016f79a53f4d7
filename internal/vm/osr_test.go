package vm

import (
	"slices"
	"testing"

	"blockvm/internal/cfg"
	"blockvm/internal/frame"
)

// forcedTier transfers on the back edge that brings the counter to at.
type forcedTier struct {
	in        *Interpreter
	at        uint64
	decline   bool
	polls     int
	transfers int
}

func (t *forcedTier) PollBackEdge(_ cfg.BlockID, c Counter) bool {
	t.polls++
	return c.BackEdges == t.at
}

func (t *forcedTier) TryOSR(target cfg.BlockID, c Counter, fr *frame.Frame) (frame.Value, bool, error) {
	if t.decline {
		return frame.Value{}, false, nil
	}
	t.transfers++
	v, err := t.in.ExecuteOSR(fr, target, c)
	return v, true, err
}

// reportingTier is a forcedTier that hands back the resumed statistics.
type reportingTier struct{ forcedTier }

func (t *reportingTier) TryOSRResult(target cfg.BlockID, c Counter, fr *frame.Frame) (Result, bool, error) {
	t.transfers++
	res, err := t.in.RunOSR(fr, target, c)
	return res, true, err
}

func TestTransferredRunReportsWholeActivation(t *testing.T) {
	builds := []struct {
		name  string
		build func(*testing.T) *cfg.Func
	}{
		{name: "fib", build: func(t *testing.T) *cfg.Func { return fibLoop(t, 12) }},
		{name: "nested", build: func(t *testing.T) *cfg.Func { return nestedSum(t, 3, 4) }},
		{name: "rejoin", build: func(t *testing.T) *cfg.Func { return innerExitsToOuter(t, 3, 2) }},
	}
	for _, bt := range builds {
		t.Run(bt.name, func(t *testing.T) {
			fn := bt.build(t)
			base := mustNew(t, fn, Options{RecordPath: true})
			ref, err := base.Run(fn.NewFrame())
			if err != nil {
				t.Fatalf("reference run: %v", err)
			}
			for k := uint64(1); k <= ref.BackEdges; k++ {
				tier := &reportingTier{forcedTier{in: base, at: k}}
				res, err := base.WithTier(tier).Run(fn.NewFrame())
				if err != nil {
					t.Fatalf("k=%d: %v", k, err)
				}
				if !res.Transferred || tier.transfers != 1 {
					t.Fatalf("k=%d: transferred = %v, transfers = %d", k, res.Transferred, tier.transfers)
				}
				if res.BackEdges != ref.BackEdges || res.Steps != ref.Steps {
					t.Fatalf("k=%d: back edges %d steps %d, want %d and %d", k, res.BackEdges, res.Steps, ref.BackEdges, ref.Steps)
				}
				if !slices.Equal(res.Path, ref.Path) {
					t.Fatalf("k=%d: path %v, want %v", k, res.Path, ref.Path)
				}
			}
		})
	}
}

func TestOSRIsTransparent(t *testing.T) {
	builds := []struct {
		name  string
		build func(*testing.T) *cfg.Func
		edges uint64
	}{
		{name: "fib", build: func(t *testing.T) *cfg.Func { return fibLoop(t, 12) }, edges: 12},
		{name: "nested", build: func(t *testing.T) *cfg.Func { return nestedSum(t, 3, 4) }, edges: 15},
	}
	for _, bt := range builds {
		t.Run(bt.name, func(t *testing.T) {
			fn := bt.build(t)
			base := mustNew(t, fn, Options{})
			refFrame := fn.NewFrame()
			ref, err := base.Run(refFrame)
			if err != nil {
				t.Fatalf("reference run: %v", err)
			}
			if ref.BackEdges != bt.edges {
				t.Fatalf("reference back edges = %d, want %d", ref.BackEdges, bt.edges)
			}

			for k := uint64(1); k <= bt.edges; k++ {
				tier := &forcedTier{in: base, at: k}
				in := base.WithTier(tier)
				fr := fn.NewFrame()
				res, err := in.Run(fr)
				if err != nil {
					t.Fatalf("k=%d: %v", k, err)
				}
				if tier.transfers != 1 || !res.Transferred {
					t.Fatalf("k=%d: transfers = %d, transferred = %v", k, tier.transfers, res.Transferred)
				}
				if !res.Value.Equal(ref.Value) {
					t.Fatalf("k=%d: value %s, want %s", k, res.Value, ref.Value)
				}
				if !sameSlots(fr.Slots, refFrame.Slots) {
					t.Fatalf("k=%d: frame %v, want %v", k, fr.Snapshot(), refFrame.Snapshot())
				}
			}
		})
	}
}

func TestDecliningTierKeepsInterpreting(t *testing.T) {
	fn := fibLoop(t, 10)
	base := mustNew(t, fn, Options{})
	tier := &forcedTier{in: base, at: 4, decline: true}
	res, err := base.WithTier(tier).Run(fn.NewFrame())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Transferred || res.Value.AsInt() != 55 {
		t.Fatalf("got %+v, want 55 without transfer", res)
	}
	if tier.polls != 10 {
		t.Fatalf("polls = %d, want one per back edge", tier.polls)
	}
}

func TestExecuteOSRDoesNotTransferAgain(t *testing.T) {
	fn := fibLoop(t, 10)
	base := mustNew(t, fn, Options{})
	tier := &forcedTier{in: base, at: 5}
	in := base.WithTier(tier)

	fr := fn.NewFrame()
	fr.Set(0, frame.Int(0))
	fr.Set(1, frame.Int(1))
	fr.Set(2, frame.Int(0))
	res, err := in.RunOSR(fr, 1, Counter{BackEdges: 4})
	if err != nil {
		t.Fatalf("osr run: %v", err)
	}
	if res.Value.AsInt() != 55 || res.BackEdges != 14 {
		t.Fatalf("got %+v, want 55 after 14 back edges", res)
	}
	if tier.polls != 0 {
		t.Fatalf("resumed activation polled the tier %d times", tier.polls)
	}
}
