package osr

import (
	"slices"
	"sync"
	"sync/atomic"

	"blockvm/internal/cfg"
)

// Key identifies one transfer target: a block of one function graph.
type Key struct {
	Func  *cfg.Func
	Block cfg.BlockID
}

// TargetProfile holds profiling data for a single target.
type TargetProfile struct {
	BackEdges atomic.Uint64 // back edges into the target, across activations
	hot       atomic.Bool
}

// IsHot reports whether the target crossed the hot threshold.
func (p *TargetProfile) IsHot() bool { return p.hot.Load() }

// Profiler counts back edges per target across all activations and reports
// targets that become hot. Counts are exact; only the hot transition is
// reported once.
type Profiler struct {
	targets sync.Map // Key -> *TargetProfile

	// HotThreshold is the number of back edges after which a target is hot.
	HotThreshold uint64

	// OnHot is called once per target, on the goroutine that made it hot.
	OnHot func(key Key, profile *TargetProfile)

	hotCount atomic.Uint64
}

// NewProfiler creates a profiler with the given threshold.
func NewProfiler(threshold uint64) *Profiler {
	if threshold == 0 {
		threshold = 1
	}
	return &Profiler{HotThreshold: threshold}
}

// RecordBackEdge counts one back edge into key's target. It returns true if
// this back edge made the target hot.
func (p *Profiler) RecordBackEdge(key Key) bool {
	val, _ := p.targets.LoadOrStore(key, &TargetProfile{})
	profile := val.(*TargetProfile)

	count := profile.BackEdges.Add(1)
	if count < p.HotThreshold || !profile.hot.CompareAndSwap(false, true) {
		return false
	}
	p.hotCount.Add(1)
	if p.OnHot != nil {
		p.OnHot(key, profile)
	}
	return true
}

// Seed marks a target hot without counting, e.g. from a persisted profile.
// It returns true if the target was not hot yet.
func (p *Profiler) Seed(key Key, backEdges uint64) bool {
	val, _ := p.targets.LoadOrStore(key, &TargetProfile{})
	profile := val.(*TargetProfile)
	profile.BackEdges.Add(backEdges)
	if !profile.hot.CompareAndSwap(false, true) {
		return false
	}
	p.hotCount.Add(1)
	return true
}

// Profile returns the profile for key, or nil if the target was never seen.
func (p *Profiler) Profile(key Key) *TargetProfile {
	if val, ok := p.targets.Load(key); ok {
		return val.(*TargetProfile)
	}
	return nil
}

// HotTargets returns the hot blocks of fn in ascending order.
func (p *Profiler) HotTargets(fn *cfg.Func) []cfg.BlockID {
	var out []cfg.BlockID
	p.targets.Range(func(k, v any) bool {
		key := k.(Key)
		if key.Func == fn && v.(*TargetProfile).IsHot() {
			out = append(out, key.Block)
		}
		return true
	})
	slices.Sort(out)
	return out
}

// HotCount returns the number of targets that became hot.
func (p *Profiler) HotCount() uint64 { return p.hotCount.Load() }
