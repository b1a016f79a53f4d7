// Package osr is the tiering backend: it profiles back edges across
// activations, compiles hot targets in the background and hands activations
// over to compiled code once it is ready.
package osr

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"blockvm/internal/cfg"
	"blockvm/internal/frame"
	"blockvm/internal/trace"
	"blockvm/internal/vm"
)

// Config tunes the backend.
type Config struct {
	HotThreshold uint64        // back edges into a target, across activations, before it is compiled
	OSRThreshold uint64        // back edges within one activation before a transfer is attempted
	QueueSize    int           // pending compilations; further requests are dropped
	CompileDelay time.Duration // artificial compile latency
}

// DefaultConfig returns the thresholds used when none are configured.
func DefaultConfig() Config {
	return Config{
		HotThreshold: 1000,
		OSRThreshold: 100,
		QueueSize:    64,
	}
}

// Stats summarizes backend activity.
type Stats struct {
	Compiled  uint64
	Failed    uint64
	Dropped   uint64
	Transfers uint64
	Hot       uint64
}

// Backend compiles hot targets on a background worker.
type Backend struct {
	cfg      Config
	profiler *Profiler
	events   trace.Tracer

	// Compilation queue for background processing
	pending  chan workItem
	done     chan struct{}
	wg       sync.WaitGroup
	inflight sync.WaitGroup
	closed   sync.Once

	// Compiled code registry
	mu       sync.RWMutex
	compiled map[Key]*CompiledLoop
	queued   map[Key]bool
	stopped  bool

	compiles  atomic.Uint64
	failures  atomic.Uint64
	dropped   atomic.Uint64
	transfers atomic.Uint64
}

// workItem represents a unit of compilation work.
type workItem struct {
	key    Key
	interp *vm.Interpreter
	hash   cfg.Digest
}

// NewBackend starts a backend. Close stops its worker.
func NewBackend(c Config, events trace.Tracer) *Backend {
	def := DefaultConfig()
	if c.HotThreshold == 0 {
		c.HotThreshold = def.HotThreshold
	}
	if c.QueueSize <= 0 {
		c.QueueSize = def.QueueSize
	}
	if events == nil {
		events = trace.Nop
	}
	b := &Backend{
		cfg:      c,
		profiler: NewProfiler(c.HotThreshold),
		events:   events,
		pending:  make(chan workItem, c.QueueSize),
		done:     make(chan struct{}),
		compiled: make(map[Key]*CompiledLoop),
		queued:   make(map[Key]bool),
	}
	b.profiler.OnHot = func(key Key, p *TargetProfile) {
		trace.Point(b.events, trace.ScopeLoop, "osr-hot",
			fmt.Sprintf("%s %s after %d back edges", key.Func.Name, key.Block, p.BackEdges.Load()))
	}

	b.wg.Add(1)
	go b.compilationWorker()
	return b
}

// Profiler exposes the backend's profiler.
func (b *Backend) Profiler() *Profiler { return b.profiler }

// For returns the tier to install on in with Interpreter.WithTier.
func (b *Backend) For(in *vm.Interpreter) *Tier {
	return &Tier{
		b:    b,
		base: in.WithTier(nil),
		hash: cfg.Hash(in.Func()),
	}
}

// Lookup returns the compiled artifact for key, if ready.
func (b *Backend) Lookup(key Key) (*CompiledLoop, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	c, ok := b.compiled[key]
	return c, ok
}

// queue adds a target to the compilation queue without blocking. After
// Close nothing is queued.
func (b *Backend) queue(item workItem) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopped || b.queued[item.key] {
		return false
	}

	b.inflight.Add(1)
	select {
	case b.pending <- item:
		b.queued[item.key] = true
		return true
	default:
		// Queue full; the target may be queued again once it is hot in a later run.
		b.inflight.Done()
		b.dropped.Add(1)
		return false
	}
}

// compilationWorker processes the compilation queue in the background.
func (b *Backend) compilationWorker() {
	defer b.wg.Done()
	for {
		select {
		case work := <-b.pending:
			b.compileItem(work)
			b.inflight.Done()
		case <-b.done:
			return
		}
	}
}

func (b *Backend) compileItem(work workItem) {
	if b.cfg.CompileDelay > 0 {
		time.Sleep(b.cfg.CompileDelay)
	}
	c, err := compile(work.interp, work.hash, work.key.Block)
	if err != nil {
		b.failures.Add(1)
		trace.Point(b.events, trace.ScopeLoop, "osr-compile", "failed: "+err.Error())
		return
	}

	b.mu.Lock()
	b.compiled[work.key] = c
	b.mu.Unlock()
	b.compiles.Add(1)
	trace.Point(b.events, trace.ScopeLoop, "osr-compile", fmt.Sprintf("%s %s", c.Func, c.Entry))
}

// Drain waits until every queued compilation has finished.
func (b *Backend) Drain(ctx context.Context) error {
	idle := make(chan struct{})
	go func() {
		b.inflight.Wait()
		close(idle)
	}()
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns a snapshot of the counters.
func (b *Backend) Stats() Stats {
	return Stats{
		Compiled:  b.compiles.Load(),
		Failed:    b.failures.Load(),
		Dropped:   b.dropped.Load(),
		Transfers: b.transfers.Load(),
		Hot:       b.profiler.HotCount(),
	}
}

// Close stops the worker. Queued work that has not started is abandoned and
// counted as dropped, so a later Drain returns at once.
func (b *Backend) Close() error {
	b.closed.Do(func() {
		b.mu.Lock()
		b.stopped = true
		b.mu.Unlock()

		close(b.done)
		b.wg.Wait()
		for {
			select {
			case work := <-b.pending:
				b.mu.Lock()
				delete(b.queued, work.key)
				b.mu.Unlock()
				b.dropped.Add(1)
				b.inflight.Done()
			default:
				return
			}
		}
	})
	return nil
}

// Tier connects one interpreter to the backend. It implements vm.Tier.
type Tier struct {
	b    *Backend
	base *vm.Interpreter
	hash cfg.Digest
}

var _ vm.ResultTier = (*Tier)(nil)

// PollBackEdge records the back edge and reports whether a compiled version
// of target is ready and the activation has looped enough to use it.
func (t *Tier) PollBackEdge(target cfg.BlockID, c vm.Counter) bool {
	key := Key{Func: t.base.Func(), Block: target}
	if t.b.profiler.RecordBackEdge(key) {
		t.b.queue(workItem{key: key, interp: t.base, hash: t.hash})
	}
	if c.BackEdges < t.b.cfg.OSRThreshold {
		return false
	}
	_, ok := t.b.Lookup(key)
	return ok
}

// TryOSR transfers the activation if compiled code for target exists.
func (t *Tier) TryOSR(target cfg.BlockID, c vm.Counter, fr *frame.Frame) (frame.Value, bool, error) {
	res, ok, err := t.TryOSRResult(target, c, fr)
	return res.Value, ok, err
}

// TryOSRResult is TryOSR with the statistics of the compiled run.
func (t *Tier) TryOSRResult(target cfg.BlockID, c vm.Counter, fr *frame.Frame) (vm.Result, bool, error) {
	compiled, ok := t.b.Lookup(Key{Func: t.base.Func(), Block: target})
	if !ok {
		return vm.Result{}, false, nil
	}
	t.b.transfers.Add(1)
	res, err := compiled.Run(fr, c)
	return res, true, err
}

// Prewarm queues compilation of targets recorded hot in an earlier run.
func (t *Tier) Prewarm(p *ProfilePayload) int {
	if p == nil || p.Hash != t.hash {
		return 0
	}
	n := 0
	fn := t.base.Func()
	for _, rec := range p.Targets {
		key := Key{Func: fn, Block: cfg.BlockID(rec.Block)}
		if fn.Block(key.Block) == nil {
			continue
		}
		if t.b.profiler.Seed(key, rec.BackEdges) && t.b.queue(workItem{key: key, interp: t.base, hash: t.hash}) {
			n++
		}
	}
	return n
}

// Profile captures the hot targets of this tier's function for persistence.
func (t *Tier) Profile() *ProfilePayload {
	fn := t.base.Func()
	p := &ProfilePayload{
		Schema: profileSchemaVersion,
		Func:   fn.Name,
		Hash:   t.hash,
	}
	for _, id := range t.b.profiler.HotTargets(fn) {
		rec := TargetRecord{Block: int32(id)}
		if prof := t.b.profiler.Profile(Key{Func: fn, Block: id}); prof != nil {
			rec.BackEdges = prof.BackEdges.Load()
		}
		p.Targets = append(p.Targets, rec)
	}
	return p
}
