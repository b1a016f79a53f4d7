// Package vm dispatches sealed control-flow graphs block by block.
//
// An Interpreter is bound to one cfg.Func and may be shared by any number of
// goroutines; each call runs a private activation over its own frame. The
// top-level dispatcher hands every loop to a loop dispatcher that repeats the
// loop body until it breaks out through the function's loop successor slot.
// Back edges feed a per-activation counter that a Tier may use to transfer
// the activation to a faster implementation.
package vm

import (
	"fmt"

	"blockvm/internal/cfg"
	"blockvm/internal/frame"
	"blockvm/internal/trace"
)

// Counter is the back-edge state of one activation. It starts at zero and
// only grows.
type Counter struct {
	BackEdges uint64
}

// Tier is the hook into a tiering backend. Both methods are called on the
// activation's goroutine and must not block.
type Tier interface {
	// PollBackEdge is called after every back edge to target. It reports
	// whether a transfer attempt is worthwhile.
	PollBackEdge(target cfg.BlockID, c Counter) bool
	// TryOSR attempts to finish the activation in compiled code starting at
	// target. ok is false when no compiled code is ready; the interpreter
	// then keeps going. An error is an error of the activation itself.
	TryOSR(target cfg.BlockID, c Counter, fr *frame.Frame) (v frame.Value, ok bool, err error)
}

// ResultTier is a Tier that also reports the statistics of the activation it
// finished. The dispatcher prefers TryOSRResult when a tier provides it, so
// Result covers both the interpreted prefix and the resumed part.
type ResultTier interface {
	Tier
	TryOSRResult(target cfg.BlockID, c Counter, fr *frame.Frame) (res Result, ok bool, err error)
}

// Options configures an Interpreter.
type Options struct {
	Tier       Tier         // tiering backend, nil for pure interpretation
	Trace      *Tracer      // text trace of blocks and edges
	Events     trace.Tracer // structured spans, nil for none
	Parent     uint64       // span the activation spans nest under, 0 for none
	RecordPath bool         // collect the visited block ids in Result.Path
	MaxSteps   uint64       // block budget per activation, 0 for unlimited
}

// Result describes a finished activation. After a transfer through a
// ResultTier the counts include the resumed part; through a plain Tier they
// cover the interpreted prefix only.
type Result struct {
	Value       frame.Value
	BackEdges   uint64
	Steps       uint64
	Path        []cfg.BlockID
	Transferred bool        // finished in compiled code
	TransferAt  cfg.BlockID // block the transfer resumed at
}

// Interpreter executes one function. It holds no per-call state.
type Interpreter struct {
	fn   *cfg.Func
	opts Options
}

// New binds an interpreter to a sealed function.
func New(fn *cfg.Func, opts Options) (*Interpreter, error) {
	if fn == nil {
		return nil, fmt.Errorf("vm: nil function")
	}
	if !fn.Sealed() {
		return nil, fmt.Errorf("vm: function %s is not sealed", fn.Name)
	}
	if opts.Events == nil {
		opts.Events = trace.Nop
	}
	return &Interpreter{fn: fn, opts: opts}, nil
}

// Func returns the function being interpreted.
func (in *Interpreter) Func() *cfg.Func { return in.fn }

// Options returns the interpreter's configuration.
func (in *Interpreter) Options() Options { return in.opts }

// WithTier returns a copy of the interpreter that consults t on back edges.
func (in *Interpreter) WithTier(t Tier) *Interpreter {
	cp := *in
	cp.opts.Tier = t
	return &cp
}

// Execute runs the function on fr and returns its value. Errors raised by
// statements, including exceptions not caught by an invoke, come back
// unchanged; faults come back as *Fault.
func (in *Interpreter) Execute(fr *frame.Frame) (frame.Value, error) {
	res, err := in.Run(fr)
	return res.Value, err
}

// Run is Execute with activation statistics.
func (in *Interpreter) Run(fr *frame.Frame) (Result, error) {
	if err := in.checkFrame(fr); err != nil {
		return Result{}, err
	}
	d := newDispatcher(in, fr, true)
	span := trace.Begin(in.opts.Events, trace.ScopeFunc, "func:"+in.fn.Name, in.opts.Parent)
	d.span = span.ID()
	v, err := d.run(in.fn.Entry)
	span.WithExtra("back_edges", fmt.Sprint(d.counter.BackEdges)).End(outcome(err))
	return d.result(v), err
}

// ExecuteOSR resumes an activation at entry with the counter restored from
// state. When entry is a loop header the loop dispatcher runs first and the
// function continues at the loop's exit. The resumed activation never
// transfers again.
func (in *Interpreter) ExecuteOSR(fr *frame.Frame, entry cfg.BlockID, state Counter) (frame.Value, error) {
	res, err := in.RunOSR(fr, entry, state)
	return res.Value, err
}

// RunOSR is ExecuteOSR with activation statistics.
func (in *Interpreter) RunOSR(fr *frame.Frame, entry cfg.BlockID, state Counter) (Result, error) {
	if err := in.checkFrame(fr); err != nil {
		return Result{}, err
	}
	d := newDispatcher(in, fr, false)
	d.counter = state
	span := trace.Begin(in.opts.Events, trace.ScopeLoop, "osr:"+in.fn.Name, in.opts.Parent)
	span.WithExtra("entry", entry.String())
	d.span = span.ID()

	v, err := d.resume(entry)
	span.WithExtra("back_edges", fmt.Sprint(d.counter.BackEdges)).End(outcome(err))
	return d.result(v), err
}

func (in *Interpreter) checkFrame(fr *frame.Frame) error {
	if fr == nil {
		return fmt.Errorf("vm: %s: nil frame", in.fn.Name)
	}
	if fr.Len() != len(in.fn.Layout) {
		return fmt.Errorf("vm: %s: frame has %d slots, layout has %d", in.fn.Name, fr.Len(), len(in.fn.Layout))
	}
	return nil
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	if f, ok := AsFault(err); ok {
		return f.Code.String()
	}
	return "error"
}
