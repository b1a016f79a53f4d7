// Package bench runs many activations of one function at once. All of them
// share the interpreter and its sealed graph; each owns its frame.
package bench

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"blockvm/internal/frame"
	"blockvm/internal/trace"
	"blockvm/internal/vm"
)

// ErrDisagree is returned when activations of the same input return
// different values.
var ErrDisagree = errors.New("bench: activations disagree")

// Request describes one bench run.
type Request struct {
	Interp      *vm.Interpreter
	NewFrame    func(i int) (*frame.Frame, error)
	Activations int
	Parallel    int // 0 for GOMAXPROCS
	Progress    ProgressSink
}

// Report aggregates the activations of a run.
type Report struct {
	Func        string
	Activations int
	Parallel    int
	Value       frame.Value
	Steps       uint64
	BackEdges   uint64
	Transfers   int
	Elapsed     time.Duration
}

type outcome struct {
	res vm.Result
	err error
}

// Run executes the activations and checks that they agree. The batch is
// traced as a span on the tracer carried by ctx, nested under ctx's span.
func Run(ctx context.Context, req *Request) (rep Report, err error) {
	if req == nil || req.Interp == nil || req.NewFrame == nil {
		return Report{}, errors.New("bench: incomplete request")
	}
	n := req.Activations
	if n <= 0 {
		return Report{}, fmt.Errorf("bench: activations must be positive, got %d", n)
	}
	jobs := req.Parallel
	if jobs <= 0 {
		jobs = runtime.GOMAXPROCS(0)
	}
	jobs = min(jobs, n)

	span := trace.Begin(trace.FromContext(ctx), trace.ScopeRun, "bench:"+req.Interp.Func().Name, trace.CurrentSpan(ctx).SpanID)
	span.WithExtra("activations", fmt.Sprint(n)).WithExtra("parallel", fmt.Sprint(jobs))
	defer func() {
		if err != nil {
			span.End("failed")
			return
		}
		span.WithExtra("transfers", fmt.Sprint(rep.Transfers)).End("ok")
	}()
	ctx = trace.WithSpanContext(ctx, span.Context())
	emit := func(ev Event) {
		if req.Progress != nil {
			req.Progress.OnEvent(ev)
		}
	}
	for i := range n {
		emit(Event{Activation: i, Status: StatusQueued})
	}

	// Each activation writes only its own index.
	results := make([]outcome, n)
	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(jobs)
	for i := range n {
		g.Go(func() error {
			select {
			case <-gctx.Done():
				return gctx.Err()
			default:
			}
			emit(Event{Activation: i, Status: StatusRunning})
			began := time.Now()
			fr, err := req.NewFrame(i)
			if err == nil {
				results[i].res, err = req.Interp.Run(fr)
			}
			results[i].err = err
			if err != nil {
				emit(Event{Activation: i, Status: StatusError, Err: err, Elapsed: time.Since(began)})
				return fmt.Errorf("activation %d: %w", i, err)
			}
			emit(Event{
				Activation:  i,
				Status:      StatusDone,
				Elapsed:     time.Since(began),
				Transferred: results[i].res.Transferred,
			})
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Report{}, err
	}

	rep = Report{
		Func:        req.Interp.Func().Name,
		Activations: n,
		Parallel:    jobs,
		Value:       results[0].res.Value,
		Elapsed:     time.Since(start),
	}
	for i, o := range results {
		if !o.res.Value.Equal(rep.Value) {
			return rep, fmt.Errorf("%w: activation %d returned %s, activation 0 returned %s",
				ErrDisagree, i, o.res.Value, rep.Value)
		}
		rep.Steps += o.res.Steps
		rep.BackEdges += o.res.BackEdges
		if o.res.Transferred {
			rep.Transfers++
		}
	}
	return rep, nil
}

// Print writes the report with numbers formatted for tag.
func (r Report) Print(w io.Writer, tag language.Tag) error {
	p := message.NewPrinter(tag)
	perSec := 0.0
	if r.Elapsed > 0 {
		perSec = float64(r.Steps) / r.Elapsed.Seconds()
	}
	_, err := p.Fprintf(w,
		"%s: %d activations on %d workers returned %s\n"+
			"  blocks      %d\n"+
			"  back edges  %d\n"+
			"  transfers   %d\n"+
			"  elapsed     %v (%.0f blocks/s)\n",
		r.Func, r.Activations, r.Parallel, r.Value,
		r.Steps, r.BackEdges, r.Transfers, r.Elapsed.Round(time.Microsecond), perSec)
	return err
}
