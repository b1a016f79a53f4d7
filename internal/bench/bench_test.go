package bench

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"golang.org/x/text/language"

	"blockvm/internal/fixture"
	"blockvm/internal/frame"
	"blockvm/internal/osr"
	"blockvm/internal/trace"
	"blockvm/internal/vm"
)

func fibModule(t *testing.T) (*fixture.Module, *vm.Interpreter) {
	t.Helper()
	m, err := fixture.LoadFile("../fixture/testdata/fib.toml")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	in, err := m.Interpreter("fib")
	if err != nil {
		t.Fatalf("interpreter: %v", err)
	}
	return m, in
}

func fibFrames(m *fixture.Module, n int64) func(int) (*frame.Frame, error) {
	return func(int) (*frame.Frame, error) { return m.NewFrame("fib", frame.Int(n)) }
}

func TestRunAggregatesActivations(t *testing.T) {
	m, in := fibModule(t)
	events := make(chan Event, 3*32)
	rep, err := Run(context.Background(), &Request{
		Interp:      in,
		NewFrame:    fibFrames(m, 20),
		Activations: 32,
		Parallel:    4,
		Progress:    ChannelSink{Ch: events},
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	close(events)

	if rep.Value.AsInt() != 6765 || rep.BackEdges != 32*20 || rep.Transfers != 0 || rep.Parallel != 4 {
		t.Fatalf("report = %+v", rep)
	}
	counts := map[Status]int{}
	for ev := range events {
		counts[ev.Status]++
	}
	if counts[StatusQueued] != 32 || counts[StatusRunning] != 32 || counts[StatusDone] != 32 {
		t.Fatalf("events = %v", counts)
	}
}

func TestRunTransfersOnceCompiled(t *testing.T) {
	m, _ := fibModule(t)
	backend := osr.NewBackend(osr.Config{HotThreshold: 5, OSRThreshold: 3}, nil)
	defer backend.Close()
	m.Configure(vm.Options{}, func(in *vm.Interpreter) vm.Tier { return backend.For(in) })
	in, err := m.Interpreter("fib")
	if err != nil {
		t.Fatalf("interpreter: %v", err)
	}
	req := &Request{Interp: in, NewFrame: fibFrames(m, 40), Activations: 16, Parallel: 8}

	// Warm-up: transfers may or may not happen while the worker compiles.
	if _, err := Run(context.Background(), req); err != nil {
		t.Fatalf("warm-up: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := backend.Drain(ctx); err != nil {
		t.Fatalf("drain: %v", err)
	}

	rep, err := Run(context.Background(), req)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if rep.Transfers != 16 || rep.Value.AsInt() != 102334155 {
		t.Fatalf("report = %+v", rep)
	}
	// Compiled continuations report their back edges, so the totals match
	// an interpreted batch.
	if rep.BackEdges != 16*40 {
		t.Fatalf("back edges = %d", rep.BackEdges)
	}
}

func TestRunDetectsDisagreement(t *testing.T) {
	m, in := fibModule(t)
	_, err := Run(context.Background(), &Request{
		Interp:      in,
		NewFrame:    func(i int) (*frame.Frame, error) { return m.NewFrame("fib", frame.Int(int64(i%2)+5)) },
		Activations: 4,
		Parallel:    1,
	})
	if !errors.Is(err, ErrDisagree) {
		t.Fatalf("err = %v", err)
	}
}

func TestRunStopsOnError(t *testing.T) {
	m, in := fibModule(t)
	boom := errors.New("no frame")
	_, err := Run(context.Background(), &Request{
		Interp: in,
		NewFrame: func(i int) (*frame.Frame, error) {
			if i == 2 {
				return nil, boom
			}
			return m.NewFrame("fib", frame.Int(3))
		},
		Activations: 4,
		Parallel:    1,
	})
	if !errors.Is(err, boom) || !strings.Contains(err.Error(), "activation 2") {
		t.Fatalf("err = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = Run(ctx, &Request{Interp: in, NewFrame: fibFrames(m, 3), Activations: 4})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("canceled run err = %v", err)
	}
}

func TestReportPrintGroupsDigits(t *testing.T) {
	rep := Report{Func: "fib", Activations: 1000, Parallel: 8, Value: frame.Int(55), Steps: 1234567, BackEdges: 10000}
	var buf bytes.Buffer
	if err := rep.Print(&buf, language.English); err != nil {
		t.Fatalf("print: %v", err)
	}
	for _, want := range []string{"1,000 activations", "1,234,567", "10,000"} {
		if !strings.Contains(buf.String(), want) {
			t.Errorf("report lacks %q:\n%s", want, buf.String())
		}
	}
}

func TestRunTracesBatchUnderContextSpan(t *testing.T) {
	m, in := fibModule(t)
	ring := trace.NewRingTracer(64, trace.LevelPhase)
	ctx := trace.WithTracer(context.Background(), ring)
	ctx = trace.WithSpanContext(ctx, trace.SpanContext{SpanID: 99})

	if _, err := Run(ctx, &Request{Interp: in, NewFrame: fibFrames(m, 5), Activations: 4, Parallel: 2}); err != nil {
		t.Fatalf("run: %v", err)
	}
	var begin, end *trace.Event
	for _, ev := range ring.Snapshot() {
		if ev.Name != "bench:fib" {
			continue
		}
		switch ev.Kind {
		case trace.KindSpanBegin:
			begin = &ev
		case trace.KindSpanEnd:
			end = &ev
		}
	}
	if begin == nil || end == nil {
		t.Fatalf("bench span missing: %+v", ring.Snapshot())
	}
	if begin.ParentID != 99 || end.SpanID != begin.SpanID {
		t.Fatalf("begin = %+v, end = %+v", begin, end)
	}
	if end.Detail != "ok" || end.Extra["activations"] != "4" || end.Extra["transfers"] != "0" {
		t.Fatalf("end = %+v", end)
	}
}
