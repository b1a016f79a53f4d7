// Package trace records structured execution events for blockvm.
//
// Events describe interpreter runs, function activations, loop dispatch and
// individual edge transitions, so a stuck or slow run can be diagnosed
// without attaching a debugger.
//
// # Usage
//
// Enable tracing via command-line flags:
//
//	blockvm run --trace=- --trace-level=detail fixture.toml
//
// # Tracers
//
//   - Nop: zero-overhead tracer when disabled
//   - StreamTracer: writes each event immediately
//   - RingTracer: keeps the most recent events for post-mortem dumps
//   - MultiTracer: fans out to several tracers
//
// # Levels and scopes
//
// Every event carries a Scope; the tracer's Level decides which scopes are
// emitted:
//
//   - LevelError: nothing but crash dumps
//   - LevelPhase: ScopeRun (CLI commands, bench batches)
//   - LevelDetail: adds ScopeFunc and ScopeLoop (activations, loop entries, OSR)
//   - LevelDebug: adds ScopeEdge (every block transition)
//
// # Context propagation
//
//	ctx = trace.WithTracer(ctx, tracer)
//	t := trace.FromContext(ctx)
//
//	span := trace.Begin(t, trace.ScopeFunc, "fib", parentID)
//	defer span.End("")
package trace
