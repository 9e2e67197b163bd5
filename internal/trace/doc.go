// Package trace provides structured tracing for the kiln runtime.
//
// Tracing records interpreter runs, garbage collections and fiber
// transfers so that slow programs and runaway heaps can be diagnosed
// without an instruction-level dump.
//
// # Usage
//
// Enable tracing via command-line flags:
//
//	kiln run --trace=- --trace-level=detail prog.kbc
//
// # Architecture
//
// The package provides several tracer implementations:
//
//   - Nop: zero-overhead tracer used when tracing is disabled
//   - StreamTracer: immediate write to output (file/stderr)
//   - RingTracer: circular buffer dumped after a crash
//   - MultiTracer: combines multiple tracers
//
// # Levels
//
//   - LevelOff: no tracing
//   - LevelError: only crash dumps
//   - LevelPhase: driver operations and interpreter runs
//   - LevelDetail: adds garbage collections
//   - LevelDebug: adds fiber transfers
//
// # Scopes
//
//   - ScopeDriver: top-level CLI operations (loading images)
//   - ScopeVM: one Interpret call
//   - ScopeGC: collections and region resizes
//   - ScopeFiber: fiber run, yield and finish
//
// Tracers travel through the driver via context:
//
//	ctx = trace.WithTracer(ctx, tracer)
//	span := trace.Begin(trace.FromContext(ctx), trace.ScopeDriver, "load")
//	defer span.End("")
package trace
