package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"kiln/internal/config"
	"kiln/internal/trace"
)

// tracing is the structured tracer of one command plus its teardown.
type tracing struct {
	tracer    trace.Tracer
	ring      *trace.RingTracer
	format    trace.Format
	heartbeat *trace.Heartbeat
}

// setupTracing merges the trace flags over the [trace] table of cfg,
// creates the tracer and attaches it to the command context.
func setupTracing(cmd *cobra.Command, cfg config.TraceConfig) (*tracing, error) {
	flags := cmd.Root().PersistentFlags()
	overrides := []struct {
		flag string
		dst  *string
	}{
		{"trace", &cfg.Output},
		{"trace-level", &cfg.Level},
		{"trace-mode", &cfg.Mode},
		{"trace-format", &cfg.Format},
	}
	for _, o := range overrides {
		if !flags.Changed(o.flag) {
			continue
		}
		v, err := flags.GetString(o.flag)
		if err != nil {
			return nil, fmt.Errorf("failed to get %s flag: %w", o.flag, err)
		}
		*o.dst = v
	}
	if flags.Changed("trace-ring-size") {
		n, err := flags.GetInt("trace-ring-size")
		if err != nil {
			return nil, fmt.Errorf("failed to get trace-ring-size flag: %w", err)
		}
		cfg.RingSize = n
	}
	// An explicit output implies at least phase-level events.
	if flags.Changed("trace") && !flags.Changed("trace-level") && (cfg.Level == "" || cfg.Level == "off") {
		cfg.Level = "phase"
	}
	interval, err := flags.GetDuration("trace-heartbeat")
	if err != nil {
		return nil, fmt.Errorf("failed to get trace-heartbeat flag: %w", err)
	}

	full := config.Config{Heap: loaded.Heap, VM: loaded.VM, Trace: cfg}
	if err := full.Validate(); err != nil {
		return nil, err
	}
	tc := cfg.TracerConfig()
	tc.Heartbeat = interval

	tracer, err := trace.New(tc)
	if err != nil {
		return nil, fmt.Errorf("failed to create tracer: %w", err)
	}
	ctx := trace.WithTracer(cmd.Context(), tracer)
	cmd.SetContext(ctx)

	t := &tracing{tracer: tracer, ring: trace.FindRing(tracer), format: tc.Format}
	if t.format == trace.FormatAuto {
		t.format = trace.FormatText
	}
	if interval > 0 {
		t.heartbeat = trace.StartHeartbeat(tracer, interval)
	}
	return t, nil
}

// dumpRing writes the retained events after a failure.
func (t *tracing) dumpRing(w io.Writer) {
	if t == nil || t.ring == nil {
		return
	}
	fmt.Fprintln(w, "-- last trace events --")
	if n := t.ring.Dropped(); n > 0 {
		fmt.Fprintf(w, "(%d earlier events dropped)\n", n)
	}
	if err := t.ring.Dump(w, t.format); err != nil {
		fmt.Fprintf(w, "trace: dump error: %v\n", err)
	}
}

func (t *tracing) close(w io.Writer) {
	if t == nil {
		return
	}
	if t.heartbeat != nil {
		t.heartbeat.Stop()
	}
	if err := t.tracer.Flush(); err != nil {
		fmt.Fprintf(w, "trace: flush error: %v\n", err)
	}
	if err := t.tracer.Close(); err != nil {
		fmt.Fprintf(w, "trace: close error: %v\n", err)
	}
}
