package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fatih/color"

	"kiln/internal/image"
	"kiln/internal/trace"
	"kiln/internal/vm"
)

func writeSample(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name+image.Ext)
	if err := image.WriteFile(path, image.New(name, samples[name].build())); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func noColor(t *testing.T) {
	old := color.NoColor
	color.NoColor = true
	t.Cleanup(func() { color.NoColor = old })
}

func TestSamplesRun(t *testing.T) {
	noColor(t)
	dir := t.TempDir()
	cases := []struct {
		name   string
		stdout string
		code   int
	}{
		{"fibers", "1\n2\n3\nnil\n", 0},
		{"arith", "1 14 5\n", 0},
		{"classes", "base changed\n", 0},
		{"churn", "survivors: 0\n", 0},
		{"bounds", "", exitRuntimeError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := writeSample(t, dir, tc.name)
			var stdout, stderr bytes.Buffer
			opts := runOptions{vm: vm.DefaultOptions()}
			code, err := runImages(t.Context(), []string{path}, opts, &stdout, &stderr)
			if err != nil {
				t.Fatalf("runImages: %v", err)
			}
			if code != tc.code {
				t.Fatalf("exit code %d, want %d; stderr:\n%s", code, tc.code, stderr.String())
			}
			if stdout.String() != tc.stdout {
				t.Fatalf("stdout %q, want %q", stdout.String(), tc.stdout)
			}
		})
	}
}

func TestRunReportsBacktrace(t *testing.T) {
	noColor(t)
	path := writeSample(t, t.TempDir(), "bounds")
	var stdout, stderr bytes.Buffer
	code, err := runImages(t.Context(), []string{path}, runOptions{vm: vm.DefaultOptions()}, &stdout, &stderr)
	if err != nil || code != exitRuntimeError {
		t.Fatalf("code=%d err=%v", code, err)
	}
	got := stderr.String()
	for _, want := range []string{
		"panic VM1004: index 1 out of bounds for length 0",
		"at line 2",
		"  at line 2\n  backtrace:\n",
		"    0: lookup at line 2\n",
		"    1: script at line 4\n",
	} {
		if !strings.Contains(got, want) {
			t.Fatalf("stderr missing %q:\n%s", want, got)
		}
	}
}

func TestParallelImagesKeepArgumentOrder(t *testing.T) {
	noColor(t)
	dir := t.TempDir()
	paths := []string{
		writeSample(t, dir, "churn"),
		writeSample(t, dir, "arith"),
		writeSample(t, dir, "fibers"),
		writeSample(t, dir, "classes"),
	}
	opts := runOptions{vm: vm.DefaultOptions(), printResult: true, gcStats: true, timings: true, heapDump: true}
	opts.vm.Heap.Stress = true
	var stdout, stderr bytes.Buffer
	code, err := runImages(t.Context(), paths, opts, &stdout, &stderr)
	if err != nil || code != 0 {
		t.Fatalf("code=%d err=%v stderr:\n%s", code, err, stderr.String())
	}
	want := "survivors: 0\n[]\n" + "1 14 5\nnil\n" + "1\n2\n3\nnil\nnil\n" + "base changed\nnil\n"
	if stdout.String() != want {
		t.Fatalf("stdout:\n%q\nwant:\n%q", stdout.String(), want)
	}
	for _, want := range []string{"collections", "timings:", "run " + paths[0], "load", paths[1] + " heap:", "total native"} {
		if !strings.Contains(stderr.String(), want) {
			t.Fatalf("stderr missing %q:\n%s", want, stderr.String())
		}
	}
}

func TestHeapExhaustionIsFatalExit(t *testing.T) {
	noColor(t)
	dir := t.TempDir()
	paths := []string{writeSample(t, dir, "churn"), writeSample(t, dir, "arith")}
	opts := runOptions{vm: vm.DefaultOptions(), jobs: 1}
	opts.vm.Heap = vm.HeapOptions{InitialBytes: 1024, PayloadInitialBytes: 1024, MaxBytes: 1 << 15}
	var stdout, stderr bytes.Buffer
	code, err := runImages(t.Context(), paths, opts, &stdout, &stderr)
	if err != nil {
		t.Fatalf("runImages: %v", err)
	}
	if code != exitFatal {
		t.Fatalf("exit code %d, want %d; stderr:\n%s", code, exitFatal, stderr.String())
	}
	if !strings.Contains(stderr.String(), "VM1090") {
		t.Fatalf("stderr does not report heap exhaustion:\n%s", stderr.String())
	}
}

func TestVMTraceAndStructuredTrace(t *testing.T) {
	noColor(t)
	path := writeSample(t, t.TempDir(), "arith")
	ring := trace.NewRingTracer(64, trace.LevelDebug)
	ctx := trace.WithTracer(t.Context(), ring)

	var stdout, stderr bytes.Buffer
	opts := runOptions{vm: vm.DefaultOptions(), vmTrace: true}
	if code, err := runImages(ctx, []string{path}, opts, &stdout, &stderr); err != nil || code != 0 {
		t.Fatalf("code=%d err=%v", code, err)
	}
	for _, want := range []string{"MODULO", "SHIFT_LEFT", "RETURN"} {
		if !strings.Contains(stderr.String(), want) {
			t.Fatalf("instruction trace missing %s:\n%s", want, stderr.String())
		}
	}
	var names []string
	for _, ev := range ring.Snapshot() {
		names = append(names, ev.Name)
	}
	joined := strings.Join(names, ",")
	if !strings.Contains(joined, "load images") || !strings.Contains(joined, "interpret arith") {
		t.Fatalf("structured trace events: %v", names)
	}
}

func TestLoadErrorsAreReturned(t *testing.T) {
	var stdout, stderr bytes.Buffer
	_, err := runImages(t.Context(), []string{filepath.Join(t.TempDir(), "missing.kbc")}, runOptions{vm: vm.DefaultOptions()}, &stdout, &stderr)
	if err == nil {
		t.Fatalf("missing image accepted")
	}
}

func TestDumpRingReportsDroppedEvents(t *testing.T) {
	ring := trace.NewRingTracer(2, trace.LevelPhase)
	for _, name := range []string{"a", "b", "c", "d"} {
		trace.Point(ring, trace.ScopeVM, name, "")
	}
	tr := &tracing{tracer: ring, ring: ring, format: trace.FormatText}
	var buf bytes.Buffer
	tr.dumpRing(&buf)
	out := buf.String()
	if !strings.Contains(out, "(2 earlier events dropped)") {
		t.Fatalf("dump does not report dropped events:\n%s", out)
	}
	if strings.Contains(out, "\u2022 b\n") || !strings.Contains(out, "\u2022 d\n") {
		t.Fatalf("dump holds the wrong events:\n%s", out)
	}
}
