package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"kiln/internal/image"
	"kiln/internal/observ"
	"kiln/internal/trace"
	"kiln/internal/vm"
)

// Process exit codes of kiln run.
const (
	exitRuntimeError = 1
	exitFatal        = 2
)

var runCmd = &cobra.Command{
	Use:   "run [flags] <image.kbc>...",
	Short: "Execute compiled program images",
	Long: `Execute one or more program images. Each image runs in its own VM;
several images run in parallel and their output is printed in argument order.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runExecution,
}

func init() {
	runCmd.Flags().Bool("vm-trace", false, "trace every executed instruction to stderr")
	runCmd.Flags().Bool("vm-trace-stack", false, "with --vm-trace, also print the stack before each instruction")
	runCmd.Flags().Bool("gc-stats", false, "print heap statistics after each image")
	runCmd.Flags().Bool("timings", false, "print load and execution timings")
	runCmd.Flags().Bool("stress-gc", false, "collect before every allocation")
	runCmd.Flags().Int("max-heap", 0, "heap limit in bytes (overrides [heap].max_bytes)")
	runCmd.Flags().Bool("print-result", false, "print the value each image returns")
	runCmd.Flags().Bool("heap-dump", false, "list the heap contents after each image")
	runCmd.Flags().IntP("jobs", "j", 0, "images executed concurrently (0 = all)")
}

type runOptions struct {
	vmTrace      bool
	vmTraceStack bool
	gcStats      bool
	timings      bool
	printResult  bool
	heapDump     bool
	jobs         int
	vm           vm.Options
}

func runExecution(cmd *cobra.Command, args []string) error {
	opts := runOptions{vm: loaded.VMOptions()}
	var err error
	if opts.vmTrace, err = cmd.Flags().GetBool("vm-trace"); err != nil {
		return fmt.Errorf("failed to get vm-trace flag: %w", err)
	}
	if opts.vmTraceStack, err = cmd.Flags().GetBool("vm-trace-stack"); err != nil {
		return fmt.Errorf("failed to get vm-trace-stack flag: %w", err)
	}
	if opts.gcStats, err = cmd.Flags().GetBool("gc-stats"); err != nil {
		return fmt.Errorf("failed to get gc-stats flag: %w", err)
	}
	if opts.timings, err = cmd.Flags().GetBool("timings"); err != nil {
		return fmt.Errorf("failed to get timings flag: %w", err)
	}
	if opts.printResult, err = cmd.Flags().GetBool("print-result"); err != nil {
		return fmt.Errorf("failed to get print-result flag: %w", err)
	}
	if opts.heapDump, err = cmd.Flags().GetBool("heap-dump"); err != nil {
		return fmt.Errorf("failed to get heap-dump flag: %w", err)
	}
	if opts.jobs, err = cmd.Flags().GetInt("jobs"); err != nil {
		return fmt.Errorf("failed to get jobs flag: %w", err)
	}
	stress, err := cmd.Flags().GetBool("stress-gc")
	if err != nil {
		return fmt.Errorf("failed to get stress-gc flag: %w", err)
	}
	if stress {
		opts.vm.Heap.Stress = true
	}
	if cmd.Flags().Changed("max-heap") {
		limit, err := cmd.Flags().GetInt("max-heap")
		if err != nil {
			return fmt.Errorf("failed to get max-heap flag: %w", err)
		}
		opts.vm.Heap.MaxBytes = limit
	}

	tr, err := setupTracing(cmd, loaded.Trace)
	if err != nil {
		return err
	}
	stderr := cmd.ErrOrStderr()
	defer tr.close(stderr)

	code, err := runImages(cmd.Context(), args, opts, cmd.OutOrStdout(), stderr)
	if err != nil {
		return err
	}
	if code != 0 {
		tr.dumpRing(stderr)
		return &exitError{code: code}
	}
	return nil
}

// job is one image and the outcome of running it.
type job struct {
	path   string
	img    *image.Image
	out    bytes.Buffer
	instr  bytes.Buffer
	result vm.Value
	render string
	stats  vm.HeapStats
	dump   bytes.Buffer
	err    error
}

// runImages loads and executes every image, then reports in argument
// order. It returns the process exit code; the error is reserved for
// problems outside the programs themselves.
func runImages(ctx context.Context, paths []string, opts runOptions, stdout, stderr io.Writer) (int, error) {
	tracer := trace.FromContext(ctx)
	timer := observ.NewTimer()

	jobs := make([]*job, len(paths))
	load := timer.Begin("load")
	span := trace.Begin(tracer, trace.ScopeDriver, "load images")
	lg, lctx := errgroup.WithContext(ctx)
	for i, path := range paths {
		jobs[i] = &job{path: path}
		lg.Go(func() error {
			if err := lctx.Err(); err != nil {
				return err
			}
			img, err := image.ReadFile(path)
			if err != nil {
				return err
			}
			jobs[i].img = img
			trace.Point(tracer, trace.ScopeDriver, "loaded", fmt.Sprintf("%s module=%s", path, img.Module))
			return nil
		})
	}
	err := lg.Wait()
	span.End("")
	timer.End(load, fmt.Sprintf("%d images", len(paths)))
	if err != nil {
		return 0, err
	}

	// A single image streams straight to the caller's writers.
	direct := len(jobs) == 1
	g, gctx := errgroup.WithContext(ctx)
	if opts.jobs > 0 {
		g.SetLimit(opts.jobs)
	}
	for _, j := range jobs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				j.err = err
				return nil
			}
			idx := timer.Begin("run " + j.path)
			runJob(gctx, j, opts, direct, stdout, stderr)
			timer.End(idx, j.img.Module)

			if j.fatal() {
				return j.err
			}
			return nil
		})
	}
	_ = g.Wait() // a fatal error only cancels the remaining jobs; it is reported per job below

	code := 0
	for _, j := range jobs {
		if !direct {
			_, _ = stdout.Write(j.out.Bytes())
			_, _ = stderr.Write(j.instr.Bytes())
		}
		if opts.printResult && j.err == nil {
			fmt.Fprintln(stdout, j.render)
		}
		if opts.gcStats && !errors.Is(j.err, context.Canceled) {
			noteColor.Fprintf(stderr, "%s:\n", j.path)
			_ = j.stats.Write(stderr)
		}
		if j.dump.Len() > 0 {
			noteColor.Fprintf(stderr, "%s heap:\n", j.path)
			_, _ = stderr.Write(j.dump.Bytes())
		}
		if j.err == nil {
			continue
		}
		code = max(code, reportFailure(stderr, j))
	}
	if opts.timings {
		fmt.Fprint(stderr, timer.Summary())
	}
	return code, nil
}

func runJob(ctx context.Context, j *job, opts runOptions, direct bool, stdout, stderr io.Writer) {
	o := opts.vm
	o.Tracer = trace.FromContext(ctx)
	o.Stdout = &j.out
	traceOut := io.Writer(&j.instr)
	if direct {
		o.Stdout = stdout
		traceOut = stderr
	}
	if opts.vmTrace {
		o.Trace = vm.NewTracer(traceOut, opts.vmTraceStack)
	}
	machine := vm.New(o)
	j.result, j.err = machine.InterpretModule(j.img.Module, j.img.Entry)
	if j.err == nil {
		j.render = machine.ToString(j.result)
	}
	j.stats = machine.HeapStats()
	if opts.heapDump && !j.fatal() {
		machine.Collect()
		_ = machine.DumpHeap(&j.dump)
	}
}

func (j *job) fatal() bool {
	var vmErr *vm.VMError
	return errors.As(j.err, &vmErr) && vmErr.Fatal
}

// reportFailure prints the error of j and returns its exit code.
func reportFailure(w io.Writer, j *job) int {
	var vmErr *vm.VMError
	if !errors.As(j.err, &vmErr) {
		errorColor.Fprintf(w, "%s: ", j.path)
		fmt.Fprintln(w, j.err)
		return exitRuntimeError
	}
	_ = vmErr.WalkBacktrace(func(kind vm.TraceKind, text string) error {
		var err error
		switch kind {
		case vm.TraceHeader:
			_, err = errorColor.Fprintf(w, "%s: %s\n", j.path, text)
		case vm.TraceFrame:
			_, err = fmt.Fprintf(w, "    %s\n", text)
		case vm.TraceSeparator:
			_, err = dimColor.Fprintf(w, "    %s\n", text)
		default:
			_, err = dimColor.Fprintf(w, "  %s\n", text)
		}
		return err
	})
	if vmErr.Fatal {
		return exitFatal
	}
	return exitRuntimeError
}
