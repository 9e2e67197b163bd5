package vm

import (
	"bytes"
	"errors"
	"testing"

	"kiln/internal/bytecode"
)

func newTestVM(t *testing.T, stress bool) (*VM, *bytes.Buffer) {
	t.Helper()
	out := &bytes.Buffer{}
	opts := DefaultOptions()
	opts.Stdout = out
	opts.Heap.Stress = stress
	return New(opts), out
}

func mustRun(t *testing.T, vm *VM, fn *bytecode.Function) Value {
	t.Helper()
	v, err := vm.Interpret(fn)
	if err != nil {
		var vmErr *VMError
		if errors.As(err, &vmErr) {
			t.Fatalf("interpret failed: %s", vmErr.FormatBacktrace())
		}
		t.Fatalf("interpret failed: %v", err)
	}
	return v
}

func mustFail(t *testing.T, vm *VM, fn *bytecode.Function, code PanicCode) *VMError {
	t.Helper()
	_, err := vm.Interpret(fn)
	if err == nil {
		t.Fatalf("expected %s, got success", code)
	}
	var vmErr *VMError
	if !errors.As(err, &vmErr) {
		t.Fatalf("expected *VMError, got %T: %v", err, err)
	}
	if vmErr.Code != code {
		t.Fatalf("expected %s, got %s: %s", code, vmErr.Code, vmErr.Message)
	}
	return vmErr
}

func wantNumber(t *testing.T, v Value, want float64) {
	t.Helper()
	if v.Kind != VKNumber || v.Num != want {
		t.Fatalf("expected number %v, got %s", want, v)
	}
}

func wantString(t *testing.T, vm *VM, v Value, want string) {
	t.Helper()
	got, ok := vm.GoString(v)
	if !ok {
		t.Fatalf("expected string %q, got %s", want, vm.ToString(v))
	}
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func wantRendered(t *testing.T, vm *VM, v Value, want string) {
	t.Helper()
	if got := vm.ToString(v); got != want {
		t.Fatalf("expected %s, got %s", want, got)
	}
}

// script starts the entry function of a test program.
func script() *bytecode.Builder {
	return bytecode.NewBuilder("", 0)
}

// forEachHeapMode runs fn against a normal and a stress-collecting VM.
func forEachHeapMode(t *testing.T, fn func(t *testing.T, vm *VM)) {
	t.Helper()
	for _, stress := range []bool{false, true} {
		name := "normal"
		if stress {
			name = "stress"
		}
		t.Run(name, func(t *testing.T) {
			vm, _ := newTestVM(t, stress)
			fn(t, vm)
		})
	}
}
