package vm

import (
	"fmt"
	"strings"
)

// PanicCode identifies the type of VM panic.
type PanicCode int

// Stable panic codes - do not change values.
const (
	PanicTypeMismatch   PanicCode = 1003 // VM1003: operand or receiver of the wrong kind
	PanicOutOfBounds    PanicCode = 1004 // VM1004: index out of range or not integral
	PanicArity          PanicCode = 1010 // VM1010: argument count mismatch
	PanicUndefinedName  PanicCode = 1011 // VM1011: undefined variable, property or method
	PanicStackOverflow  PanicCode = 1012 // VM1012: value or frame stack exhausted
	PanicFiberState     PanicCode = 1013 // VM1013: invalid fiber transfer
	PanicNative         PanicCode = 1014 // VM1014: native function failure
	PanicArithmetic     PanicCode = 1015 // VM1015: zero modulus, bad shift, integer range
	PanicInvalidProgram PanicCode = 1016 // VM1016: malformed bytecode
	PanicInvalidHandle  PanicCode = 1020 // VM1020: dangling or out-of-range handle
	PanicHeapExhausted  PanicCode = 1090 // VM1090: heap limit reached (fatal)
	PanicUnimplemented  PanicCode = 1999 // VM1999: unimplemented opcode
)

// String returns the code as "VM1004" format.
func (c PanicCode) String() string {
	return fmt.Sprintf("VM%d", c)
}

// BacktraceFrame represents one frame in the panic backtrace.
type BacktraceFrame struct {
	FuncName string
	Line     int
	Fiber    int // 0 for the failing fiber, 1 for its resumer, ...
}

// VMError represents a runtime panic in the VM.
type VMError struct {
	Code      PanicCode
	Message   string
	Line      int              // Source line where the panic occurred
	Backtrace []BacktraceFrame // Stack frames from top to bottom
	Fatal     bool             // The VM cannot continue
}

// Error implements the error interface.
func (p *VMError) Error() string {
	return fmt.Sprintf("panic %s: %s", p.Code, p.Message)
}

// TraceKind tells a renderer what a backtrace line holds.
type TraceKind uint8

const (
	TraceHeader    TraceKind = iota // panic VM1004: <message>
	TraceLocation                   // at line N
	TraceTitle                      // backtrace:
	TraceSeparator                  // -- resumed by --
	TraceFrame                      // N: fn at line M
)

// WalkBacktrace calls fn for every line of the rendered panic, unindented
// and without a trailing newline. It stops at the first error.
func (p *VMError) WalkBacktrace(fn func(kind TraceKind, text string) error) error {
	if err := fn(TraceHeader, fmt.Sprintf("panic %s: %s", p.Code, p.Message)); err != nil {
		return err
	}
	if err := fn(TraceLocation, "at "+formatLine(p.Line)); err != nil {
		return err
	}
	if len(p.Backtrace) == 0 {
		return nil
	}
	if err := fn(TraceTitle, "backtrace:"); err != nil {
		return err
	}
	fiber := 0
	for i, frame := range p.Backtrace {
		if frame.Fiber != fiber {
			fiber = frame.Fiber
			if err := fn(TraceSeparator, "-- resumed by --"); err != nil {
				return err
			}
		}
		if err := fn(TraceFrame, fmt.Sprintf("%d: %s at %s", i, frame.FuncName, formatLine(frame.Line))); err != nil {
			return err
		}
	}
	return nil
}

// FormatBacktrace renders the panic with its backtrace.
func (p *VMError) FormatBacktrace() string {
	var sb strings.Builder
	_ = p.WalkBacktrace(func(kind TraceKind, text string) error {
		if kind == TraceSeparator || kind == TraceFrame {
			sb.WriteString("  ")
		}
		sb.WriteString(text)
		sb.WriteByte('\n')
		return nil
	})
	return sb.String()
}

func formatLine(line int) string {
	if line <= 0 {
		return "<no-line>"
	}
	return fmt.Sprintf("line %d", line)
}

// errorBuilder helps construct VMError values.
type errorBuilder struct {
	vm *VM
}

func (eb *errorBuilder) makeError(code PanicCode, msg string) *VMError {
	e := &VMError{
		Code:    code,
		Message: msg,
	}

	vm := eb.vm
	depth := 0
	for fh := vm.fiber; fh != 0; depth++ {
		obj, ok := vm.heap.lookup(fh)
		if !ok || obj.Kind != OKFiber {
			break
		}
		f := obj.Fiber
		for i := len(f.frames) - 1; i >= 0; i-- {
			frame := &f.frames[i]
			e.Backtrace = append(e.Backtrace, BacktraceFrame{
				FuncName: frame.fn.Name,
				Line:     frame.line(),
				Fiber:    depth,
			})
		}
		fh = f.Prev
	}
	if len(e.Backtrace) > 0 {
		e.Line = e.Backtrace[0].Line
	}

	return e
}

// line returns the source line of the instruction being executed.
func (fr *CallFrame) line() int {
	if fr.fn == nil || fr.fn.Chunk == nil {
		return 0
	}
	return fr.fn.Chunk.LineAt(max(fr.IP-1, 0))
}

func (eb *errorBuilder) typeMismatch(expected, got string) *VMError {
	return eb.makeError(PanicTypeMismatch, fmt.Sprintf("expected %s, got %s", expected, got))
}

func (eb *errorBuilder) outOfBounds(index, length int) *VMError {
	return eb.makeError(PanicOutOfBounds, fmt.Sprintf("index %d out of bounds for length %d", index, length))
}

func (eb *errorBuilder) arity(name string, want, got int) *VMError {
	return eb.makeError(PanicArity, fmt.Sprintf("%s expects %d arguments but got %d", name, want, got))
}

func (eb *errorBuilder) undefined(what, name string) *VMError {
	return eb.makeError(PanicUndefinedName, fmt.Sprintf("undefined %s '%s'", what, name))
}

func (eb *errorBuilder) unimplemented(what string) *VMError {
	return eb.makeError(PanicUnimplemented, fmt.Sprintf("unimplemented: %s", what))
}

// fail aborts the current instruction with a runtime error. It never
// returns; execute recovers the panic and unwinds the active fibers.
func (vm *VM) fail(code PanicCode, msg string) {
	panic(vm.eb.makeError(code, msg))
}

func (vm *VM) raise(e *VMError) {
	panic(e)
}
