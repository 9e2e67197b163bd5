package vm

import (
	"fmt"
	"io"

	"kiln/internal/bytecode"
	"kiln/internal/trace"
)

// Tracer outputs execution traces for debugging.
type Tracer struct {
	w     io.Writer
	stack bool
	vm    *VM
}

// NewTracer creates a new tracer that writes to w. With stack set, every
// instruction is preceded by the current frame's stack slots.
func NewTracer(w io.Writer, stack bool) *Tracer {
	return &Tracer{w: w, stack: stack}
}

// TraceInstr traces the instruction about to execute in frame.
// Format: [fiber=F depth=N] <func> <offset> <line> <instr>
func (t *Tracer) TraceInstr(vm *VM, frame *CallFrame) {
	if t == nil || t.w == nil {
		return
	}
	f := vm.f
	if t.stack {
		fmt.Fprint(t.w, "          ")
		for _, v := range f.stack[frame.Base:f.sp] {
			fmt.Fprintf(t.w, "[ %s ]", vm.ToString(v))
		}
		fmt.Fprintln(t.w)
	}
	text, _ := bytecode.DisassembleInstruction(frame.fn.Chunk, frame.IP)
	fmt.Fprintf(t.w, "[fiber=%d depth=%d] %s %s\n", f.Self, len(f.frames), frame.fn.Name, text)
}

// TraceHeapAlloc records an allocation.
func (t *Tracer) TraceHeapAlloc(kind ObjectKind, h Handle, size int) {
	if t == nil || t.w == nil {
		return
	}
	fmt.Fprintf(t.w, "[heap] alloc %s#%d (%d bytes)\n", kind, h, size)
}

// traceFiber emits a fiber transfer event on the structured tracer.
func (vm *VM) traceFiber(why string, fh Handle) {
	trace.Point(vm.tracer, trace.ScopeFiber, "fiber "+why, fmt.Sprintf("fiber#%d", fh))
}
