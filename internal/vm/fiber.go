package vm

import "fmt"

// FiberState is the execution state of a fiber.
type FiberState uint8

const (
	FiberNotStarted FiberState = iota
	FiberRunning
	FiberPaused
	FiberFinished
)

func (s FiberState) String() string {
	switch s {
	case FiberNotStarted:
		return "not started"
	case FiberRunning:
		return "running"
	case FiberPaused:
		return "paused"
	case FiberFinished:
		return "finished"
	default:
		return fmt.Sprintf("FiberState(%d)", s)
	}
}

// CallFrame is one activation record of a fiber.
type CallFrame struct {
	Closure Handle
	fn      *FunctionObject
	IP      int
	Base    int  // stack index of slot 0 (callee or receiver)
	Ctor    bool // return the receiver instead of the returned value
}

// Fiber is a coroutine: a fixed-capacity value stack, a fixed-capacity
// frame stack, and the fiber that resumed it.
type Fiber struct {
	Self    Handle
	State   FiberState
	Prev    Handle
	Closure Handle

	stack  []Value
	sp     int
	frames []CallFrame
	open   []Handle
}

func (f *Fiber) release() {
	f.stack = nil
	f.frames = nil
	f.open = nil
}

func (f *Fiber) mark(h *Heap) {
	h.markHandle(f.Prev)
	h.markHandle(f.Closure)
	h.markValues(f.stack[:f.sp])
	for i := range f.frames {
		h.markHandle(f.frames[i].Closure)
	}
	for _, uv := range f.open {
		h.markHandle(uv)
	}
}

// Depth returns the number of active call frames.
func (f *Fiber) Depth() int { return len(f.frames) }

// reset drops every frame and value. Open upvalues must be closed first.
func (f *Fiber) reset() {
	clear(f.stack[:f.sp])
	f.sp = 0
	f.frames = f.frames[:0]
}

// newFiber allocates a fiber that will run closure. closure must be rooted.
func (vm *VM) newFiber(closure Handle) Handle {
	handle, obj := vm.heap.alloc(OKFiber, sizeFiber)
	obj.Fiber = &Fiber{
		Self:    handle,
		Closure: closure,
		stack:   make([]Value, vm.opts.StackSlots),
		frames:  make([]CallFrame, 0, vm.opts.MaxFrames),
	}
	return handle
}

func (vm *VM) fiberArity(f *Fiber) int {
	return vm.heap.Get(vm.heap.Get(f.Closure).Closure.Fn).Fn.Arity
}

// onActiveChain reports whether target is the current fiber or one of
// the fibers waiting on it.
func (vm *VM) onActiveChain(target Handle) bool {
	for fh := vm.fiber; fh != 0; fh = vm.heap.Get(fh).Fiber.Prev {
		if fh == target {
			return true
		}
	}
	return false
}

// runFiber transfers control to the fiber at stack[sp-argc-1], moving the
// argc values above it onto the target stack. A finished target
// short-circuits to nil.
func (vm *VM) runFiber(argc int) {
	cur := vm.f
	fv := cur.stack[cur.sp-argc-1]
	if kind, ok := vm.heap.kindOf(fv); !ok || kind != OKFiber {
		vm.fail(PanicTypeMismatch, "can only run fibers, got "+vm.typeName(fv))
	}
	target := vm.heap.Get(fv.H).Fiber

	if target.State == FiberFinished {
		vm.popN(argc + 1)
		vm.push(Nil())
		return
	}
	if target.Prev != 0 || vm.onActiveChain(target.Self) {
		vm.fail(PanicFiberState, "fiber already in use")
	}
	switch target.State {
	case FiberNotStarted:
		if arity := vm.fiberArity(target); argc != arity {
			vm.fail(PanicArity, fmt.Sprintf("fiber expects %d start values but got %d", arity, argc))
		}
		if argc+1 > len(target.stack) {
			vm.fail(PanicStackOverflow, "fiber stack overflow")
		}
		target.stack[0] = MakeObject(target.Closure)
		copy(target.stack[1:], cur.stack[cur.sp-argc:cur.sp])
		target.sp = argc + 1
		fn := vm.heap.Get(vm.heap.Get(target.Closure).Closure.Fn).Fn
		target.frames = append(target.frames, CallFrame{Closure: target.Closure, fn: fn})
	case FiberPaused:
		if argc != 1 {
			vm.fail(PanicArity, fmt.Sprintf("resuming a fiber takes exactly one value but got %d", argc))
		}
		if target.sp >= len(target.stack) {
			vm.fail(PanicStackOverflow, "fiber stack overflow")
		}
		target.stack[target.sp] = cur.stack[cur.sp-1]
		target.sp++
	default:
		vm.fail(PanicFiberState, "cannot run a "+target.State.String()+" fiber")
	}

	vm.popN(argc + 1)
	cur.State = FiberPaused
	target.State = FiberRunning
	target.Prev = cur.Self
	vm.switchTo(target.Self, "run")
}

// yieldFiber hands v back to the fiber that resumed the current one.
func (vm *VM) yieldFiber(v Value) {
	cur := vm.f
	if cur.Prev == 0 {
		vm.fail(PanicFiberState, "cannot yield from a fiber with no caller")
	}
	prev := vm.heap.Get(cur.Prev).Fiber
	cur.Prev = 0
	cur.State = FiberPaused
	vm.transfer(prev, v, "yield")
}

// transfer resumes prev with v as the result of its pending run.
func (vm *VM) transfer(prev *Fiber, v Value, why string) {
	if prev.sp >= len(prev.stack) {
		vm.fail(PanicStackOverflow, "fiber stack overflow")
	}
	prev.stack[prev.sp] = v
	prev.sp++
	prev.State = FiberRunning
	vm.switchTo(prev.Self, why)
}

// switchTo makes fh the current fiber and reloads the cached frame.
func (vm *VM) switchTo(fh Handle, why string) {
	vm.fiber = fh
	vm.sync()
	if vm.tracer != nil && vm.tracer.Enabled() {
		vm.traceFiber(why, fh)
	}
}

// FiberDone reports whether v is a finished fiber.
func (vm *VM) FiberDone(v Value) (bool, error) {
	if kind, ok := vm.heap.kindOf(v); !ok || kind != OKFiber {
		return false, NativeError("expected a fiber, got " + vm.typeName(v))
	}
	return vm.heap.Get(v.H).Fiber.State == FiberFinished, nil
}
