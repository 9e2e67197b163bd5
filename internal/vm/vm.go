package vm

import (
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"time"

	"kiln/internal/bytecode"
	"kiln/internal/trace"
)

// Options configures VM execution.
type Options struct {
	Heap       HeapOptions
	StackSlots int          // value stack capacity of every fiber
	MaxFrames  int          // call frame capacity of every fiber
	Stdout     io.Writer    // destination of print; os.Stdout when nil
	Trace      *Tracer      // per-instruction trace, nil to disable
	Tracer     trace.Tracer // structured events (collections, fiber switches)
}

// DefaultOptions returns the options used by New when fields are zero.
func DefaultOptions() Options {
	return Options{
		Heap:       DefaultHeapOptions(),
		StackSlots: 1024,
		MaxFrames:  256,
	}
}

// VM is a bytecode interpreter with a private managed heap. A VM is not
// safe for concurrent use; independent VMs share no state.
type VM struct {
	heap *Heap
	opts Options

	globals Handle // VM-wide names (natives, host globals)
	modules Handle // module name -> module
	loading []Handle

	fiber Handle     // current fiber, 0 when idle
	f     *Fiber     // cached Go pointer of fiber
	frame *CallFrame // top frame of f

	result  Value
	pending *VMError
	fatal   *VMError
	names   struct{ access, set Handle }

	Trace  *Tracer
	tracer trace.Tracer
	stdout io.Writer
	start  time.Time
	eb     *errorBuilder
}

// New creates a VM with the core natives installed.
func New(opts Options) *VM {
	def := DefaultOptions()
	if opts.StackSlots <= 0 {
		opts.StackSlots = def.StackSlots
	}
	if opts.MaxFrames <= 0 {
		opts.MaxFrames = def.MaxFrames
	}
	vm := &VM{
		opts:   opts,
		Trace:  opts.Trace,
		tracer: opts.Tracer,
		stdout: opts.Stdout,
		start:  time.Now(),
		result: Nil(),
	}
	if vm.tracer == nil {
		vm.tracer = trace.Nop
	}
	if vm.stdout == nil {
		vm.stdout = os.Stdout
	}
	vm.eb = &errorBuilder{vm: vm}
	vm.heap = NewHeap(opts.Heap)
	vm.heap.vm = vm
	if vm.Trace != nil {
		vm.Trace.vm = vm
	}

	vm.globals = vm.heap.newTable()
	vm.modules = vm.heap.newTable()
	vm.names.access = vm.heap.intern("access")
	vm.names.set = vm.heap.intern("set")
	registerCoreNatives(vm)
	return vm
}

// markRoots marks everything the VM itself references: the active fiber
// chain, the global and module tables, functions being loaded, interned
// method names and the last result.
func (vm *VM) markRoots() {
	h := vm.heap
	for fh := vm.fiber; fh != 0; fh = h.Get(fh).Fiber.Prev {
		h.markHandle(fh)
	}
	h.markHandle(vm.globals)
	h.markHandle(vm.modules)
	for _, fn := range vm.loading {
		h.markHandle(fn)
	}
	h.markHandle(vm.names.access)
	h.markHandle(vm.names.set)
	h.markValue(vm.result)
}

// Interpret runs fn as the body of the "main" module.
func (vm *VM) Interpret(fn *bytecode.Function) (Value, error) {
	return vm.InterpretModule("main", fn)
}

// InterpretModule loads fn into the named module and runs it on a fresh
// root fiber. Module variables persist across calls with the same name.
func (vm *VM) InterpretModule(module string, fn *bytecode.Function) (Value, error) {
	if vm.fatal != nil {
		return Nil(), vm.fatal
	}
	if vm.fiber != 0 {
		return Nil(), errors.New("vm: interpreter is already running")
	}
	span := trace.Begin(vm.tracer, trace.ScopeVM, "interpret "+module)
	result, err := vm.execute(func() {
		vm.boot(module, fn)
	})
	span.WithExtra("collections", fmt.Sprint(vm.heap.counters.collections)).End(errString(err))
	return result, err
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// boot loads fn and makes a root fiber for it the current fiber.
func (vm *VM) boot(module string, fn *bytecode.Function) {
	if fn == nil {
		vm.fail(PanicInvalidProgram, "no entry function")
	}
	if fn.Arity != 0 || fn.UpvalueCount != 0 {
		vm.fail(PanicInvalidProgram, "entry function must take no arguments and capture nothing")
	}
	mod := vm.module(module)
	mark := vm.heap.cacheHandle(mod)
	fh := vm.loadFunction(fn, mod)
	vm.heap.cacheHandle(fh)
	closure := vm.heap.newClosure(fh)
	vm.heap.cacheHandle(closure)
	root := vm.newFiber(closure)
	vm.heap.uncache(mark)

	f := vm.heap.Get(root).Fiber
	f.stack[0] = MakeObject(closure)
	f.sp = 1
	f.frames = append(f.frames, CallFrame{Closure: closure, fn: vm.heap.Get(fh).Fn})
	f.State = FiberRunning
	vm.fiber = root
	vm.sync()
}

// execute runs setup and then the dispatch loop, converting runtime
// panics into errors and unwinding the active fibers.
func (vm *VM) execute(setup func()) (result Value, err error) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		vmErr, ok := r.(*VMError)
		if !ok {
			re, isRuntime := r.(runtime.Error)
			if !isRuntime {
				panic(r)
			}
			vmErr = vm.eb.makeError(PanicInvalidProgram, re.Error())
		}
		vm.unwind()
		if vmErr.Fatal {
			vm.fatal = vmErr
		}
		result, err = Nil(), vmErr
	}()

	setup()
	return vm.run(), nil
}

// unwind abandons every fiber on the active chain: their upvalues are
// closed, their stacks emptied and they are marked finished.
func (vm *VM) unwind() {
	h := vm.heap
	for fh := vm.fiber; fh != 0; {
		obj, ok := h.lookup(fh)
		if !ok || obj.Kind != OKFiber {
			break
		}
		f := obj.Fiber
		next := f.Prev
		vm.closeUpvalues(f, 0)
		f.reset()
		f.State = FiberFinished
		f.Prev = 0
		fh = next
	}
	vm.fiber = 0
	vm.sync()
	h.uncache(0)
	h.gray = h.gray[:0]
	vm.loading = vm.loading[:0]
	vm.pending = nil
	vm.result = Nil()
}

// sync reloads the cached fiber and frame pointers.
func (vm *VM) sync() {
	if vm.fiber == 0 {
		vm.f, vm.frame = nil, nil
		return
	}
	vm.f = vm.heap.Get(vm.fiber).Fiber
	if n := len(vm.f.frames); n > 0 {
		vm.frame = &vm.f.frames[n-1]
	} else {
		vm.frame = nil
	}
}

// module returns the module registered under name, creating it if needed.
func (vm *VM) module(name string) Handle {
	h := vm.heap
	key := MakeObject(h.intern(name))
	if v, ok := h.tableGet(vm.modules, key); ok {
		return v.H
	}
	mark := h.cache(key)
	mod, _ := h.alloc(OKModule, sizeModule)
	h.cacheHandle(mod)
	vars := h.newTable()
	obj := h.Get(mod)
	obj.Module = ModuleObject{Name: key.H, Vars: vars}
	h.tableSet(vm.modules, key, MakeObject(mod))
	h.uncache(mark)
	return mod
}

// loadFunction turns a prototype into a function object, interning string
// constants and loading nested functions. In-flight functions are roots.
func (vm *VM) loadFunction(proto *bytecode.Function, mod Handle) Handle {
	h := vm.heap
	consts := proto.Chunk.Constants
	handle, obj := h.alloc(OKFunction, sizeFunction+len(consts)*sizeValue)
	fn := &FunctionObject{
		Name:         proto.DisplayName(),
		Arity:        proto.Arity,
		UpvalueCount: proto.UpvalueCount,
		Chunk:        &proto.Chunk,
		Constants:    make([]Value, len(consts)),
		Module:       mod,
	}
	for i := range fn.Constants {
		fn.Constants[i] = Nil()
	}
	obj.Fn = fn

	vm.loading = append(vm.loading, handle)
	for i, k := range consts {
		switch k.Kind {
		case bytecode.ConstNil:
		case bytecode.ConstBool:
			fn.Constants[i] = MakeBool(k.Bool)
		case bytecode.ConstNumber:
			fn.Constants[i] = MakeNumber(k.Num)
		case bytecode.ConstString:
			fn.Constants[i] = MakeObject(h.intern(k.Str))
		case bytecode.ConstFunction:
			if k.Fn == nil {
				vm.fail(PanicInvalidProgram, fmt.Sprintf("%s: constant %d is an empty function", fn.Name, i))
			}
			fn.Constants[i] = MakeObject(vm.loadFunction(k.Fn, mod))
		default:
			vm.fail(PanicInvalidProgram, fmt.Sprintf("%s: unknown constant kind %d", fn.Name, k.Kind))
		}
	}
	vm.loading = vm.loading[:len(vm.loading)-1]
	return handle
}

// DefineNative installs a native function in the VM-wide table. Arity -1
// accepts any number of arguments.
func (vm *VM) DefineNative(name string, arity int, fn NativeFn) {
	h := vm.heap
	key := MakeObject(h.intern(name))
	mark := h.cache(key)
	handle, obj := h.alloc(OKNative, sizeNative)
	obj.Native = &NativeObject{Name: name, Arity: arity, Fn: fn}
	h.cacheHandle(handle)
	h.tableSet(vm.globals, key, MakeObject(handle))
	h.uncache(mark)
}

// DefineGlobal binds name to v in the VM-wide table.
func (vm *VM) DefineGlobal(name string, v Value) {
	h := vm.heap
	mark := h.cache(v)
	key := MakeObject(h.intern(name))
	h.cache(key)
	h.tableSet(vm.globals, key, v)
	h.uncache(mark)
}

// Global looks name up in the "main" module, then in the VM-wide table.
func (vm *VM) Global(name string) (Value, bool) {
	return vm.ModuleGlobal("main", name)
}

// ModuleGlobal looks name up in a module, then in the VM-wide table.
func (vm *VM) ModuleGlobal(module, name string) (Value, bool) {
	h := vm.heap
	key := MakeObject(h.intern(name))
	modKey := MakeObject(h.intern(module))
	if mod, ok := h.tableGet(vm.modules, modKey); ok {
		if v, ok := h.tableGet(h.Get(mod.H).Module.Vars, key); ok {
			return v, true
		}
	}
	return h.tableGet(vm.globals, key)
}

// NewString returns the interned string value for s.
func (vm *VM) NewString(s string) Value {
	return MakeObject(vm.heap.intern(s))
}

// NewArray allocates an array holding a copy of elems.
func (vm *VM) NewArray(elems []Value) Value {
	mark := vm.heap.cache(elems...)
	a := vm.heap.newArray(elems)
	vm.heap.uncache(mark)
	return MakeObject(a)
}

// Cache registers values that host code holds across allocations and
// returns a mark for Uncache.
func (vm *VM) Cache(vals ...Value) int { return vm.heap.cache(vals...) }

// Uncache releases references cached since mark.
func (vm *VM) Uncache(mark int) { vm.heap.uncache(mark) }

// Collect forces a full collection.
func (vm *VM) Collect() {
	vm.heap.collect("explicit")
}

// Result returns the value returned by the last successful Interpret.
func (vm *VM) Result() Value { return vm.result }
