package vm

import (
	"errors"
	"fmt"
)

// callValue calls callee, which sits below argc arguments on the stack.
func (vm *VM) callValue(callee Value, argc int) {
	h := vm.heap
	kind, ok := h.kindOf(callee)
	if !ok {
		vm.raise(vm.eb.typeMismatch("function or class", vm.typeName(callee)))
	}
	switch kind {
	case OKClosure:
		vm.callClosure(callee.H, argc, false)
	case OKNative:
		vm.callNative(h.Get(callee.H).Native, argc)
	case OKClass:
		vm.construct(callee.H, argc)
	case OKBoundMethod:
		bound := h.Get(callee.H).Bound
		vm.f.stack[vm.f.sp-argc-1] = bound.Receiver
		vm.callValue(MakeObject(bound.Method), argc)
	default:
		vm.raise(vm.eb.typeMismatch("function or class", vm.typeName(callee)))
	}
}

// callClosure pushes a frame for closure c. With ctor set the frame
// returns its receiver instead of its result.
func (vm *VM) callClosure(c Handle, argc int, ctor bool) {
	h := vm.heap
	fn := h.Get(h.Get(c).Closure.Fn).Fn
	if argc != fn.Arity {
		vm.raise(vm.eb.arity(fn.Name, fn.Arity, argc))
	}
	f := vm.f
	if len(f.frames) == cap(f.frames) {
		vm.fail(PanicStackOverflow, "call stack overflow")
	}
	f.frames = append(f.frames, CallFrame{
		Closure: c,
		fn:      fn,
		Base:    f.sp - argc - 1,
		Ctor:    ctor,
	})
	vm.frame = &f.frames[len(f.frames)-1]
}

// callNative runs a native in place of a frame: its arguments and callee
// are replaced by its result.
func (vm *VM) callNative(n *NativeObject, argc int) {
	if n.Arity >= 0 && argc != n.Arity {
		vm.raise(vm.eb.arity(n.Name, n.Arity, argc))
	}
	f := vm.f
	args := f.stack[f.sp-argc : f.sp]
	result, err := n.Fn(vm, args)
	if err != nil {
		vm.nativeFailure(n.Name, err)
	}
	if result.Kind == VKEmpty {
		result = Nil()
	}
	vm.popN(argc + 1)
	vm.push(result)
}

// nativeFailure converts an error returned by a native into a runtime
// error. An empty NativeError means the native already reported it.
func (vm *VM) nativeFailure(name string, err error) {
	var vmErr *VMError
	if errors.As(err, &vmErr) {
		vm.raise(vmErr)
	}
	var ne NativeError
	if errors.As(err, &ne) && ne == ErrReported {
		if p := vm.pending; p != nil {
			vm.pending = nil
			vm.raise(p)
		}
		vm.fail(PanicNative, name+": error already reported")
	}
	vm.fail(PanicNative, fmt.Sprintf("%s: %s", name, err.Error()))
}

// construct creates an instance of class in the callee slot and runs the
// method named like the class as its constructor.
func (vm *VM) construct(class Handle, argc int) {
	h := vm.heap
	inst := vm.newInstance(class)
	vm.f.stack[vm.f.sp-argc-1] = MakeObject(inst)

	cls := h.Get(class).Class
	if init, ok := h.tableGet(cls.Methods, MakeObject(cls.Name)); ok {
		vm.callClosure(init.H, argc, true)
		return
	}
	if argc != 0 {
		vm.raise(vm.eb.arity(h.str(cls.Name), 0, argc))
	}
}

// invoke calls method name on the receiver below argc arguments without
// materializing a bound method.
func (vm *VM) invoke(name Value, argc int) {
	h := vm.heap
	recv := vm.peek(argc)
	kind, _ := h.kindOf(recv)
	switch {
	case recv.Kind == VKObject && kind == OKInstance:
		inst := h.Get(recv.H).Instance
		if v, ok := h.tableGet(inst.Fields, name); ok {
			vm.f.stack[vm.f.sp-argc-1] = v
			vm.callValue(v, argc)
			return
		}
		if inst.Class != 0 {
			if m, ok := h.tableGet(h.Get(inst.Class).Class.Methods, name); ok {
				vm.callClosure(m.H, argc, false)
				return
			}
		}
		vm.raise(vm.eb.undefined("property", h.str(name.H)))
	case recv.Kind == VKObject && kind == OKModule:
		v, ok := h.tableGet(h.Get(recv.H).Module.Vars, name)
		if !ok {
			vm.raise(vm.eb.undefined("module member", h.str(name.H)))
		}
		vm.f.stack[vm.f.sp-argc-1] = v
		vm.callValue(v, argc)
	default:
		vm.raise(vm.eb.typeMismatch("instance", vm.typeName(recv)))
	}
}

// newClass allocates a class with an empty method table. name must be
// rooted.
func (vm *VM) newClass(name Handle) Handle {
	h := vm.heap
	cls, obj := h.alloc(OKClass, sizeClass)
	obj.Class.Name = name
	mark := h.cacheHandle(cls)
	methods := h.newTable()
	h.Get(cls).Class.Methods = methods
	h.uncache(mark)
	return cls
}

// newInstance allocates an instance of class (0 for a struct literal).
// class must be rooted.
func (vm *VM) newInstance(class Handle) Handle {
	h := vm.heap
	inst, obj := h.alloc(OKInstance, sizeInstance)
	obj.Instance.Class = class
	mark := h.cacheHandle(inst)
	fields := h.newTable()
	h.Get(inst).Instance.Fields = fields
	h.uncache(mark)
	return inst
}

// bindMethod pairs a receiver with a method. Both must be rooted.
func (vm *VM) bindMethod(recv Value, method Handle) Handle {
	bound, obj := vm.heap.alloc(OKBoundMethod, sizeBound)
	obj.Bound = BoundMethodObject{Receiver: recv, Method: method}
	return bound
}

// inherit copies the superclass methods down into the subclass:
// [subclass, superclass] -> [subclass].
func (vm *VM) inherit() {
	h := vm.heap
	super := vm.peek(0)
	sub := vm.peek(1)
	if kind, ok := h.kindOf(super); !ok || kind != OKClass {
		vm.raise(vm.eb.typeMismatch("superclass to be a class", vm.typeName(super)))
	}
	if kind, ok := h.kindOf(sub); !ok || kind != OKClass {
		vm.fail(PanicInvalidProgram, "inherit target is not a class")
	}
	h.tableCopy(h.Get(super.H).Class.Methods, h.Get(sub.H).Class.Methods)
	vm.pop()
}

// defineMethod stores the closure on top of the stack in the class below
// it: [class, closure] -> [class].
func (vm *VM) defineMethod(name Value) {
	h := vm.heap
	method := vm.peek(0)
	class := vm.peek(1)
	if kind, ok := h.kindOf(class); !ok || kind != OKClass {
		vm.fail(PanicInvalidProgram, "method target is not a class")
	}
	if kind, ok := h.kindOf(method); !ok || kind != OKClosure {
		vm.fail(PanicInvalidProgram, "method body is not a closure")
	}
	h.tableSet(h.Get(class.H).Class.Methods, name, method)
	vm.pop()
}
