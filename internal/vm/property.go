package vm

import (
	"fortio.org/safecast"
)

// getProperty replaces the receiver on top of the stack with its field
// or a bound method.
func (vm *VM) getProperty(name Value) {
	h := vm.heap
	recv := vm.peek(0)
	kind, _ := h.kindOf(recv)
	switch {
	case recv.Kind == VKObject && kind == OKInstance:
		inst := h.Get(recv.H).Instance
		if v, ok := h.tableGet(inst.Fields, name); ok {
			vm.f.stack[vm.f.sp-1] = v
			return
		}
		if inst.Class != 0 {
			if m, ok := h.tableGet(h.Get(inst.Class).Class.Methods, name); ok {
				bound := vm.bindMethod(recv, m.H)
				vm.f.stack[vm.f.sp-1] = MakeObject(bound)
				return
			}
		}
		vm.raise(vm.eb.undefined("property", h.str(name.H)))
	case recv.Kind == VKObject && kind == OKModule:
		v, ok := h.tableGet(h.Get(recv.H).Module.Vars, name)
		if !ok {
			vm.raise(vm.eb.undefined("module member", h.str(name.H)))
		}
		vm.f.stack[vm.f.sp-1] = v
	default:
		vm.raise(vm.eb.typeMismatch("instance", vm.typeName(recv)))
	}
}

// setProperty stores a field: [instance, value] -> [value].
func (vm *VM) setProperty(name Value) {
	h := vm.heap
	recv := vm.peek(1)
	val := vm.peek(0)
	kind, _ := h.kindOf(recv)
	switch {
	case recv.Kind == VKObject && kind == OKInstance:
		h.tableSet(h.Get(recv.H).Instance.Fields, name, val)
	case recv.Kind == VKObject && kind == OKModule:
		h.tableSet(h.Get(recv.H).Module.Vars, name, val)
	default:
		vm.raise(vm.eb.typeMismatch("instance", vm.typeName(recv)))
	}
	vm.popN(2)
	vm.push(val)
}

// getSuper binds a superclass method to the receiver:
// [receiver, superclass] -> [bound method].
func (vm *VM) getSuper(name Value) {
	h := vm.heap
	super := vm.peek(0)
	recv := vm.peek(1)
	if kind, ok := h.kindOf(super); !ok || kind != OKClass {
		vm.raise(vm.eb.typeMismatch("class", vm.typeName(super)))
	}
	m, ok := h.tableGet(h.Get(super.H).Class.Methods, name)
	if !ok {
		vm.raise(vm.eb.undefined("superclass method", h.str(name.H)))
	}
	bound := vm.bindMethod(recv, m.H)
	vm.popN(2)
	vm.push(MakeObject(bound))
}

// makeStruct builds a struct literal from n name/value pairs on the stack.
func (vm *VM) makeStruct(n int) {
	h := vm.heap
	f := vm.f
	base := f.sp - 2*n
	if base < vm.frame.Base {
		vm.fail(PanicInvalidProgram, "stack underflow")
	}
	inst := vm.newInstance(0)
	mark := h.cacheHandle(inst)
	for i := 0; i < n; i++ {
		h.tableSet(h.Get(inst).Instance.Fields, f.stack[base+2*i], f.stack[base+2*i+1])
	}
	h.uncache(mark)
	vm.popN(2 * n)
	vm.push(MakeObject(inst))
}

// interceptor returns the class method name of a non-struct instance,
// used for access/set overloading of indexing.
func (vm *VM) interceptor(inst InstanceObject, name Handle) (Handle, bool) {
	if inst.Class == 0 {
		return 0, false
	}
	m, ok := vm.heap.tableGet(vm.heap.Get(inst.Class).Class.Methods, MakeObject(name))
	if !ok {
		return 0, false
	}
	return m.H, true
}

// indexGet implements obj[index]: [obj, index] -> [value]. A class that
// defines access receives the index as its argument.
func (vm *VM) indexGet() {
	h := vm.heap
	obj := vm.peek(1)
	idx := vm.peek(0)
	kind, ok := h.kindOf(obj)
	if !ok {
		vm.raise(vm.eb.typeMismatch("array, string or instance", vm.typeName(obj)))
	}
	var result Value
	switch kind {
	case OKArray:
		i := vm.index(idx, h.arrayLen(obj.H))
		result = h.arrayGet(obj.H, i)
	case OKString:
		s := h.str(obj.H)
		i := vm.index(idx, len(s))
		result = MakeObject(h.intern(s[i : i+1]))
	case OKInstance:
		inst := h.Get(obj.H).Instance
		if m, ok := vm.interceptor(inst, vm.names.access); ok {
			vm.callClosure(m, 1, false)
			return
		}
		v, ok := h.tableGet(inst.Fields, idx)
		if !ok {
			vm.raise(vm.eb.undefined("field", vm.ToString(idx)))
		}
		result = v
	default:
		vm.raise(vm.eb.typeMismatch("array, string or instance", vm.typeName(obj)))
	}
	vm.popN(2)
	vm.push(result)
}

// indexSet implements obj[index] = value: [obj, index, value] -> [value].
// A class that defines set receives index and value as its arguments.
func (vm *VM) indexSet() {
	h := vm.heap
	obj := vm.peek(2)
	idx := vm.peek(1)
	val := vm.peek(0)
	kind, ok := h.kindOf(obj)
	if !ok {
		vm.raise(vm.eb.typeMismatch("array or instance", vm.typeName(obj)))
	}
	switch kind {
	case OKArray:
		i := vm.index(idx, h.arrayLen(obj.H))
		h.arraySet(obj.H, i, val)
	case OKInstance:
		inst := h.Get(obj.H).Instance
		if m, ok := vm.interceptor(inst, vm.names.set); ok {
			vm.callClosure(m, 2, false)
			return
		}
		h.tableSet(inst.Fields, idx, val)
	default:
		vm.raise(vm.eb.typeMismatch("array or instance", vm.typeName(obj)))
	}
	vm.popN(3)
	vm.push(val)
}

// index validates an integral index within [0, length).
func (vm *VM) index(idx Value, length int) int {
	if idx.Kind != VKNumber {
		vm.raise(vm.eb.typeMismatch("numeric index", vm.typeName(idx)))
	}
	i, err := safecast.Convert[int](idx.Num)
	if err != nil {
		vm.fail(PanicOutOfBounds, "index "+formatNumber(idx.Num)+" is not an integer")
	}
	if i < 0 || i >= length {
		vm.raise(vm.eb.outOfBounds(i, length))
	}
	return i
}
