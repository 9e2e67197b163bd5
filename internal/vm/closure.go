package vm

import "sort"

func (h *Heap) newClosure(fn Handle) Handle {
	mark := h.cacheHandle(fn)
	handle, obj := h.alloc(OKClosure, sizeClosure)
	h.uncache(mark)
	obj.Closure.Fn = fn
	if n := h.Get(fn).Fn.UpvalueCount; n > 0 {
		obj.Closure.Upvalues = make([]Handle, n)
	}
	return handle
}

// captureUpvalue returns the open upvalue for slot of fiber fh, creating
// it if needed. A fiber keeps its open upvalues sorted by slot so that
// each slot is captured by at most one upvalue.
func (vm *VM) captureUpvalue(fh Handle, slot int) Handle {
	f := vm.heap.Get(fh).Fiber
	i := sort.Search(len(f.open), func(i int) bool {
		return vm.heap.Get(f.open[i]).Upvalue.Slot >= slot
	})
	if i < len(f.open) && vm.heap.Get(f.open[i]).Upvalue.Slot == slot {
		return f.open[i]
	}

	handle, obj := vm.heap.alloc(OKUpvalue, sizeUpvalue)
	obj.Upvalue = UpvalueObject{Fiber: fh, Slot: slot, Open: true}
	f.open = append(f.open, 0)
	copy(f.open[i+1:], f.open[i:])
	f.open[i] = handle
	return handle
}

// closeUpvalues closes every open upvalue of f at or above slot, copying
// the stack value into the upvalue.
func (vm *VM) closeUpvalues(f *Fiber, slot int) {
	n := len(f.open)
	for n > 0 {
		uv := &vm.heap.Get(f.open[n-1]).Upvalue
		if uv.Slot < slot {
			break
		}
		uv.Closed = f.stack[uv.Slot]
		uv.Open = false
		uv.Fiber = 0
		n--
	}
	clear(f.open[n:])
	f.open = f.open[:n]
}

func (vm *VM) upvalueGet(handle Handle) Value {
	uv := vm.heap.Get(handle).Upvalue
	if uv.Open {
		return vm.heap.Get(uv.Fiber).Fiber.stack[uv.Slot]
	}
	return uv.Closed
}

func (vm *VM) upvalueSet(handle Handle, v Value) {
	uv := &vm.heap.Get(handle).Upvalue
	if uv.Open {
		vm.heap.Get(uv.Fiber).Fiber.stack[uv.Slot] = v
		return
	}
	uv.Closed = v
}
