package vm

import (
	"fmt"

	"kiln/internal/bytecode"
)

func (vm *VM) push(v Value) {
	f := vm.f
	if f.sp >= len(f.stack) {
		vm.fail(PanicStackOverflow, "stack overflow")
	}
	f.stack[f.sp] = v
	f.sp++
}

func (vm *VM) pop() Value {
	f := vm.f
	if f.sp <= vm.frame.Base {
		vm.fail(PanicInvalidProgram, "stack underflow")
	}
	f.sp--
	return f.stack[f.sp]
}

func (vm *VM) popN(n int) {
	f := vm.f
	if f.sp-n < 0 {
		vm.fail(PanicInvalidProgram, "stack underflow")
	}
	clear(f.stack[f.sp-n : f.sp])
	f.sp -= n
}

func (vm *VM) peek(distance int) Value {
	return vm.f.stack[vm.f.sp-1-distance]
}

func (vm *VM) readByte() int {
	fr := vm.frame
	b := fr.fn.Chunk.Code[fr.IP]
	fr.IP++
	return int(b)
}

func (vm *VM) readU16() int {
	fr := vm.frame
	v := fr.fn.Chunk.ReadU16(fr.IP)
	fr.IP += 2
	return v
}

func (vm *VM) readConstant(wide bool) Value {
	idx := 0
	if wide {
		idx = vm.readU16()
	} else {
		idx = vm.readByte()
	}
	return vm.frame.fn.Constants[idx]
}

// readName reads a constant operand that must be a string.
func (vm *VM) readName(wide bool) Value {
	v := vm.readConstant(wide)
	if kind, ok := vm.heap.kindOf(v); !ok || kind != OKString {
		vm.fail(PanicInvalidProgram, "name operand is not a string constant")
	}
	return v
}

// run is the dispatch loop. It executes the current fiber until the root
// fiber returns; fiber transfers only swap the cached fiber and frame.
func (vm *VM) run() Value {
	h := vm.heap
	for {
		frame := vm.frame
		if vm.Trace != nil {
			vm.Trace.TraceInstr(vm, frame)
		}
		op := bytecode.Op(frame.fn.Chunk.Code[frame.IP])
		frame.IP++

		switch op {
		case bytecode.OpConstant, bytecode.OpConstantLong:
			vm.push(vm.readConstant(op == bytecode.OpConstantLong))
		case bytecode.OpNil:
			vm.push(Nil())
		case bytecode.OpTrue:
			vm.push(MakeBool(true))
		case bytecode.OpFalse:
			vm.push(MakeBool(false))
		case bytecode.OpPop:
			vm.pop()
		case bytecode.OpPopN:
			vm.popN(vm.readByte())
		case bytecode.OpDup:
			vm.push(vm.peek(0))

		case bytecode.OpGetLocal:
			vm.push(vm.f.stack[frame.Base+vm.readByte()])
		case bytecode.OpSetLocal:
			vm.f.stack[frame.Base+vm.readByte()] = vm.peek(0)
		case bytecode.OpGetUpvalue:
			uv := h.Get(frame.Closure).Closure.Upvalues[vm.readByte()]
			vm.push(vm.upvalueGet(uv))
		case bytecode.OpSetUpvalue:
			uv := h.Get(frame.Closure).Closure.Upvalues[vm.readByte()]
			vm.upvalueSet(uv, vm.peek(0))
		case bytecode.OpCloseUpvalue:
			vm.closeUpvalues(vm.f, vm.f.sp-1)
			vm.pop()

		case bytecode.OpDefineGlobal, bytecode.OpDefineGlobalLong:
			name := vm.readName(op == bytecode.OpDefineGlobalLong)
			h.tableSet(vm.moduleVars(), name, vm.peek(0))
			vm.pop()
		case bytecode.OpGetGlobal, bytecode.OpGetGlobalLong:
			vm.push(vm.getGlobal(vm.readName(op == bytecode.OpGetGlobalLong)))
		case bytecode.OpSetGlobal, bytecode.OpSetGlobalLong:
			vm.setGlobal(vm.readName(op == bytecode.OpSetGlobalLong), vm.peek(0))

		case bytecode.OpAdd, bytecode.OpSubtract, bytecode.OpMultiply, bytecode.OpDivide,
			bytecode.OpModulo, bytecode.OpBitAnd, bytecode.OpBitOr, bytecode.OpBitXor,
			bytecode.OpShiftLeft, bytecode.OpShiftRight,
			bytecode.OpLess, bytecode.OpLessEqual, bytecode.OpGreater, bytecode.OpGreaterEqual:
			vm.binaryOp(op)
		case bytecode.OpEqual:
			b, a := vm.pop(), vm.pop()
			vm.push(MakeBool(a.Equal(b)))
		case bytecode.OpNotEqual:
			b, a := vm.pop(), vm.pop()
			vm.push(MakeBool(!a.Equal(b)))
		case bytecode.OpNegate:
			n := vm.numberOperand(vm.peek(0))
			vm.f.stack[vm.f.sp-1] = MakeNumber(-n)
		case bytecode.OpBitNot:
			n := vm.intOperand(vm.peek(0))
			vm.f.stack[vm.f.sp-1] = MakeNumber(float64(^n))
		case bytecode.OpNot:
			vm.f.stack[vm.f.sp-1] = MakeBool(vm.peek(0).IsFalsey())

		case bytecode.OpJump:
			off := vm.readU16()
			frame.IP += off
		case bytecode.OpJumpIfFalse:
			off := vm.readU16()
			if vm.pop().IsFalsey() {
				frame.IP += off
			}
		case bytecode.OpJumpIfTrue:
			off := vm.readU16()
			if !vm.pop().IsFalsey() {
				frame.IP += off
			}
		case bytecode.OpLoop:
			off := vm.readU16()
			frame.IP -= off
		case bytecode.OpBreak:
			n := vm.readByte()
			off := vm.readU16()
			vm.closeUpvalues(vm.f, vm.f.sp-n)
			vm.popN(n)
			frame.IP += off
		case bytecode.OpSwitch:
			vm.switchOn(vm.readByte())

		case bytecode.OpCall:
			argc := vm.readByte()
			vm.callValue(vm.peek(argc), argc)
		case bytecode.OpInvoke, bytecode.OpInvokeLong:
			name := vm.readName(op == bytecode.OpInvokeLong)
			vm.invoke(name, vm.readByte())
		case bytecode.OpClosure, bytecode.OpClosureLong:
			vm.makeClosure(vm.readConstant(op == bytecode.OpClosureLong))
		case bytecode.OpReturn:
			if result, done := vm.returnFrom(); done {
				return result
			}

		case bytecode.OpClass, bytecode.OpClassLong:
			name := vm.readName(op == bytecode.OpClassLong)
			vm.push(MakeObject(vm.newClass(name.H)))
		case bytecode.OpInherit:
			vm.inherit()
		case bytecode.OpMethod, bytecode.OpMethodLong:
			vm.defineMethod(vm.readName(op == bytecode.OpMethodLong))
		case bytecode.OpGetProperty, bytecode.OpGetPropertyLong:
			vm.getProperty(vm.readName(op == bytecode.OpGetPropertyLong))
		case bytecode.OpSetProperty, bytecode.OpSetPropertyLong:
			vm.setProperty(vm.readName(op == bytecode.OpSetPropertyLong))
		case bytecode.OpGetSuper, bytecode.OpGetSuperLong:
			vm.getSuper(vm.readName(op == bytecode.OpGetSuperLong))
		case bytecode.OpStruct:
			vm.makeStruct(vm.readByte())

		case bytecode.OpArray:
			n := vm.readByte()
			f := vm.f
			if n > f.sp-frame.Base {
				vm.fail(PanicInvalidProgram, "stack underflow")
			}
			a := h.newArray(f.stack[f.sp-n : f.sp])
			vm.popN(n)
			vm.push(MakeObject(a))
		case bytecode.OpIndexGet:
			vm.indexGet()
		case bytecode.OpIndexSet:
			vm.indexSet()

		case bytecode.OpFiberNew:
			v := vm.peek(0)
			if kind, ok := h.kindOf(v); !ok || kind != OKClosure {
				vm.raise(vm.eb.typeMismatch("function", vm.typeName(v)))
			}
			fh := vm.newFiber(v.H)
			vm.f.stack[vm.f.sp-1] = MakeObject(fh)
		case bytecode.OpFiberRun:
			vm.runFiber(vm.readByte())
		case bytecode.OpFiberYield:
			v := vm.pop()
			vm.yieldFiber(v)

		default:
			vm.raise(vm.eb.unimplemented(fmt.Sprintf("opcode %s", op)))
		}
	}
}

// moduleVars returns the variable table of the running function's module.
func (vm *VM) moduleVars() Handle {
	return vm.heap.Get(vm.frame.fn.Module).Module.Vars
}

func (vm *VM) getGlobal(name Value) Value {
	h := vm.heap
	if v, ok := h.tableGet(vm.moduleVars(), name); ok {
		return v
	}
	if v, ok := h.tableGet(vm.globals, name); ok {
		return v
	}
	vm.raise(vm.eb.undefined("variable", h.str(name.H)))
	return Nil()
}

// setGlobal assigns an existing module or VM-wide variable. Assigning an
// undefined name is an error; the speculative module entry is removed.
func (vm *VM) setGlobal(name, v Value) {
	h := vm.heap
	vars := vm.moduleVars()
	if !h.tableSet(vars, name, v) {
		return
	}
	h.tableDelete(vars, name)
	if _, ok := h.tableGet(vm.globals, name); ok {
		h.tableSet(vm.globals, name, v)
		return
	}
	vm.raise(vm.eb.undefined("variable", h.str(name.H)))
}

// switchOn pops the scrutinee and jumps through switch table idx.
func (vm *VM) switchOn(idx int) {
	frame := vm.frame
	tbl := &frame.fn.Chunk.Switches[idx]
	v := vm.pop()
	off := tbl.Default
	switch v.Kind {
	case VKNumber:
		off = tbl.LookupNumber(v.Num)
	case VKObject:
		if obj := vm.heap.Get(v.H); obj.Kind == OKString {
			off = tbl.LookupString(obj.Str)
		}
	}
	frame.IP += off
}

// makeClosure wraps function constant fnv in a closure and resolves its
// captures. The closure is pushed before capturing so that it stays
// rooted while upvalues are allocated.
func (vm *VM) makeClosure(fnv Value) {
	h := vm.heap
	if kind, ok := h.kindOf(fnv); !ok || kind != OKFunction {
		vm.fail(PanicInvalidProgram, "closure operand is not a function constant")
	}
	c := h.newClosure(fnv.H)
	vm.push(MakeObject(c))
	frame := vm.frame
	n := len(h.Get(c).Closure.Upvalues)
	for i := 0; i < n; i++ {
		local := vm.readByte()
		index := vm.readByte()
		var uv Handle
		if local == 1 {
			uv = vm.captureUpvalue(vm.fiber, frame.Base+index)
		} else {
			uv = h.Get(frame.Closure).Closure.Upvalues[index]
		}
		h.Get(c).Closure.Upvalues[i] = uv
	}
}

// returnFrom pops the current frame. It reports done once the root fiber
// has returned; an outermost return on any other fiber finishes it and
// hands the value back to its resumer.
func (vm *VM) returnFrom() (Value, bool) {
	f := vm.f
	frame := vm.frame
	result := vm.pop()
	if frame.Ctor {
		result = f.stack[frame.Base]
	}
	vm.closeUpvalues(f, frame.Base)
	clear(f.stack[frame.Base:f.sp])
	f.sp = frame.Base
	f.frames = f.frames[:len(f.frames)-1]

	if len(f.frames) > 0 {
		vm.sync()
		vm.push(result)
		return Value{}, false
	}

	f.State = FiberFinished
	if f.Prev != 0 {
		prev := vm.heap.Get(f.Prev).Fiber
		f.Prev = 0
		vm.transfer(prev, result, "finish")
		return Value{}, false
	}
	vm.result = result
	vm.fiber = 0
	vm.sync()
	return result, true
}
