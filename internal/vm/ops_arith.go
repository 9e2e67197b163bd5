package vm

import (
	"math"

	"fortio.org/safecast"

	"kiln/internal/bytecode"
)

// compareEpsilon is the tolerance of the equality branch of <= and >=.
const compareEpsilon = 1e-9

func (vm *VM) numberOperand(v Value) float64 {
	if v.Kind != VKNumber {
		vm.raise(vm.eb.typeMismatch("number", vm.typeName(v)))
	}
	return v.Num
}

// intOperand truncates a numeric operand toward zero for integer ops.
func (vm *VM) intOperand(v Value) int64 {
	n, err := safecast.Truncate[int64](vm.numberOperand(v))
	if err != nil {
		vm.fail(PanicArithmetic, formatNumber(v.Num)+" is out of integer range")
	}
	return n
}

// binaryOp applies a two-operand numeric op: [a, b] -> [a op b]. Addition
// also concatenates two strings.
func (vm *VM) binaryOp(op bytecode.Op) {
	a, b := vm.peek(1), vm.peek(0)

	if op == bytecode.OpAdd && a.Kind == VKObject && b.Kind == VKObject {
		h := vm.heap
		oa, ob := h.Get(a.H), h.Get(b.H)
		if oa.Kind == OKString && ob.Kind == OKString {
			s := oa.Str + ob.Str
			result := MakeObject(h.intern(s))
			vm.popN(2)
			vm.push(result)
			return
		}
		vm.raise(vm.eb.typeMismatch("two numbers or two strings", vm.typeName(a)+" and "+vm.typeName(b)))
	}
	if a.Kind != VKNumber || b.Kind != VKNumber {
		bad := a
		if a.Kind == VKNumber {
			bad = b
		}
		vm.raise(vm.eb.typeMismatch("number", vm.typeName(bad)))
	}

	var result Value
	switch op {
	case bytecode.OpAdd:
		result = MakeNumber(a.Num + b.Num)
	case bytecode.OpSubtract:
		result = MakeNumber(a.Num - b.Num)
	case bytecode.OpMultiply:
		result = MakeNumber(a.Num * b.Num)
	case bytecode.OpDivide:
		result = MakeNumber(a.Num / b.Num)
	case bytecode.OpLess:
		result = MakeBool(a.Num < b.Num)
	case bytecode.OpGreater:
		result = MakeBool(a.Num > b.Num)
	case bytecode.OpLessEqual:
		result = MakeBool(a.Num < b.Num || approxEqual(a.Num, b.Num))
	case bytecode.OpGreaterEqual:
		result = MakeBool(a.Num > b.Num || approxEqual(a.Num, b.Num))
	default:
		result = MakeNumber(float64(vm.intBinary(op, vm.intOperand(a), vm.intOperand(b))))
	}
	vm.popN(2)
	vm.push(result)
}

func (vm *VM) intBinary(op bytecode.Op, x, y int64) int64 {
	switch op {
	case bytecode.OpModulo:
		if y == 0 {
			vm.fail(PanicArithmetic, "modulo by zero")
		}
		if y == -1 {
			return 0 // MinInt64 % -1 overflows
		}
		return x % y
	case bytecode.OpBitAnd:
		return x & y
	case bytecode.OpBitOr:
		return x | y
	case bytecode.OpBitXor:
		return x ^ y
	case bytecode.OpShiftLeft:
		if y < 0 {
			vm.fail(PanicArithmetic, "negative shift count")
		}
		return x << uint64(y)
	case bytecode.OpShiftRight:
		if y < 0 {
			vm.fail(PanicArithmetic, "negative shift count")
		}
		return x >> uint64(y)
	default:
		vm.raise(vm.eb.unimplemented("integer op " + op.String()))
		return 0
	}
}

func approxEqual(a, b float64) bool {
	return math.Abs(a-b) < compareEpsilon
}
