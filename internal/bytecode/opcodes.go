// Package bytecode defines the instruction set and chunk layout that a
// producer hands to the kiln runtime.
package bytecode

import "fmt"

// Op is a single-byte instruction opcode.
type Op byte

// Operand layout notes:
//   - "name" operands index a string constant; narrow ops use one byte,
//     the *Long variants use a little-endian uint16.
//   - jump offsets are little-endian uint16, relative to the byte after the operands.
const (
	OpConstant     Op = iota // u8 constant
	OpConstantLong           // u16 constant
	OpNil
	OpTrue
	OpFalse
	OpPop
	OpPopN // u8 count
	OpDup

	OpGetLocal   // u8 slot
	OpSetLocal   // u8 slot
	OpGetUpvalue // u8 index
	OpSetUpvalue // u8 index
	OpCloseUpvalue

	OpDefineGlobal // u8 name
	OpDefineGlobalLong
	OpGetGlobal // u8 name
	OpGetGlobalLong
	OpSetGlobal // u8 name
	OpSetGlobalLong

	OpAdd
	OpSubtract
	OpMultiply
	OpDivide
	OpModulo
	OpNegate
	OpNot
	OpBitAnd
	OpBitOr
	OpBitXor
	OpBitNot
	OpShiftLeft
	OpShiftRight

	OpEqual
	OpNotEqual
	OpLess
	OpLessEqual
	OpGreater
	OpGreaterEqual

	OpJump        // u16 forward
	OpJumpIfFalse // u16 forward, pops the condition
	OpJumpIfTrue  // u16 forward, pops the condition
	OpLoop        // u16 backward
	OpBreak       // u8 slots to discard, u16 forward
	OpSwitch      // u8 switch table, pops the scrutinee

	OpCall       // u8 argc
	OpInvoke     // u8 name, u8 argc
	OpInvokeLong // u16 name, u8 argc
	OpClosure    // u8 function constant, then (u8 local, u8 index) per capture
	OpClosureLong
	OpReturn

	OpClass // u8 name
	OpClassLong
	OpInherit
	OpMethod // u8 name
	OpMethodLong
	OpGetProperty // u8 name
	OpGetPropertyLong
	OpSetProperty // u8 name
	OpSetPropertyLong
	OpGetSuper // u8 name
	OpGetSuperLong
	OpStruct // u8 field count

	OpArray // u8 element count
	OpIndexGet
	OpIndexSet

	OpFiberNew
	OpFiberRun // u8 argc
	OpFiberYield

	opCount
)

// Operands describes how the bytes after an opcode are laid out.
type Operands uint8

const (
	OperandsNone Operands = iota
	OperandsByte
	OperandsConst
	OperandsConstLong
	OperandsJump
	OperandsLoop
	OperandsBreak
	OperandsInvoke
	OperandsInvokeLong
	OperandsClosure
	OperandsClosureLong
)

// Info is the static description of an opcode.
type Info struct {
	Name     string
	Operands Operands
}

var infos = [opCount]Info{
	OpConstant:         {"CONSTANT", OperandsConst},
	OpConstantLong:     {"CONSTANT_LONG", OperandsConstLong},
	OpNil:              {"NIL", OperandsNone},
	OpTrue:             {"TRUE", OperandsNone},
	OpFalse:            {"FALSE", OperandsNone},
	OpPop:              {"POP", OperandsNone},
	OpPopN:             {"POPN", OperandsByte},
	OpDup:              {"DUP", OperandsNone},
	OpGetLocal:         {"GET_LOCAL", OperandsByte},
	OpSetLocal:         {"SET_LOCAL", OperandsByte},
	OpGetUpvalue:       {"GET_UPVALUE", OperandsByte},
	OpSetUpvalue:       {"SET_UPVALUE", OperandsByte},
	OpCloseUpvalue:     {"CLOSE_UPVALUE", OperandsNone},
	OpDefineGlobal:     {"DEFINE_GLOBAL", OperandsConst},
	OpDefineGlobalLong: {"DEFINE_GLOBAL_LONG", OperandsConstLong},
	OpGetGlobal:        {"GET_GLOBAL", OperandsConst},
	OpGetGlobalLong:    {"GET_GLOBAL_LONG", OperandsConstLong},
	OpSetGlobal:        {"SET_GLOBAL", OperandsConst},
	OpSetGlobalLong:    {"SET_GLOBAL_LONG", OperandsConstLong},
	OpAdd:              {"ADD", OperandsNone},
	OpSubtract:         {"SUBTRACT", OperandsNone},
	OpMultiply:         {"MULTIPLY", OperandsNone},
	OpDivide:           {"DIVIDE", OperandsNone},
	OpModulo:           {"MODULO", OperandsNone},
	OpNegate:           {"NEGATE", OperandsNone},
	OpNot:              {"NOT", OperandsNone},
	OpBitAnd:           {"BIT_AND", OperandsNone},
	OpBitOr:            {"BIT_OR", OperandsNone},
	OpBitXor:           {"BIT_XOR", OperandsNone},
	OpBitNot:           {"BIT_NOT", OperandsNone},
	OpShiftLeft:        {"SHIFT_LEFT", OperandsNone},
	OpShiftRight:       {"SHIFT_RIGHT", OperandsNone},
	OpEqual:            {"EQUAL", OperandsNone},
	OpNotEqual:         {"NOT_EQUAL", OperandsNone},
	OpLess:             {"LESS", OperandsNone},
	OpLessEqual:        {"LESS_EQUAL", OperandsNone},
	OpGreater:          {"GREATER", OperandsNone},
	OpGreaterEqual:     {"GREATER_EQUAL", OperandsNone},
	OpJump:             {"JUMP", OperandsJump},
	OpJumpIfFalse:      {"JUMP_IF_FALSE", OperandsJump},
	OpJumpIfTrue:       {"JUMP_IF_TRUE", OperandsJump},
	OpLoop:             {"LOOP", OperandsLoop},
	OpBreak:            {"BREAK", OperandsBreak},
	OpSwitch:           {"SWITCH", OperandsByte},
	OpCall:             {"CALL", OperandsByte},
	OpInvoke:           {"INVOKE", OperandsInvoke},
	OpInvokeLong:       {"INVOKE_LONG", OperandsInvokeLong},
	OpClosure:          {"CLOSURE", OperandsClosure},
	OpClosureLong:      {"CLOSURE_LONG", OperandsClosureLong},
	OpReturn:           {"RETURN", OperandsNone},
	OpClass:            {"CLASS", OperandsConst},
	OpClassLong:        {"CLASS_LONG", OperandsConstLong},
	OpInherit:          {"INHERIT", OperandsNone},
	OpMethod:           {"METHOD", OperandsConst},
	OpMethodLong:       {"METHOD_LONG", OperandsConstLong},
	OpGetProperty:      {"GET_PROPERTY", OperandsConst},
	OpGetPropertyLong:  {"GET_PROPERTY_LONG", OperandsConstLong},
	OpSetProperty:      {"SET_PROPERTY", OperandsConst},
	OpSetPropertyLong:  {"SET_PROPERTY_LONG", OperandsConstLong},
	OpGetSuper:         {"GET_SUPER", OperandsConst},
	OpGetSuperLong:     {"GET_SUPER_LONG", OperandsConstLong},
	OpStruct:           {"STRUCT", OperandsByte},
	OpArray:            {"ARRAY", OperandsByte},
	OpIndexGet:         {"INDEX_GET", OperandsNone},
	OpIndexSet:         {"INDEX_SET", OperandsNone},
	OpFiberNew:         {"FIBER_NEW", OperandsNone},
	OpFiberRun:         {"FIBER_RUN", OperandsByte},
	OpFiberYield:       {"FIBER_YIELD", OperandsNone},
}

// Lookup returns the static description of op.
func Lookup(op Op) (Info, bool) {
	if op >= opCount {
		return Info{}, false
	}
	return infos[op], true
}

// String returns the mnemonic of the opcode.
func (op Op) String() string {
	if info, ok := Lookup(op); ok {
		return info.Name
	}
	return fmt.Sprintf("Op(%d)", byte(op))
}

// Wide returns the wide-index variant of a narrow name/constant op.
func (op Op) Wide() (Op, bool) {
	switch op {
	case OpConstant, OpDefineGlobal, OpGetGlobal, OpSetGlobal, OpInvoke, OpClosure,
		OpClass, OpMethod, OpGetProperty, OpSetProperty, OpGetSuper:
		return op + 1, true
	default:
		return op, false
	}
}
