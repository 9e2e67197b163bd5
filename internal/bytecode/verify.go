package bytecode

import (
	"errors"
	"fmt"
)

// VerifyError reports malformed code at one instruction.
type VerifyError struct {
	Function string
	Offset   int
	Reason   string
}

func (e *VerifyError) Error() string {
	return fmt.Sprintf("%s@%04d: %s", e.Function, e.Offset, e.Reason)
}

// Verify checks that fn and its nested functions are structurally sound:
// every opcode is known, operands lie inside the code, constant and switch
// indices are in range, name operands are strings, closure operands are
// functions and jumps land inside the code. It does not check stack
// discipline; the runtime reports underflow itself.
func Verify(fn *Function) error {
	if fn == nil {
		return errors.New("bytecode: nil function")
	}
	if fn.Arity < 0 || fn.Arity > 255 || fn.UpvalueCount < 0 || fn.UpvalueCount > 255 {
		return &VerifyError{Function: fn.DisplayName(), Reason: fmt.Sprintf("bad signature (arity %d, upvalues %d)", fn.Arity, fn.UpvalueCount)}
	}
	c := &fn.Chunk
	fail := func(offset int, format string, args ...any) error {
		return &VerifyError{Function: fn.DisplayName(), Offset: offset, Reason: fmt.Sprintf(format, args...)}
	}
	n := len(c.Code)

	for offset := 0; offset < n; {
		op := Op(c.Code[offset])
		info, ok := Lookup(op)
		if !ok {
			return fail(offset, "unknown opcode %d", c.Code[offset])
		}
		size := InstructionLen(c, offset)
		if offset+size > n {
			return fail(offset, "truncated %s", info.Name)
		}

		switch info.Operands {
		case OperandsConst, OperandsConstLong, OperandsInvoke, OperandsInvokeLong:
			idx := int(c.Code[offset+1])
			if info.Operands == OperandsConstLong || info.Operands == OperandsInvokeLong {
				idx = c.ReadU16(offset + 1)
			}
			if idx >= len(c.Constants) {
				return fail(offset, "%s: constant %d out of range", info.Name, idx)
			}
			if op != OpConstant && op != OpConstantLong && c.Constants[idx].Kind != ConstString {
				return fail(offset, "%s: name operand %d is not a string", info.Name, idx)
			}
		case OperandsJump:
			if target := offset + 3 + c.ReadU16(offset+1); target > n {
				return fail(offset, "%s: target %d past end of code", info.Name, target)
			}
		case OperandsLoop:
			if target := offset + 3 - c.ReadU16(offset+1); target < 0 {
				return fail(offset, "%s: target %d before start of code", info.Name, target)
			}
		case OperandsBreak:
			if target := offset + 4 + c.ReadU16(offset+2); target > n {
				return fail(offset, "%s: target %d past end of code", info.Name, target)
			}
		case OperandsClosure, OperandsClosureLong:
			idx, at := int(c.Code[offset+1]), offset+2
			if info.Operands == OperandsClosureLong {
				idx, at = c.ReadU16(offset+1), offset+3
			}
			if idx >= len(c.Constants) || c.Constants[idx].Kind != ConstFunction || c.Constants[idx].Fn == nil {
				return fail(offset, "%s: constant %d is not a function", info.Name, idx)
			}
			for ; at < offset+size; at += 2 {
				local, index := c.Code[at], int(c.Code[at+1])
				if local > 1 {
					return fail(at, "capture flag %d", local)
				}
				if local == 0 && index >= fn.UpvalueCount {
					return fail(at, "captures upvalue %d of %d", index, fn.UpvalueCount)
				}
			}
		case OperandsByte:
			if op == OpSwitch {
				if err := verifySwitch(c, offset, fail); err != nil {
					return err
				}
			}
		}
		offset += size
	}

	for i, k := range c.Constants {
		if k.Kind != ConstFunction {
			continue
		}
		if err := Verify(k.Fn); err != nil {
			return fmt.Errorf("%s constant %d: %w", fn.DisplayName(), i, err)
		}
	}
	return nil
}

func verifySwitch(c *Chunk, offset int, fail func(int, string, ...any) error) error {
	idx := int(c.Code[offset+1])
	if idx >= len(c.Switches) {
		return fail(offset, "SWITCH: table %d out of range", idx)
	}
	t := &c.Switches[idx]
	base := offset + 2
	inside := func(rel int) bool { return base+rel >= 0 && base+rel <= len(c.Code) }
	if len(t.Numbers) != len(t.NumberTargets) {
		return fail(offset, "SWITCH: %d numeric keys with %d targets", len(t.Numbers), len(t.NumberTargets))
	}
	for i := 1; i < len(t.Numbers); i++ {
		if t.Numbers[i-1] >= t.Numbers[i] {
			return fail(offset, "SWITCH: numeric keys are not sorted")
		}
	}
	if !inside(t.Default) {
		return fail(offset, "SWITCH: default target outside the code")
	}
	for _, rel := range t.NumberTargets {
		if !inside(rel) {
			return fail(offset, "SWITCH: case target outside the code")
		}
	}
	for key, rel := range t.Strings {
		if !inside(rel) {
			return fail(offset, "SWITCH: case %q target outside the code", key)
		}
	}
	return nil
}
