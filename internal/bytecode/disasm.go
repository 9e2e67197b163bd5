package bytecode

import (
	"fmt"
	"io"
	"strconv"
)

// Disassemble writes a listing of fn and every nested function constant.
func Disassemble(w io.Writer, fn *Function) error {
	if _, err := fmt.Fprintf(w, "== %s (arity %d, upvalues %d) ==\n", fn.DisplayName(), fn.Arity, fn.UpvalueCount); err != nil {
		return err
	}
	c := &fn.Chunk
	for offset := 0; offset < len(c.Code); {
		line, next := DisassembleInstruction(c, offset)
		if _, err := io.WriteString(w, line+"\n"); err != nil {
			return err
		}
		offset = next
	}
	for _, k := range c.Constants {
		if k.Kind != ConstFunction || k.Fn == nil {
			continue
		}
		if _, err := io.WriteString(w, "\n"); err != nil {
			return err
		}
		if err := Disassemble(w, k.Fn); err != nil {
			return err
		}
	}
	return nil
}

// DisassembleInstruction renders the instruction at offset and returns the
// offset of the next one.
func DisassembleInstruction(c *Chunk, offset int) (string, int) {
	prefix := fmt.Sprintf("%04d %4d ", offset, c.LineAt(offset))
	if offset > 0 && c.LineAt(offset) == c.LineAt(offset-1) {
		prefix = fmt.Sprintf("%04d    | ", offset)
	}
	op := Op(c.Code[offset])
	info, ok := Lookup(op)
	if !ok {
		return prefix + fmt.Sprintf("unknown opcode %d", byte(op)), offset + 1
	}
	size := InstructionLen(c, offset)
	if offset+size > len(c.Code) {
		return prefix + fmt.Sprintf("%-18s <truncated>", info.Name), len(c.Code)
	}
	switch info.Operands {
	case OperandsNone:
		return prefix + info.Name, offset + size
	case OperandsByte:
		return prefix + fmt.Sprintf("%-18s %4d", info.Name, c.Code[offset+1]), offset + size
	case OperandsConst, OperandsConstLong:
		idx := int(c.Code[offset+1])
		if info.Operands == OperandsConstLong {
			idx = c.ReadU16(offset + 1)
		}
		return prefix + fmt.Sprintf("%-18s %4d %s", info.Name, idx, constantString(c, idx)), offset + size
	case OperandsJump:
		jump := c.ReadU16(offset + 1)
		return prefix + fmt.Sprintf("%-18s %4d -> %d", info.Name, offset, offset+3+jump), offset + size
	case OperandsLoop:
		jump := c.ReadU16(offset + 1)
		return prefix + fmt.Sprintf("%-18s %4d -> %d", info.Name, offset, offset+3-jump), offset + size
	case OperandsBreak:
		jump := c.ReadU16(offset + 2)
		return prefix + fmt.Sprintf("%-18s %4d pop %d -> %d", info.Name, offset, c.Code[offset+1], offset+4+jump), offset + size
	case OperandsInvoke, OperandsInvokeLong:
		idx, argc := int(c.Code[offset+1]), c.Code[offset+2]
		if info.Operands == OperandsInvokeLong {
			idx, argc = c.ReadU16(offset+1), c.Code[offset+3]
		}
		return prefix + fmt.Sprintf("%-18s (%d args) %4d %s", info.Name, argc, idx, constantString(c, idx)), offset + size
	case OperandsClosure, OperandsClosureLong:
		idx, at := int(c.Code[offset+1]), offset+2
		if info.Operands == OperandsClosureLong {
			idx, at = c.ReadU16(offset+1), offset+3
		}
		out := prefix + fmt.Sprintf("%-18s %4d %s", info.Name, idx, constantString(c, idx))
		for ; at+1 < offset+size; at += 2 {
			kind := "upvalue"
			if c.Code[at] == 1 {
				kind = "local"
			}
			out += fmt.Sprintf("\n%04d    |                      %s %d", at, kind, c.Code[at+1])
		}
		return out, offset + size
	}
	return prefix + info.Name, offset + size
}

// InstructionLen returns the encoded size of the instruction at offset,
// including closure capture pairs.
func InstructionLen(c *Chunk, offset int) int {
	info, ok := Lookup(Op(c.Code[offset]))
	if !ok {
		return 1
	}
	switch info.Operands {
	case OperandsByte, OperandsConst:
		return 2
	case OperandsConstLong, OperandsJump, OperandsLoop, OperandsInvoke:
		return 3
	case OperandsBreak, OperandsInvokeLong:
		return 4
	case OperandsClosure, OperandsClosureLong:
		head := 2
		idx := 0
		if info.Operands == OperandsClosureLong {
			head = 3
			if offset+2 < len(c.Code) {
				idx = c.ReadU16(offset + 1)
			}
		} else if offset+1 < len(c.Code) {
			idx = int(c.Code[offset+1])
		}
		if idx < len(c.Constants) && c.Constants[idx].Fn != nil {
			return head + 2*c.Constants[idx].Fn.UpvalueCount
		}
		return head
	default:
		return 1
	}
}

func constantString(c *Chunk, idx int) string {
	if idx >= len(c.Constants) {
		return "<bad constant>"
	}
	k := c.Constants[idx]
	switch k.Kind {
	case ConstNil:
		return "nil"
	case ConstBool:
		return strconv.FormatBool(k.Bool)
	case ConstNumber:
		return strconv.FormatFloat(k.Num, 'g', -1, 64)
	case ConstString:
		return strconv.Quote(k.Str)
	case ConstFunction:
		return "<fn " + k.Fn.DisplayName() + ">"
	default:
		return "?"
	}
}
