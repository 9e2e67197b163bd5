package bytecode

import (
	"fmt"

	"fortio.org/safecast"
)

// Capture describes one upvalue of a closure: either a local slot of the
// enclosing frame or an upvalue of the enclosing closure.
type Capture struct {
	Local bool
	Index int
}

// Builder assembles a Function. Operand overflow is recorded as the first
// error and reported by Finish; later emits become no-ops.
type Builder struct {
	fn   *Function
	line int
	err  error
}

// NewBuilder starts a function with the given name and arity.
func NewBuilder(name string, arity int) *Builder {
	return &Builder{fn: &Function{Name: name, Arity: arity}, line: 1}
}

// Line sets the source line attributed to subsequent instructions.
func (b *Builder) Line(line int) *Builder {
	b.line = line
	return b
}

// Offset returns the offset of the next emitted byte.
func (b *Builder) Offset() int { return len(b.fn.Chunk.Code) }

func (b *Builder) fail(err error) {
	if b.err == nil {
		b.err = err
	}
}

func (b *Builder) emit(bytes ...byte) {
	if b.err != nil {
		return
	}
	for _, x := range bytes {
		b.fn.Chunk.Write(x, b.line)
	}
}

func (b *Builder) u8(what string, n int) byte {
	v, err := safecast.Conv[uint8](n)
	if err != nil {
		b.fail(fmt.Errorf("%s %s: %d does not fit in one byte: %w", b.fn.DisplayName(), what, n, err))
	}
	return v
}

func (b *Builder) u16(what string, n int) (lo, hi byte) {
	v, err := safecast.Conv[uint16](n)
	if err != nil {
		b.fail(fmt.Errorf("%s %s: %d does not fit in two bytes: %w", b.fn.DisplayName(), what, n, err))
	}
	return byte(v), byte(v >> 8)
}

// Op emits an opcode with no operands.
func (b *Builder) Op(op Op) *Builder {
	b.emit(byte(op))
	return b
}

// OpByte emits an opcode with a single byte operand.
func (b *Builder) OpByte(op Op, n int) *Builder {
	arg := b.u8(op.String(), n)
	b.emit(byte(op), arg)
	return b
}

// indexed emits op with a constant index, switching to the wide variant
// when the index does not fit in one byte.
func (b *Builder) indexed(op Op, index int, extra ...byte) {
	if index <= 0xff {
		b.emit(append([]byte{byte(op), byte(index)}, extra...)...)
		return
	}
	wide, ok := op.Wide()
	if !ok {
		b.fail(fmt.Errorf("%s: %s has no wide form for index %d", b.fn.DisplayName(), op, index))
		return
	}
	lo, hi := b.u16(wide.String(), index)
	b.emit(append([]byte{byte(wide), lo, hi}, extra...)...)
}

// Constant pushes a constant pool entry.
func (b *Builder) Constant(k Constant) *Builder {
	b.indexed(OpConstant, b.fn.Chunk.AddConstant(k))
	return b
}

// Number pushes a numeric constant.
func (b *Builder) Number(n float64) *Builder { return b.Constant(Number(n)) }

// String pushes a string constant.
func (b *Builder) String(s string) *Builder { return b.Constant(String(s)) }

// Nil pushes nil.
func (b *Builder) Nil() *Builder { return b.Op(OpNil) }

// Bool pushes true or false.
func (b *Builder) Bool(v bool) *Builder {
	if v {
		return b.Op(OpTrue)
	}
	return b.Op(OpFalse)
}

func (b *Builder) named(op Op, name string, extra ...byte) *Builder {
	b.indexed(op, b.fn.Chunk.AddConstant(String(name)), extra...)
	return b
}

// DefineGlobal binds the top of the stack to name in the module namespace.
func (b *Builder) DefineGlobal(name string) *Builder { return b.named(OpDefineGlobal, name) }

// GetGlobal pushes a module or VM-wide global.
func (b *Builder) GetGlobal(name string) *Builder { return b.named(OpGetGlobal, name) }

// SetGlobal assigns an existing global.
func (b *Builder) SetGlobal(name string) *Builder { return b.named(OpSetGlobal, name) }

// GetProperty reads a field or binds a method.
func (b *Builder) GetProperty(name string) *Builder { return b.named(OpGetProperty, name) }

// SetProperty writes a field.
func (b *Builder) SetProperty(name string) *Builder { return b.named(OpSetProperty, name) }

// Class pushes a new class.
func (b *Builder) Class(name string) *Builder { return b.named(OpClass, name) }

// Method attaches the closure on top of the stack to the class below it.
func (b *Builder) Method(name string) *Builder { return b.named(OpMethod, name) }

// GetSuper binds a superclass method to the receiver.
func (b *Builder) GetSuper(name string) *Builder { return b.named(OpGetSuper, name) }

// Invoke calls a method on the receiver below argc arguments.
func (b *Builder) Invoke(name string, argc int) *Builder {
	return b.named(OpInvoke, name, b.u8("argument count", argc))
}

// GetLocal pushes a frame slot.
func (b *Builder) GetLocal(slot int) *Builder { return b.OpByte(OpGetLocal, slot) }

// SetLocal stores the top of the stack into a frame slot.
func (b *Builder) SetLocal(slot int) *Builder { return b.OpByte(OpSetLocal, slot) }

// GetUpvalue pushes a captured variable.
func (b *Builder) GetUpvalue(index int) *Builder { return b.OpByte(OpGetUpvalue, index) }

// SetUpvalue stores into a captured variable.
func (b *Builder) SetUpvalue(index int) *Builder { return b.OpByte(OpSetUpvalue, index) }

// Call calls the callee below argc arguments.
func (b *Builder) Call(argc int) *Builder { return b.OpByte(OpCall, argc) }

// Return returns the top of the stack.
func (b *Builder) Return() *Builder { return b.Op(OpReturn) }

// Jump emits a forward jump with a placeholder offset and returns the
// position to hand to PatchJump.
func (b *Builder) Jump(op Op) int {
	b.emit(byte(op), 0xff, 0xff)
	return b.Offset() - 2
}

// PatchJump points the jump at pos to the next emitted byte.
func (b *Builder) PatchJump(pos int) {
	if b.err != nil {
		return
	}
	lo, hi := b.u16("jump", b.Offset()-pos-2)
	b.fn.Chunk.Code[pos] = lo
	b.fn.Chunk.Code[pos+1] = hi
}

// Break discards pops stack slots and jumps forward; patch with PatchJump.
func (b *Builder) Break(pops int) int {
	b.emit(byte(OpBreak), b.u8("break pops", pops), 0xff, 0xff)
	return b.Offset() - 2
}

// Loop jumps back to start.
func (b *Builder) Loop(start int) *Builder {
	lo, hi := b.u16("loop", b.Offset()-start+3)
	b.emit(byte(OpLoop), lo, hi)
	return b
}

// Closure wraps fn in a closure capturing the given variables.
func (b *Builder) Closure(fn *Function, captures ...Capture) *Builder {
	if len(captures) != fn.UpvalueCount {
		fn.UpvalueCount = len(captures)
	}
	extra := make([]byte, 0, 2*len(captures))
	for _, c := range captures {
		local := byte(0)
		if c.Local {
			local = 1
		}
		extra = append(extra, local, b.u8("capture index", c.Index))
	}
	b.indexed(OpClosure, b.fn.Chunk.AddConstant(FunctionConst(fn)), extra...)
	return b
}

// SwitchBuilder collects the cases of one OpSwitch.
type SwitchBuilder struct {
	b       *Builder
	index   int
	base    int
	table   SwitchTable
	settled bool
}

// Switch emits OpSwitch and returns a builder for its cases. Case targets
// are absolute offsets, typically taken from Offset.
func (b *Builder) Switch() *SwitchBuilder {
	index := len(b.fn.Chunk.Switches)
	b.fn.Chunk.Switches = append(b.fn.Chunk.Switches, SwitchTable{})
	b.emit(byte(OpSwitch), b.u8("switch table", index))
	return &SwitchBuilder{b: b, index: index, base: b.Offset()}
}

// CaseNumber maps a numeric key to target.
func (s *SwitchBuilder) CaseNumber(n float64, target int) *SwitchBuilder {
	s.table.Numbers = append(s.table.Numbers, n)
	s.table.NumberTargets = append(s.table.NumberTargets, target-s.base)
	return s
}

// CaseString maps a string key to target.
func (s *SwitchBuilder) CaseString(key string, target int) *SwitchBuilder {
	if s.table.Strings == nil {
		s.table.Strings = make(map[string]int)
	}
	s.table.Strings[key] = target - s.base
	return s
}

// Default sets the fallback target.
func (s *SwitchBuilder) Default(target int) *SwitchBuilder {
	s.table.Default = target - s.base
	s.settled = true
	return s
}

// End stores the table. Without an explicit default, unmatched values
// continue at the current offset (end of the statement).
func (s *SwitchBuilder) End() {
	if !s.settled {
		s.table.Default = s.b.Offset() - s.base
	}
	s.table.sortNumbers()
	s.b.fn.Chunk.Switches[s.index] = s.table
}

// Finish returns the assembled function.
func (b *Builder) Finish() (*Function, error) {
	if b.err != nil {
		return nil, b.err
	}
	return b.fn, nil
}

// MustFinish is Finish for statically known programs.
func (b *Builder) MustFinish() *Function {
	fn, err := b.Finish()
	if err != nil {
		panic(err)
	}
	return fn
}
