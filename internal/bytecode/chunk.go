package bytecode

import (
	"encoding/binary"
	"math"
	"sort"
)

// ConstKind identifies the kind of a constant pool entry.
type ConstKind uint8

const (
	ConstNil ConstKind = iota
	ConstBool
	ConstNumber
	ConstString
	ConstFunction
)

// Constant is a constant pool entry. Strings are interned by the runtime
// when the function is loaded; functions become heap function objects.
type Constant struct {
	Kind ConstKind `msgpack:"k"`
	Bool bool      `msgpack:"b,omitempty"`
	Num  float64   `msgpack:"n"` // no omitempty: -0 must keep its sign
	Str  string    `msgpack:"s,omitempty"`
	Fn   *Function `msgpack:"f,omitempty"`
}

// Number makes a numeric constant.
func Number(n float64) Constant { return Constant{Kind: ConstNumber, Num: n} }

// String makes a string constant.
func String(s string) Constant { return Constant{Kind: ConstString, Str: s} }

// Bool makes a boolean constant.
func Bool(b bool) Constant { return Constant{Kind: ConstBool, Bool: b} }

// FunctionConst makes a function constant.
func FunctionConst(fn *Function) Constant { return Constant{Kind: ConstFunction, Fn: fn} }

// LineRun marks the first code offset that belongs to Line.
type LineRun struct {
	Offset int `msgpack:"o"`
	Line   int `msgpack:"l"`
}

// Chunk is the instruction stream of one function plus its side tables.
type Chunk struct {
	Code      []byte        `msgpack:"code"`
	Lines     []LineRun     `msgpack:"lines"`
	Constants []Constant    `msgpack:"consts"`
	Switches  []SwitchTable `msgpack:"switches,omitempty"`
}

// Write appends one byte attributed to line.
func (c *Chunk) Write(b byte, line int) {
	if n := len(c.Lines); n == 0 || c.Lines[n-1].Line != line {
		c.Lines = append(c.Lines, LineRun{Offset: len(c.Code), Line: line})
	}
	c.Code = append(c.Code, b)
}

// AddConstant appends k to the pool, reusing an equal scalar entry.
func (c *Chunk) AddConstant(k Constant) int {
	if k.Kind != ConstFunction {
		for i, existing := range c.Constants {
			if existing.Kind == k.Kind && existing.Bool == k.Bool && math.Float64bits(existing.Num) == math.Float64bits(k.Num) && existing.Str == k.Str && existing.Fn == nil {
				return i
			}
		}
	}
	c.Constants = append(c.Constants, k)
	return len(c.Constants) - 1
}

// LineAt returns the source line of the instruction byte at offset.
func (c *Chunk) LineAt(offset int) int {
	if len(c.Lines) == 0 {
		return 0
	}
	i := sort.Search(len(c.Lines), func(i int) bool { return c.Lines[i].Offset > offset })
	if i == 0 {
		return c.Lines[0].Line
	}
	return c.Lines[i-1].Line
}

// ReadU16 decodes a little-endian operand at offset.
func (c *Chunk) ReadU16(offset int) int {
	return int(binary.LittleEndian.Uint16(c.Code[offset:]))
}

// Function is a compiled function prototype: the unit a producer hands to
// the runtime.
type Function struct {
	Name         string `msgpack:"name"`
	Arity        int    `msgpack:"arity"`
	UpvalueCount int    `msgpack:"upvalues"`
	Chunk        Chunk  `msgpack:"chunk"`
}

// DisplayName returns the function name used in traces.
func (f *Function) DisplayName() string {
	if f == nil || f.Name == "" {
		return "script"
	}
	return f.Name
}
