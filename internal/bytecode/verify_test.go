package bytecode

import (
	"errors"
	"strings"
	"testing"
)

func TestVerifyAcceptsBuiltCode(t *testing.T) {
	inner := NewBuilder("inner", 1).GetLocal(1).GetUpvalue(0).Op(OpAdd).Return().MustFinish()
	b := NewBuilder("", 0)
	b.Number(1)
	b.Closure(inner, Capture{Local: true, Index: 1}).DefineGlobal("inner")
	b.GetLocal(1)
	sw := b.Switch()
	one := b.Offset()
	b.String("one").Return()
	sw.CaseNumber(1, one).CaseString("x", one).End()
	j := b.Jump(OpJump)
	b.PatchJump(j)
	b.Nil().Return()
	if err := Verify(b.MustFinish()); err != nil {
		t.Fatalf("Verify: %v", err)
	}
}

func TestVerifyRejectsMalformedCode(t *testing.T) {
	tests := []struct {
		name string
		fn   *Function
		want string
	}{
		{
			name: "unknown opcode",
			fn:   &Function{Chunk: Chunk{Code: []byte{byte(opCount)}}},
			want: "unknown opcode",
		},
		{
			name: "truncated operand",
			fn:   &Function{Chunk: Chunk{Code: []byte{byte(OpConstant)}}},
			want: "truncated CONSTANT",
		},
		{
			name: "constant out of range",
			fn:   &Function{Chunk: Chunk{Code: []byte{byte(OpConstant), 3}}},
			want: "constant 3 out of range",
		},
		{
			name: "numeric name",
			fn: &Function{Chunk: Chunk{
				Code:      []byte{byte(OpGetGlobal), 0},
				Constants: []Constant{Number(1)},
			}},
			want: "is not a string",
		},
		{
			name: "jump past end",
			fn:   &Function{Chunk: Chunk{Code: []byte{byte(OpJump), 10, 0}}},
			want: "past end of code",
		},
		{
			name: "loop before start",
			fn:   &Function{Chunk: Chunk{Code: []byte{byte(OpLoop), 10, 0}}},
			want: "before start of code",
		},
		{
			name: "closure over a number",
			fn: &Function{Chunk: Chunk{
				Code:      []byte{byte(OpClosure), 0},
				Constants: []Constant{Number(1)},
			}},
			want: "is not a function",
		},
		{
			name: "missing switch table",
			fn:   &Function{Chunk: Chunk{Code: []byte{byte(OpSwitch), 0}}},
			want: "table 0 out of range",
		},
		{
			name: "switch target outside code",
			fn: &Function{Chunk: Chunk{
				Code:     []byte{byte(OpSwitch), 0},
				Switches: []SwitchTable{{Default: 40}},
			}},
			want: "default target outside the code",
		},
		{
			name: "upvalue capture out of range",
			fn: &Function{Chunk: Chunk{
				Code:      []byte{byte(OpClosure), 0, 0, 0},
				Constants: []Constant{FunctionConst(&Function{Name: "f", UpvalueCount: 1})},
			}},
			want: "captures upvalue 0 of 0",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Verify(tt.fn)
			if err == nil {
				t.Fatalf("expected an error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestVerifyReportsNestedFunction(t *testing.T) {
	bad := &Function{Name: "bad", Chunk: Chunk{Code: []byte{byte(OpConstant), 9}}}
	outer := NewBuilder("outer", 0).Closure(bad).Return().MustFinish()
	err := Verify(outer)
	var verr *VerifyError
	if !errors.As(err, &verr) || verr.Function != "bad" {
		t.Fatalf("expected a VerifyError for bad, got %v", err)
	}
}
