// Package vm implements the kiln runtime: a bytecode interpreter over a
// mark-compact managed heap, with cooperative fibers.
package vm

import (
	"fmt"
	"math"
)

// ValueKind identifies the runtime type of a Value.
type ValueKind uint8

const (
	// VKEmpty is the zero Value. It marks unused hash table slots and is
	// never visible to scripts.
	VKEmpty ValueKind = iota
	// VKNil represents nil.
	VKNil
	// VKBool represents a boolean value.
	VKBool
	// VKNumber represents a float64 number.
	VKNumber
	// VKObject represents a reference to a heap object.
	VKObject

	vkTombstone // deleted hash table slot
)

// String returns a human-readable name for the value kind.
func (k ValueKind) String() string {
	switch k {
	case VKEmpty:
		return "empty"
	case VKNil:
		return "nil"
	case VKBool:
		return "bool"
	case VKNumber:
		return "number"
	case VKObject:
		return "object"
	case vkTombstone:
		return "tombstone"
	default:
		return fmt.Sprintf("ValueKind(%d)", k)
	}
}

// Value is a runtime value. It is passed by copy; object values carry a
// stable handle that survives relocation.
type Value struct {
	Kind ValueKind
	Bool bool    // For VKBool
	Num  float64 // For VKNumber
	H    Handle  // For VKObject
}

// Nil returns the nil value.
func Nil() Value { return Value{Kind: VKNil} }

// MakeBool creates a boolean value.
func MakeBool(b bool) Value { return Value{Kind: VKBool, Bool: b} }

// MakeNumber creates a numeric value.
func MakeNumber(n float64) Value { return Value{Kind: VKNumber, Num: n} }

// MakeObject creates a reference to the heap object behind h.
func MakeObject(h Handle) Value { return Value{Kind: VKObject, H: h} }

var tombstone = Value{Kind: vkTombstone}

// IsNil reports whether v is nil. The empty value counts as nil.
func (v Value) IsNil() bool { return v.Kind == VKNil || v.Kind == VKEmpty }

// IsObject reports whether v references a heap object.
func (v Value) IsObject() bool { return v.Kind == VKObject }

// IsFalsey reports whether v is nil or false.
func (v Value) IsFalsey() bool {
	return v.IsNil() || (v.Kind == VKBool && !v.Bool)
}

// Equal compares values without coercion. Interned strings compare by
// handle, which is content equality.
func (v Value) Equal(o Value) bool {
	if v.IsNil() && o.IsNil() {
		return true
	}
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case VKBool:
		return v.Bool == o.Bool
	case VKNumber:
		return v.Num == o.Num
	case VKObject:
		return v.H == o.H
	default:
		return true
	}
}

// hashValue returns the table hash for non-string keys. Strings use the
// cached content hash of their object.
func hashValue(v Value) uint32 {
	switch v.Kind {
	case VKBool:
		if v.Bool {
			return 0x2545f491
		}
		return 0x9e3779b9
	case VKNumber:
		n := v.Num
		if n == 0 {
			n = 0 // fold -0 into +0
		}
		bits := math.Float64bits(n)
		return uint32(bits ^ (bits >> 32)) // #nosec G115 -- intentional fold
	case VKObject:
		return uint32(v.H) * 2654435761
	default:
		return 0x7f4a7c15
	}
}

func (v Value) String() string {
	switch v.Kind {
	case VKNumber:
		return formatNumber(v.Num)
	case VKBool:
		if v.Bool {
			return "true"
		}
		return "false"
	case VKObject:
		return fmt.Sprintf("object#%d", v.H)
	default:
		return v.Kind.String()
	}
}
