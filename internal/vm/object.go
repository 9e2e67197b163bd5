package vm

import (
	"fmt"

	"kiln/internal/bytecode"
)

// Handle is a stable reference to a heap object. It indexes the heap's
// handle table, which maps it to the object's current address; relocation
// only rewrites that table. Handle(0) is always invalid. Handles of
// reclaimed objects are recycled.
type Handle uint32

// ObjectKind identifies the kind of heap object.
type ObjectKind uint8

const (
	OKString ObjectKind = iota
	OKBuffer
	OKArray
	OKTable
	OKFunction
	OKNative
	OKClosure
	OKUpvalue
	OKClass
	OKInstance
	OKBoundMethod
	OKFiber
	OKModule
)

func (k ObjectKind) String() string {
	switch k {
	case OKString:
		return "string"
	case OKBuffer:
		return "buffer"
	case OKArray:
		return "array"
	case OKTable:
		return "table"
	case OKFunction:
		return "function"
	case OKNative:
		return "native"
	case OKClosure:
		return "closure"
	case OKUpvalue:
		return "upvalue"
	case OKClass:
		return "class"
	case OKInstance:
		return "instance"
	case OKBoundMethod:
		return "bound method"
	case OKFiber:
		return "fiber"
	case OKModule:
		return "module"
	default:
		return fmt.Sprintf("ObjectKind(%d)", k)
	}
}

// payload reports whether objects of this kind live in the payload region.
func (k ObjectKind) payload() bool {
	return k == OKString || k == OKBuffer
}

// ArrayObject is a script array: a length plus a value buffer in the
// payload region. Objs counts object-valued elements; when it is zero the
// collector does not scan the buffer.
type ArrayObject struct {
	Buf  Handle
	Len  int
	Objs int
}

// TableObject is an open-addressing hash table. Its buffer interleaves
// keys and values; Used counts live entries plus tombstones.
type TableObject struct {
	Buf   Handle
	Count int
	Used  int
}

// FunctionObject is a loaded function prototype.
type FunctionObject struct {
	Name         string
	Arity        int
	UpvalueCount int
	Chunk        *bytecode.Chunk
	Constants    []Value
	Module       Handle
}

// NativeFn is the Go entry point of a native function. args aliases the
// caller's stack and is only valid until the function returns.
type NativeFn func(vm *VM, args []Value) (Value, error)

// NativeObject is a Go function callable from scripts. Arity -1 accepts
// any number of arguments.
type NativeObject struct {
	Name  string
	Arity int
	Fn    NativeFn
}

// ClosureObject pairs a function with its captured upvalues.
type ClosureObject struct {
	Fn       Handle
	Upvalues []Handle
}

// UpvalueObject is a captured variable. While open it aliases Slot in the
// stack of Fiber; once closed it owns Closed.
type UpvalueObject struct {
	Fiber  Handle
	Slot   int
	Open   bool
	Closed Value
}

// ClassObject holds a class name and its method table.
type ClassObject struct {
	Name    Handle
	Methods Handle
}

// InstanceObject is a class instance or, with Class 0, a struct literal.
type InstanceObject struct {
	Class  Handle
	Fields Handle
}

// BoundMethodObject is a method read off an instance.
type BoundMethodObject struct {
	Receiver Value
	Method   Handle
}

// ModuleObject is a namespace for one loaded program unit.
type ModuleObject struct {
	Name Handle
	Vars Handle
}

// Object is a managed heap object. Forward doubles as the mark bit and
// the relocation target: it is non-zero exactly while the object is known
// reachable during a collection.
type Object struct {
	Kind    ObjectKind
	Self    Handle
	Size    int
	Forward int

	Str  string
	Hash uint32
	Vals []Value

	Array    ArrayObject
	Table    TableObject
	Fn       *FunctionObject
	Native   *NativeObject
	Closure  ClosureObject
	Upvalue  UpvalueObject
	Class    ClassObject
	Instance InstanceObject
	Bound    BoundMethodObject
	Fiber    *Fiber
	Module   ModuleObject
}

// Accounted sizes, in bytes, of fixed-layout objects.
const (
	sizeHeader    = 32
	sizeValue     = 16
	sizeArray     = sizeHeader + 24
	sizeTable     = sizeHeader + 24
	sizeFunction  = sizeHeader + 64
	sizeNative    = sizeHeader + 32
	sizeClosure   = sizeHeader + 32
	sizeUpvalue   = sizeHeader + 32
	sizeClass     = sizeHeader + 16
	sizeInstance  = sizeHeader + 16
	sizeBound     = sizeHeader + 24
	sizeFiber     = sizeHeader + 64
	sizeModule    = sizeHeader + 16
	sizeStringHdr = sizeHeader + 8
)

func stringSize(n int) int { return sizeStringHdr + n }

func bufferSize(n int) int { return sizeHeader + n*sizeValue }

// finalize releases Go-side resources of a reclaimed object.
func (o *Object) finalize() {
	switch o.Kind {
	case OKFiber:
		if o.Fiber != nil {
			o.Fiber.release()
		}
	case OKFunction, OKNative, OKString, OKBuffer, OKArray, OKTable, OKClosure,
		OKUpvalue, OKClass, OKInstance, OKBoundMethod, OKModule:
	default:
		panic(fmt.Sprintf("finalize: unknown object kind %s", o.Kind))
	}
	*o = Object{}
}
