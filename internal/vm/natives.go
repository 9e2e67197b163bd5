package vm

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"fortio.org/safecast"
)

// NativeError is the textual error a native returns to fail the current
// call. The runtime prefixes it with the native's name.
type NativeError string

func (e NativeError) Error() string { return string(e) }

// ErrReported tells the runtime that the native already recorded the error
// with ReportError and the call should just unwind.
const ErrReported NativeError = ""

// ReportError records a runtime error for the running native. The native
// must then return ErrReported.
func (vm *VM) ReportError(code PanicCode, msg string) error {
	vm.pending = vm.eb.makeError(code, msg)
	return ErrReported
}

func registerCoreNatives(vm *VM) {
	vm.DefineNative("print", -1, nativePrint)
	vm.DefineNative("str", 1, func(vm *VM, args []Value) (Value, error) {
		return vm.NewString(vm.ToString(args[0])), nil
	})
	vm.DefineNative("type", 1, func(vm *VM, args []Value) (Value, error) {
		return vm.NewString(vm.typeName(args[0])), nil
	})
	vm.DefineNative("len", 1, nativeLen)
	vm.DefineNative("clock", 0, func(vm *VM, _ []Value) (Value, error) {
		return MakeNumber(time.Since(vm.start).Seconds()), nil
	})
	vm.DefineNative("push", 2, func(vm *VM, args []Value) (Value, error) {
		a, err := vm.arrayArg(args[0])
		if err != nil {
			return Nil(), err
		}
		vm.heap.arrayPush(a, args[1])
		return args[0], nil
	})
	vm.DefineNative("pop", 1, func(vm *VM, args []Value) (Value, error) {
		a, err := vm.arrayArg(args[0])
		if err != nil {
			return Nil(), err
		}
		v, ok := vm.heap.arrayPop(a)
		if !ok {
			return Nil(), vm.ReportError(PanicOutOfBounds, "pop from an empty array")
		}
		return v, nil
	})
	vm.DefineNative("insert", 3, func(vm *VM, args []Value) (Value, error) {
		a, err := vm.arrayArg(args[0])
		if err != nil {
			return Nil(), err
		}
		i, err := intArg(args[1])
		if err != nil {
			return Nil(), err
		}
		if err := vm.heap.arrayInsert(a, i, args[2]); err != nil {
			return Nil(), vm.ReportError(PanicOutOfBounds, err.Error())
		}
		return args[0], nil
	})
	vm.DefineNative("remove", 2, func(vm *VM, args []Value) (Value, error) {
		a, err := vm.arrayArg(args[0])
		if err != nil {
			return Nil(), err
		}
		i, err := intArg(args[1])
		if err != nil {
			return Nil(), err
		}
		v, err := vm.heap.arrayRemove(a, i)
		if err != nil {
			return Nil(), vm.ReportError(PanicOutOfBounds, err.Error())
		}
		return v, nil
	})
	vm.DefineNative("resize", 2, func(vm *VM, args []Value) (Value, error) {
		a, err := vm.arrayArg(args[0])
		if err != nil {
			return Nil(), err
		}
		n, err := intArg(args[1])
		if err != nil {
			return Nil(), err
		}
		if err := vm.heap.arrayResize(a, n); err != nil {
			return Nil(), NativeError(err.Error())
		}
		return args[0], nil
	})
	vm.DefineNative("gc", 0, func(vm *VM, _ []Value) (Value, error) {
		vm.Collect()
		return MakeNumber(float64(vm.heap.counters.collections)), nil
	})
	vm.DefineNative("done", 1, func(vm *VM, args []Value) (Value, error) {
		done, err := vm.FiberDone(args[0])
		return MakeBool(done), err
	})
	vm.DefineNative("error", 1, func(vm *VM, args []Value) (Value, error) {
		return Nil(), NativeError(vm.ToString(args[0]))
	})
}

func nativePrint(vm *VM, args []Value) (Value, error) {
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = vm.ToString(a)
	}
	if _, err := io.WriteString(vm.stdout, strings.Join(parts, " ")+"\n"); err != nil {
		return Nil(), NativeError(err.Error())
	}
	return Nil(), nil
}

func nativeLen(vm *VM, args []Value) (Value, error) {
	v := args[0]
	if kind, ok := vm.heap.kindOf(v); ok {
		switch kind {
		case OKString:
			return MakeNumber(float64(len(vm.heap.str(v.H)))), nil
		case OKArray:
			return MakeNumber(float64(vm.heap.arrayLen(v.H))), nil
		case OKInstance:
			return MakeNumber(float64(vm.heap.tableLen(vm.heap.Get(v.H).Instance.Fields))), nil
		}
	}
	return Nil(), NativeError("expected string, array or instance, got " + vm.typeName(v))
}

func (vm *VM) arrayArg(v Value) (Handle, error) {
	if kind, ok := vm.heap.kindOf(v); !ok || kind != OKArray {
		return 0, NativeError("expected array, got " + vm.typeName(v))
	}
	return v.H, nil
}

func intArg(v Value) (int, error) {
	if v.Kind != VKNumber {
		return 0, NativeError("expected integer, got " + v.Kind.String())
	}
	i, err := safecast.Convert[int](v.Num)
	if err != nil {
		return 0, NativeError(formatNumber(v.Num) + " is not an integer")
	}
	return i, nil
}

func formatNumber(n float64) string {
	return strconv.FormatFloat(n, 'g', -1, 64)
}

// typeName describes v for error messages and the type native.
func (vm *VM) typeName(v Value) string {
	switch v.Kind {
	case VKEmpty, VKNil:
		return "nil"
	case VKBool:
		return "bool"
	case VKNumber:
		return "number"
	case VKObject:
		obj, ok := vm.heap.lookup(v.H)
		if !ok {
			return "invalid"
		}
		switch obj.Kind {
		case OKClosure, OKNative, OKBoundMethod, OKFunction:
			return "function"
		case OKInstance:
			if obj.Instance.Class == 0 {
				return "struct"
			}
			return vm.heap.str(vm.heap.Get(obj.Instance.Class).Class.Name)
		default:
			return obj.Kind.String()
		}
	default:
		return v.Kind.String()
	}
}

// GoString returns the contents of a string value.
func (vm *VM) GoString(v Value) (string, bool) {
	if kind, ok := vm.heap.kindOf(v); !ok || kind != OKString {
		return "", false
	}
	return vm.heap.Get(v.H).Str, true
}

// ArrayValues returns a copy of the elements of an array value.
func (vm *VM) ArrayValues(v Value) ([]Value, bool) {
	if kind, ok := vm.heap.kindOf(v); !ok || kind != OKArray {
		return nil, false
	}
	return append([]Value(nil), vm.heap.arrayValues(v.H)...), true
}

// Field reads a field of an instance value by name.
func (vm *VM) Field(v Value, name string) (Value, bool) {
	if kind, ok := vm.heap.kindOf(v); !ok || kind != OKInstance {
		return Nil(), false
	}
	mark := vm.heap.cache(v)
	key := vm.NewString(name)
	vm.heap.uncache(mark)
	return vm.heap.tableGet(vm.heap.Get(v.H).Instance.Fields, key)
}

// ToString renders v the way print does.
func (vm *VM) ToString(v Value) string {
	var sb strings.Builder
	vm.writeValue(&sb, v, 0)
	return sb.String()
}

const maxPrintDepth = 8

func (vm *VM) writeValue(sb *strings.Builder, v Value, depth int) {
	if v.Kind != VKObject {
		if v.IsNil() {
			sb.WriteString("nil")
			return
		}
		sb.WriteString(v.String())
		return
	}
	h := vm.heap
	obj, ok := h.lookup(v.H)
	if !ok {
		fmt.Fprintf(sb, "<invalid #%d>", v.H)
		return
	}
	switch obj.Kind {
	case OKString:
		sb.WriteString(obj.Str)
	case OKArray:
		if depth >= maxPrintDepth {
			sb.WriteString("[...]")
			return
		}
		sb.WriteByte('[')
		for i, e := range h.arrayValues(v.H) {
			if i > 0 {
				sb.WriteString(", ")
			}
			vm.writeValue(sb, e, depth+1)
		}
		sb.WriteByte(']')
	case OKFunction:
		fmt.Fprintf(sb, "<fn %s>", obj.Fn.Name)
	case OKClosure:
		fmt.Fprintf(sb, "<fn %s>", h.Get(obj.Closure.Fn).Fn.Name)
	case OKBoundMethod:
		fmt.Fprintf(sb, "<fn %s>", h.Get(h.Get(obj.Bound.Method).Closure.Fn).Fn.Name)
	case OKNative:
		fmt.Fprintf(sb, "<native %s>", obj.Native.Name)
	case OKClass:
		fmt.Fprintf(sb, "<class %s>", h.str(obj.Class.Name))
	case OKInstance:
		if obj.Instance.Class != 0 {
			fmt.Fprintf(sb, "<%s instance>", h.str(h.Get(obj.Instance.Class).Class.Name))
			return
		}
		if depth >= maxPrintDepth {
			sb.WriteString("{...}")
			return
		}
		keys, vals := h.tableEntries(obj.Instance.Fields)
		sb.WriteByte('{')
		for i := range keys {
			if i > 0 {
				sb.WriteString(", ")
			}
			vm.writeValue(sb, keys[i], depth+1)
			sb.WriteString(": ")
			vm.writeValue(sb, vals[i], depth+1)
		}
		sb.WriteByte('}')
	case OKFiber:
		fmt.Fprintf(sb, "<fiber %s>", obj.Fiber.State)
	case OKModule:
		fmt.Fprintf(sb, "<module %s>", h.str(obj.Module.Name))
	default:
		fmt.Fprintf(sb, "<%s>", obj.Kind)
	}
}
