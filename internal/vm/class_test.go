package vm

import (
	"testing"

	"kiln/internal/bytecode"
)

func TestInheritanceCopiesMethodsDown(t *testing.T) {
	forEachHeapMode(t, func(t *testing.T, vm *VM) {
		greet := bytecode.NewBuilder("greet", 0).String("base").Return().MustFinish()
		changed := bytecode.NewBuilder("greet", 0).String("changed").Return().MustFinish()

		fn := script().
			Class("Base").Closure(greet).Method("greet").DefineGlobal("Base").
			Class("Derived").GetGlobal("Base").Op(bytecode.OpInherit).DefineGlobal("Derived").
			// Redefining the superclass method later does not reach Derived.
			GetGlobal("Base").Closure(changed).Method("greet").Op(bytecode.OpPop).
			GetGlobal("Derived").Call(0).Invoke("greet", 0).
			GetGlobal("Base").Call(0).Invoke("greet", 0).
			OpByte(bytecode.OpArray, 2).
			Return().MustFinish()
		wantRendered(t, vm, mustRun(t, vm, fn), "[base, changed]")
	})
}

func pointClass() *bytecode.Builder {
	ctor := bytecode.NewBuilder("Point", 2).
		GetLocal(0).GetLocal(1).SetProperty("x").Op(bytecode.OpPop).
		GetLocal(0).GetLocal(2).SetProperty("y").Op(bytecode.OpPop).
		Nil().Return().MustFinish()
	sum := bytecode.NewBuilder("sum", 0).
		GetLocal(0).GetProperty("x").
		GetLocal(0).GetProperty("y").
		Op(bytecode.OpAdd).Return().MustFinish()
	return script().
		Class("Point").
		Closure(ctor).Method("Point").
		Closure(sum).Method("sum").
		DefineGlobal("Point")
}

func TestConstructorAndMethods(t *testing.T) {
	forEachHeapMode(t, func(t *testing.T, vm *VM) {
		fn := pointClass().
			GetGlobal("Point").Number(3).Number(4).Call(2).Invoke("sum", 0).
			Return().MustFinish()
		wantNumber(t, mustRun(t, vm, fn), 7)

		inst := mustRun(t, vm, script().GetGlobal("Point").Number(1).Number(2).Call(2).Return().MustFinish())
		wantRendered(t, vm, inst, "<Point instance>")
		if x, ok := vm.Field(inst, "x"); !ok || x.Num != 1 {
			t.Fatalf("x = %s, %v; want 1", x, ok)
		}
	})
}

func TestConstructorArity(t *testing.T) {
	vm, _ := newTestVM(t, false)
	mustRun(t, vm, pointClass().Nil().Return().MustFinish())
	mustFail(t, vm, script().GetGlobal("Point").Number(1).Call(1).Return().MustFinish(), PanicArity)

	// Without a constructor a class takes no arguments.
	mustFail(t, vm, script().Class("Empty").Number(1).Call(1).Return().MustFinish(), PanicArity)
	wantRendered(t, vm, mustRun(t, vm, script().Class("Empty").Call(0).Return().MustFinish()), "<Empty instance>")
}

func TestBoundMethod(t *testing.T) {
	forEachHeapMode(t, func(t *testing.T, vm *VM) {
		fn := pointClass().
			GetGlobal("Point").Number(1).Number(2).Call(2).GetProperty("sum").DefineGlobal("m").
			GetGlobal("gc").Call(0).Op(bytecode.OpPop).
			GetGlobal("m").Call(0).
			Return().MustFinish()
		wantNumber(t, mustRun(t, vm, fn), 3)

		m, _ := vm.Global("m")
		wantRendered(t, vm, m, "<fn sum>")
	})
}

func TestAccessAndSetInterception(t *testing.T) {
	forEachHeapMode(t, func(t *testing.T, vm *VM) {
		ctor := bytecode.NewBuilder("Box", 0).
			GetLocal(0).Number(1).Number(2).Number(3).OpByte(bytecode.OpArray, 3).SetProperty("items").Op(bytecode.OpPop).
			Nil().Return().MustFinish()
		access := bytecode.NewBuilder("access", 1).
			GetLocal(0).GetProperty("items").GetLocal(1).Op(bytecode.OpIndexGet).
			Return().MustFinish()
		set := bytecode.NewBuilder("set", 2).
			GetLocal(0).GetProperty("items").GetLocal(1).
			GetLocal(2).Number(10).Op(bytecode.OpMultiply).
			Op(bytecode.OpIndexSet).
			Return().MustFinish()

		fn := script().
			Class("Box").
			Closure(ctor).Method("Box").
			Closure(access).Method("access").
			Closure(set).Method("set").
			DefineGlobal("Box").
			GetGlobal("Box").Call(0).DefineGlobal("b").
			GetGlobal("b").Number(0).Number(4).Op(bytecode.OpIndexSet).Op(bytecode.OpPop).
			GetGlobal("b").GetProperty("items").
			GetGlobal("b").Number(1).Op(bytecode.OpIndexGet).
			OpByte(bytecode.OpArray, 2).
			Return().MustFinish()
		wantRendered(t, vm, mustRun(t, vm, fn), "[[40, 2, 3], 2]")
	})
}

func TestStructLiteral(t *testing.T) {
	forEachHeapMode(t, func(t *testing.T, vm *VM) {
		fn := script().
			String("a").Number(1).String("b").Number(2).OpByte(bytecode.OpStruct, 2). // slot 1
			GetLocal(1).Number(5).SetProperty("c").Op(bytecode.OpPop).
			GetLocal(1).GetProperty("a").
			GetLocal(1).String("b").Op(bytecode.OpIndexGet).
			Op(bytecode.OpAdd).
			GetGlobal("len").GetLocal(1).Call(1).
			GetGlobal("type").GetLocal(1).Call(1).
			OpByte(bytecode.OpArray, 3).
			Return().MustFinish()
		wantRendered(t, vm, mustRun(t, vm, fn), "[3, 3, struct]")
	})
}

func TestSuperCall(t *testing.T) {
	forEachHeapMode(t, func(t *testing.T, vm *VM) {
		aName := bytecode.NewBuilder("name", 0).String("A").Return().MustFinish()
		bName := bytecode.NewBuilder("name", 0).
			GetLocal(0).GetGlobal("A").GetSuper("name").Call(0).
			String("B").Op(bytecode.OpAdd).
			Return().MustFinish()

		fn := script().
			Class("A").Closure(aName).Method("name").DefineGlobal("A").
			Class("B").GetGlobal("A").Op(bytecode.OpInherit).Closure(bName).Method("name").DefineGlobal("B").
			GetGlobal("B").Call(0).Invoke("name", 0).
			Return().MustFinish()
		wantString(t, vm, mustRun(t, vm, fn), "AB")
	})
}

func TestInvokeCallableField(t *testing.T) {
	vm, _ := newTestVM(t, false)
	double := bytecode.NewBuilder("double", 1).GetLocal(1).Number(2).Op(bytecode.OpMultiply).Return().MustFinish()
	fn := script().
		String("f").Closure(double).OpByte(bytecode.OpStruct, 1).
		Number(21).Invoke("f", 1).
		Return().MustFinish()
	wantNumber(t, mustRun(t, vm, fn), 42)
}

func TestPropertyErrors(t *testing.T) {
	vm, _ := newTestVM(t, false)
	e := mustFail(t, vm, script().OpByte(bytecode.OpStruct, 0).GetProperty("zzz").Return().MustFinish(), PanicUndefinedName)
	if e.Message != "undefined property 'zzz'" {
		t.Fatalf("unexpected message %q", e.Message)
	}
	mustFail(t, vm, script().Number(1).GetProperty("x").Return().MustFinish(), PanicTypeMismatch)
	mustFail(t, vm, script().Number(1).Number(2).SetProperty("x").Return().MustFinish(), PanicTypeMismatch)
	mustFail(t, vm, script().Class("C").Number(1).Op(bytecode.OpInherit).Return().MustFinish(), PanicTypeMismatch)
	mustFail(t, vm, script().OpByte(bytecode.OpStruct, 0).Invoke("nothing", 0).Return().MustFinish(), PanicUndefinedName)
	mustFail(t, vm, script().Number(1).Invoke("nothing", 0).Return().MustFinish(), PanicTypeMismatch)
}
