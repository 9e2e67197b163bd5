package vm

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"testing"
)

// checkHeap verifies the handle table and region bookkeeping after a
// collection.
func checkHeap(t *testing.T, h *Heap) {
	t.Helper()
	for id, r := range h.regions {
		used := 0
		for addr := 1; addr < len(r.objs); addr++ {
			obj := &r.objs[addr]
			if obj.Forward != 0 {
				t.Fatalf("%s[%d]: forwarding address left set", r.name, addr)
			}
			loc := h.handles[obj.Self]
			if int(loc.region) != id || loc.addr != addr {
				t.Fatalf("%s[%d]: handle %d maps to region %d addr %d", r.name, addr, obj.Self, loc.region, loc.addr)
			}
			used += obj.Size
		}
		if used != r.used {
			t.Fatalf("%s: used %d, objects account for %d", r.name, r.used, used)
		}
	}
}

func expectPanic(t *testing.T, code PanicCode, fn func()) *VMError {
	t.Helper()
	var got *VMError
	func() {
		defer func() {
			r := recover()
			if r == nil {
				return
			}
			e, ok := r.(*VMError)
			if !ok {
				t.Fatalf("unexpected panic type: %T (%v)", r, r)
			}
			got = e
		}()
		fn()
	}()
	if got == nil {
		t.Fatalf("expected %s panic, got none", code)
	}
	if got.Code != code {
		t.Fatalf("expected %s, got %s: %s", code, got.Code, got.Message)
	}
	return got
}

func TestInternReturnsSameHandle(t *testing.T) {
	h := NewHeap(DefaultHeapOptions())
	a := h.intern("abc")
	b := h.intern("abc")
	if a != b {
		t.Fatalf("intern returned %d and %d for equal contents", a, b)
	}
	if c := h.intern("abd"); c == a {
		t.Fatalf("distinct contents share handle %d", c)
	}
}

func TestInternTableIsWeak(t *testing.T) {
	h := NewHeap(DefaultHeapOptions())
	keep := h.intern("keep")
	mark := h.cacheHandle(keep)
	defer h.uncache(mark)
	lost := h.intern("lost")

	before := h.internedCount()
	h.collect("test")
	checkHeap(t, h)

	if got := h.internedCount(); got != before-1 {
		t.Fatalf("interned count %d after collection, want %d", got, before-1)
	}
	if found := h.findInterned("lost", hashString("lost")); found != 0 {
		t.Fatalf("dead string still interned as %d", found)
	}
	if found := h.findInterned("keep", hashString("keep")); found != keep {
		t.Fatalf("live string lookup = %d, want %d", found, keep)
	}
	expectPanic(t, PanicInvalidHandle, func() { h.Get(lost) })

	// Re-interning after the sweep yields a fresh, canonical string.
	again := h.intern("lost")
	if h.str(again) != "lost" || h.intern("lost") != again {
		t.Fatalf("re-interned string is not canonical")
	}
}

func TestCollectionPreservesReachableGraph(t *testing.T) {
	h := NewHeap(HeapOptions{InitialBytes: 1024, PayloadInitialBytes: 1024})
	outer := h.newArray(nil)
	mark := h.cacheHandle(outer)
	defer h.uncache(mark)

	for i := 0; i < 300; i++ {
		s := h.intern(fmt.Sprintf("item-%d", i))
		h.arrayPush(outer, MakeObject(s))
		if i%3 == 0 {
			h.intern(fmt.Sprintf("garbage-%d", i))
		}
		if i%10 == 0 {
			inner := h.newArray(nil)
			im := h.cacheHandle(inner)
			h.arrayPush(inner, MakeNumber(float64(i)))
			h.arrayPush(inner, MakeObject(s))
			h.arrayPush(outer, MakeObject(inner))
			h.uncache(im)
		}
	}
	h.collect("test")
	checkHeap(t, h)

	if h.counters.collections < 2 {
		t.Fatalf("expected allocation pressure to trigger collections, got %d", h.counters.collections)
	}
	i := 0
	for _, v := range h.arrayValues(outer) {
		obj := h.Get(v.H)
		switch obj.Kind {
		case OKString:
			if want := fmt.Sprintf("item-%d", i); obj.Str != want {
				t.Fatalf("element %d = %q, want %q", i, obj.Str, want)
			}
			i++
		case OKArray:
			inner := h.arrayValues(v.H)
			if len(inner) != 2 || inner[0].Num != float64(i-1) || h.str(inner[1].H) != fmt.Sprintf("item-%d", i-1) {
				t.Fatalf("nested array after item %d is corrupted", i-1)
			}
		default:
			t.Fatalf("unexpected element kind %s", obj.Kind)
		}
	}
	if i != 300 {
		t.Fatalf("found %d strings, want 300", i)
	}
}

func TestRegionsGrowAndShrink(t *testing.T) {
	h := NewHeap(HeapOptions{InitialBytes: 1024, PayloadInitialBytes: 1024, MaxLoad: 0.75, ShrinkLoad: 0.25})
	outer := h.newArray(nil)
	mark := h.cacheHandle(outer)
	defer h.uncache(mark)

	for i := 0; i < 50; i++ {
		inner := h.newArray(nil)
		im := h.cacheHandle(inner)
		for j := 0; j < 64; j++ {
			h.arrayPush(inner, MakeNumber(float64(j)))
		}
		h.arrayPush(outer, MakeObject(inner))
		h.uncache(im)
	}
	grown := h.stats()
	if grown.Grows == 0 {
		t.Fatalf("expected regions to grow")
	}
	peak := grown.Regions[regionPayload].Capacity
	if peak <= 1024 {
		t.Fatalf("payload capacity %d did not grow", peak)
	}
	checkHeap(t, h)

	if err := h.arrayResize(outer, 0); err != nil {
		t.Fatalf("resize: %v", err)
	}
	h.collect("test")
	checkHeap(t, h)
	shrunk := h.stats()
	if shrunk.Shrinks == 0 {
		t.Fatalf("expected a shrink after dropping the data")
	}
	if c := shrunk.Regions[regionPayload].Capacity; c >= peak || c < 1024 {
		t.Fatalf("payload capacity %d after shrink (peak %d, initial 1024)", c, peak)
	}
}

func TestHeapExhaustionIsFatal(t *testing.T) {
	h := NewHeap(HeapOptions{InitialBytes: 1024, PayloadInitialBytes: 1024, MaxBytes: 8192})
	arr := h.newArray(nil)
	h.cacheHandle(arr)
	e := expectPanic(t, PanicHeapExhausted, func() {
		for i := 0; i < 10000; i++ {
			h.arrayPush(arr, MakeNumber(float64(i)))
		}
	})
	if !e.Fatal {
		t.Fatalf("heap exhaustion must be fatal")
	}
}

func TestStressModeCollectsOnEveryAllocation(t *testing.T) {
	h := NewHeap(HeapOptions{Stress: true})
	arr := h.newArray(nil)
	mark := h.cacheHandle(arr)
	defer h.uncache(mark)
	for i := 0; i < 20; i++ {
		h.arrayPush(arr, MakeObject(h.intern(fmt.Sprintf("s%d", i))))
	}
	st := h.stats()
	if st.Collections < st.Allocations {
		t.Fatalf("stress mode ran %d collections for %d allocations", st.Collections, st.Allocations)
	}
	for i, v := range h.arrayValues(arr) {
		if got, want := h.str(v.H), fmt.Sprintf("s%d", i); got != want {
			t.Fatalf("element %d = %q, want %q", i, got, want)
		}
	}
	checkHeap(t, h)
}

func TestHandlesAreRecycled(t *testing.T) {
	h := NewHeap(DefaultHeapOptions())
	for i := 0; i < 10; i++ {
		h.intern(fmt.Sprintf("tmp-%d", i))
	}
	total := len(h.handles)
	h.collect("test")
	if len(h.free) < 10 {
		t.Fatalf("expected at least 10 recycled handles, got %d", len(h.free))
	}
	for i := 0; i < 10; i++ {
		h.intern(fmt.Sprintf("new-%d", i))
	}
	if len(h.handles) != total {
		t.Fatalf("handle table grew from %d to %d despite free handles", total, len(h.handles))
	}
}

func TestDumpHeap(t *testing.T) {
	vm, _ := newTestVM(t, false)
	mustRun(t, vm, script().String("kept").DefineGlobal("s").Nil().Return().MustFinish())
	vm.Collect()

	var buf bytes.Buffer
	if err := vm.DumpHeap(&buf); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{`"kept"`, "native", "print", "module", "main", "total string", "total table"} {
		if !strings.Contains(out, want) {
			t.Fatalf("dump missing %q:\n%s", want, out)
		}
	}
	st := vm.HeapStats()
	if got := strings.Count(out, "\n") - strings.Count(out, "total "); got != st.Objects {
		t.Fatalf("dump lists %d objects, stats report %d", got, st.Objects)
	}
}

func TestDumpHeapPreviewKeepsRunes(t *testing.T) {
	vm, _ := newTestVM(t, false)
	long := strings.Repeat("€", 40)
	mustRun(t, vm, script().String(long).DefineGlobal("s").String("€uro").DefineGlobal("u").Nil().Return().MustFinish())

	var buf bytes.Buffer
	if err := vm.DumpHeap(&buf); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if strings.Contains(out, `\x`) {
		t.Fatalf("dump escapes a split rune:\n%s", out)
	}
	for _, want := range []string{
		strconv.Quote(strings.Repeat("€", dumpReprLimit-3) + "..."),
		`"€uro"`,
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("dump missing %s:\n%s", want, out)
		}
	}
}

func TestPreviewString(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"short", "short"},
		{strings.Repeat("a", dumpReprLimit), strings.Repeat("a", dumpReprLimit)},
		{strings.Repeat("a", dumpReprLimit+1), strings.Repeat("a", dumpReprLimit-3) + "..."},
		{strings.Repeat("日", 20), strings.Repeat("日", 14) + "..."},
	}
	for _, tt := range tests {
		if got := previewString(tt.in); got != tt.want {
			t.Fatalf("previewString(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
