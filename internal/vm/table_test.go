package vm

import (
	"fmt"
	"math"
	"math/rand"
	"testing"
)

func TestTableMatchesMapModel(t *testing.T) {
	h := NewHeap(HeapOptions{InitialBytes: 1024, PayloadInitialBytes: 1024})
	tbl := h.newTable()
	mark := h.cacheHandle(tbl)
	defer h.uncache(mark)

	model := make(map[string]float64)
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 3000; i++ {
		name := fmt.Sprintf("k%d", rng.Intn(80))
		key := MakeObject(h.intern(name))
		switch rng.Intn(3) {
		case 0:
			_, existed := model[name]
			isNew := h.tableSet(tbl, key, MakeNumber(float64(i)))
			if isNew == existed {
				t.Fatalf("step %d: set %s reported new=%v, model has it=%v", i, name, isNew, existed)
			}
			model[name] = float64(i)
		case 1:
			_, existed := model[name]
			if got := h.tableDelete(tbl, key); got != existed {
				t.Fatalf("step %d: delete %s = %v, want %v", i, name, got, existed)
			}
			delete(model, name)
		default:
			want, existed := model[name]
			got, ok := h.tableGet(tbl, key)
			if ok != existed || (ok && got.Num != want) {
				t.Fatalf("step %d: get %s = (%v, %v), want (%v, %v)", i, name, got, ok, want, existed)
			}
		}
		if h.tableLen(tbl) != len(model) {
			t.Fatalf("step %d: table holds %d entries, model %d", i, h.tableLen(tbl), len(model))
		}
	}

	keys, vals := h.tableEntries(tbl)
	if len(keys) != len(model) {
		t.Fatalf("entries: %d keys, want %d", len(keys), len(model))
	}
	for i, k := range keys {
		if want := model[h.str(k.H)]; vals[i].Num != want {
			t.Fatalf("entry %s = %v, want %v", h.str(k.H), vals[i].Num, want)
		}
	}
	checkHeap(t, h)
}

func TestTableLoadFactor(t *testing.T) {
	h := NewHeap(DefaultHeapOptions())
	tbl := h.newTable()
	h.cacheHandle(tbl)
	for i := 0; i < 100; i++ {
		h.tableSet(tbl, MakeNumber(float64(i)), Nil())
		obj := h.Get(tbl)
		capacity := len(h.Get(obj.Table.Buf).Vals) / 2
		if obj.Table.Used*2 > capacity {
			t.Fatalf("after %d inserts: %d used slots in capacity %d", i+1, obj.Table.Used, capacity)
		}
	}
	// Churn through tombstones; a resize must drop them.
	for i := 0; i < 1000; i++ {
		k := MakeNumber(float64(1000 + i))
		h.tableSet(tbl, k, Nil())
		h.tableDelete(tbl, k)
	}
	obj := h.Get(tbl)
	if obj.Table.Count != 100 {
		t.Fatalf("count %d, want 100", obj.Table.Count)
	}
	capacity := len(h.Get(obj.Table.Buf).Vals) / 2
	if obj.Table.Used*2 > capacity {
		t.Fatalf("tombstones exceeded the load factor: used %d of %d", obj.Table.Used, capacity)
	}
	if capacity > 256 {
		t.Fatalf("tombstones grew the table to %d slots for 100 entries", capacity)
	}
}

func TestTableCapacityFor(t *testing.T) {
	tests := []struct{ n, want int }{
		{0, tableMinCapacity},
		{1, tableMinCapacity},
		{4, 8},
		{5, 16},
		{101, 256},
	}
	for _, tt := range tests {
		if got := tableCapacityFor(tt.n); got != tt.want {
			t.Fatalf("tableCapacityFor(%d) = %d, want %d", tt.n, got, tt.want)
		}
	}
}

func TestInternTableStaysSmallUnderChurn(t *testing.T) {
	h := NewHeap(DefaultHeapOptions())
	for round := 0; round < 20; round++ {
		for i := 0; i < 200; i++ {
			h.intern(fmt.Sprintf("s%d-%d", round, i))
		}
		h.collect("test")
		if n := h.internedCount(); n != 0 {
			t.Fatalf("round %d: %d strings survived without roots", round, n)
		}
	}
	capacity := len(h.Get(h.Get(h.strings).Table.Buf).Vals) / 2
	if capacity > 512 {
		t.Fatalf("intern table grew to %d slots for at most 200 live strings", capacity)
	}
	checkHeap(t, h)
}

func TestTableKeyKinds(t *testing.T) {
	h := NewHeap(DefaultHeapOptions())
	tbl := h.newTable()
	h.cacheHandle(tbl)

	h.tableSet(tbl, MakeNumber(0), MakeNumber(1))
	if v, ok := h.tableGet(tbl, MakeNumber(math.Copysign(0, -1))); !ok || v.Num != 1 {
		t.Fatalf("-0 and 0 must address the same entry")
	}
	h.tableSet(tbl, MakeBool(true), MakeNumber(2))
	h.tableSet(tbl, MakeBool(false), MakeNumber(3))
	h.tableSet(tbl, Nil(), MakeNumber(4))
	if v, _ := h.tableGet(tbl, MakeBool(false)); v.Num != 3 {
		t.Fatalf("false key = %v, want 3", v)
	}
	if v, _ := h.tableGet(tbl, Nil()); v.Num != 4 {
		t.Fatalf("nil key = %v, want 4", v)
	}
	if _, ok := h.tableGet(tbl, MakeNumber(1)); ok {
		t.Fatalf("number 1 must not match boolean true")
	}

	// Strings are compared by identity, which interning makes content
	// equality.
	h.tableSet(tbl, MakeObject(h.intern("name")), MakeNumber(5))
	if v, ok := h.tableGet(tbl, MakeObject(h.intern("name"))); !ok || v.Num != 5 {
		t.Fatalf("string key lookup failed")
	}
	if h.tableLen(tbl) != 5 {
		t.Fatalf("table holds %d entries, want 5", h.tableLen(tbl))
	}
}

func TestTableCopy(t *testing.T) {
	h := NewHeap(DefaultHeapOptions())
	src := h.newTable()
	h.cacheHandle(src)
	dst := h.newTable()
	h.cacheHandle(dst)
	for i := 0; i < 20; i++ {
		h.tableSet(src, MakeNumber(float64(i)), MakeNumber(float64(i*i)))
	}
	h.tableSet(dst, MakeNumber(3), MakeNumber(-1))
	h.tableCopy(src, dst)
	if h.tableLen(dst) != 20 {
		t.Fatalf("copied table holds %d entries, want 20", h.tableLen(dst))
	}
	if v, _ := h.tableGet(dst, MakeNumber(3)); v.Num != 9 {
		t.Fatalf("copy must overwrite existing keys, got %v", v)
	}
}
