package vm

import (
	"hash/fnv"
)

// newBuffer allocates a payload-region buffer of n empty values.
func (h *Heap) newBuffer(n int) Handle {
	handle, obj := h.alloc(OKBuffer, bufferSize(n))
	obj.Vals = make([]Value, n)
	return handle
}

func hashString(s string) uint32 {
	f := fnv.New32a()
	_, _ = f.Write([]byte(s))
	return f.Sum32()
}

// intern returns the canonical string object for s, allocating it on
// first use. The intern table holds its strings weakly.
func (h *Heap) intern(s string) Handle {
	hash := hashString(s)
	if h.strings == 0 {
		h.strings = h.newTable()
	} else if found := h.findInterned(s, hash); found != 0 {
		return found
	}

	handle, obj := h.alloc(OKString, stringSize(len(s)))
	obj.Str = s
	obj.Hash = hash
	h.counters.interned++

	mark := h.cacheHandle(handle)
	h.tableSet(h.strings, MakeObject(handle), MakeBool(true))
	h.uncache(mark)
	return handle
}

// findInterned probes the intern table by content.
func (h *Heap) findInterned(s string, hash uint32) Handle {
	if h.strings == 0 {
		return 0
	}
	tbl := h.Get(h.strings).Table
	if tbl.Count == 0 || tbl.Buf == 0 {
		return 0
	}
	vals := h.Get(tbl.Buf).Vals
	mask := len(vals)/2 - 1
	for i := int(hash) & mask; ; i = (i + 1) & mask {
		k := vals[2*i]
		switch k.Kind {
		case VKEmpty:
			return 0
		case VKObject:
			if obj := h.Get(k.H); obj.Hash == hash && obj.Str == s {
				return k.H
			}
		}
	}
}

// internedCount returns the number of live entries in the intern table.
func (h *Heap) internedCount() int {
	if h.strings == 0 {
		return 0
	}
	return h.tableLen(h.strings)
}

// str returns the contents of a string object.
func (h *Heap) str(handle Handle) string {
	obj := h.Get(handle)
	if obj.Kind != OKString {
		h.panic(PanicTypeMismatch, "expected string, got "+obj.Kind.String())
	}
	return obj.Str
}
