package vm

const (
	tableMinCapacity = 8
	// A table is resized before an insertion would take live entries plus
	// tombstones above half of its slots.
	tableMaxLoadNum = 1
	tableMaxLoadDen = 2
)

// newTable allocates an empty table. The entry buffer is allocated on the
// first insertion.
func (h *Heap) newTable() Handle {
	handle, _ := h.alloc(OKTable, sizeTable)
	return handle
}

// tableHash returns the probe hash of key.
func (h *Heap) tableHash(key Value) uint32 {
	if key.Kind == VKObject {
		if obj := h.Get(key.H); obj.Kind == OKString {
			return obj.Hash
		}
	}
	return hashValue(key)
}

// findEntry probes vals (interleaved key/value pairs) for key. It returns
// the pair index of the key if present, otherwise the index where it should
// be inserted (the first tombstone passed, or the terminating empty slot).
func findEntry(vals []Value, key Value, hash uint32) (int, bool) {
	capacity := len(vals) / 2
	mask := capacity - 1
	i := int(hash) & mask
	tomb := -1
	for {
		k := vals[2*i]
		switch k.Kind {
		case VKEmpty:
			if tomb >= 0 {
				return tomb, false
			}
			return i, false
		case vkTombstone:
			if tomb < 0 {
				tomb = i
			}
		default:
			if k.Equal(key) {
				return i, true
			}
		}
		i = (i + 1) & mask
	}
}

// tableCapacityFor returns the smallest capacity that holds n live entries
// within the load limit. Tombstones do not count, so a resize they force can
// keep or shrink the buffer.
func tableCapacityFor(n int) int {
	return max(tableMinCapacity, int(nextPow2(safeUint64FromInt(n*tableMaxLoadDen/tableMaxLoadNum))))
}

// tableGet looks key up in table t.
func (h *Heap) tableGet(t Handle, key Value) (Value, bool) {
	tbl := h.Get(t).Table
	if tbl.Count == 0 || tbl.Buf == 0 {
		return Value{}, false
	}
	vals := h.Get(tbl.Buf).Vals
	i, ok := findEntry(vals, key, h.tableHash(key))
	if !ok {
		return Value{}, false
	}
	return vals[2*i+1], true
}

// tableSet stores val under key and reports whether the key was new. The
// table, key and value stay rooted across the resize allocation.
func (h *Heap) tableSet(t Handle, key, val Value) bool {
	obj := h.Get(t)
	capacity := 0
	if obj.Table.Buf != 0 {
		capacity = len(h.Get(obj.Table.Buf).Vals) / 2
	}
	if (obj.Table.Used+1)*tableMaxLoadDen > capacity*tableMaxLoadNum {
		mark := h.cache(MakeObject(t), key, val)
		h.tableResize(t, tableCapacityFor(obj.Table.Count+1))
		h.uncache(mark)
		obj = h.Get(t)
	}

	vals := h.Get(obj.Table.Buf).Vals
	i, found := findEntry(vals, key, h.tableHash(key))
	if !found {
		if vals[2*i].Kind == VKEmpty {
			obj.Table.Used++
		}
		obj.Table.Count++
	}
	vals[2*i] = key
	vals[2*i+1] = val
	return !found
}

// tableDelete removes key, leaving a tombstone so that probe sequences
// passing through the slot stay intact.
func (h *Heap) tableDelete(t Handle, key Value) bool {
	obj := h.Get(t)
	if obj.Table.Count == 0 || obj.Table.Buf == 0 {
		return false
	}
	vals := h.Get(obj.Table.Buf).Vals
	i, ok := findEntry(vals, key, h.tableHash(key))
	if !ok {
		return false
	}
	vals[2*i] = tombstone
	vals[2*i+1] = Value{}
	obj.Table.Count--
	return true
}

// tableResize moves live entries into a fresh buffer of capacity slots,
// dropping tombstones. t must be rooted by the caller.
func (h *Heap) tableResize(t Handle, capacity int) {
	buf := h.newBuffer(2 * capacity)
	obj := h.Get(t)
	fresh := h.Get(buf).Vals
	if obj.Table.Buf != 0 {
		old := h.Get(obj.Table.Buf).Vals
		for i := 0; i < len(old); i += 2 {
			k := old[i]
			if k.Kind == VKEmpty || k.Kind == vkTombstone {
				continue
			}
			j, _ := findEntry(fresh, k, h.tableHash(k))
			fresh[2*j] = k
			fresh[2*j+1] = old[i+1]
		}
	}
	obj.Table.Buf = buf
	obj.Table.Used = obj.Table.Count
}

// tableEntries returns a snapshot of the live entries of t.
func (h *Heap) tableEntries(t Handle) (keys, vals []Value) {
	tbl := h.Get(t).Table
	if tbl.Buf == 0 {
		return nil, nil
	}
	buf := h.Get(tbl.Buf).Vals
	keys = make([]Value, 0, tbl.Count)
	vals = make([]Value, 0, tbl.Count)
	for i := 0; i < len(buf); i += 2 {
		k := buf[i]
		if k.Kind == VKEmpty || k.Kind == vkTombstone {
			continue
		}
		keys = append(keys, k)
		vals = append(vals, buf[i+1])
	}
	return keys, vals
}

// tableCopy inserts every entry of src into dst. Both must be rooted.
func (h *Heap) tableCopy(src, dst Handle) {
	keys, vals := h.tableEntries(src)
	for i := range keys {
		h.tableSet(dst, keys[i], vals[i])
	}
}

func (h *Heap) tableLen(t Handle) int {
	return h.Get(t).Table.Count
}
