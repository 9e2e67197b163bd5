package vm

import (
	"fmt"
	"strconv"
	"time"

	"kiln/internal/trace"
)

// collect runs one full mark-compact cycle (Lisp 2 style):
//
//  1. mark roots and trace with an explicit worklist,
//  2. assign each marked object its compacted address,
//  3. sweep the weak intern table and repoint the handle table,
//  4. slide live objects down and finalize the dead.
//
// A region with a pending resize is compacted into a fresh slab of the
// new capacity instead of in place.
func (h *Heap) collect(reason string) {
	if h.collecting {
		return
	}
	h.collecting = true
	defer func() { h.collecting = false }()

	var span *trace.Span
	if h.vm != nil {
		span = trace.Begin(h.vm.tracer, trace.ScopeGC, "gc")
	}
	start := time.Now()
	before := h.regions[regionFixed].used + h.regions[regionPayload].used

	h.markRoots()
	h.traceGray()
	h.computeAddresses()
	h.updatePointers()
	freed := h.compact()

	after := h.regions[regionFixed].used + h.regions[regionPayload].used
	h.counters.collections++
	h.counters.gcTime += time.Since(start)
	if span != nil {
		span.WithExtra("reason", reason).
			WithExtra("freed_objects", strconv.Itoa(freed)).
			WithExtra("bytes_before", strconv.Itoa(before)).
			WithExtra("bytes_after", strconv.Itoa(after)).
			End("")
	}
}

func (h *Heap) markRoots() {
	for _, v := range h.cached {
		h.markValue(v)
	}
	if h.strings != 0 {
		// The intern table is weak: keep the table alive without tracing
		// its entries.
		h.markLeaf(h.strings)
		h.markLeaf(h.Get(h.strings).Table.Buf)
	}
	if h.vm != nil {
		h.vm.markRoots()
	}
}

func (h *Heap) markValue(v Value) {
	if v.Kind == VKObject {
		h.markHandle(v.H)
	}
}

func (h *Heap) markValues(vals []Value) {
	for _, v := range vals {
		if v.Kind == VKObject {
			h.markHandle(v.H)
		}
	}
}

// markHandle marks an object by pointing its forwarding address at itself
// and queues it for tracing unless it is a leaf.
func (h *Heap) markHandle(handle Handle) {
	if handle == 0 {
		return
	}
	obj := h.Get(handle)
	if obj.Forward != 0 {
		return
	}
	obj.Forward = h.handles[handle].addr
	switch obj.Kind {
	case OKString, OKNative:
		return
	}
	h.gray = append(h.gray, handle)
}

// markLeaf marks an object without tracing its contents.
func (h *Heap) markLeaf(handle Handle) {
	if handle == 0 {
		return
	}
	obj := h.Get(handle)
	if obj.Forward == 0 {
		obj.Forward = h.handles[handle].addr
	}
}

func (h *Heap) traceGray() {
	for len(h.gray) > 0 {
		n := len(h.gray) - 1
		handle := h.gray[n]
		h.gray = h.gray[:n]
		h.blacken(h.Get(handle))
	}
}

// blacken marks every reference held by obj. Marking never allocates, so
// obj stays valid throughout.
func (h *Heap) blacken(obj *Object) {
	switch obj.Kind {
	case OKString, OKNative:
	case OKBuffer:
		h.markValues(obj.Vals)
	case OKArray:
		if obj.Array.Objs == 0 {
			h.markLeaf(obj.Array.Buf)
		} else {
			h.markHandle(obj.Array.Buf)
		}
	case OKTable:
		h.markHandle(obj.Table.Buf)
	case OKFunction:
		h.markValues(obj.Fn.Constants)
		h.markHandle(obj.Fn.Module)
	case OKClosure:
		h.markHandle(obj.Closure.Fn)
		for _, uv := range obj.Closure.Upvalues {
			h.markHandle(uv)
		}
	case OKUpvalue:
		if obj.Upvalue.Open {
			h.markHandle(obj.Upvalue.Fiber)
		} else {
			h.markValue(obj.Upvalue.Closed)
		}
	case OKClass:
		h.markHandle(obj.Class.Name)
		h.markHandle(obj.Class.Methods)
	case OKInstance:
		h.markHandle(obj.Instance.Class)
		h.markHandle(obj.Instance.Fields)
	case OKBoundMethod:
		h.markValue(obj.Bound.Receiver)
		h.markHandle(obj.Bound.Method)
	case OKFiber:
		obj.Fiber.mark(h)
	case OKModule:
		h.markHandle(obj.Module.Name)
		h.markHandle(obj.Module.Vars)
	default:
		panic(fmt.Sprintf("gc: unknown object kind %s", obj.Kind))
	}
}

// computeAddresses assigns destinations with one bump cursor per region.
// Regions are compacted independently; an object never changes region.
func (h *Heap) computeAddresses() {
	for _, r := range h.regions {
		cursor := 1
		for i := 1; i < len(r.objs); i++ {
			if r.objs[i].Forward != 0 {
				r.objs[i].Forward = cursor
				cursor++
			}
		}
	}
}

// updatePointers sweeps the intern table while the handle table still maps
// to pre-compaction addresses, then repoints every live handle.
func (h *Heap) updatePointers() {
	h.sweepInterned()
	for _, r := range h.regions {
		for i := 1; i < len(r.objs); i++ {
			obj := &r.objs[i]
			if obj.Forward != 0 {
				h.handles[obj.Self].addr = obj.Forward
			}
		}
	}
}

func (h *Heap) sweepInterned() {
	if h.strings == 0 {
		return
	}
	t := h.Get(h.strings)
	if t.Table.Buf == 0 {
		return
	}
	vals := h.Get(t.Table.Buf).Vals
	for i := 0; i < len(vals); i += 2 {
		key := vals[i]
		if key.Kind != VKObject {
			continue
		}
		if h.Get(key.H).Forward == 0 {
			vals[i] = tombstone
			vals[i+1] = Value{}
			t.Table.Count--
		}
	}
}

// compact slides live objects to their destinations, finalizes dead ones
// and recycles their handles. It returns the number of reclaimed objects.
func (h *Heap) compact() int {
	freed := 0
	for _, r := range h.regions {
		live := 0
		for i := 1; i < len(r.objs); i++ {
			if r.objs[i].Forward != 0 {
				live += r.objs[i].Size
			}
		}
		capacity := h.nextCapacity(r, live)

		dst := r.objs
		moving := capacity != r.capacity
		if moving {
			dst = make([]Object, 1, max(64, len(r.objs)))
		}
		cursor := 1
		for i := 1; i < len(r.objs); i++ {
			obj := &r.objs[i]
			if obj.Forward == 0 {
				handle := obj.Self
				obj.finalize()
				h.releaseHandle(handle)
				freed++
				continue
			}
			obj.Forward = 0
			if moving {
				dst = append(dst, *obj)
			} else if cursor != i {
				dst[cursor] = *obj
			}
			cursor++
		}
		if !moving {
			clear(dst[cursor:])
			dst = dst[:cursor]
		}

		if moving {
			if capacity > r.capacity {
				h.counters.grows++
			} else {
				h.counters.shrinks++
			}
			if h.vm != nil {
				trace.Point(h.vm.tracer, trace.ScopeGC, "region resize",
					fmt.Sprintf("%s %d -> %d bytes", r.name, r.capacity, capacity))
			}
		}
		r.objs = dst
		r.used = live
		r.capacity = capacity
		r.resize = 0
	}
	h.counters.freeCount += uint64(freed) // #nosec G115 -- non-negative
	return freed
}

// nextCapacity applies a pending grow or, failing that, the shrink policy.
func (h *Heap) nextCapacity(r *region, live int) int {
	if r.resize != 0 {
		return r.resize
	}
	if r.capacity > r.initial && float64(live) < h.opts.ShrinkLoad*float64(r.capacity) {
		target := int(nextPow2(safeUint64FromInt(int(float64(live) / h.opts.MaxLoad))))
		return max(target, r.initial)
	}
	return r.capacity
}
