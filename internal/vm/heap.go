package vm

import (
	"fmt"
	"math"
	"math/bits"
)

// HeapOptions configures region sizing and collection policy.
type HeapOptions struct {
	InitialBytes        int     // initial capacity of the fixed-layout region
	PayloadInitialBytes int     // initial capacity of the payload region
	MaxBytes            int     // hard limit on total capacity; 0 means unlimited
	MaxLoad             float64 // collect once projected usage exceeds this fraction
	ShrinkLoad          float64 // shrink a region whose usage falls below this fraction
	Stress              bool    // collect before every allocation
}

// DefaultHeapOptions returns the sizing used when no configuration is given.
func DefaultHeapOptions() HeapOptions {
	return HeapOptions{
		InitialBytes:        1 << 16,
		PayloadInitialBytes: 1 << 16,
		MaxBytes:            1 << 30,
		MaxLoad:             0.75,
		ShrinkLoad:          0.25,
	}
}

const (
	regionFixed = iota
	regionPayload
)

// region is a bump-allocated slab. Addresses are slot indexes; slot 0 is
// never used so that address 0 can mean "unmarked" and "unmapped".
type region struct {
	name     string
	objs     []Object
	used     int
	capacity int
	initial  int
	resize   int // capacity to move into on the next collection, 0 for none
}

func newRegion(name string, capacity int) *region {
	capacity = int(nextPow2(uint64(max(capacity, 1024))))
	return &region{
		name:     name,
		objs:     make([]Object, 1, 64),
		capacity: capacity,
		initial:  capacity,
	}
}

type location struct {
	region uint8
	addr   int
}

// Heap owns every managed object of one VM. Objects live in two bump
// regions and are reached through a handle table so that compaction never
// has to patch references held in values.
type Heap struct {
	regions [2]*region
	handles []location
	free    []Handle

	// cached holds references that Go code keeps across an allocation.
	cached []Value
	// strings is the weak intern table.
	strings Handle

	gray       []Handle
	collecting bool
	opts       HeapOptions
	counters   heapCounters

	vm *VM
}

// NewHeap creates an empty heap.
func NewHeap(opts HeapOptions) *Heap {
	def := DefaultHeapOptions()
	if opts.InitialBytes <= 0 {
		opts.InitialBytes = def.InitialBytes
	}
	if opts.PayloadInitialBytes <= 0 {
		opts.PayloadInitialBytes = def.PayloadInitialBytes
	}
	if opts.MaxLoad <= 0 || opts.MaxLoad > 1 {
		opts.MaxLoad = def.MaxLoad
	}
	if opts.ShrinkLoad < 0 || opts.ShrinkLoad >= opts.MaxLoad {
		opts.ShrinkLoad = def.ShrinkLoad
	}
	return &Heap{
		regions: [2]*region{
			regionFixed:   newRegion("fixed", opts.InitialBytes),
			regionPayload: newRegion("payload", opts.PayloadInitialBytes),
		},
		handles: make([]location, 1, 256),
		opts:    opts,
	}
}

// alloc reserves size bytes for a new object of kind, possibly running a
// collection first. The returned pointer is only valid until the next
// allocation; the handle stays valid as long as the object is reachable
// or cached.
func (h *Heap) alloc(kind ObjectKind, size int) (Handle, *Object) {
	if h.collecting {
		h.panic(PanicInvalidProgram, "allocation during collection")
	}
	id := regionFixed
	if kind.payload() {
		id = regionPayload
	}
	h.reserve(id, size)

	r := h.regions[id]
	handle := h.newHandle()
	r.objs = append(r.objs, Object{Kind: kind, Self: handle, Size: size})
	addr := len(r.objs) - 1
	h.handles[handle] = location{region: uint8(id), addr: addr} // #nosec G115 -- two regions
	r.used += size
	h.counters.allocCount++
	h.counters.allocBytes += safeUint64FromInt(size)

	obj := &r.objs[addr]
	if h.vm != nil && h.vm.Trace != nil {
		h.vm.Trace.TraceHeapAlloc(kind, handle, size)
	}
	return handle, obj
}

func (h *Heap) newHandle() Handle {
	if n := len(h.free); n > 0 {
		handle := h.free[n-1]
		h.free = h.free[:n-1]
		return handle
	}
	if uint64(len(h.handles)) >= math.MaxUint32 {
		h.fatal("handle table exhausted")
	}
	h.handles = append(h.handles, location{})
	return Handle(len(h.handles) - 1) // #nosec G115 -- bounded above
}

func (h *Heap) releaseHandle(handle Handle) {
	h.handles[handle] = location{}
	h.free = append(h.free, handle)
}

// reserve applies the allocation policy for a request of size bytes in
// region id: collect when over the load threshold, then grow when the
// live data alone still does not leave room.
func (h *Heap) reserve(id, size int) {
	r := h.regions[id]
	if h.opts.Stress || r.used+size > h.threshold(r.capacity) {
		h.collect("alloc " + r.name)
	}
	if r.used+size <= h.threshold(r.capacity) {
		return
	}
	need := int(math.Ceil(float64(r.used+size) / h.opts.MaxLoad))
	target := int(nextPow2(safeUint64FromInt(need)))
	if h.opts.MaxBytes > 0 && h.capacity()-r.capacity+target > h.opts.MaxBytes {
		h.fatal(fmt.Sprintf("heap exhausted: %s region needs %d bytes, limit is %d", r.name, target, h.opts.MaxBytes))
	}
	r.resize = target
	h.collect("grow " + r.name)
}

func (h *Heap) threshold(capacity int) int {
	return int(h.opts.MaxLoad * float64(capacity))
}

func (h *Heap) capacity() int {
	return h.regions[regionFixed].capacity + h.regions[regionPayload].capacity
}

// Get returns the object behind handle. The pointer is invalidated by the
// next allocation.
func (h *Heap) Get(handle Handle) *Object {
	if handle == 0 || int(handle) >= len(h.handles) {
		h.panic(PanicInvalidHandle, fmt.Sprintf("invalid handle %d", handle))
	}
	loc := h.handles[handle]
	if loc.addr == 0 {
		h.panic(PanicInvalidHandle, fmt.Sprintf("dangling handle %d", handle))
	}
	return &h.regions[loc.region].objs[loc.addr]
}

// lookup is Get without the panic, for diagnostics.
func (h *Heap) lookup(handle Handle) (*Object, bool) {
	if handle == 0 || int(handle) >= len(h.handles) {
		return nil, false
	}
	loc := h.handles[handle]
	if loc.addr == 0 {
		return nil, false
	}
	return &h.regions[loc.region].objs[loc.addr], true
}

// cache registers values as temporary roots and returns a mark for
// uncache. Code that holds a reference to an unrooted object across an
// allocation must cache it first.
func (h *Heap) cache(vals ...Value) int {
	mark := len(h.cached)
	h.cached = append(h.cached, vals...)
	return mark
}

func (h *Heap) cacheHandle(handle Handle) int {
	return h.cache(MakeObject(handle))
}

func (h *Heap) uncache(mark int) {
	clear(h.cached[mark:])
	h.cached = h.cached[:mark]
}

// kindOf returns the kind of the object referenced by v, or false for
// non-object values.
func (h *Heap) kindOf(v Value) (ObjectKind, bool) {
	if v.Kind != VKObject {
		return 0, false
	}
	return h.Get(v.H).Kind, true
}

func (h *Heap) panic(code PanicCode, msg string) {
	if h.vm != nil {
		h.vm.fail(code, msg)
	}
	panic(&VMError{Code: code, Message: msg})
}

func (h *Heap) fatal(msg string) {
	if h.vm != nil {
		e := h.vm.eb.makeError(PanicHeapExhausted, msg)
		e.Fatal = true
		panic(e)
	}
	panic(&VMError{Code: PanicHeapExhausted, Message: msg, Fatal: true})
}

func nextPow2(n uint64) uint64 {
	if n <= 1 {
		return 1
	}
	return 1 << bits.Len64(n-1)
}
