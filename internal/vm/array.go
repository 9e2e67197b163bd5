package vm

import "fmt"

const arrayMinCapacity = 4

// newArray allocates an array holding a copy of elems. elems must be
// rooted by the caller (typically they sit on a fiber stack).
func (h *Heap) newArray(elems []Value) Handle {
	handle, _ := h.alloc(OKArray, sizeArray)
	if len(elems) == 0 {
		return handle
	}
	mark := h.cacheHandle(handle)
	buf := h.newBuffer(int(nextPow2(safeUint64FromInt(max(len(elems), arrayMinCapacity)))))
	h.uncache(mark)

	vals := h.Get(buf).Vals
	copy(vals, elems)
	arr := &h.Get(handle).Array
	arr.Buf = buf
	arr.Len = len(elems)
	arr.Objs = countObjects(elems)
	return handle
}

func countObjects(vals []Value) int {
	n := 0
	for _, v := range vals {
		if v.Kind == VKObject {
			n++
		}
	}
	return n
}

// arrayValues returns the live elements. The slice aliases the buffer and
// is valid until the array is next resized.
func (h *Heap) arrayValues(a Handle) []Value {
	arr := h.Get(a).Array
	if arr.Buf == 0 {
		return nil
	}
	return h.Get(arr.Buf).Vals[:arr.Len]
}

func (h *Heap) arrayLen(a Handle) int { return h.Get(a).Array.Len }

// arrayReserve makes room for n elements. The array must be rooted; extra
// values that the caller is about to store are kept alive too.
func (h *Heap) arrayReserve(a Handle, n int, extra ...Value) {
	arr := h.Get(a).Array
	capacity := 0
	if arr.Buf != 0 {
		capacity = len(h.Get(arr.Buf).Vals)
	}
	if n <= capacity {
		return
	}
	newCap := int(nextPow2(safeUint64FromInt(max(n, arrayMinCapacity))))
	mark := h.cacheHandle(a)
	h.cache(extra...)
	buf := h.newBuffer(newCap)
	h.uncache(mark)

	obj := h.Get(a)
	if obj.Array.Buf != 0 {
		copy(h.Get(buf).Vals, h.Get(obj.Array.Buf).Vals[:obj.Array.Len])
	}
	obj.Array.Buf = buf
}

func (h *Heap) arrayGet(a Handle, i int) Value {
	return h.arrayValues(a)[i]
}

func (h *Heap) arraySet(a Handle, i int, v Value) {
	obj := h.Get(a)
	vals := h.Get(obj.Array.Buf).Vals
	obj.Array.Objs += objDelta(vals[i], v)
	vals[i] = v
}

func objDelta(old, v Value) int {
	d := 0
	if old.Kind == VKObject {
		d--
	}
	if v.Kind == VKObject {
		d++
	}
	return d
}

// arrayPush appends v.
func (h *Heap) arrayPush(a Handle, v Value) {
	h.arrayReserve(a, h.arrayLen(a)+1, v)
	obj := h.Get(a)
	h.Get(obj.Array.Buf).Vals[obj.Array.Len] = v
	obj.Array.Len++
	if v.Kind == VKObject {
		obj.Array.Objs++
	}
}

// arrayPop removes and returns the last element.
func (h *Heap) arrayPop(a Handle) (Value, bool) {
	obj := h.Get(a)
	if obj.Array.Len == 0 {
		return Nil(), false
	}
	vals := h.Get(obj.Array.Buf).Vals
	obj.Array.Len--
	v := vals[obj.Array.Len]
	vals[obj.Array.Len] = Value{}
	obj.Array.Objs += objDelta(v, Value{})
	return v, true
}

// arrayInsert inserts v before index i, 0 <= i <= len.
func (h *Heap) arrayInsert(a Handle, i int, v Value) error {
	n := h.arrayLen(a)
	if i < 0 || i > n {
		return fmt.Errorf("index %d out of bounds for insert into length %d", i, n)
	}
	h.arrayReserve(a, n+1, v)
	obj := h.Get(a)
	vals := h.Get(obj.Array.Buf).Vals
	copy(vals[i+1:n+1], vals[i:n])
	vals[i] = v
	obj.Array.Len++
	if v.Kind == VKObject {
		obj.Array.Objs++
	}
	return nil
}

// arrayRemove removes and returns the element at index i.
func (h *Heap) arrayRemove(a Handle, i int) (Value, error) {
	obj := h.Get(a)
	n := obj.Array.Len
	if i < 0 || i >= n {
		return Nil(), fmt.Errorf("index %d out of bounds for length %d", i, n)
	}
	vals := h.Get(obj.Array.Buf).Vals
	v := vals[i]
	copy(vals[i:n-1], vals[i+1:n])
	vals[n-1] = Value{}
	obj.Array.Len--
	obj.Array.Objs += objDelta(v, Value{})
	return v, nil
}

// arrayResize truncates or extends the array to n elements, filling new
// slots with nil.
func (h *Heap) arrayResize(a Handle, n int) error {
	if n < 0 {
		return fmt.Errorf("negative array size %d", n)
	}
	h.arrayReserve(a, n)
	obj := h.Get(a)
	if obj.Array.Buf == 0 {
		return nil
	}
	vals := h.Get(obj.Array.Buf).Vals
	for i := n; i < obj.Array.Len; i++ {
		obj.Array.Objs += objDelta(vals[i], Value{})
		vals[i] = Value{}
	}
	for i := obj.Array.Len; i < n; i++ {
		vals[i] = Nil()
	}
	obj.Array.Len = n
	return nil
}
