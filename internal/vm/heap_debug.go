package vm

import (
	"fmt"
	"io"
	"time"
)

type heapCounters struct {
	allocCount  uint64
	allocBytes  uint64
	freeCount   uint64
	collections uint64
	grows       uint64
	shrinks     uint64
	interned    uint64
	gcTime      time.Duration
}

// RegionStats describes one heap region.
type RegionStats struct {
	Name     string
	Objects  int
	Used     int
	Capacity int
}

// HeapStats is a snapshot of heap activity.
type HeapStats struct {
	Allocations    uint64
	AllocatedBytes uint64
	Frees          uint64
	Collections    uint64
	Grows          uint64
	Shrinks        uint64
	StringsCreated uint64
	GCTime         time.Duration

	Objects     int
	Interned    int
	Handles     int
	Regions     [2]RegionStats
}

func safeUint64FromInt(n int) uint64 {
	if n <= 0 {
		return 0
	}
	// #nosec G115 -- negative sizes are clamped above; sizes are non-negative by construction.
	return uint64(n)
}

// HeapStats returns a snapshot of the VM heap.
func (vm *VM) HeapStats() HeapStats {
	return vm.heap.stats()
}

func (h *Heap) stats() HeapStats {
	s := HeapStats{
		Allocations:    h.counters.allocCount,
		AllocatedBytes: h.counters.allocBytes,
		Frees:          h.counters.freeCount,
		Collections:    h.counters.collections,
		Grows:          h.counters.grows,
		Shrinks:        h.counters.shrinks,
		StringsCreated: h.counters.interned,
		GCTime:         h.counters.gcTime,
		Interned:       h.internedCount(),
		Handles:        len(h.handles) - 1 - len(h.free),
	}
	for i, r := range h.regions {
		s.Regions[i] = RegionStats{
			Name:     r.name,
			Objects:  len(r.objs) - 1,
			Used:     r.used,
			Capacity: r.capacity,
		}
		s.Objects += len(r.objs) - 1
	}
	return s
}

// Write prints the snapshot in a compact human-readable form.
func (s HeapStats) Write(w io.Writer) error {
	_, err := fmt.Fprintf(w,
		"heap: %d allocations (%d bytes), %d freed, %d collections in %s, %d grows, %d shrinks\n",
		s.Allocations, s.AllocatedBytes, s.Frees, s.Collections, s.GCTime, s.Grows, s.Shrinks)
	if err != nil {
		return err
	}
	for _, r := range s.Regions {
		if _, err := fmt.Fprintf(w, "  %-8s %6d objects %10d / %d bytes\n", r.Name, r.Objects, r.Used, r.Capacity); err != nil {
			return err
		}
	}
	_, err = fmt.Fprintf(w, "  interned %d strings, %d live handles\n", s.Interned, s.Handles)
	return err
}
