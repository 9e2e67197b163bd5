package vm

import (
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/mattn/go-runewidth"
)

type heapDumpRecord struct {
	region string
	addr   int
	handle Handle
	kind   ObjectKind
	size   int
	repr   string
}

// DumpHeap writes every object currently in the heap, region by region in
// address order, followed by per-kind totals. Objects that became garbage
// since the last collection are included; call Collect first for a live
// view.
func (vm *VM) DumpHeap(w io.Writer) error {
	h := vm.heap
	var records []heapDumpRecord
	for _, r := range h.regions {
		for addr := 1; addr < len(r.objs); addr++ {
			obj := &r.objs[addr]
			records = append(records, heapDumpRecord{
				region: r.name,
				addr:   addr,
				handle: obj.Self,
				kind:   obj.Kind,
				size:   obj.Size,
				repr:   vm.dumpRepr(obj),
			})
		}
	}

	for _, rec := range records {
		line := fmt.Sprintf("%-7s @%-6d #%-6d %-12s %7d", rec.region, rec.addr, rec.handle, rec.kind, rec.size)
		if rec.repr != "" {
			line += "  " + rec.repr
		}
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}

	type total struct {
		kind  ObjectKind
		count int
		bytes int
	}
	byKind := map[ObjectKind]*total{}
	for _, rec := range records {
		t := byKind[rec.kind]
		if t == nil {
			t = &total{kind: rec.kind}
			byKind[rec.kind] = t
		}
		t.count++
		t.bytes += rec.size
	}
	totals := make([]*total, 0, len(byKind))
	for _, t := range byKind {
		totals = append(totals, t)
	}
	sort.Slice(totals, func(i, j int) bool {
		if totals[i].bytes != totals[j].bytes {
			return totals[i].bytes > totals[j].bytes
		}
		return totals[i].kind < totals[j].kind
	})
	for _, t := range totals {
		if _, err := fmt.Fprintf(w, "total %-12s %6d objects %9d bytes\n", t.kind, t.count, t.bytes); err != nil {
			return err
		}
	}
	return nil
}

const dumpReprLimit = 32

// dumpWidth measures previews the same way in every locale.
var dumpWidth = &runewidth.Condition{EastAsianWidth: false}

// previewString cuts s to dumpReprLimit columns without splitting a rune.
func previewString(s string) string {
	if dumpWidth.StringWidth(s) <= dumpReprLimit {
		return s
	}
	return dumpWidth.Truncate(s, dumpReprLimit, "...")
}

func (vm *VM) dumpRepr(obj *Object) string {
	h := vm.heap
	switch obj.Kind {
	case OKString:
		return strconv.Quote(previewString(obj.Str))
	case OKBuffer:
		return fmt.Sprintf("cap=%d", len(obj.Vals))
	case OKArray:
		return fmt.Sprintf("len=%d", obj.Array.Len)
	case OKTable:
		return fmt.Sprintf("count=%d used=%d", obj.Table.Count, obj.Table.Used)
	case OKFunction:
		return obj.Fn.Name
	case OKNative:
		return obj.Native.Name
	case OKClosure:
		if fn, ok := h.lookup(obj.Closure.Fn); ok {
			return fmt.Sprintf("%s upvalues=%d", fn.Fn.Name, len(obj.Closure.Upvalues))
		}
	case OKUpvalue:
		if obj.Upvalue.Open {
			return fmt.Sprintf("open slot=%d", obj.Upvalue.Slot)
		}
		return "closed"
	case OKFiber:
		return obj.Fiber.State.String()
	case OKClass:
		if name, ok := h.lookup(obj.Class.Name); ok {
			return name.Str
		}
	case OKModule:
		if name, ok := h.lookup(obj.Module.Name); ok {
			return name.Str
		}
	}
	return ""
}
