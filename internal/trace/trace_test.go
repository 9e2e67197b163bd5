package trace

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestLevelFiltersScopes(t *testing.T) {
	tests := []struct {
		level Level
		scope Scope
		want  bool
	}{
		{LevelOff, ScopeDriver, false},
		{LevelError, ScopeDriver, false},
		{LevelPhase, ScopeVM, true},
		{LevelPhase, ScopeGC, false},
		{LevelDetail, ScopeGC, true},
		{LevelDetail, ScopeFiber, false},
		{LevelDebug, ScopeFiber, true},
	}
	for _, tt := range tests {
		if got := tt.level.ShouldEmit(tt.scope); got != tt.want {
			t.Fatalf("%s.ShouldEmit(%s) = %v, want %v", tt.level, tt.scope, got, tt.want)
		}
	}
}

func TestParseLevel(t *testing.T) {
	for _, s := range []string{"off", "error", "phase", "detail", "debug"} {
		l, err := ParseLevel(s)
		if err != nil {
			t.Fatalf("ParseLevel(%q): %v", s, err)
		}
		if l.String() != s {
			t.Fatalf("ParseLevel(%q) = %s", s, l)
		}
	}
	if _, err := ParseLevel("verbose"); err == nil {
		t.Fatalf("expected an error for an unknown level")
	}
}

func TestStreamTracerText(t *testing.T) {
	var buf bytes.Buffer
	tr := NewStreamTracer(&buf, LevelDetail, FormatText)

	span := Begin(tr, ScopeVM, "interpret main")
	Point(tr, ScopeGC, "region resize", "payload 1024 -> 2048 bytes")
	Point(tr, ScopeFiber, "fiber run", "filtered out")
	span.WithExtra("b", "2").WithExtra("a", "1").End("")

	out := buf.String()
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %d:\n%s", len(lines), out)
	}
	if !strings.Contains(lines[0], "\u2192 interpret main") {
		t.Fatalf("begin line: %q", lines[0])
	}
	if !strings.Contains(lines[1], "region resize (payload 1024 -> 2048 bytes)") {
		t.Fatalf("point line: %q", lines[1])
	}
	if !strings.HasSuffix(lines[2], "{a=1, b=2}") {
		t.Fatalf("extras must be sorted: %q", lines[2])
	}
}

func TestStreamTracerNDJSON(t *testing.T) {
	var buf bytes.Buffer
	tr := NewStreamTracer(&buf, LevelDebug, FormatNDJSON)
	Point(tr, ScopeFiber, "fiber yield", "fiber#3")

	var ev map[string]any
	if err := json.Unmarshal(buf.Bytes(), &ev); err != nil {
		t.Fatalf("invalid json %q: %v", buf.String(), err)
	}
	if ev["scope"] != "fiber" || ev["kind"] != "point" || ev["detail"] != "fiber#3" {
		t.Fatalf("unexpected event %v", ev)
	}
}

func TestRingTracerKeepsLastEvents(t *testing.T) {
	tr := NewRingTracer(3, LevelDebug)
	for _, name := range []string{"a", "b", "c", "d", "e"} {
		Point(tr, ScopeVM, name, "")
	}
	events := tr.Snapshot()
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	for i, want := range []string{"c", "d", "e"} {
		if events[i].Name != want {
			t.Fatalf("event %d = %s, want %s", i, events[i].Name, want)
		}
	}

	if n := tr.Dropped(); n != 2 {
		t.Fatalf("Dropped() = %d, want 2", n)
	}

	var buf bytes.Buffer
	if err := tr.Dump(&buf, FormatText); err != nil {
		t.Fatalf("dump: %v", err)
	}
	if strings.Count(buf.String(), "\n") != 3 {
		t.Fatalf("dump wrote %q", buf.String())
	}
}

func TestMultiTracerAndContext(t *testing.T) {
	var buf bytes.Buffer
	ring := NewRingTracer(8, LevelPhase)
	multi := NewMultiTracer(LevelPhase, NewStreamTracer(&buf, LevelPhase, FormatText), ring)

	ctx := WithTracer(t.Context(), multi)
	Point(FromContext(ctx), ScopeDriver, "load", "prog.kbc")

	if len(ring.Snapshot()) != 1 || !strings.Contains(buf.String(), "load") {
		t.Fatalf("event did not reach every tracer")
	}
	if FindRing(multi) != ring || FindRing(ring) != ring {
		t.Fatalf("FindRing did not locate the ring buffer")
	}
	if FindRing(Nop) != nil {
		t.Fatalf("Nop has no ring")
	}
	if FromContext(t.Context()) != Nop {
		t.Fatalf("missing tracer must default to Nop")
	}
}

func TestNewTracerModes(t *testing.T) {
	tr, err := New(Config{Level: LevelOff})
	if err != nil || tr.Enabled() {
		t.Fatalf("off level must yield a disabled tracer")
	}
	var buf bytes.Buffer
	tr, err = New(Config{Level: LevelPhase, Mode: ModeBoth, Output: &buf})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, ok := tr.(*MultiTracer); !ok {
		t.Fatalf("both mode returned %T", tr)
	}
	if _, err := New(Config{Level: LevelPhase}); err == nil {
		t.Fatalf("expected an error for a missing mode")
	}
}

func TestSpanNesting(t *testing.T) {
	ring := NewRingTracer(8, LevelDetail)
	root := Begin(ring, ScopeVM, "interpret main")
	child := root.Child(ScopeGC, "gc")
	child.WithExtra("reason", "alloc").End("")
	if d := root.End("ok"); d < 0 {
		t.Fatalf("negative duration %v", d)
	}

	evs := ring.Snapshot()
	if len(evs) != 4 {
		t.Fatalf("got %d events, want 4", len(evs))
	}
	if evs[1].ParentID != evs[0].SpanID || evs[0].ParentID != 0 {
		t.Fatalf("child parent %d, root id %d", evs[1].ParentID, evs[0].SpanID)
	}
	if evs[2].Kind != KindSpanEnd || evs[2].Extra["reason"] != "alloc" {
		t.Fatalf("child end event %+v", evs[2])
	}
	if evs[3].Detail != "ok" || evs[3].GID == 0 {
		t.Fatalf("root end event %+v", evs[3])
	}

	// Filtered or disabled spans are nil and every method tolerates that.
	if s := Begin(ring, ScopeFiber, "fiber run"); s != nil {
		t.Fatalf("fiber scope must be filtered at detail level")
	}
	var none *Span
	if none.Child(ScopeGC, "x") != nil || none.WithExtra("k", "v").End("") != 0 {
		t.Fatalf("nil span must be inert")
	}
	if Begin(Nop, ScopeDriver, "load") != nil {
		t.Fatalf("Nop must not open spans")
	}
}

func TestParseModeRoundTrip(t *testing.T) {
	for _, m := range []StorageMode{ModeStream, ModeRing, ModeBoth} {
		got, err := ParseMode(strings.ToUpper(m.String()))
		if err != nil || got != m {
			t.Fatalf("ParseMode(%s) = %v, %v", m, got, err)
		}
	}
	if _, err := ParseMode("disk"); err == nil {
		t.Fatalf("unknown mode accepted")
	}
}
