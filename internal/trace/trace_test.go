package trace

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func TestRingKeepsNewestEvents(t *testing.T) {
	r := NewRingTracer(3, LevelDetail)
	for _, name := range []string{"a", "b", "c", "d", "e"} {
		Point(r, ScopeLoop, name, "")
	}
	Point(r, ScopeEdge, "edge", "")

	var names []string
	for _, ev := range r.Snapshot() {
		names = append(names, ev.Name)
	}
	if got := strings.Join(names, ","); got != "c,d,e" {
		t.Fatalf("snapshot = %s, want c,d,e", got)
	}
}

func TestLevelFiltersScopes(t *testing.T) {
	cases := []struct {
		level Level
		scope Scope
		want  bool
	}{
		{LevelOff, ScopeRun, false},
		{LevelError, ScopeRun, false},
		{LevelPhase, ScopeRun, true},
		{LevelPhase, ScopeFunc, false},
		{LevelDetail, ScopeLoop, true},
		{LevelDetail, ScopeEdge, false},
		{LevelDebug, ScopeEdge, true},
	}
	for _, c := range cases {
		if got := c.level.ShouldEmit(c.scope); got != c.want {
			t.Errorf("%s.ShouldEmit(%s) = %v", c.level, c.scope, got)
		}
	}
	if _, err := ParseLevel("loud"); err == nil {
		t.Errorf("ParseLevel accepted an unknown level")
	}
}

func TestSpanWritesNDJSON(t *testing.T) {
	var buf bytes.Buffer
	tr, err := New(Config{Level: LevelDetail, Mode: ModeStream, Format: FormatNDJSON, Output: &buf})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	span := Begin(tr, ScopeFunc, "func:fib", 0)
	span.WithExtra("value", "55").End("ok")
	if err := tr.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines:\n%s", len(lines), buf.String())
	}
	var end struct {
		Kind   string            `json:"kind"`
		Name   string            `json:"name"`
		SpanID uint64            `json:"span_id"`
		Detail string            `json:"detail"`
		Extra  map[string]string `json:"extra"`
	}
	if err := json.Unmarshal([]byte(lines[1]), &end); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if end.Kind != "end" || end.Name != "func:fib" || end.Detail != "ok" || end.Extra["value"] != "55" {
		t.Fatalf("end event = %+v", end)
	}
	if end.SpanID != span.ID() {
		t.Fatalf("span id %d, want %d", end.SpanID, span.ID())
	}
}

func TestSpanBelowLevelIsSilent(t *testing.T) {
	var buf bytes.Buffer
	tr := NewStreamTracer(&buf, LevelPhase, FormatText)
	Begin(tr, ScopeLoop, "loop:f:L0", 0).End("")
	if buf.Len() != 0 {
		t.Fatalf("unexpected output %q", buf.String())
	}
}

func TestContextCarriesTracerAndSpan(t *testing.T) {
	if FromContext(context.Background()) != Nop {
		t.Fatalf("empty context should yield Nop")
	}
	r := NewRingTracer(8, LevelPhase)
	ctx := WithTracer(context.Background(), r)
	span := Begin(FromContext(ctx), ScopeRun, "run", CurrentSpan(ctx).SpanID)
	ctx = WithSpanContext(ctx, span.Context())

	child := Begin(FromContext(ctx), ScopeRun, "child", CurrentSpan(ctx).SpanID)
	child.End("")
	span.End("")

	events := r.Snapshot()
	if len(events) != 4 || events[1].Name != "child" || events[1].ParentID != span.ID() {
		t.Fatalf("events = %+v", events)
	}
	if (&Span{tracer: Nop}).Context() != (SpanContext{}) {
		t.Fatalf("unrecorded span should have a zero context")
	}
}
