package ui

import (
	"errors"
	"strings"
	"testing"

	"blockvm/internal/bench"
)

func TestProgressModelCountsEvents(t *testing.T) {
	events := make(chan bench.Event)
	m := NewProgressModel("fib", 3, events).(*progressModel)

	for _, ev := range []bench.Event{
		{Activation: 0, Status: bench.StatusQueued},
		{Activation: 0, Status: bench.StatusRunning},
		{Activation: 1, Status: bench.StatusRunning},
		{Activation: 0, Status: bench.StatusDone, Transferred: true},
		{Activation: 1, Status: bench.StatusError, Err: errors.New("fault VM2001")},
	} {
		m.applyEvent(ev)
	}
	if m.running != 0 || m.finished != 1 || m.failed != 1 || m.transferred != 1 {
		t.Fatalf("counts: running=%d done=%d failed=%d osr=%d", m.running, m.finished, m.failed, m.transferred)
	}

	view := m.View()
	for _, want := range []string{"fib (2/3)", "done 1", "failed 1", "osr 1", "#0", "fault VM2001"} {
		if !strings.Contains(view, want) {
			t.Errorf("view lacks %q:\n%s", want, view)
		}
	}

	if _, cmd := m.Update(doneMsg{}); cmd == nil || !m.done {
		t.Fatalf("done message did not quit")
	}
	if !strings.Contains(m.View(), "done: fib") {
		t.Fatalf("final view: %s", m.View())
	}
}

func TestProgressModelKeepsRecentRows(t *testing.T) {
	m := NewProgressModel("x", 20, nil).(*progressModel)
	for i := range 20 {
		m.applyEvent(bench.Event{Activation: i, Status: bench.StatusDone})
	}
	if len(m.recent) != recentRows || m.recent[0].activation != 20-recentRows {
		t.Fatalf("recent = %+v", m.recent)
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("activation", 6); got != "act..." {
		t.Fatalf("truncate = %q", got)
	}
	if got := truncate("ab", 6); got != "ab" {
		t.Fatalf("truncate = %q", got)
	}
}
