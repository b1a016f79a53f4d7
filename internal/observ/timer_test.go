package observ

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestTimerReportsPhasesInOrder(t *testing.T) {
	tm := NewTimer()
	if err := tm.Measure("load", func() error { return nil }); err != nil {
		t.Fatalf("measure: %v", err)
	}
	boom := errors.New("bad graph")
	if err := tm.Measure("seal", func() error { return boom }); !errors.Is(err, boom) {
		t.Fatalf("measure err = %v", err)
	}
	tm.End(7, "ignored")

	rep := tm.Report()
	if len(rep.Phases) != 2 || rep.Phases[0].Name != "load" || rep.Phases[1].Note != "failed: bad graph" {
		t.Fatalf("report = %+v", rep)
	}

	var buf bytes.Buffer
	if err := tm.Write(&buf); err != nil {
		t.Fatalf("write: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"timings:", "load", "seal", "// failed: bad graph", "total"} {
		if !strings.Contains(out, want) {
			t.Errorf("output lacks %q:\n%s", want, out)
		}
	}
}

func TestEmptyTimer(t *testing.T) {
	if rep := NewTimer().Report(); rep.TotalMS != 0 || rep.Phases != nil {
		t.Fatalf("report = %+v", rep)
	}
}
