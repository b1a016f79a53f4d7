package vm

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"blockvm/internal/cfg"
	"blockvm/internal/frame"
)

// Tracer writes a line per dispatched block, edge and tier transfer.
// Concurrent activations may share one Tracer.
type Tracer struct {
	mu sync.Mutex
	w  io.Writer
}

// NewTracer creates a new tracer that writes to w.
func NewTracer(w io.Writer) *Tracer {
	return &Tracer{w: w}
}

func (t *Tracer) printf(format string, args ...any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintf(t.w, format, args...)
}

// TraceBlock traces entry into a block.
// Format: [depth=N] <func> bb<id> (<n> stmts)
func (t *Tracer) TraceBlock(depth int, fn string, bb *cfg.Block) {
	if t == nil || t.w == nil {
		return
	}
	t.printf("[depth=%d] %s %s (%d stmts)\n", depth, fn, bb.ID, len(bb.Stmts))
}

// TraceEdge traces a taken edge together with the slots it wrote and cleared.
// Format: [depth=N] <func> bb<from> -[i]-> bb<to> phi{...} clear{...}
func (t *Tracer) TraceEdge(depth int, fn string, from *cfg.Block, index int, to cfg.BlockID, phi *cfg.PhiBatch, cleared []frame.SlotID) {
	if t == nil || t.w == nil {
		return
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "[depth=%d] %s %s -[%d]-> %s", depth, fn, from.ID, index, to)
	if targets := phi.Targets(); len(targets) > 0 {
		sb.WriteString(" phi")
		writeSlots(&sb, targets)
	}
	if len(cleared) > 0 {
		sb.WriteString(" clear")
		writeSlots(&sb, cleared)
	}
	sb.WriteString("\n")
	t.printf("%s", sb.String())
}

// TraceBackEdge traces a backward transition and the updated counter.
func (t *Tracer) TraceBackEdge(depth int, fn string, from, to cfg.BlockID, c Counter) {
	if t == nil || t.w == nil {
		return
	}
	t.printf("[depth=%d] %s back-edge %s -> %s count=%d\n", depth, fn, from, to, c.BackEdges)
}

// TraceOSR traces a transfer attempt.
func (t *Tracer) TraceOSR(depth int, fn string, target cfg.BlockID, c Counter, taken bool) {
	if t == nil || t.w == nil {
		return
	}
	outcome := "declined"
	if taken {
		outcome = "transferred"
	}
	t.printf("[depth=%d] %s osr at %s count=%d %s\n", depth, fn, target, c.BackEdges, outcome)
}

// TraceLoop traces entry into or exit from a loop dispatcher.
func (t *Tracer) TraceLoop(depth int, fn string, l *cfg.LoopBody, exit cfg.BlockID) {
	if t == nil || t.w == nil {
		return
	}
	if exit == cfg.NoBlock {
		t.printf("[depth=%d] %s loop L%d enter %s\n", depth, fn, l.ID, l.Header)
		return
	}
	t.printf("[depth=%d] %s loop L%d exit -> %s\n", depth, fn, l.ID, exit)
}

// TraceReturn traces the value leaving the function.
func (t *Tracer) TraceReturn(depth int, fn string, bb cfg.BlockID, v frame.Value) {
	if t == nil || t.w == nil {
		return
	}
	t.printf("[depth=%d] %s %s ret %s\n", depth, fn, bb, v)
}

func writeSlots(sb *strings.Builder, slots []frame.SlotID) {
	sb.WriteString("{")
	for i, s := range slots {
		if i > 0 {
			sb.WriteString(" ")
		}
		fmt.Fprintf(sb, "S%d", s)
	}
	sb.WriteString("}")
}
