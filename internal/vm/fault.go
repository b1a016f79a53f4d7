package vm

import (
	"errors"
	"fmt"
	"strings"

	"blockvm/internal/cfg"
)

// FaultCode identifies the kind of invariant violation.
type FaultCode int

// Stable fault codes - do not change values.
const (
	FaultUnreachable    FaultCode = 2001 // VM2001: unreachable block reached
	FaultResume         FaultCode = 2002 // VM2002: resume reached
	FaultIndirectTarget FaultCode = 2003 // VM2003: indirect branch target not allowed
	FaultPhiArity       FaultCode = 2004 // VM2004: phi batch shape mismatch
	FaultBadBlock       FaultCode = 2005 // VM2005: block id out of range
	FaultLoopSuccessor  FaultCode = 2006 // VM2006: loop exit not among the loop's successors
	FaultCondition      FaultCode = 2007 // VM2007: branch condition is not a bool
	FaultBadSlot        FaultCode = 2008 // VM2008: slot id out of range
	FaultStepLimit      FaultCode = 2009 // VM2009: step budget exhausted
)

// String returns the code as "VM2001" format.
func (c FaultCode) String() string {
	return fmt.Sprintf("VM%d", c)
}

// Fault reports a malformed graph detected while dispatching. Faults end the
// activation; they are never caught by an invoke unwind edge.
type Fault struct {
	Code    FaultCode
	Message string
	Func    string
	Block   cfg.BlockID
	Trail   []cfg.BlockID // most recent blocks, oldest first
}

// Error implements the error interface.
func (f *Fault) Error() string {
	if f.Func == "" {
		return fmt.Sprintf("fault %s: %s", f.Code, f.Message)
	}
	return fmt.Sprintf("fault %s in %s %s: %s", f.Code, f.Func, f.Block, f.Message)
}

// Report formats the fault with the trail of blocks that led to it.
func (f *Fault) Report() string {
	var sb strings.Builder

	// Header: fault VM2001: <message>
	fmt.Fprintf(&sb, "fault %s: %s\n", f.Code, f.Message)
	if f.Func != "" {
		fmt.Fprintf(&sb, "at %s %s\n", f.Func, f.Block)
	}
	if len(f.Trail) > 0 {
		sb.WriteString("trail:\n")
		for i := len(f.Trail) - 1; i >= 0; i-- {
			fmt.Fprintf(&sb, "  %d: %s\n", len(f.Trail)-1-i, f.Trail[i])
		}
	}
	return sb.String()
}

// AsFault extracts a Fault from err.
func AsFault(err error) (*Fault, bool) {
	var f *Fault
	if errors.As(err, &f) {
		return f, true
	}
	return nil, false
}

func newFault(code FaultCode, format string, args ...any) *Fault {
	return &Fault{Code: code, Message: fmt.Sprintf(format, args...), Block: cfg.NoBlock}
}

// trailLen bounds the block history kept for fault reports.
const trailLen = 8

// faultBuilder stamps faults with the activation's position.
type faultBuilder struct {
	d *dispatcher
}

func (fb faultBuilder) at(bb cfg.BlockID, code FaultCode, format string, args ...any) *Fault {
	f := newFault(code, format, args...)
	return fb.locate(f, bb)
}

// locate fills in the position of a fault raised by a helper that did not
// know it.
func (fb faultBuilder) locate(f *Fault, bb cfg.BlockID) *Fault {
	if f.Func != "" {
		return f
	}
	f.Func = fb.d.in.fn.Name
	f.Block = bb
	f.Trail = fb.d.trail.list()
	return f
}

func (fb faultBuilder) unreachable(bb cfg.BlockID) *Fault {
	return fb.at(bb, FaultUnreachable, "unreachable block executed")
}

func (fb faultBuilder) resume(bb cfg.BlockID) *Fault {
	return fb.at(bb, FaultResume, "resume reached; no handler rethrows here")
}

func (fb faultBuilder) badBlock(bb, target cfg.BlockID) *Fault {
	return fb.at(bb, FaultBadBlock, "block %s does not exist", target)
}

func (fb faultBuilder) condition(bb cfg.BlockID, got string) *Fault {
	return fb.at(bb, FaultCondition, "branch condition must be bool, got %s", got)
}

// trail is a small ring of recently entered blocks.
type trail struct {
	ids  [trailLen]cfg.BlockID
	n    int
	head int
}

func (t *trail) push(id cfg.BlockID) {
	t.ids[t.head] = id
	t.head = (t.head + 1) % trailLen
	if t.n < trailLen {
		t.n++
	}
}

func (t *trail) list() []cfg.BlockID {
	out := make([]cfg.BlockID, 0, t.n)
	start := (t.head - t.n + trailLen) % trailLen
	for i := range t.n {
		out = append(out, t.ids[(start+i)%trailLen])
	}
	return out
}
