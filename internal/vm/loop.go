package vm

import (
	"fmt"

	"blockvm/internal/cfg"
	"blockvm/internal/frame"
	"blockvm/internal/trace"
)

// runLoop is the loop dispatcher: it repeats the body of l starting at its
// header. Reaching the header again continues the loop; reaching a block
// outside the body stores that block in the loop successor slot and breaks.
// Nested loops appear as wrappers and run in their own loop dispatcher.
func (d *dispatcher) runLoop(l *cfg.LoopBody) (status, error) {
	view := d.fn.LoopView(l)
	d.depth++
	defer func() { d.depth-- }()
	d.in.opts.Trace.TraceLoop(d.depth, d.fn.Name, l, cfg.NoBlock)
	span := trace.Begin(d.in.opts.Events, trace.ScopeLoop, fmt.Sprintf("loop:%s:L%d", d.fn.Name, l.ID), d.span)
	defer span.End("")
	if id := span.ID(); id != 0 {
		outer := d.span
		d.span = id
		defer func() { d.span = outer }()
	}

	cur := l.Header
	for {
		bb := view.Block(cur)
		if bb == nil {
			return status{}, d.eb.badBlock(cur, cur)
		}
		st, err := d.step(view, bb)
		if err != nil || st.kind == statusReturn {
			return st, err
		}
		next := st.next

		if (next == l.Header || next <= bb.ID) && !st.settled {
			v, done, err := d.backEdge(bb.ID, next)
			if err != nil {
				return status{}, err
			}
			if done {
				return returned(v), nil
			}
		}

		switch {
		case next == l.Header:
			cur = l.Header
		case !l.Contains(next):
			d.fr.Set(d.fn.LoopSuccessorSlot, frame.Int(int64(next)))
			d.in.opts.Trace.TraceLoop(d.depth, d.fn.Name, l, next)
			span.WithExtra("exit", next.String())
			return status{kind: statusBreak, next: next}, nil
		default:
			cur = next
		}
	}
}
