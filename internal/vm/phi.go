package vm

import (
	"blockvm/internal/cfg"
	"blockvm/internal/frame"
)

// ApplyPhi performs the parallel assignment of batch: every cyclic read is
// evaluated first, then the ordinary writes run, then the buffered cyclic
// values are stored.
func ApplyPhi(fr *frame.Frame, nodes *cfg.Nodes, batch *cfg.PhiBatch) error {
	var scratch []frame.Value
	return applyPhi(fr, nodes, batch, &scratch)
}

// applyPhi is ApplyPhi with a caller-owned buffer that is reused across edges.
func applyPhi(fr *frame.Frame, nodes *cfg.Nodes, batch *cfg.PhiBatch, scratch *[]frame.Value) error {
	if batch.Empty() {
		return nil
	}
	if len(batch.CyclicReads) != len(batch.CyclicWrites) {
		return newFault(FaultPhiArity, "phi batch has %d cyclic reads for %d cyclic writes",
			len(batch.CyclicReads), len(batch.CyclicWrites))
	}

	var buf []frame.Value
	if n := len(batch.CyclicReads); n > 0 {
		if cap(*scratch) < n {
			*scratch = make([]frame.Value, n)
		}
		buf = (*scratch)[:n]
		for i, id := range batch.CyclicReads {
			v, err := nodes.Expr(id).Eval(fr)
			if err != nil {
				return err
			}
			buf[i] = v
		}
	}

	for _, w := range batch.Writes {
		v, err := nodes.Expr(w.Value).Eval(fr)
		if err != nil {
			return err
		}
		if !fr.Valid(w.Slot) {
			return newFault(FaultBadSlot, "phi writes slot %d outside a frame of %d slots", w.Slot, fr.Len())
		}
		fr.Set(w.Slot, v)
	}

	for i, s := range batch.CyclicWrites {
		if !fr.Valid(s) {
			return newFault(FaultBadSlot, "phi writes slot %d outside a frame of %d slots", s, fr.Len())
		}
		fr.Set(s, buf[i])
	}
	clear(buf)
	return nil
}
