package cfg

import "blockvm/internal/frame"

// PhiWrite assigns the value of an expression to a slot when an edge is taken.
type PhiWrite struct {
	Slot  frame.SlotID
	Value ExprID
}

// Assign is shorthand for a PhiWrite.
func Assign(slot frame.SlotID, value ExprID) PhiWrite {
	return PhiWrite{Slot: slot, Value: value}
}

// PhiBatch is the parallel assignment performed on one edge. CyclicReads and
// CyclicWrites are positionally paired; every cyclic read is evaluated before
// any write of the batch happens.
type PhiBatch struct {
	CyclicReads  []ExprID
	CyclicWrites []frame.SlotID
	Writes       []PhiWrite
}

// Empty reports whether the batch performs no writes.
func (p *PhiBatch) Empty() bool {
	return p == nil || (len(p.CyclicWrites) == 0 && len(p.CyclicReads) == 0 && len(p.Writes) == 0)
}

// Len returns the total number of slots written by the batch.
func (p *PhiBatch) Len() int {
	if p == nil {
		return 0
	}
	return len(p.CyclicWrites) + len(p.Writes)
}

// Targets returns every slot the batch writes.
func (p *PhiBatch) Targets() []frame.SlotID {
	if p == nil {
		return nil
	}
	out := make([]frame.SlotID, 0, p.Len())
	out = append(out, p.CyclicWrites...)
	for _, w := range p.Writes {
		out = append(out, w.Slot)
	}
	return out
}

// SplitPhi classifies writes into cyclic and ordinary entries. A write is
// cyclic when its value may read a slot written by the same batch; values
// that do not implement SlotUser are assumed to read anything.
func SplitPhi(nodes *Nodes, writes ...PhiWrite) PhiBatch {
	var batch PhiBatch
	if len(writes) == 0 {
		return batch
	}
	written := make(map[frame.SlotID]struct{}, len(writes))
	for _, w := range writes {
		written[w.Slot] = struct{}{}
	}
	for _, w := range writes {
		if phiReadsAny(nodes, w.Value, written) {
			batch.CyclicReads = append(batch.CyclicReads, w.Value)
			batch.CyclicWrites = append(batch.CyclicWrites, w.Slot)
			continue
		}
		batch.Writes = append(batch.Writes, w)
	}
	return batch
}

func phiReadsAny(nodes *Nodes, id ExprID, written map[frame.SlotID]struct{}) bool {
	if nodes == nil || !nodes.HasExpr(id) {
		return true
	}
	user, ok := nodes.Expr(id).(SlotUser)
	if !ok {
		return true
	}
	for _, s := range user.SlotReads() {
		if _, hit := written[s]; hit {
			return true
		}
	}
	return false
}
