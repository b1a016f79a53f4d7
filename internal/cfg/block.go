package cfg

import (
	"sync"
	"sync/atomic"

	"blockvm/internal/frame"
)

// Block is a straight-line statement sequence ending in one terminator.
// Apart from the lazily resolved statement list and the branch counters it
// is never mutated after its Func is sealed.
type Block struct {
	ID    BlockID
	Stmts []StmtID
	Term  Terminator

	// NullableBefore lists slots dead on entry; NullableAfter lists slots
	// dead once the block is left.
	NullableBefore []frame.SlotID
	NullableAfter  []frame.SlotID

	// Lazy, when set, builds the statement list on first execution instead
	// of resolving Stmts from the arena.
	Lazy func() []Stmt

	once  sync.Once
	ready atomic.Bool
	body  []Stmt
	taken []atomic.Uint64
}

// InitializeLazily resolves the block's statements the first time the block
// is reached. It is safe to call from concurrent activations.
func (b *Block) InitializeLazily(nodes *Nodes) {
	b.once.Do(func() {
		defer b.ready.Store(true)
		if b.Lazy != nil {
			b.body = b.Lazy()
			return
		}
		body := make([]Stmt, len(b.Stmts))
		for i, id := range b.Stmts {
			body[i] = nodes.Stmt(id)
		}
		b.body = body
	})
}

// Initialized reports whether the statement list has been resolved.
func (b *Block) Initialized() bool {
	return b.ready.Load()
}

// Execute runs every statement in order. InitializeLazily must have run.
// A statement error stops the block and is returned as is, so exceptions
// escape to the host unchanged.
func (b *Block) Execute(fr *frame.Frame) error {
	for _, s := range b.body {
		if err := s.Exec(fr); err != nil {
			return err
		}
	}
	return nil
}

// Terminator returns the block's terminator.
func (b *Block) Terminator() *Terminator {
	return &b.Term
}

// RecordTaken counts one traversal of edge i. Concurrent activations may
// race on the counters; the result is a profile, not a correctness input.
func (b *Block) RecordTaken(i int) {
	if i < 0 || i >= len(b.taken) {
		return
	}
	b.taken[i].Add(1)
}

// BranchProbability estimates how often edge i is taken. Without samples
// all edges are equally likely.
func (b *Block) BranchProbability(i int) float64 {
	n := len(b.taken)
	if i < 0 || i >= n {
		return 0
	}
	var total uint64
	for j := range b.taken {
		total += b.taken[j].Load()
	}
	if total == 0 {
		return 1 / float64(n)
	}
	return float64(b.taken[i].Load()) / float64(total)
}

// TakenCount returns the raw counter of edge i.
func (b *Block) TakenCount(i int) uint64 {
	if i < 0 || i >= len(b.taken) {
		return 0
	}
	return b.taken[i].Load()
}

func (b *Block) allocCounters() {
	b.taken = make([]atomic.Uint64, b.Term.NumSuccessors())
}
