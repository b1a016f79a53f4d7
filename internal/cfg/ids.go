// Package cfg describes a function as a graph of basic blocks whose
// terminators pick the next block. Blocks, terminators and phi batches are
// immutable once a Func is sealed and may be shared by concurrent activations.
package cfg

import "fmt"

// BlockID indexes a block within its Func.
type BlockID int32

const (
	// ReturnFromFunction is the successor of a return edge; reaching it
	// leaves the dispatch loop.
	ReturnFromFunction BlockID = -1
	// NoBlock marks an absent block reference.
	NoBlock BlockID = -2
)

func (id BlockID) String() string {
	switch id {
	case ReturnFromFunction:
		return "return"
	case NoBlock:
		return "none"
	default:
		return fmt.Sprintf("bb%d", int32(id))
	}
}

// ExprID indexes an expression in the node arena.
type ExprID int32

// StmtID indexes a statement in the node arena.
type StmtID int32

// CaseID indexes a switch case matcher in the node arena.
type CaseID int32

// LoopID indexes a loop body of a Func.
type LoopID int32

// NoExpr marks an absent expression.
const NoExpr ExprID = -1
