package cfg

import (
	"fortio.org/safecast"

	"blockvm/internal/frame"
)

// Stmt is an opaque straight-line statement.
type Stmt interface {
	Exec(fr *frame.Frame) error
}

// Expr is an opaque expression producing a value.
type Expr interface {
	Eval(fr *frame.Frame) (frame.Value, error)
}

// Case tests a switch value against one case.
type Case interface {
	Matches(fr *frame.Frame, v frame.Value) (bool, error)
}

// SlotUser is implemented by nodes that can report which slots they touch.
// Phi classification and liveness derivation treat nodes without it
// conservatively.
type SlotUser interface {
	SlotReads() []frame.SlotID
	SlotWrites() []frame.SlotID
}

// StmtFunc adapts a function to Stmt.
type StmtFunc func(fr *frame.Frame) error

// Exec calls f.
func (f StmtFunc) Exec(fr *frame.Frame) error { return f(fr) }

// ExprFunc adapts a function to Expr.
type ExprFunc func(fr *frame.Frame) (frame.Value, error)

// Eval calls f.
func (f ExprFunc) Eval(fr *frame.Frame) (frame.Value, error) { return f(fr) }

// CaseFunc adapts a function to Case.
type CaseFunc func(fr *frame.Frame, v frame.Value) (bool, error)

// Matches calls f.
func (f CaseFunc) Matches(fr *frame.Frame, v frame.Value) (bool, error) { return f(fr, v) }

// CaseEquals matches values equal to want.
func CaseEquals(want frame.Value) Case {
	return caseEquals{want: want}
}

type caseEquals struct{ want frame.Value }

func (c caseEquals) Matches(_ *frame.Frame, v frame.Value) (bool, error) {
	return c.want.Equal(v), nil
}

func (c caseEquals) String() string { return "== " + c.want.String() }

func (caseEquals) SlotReads() []frame.SlotID  { return nil }
func (caseEquals) SlotWrites() []frame.SlotID { return nil }

// SlotRef reads a single slot. It reports its read so phi batches built from
// it can be classified precisely.
type SlotRef frame.SlotID

// Eval reads the slot, failing if it is dead.
func (s SlotRef) Eval(fr *frame.Frame) (frame.Value, error) {
	return fr.Read(frame.SlotID(s))
}

// SlotReads implements SlotUser.
func (s SlotRef) SlotReads() []frame.SlotID { return []frame.SlotID{frame.SlotID(s)} }

// SlotWrites implements SlotUser.
func (SlotRef) SlotWrites() []frame.SlotID { return nil }

// Const yields a fixed value.
type Const frame.Value

// Eval returns the constant.
func (c Const) Eval(*frame.Frame) (frame.Value, error) { return frame.Value(c), nil }

// SlotReads implements SlotUser.
func (Const) SlotReads() []frame.SlotID { return nil }

// SlotWrites implements SlotUser.
func (Const) SlotWrites() []frame.SlotID { return nil }

// Nodes is the arena holding every statement, expression and case of one
// function. Terminators and blocks refer to nodes by index.
type Nodes struct {
	exprs []Expr
	stmts []Stmt
	cases []Case
}

// AddExpr appends e and returns its id.
func (n *Nodes) AddExpr(e Expr) ExprID {
	id, err := safecast.Conv[ExprID](len(n.exprs))
	if err != nil {
		panic(err)
	}
	n.exprs = append(n.exprs, e)
	return id
}

// AddStmt appends s and returns its id.
func (n *Nodes) AddStmt(s Stmt) StmtID {
	id, err := safecast.Conv[StmtID](len(n.stmts))
	if err != nil {
		panic(err)
	}
	n.stmts = append(n.stmts, s)
	return id
}

// AddCase appends c and returns its id.
func (n *Nodes) AddCase(c Case) CaseID {
	id, err := safecast.Conv[CaseID](len(n.cases))
	if err != nil {
		panic(err)
	}
	n.cases = append(n.cases, c)
	return id
}

// Expr returns the expression with the given id.
func (n *Nodes) Expr(id ExprID) Expr { return n.exprs[id] }

// Stmt returns the statement with the given id.
func (n *Nodes) Stmt(id StmtID) Stmt { return n.stmts[id] }

// Case returns the case matcher with the given id.
func (n *Nodes) Case(id CaseID) Case { return n.cases[id] }

// HasExpr reports whether id is a valid expression id.
func (n *Nodes) HasExpr(id ExprID) bool { return id >= 0 && int(id) < len(n.exprs) }

// HasStmt reports whether id is a valid statement id.
func (n *Nodes) HasStmt(id StmtID) bool { return id >= 0 && int(id) < len(n.stmts) }

// HasCase reports whether id is a valid case id.
func (n *Nodes) HasCase(id CaseID) bool { return id >= 0 && int(id) < len(n.cases) }

// Counts returns the number of expressions, statements and cases.
func (n *Nodes) Counts() (exprs, stmts, cases int) {
	return len(n.exprs), len(n.stmts), len(n.cases)
}
