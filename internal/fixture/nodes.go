package fixture

import (
	"errors"
	"fmt"
	"strings"

	"blockvm/internal/cfg"
	"blockvm/internal/frame"
)

// ErrFailed is returned by the fail statement. It is not an exception and
// is never caught by an invoke.
var ErrFailed = errors.New("fixture: fail")

// operand is a slot read or a literal.
type operand struct {
	slot frame.SlotID // frame.NoSlot for literals
	lit  frame.Value
	name string
}

func (o operand) value(fr *frame.Frame) (frame.Value, error) {
	if o.slot == frame.NoSlot {
		return o.lit, nil
	}
	return fr.Read(o.slot)
}

func (o operand) String() string {
	if o.slot == frame.NoSlot {
		return o.lit.String()
	}
	return o.name
}

func readsOf(ops ...operand) []frame.SlotID {
	var out []frame.SlotID
	for _, o := range ops {
		if o.slot != frame.NoSlot {
			out = append(out, o.slot)
		}
	}
	return out
}

func joinOperands(ops []operand) string {
	parts := make([]string, len(ops))
	for i, o := range ops {
		parts[i] = o.String()
	}
	return strings.Join(parts, ", ")
}

// node is what every expression in a fixture provides.
type node interface {
	cfg.Expr
	cfg.SlotUser
	fmt.Stringer
}

// unaryExpr covers const, copy, neg, not and payload.
type unaryExpr struct {
	op string
	x  operand
}

func (e unaryExpr) Eval(fr *frame.Frame) (frame.Value, error) {
	v, err := e.x.value(fr)
	if err != nil {
		return frame.Value{}, err
	}
	switch e.op {
	case "const", "copy":
		return v, nil
	case "neg":
		switch v.Kind {
		case frame.KindInt:
			return frame.Int(-v.AsInt()), nil
		case frame.KindFloat:
			return frame.Float(-v.AsFloat()), nil
		}
	case "not":
		if v.Kind == frame.KindBool {
			return frame.Bool(!v.AsBool()), nil
		}
	case "payload":
		if exc, ok := v.AsRef().(*frame.Exception); ok && v.Kind == frame.KindRef {
			return exc.Payload, nil
		}
	}
	return frame.Value{}, fmt.Errorf("%s: unsupported operand %s", e.op, v.Kind)
}

func (e unaryExpr) String() string {
	if e.op == "const" || e.op == "copy" {
		return e.x.String()
	}
	return e.op + "(" + e.x.String() + ")"
}

func (e unaryExpr) SlotReads() []frame.SlotID { return readsOf(e.x) }
func (unaryExpr) SlotWrites() []frame.SlotID  { return nil }

// binaryExpr covers arithmetic and comparisons. Mixed int/float operands are
// computed as floats.
type binaryExpr struct {
	op   string
	x, y operand
}

var binarySymbols = map[string]string{
	"add": "+", "sub": "-", "mul": "*", "lt": "<", "le": "<=", "eq": "==", "ne": "!=",
}

func (e binaryExpr) Eval(fr *frame.Frame) (frame.Value, error) {
	x, err := e.x.value(fr)
	if err != nil {
		return frame.Value{}, err
	}
	y, err := e.y.value(fr)
	if err != nil {
		return frame.Value{}, err
	}
	switch e.op {
	case "eq":
		return frame.Bool(x.Equal(y)), nil
	case "ne":
		return frame.Bool(!x.Equal(y)), nil
	}

	if x.Kind == frame.KindInt && y.Kind == frame.KindInt {
		a, b := x.AsInt(), y.AsInt()
		switch e.op {
		case "add":
			return frame.Int(a + b), nil
		case "sub":
			return frame.Int(a - b), nil
		case "mul":
			return frame.Int(a * b), nil
		case "lt":
			return frame.Bool(a < b), nil
		case "le":
			return frame.Bool(a <= b), nil
		}
	}
	a, aok := asFloat(x)
	b, bok := asFloat(y)
	if !aok || !bok {
		return frame.Value{}, fmt.Errorf("%s: want numbers, got %s and %s", e.op, x.Kind, y.Kind)
	}
	switch e.op {
	case "add":
		return frame.Float(a + b), nil
	case "sub":
		return frame.Float(a - b), nil
	case "mul":
		return frame.Float(a * b), nil
	case "lt":
		return frame.Bool(a < b), nil
	case "le":
		return frame.Bool(a <= b), nil
	}
	return frame.Value{}, fmt.Errorf("unknown operator %q", e.op)
}

func asFloat(v frame.Value) (float64, bool) {
	switch v.Kind {
	case frame.KindInt:
		return float64(v.AsInt()), true
	case frame.KindFloat:
		return v.AsFloat(), true
	default:
		return 0, false
	}
}

func (e binaryExpr) String() string {
	return e.x.String() + " " + binarySymbols[e.op] + " " + e.y.String()
}

func (e binaryExpr) SlotReads() []frame.SlotID { return readsOf(e.x, e.y) }
func (binaryExpr) SlotWrites() []frame.SlotID  { return nil }

// assignStmt stores an expression into a slot.
type assignStmt struct {
	dst     frame.SlotID
	dstName string
	src     node
}

func (s assignStmt) Exec(fr *frame.Frame) error {
	v, err := s.src.Eval(fr)
	if err != nil {
		return err
	}
	fr.Set(s.dst, v)
	return nil
}

func (s assignStmt) String() string { return s.dstName + " = " + s.src.String() }

func (s assignStmt) SlotReads() []frame.SlotID  { return s.src.SlotReads() }
func (s assignStmt) SlotWrites() []frame.SlotID { return []frame.SlotID{s.dst} }

// throwStmt raises an exception carrying its operand.
type throwStmt struct{ x operand }

func (s throwStmt) Exec(fr *frame.Frame) error {
	v, err := s.x.value(fr)
	if err != nil {
		return err
	}
	return frame.Throw(v)
}

func (s throwStmt) String() string { return "throw " + s.x.String() }

func (s throwStmt) SlotReads() []frame.SlotID { return readsOf(s.x) }
func (throwStmt) SlotWrites() []frame.SlotID  { return nil }

// failStmt returns a host error.
type failStmt struct{ msg string }

func (s failStmt) Exec(*frame.Frame) error {
	return fmt.Errorf("%w: %s", ErrFailed, s.msg)
}

func (s failStmt) String() string { return fmt.Sprintf("fail %q", s.msg) }

func (failStmt) SlotReads() []frame.SlotID  { return nil }
func (failStmt) SlotWrites() []frame.SlotID { return nil }

// printStmt writes its operands to the module output.
type printStmt struct {
	m    *Module
	args []operand
}

func (s printStmt) Exec(fr *frame.Frame) error {
	parts := make([]string, len(s.args))
	for i, a := range s.args {
		v, err := a.value(fr)
		if err != nil {
			return err
		}
		parts[i] = v.String()
	}
	s.m.println(strings.Join(parts, " "))
	return nil
}

func (s printStmt) String() string { return "print " + joinOperands(s.args) }

func (s printStmt) SlotReads() []frame.SlotID { return readsOf(s.args...) }
func (printStmt) SlotWrites() []frame.SlotID  { return nil }

// callStmt runs another function of the module in a fresh activation.
// Exceptions it does not catch come back to the caller unchanged.
type callStmt struct {
	m       *Module
	callee  string
	args    []operand
	dst     frame.SlotID // frame.NoSlot to discard the result
	dstName string
}

func (s callStmt) Exec(fr *frame.Frame) error {
	args := make([]frame.Value, len(s.args))
	for i, a := range s.args {
		v, err := a.value(fr)
		if err != nil {
			return err
		}
		args[i] = v
	}
	res, err := s.m.Call(s.callee, args...)
	if err != nil {
		return err
	}
	if s.dst != frame.NoSlot {
		fr.Set(s.dst, res.Value)
	}
	return nil
}

func (s callStmt) String() string {
	call := fmt.Sprintf("call %s(%s)", s.callee, joinOperands(s.args))
	if s.dst == frame.NoSlot {
		return call
	}
	return s.dstName + " = " + call
}

func (s callStmt) SlotReads() []frame.SlotID { return readsOf(s.args...) }

func (s callStmt) SlotWrites() []frame.SlotID {
	if s.dst == frame.NoSlot {
		return nil
	}
	return []frame.SlotID{s.dst}
}
