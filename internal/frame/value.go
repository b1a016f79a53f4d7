// Package frame holds runtime values and the per-activation slot storage
// that basic-block dispatch reads and writes.
package frame

import (
	"fmt"
	"math"
)

// Kind identifies the runtime type of a Value or the declared type of a slot.
type Kind uint8

const (
	// KindEmpty is the kind of a value read from a dead slot.
	KindEmpty Kind = iota
	// KindBool represents a boolean value.
	KindBool
	// KindInt represents a signed 64-bit integer value.
	KindInt
	// KindFloat represents a 64-bit float value.
	KindFloat
	// KindRef represents a reference to a host object.
	KindRef
)

// String returns a human-readable name for the kind.
func (k Kind) String() string {
	switch k {
	case KindEmpty:
		return "empty"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindRef:
		return "ref"
	default:
		return fmt.Sprintf("Kind(%d)", k)
	}
}

// ParseKind converts a kind name into a Kind.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "bool":
		return KindBool, nil
	case "int", "i64":
		return KindInt, nil
	case "float", "f64":
		return KindFloat, nil
	case "ref", "object":
		return KindRef, nil
	default:
		return KindEmpty, fmt.Errorf("invalid slot kind: %q (expected: bool|int|float|ref)", s)
	}
}

// Value is a tagged runtime value.
type Value struct {
	Kind Kind
	bits uint64
	ref  any
}

// Bool constructs a boolean value.
func Bool(b bool) Value {
	v := Value{Kind: KindBool}
	if b {
		v.bits = 1
	}
	return v
}

// Int constructs an integer value.
func Int(i int64) Value {
	return Value{Kind: KindInt, bits: uint64(i)}
}

// Float constructs a float value.
func Float(f float64) Value {
	return Value{Kind: KindFloat, bits: math.Float64bits(f)}
}

// Ref constructs a reference value. A nil object yields a null reference.
func Ref(obj any) Value {
	return Value{Kind: KindRef, ref: obj}
}

// EmptyOf returns the empty representation of a slot of the given kind:
// false, zero, or a null reference.
func EmptyOf(k Kind) Value {
	return Value{Kind: k}
}

// IsEmpty reports whether v is the empty representation of its kind.
func (v Value) IsEmpty() bool {
	return v.bits == 0 && v.ref == nil
}

// AsBool returns the boolean payload.
func (v Value) AsBool() bool { return v.bits != 0 }

// AsInt returns the integer payload.
func (v Value) AsInt() int64 { return int64(v.bits) }

// AsFloat returns the float payload.
func (v Value) AsFloat() float64 { return math.Float64frombits(v.bits) }

// AsRef returns the referenced object, nil for null references.
func (v Value) AsRef() any { return v.ref }

// Equal compares kind and payload. References compare by identity.
func (v Value) Equal(o Value) bool {
	if v.Kind != o.Kind {
		return false
	}
	if v.Kind == KindRef {
		return v.ref == o.ref
	}
	return v.bits == o.bits
}

// String formats the value for traces and dumps.
func (v Value) String() string {
	switch v.Kind {
	case KindEmpty:
		return "<empty>"
	case KindBool:
		if v.AsBool() {
			return "true"
		}
		return "false"
	case KindInt:
		return fmt.Sprintf("%d", v.AsInt())
	case KindFloat:
		return fmt.Sprintf("%g", v.AsFloat())
	case KindRef:
		if v.ref == nil {
			return "null"
		}
		if s, ok := v.ref.(fmt.Stringer); ok {
			return s.String()
		}
		return fmt.Sprintf("ref(%T)", v.ref)
	default:
		return fmt.Sprintf("<?value:%d>", v.Kind)
	}
}
