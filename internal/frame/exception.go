package frame

import "fmt"

// Exception is the user-level exception a call may raise. Only this type is
// caught at an invoke's unwind edge; any other error propagates unchanged.
type Exception struct {
	Payload Value
}

// Throw creates an exception carrying payload.
func Throw(payload Value) *Exception {
	return &Exception{Payload: payload}
}

// Error implements the error interface.
func (e *Exception) Error() string {
	return fmt.Sprintf("exception: %s", e.Payload)
}

// String formats the exception for traces when it is stored in a slot.
func (e *Exception) String() string {
	return "exception(" + e.Payload.String() + ")"
}
