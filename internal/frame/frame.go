package frame

import "fmt"

// SlotID indexes a slot within a Frame.
type SlotID int32

// NoSlot marks an absent slot reference.
const NoSlot SlotID = -1

// SlotDesc declares one slot of a function's frame layout.
type SlotDesc struct {
	Name string
	Kind Kind
}

// Layout is the ordered slot declaration list of one function.
type Layout []SlotDesc

// Slot holds the runtime state of one frame slot.
type Slot struct {
	V    Value  // Current value
	Live bool   // True if written since the last clear
	Name string // Debug name from the layout
	Kind Kind   // Declared kind
}

// Frame is the mutable storage of one activation. It is owned by the
// goroutine running that activation and is never shared.
type Frame struct {
	Slots []Slot
}

// New creates a frame with every slot dead.
func New(layout Layout) *Frame {
	slots := make([]Slot, len(layout))
	for i, d := range layout {
		slots[i] = Slot{
			V:    EmptyOf(d.Kind),
			Name: d.Name,
			Kind: d.Kind,
		}
	}
	return &Frame{Slots: slots}
}

// Len returns the number of slots.
func (f *Frame) Len() int { return len(f.Slots) }

// Valid reports whether id addresses a slot of this frame.
func (f *Frame) Valid(id SlotID) bool {
	return id >= 0 && int(id) < len(f.Slots)
}

// Get returns the slot value; dead slots yield their empty representation.
func (f *Frame) Get(id SlotID) Value {
	return f.Slots[id].V
}

// Read returns the slot value or an error if the slot is dead.
func (f *Frame) Read(id SlotID) (Value, error) {
	if !f.Valid(id) {
		return Value{}, fmt.Errorf("slot %d out of range (frame has %d slots)", id, len(f.Slots))
	}
	s := &f.Slots[id]
	if !s.Live {
		return Value{}, fmt.Errorf("slot %d (%s) read while dead", id, s.Name)
	}
	return s.V, nil
}

// Set stores v and marks the slot live.
func (f *Frame) Set(id SlotID, v Value) {
	s := &f.Slots[id]
	s.V = v
	s.Live = true
}

// Clear resets the slot to its kind's empty representation so the host can
// reclaim anything it referenced.
func (f *Frame) Clear(id SlotID) {
	s := &f.Slots[id]
	s.V = EmptyOf(s.Kind)
	s.Live = false
}

// IsLive reports whether the slot has been written since its last clear.
func (f *Frame) IsLive(id SlotID) bool {
	return f.Slots[id].Live
}

// Snapshot copies the current slot values, dead slots included.
func (f *Frame) Snapshot() []Value {
	out := make([]Value, len(f.Slots))
	for i := range f.Slots {
		out[i] = f.Slots[i].V
	}
	return out
}

// Clone returns an independent copy of the frame.
func (f *Frame) Clone() *Frame {
	slots := make([]Slot, len(f.Slots))
	copy(slots, f.Slots)
	return &Frame{Slots: slots}
}
