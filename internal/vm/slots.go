package vm

import "blockvm/internal/frame"

// ClearSlots resets every listed slot to its kind's empty value. It runs on
// every edge, once for the slots dead after the source block and once for
// the slots dead before the target, whether or not the values look stale.
func ClearSlots(fr *frame.Frame, slots []frame.SlotID) {
	if len(slots) == 0 {
		return
	}
	for _, s := range slots {
		fr.Clear(s)
	}
}
