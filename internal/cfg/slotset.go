package cfg

import (
	"slices"

	"blockvm/internal/frame"
)

type slotSet map[frame.SlotID]struct{}

func (s slotSet) add(id frame.SlotID) { s[id] = struct{}{} }

func (s slotSet) has(id frame.SlotID) bool {
	_, ok := s[id]
	return ok
}

func (s slotSet) addAll(ids []frame.SlotID) {
	for _, id := range ids {
		s.add(id)
	}
}

// union merges src into dst and returns dst.
func union(dst, src slotSet) slotSet {
	if dst == nil {
		dst = slotSet{}
	}
	for id := range src {
		dst.add(id)
	}
	return dst
}

// subtract returns src minus sub as a new set.
func subtract(src, sub slotSet) slotSet {
	out := slotSet{}
	for id := range src {
		if !sub.has(id) {
			out.add(id)
		}
	}
	return out
}

func setEqual(a, b slotSet) bool {
	if len(a) != len(b) {
		return false
	}
	for id := range a {
		if !b.has(id) {
			return false
		}
	}
	return true
}

func (s slotSet) sorted() []frame.SlotID {
	if len(s) == 0 {
		return nil
	}
	out := make([]frame.SlotID, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}
