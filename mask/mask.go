// Package mask implements the bijection between sparse cursor identifiers
// and bit positions described in spec.md §4.2: MaskSet, and the Bitmask
// value type used everywhere else in the planner to represent sets of
// FROM-list tables.
package mask

import "github.com/ryogrid/wherecore/common"

// Bitmask is a set of up to common.MaxJoinTables cursors, one bit per
// FROM-list position. It is a value type, copied freely.
type Bitmask uint64

// Empty is the Bitmask with no members.
const Empty Bitmask = 0

// Union, Intersect and the rest are plain bit ops kept as methods so call
// sites read as set algebra rather than bit-twiddling.
func (b Bitmask) Union(o Bitmask) Bitmask     { return b | o }
func (b Bitmask) Intersect(o Bitmask) Bitmask { return b & o }
func (b Bitmask) Without(o Bitmask) Bitmask   { return b &^ o }
func (b Bitmask) IsSubsetOf(o Bitmask) bool   { return b&o == b }
func (b Bitmask) Disjoint(o Bitmask) bool     { return b&o == 0 }
func (b Bitmask) IsEmpty() bool               { return b == 0 }

// PopCount returns the number of member cursors, used for tie-breaking
// (spec.md §4.1 "fewer prerequisite bits") and for invariant checks
// (spec.md §8 property 2: popcount(maskLoop) == depth).
func (b Bitmask) PopCount() int {
	n := 0
	for b != 0 {
		b &= b - 1
		n++
	}
	return n
}

// AllBelow returns the mask of the first n bits: (1<<n)-1. spec.md §4.2
// relies on this being exactly the mask of a FROM-list prefix of length n.
func AllBelow(n int) Bitmask {
	if n <= 0 {
		return Empty
	}
	if n >= 64 {
		return Bitmask(^uint64(0))
	}
	return Bitmask(uint64(1)<<uint(n) - 1)
}

// CursorID is the caller-supplied, possibly-sparse identifier for one
// FROM-list entry (e.g. a VDBE cursor number). MaskSet maps these to
// dense bit positions.
type CursorID int32

// CursorSet is a small set of CursorIDs, used by expression nodes to
// report which tables they reference without needing to know bit
// positions — only a MaskSet can turn a CursorSet into a Bitmask, since
// only it knows the FROM-list order.
type CursorSet map[CursorID]struct{}

// NewCursorSet returns a CursorSet containing exactly ids.
func NewCursorSet(ids ...CursorID) CursorSet {
	s := make(CursorSet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

// Union returns a new set containing every member of s and o.
func (s CursorSet) Union(o CursorSet) CursorSet {
	out := make(CursorSet, len(s)+len(o))
	for id := range s {
		out[id] = struct{}{}
	}
	for id := range o {
		out[id] = struct{}{}
	}
	return out
}

// ToBitmask resolves every member cursor through ms, ignoring cursors ms
// never assigned a bit to.
func (s CursorSet) ToBitmask(ms *MaskSet) Bitmask {
	var b Bitmask
	for id := range s {
		b = b.Union(ms.MaskOf(id))
	}
	return b
}

// MaskSet is the ordered cursor-id -> bit-position bijection of
// spec.md §4.2. It is built once per planning call and never mutated
// after all FROM-list entries have been assigned, per spec.md §3
// ("built once per planning call; immutable thereafter").
type MaskSet struct {
	ids []CursorID
}

// NewMaskSet returns an empty MaskSet ready to have FROM-list cursors
// assigned to it in FROM order.
func NewMaskSet() *MaskSet {
	return &MaskSet{ids: make([]CursorID, 0, 8)}
}

// Assign appends a new bit position for cursor and returns it, or
// returns (-1, false) if the join already has common.MaxJoinTables
// members — the "64-table join" boundary of spec.md §5/§8.
func (m *MaskSet) Assign(cursor CursorID) (int, bool) {
	if len(m.ids) >= common.MaxJoinTables {
		return -1, false
	}
	m.ids = append(m.ids, cursor)
	return len(m.ids) - 1, true
}

// bitOf returns the bit position of cursor, or -1 if unknown.
func (m *MaskSet) bitOf(cursor CursorID) int {
	for i, id := range m.ids {
		if id == cursor {
			return i
		}
	}
	return -1
}

// BitPosition returns the bit position assigned to cursor, or (-1, false)
// if it was never assigned one.
func (m *MaskSet) BitPosition(cursor CursorID) (int, bool) {
	bit := m.bitOf(cursor)
	return bit, bit >= 0
}

// MaskOf returns the single-bit mask for a known cursor, or Empty if the
// cursor was never assigned (spec.md §4.2: "returns the single-bit mask
// for a known cursor, or empty").
func (m *MaskSet) MaskOf(cursor CursorID) Bitmask {
	if bit := m.bitOf(cursor); bit >= 0 {
		return Bitmask(1) << uint(bit)
	}
	return Empty
}

// Len returns the number of cursors assigned so far.
func (m *MaskSet) Len() int {
	return len(m.ids)
}

// PrefixMask returns AllBelow(Len()), the mask of every assigned cursor —
// used by LEFT-JOIN extraRight propagation (spec.md §4.2) to mean "every
// table to the left of the join boundary at the time of assignment".
func (m *MaskSet) PrefixMask() Bitmask {
	return AllBelow(len(m.ids))
}
