package loop

import (
	"github.com/ryogrid/wherecore/cost"
	"github.com/ryogrid/wherecore/mask"
)

// orSetCap is the bounded size of an OrSet: spec.md §3 caps it at 3
// entries, mirroring where.c's WHERE_OR_SUBCLAUSE 3-slot best-plan array.
const orSetCap = 3

type orEntry struct {
	prereq mask.Bitmask
	perRow cost.Cost
	nOut   cost.Cost
}

// OrSet holds up to orSetCap best (prereq, cost, rows) triples accrued
// while costing the branches of a WO_OR term against one table
// (spec.md §3's OrSet entity, §4.5's OR-of-indexes costing).
type OrSet struct {
	entries []orEntry
}

// NewOrSet returns an empty OrSet.
func NewOrSet() *OrSet {
	return &OrSet{}
}

// Len returns the number of entries currently held.
func (s *OrSet) Len() int {
	return len(s.entries)
}

// Offer inserts a new (prereq, perRow, nOut) triple, evicting the
// currently-worst entry if the set is already at capacity and the new
// entry is cheaper.
func (s *OrSet) Offer(prereq mask.Bitmask, perRow, nOut cost.Cost) {
	e := orEntry{prereq: prereq, perRow: perRow, nOut: nOut}
	if len(s.entries) < orSetCap {
		s.entries = append(s.entries, e)
		return
	}
	worst := 0
	for i := 1; i < len(s.entries); i++ {
		if s.entries[i].perRow > s.entries[worst].perRow {
			worst = i
		}
	}
	if e.perRow < s.entries[worst].perRow {
		s.entries[worst] = e
	}
}

// Combine folds every entry in the set together via pairwise cost_add of
// perRow and nOut, and set-unions their prereq masks, per spec.md §4.5's
// "Combine across branches by pairwise cost_add of rRun and nOut and
// set-union of prereqs".
func (s *OrSet) Combine() (perRow, nOut cost.Cost, prereq mask.Bitmask) {
	for i, e := range s.entries {
		if i == 0 {
			perRow, nOut, prereq = e.perRow, e.nOut, e.prereq
			continue
		}
		perRow = cost.Add(perRow, e.perRow)
		nOut = cost.Add(nOut, e.nOut)
		prereq = prereq.Union(e.prereq)
	}
	return perRow, nOut, prereq
}
