// Package orderby implements the ORDER-BY Analyzer of spec.md §4.7 and
// the DISTINCT-reduction check of §4.8: given a candidate join order and
// the per-loop index choice, decide whether the required output order
// is already satisfied, and whether a DISTINCT step can be dropped
// entirely.
package orderby

import (
	mapset "github.com/deckarep/golang-set/v2"

	"github.com/ryogrid/wherecore/catalog"
	"github.com/ryogrid/wherecore/mask"
	"github.com/ryogrid/wherecore/types"
)

// Status is the three-way verdict spec.md §4.7 defines.
type Status int

const (
	Unknown Status = iota
	Satisfied
	NotSatisfied
)

// Term is one ORDER-BY (or GROUP-BY/DISTINCT) key: a column plus the
// requested sort direction.
type Term struct {
	Cursor mask.CursorID
	Column int
	Coll   types.Collation
	Desc   bool
}

// EqualityBinding records that some earlier loop's WHERE term already
// pins (cursor,column) to a constant or to NULL — spec.md §4.7's
// "constrained = const or IS NULL by some earlier term" escape, which
// lets an ORDER-BY term on that column be skipped without needing a
// matching index column.
type EqualityBinding struct {
	Cursor mask.CursorID
	Column int
}

// LoopStep is the ordering-relevant slice of one chosen Loop: its
// index's column order (nil for a full scan or an index consumed
// entirely by equalities), how many leading columns are pinned by
// equality (and so contribute nothing to output order), and whether the
// loop is order-distinct on its own (spec.md §4.7's isOrderDistinct:
// at-most-one-row, or a UNIQUE-NOT-NULL index prefix).
type LoopStep struct {
	Cursor        mask.CursorID
	Columns       []catalog.IndexColumn
	EqualityCols  int
	OrderDistinct bool
}

// Result is the outcome of Satisfy: the verdict plus which loops needed
// to run in reverse to match the requested direction.
type Result struct {
	Status  Status
	RevLoop mask.Bitmask
}

// Analyzer walks ORDER-BY terms against a chosen loop sequence,
// tracking which tables are order-distinct so far. relaxed enables the
// GROUP BY/DISTINCT mode (equivalence suffices, not left-to-right order).
type Analyzer struct {
	Masks         *mask.MaskSet
	EqualityConst mapset.Set[EqualityBinding]
	Relaxed       bool
}

// New returns an Analyzer with an empty equality-constant set.
func New(masks *mask.MaskSet) *Analyzer {
	return &Analyzer{Masks: masks, EqualityConst: mapset.NewSet[EqualityBinding]()}
}

// Satisfy implements spec.md §4.7: scan orderTerms left to right against
// the column order each LoopStep contributes, in path order.
func (a *Analyzer) Satisfy(orderTerms []Term, loops []LoopStep) Result {
	if len(orderTerms) == 0 {
		return Result{Status: Satisfied}
	}

	orderDistinctTables := mapset.NewSet[mask.CursorID]()
	termIdx := 0
	var revLoop mask.Bitmask
	direction := map[mask.CursorID]bool{} // cursor -> chosen "reversed" flag

	for _, step := range loops {
		consumedAny := false
		for col := step.EqualityCols; col < len(step.Columns); col++ {
			if termIdx >= len(orderTerms) {
				break
			}
			want := orderTerms[termIdx]
			idxCol := step.Columns[col]
			if !a.matches(step.Cursor, idxCol, want) {
				break
			}
			reversed := idxCol.Descending != want.Desc
			if prior, ok := direction[step.Cursor]; ok && prior != reversed {
				return Result{Status: NotSatisfied}
			}
			direction[step.Cursor] = reversed
			if reversed {
				revLoop = revLoop.Union(a.Masks.MaskOf(step.Cursor))
			}
			termIdx++
			consumedAny = true
		}

		if step.OrderDistinct {
			orderDistinctTables.Add(step.Cursor)
		}

		// Skip any remaining ORDER-BY terms already pinned to a constant
		// by an earlier WHERE term, or whose table is fully order-distinct.
		for termIdx < len(orderTerms) {
			t := orderTerms[termIdx]
			if a.EqualityConst.Contains(EqualityBinding{Cursor: t.Cursor, Column: t.Column}) {
				termIdx++
				continue
			}
			if orderDistinctTables.Contains(t.Cursor) {
				termIdx++
				continue
			}
			break
		}
		_ = consumedAny
	}

	if termIdx >= len(orderTerms) {
		return Result{Status: Satisfied, RevLoop: revLoop}
	}
	if a.Relaxed {
		// GROUP BY/DISTINCT: order doesn't matter, only that every term
		// is eventually covered by an equality binding or a
		// order-distinct table walked so far.
		for _, t := range orderTerms {
			if !a.EqualityConst.Contains(EqualityBinding{Cursor: t.Cursor, Column: t.Column}) &&
				!orderDistinctTables.Contains(t.Cursor) {
				return Result{Status: Unknown}
			}
		}
		return Result{Status: Satisfied, RevLoop: revLoop}
	}
	return Result{Status: Unknown, RevLoop: revLoop}
}

// matches implements spec.md §4.7's column+direction test, extended to
// also require "compatible collation" when both sides name one: an
// index column collated differently than the ORDER BY term asks for
// can't be trusted to produce the requested order, even though it's the
// same table column.
func (a *Analyzer) matches(cursor mask.CursorID, idxCol catalog.IndexColumn, want Term) bool {
	if cursor != want.Cursor || idxCol.Column != want.Column {
		return false
	}
	if want.Coll != "" && idxCol.Coll != "" && !types.SameName(want.Coll, idxCol.Coll) {
		return false
	}
	return true
}

// DistinctRedundant implements spec.md §4.8: DISTINCT is redundant when
// there is exactly one FROM-list table and some UNIQUE index's columns
// are all either in the projection or pinned by WHERE equality, and all
// NOT NULL.
func DistinctRedundant(tbl *catalog.Table, projected []int, whereEqCols map[int]bool) bool {
	proj := make(map[int]bool, len(projected))
	for _, c := range projected {
		proj[c] = true
	}
	for _, idx := range tbl.AllIndexes() {
		if !idx.Unique {
			continue
		}
		allCovered := true
		for _, ic := range idx.Columns {
			col := tbl.Columns[ic.Column]
			if !col.NotNull {
				allCovered = false
				break
			}
			if !proj[ic.Column] && !whereEqCols[ic.Column] {
				allCovered = false
				break
			}
		}
		if allCovered {
			return true
		}
	}
	return false
}
