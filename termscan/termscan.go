// Package termscan implements the Term Scanner of spec.md §4.4: given a
// normalized Clause and a target (cursor, column), it yields every term
// usable to drive an index-scan step against that column, chasing
// transitive column equalities the Clause Normalizer tagged WO_EQUIV.
package termscan

import (
	gopair "github.com/notEpsilon/go-pair"

	"github.com/ryogrid/wherecore/clause"
	"github.com/ryogrid/wherecore/common"
	"github.com/ryogrid/wherecore/expr"
	"github.com/ryogrid/wherecore/mask"
	"github.com/ryogrid/wherecore/types"
)

// eqPair is a (cursor, column) equivalence-class member. The teacher's
// own join optimizer collects the same shape of column=column equality
// evidence into a []pair.Pair[string,string] while walking a WHERE tree
// (planner/optimizer/selinger_optimizer.go's bestJoin) before it builds
// join candidates from them; this reuses the same pair type to walk the
// WO_EQUIV closure of one seed column instead.
type eqPair = gopair.Pair[mask.CursorID, int]

// IndexColumnSpec is the subset of catalog.IndexColumn information the
// Term Scanner needs to check compatibility, kept independent of the
// catalog package so termscan has no import cycle with it.
type IndexColumnSpec struct {
	Aff  types.Affinity
	Coll types.Collation
}

// Scanner walks a Clause looking for terms that constrain a given
// column, propagating through WO_EQUIV virtual terms up to
// common.MaxEquivClass distinct (cursor,column) pairs.
type Scanner struct {
	Clause *clause.Clause
}

// New returns a Scanner over c.
func New(c *clause.Clause) *Scanner {
	return &Scanner{Clause: c}
}

// Usable returns every enabled term in the clause (and transitively, in
// its WO_EQUIV closure) that references the seed column with one of the
// operators in opMask, is not blocked by notReady, does not need a
// table from self (the loop being built) on its right-hand side, and —
// if idx is non-nil — is compatible with idx's affinity and collation.
func (s *Scanner) Usable(cursor mask.CursorID, column int, self, notReady mask.Bitmask, opMask clause.OpMask, idx *IndexColumnSpec) []*clause.Term {
	equiv := []eqPair{{First: cursor, Second: column}}
	seen := map[eqPair]bool{equiv[0]: true}

	var out []*clause.Term
	for round := 0; round < len(equiv); round++ {
		target := equiv[round]
		for _, t := range s.Clause.Terms {
			if !t.Enabled() || !t.HasLeftColumn {
				continue
			}
			if t.LeftCursor != target.First || t.LeftColumn != target.Second {
				continue
			}
			if t.Op&opMask == 0 {
				continue
			}
			if t.PrereqAll.Intersect(notReady) != 0 {
				// prereqAll includes bits from tables not yet joined:
				// this term can't run yet.
				continue
			}
			if !t.PrereqRight.Disjoint(self) {
				// original_source/src/where.c:4400 -- a term whose RHS
				// still needs a column from the very table this loop is
				// being built for can't drive that loop: the row isn't
				// positioned yet when the RHS would need to be read.
				continue
			}
			if idx != nil && !compatible(t, idx) {
				continue
			}
			out = append(out, t)

			if t.Op&clause.OpEQUIV != 0 && len(equiv) < common.MaxEquivClass {
				if rc, ok := expr.AsColumnRef(t.Right); ok {
					p := eqPair{First: rc.Cursor, Second: rc.Column}
					if p != equiv[0] && !seen[p] {
						seen[p] = true
						equiv = append(equiv, p)
					}
				}
			}
		}
	}
	return out
}

// compatible implements spec.md §4.4's index-compatibility check: the
// term's column affinity must be compatible with the index's, and its
// collation must name-match (case-insensitive) the index's collation.
func compatible(t *clause.Term, idx *IndexColumnSpec) bool {
	col, ok := expr.AsColumnRef(termColumnExpr(t))
	if !ok {
		return true // no column-typed operand to check against
	}
	if !col.Aff.Compatible(idx.Aff) {
		return false
	}
	if t.Coll != "" && idx.Coll != "" && !types.SameName(t.Coll, idx.Coll) {
		return false
	}
	return true
}

// termColumnExpr returns the left-hand column reference actually carried
// by the term's expression tree, so its real affinity survives (Term
// itself only keeps LeftCursor/LeftColumn identity, not affinity).
func termColumnExpr(t *clause.Term) expr.Expr {
	if !t.HasLeftColumn {
		return nil
	}
	switch e := t.Expr.(type) {
	case *expr.Comparison:
		if col, ok := expr.AsColumnRef(e.Left); ok {
			return col
		}
	case *expr.InList:
		return e.Col
	}
	return &expr.ColumnRef{Cursor: t.LeftCursor, Column: t.LeftColumn}
}

// FindTerm implements spec.md §4.4's find_term: among the usable terms,
// prefer one whose RHS is constant (empty prereqRight), then any
// non-EQUIV term, then any usable term at all. Returns nil if none
// qualify.
func FindTerm(s *Scanner, cursor mask.CursorID, column int, self, notReady mask.Bitmask, opMask clause.OpMask, idx *IndexColumnSpec) *clause.Term {
	candidates := s.Usable(cursor, column, self, notReady, opMask, idx)
	if len(candidates) == 0 {
		return nil
	}

	var bestConstant, bestNonEquiv, best *clause.Term
	for _, t := range candidates {
		if best == nil {
			best = t
		}
		if bestConstant == nil && t.PrereqRight.IsEmpty() {
			bestConstant = t
		}
		if bestNonEquiv == nil && t.Op&clause.OpEQUIV == 0 {
			bestNonEquiv = t
		}
	}
	if bestConstant != nil {
		return bestConstant
	}
	if bestNonEquiv != nil {
		return bestNonEquiv
	}
	return best
}
