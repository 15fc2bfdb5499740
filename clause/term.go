// Package clause implements the Clause Normalizer of spec.md §4.3: it
// takes a WHERE-expression tree and a FROM list and produces a flat,
// growable array of Terms, synthesizing virtual terms for BETWEEN, LIKE
// prefixes, column-equality transitivity and OR decomposition.
package clause

import (
	"github.com/ryogrid/wherecore/expr"
	"github.com/ryogrid/wherecore/mask"
	"github.com/ryogrid/wherecore/types"
)

// OpMask is the 12-bit operator space of spec.md §3: a term's Op field
// carries one of these bits (or 0 for an unclassified/residue term; a
// column = column equality carries OpEQ together with OpEQUIV), while an index-compatibility query passes an OR of several bits
// as its op-mask argument.
type OpMask uint16

const (
	OpEQ OpMask = 1 << iota
	OpLT
	OpLE
	OpGT
	OpGE
	OpIN
	OpMATCH
	OpISNULL
	OpOR
	OpAND
	OpEQUIV
	OpNOOP
)

// OpALL matches every operator bit (spec.md §4.4 default op-mask).
const OpALL OpMask = 0xFFF

// RangeOps is the mask of operators the Loop Builder treats as opening a
// range scan rather than an equality.
const RangeOps = OpLT | OpLE | OpGT | OpGE

// TermFlag records how a Term came to exist and what it may still be
// used for.
type TermFlag uint16

const (
	// FlagVirtual marks a term synthesized by the normalizer rather than
	// present in the original WHERE clause.
	FlagVirtual TermFlag = 1 << iota
	// FlagDynamic marks a term whose Expr subtree the normalizer itself
	// allocated and therefore "owns" (spec.md §5 TERM_DYNAMIC).
	FlagDynamic
	// FlagCopied marks the original term that a commuted virtual copy was
	// generated from (spec.md §4.3 step 3).
	FlagCopied
	// FlagIndexableOR marks a term tagged WO_OR: an OR term whose
	// branches share a non-empty indexable table set.
	FlagIndexableOR
	// FlagResidue marks a term retained purely as a post-filter because
	// no index path can consume it.
	FlagResidue
	// FlagFromLeftJoinON marks a term that originated in a LEFT JOIN's ON
	// clause; such a term must never drive an index scan on a table to
	// its left (spec.md §4.3 step 2, §8 property 8).
	FlagFromLeftJoinON
	// FlagKeepAfterRange marks a LIKE/GLOB term whose synthesized range
	// does not make the original test redundant (spec.md §4.3 step 5).
	FlagKeepAfterRange
	// FlagDisabled marks a term whose parent was disabled, cascading
	// down through ChildCount (spec.md §3 invariant).
	FlagDisabled
)

// Term is one AND-factor of the WHERE clause, spec.md §3's Term entity.
type Term struct {
	// Expr is the full expression this term tests.
	Expr expr.Expr

	// LeftCursor/LeftColumn/HasLeftColumn record `column <op> expr` once
	// canonicalized; HasLeftColumn is false for terms with no bare-column
	// left side (spec.md §4.3 step 3).
	LeftCursor    mask.CursorID
	LeftColumn    int
	HasLeftColumn bool

	// Op is the operator bit this term was classified under (OpEQ|OpEQUIV
	// for a column = column equality), or 0 for an unclassified residue
	// term.
	Op OpMask
	// Right is the right-hand-side expression of a classified
	// comparison; nil for IS NULL and residue terms.
	Right expr.Expr
	// Coll is the collation an index must carry to be driven by this
	// term (spec.md §4.3 step 5 sets NOCASE/BINARY for LIKE synthesis).
	Coll types.Collation
	// RhsCount is the literal cardinality of an IN list (0 for a
	// subquery RHS, handled specially by the Loop Builder).
	RhsCount int
	// IsSubqueryIn marks an IN term whose RHS is a subquery rather than a
	// literal list (spec.md §4.5 "use 46 for subquery IN-rhs").
	IsSubqueryIn bool

	Flags TermFlag

	// PrereqRight is the cursor set used by the term's RHS.
	PrereqRight mask.Bitmask
	// PrereqAll is the cursor set used anywhere in the term.
	PrereqAll mask.Bitmask
	// ExtraRight holds, for a LEFT-JOIN ON term, every table to the left
	// of the join boundary at analysis time (spec.md §4.3 step 2).
	ExtraRight mask.Bitmask

	// ParentIndex identifies, by index into the owning Clause's Terms,
	// the original term a virtual term was synthesized from; -1 if this
	// term has no parent. Terms reference each other by index, not by
	// pointer, because the Clause's backing array grows (spec.md §9).
	ParentIndex int
	// ChildCount is how many terms point back to this one via
	// ParentIndex; disabling a term cascades to all of them.
	ChildCount int

	// Or holds the nested Clause for a term whose root operator is OR
	// (spec.md §3 "optional OR-subclause").
	Or *Clause
	// IndexableSet is the intersection, over every OR branch, of tables
	// each branch could constrain via some index — populated only when
	// FlagIndexableOR is set (spec.md §4.3 step 7).
	IndexableSet mask.Bitmask
}

// disable marks this one term disabled; the cascade to terms whose
// ParentIndex points at it is done by Clause.DisableWithChildren.
func (t *Term) disable() {
	t.Flags |= FlagDisabled
}

// Enabled reports whether the term should still be considered by the
// Term Scanner and Loop Builder.
func (t *Term) Enabled() bool {
	return t.Flags&FlagDisabled == 0
}

// Clause is an ordered sequence of Terms plus the outer-clause
// back-pointer and split operator of spec.md §3.
type Clause struct {
	Terms []*Term
	Outer *Clause
	Split OpMask // OpAND for a top-level WHERE clause, OpOR for an OR subclause
}

// NewClause returns an empty Clause split on op, with outer as its
// enclosing clause (nil for the top-level WHERE clause).
func NewClause(op OpMask, outer *Clause) *Clause {
	return &Clause{Split: op, Outer: outer}
}

// Append adds t to the clause and returns its index — the stable
// identifier other terms use to reference it via ParentIndex. It leaves
// t.ParentIndex as the caller set it; a synthesized virtual term arrives
// with its parent's index already assigned, and clobbering that here
// would sever the cascade-disable chain spec.md §3 requires.
func (c *Clause) Append(t *Term) int {
	c.Terms = append(c.Terms, t)
	return len(c.Terms) - 1
}

// At resolves an index back to a *Term. Call sites must re-resolve by
// index after any Append that may have happened in between, per spec.md
// §9 ("must never cache raw Term references across any call that may
// insert").
func (c *Clause) At(i int) *Term {
	if i < 0 || i >= len(c.Terms) {
		return nil
	}
	return c.Terms[i]
}

// DisableWithChildren disables the term at index i and every term whose
// ParentIndex chain leads back to it, honoring spec.md §3's cascade
// invariant ("disabling the parent cascades via nChild").
func (c *Clause) DisableWithChildren(i int) {
	root := c.At(i)
	if root == nil || !root.Enabled() {
		return
	}
	root.disable()
	if root.ChildCount == 0 {
		return
	}
	for _, t := range c.Terms {
		if t.ParentIndex == i {
			idx := c.indexOf(t)
			if idx >= 0 {
				c.DisableWithChildren(idx)
			}
		}
	}
}

func (c *Clause) indexOf(t *Term) int {
	for i, x := range c.Terms {
		if x == t {
			return i
		}
	}
	return -1
}
