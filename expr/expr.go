// Package expr models the WHERE-expression tree the planner core
// consumes (spec.md §6 "Expression utilities"). The SQL parser and the
// runtime evaluator both live outside this module's scope; this package
// only carries enough of an expression tree — column references,
// literals, comparisons, BETWEEN/LIKE/IN, boolean connectives — for the
// Clause Normalizer, Term Scanner and Loop Builder to analyze it.
package expr

import (
	"github.com/ryogrid/wherecore/mask"
	"github.com/ryogrid/wherecore/types"
)

// Op is a comparison or connective operator appearing at the root of an
// expression node. It is deliberately a small closed set, not the full
// operator grammar a real parser would produce.
type Op int

const (
	OpEQ Op = iota
	OpNE
	OpLT
	OpLE
	OpGT
	OpGE
	OpIN
	OpISNULL
	OpISNOTNULL
	OpLIKE
	OpGLOB
	OpMATCH
	OpAND
	OpOR
	OpBETWEEN
)

// Expr is any node in a WHERE-expression tree. Implementations are one
// of ColumnRef, Literal, Comparison, Between, Like, InList, IsNullExpr,
// And, Or or OnClause.
type Expr interface {
	// IsConstant reports whether the subtree contains no column
	// reference, i.e. can be evaluated with no row in hand.
	IsConstant() bool
	// Affinity is the column affinity this expression would compare
	// under: a ColumnRef's own affinity, or the affinity of a constant's
	// natural type.
	Affinity() types.Affinity
	// Dup returns a deep, independent copy — spec.md §6's dup(expr),
	// used when the Clause Normalizer synthesizes a virtual term that
	// must not alias the original's subtree.
	Dup() Expr
	// TablesUsed returns the set of cursors referenced anywhere in the
	// subtree — the union of prereqAll contributions from every leaf.
	TablesUsed() mask.CursorSet
}

// Free releases a synthesized subtree. spec.md §5 requires
// TERM_DYNAMIC-marked subtrees to be freed by the planner that
// synthesized them; Go's collector reclaims the memory regardless, but
// Free still exists as the "consumed interface" spec.md §6 documents and
// is safe to call unconditionally (nil-safe, idempotent no-op here).
func Free(Expr) {}

// IsConstant is the free-function form of spec.md §6's is_constant(expr).
func IsConstant(e Expr) bool { return e.IsConstant() }

// Affinity is the free-function form of spec.md §6's affinity(expr).
func Affinity(e Expr) types.Affinity { return e.Affinity() }

// Dup is the free-function form of spec.md §6's dup(expr).
func Dup(e Expr) Expr { return e.Dup() }

// ColumnRef names one column of one FROM-list cursor.
type ColumnRef struct {
	Cursor mask.CursorID
	Column int
	Aff    types.Affinity
	Coll   types.Collation
}

func (c *ColumnRef) IsConstant() bool          { return false }
func (c *ColumnRef) Affinity() types.Affinity  { return c.Aff }
func (c *ColumnRef) TablesUsed() mask.CursorSet  { return mask.NewCursorSet(c.Cursor) }
func (c *ColumnRef) Dup() Expr {
	cp := *c
	return &cp
}

// Literal is a constant value: exactly one of the typed fields is valid,
// selected by Type.
type Literal struct {
	Type   types.TypeID
	Null   bool
	Int64  int64
	Float  float64
	String string
}

func (l *Literal) IsConstant() bool         { return true }
func (l *Literal) Affinity() types.Affinity { return types.AffinityOf(l.Type) }
func (l *Literal) TablesUsed() mask.CursorSet { return nil }
func (l *Literal) Dup() Expr {
	cp := *l
	return &cp
}

// Compare orders two literals of the same type, used by the LIKE-prefix
// synthesis (spec.md §4.3 step 5) and range-selectivity estimation. It
// returns -1, 0, 1 the way bytes.Compare / strings.Compare do.
func (l *Literal) Compare(o *Literal) int {
	switch l.Type {
	case types.Varchar:
		if l.String < o.String {
			return -1
		} else if l.String > o.String {
			return 1
		}
		return 0
	case types.Decimal:
		if l.Float < o.Float {
			return -1
		} else if l.Float > o.Float {
			return 1
		}
		return 0
	default:
		if l.Int64 < o.Int64 {
			return -1
		} else if l.Int64 > o.Int64 {
			return 1
		}
		return 0
	}
}

// IncrementedPrefix returns a copy of a string literal with its last byte
// incremented, the upper bound synthesized for a LIKE prefix range
// (spec.md §4.3 step 5). ok is false if the literal is empty or its last
// byte is already 0xFF (no upper bound is formed).
func (l *Literal) IncrementedPrefix() (result Literal, ok bool) {
	if l.Type != types.Varchar || len(l.String) == 0 {
		return Literal{}, false
	}
	b := []byte(l.String)
	last := len(b) - 1
	if b[last] == 0xFF {
		return Literal{}, false
	}
	b[last]++
	return Literal{Type: types.Varchar, String: string(b)}, true
}

// OnClause wraps a term that originated in a LEFT JOIN's ON clause,
// naming the right-hand (joined) table. The Clause Normalizer uses this
// tag to compute ExtraRight (spec.md §4.3 step 2) so the term can never
// drive an index scan on a table to its left.
type OnClause struct {
	Inner       Expr
	RightCursor mask.CursorID
}

func (o *OnClause) IsConstant() bool         { return o.Inner.IsConstant() }
func (o *OnClause) Affinity() types.Affinity { return o.Inner.Affinity() }
func (o *OnClause) TablesUsed() mask.CursorSet { return o.Inner.TablesUsed() }
func (o *OnClause) Dup() Expr {
	return &OnClause{Inner: o.Inner.Dup(), RightCursor: o.RightCursor}
}

// And is a conjunction of terms; the Clause Normalizer flattens WHERE at
// the top level into a Clause rather than working with this node
// directly, but AND can still appear nested (e.g. inside an OR branch).
type And struct{ Terms []Expr }

func (a *And) IsConstant() bool {
	for _, t := range a.Terms {
		if !t.IsConstant() {
			return false
		}
	}
	return true
}
func (a *And) Affinity() types.Affinity { return types.AffinityBoolean }
func (a *And) TablesUsed() mask.CursorSet {
	var m mask.CursorSet
	for _, t := range a.Terms {
		m = m.Union(t.TablesUsed())
	}
	return m
}
func (a *And) Dup() Expr {
	terms := make([]Expr, len(a.Terms))
	for i, t := range a.Terms {
		terms[i] = t.Dup()
	}
	return &And{Terms: terms}
}

// Or is a disjunction of terms — the source of IN-ification and
// indexable-OR synthesis (spec.md §4.3 step 7).
type Or struct{ Terms []Expr }

func (o *Or) IsConstant() bool {
	for _, t := range o.Terms {
		if !t.IsConstant() {
			return false
		}
	}
	return true
}
func (o *Or) Affinity() types.Affinity { return types.AffinityBoolean }
func (o *Or) TablesUsed() mask.CursorSet {
	var m mask.CursorSet
	for _, t := range o.Terms {
		m = m.Union(t.TablesUsed())
	}
	return m
}
func (o *Or) Dup() Expr {
	terms := make([]Expr, len(o.Terms))
	for i, t := range o.Terms {
		terms[i] = t.Dup()
	}
	return &Or{Terms: terms}
}

// Comparison is `Left Op Right`, where Op is one of the ordering
// operators, EQ/NE, or the free-form MATCH.
type Comparison struct {
	Op    Op
	Left  Expr
	Right Expr
}

func (c *Comparison) IsConstant() bool {
	return c.Left.IsConstant() && c.Right.IsConstant()
}
func (c *Comparison) Affinity() types.Affinity { return types.AffinityBoolean }
func (c *Comparison) TablesUsed() mask.CursorSet {
	return c.Left.TablesUsed().Union(c.Right.TablesUsed())
}
func (c *Comparison) Dup() Expr {
	return &Comparison{Op: c.Op, Left: c.Left.Dup(), Right: c.Right.Dup()}
}

// Between is `Col BETWEEN Lo AND Hi`.
type Between struct {
	Col    Expr
	Lo, Hi Expr
}

func (b *Between) IsConstant() bool {
	return b.Col.IsConstant() && b.Lo.IsConstant() && b.Hi.IsConstant()
}
func (b *Between) Affinity() types.Affinity { return types.AffinityBoolean }
func (b *Between) TablesUsed() mask.CursorSet {
	return b.Col.TablesUsed().Union(b.Lo.TablesUsed()).Union(b.Hi.TablesUsed())
}
func (b *Between) Dup() Expr {
	return &Between{Col: b.Col.Dup(), Lo: b.Lo.Dup(), Hi: b.Hi.Dup()}
}

// Like is `Col LIKE Pattern` (or GLOB, selected by Glob).
type Like struct {
	Col     Expr
	Pattern string
	NoCase  bool
	Glob    bool
}

func (l *Like) IsConstant() bool          { return l.Col.IsConstant() }
func (l *Like) Affinity() types.Affinity  { return types.AffinityBoolean }
func (l *Like) TablesUsed() mask.CursorSet   { return l.Col.TablesUsed() }
func (l *Like) Dup() Expr {
	cp := *l
	cp.Col = l.Col.Dup()
	return &cp
}

// InList is `Col IN (Values...)`, or `Col IN (subquery)` when Subquery
// is true (Values is then empty and RhsCount estimates cardinality).
type InList struct {
	Col      Expr
	Values   []Expr
	Subquery bool
	RhsCount int
}

func (i *InList) IsConstant() bool {
	if !i.Col.IsConstant() {
		return false
	}
	for _, v := range i.Values {
		if !v.IsConstant() {
			return false
		}
	}
	return true
}
func (i *InList) Affinity() types.Affinity { return types.AffinityBoolean }
func (i *InList) TablesUsed() mask.CursorSet { return i.Col.TablesUsed() }
func (i *InList) Dup() Expr {
	vals := make([]Expr, len(i.Values))
	for idx, v := range i.Values {
		vals[idx] = v.Dup()
	}
	return &InList{Col: i.Col.Dup(), Values: vals, Subquery: i.Subquery, RhsCount: i.RhsCount}
}

// IsNullExpr is `Col IS NULL` (or `IS NOT NULL` when Not is set).
type IsNullExpr struct {
	Col Expr
	Not bool
}

func (n *IsNullExpr) IsConstant() bool         { return n.Col.IsConstant() }
func (n *IsNullExpr) Affinity() types.Affinity { return types.AffinityBoolean }
func (n *IsNullExpr) TablesUsed() mask.CursorSet { return n.Col.TablesUsed() }
func (n *IsNullExpr) Dup() Expr {
	cp := *n
	cp.Col = n.Col.Dup()
	return &cp
}

// CollationOf is spec.md §6's collation_of_comparison(left,right): the
// collation an index must carry to drive a comparison between the two
// sides. A ColumnRef's own collation wins; a constant carries none.
func CollationOf(left, right Expr) types.Collation {
	if c, ok := left.(*ColumnRef); ok && c.Coll != "" {
		return c.Coll
	}
	if c, ok := right.(*ColumnRef); ok && c.Coll != "" {
		return c.Coll
	}
	return types.CollationBinary
}

// AsColumnRef reports whether e is a bare column reference, the check
// spec.md §4.3 step 3 makes when deciding whether a comparison side
// names a column.
func AsColumnRef(e Expr) (*ColumnRef, bool) {
	c, ok := e.(*ColumnRef)
	return c, ok
}
