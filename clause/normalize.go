package clause

import (
	stack "github.com/golang-collections/collections/stack"

	"github.com/ryogrid/wherecore/common"
	"github.com/ryogrid/wherecore/expr"
	"github.com/ryogrid/wherecore/mask"
	"github.com/ryogrid/wherecore/types"
)

// Normalizer runs the analysis pipeline of spec.md §4.3 over a WHERE
// expression tree: splitting on AND, canonicalizing comparisons,
// synthesizing virtual terms for BETWEEN/LIKE/NOT-NULL/OR, and computing
// each term's prerequisite masks.
type Normalizer struct {
	Config common.Config
	Masks  *mask.MaskSet

	// HasHistogram reports whether some index on (cursor,column) carries
	// histogram samples — the gate for the stat3-conditional NOT-NULL
	// rewrite (spec.md §9 Open Question 1).
	HasHistogram func(cursor mask.CursorID, column int) bool
	// HasIndexOn reports whether some index could be driven by an
	// equality on (cursor,column) — used to build the indexable-set of a
	// WO_OR term (spec.md §4.3 step 7).
	HasIndexOn func(cursor mask.CursorID, column int) bool
}

// NewNormalizer returns a Normalizer with conservative always-false
// catalog callbacks; callers wire real ones once the catalog is known.
func NewNormalizer(cfg common.Config, masks *mask.MaskSet) *Normalizer {
	return &Normalizer{
		Config:       cfg,
		Masks:        masks,
		HasHistogram: func(mask.CursorID, int) bool { return false },
		HasIndexOn:   func(mask.CursorID, int) bool { return false },
	}
}

// Normalize builds a flat Clause from a WHERE-expression tree. A nil
// where is treated as "no WHERE" (spec.md §8 boundary case), same as a
// WHERE clause of only constant-true.
func (n *Normalizer) Normalize(where expr.Expr) *Clause {
	c := NewClause(OpAND, nil)
	if where != nil {
		n.splitAnd(c, where)
	}
	// Step 8: rerun steps 2-7 on every appended term, including
	// synthetic ones. Recursion is bounded because a synthesized term
	// never itself re-synthesizes a term of the same shape (spec.md §4.3
	// step 8's "children never regenerate parents").
	for i := 0; i < len(c.Terms); i++ {
		if c.Terms[i].Enabled() {
			n.analyzeTerm(c, i)
		}
	}
	return c
}

// splitAnd recursively splits e on the top-level AND operator (step 1),
// unwrapping OnClause markers as it goes so their ON-clause origin
// survives onto each resulting leaf term. It walks with an explicit
// stack, per the pattern the teacher's optimizer sketches for its own
// expression walk (planner/optimizer/selinger_optimizer.go).
func (n *Normalizer) splitAnd(c *Clause, root expr.Expr) {
	st := stack.New()
	st.Push(root)
	for st.Len() > 0 {
		top := st.Pop().(expr.Expr)
		switch v := top.(type) {
		case *expr.And:
			for i := len(v.Terms) - 1; i >= 0; i-- {
				st.Push(v.Terms[i])
			}
		case *expr.OnClause:
			if inner, ok := v.Inner.(*expr.And); ok {
				for i := len(inner.Terms) - 1; i >= 0; i-- {
					st.Push(&expr.OnClause{Inner: inner.Terms[i], RightCursor: v.RightCursor})
				}
			} else {
				t := &Term{Expr: v.Inner, Flags: FlagFromLeftJoinON, ParentIndex: -1}
				n.tagLeftJoin(t, v.RightCursor)
				c.Append(t)
			}
		default:
			c.Append(&Term{Expr: top, ParentIndex: -1})
		}
	}
}

func (n *Normalizer) tagLeftJoin(t *Term, rightCursor mask.CursorID) {
	right := n.Masks.MaskOf(rightCursor)
	t.PrereqAll = t.PrereqAll.Union(right)
	if bit, ok := n.Masks.BitPosition(rightCursor); ok {
		t.ExtraRight = mask.AllBelow(bit)
	}
}

// analyzeTerm runs steps 2-7 of spec.md §4.3 against the term at index i,
// re-resolving the term by index each time because analysis may append
// new terms to c and invalidate any cached slice/pointer taken before
// the append (spec.md §9).
func (n *Normalizer) analyzeTerm(c *Clause, i int) {
	t := c.At(i)
	if t == nil || !t.Enabled() {
		return
	}

	// Step 2: prerequisite masks.
	used := exprTablesUsed(t.Expr)
	all := used.ToBitmask(n.Masks)
	t.PrereqAll = t.PrereqAll.Union(all)
	if right := rhsTablesUsed(t.Expr); right != nil {
		t.PrereqRight = right.ToBitmask(n.Masks)
	}
	// original_source/src/where.c:1927 -- extraRight (the tables to the
	// left of a LEFT JOIN boundary, tagged by tagLeftJoin) folds into
	// prereqRight so termscan's self-mask disjointness check rejects an
	// ON-clause term from driving an index on any of those left tables.
	t.PrereqRight = t.PrereqRight.Union(t.ExtraRight)

	switch e := t.Expr.(type) {
	case *expr.Comparison:
		n.analyzeComparison(c, i, e)
	case *expr.InList:
		n.analyzeInList(c, i, e)
	case *expr.Between:
		n.synthesizeBetween(c, i, e)
	case *expr.Like:
		n.synthesizeLike(c, i, e)
	case *expr.IsNullExpr:
		if e.Not {
			n.synthesizeNotNull(c, i, e)
		} else if col, ok := expr.AsColumnRef(e.Col); ok {
			t.HasLeftColumn = true
			t.LeftCursor = col.Cursor
			t.LeftColumn = col.Column
			t.Op = OpISNULL
			t.Coll = col.Coll
		}
	case *expr.Or:
		n.analyzeOr(c, i, e)
	}
}

// exprTablesUsed and rhsTablesUsed strip an optional OnClause wrapper
// before delegating to the expression's own TablesUsed, then (for the
// RHS variant) restrict to the right-hand operand of a comparison.
func exprTablesUsed(e expr.Expr) mask.CursorSet {
	if on, ok := e.(*expr.OnClause); ok {
		e = on.Inner
	}
	return e.TablesUsed()
}

func rhsTablesUsed(e expr.Expr) mask.CursorSet {
	if on, ok := e.(*expr.OnClause); ok {
		e = on.Inner
	}
	if cmp, ok := e.(*expr.Comparison); ok {
		return cmp.Right.TablesUsed()
	}
	return nil
}

// opForComparison maps an expr.Op to the term's OpMask bit, or 0 if the
// comparison isn't one the planner can drive an index scan with.
func opForComparison(op expr.Op) OpMask {
	switch op {
	case expr.OpEQ:
		return OpEQ
	case expr.OpLT:
		return OpLT
	case expr.OpLE:
		return OpLE
	case expr.OpGT:
		return OpGT
	case expr.OpGE:
		return OpGE
	case expr.OpMATCH:
		return OpMATCH
	default:
		return 0
	}
}

// analyzeComparison implements step 3: canonicalize `col <op> expr`, and
// if the RHS is also a bare column, synthesize a commuted EQUIV copy.
func (n *Normalizer) analyzeComparison(c *Clause, i int, cmp *expr.Comparison) {
	t := c.At(i)
	if t.Flags&FlagVirtual != 0 && t.HasLeftColumn {
		// Synthesized terms arrive already classified; re-deriving them
		// would drop OpEQUIV and the LIKE range collation, and would copy
		// an EQUIV copy yet again.
		return
	}
	opBit := opForComparison(cmp.Op)
	if opBit == 0 {
		if cmp.Op == expr.OpIN {
			n.analyzeIn(c, i, cmp)
		}
		return
	}

	leftCol, leftIsCol := expr.AsColumnRef(cmp.Left)
	rightCol, rightIsCol := expr.AsColumnRef(cmp.Right)

	if leftIsCol {
		t.HasLeftColumn = true
		t.LeftCursor = leftCol.Cursor
		t.LeftColumn = leftCol.Column
		t.Op = opBit
		t.Right = cmp.Right
		t.Coll = expr.CollationOf(cmp.Left, cmp.Right)
	}

	if leftIsCol && rightIsCol && opBit == OpEQ && t.Flags&FlagFromLeftJoinON == 0 {
		// Synthesize the commuted virtual copy: y = x alongside x = y,
		// and tag both EQUIV so the Term Scanner can chase transitive
		// equalities from either column (spec.md §4.3 step 3, §4.4).
		t.Op |= OpEQUIV
		copyExpr := &expr.Comparison{Op: expr.OpEQ, Left: cmp.Right.Dup(), Right: cmp.Left.Dup()}
		virt := &Term{
			Expr:          copyExpr,
			HasLeftColumn: true,
			LeftCursor:    rightCol.Cursor,
			LeftColumn:    rightCol.Column,
			Op:            OpEQ | OpEQUIV,
			Right:         copyExpr.Right,
			Coll:          t.Coll,
			Flags:         FlagVirtual | FlagDynamic,
			ParentIndex:   i,
		}
		virt.PrereqAll = t.PrereqAll
		virt.PrereqRight = n.Masks.MaskOf(leftCol.Cursor)
		idx := c.Append(virt)
		t.Flags |= FlagCopied
		t.ChildCount++
		_ = idx
	}
}

// analyzeIn records an IN term's literal cardinality (or marks it as a
// subquery RHS), consumed later by the Loop Builder's per-row cost
// (spec.md §4.5: cost(#rhs-values), 46 for a subquery).
func (n *Normalizer) analyzeIn(c *Clause, i int, in *expr.Comparison) {
	// Represented by expr.InList in practice; expr.Comparison{Op: OpIN}
	// is only reached if a caller hand-builds one, so fall through.
	_ = in
	t := c.At(i)
	if inList, ok := t.Expr.(*expr.InList); ok {
		n.analyzeInList(c, i, inList)
	}
}

func (n *Normalizer) analyzeInList(c *Clause, i int, in *expr.InList) {
	t := c.At(i)
	col, ok := expr.AsColumnRef(in.Col)
	if !ok {
		return
	}
	t.HasLeftColumn = true
	t.LeftCursor = col.Cursor
	t.LeftColumn = col.Column
	t.Op = OpIN
	t.IsSubqueryIn = in.Subquery
	t.RhsCount = len(in.Values)
	t.Coll = col.Coll
}

// synthesizeBetween implements step 4: `a BETWEEN b AND c` becomes two
// virtual terms `a>=b` and `a<=c`.
func (n *Normalizer) synthesizeBetween(c *Clause, i int, b *expr.Between) {
	t := c.At(i)
	lo := &Term{
		Expr:        &expr.Comparison{Op: expr.OpGE, Left: b.Col.Dup(), Right: b.Lo.Dup()},
		Flags:       FlagVirtual | FlagDynamic,
		ParentIndex: i,
	}
	hi := &Term{
		Expr:        &expr.Comparison{Op: expr.OpLE, Left: b.Col.Dup(), Right: b.Hi.Dup()},
		Flags:       FlagVirtual | FlagDynamic,
		ParentIndex: i,
	}
	c.Append(lo)
	c.Append(hi)
	t.ChildCount += 2
}

// synthesizeLike implements step 5: a LIKE/GLOB prefix becomes a
// `col>=prefix AND col<prefix+1` range, tagged with the right collation.
// The original term is dropped from further index consumption only when
// the range is exact; otherwise it survives as residue (spec.md §9 Open
// Question 3, `'A'-1` boundary).
func (n *Normalizer) synthesizeLike(c *Clause, i int, l *expr.Like) {
	t := c.At(i)
	col, ok := expr.AsColumnRef(l.Col)
	if !ok {
		t.Flags |= FlagResidue
		return
	}
	prefix, complete := literalPrefix(l.Pattern)
	if prefix == "" {
		t.Flags |= FlagResidue
		return
	}
	lit := expr.Literal{Type: types.Varchar, String: prefix}
	coll := types.CollationBinary
	if l.NoCase {
		coll = types.CollationNoCase
	}

	loExpr := &expr.Comparison{Op: expr.OpGE, Left: col.Dup(), Right: lit.Dup()}
	lo := &Term{Expr: loExpr, HasLeftColumn: true, LeftCursor: col.Cursor, LeftColumn: col.Column,
		Op: OpGE, Right: loExpr.Right, Coll: coll, Flags: FlagVirtual | FlagDynamic, ParentIndex: i}
	c.Append(lo)
	t.ChildCount++

	upper, hasUpper := lit.IncrementedPrefix()
	if hasUpper {
		if l.NoCase {
			lastByte := prefix[len(prefix)-1]
			if lastByte == 'A'-1 {
				// Incrementing 'A'-1 under NOCASE folding would push the
				// range into the alphabetic band, corrupting the
				// inequality (spec.md §9 Open Question 3). Keep the
				// original LIKE test as residue and skip the upper
				// bound's case-fold correctness assumption.
				complete = false
			}
			upper.String = lowerCaseFold(upper.String)
		}
		hiExpr := &expr.Comparison{Op: expr.OpLT, Left: col.Dup(), Right: upper.Dup()}
		hi := &Term{Expr: hiExpr, HasLeftColumn: true, LeftCursor: col.Cursor, LeftColumn: col.Column,
			Op: OpLT, Right: hiExpr.Right, Coll: coll, Flags: FlagVirtual | FlagDynamic, ParentIndex: i}
		c.Append(hi)
		t.ChildCount++
	}

	if !complete || !isFullWildcardSuffix(l.Pattern) {
		t.Flags |= FlagKeepAfterRange
	} else {
		t.Flags |= FlagResidue // still evaluated, but consumed by no index
	}
}

// literalPrefix returns the literal run before the first wildcard
// ('%' or '_' for LIKE, '*'/'?'/'[' for GLOB — both use the same leading
// slice here) and whether the pattern is exactly "<prefix>%" with a
// single trailing wildcard (spec.md §4.3 step 5's "unless the pattern
// ends with exactly one trailing %").
func literalPrefix(pattern string) (prefix string, exact bool) {
	for idx := 0; idx < len(pattern); idx++ {
		switch pattern[idx] {
		case '%', '_', '*', '?', '[':
			return pattern[:idx], idx == len(pattern)-1 && pattern[idx] == '%'
		}
	}
	return pattern, false
}

func isFullWildcardSuffix(pattern string) bool {
	return len(pattern) > 0 && pattern[len(pattern)-1] == '%'
}

func lowerCaseFold(s string) string {
	b := []byte(s)
	for i, c := range b {
		if 'A' <= c && c <= 'Z' {
			b[i] = c - 'A' + 'a'
		}
	}
	return string(b)
}

// synthesizeNotNull implements step 6: `col NOT NULL` becomes a
// `col>NULL` virtual term, gated on histogram availability per spec.md §9
// Open Question 1.
func (n *Normalizer) synthesizeNotNull(c *Clause, i int, isNull *expr.IsNullExpr) {
	if !n.Config.UseHistograms {
		return
	}
	t := c.At(i)
	col, ok := expr.AsColumnRef(isNull.Col)
	if !ok || !n.HasHistogram(col.Cursor, col.Column) {
		return
	}
	nullLit := expr.Literal{Null: true, Type: storageTypeFor(col.Aff)}
	gtExpr := &expr.Comparison{Op: expr.OpGT, Left: col.Dup(), Right: &nullLit}
	virt := &Term{
		Expr: gtExpr, HasLeftColumn: true, LeftCursor: col.Cursor, LeftColumn: col.Column,
		Op: OpGT, Right: gtExpr.Right, Flags: FlagVirtual | FlagDynamic, ParentIndex: i,
	}
	c.Append(virt)
	t.ChildCount++
}

// analyzeOr implements step 7: try IN-ification first, then indexable-OR.
func (n *Normalizer) analyzeOr(c *Clause, i int, or *expr.Or) {
	t := c.At(i)
	t.Or = NewClause(OpOR, c)
	for _, branch := range or.Terms {
		j := t.Or.Append(&Term{Expr: branch, ParentIndex: -1})
		n.analyzeTerm(t.Or, j)
	}

	if col, val, ok := sameColumnEquality(or); ok {
		values := make([]expr.Expr, len(val))
		copy(values, val)
		t.Expr = &expr.InList{Col: col.Dup(), Values: values}
		t.HasLeftColumn = true
		t.LeftCursor = col.Cursor
		t.LeftColumn = col.Column
		t.Op = OpIN
		t.RhsCount = len(values)
		t.Flags |= FlagResidue // WO_NOOP: original OR is now redundant
		return
	}

	if set, ok := n.indexableSet(or); ok {
		t.Flags |= FlagIndexableOR
		t.IndexableSet = set
	}
}

// sameColumnEquality reports whether every branch of an OR is
// `T.c = expr_i` for the same T.c, the precondition for IN-ification
// (spec.md §4.3 step 7, and §9 Open Question 2: single-column only).
func sameColumnEquality(or *expr.Or) (*expr.ColumnRef, []expr.Expr, bool) {
	var col *expr.ColumnRef
	values := make([]expr.Expr, 0, len(or.Terms))
	for _, branch := range or.Terms {
		cmp, ok := branch.(*expr.Comparison)
		if !ok || cmp.Op != expr.OpEQ {
			return nil, nil, false
		}
		lc, lok := expr.AsColumnRef(cmp.Left)
		var value expr.Expr
		switch {
		case lok:
			value = cmp.Right
		default:
			rc, rok := expr.AsColumnRef(cmp.Right)
			if !rok {
				return nil, nil, false
			}
			lc, value = rc, cmp.Left
		}
		if col == nil {
			col = lc
		} else if col.Cursor != lc.Cursor || col.Column != lc.Column {
			return nil, nil, false
		}
		values = append(values, value)
	}
	if col == nil {
		return nil, nil, false
	}
	return col, values, true
}

// indexableSet computes the intersection, over every OR branch, of the
// set of cursors that branch could constrain via some index.
func (n *Normalizer) indexableSet(or *expr.Or) (mask.Bitmask, bool) {
	var result mask.Bitmask
	first := true
	for _, branch := range or.Terms {
		branchSet := n.branchIndexableCursors(branch)
		if first {
			result = branchSet
			first = false
			continue
		}
		result = result.Intersect(branchSet)
		if result.IsEmpty() {
			return 0, false
		}
	}
	return result, !first && !result.IsEmpty()
}

// storageTypeFor picks a representative TypeID for a column affinity,
// used only to give a synthesized NULL literal a plausible Type tag.
func storageTypeFor(a types.Affinity) types.TypeID {
	switch a {
	case types.AffinityInteger:
		return types.Integer
	case types.AffinityReal:
		return types.Decimal
	case types.AffinityText:
		return types.Varchar
	case types.AffinityBoolean:
		return types.Boolean
	default:
		return types.Invalid
	}
}

// branchIndexableCursors returns the mask of cursors an OR branch could
// drive an index scan on, by walking any nested AND for `col op const`
// terms whose column has a catalog index.
func (n *Normalizer) branchIndexableCursors(e expr.Expr) mask.Bitmask {
	var terms []expr.Expr
	if and, ok := e.(*expr.And); ok {
		terms = and.Terms
	} else {
		terms = []expr.Expr{e}
	}
	var out mask.Bitmask
	for _, term := range terms {
		cmp, ok := term.(*expr.Comparison)
		if !ok {
			continue
		}
		col, ok := expr.AsColumnRef(cmp.Left)
		if !ok {
			col, ok = expr.AsColumnRef(cmp.Right)
		}
		if !ok || !cmp.Right.IsConstant() && !cmp.Left.IsConstant() {
			continue
		}
		if n.HasIndexOn(col.Cursor, col.Column) {
			out = out.Union(n.Masks.MaskOf(col.Cursor))
		}
	}
	return out
}
