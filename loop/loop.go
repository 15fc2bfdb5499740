// Package loop implements the Loop Builder of spec.md §4.5: it turns one
// FROM-list table plus its normalized WHERE terms and catalog indexes
// into a list of candidate Loops (full scan, index scan extended
// column-by-column, automatic-index synthesis, OR-of-indexes union),
// each carrying a cost vector the Path Solver compares.
package loop

import (
	"encoding/binary"

	"github.com/spaolacci/murmur3"

	"github.com/ryogrid/wherecore/catalog"
	"github.com/ryogrid/wherecore/clause"
	"github.com/ryogrid/wherecore/common"
	"github.com/ryogrid/wherecore/cost"
	"github.com/ryogrid/wherecore/mask"
	"github.com/ryogrid/wherecore/orderby"
	"github.com/ryogrid/wherecore/termscan"
)

// Flag records what kind of access path a Loop represents and what
// guarantees it carries, mirroring the WHERE_* flag family of
// original_source/src/where.c's WhereLoop.
type Flag uint16

const (
	FlagOneRow Flag = 1 << iota
	FlagIdxOnly
	FlagAutoIndex
	FlagVirtualTable
	FlagOrUnion
	FlagReverse
)

// BTreePayload is the union-typed payload of a b-tree index scan: how
// many leading columns are bound by equality/IN, plus range-bound flags.
type BTreePayload struct {
	Index        *catalog.Index // nil for a full table scan
	EqualityCols int
	HasLowerBnd  bool
	HasUpperBnd  bool
	Terms        []*clause.Term
}

// VTabPayload is the other half of spec.md §3's union-typed Loop
// payload: the opaque idxNum/idxStr pair a virtual table's own xFilter
// call needs, which constraint terms were consumed (parallel to the bits
// of OmitMask), and whether the vtab promised rows already in the
// requested ORDER BY (original_source/src/where.c's WhereLoop.u.vtab).
type VTabPayload struct {
	IdxNum   int
	IdxStr   string
	Ordered  bool
	OmitMask uint64
	Terms    []*clause.Term
}

// Loop is one candidate scan of one table: spec.md §3's Loop entity.
type Loop struct {
	Table    *catalog.Table
	Cursor   mask.CursorID
	SelfMask mask.Bitmask
	Prereq   mask.Bitmask

	Setup  cost.Cost
	PerRow cost.Cost
	NOut   cost.Cost

	Flags Flag
	BTree *BTreePayload
	VTab  *VTabPayload

	// OrderColumns lists, for an index-driven or ordered virtual-table
	// loop, the column order (and per-column direction) that scan
	// delivers — the input to the ORDER-BY Analyzer's prefix-matching
	// (spec.md §4.7).
	OrderColumns []catalog.IndexColumn
}

// Builder enumerates loops for one table.
type Builder struct {
	Table    *catalog.Table
	Cursor   mask.CursorID
	Clause   *clause.Clause
	Masks    *mask.MaskSet
	NotReady mask.Bitmask // tables not yet joined at this point in the path

	// ReadColumns lists the table-column offsets the query actually
	// reads (projection plus anything else evaluated after the scan).
	// An index-driven loop whose columns cover this set never needs to
	// visit the table's base rows, so it gets FlagIdxOnly (spec.md
	// §4.5 "Mark IDX_ONLY when the index covers all columns the query
	// reads"). Empty means the caller never told us, so no loop is
	// ever marked IDX_ONLY.
	ReadColumns []int

	// OrderBy is the request's requested output order, passed through
	// unfiltered to a virtual table's BestIndex call (spec.md §4.5
	// "Virtual-table loops"). Loops for an ordinary b-tree table ignore
	// it; the ORDER-BY Analyzer works from the chosen Loop's
	// OrderColumns instead.
	OrderBy []orderby.Term
}

// New returns a Builder for one FROM-list entry.
func New(tbl *catalog.Table, cursor mask.CursorID, c *clause.Clause, masks *mask.MaskSet, notReady mask.Bitmask, readColumns []int) *Builder {
	return &Builder{Table: tbl, Cursor: cursor, Clause: c, Masks: masks, NotReady: notReady, ReadColumns: readColumns}
}

// Build enumerates every candidate loop for the table: the full scan,
// one family per index (extended column by column), an automatic index
// if nothing existing can be driven, and OR-of-indexes loops for any
// WO_OR term whose indexable set includes this table.
func (b *Builder) Build() []*Loop {
	self := b.Masks.MaskOf(b.Cursor)
	var loops []*Loop

	if b.Table.VTab != nil {
		// original_source/src/where.c gates whereLoopAddBtree/AddVirtual on
		// IsVirtual(pTab): a virtual table is planned exclusively through
		// its own best_index method, never through the b-tree machinery
		// below (no full scan, no catalog index family, no auto-index).
		for _, l := range b.vtabLoops(self) {
			loops = insert(loops, l)
		}
		return loops
	}

	loops = insert(loops, b.fullScan(self))

	anyIndexDriven := false
	for _, idx := range b.Table.AllIndexes() {
		family, driven := b.indexFamily(idx, self)
		anyIndexDriven = anyIndexDriven || driven
		for _, l := range family {
			loops = insert(loops, l)
		}
	}

	if !anyIndexDriven {
		if auto := b.autoIndex(self); auto != nil {
			loops = insert(loops, auto)
		}
	}

	for _, l := range b.orUnions(self) {
		loops = insert(loops, l)
	}

	return loops
}

// insert implements spec.md §4.5's Loop-insertion dedup/prune rule
// (original_source/src/where.c:4204 whereLoopInsert). Candidate t is
// compared against every existing loop with the same sort-index — the
// same catalog.Index for an index-driven loop, or the shared un-indexed
// group for full-scan/auto-index/OR-union loops:
//
//   - if p dominates t (p's prereq is a subset of t's, and p's setup and
//     per-row cost are each no worse), t is dropped, unless t extends the
//     same index with strictly more consumed terms at equal prereqs, in
//     which case t replaces p;
//   - if t dominates p (t's prereq is a subset of p's, and t's run cost
//     is no worse), t replaces p;
//   - otherwise t is appended as a new candidate.
func insert(loops []*Loop, t *Loop) []*Loop {
	for i, p := range loops {
		if sortIndexOf(p) != sortIndexOf(t) {
			continue
		}
		if p.Prereq.Intersect(t.Prereq) == p.Prereq && p.Setup <= t.Setup && p.PerRow <= t.PerRow {
			if sortIndexOf(p) != nil && p.Prereq == t.Prereq && len(termsOf(t)) > len(termsOf(p)) {
				loops[i] = t
				return loops
			}
			return loops
		}
		if t.Prereq.Intersect(p.Prereq) == t.Prereq && p.PerRow >= t.PerRow {
			loops[i] = t
			return loops
		}
	}
	return append(loops, t)
}

// sortIndexOf returns the catalog.Index a loop's ordering is driven by,
// or nil for the full-scan/auto-index/OR-union and virtual-table loops
// that share one un-indexed dedup group (original_source/src/where.c's
// iSortIdx==0).
func sortIndexOf(l *Loop) *catalog.Index {
	if l.BTree != nil {
		return l.BTree.Index
	}
	return nil
}

// termsOf returns the terms a loop consumes, for the "extends the same
// index with more terms" tie-break in insert.
func termsOf(l *Loop) []*clause.Term {
	if l.BTree == nil {
		return nil
	}
	return l.BTree.Terms
}

// fullScan builds the always-available full table scan: cost_add(N,
// log2 N) + 16 (spec.md §4.5).
func (b *Builder) fullScan(self mask.Bitmask) *Loop {
	n := cost.FromCount(b.Table.RowCount)
	return &Loop{
		Table:    b.Table,
		Cursor:   b.Cursor,
		SelfMask: self,
		Setup:    0,
		PerRow:   cost.Add(n, cost.EstLog(n)) + 16,
		NOut:     n,
		BTree:    &BTreePayload{},
	}
}

// indexFamily builds the "extend column by column" family of index-scan
// loops for one index, one loop per prefix length that terminates in
// either a further equality or a closing range, plus a bare full-index
// scan that carries no predicate at all. driven reports whether some
// WHERE term actually narrowed this index, which is what gates automatic
// index synthesis — an index nobody's predicate can drive counts the
// same as no index at all for that purpose, even though its bare scan
// still gets offered to the Path Solver for ORDER-BY's sake.
func (b *Builder) indexFamily(idx *catalog.Index, self mask.Bitmask) (loops []*Loop, driven bool) {
	s := termscan.New(b.Clause)

	nOut := cost.FromCount(b.Table.RowCount)
	var terms []*clause.Term
	equalities := 0
	var lowRange, highRange *clause.Term

	// A bare full-index scan (no leading column bound at all) is always a
	// candidate: it costs the same as a table scan but delivers rows in
	// index order, which the ORDER-BY Analyzer can use to skip a sort
	// even when nothing in the WHERE clause narrows this index.
	loops = append(loops, b.makeIndexLoop(idx, self, nil, 0, nil, nil, nOut))

	for colIdx, idxCol := range idx.Columns {
		spec := &termscan.IndexColumnSpec{
			Aff:  b.Table.Columns[idxCol.Column].Aff,
			Coll: b.Table.Columns[idxCol.Column].Coll,
		}
		eqOrIn := termscan.FindTerm(s, b.Cursor, idxCol.Column, self, b.NotReady, clause.OpEQ|clause.OpIN|clause.OpISNULL, spec)
		if eqOrIn != nil {
			terms = append(terms, eqOrIn)
			equalities++
			nOut = perRowFactorForEquality(eqOrIn, nOut)
			l := b.makeIndexLoop(idx, self, terms, equalities, nil, nil, nOut)
			loops = append(loops, l)
			continue // recurse to next column
		}

		// No more equalities: try a closing range on this column, then stop.
		lowRange = termscan.FindTerm(s, b.Cursor, idxCol.Column, self, b.NotReady, clause.OpGT|clause.OpGE, spec)
		highRange = termscan.FindTerm(s, b.Cursor, idxCol.Column, self, b.NotReady, clause.OpLT|clause.OpLE, spec)
		if lowRange != nil || highRange != nil {
			rangeTerms := append(append([]*clause.Term{}, terms...), nonNil(lowRange, highRange)...)
			rangeOut := rangeSelectivity(idx, colIdx, lowRange, highRange, nOut)
			l := b.makeIndexLoop(idx, self, rangeTerms, equalities, lowRange, highRange, rangeOut)
			loops = append(loops, l)
		}
		break
	}

	driven = len(terms) > 0 || lowRange != nil || highRange != nil
	return loops, driven
}

// perRowFactorForEquality folds one more bound-by-equality column's
// selectivity into the running output-row estimate.
func perRowFactorForEquality(t *clause.Term, nOut cost.Cost) cost.Cost {
	switch {
	case t.Op&clause.OpISNULL != 0:
		return cost.FromCount(2)
	case t.Op&clause.OpIN != 0:
		if t.IsSubqueryIn {
			return cost.FromCount(46)
		}
		n := t.RhsCount
		if n < 1 {
			n = 1
		}
		return cost.FromCount(uint64(n))
	default:
		if nOut > 10 {
			return nOut - 10
		}
		return 0
	}
}

// rangeSelectivity narrows nOut by RangeScanFactor per active bound (or
// by the index's histogram, if the column carries one), per spec.md
// §4.5's "using histogram samples if available; default factor x4 per
// side".
func rangeSelectivity(idx *catalog.Index, colIdx int, lo, hi *clause.Term, nOut cost.Cost) cost.Cost {
	var hist *catalog.Histogram
	if colIdx < len(idx.Histograms) {
		hist = idx.Histograms[colIdx]
	}
	if hist.Present() {
		sel := hist.Selectivity(nil, nil, false, false)
		return cost.FromDouble(sel * doubleFromCost(nOut))
	}
	reduction := cost.Cost(0)
	if lo != nil {
		reduction += cost.FromCount(common.RangeScanFactor)
	}
	if hi != nil {
		reduction += cost.FromCount(common.RangeScanFactor)
	}
	out := nOut
	for reduction > 0 && out > 0 {
		out--
		reduction--
	}
	return out
}

func doubleFromCost(c cost.Cost) float64 {
	n := 1.0
	for i := cost.Cost(0); i < c; i += 10 {
		n *= 2
	}
	return n
}

func nonNil(terms ...*clause.Term) []*clause.Term {
	out := make([]*clause.Term, 0, len(terms))
	for _, t := range terms {
		if t != nil {
			out = append(out, t)
		}
	}
	return out
}

// makeIndexLoop assembles a Loop for the given prefix state, computing
// ONEROW/IDX_ONLY flags per spec.md §4.5.
func (b *Builder) makeIndexLoop(idx *catalog.Index, self mask.Bitmask, terms []*clause.Term, equalities int, lo, hi *clause.Term, nOut cost.Cost) *Loop {
	var prereq mask.Bitmask
	for _, t := range terms {
		prereq = prereq.Union(t.PrereqAll.Without(self))
	}

	perRow := cost.Add(cost.EstLog(nOut), 0)
	if equalities == 0 && lo == nil && hi == nil {
		// No predicate narrows the scan at all: walking every leaf page of
		// the index costs the same as walking the table, per row, not just
		// the descent cost a bound lookup pays.
		perRow = cost.Add(nOut, cost.EstLog(nOut))
	}

	l := &Loop{
		Table:        b.Table,
		Cursor:       b.Cursor,
		SelfMask:     self,
		Prereq:       prereq,
		Setup:        0,
		PerRow:       perRow,
		NOut:         nOut,
		OrderColumns: idx.Columns,
		BTree: &BTreePayload{
			Index:        idx,
			EqualityCols: equalities,
			HasLowerBnd:  lo != nil,
			HasUpperBnd:  hi != nil,
			Terms:        terms,
		},
	}
	if idx.Unique && equalities == len(idx.Columns) && lo == nil && hi == nil {
		l.Flags |= FlagOneRow
	}
	if len(b.ReadColumns) > 0 && idx.CoversColumns(b.ReadColumns) {
		l.Flags |= FlagIdxOnly
	}
	return l
}

// autoIndex proposes a synthesized covering index when nothing existing
// can be driven, per spec.md §4.5's "Automatic-index synthesis":
// setup cost_add(log2 N, N) + cost(7), per-row cost_add(log2 N, nOut),
// nOut = cost(20). The cost vector is keyed by AutoIndexFingerprint in the
// table's AutoIndexCache (if it has one), so a repeated query shape against
// the same table skips resynthesizing it.
func (b *Builder) autoIndex(self mask.Bitmask) *Loop {
	s := termscan.New(b.Clause)
	var driving []*clause.Term
	for col := 0; col < len(b.Table.Columns); col++ {
		if t := termscan.FindTerm(s, b.Cursor, col, self, b.NotReady, clause.OpEQ, nil); t != nil {
			driving = append(driving, t)
		}
	}
	if len(driving) == 0 {
		return nil
	}

	l := &Loop{
		Table:    b.Table,
		Cursor:   b.Cursor,
		SelfMask: self,
		Flags:    FlagAutoIndex,
		BTree:    &BTreePayload{Terms: driving, EqualityCols: len(driving)},
	}
	fingerprint := AutoIndexFingerprint(l)

	if b.Table.AutoIndexes != nil {
		if cached, ok := b.Table.AutoIndexes.Get(fingerprint); ok {
			l.Setup, l.PerRow, l.NOut = cached.Setup, cached.PerRow, cached.NOut
			return l
		}
	}

	n := cost.FromCount(b.Table.RowCount)
	logN := cost.EstLog(n)
	l.NOut = cost.FromCount(20)
	l.Setup = cost.Add(logN, n) + cost.FromCount(7)
	l.PerRow = cost.Add(logN, l.NOut)

	if b.Table.AutoIndexes != nil {
		b.Table.AutoIndexes.Put(fingerprint, &catalog.AutoIndexPlan{
			Setup: l.Setup, PerRow: l.PerRow, NOut: l.NOut, Terms: driving,
		})
	}
	return l
}

// AutoIndexFingerprint hashes the set of driving terms' (cursor,column)
// identity into the stable key catalog.AutoIndexCache keys on, so a
// repeated shape of query reuses the same synthesized index rather than
// rebuilding it every planning call. Grounded on the teacher's own
// murmur3-backed value hashing (container/hash's GenHashMurMur).
func AutoIndexFingerprint(l *Loop) uint32 {
	if l.BTree == nil {
		return 0
	}
	h := murmur3.New128()
	buf := make([]byte, 8)
	for _, t := range l.BTree.Terms {
		binary.LittleEndian.PutUint32(buf, uint32(t.LeftCursor))
		binary.LittleEndian.PutUint32(buf[4:], uint32(t.LeftColumn))
		h.Write(buf)
	}
	sum := h.Sum(nil)
	return binary.LittleEndian.Uint32(sum)
}

// orUnions builds one OR-of-indexes Loop per WO_OR term whose indexable
// set includes this table: recursively plan each branch against this
// table alone, keep the best orSetCap entries, and combine by pairwise
// cost_add of rRun/nOut with a constant 18 added for the deduplicating
// row-set probe (spec.md §4.5).
func (b *Builder) orUnions(self mask.Bitmask) []*Loop {
	var out []*Loop
	for _, t := range b.Clause.Terms {
		if !t.Enabled() || t.Flags&clause.FlagIndexableOR == 0 || t.Or == nil {
			continue
		}
		if t.IndexableSet.Intersect(self).IsEmpty() {
			continue
		}
		set := NewOrSet()
		for _, branch := range t.Or.Terms {
			branchClause := clause.NewClause(clause.OpAND, b.Clause)
			branchClause.Append(branch)
			sub := New(b.Table, b.Cursor, branchClause, b.Masks, b.NotReady, b.ReadColumns)
			best := sub.bestSingle(self)
			if best != nil {
				set.Offer(best.Prereq, best.PerRow, best.NOut)
			}
		}
		if set.Len() == 0 {
			continue
		}
		combinedRun, combinedOut, combinedPrereq := set.Combine()
		out = append(out, &Loop{
			Table:    b.Table,
			Cursor:   b.Cursor,
			SelfMask: self,
			Prereq:   combinedPrereq,
			PerRow:   combinedRun + 18,
			NOut:     combinedOut,
			Flags:    FlagOrUnion,
			BTree:    &BTreePayload{Terms: []*clause.Term{t}},
		})
	}
	return out
}

// bestSingle returns the cheapest non-full-scan loop this builder can
// find for a single-term clause, used while costing one OR branch.
func (b *Builder) bestSingle(self mask.Bitmask) *Loop {
	var best *Loop
	for _, idx := range b.Table.AllIndexes() {
		family, driven := b.indexFamily(idx, self)
		if !driven {
			continue
		}
		for _, l := range family {
			if l.BTree.Index == nil || (l.BTree.EqualityCols == 0 && !l.BTree.HasLowerBnd && !l.BTree.HasUpperBnd) {
				continue // the bare, predicate-less scan never beats a real filter here
			}
			if best == nil || l.PerRow < best.PerRow {
				best = l
			}
		}
	}
	return best
}

// vtabConstraints collects, in a stable order, every enabled term this
// builder's cursor can supply the left-hand column for, filtered the
// same way an ordinary index-scan term is: not blocked by NotReady, and
// not needing a column from this loop's own table on its right-hand
// side (spec.md §3's self-mask disjointness invariant, §4.4's Usable).
// The returned Constraint.TermIndex is the offset into terms, stable
// across every best_index phase so Usage[] can be mapped back to a term
// regardless of which phase's usable subset produced it.
func (b *Builder) vtabConstraints(self mask.Bitmask) ([]catalog.Constraint, []*clause.Term) {
	var constraints []catalog.Constraint
	var terms []*clause.Term
	for _, t := range b.Clause.Terms {
		if !t.Enabled() || !t.HasLeftColumn || t.LeftCursor != b.Cursor {
			continue
		}
		if t.PrereqAll.Intersect(b.NotReady) != 0 {
			continue
		}
		if !t.PrereqRight.Disjoint(self) {
			continue
		}
		constraints = append(constraints, catalog.Constraint{
			TermIndex: len(terms),
			Column:    t.LeftColumn,
			Op:        t.Op,
			Constant:  t.PrereqRight.IsEmpty(),
			InList:    t.Op&clause.OpIN != 0,
		})
		terms = append(terms, t)
	}
	return constraints, terms
}

// vtabOrderBy translates the request's ORDER BY into catalog.OrderByColumn,
// returning nil (not "consumable") the moment a term names some other
// table — a virtual table's best_index can only ever promise to satisfy
// output order over its own columns.
func (b *Builder) vtabOrderBy() []catalog.OrderByColumn {
	if len(b.OrderBy) == 0 {
		return nil
	}
	out := make([]catalog.OrderByColumn, 0, len(b.OrderBy))
	for _, t := range b.OrderBy {
		if t.Cursor != b.Cursor {
			return nil
		}
		out = append(out, catalog.OrderByColumn{Column: t.Column, Desc: t.Desc})
	}
	return out
}

// vtabLoops implements spec.md §4.5's "Virtual-table loops": pass the
// constraint candidates and the ORDER BY to the vtab's best_index method
// across four phases — (1) constants without IN, (2) constants with IN,
// (3) variables without IN, (4) all — gated the way
// original_source/src/where.c:4754 whereLoopAddVirtual gates them (phase
// 2 only once an IN-constraint exists; phases 3-4 only once some
// constraint actually has a variable right-hand side), and insert each
// distinct (idxNum, idxStr, orderByConsumed) result.
func (b *Builder) vtabLoops(self mask.Bitmask) []*Loop {
	if b.Table.VTab == nil {
		return nil
	}
	base, terms := b.vtabConstraints(self)
	orderBy := b.vtabOrderBy()

	seenIn, seenVar := false, false
	for _, c := range base {
		if c.InList {
			seenIn = true
		}
		if !c.Constant {
			seenVar = true
		}
	}

	type phase struct {
		usable func(catalog.Constraint) bool
		gate   bool
	}
	phases := []phase{
		{gate: true, usable: func(c catalog.Constraint) bool { return c.Constant && !c.InList }},
		{gate: seenIn, usable: func(c catalog.Constraint) bool { return c.Constant }},
		{gate: seenVar, usable: func(c catalog.Constraint) bool { return !c.InList }},
		{gate: seenVar, usable: func(c catalog.Constraint) bool { return true }},
	}

	var loops []*Loop
	seen := map[[3]interface{}]bool{}
	for _, ph := range phases {
		if !ph.gate {
			continue
		}
		call := make([]catalog.Constraint, len(base))
		for i, c := range base {
			c.Usable = ph.usable(c)
			call[i] = c
		}
		res, err := b.Table.VTab.BestIndex(call, orderBy)
		if err != nil {
			continue
		}
		key := [3]interface{}{res.IdxNum, res.IdxStr, res.OrderByConsumed}
		if seen[key] {
			continue
		}
		seen[key] = true
		loops = append(loops, b.makeVTabLoop(call, terms, res, self, orderBy))
	}
	return loops
}

// makeVTabLoop assembles a Loop from one best_index phase's result:
// every Usage entry with a positive Argv marks its constraint consumed,
// folding its term's prereqAll (minus this table) into the loop's prereq
// and, if the vtab
// says it may omit the residual check, into OmitMask.
func (b *Builder) makeVTabLoop(call []catalog.Constraint, terms []*clause.Term, res catalog.BestIndexResult, self mask.Bitmask, orderBy []catalog.OrderByColumn) *Loop {
	var prereq mask.Bitmask
	var consumed []*clause.Term
	var omitMask uint64
	for i, c := range call {
		if i >= len(res.Usage) {
			break
		}
		u := res.Usage[i]
		if u.Argv <= 0 {
			continue
		}
		t := terms[c.TermIndex]
		consumed = append(consumed, t)
		prereq = prereq.Union(t.PrereqAll.Without(self))
		if u.Omit && i < 64 {
			omitMask |= 1 << uint(i)
		}
	}

	l := &Loop{
		Table:    b.Table,
		Cursor:   b.Cursor,
		SelfMask: self,
		Prereq:   prereq,
		Setup:    0,
		PerRow:   cost.FromDouble(res.Cost),
		NOut:     cost.FromCount(25), // where.c:4899 -- every vtab query is tuned to estimate 25 output rows
		Flags:    FlagVirtualTable,
		VTab: &VTabPayload{
			IdxNum:   res.IdxNum,
			IdxStr:   res.IdxStr,
			Ordered:  res.OrderByConsumed,
			OmitMask: omitMask,
			Terms:    consumed,
		},
	}
	if res.OrderByConsumed {
		for _, ob := range orderBy {
			l.OrderColumns = append(l.OrderColumns, catalog.IndexColumn{Column: ob.Column, Descending: ob.Desc})
		}
	}
	return l
}
