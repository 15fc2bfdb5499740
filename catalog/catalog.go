// Package catalog defines the "consumed interfaces" of spec.md §6: the
// table/index metadata, per-column affinity/NOT-NULL flags, and
// histogram-backed statistics the planner core reads but never writes.
// The actual catalog storage, DDL, and statistics-collection machinery
// are out of scope (spec.md §1); this package is the seam.
package catalog

import (
	deadlock "github.com/sasha-s/go-deadlock"

	"github.com/ryogrid/wherecore/clause"
	"github.com/ryogrid/wherecore/common"
	"github.com/ryogrid/wherecore/cost"
	"github.com/ryogrid/wherecore/mask"
	"github.com/ryogrid/wherecore/types"
)

// Column is one column of a table: name, affinity, collation and
// NOT-NULL-ness, mirroring the fields the teacher's
// storage/table/column.Column carries alongside its physical layout
// (name/type/offset) — here stripped to what the planner needs.
type Column struct {
	Name    string
	Aff     types.Affinity
	Coll    types.Collation
	NotNull bool
}

// IndexColumn is one leading or trailing column of an index: which table
// column it indexes, in which sort direction.
type IndexColumn struct {
	Column     int // offset into the owning Table's Columns
	Descending bool
	Coll       types.Collation // "" defers to the indexed column's own collation
}

// Histogram is an optional per-column sample set used to estimate range
// selectivity more accurately than the RangeScanFactor default (spec.md
// §4.5 "using histogram samples if available"). A real implementation
// would carry quantile boundaries; this planner only needs to ask "do we
// have one" and "what fraction of rows fall in [lo,hi]".
type Histogram struct {
	// Samples are sorted sample boundaries covering the full domain.
	Samples []float64
}

// Present reports whether h actually carries samples, vs. the zero value
// standing in for "no histogram collected".
func (h *Histogram) Present() bool {
	return h != nil && len(h.Samples) > 0
}

// Selectivity estimates the fraction of rows in [lo,hi] (either bound may
// be absent) by counting samples that fall inside the range. It never
// returns 0, so a Cost derived from it stays finite.
func (h *Histogram) Selectivity(lo, hi *float64, hasLo, hasHi bool) float64 {
	if !h.Present() {
		return 1.0 / common.RangeScanFactor
	}
	n := len(h.Samples)
	inside := 0
	for _, s := range h.Samples {
		if hasLo && s < *lo {
			continue
		}
		if hasHi && s >= *hi {
			continue
		}
		inside++
	}
	if inside == 0 {
		inside = 1
	}
	return float64(inside) / float64(n)
}

// Index is one index on a Table: an ordered column list, a uniqueness
// flag, and optional per-column histograms.
type Index struct {
	Name       string
	Columns    []IndexColumn
	Unique     bool
	PrimaryKey bool
	Histograms []*Histogram // parallel to Columns; may contain nils
}

// HasHistogram reports whether the leading column of the index carries
// histogram samples — the gate spec.md §9 Open Question 1 uses for the
// stat3-conditional NOT-NULL rewrite.
func (idx *Index) HasHistogram() bool {
	return len(idx.Histograms) > 0 && idx.Histograms[0].Present()
}

// CoversColumns reports whether every column index in cols appears
// somewhere in the index's column list — used for the IDX_ONLY /
// covering-index flag (spec.md §4.5).
func (idx *Index) CoversColumns(cols []int) bool {
	have := make(map[int]bool, len(idx.Columns))
	for _, c := range idx.Columns {
		have[c.Column] = true
	}
	for _, c := range cols {
		if !have[c] {
			return false
		}
	}
	return true
}

// UniqueNotNullPrefix reports whether the first n columns of a unique
// index are all declared NOT NULL — the condition spec.md §4.7 uses for
// "order-distinct" and §4.8 uses for DISTINCT redundancy. It reports
// false for n == 0 and for n beyond the index's column count.
func (idx *Index) UniqueNotNullPrefix(tbl *Table, n int) bool {
	if !idx.Unique || n == 0 || n > len(idx.Columns) {
		return false
	}
	for i := 0; i < n; i++ {
		col := tbl.Columns[idx.Columns[i].Column]
		if !col.NotNull {
			return false
		}
	}
	return true
}

// Constraint is one WHERE-term candidate offered to a virtual table's
// BestIndex method, mirroring spec.md §6's best_index constraint_array
// entry. TermIndex is the offset of the originating term in the slice
// the Loop Builder passed to BestIndex, echoed back through Usage so the
// builder can map argv[] slots back onto the terms they consume.
type Constraint struct {
	TermIndex int
	Column    int
	Op        clause.OpMask
	Constant  bool // right-hand side has no prerequisites at all (relative to the vtab's own table)
	InList    bool // right-hand side is an IN-list rather than a scalar
	Usable    bool // offered as usable in this BestIndex call's phase
}

// OrderByColumn is one ORDER BY key offered to BestIndex, spec.md §6's
// orderby_array entry.
type OrderByColumn struct {
	Column int
	Desc   bool
}

// ConstraintUsage says, for one offered Constraint at the same index in
// the slice passed to BestIndex, whether the chosen plan consumes it as
// an argv[] entry (Argv, 1-based, 0 means unused) and whether the
// planner core may skip its own residual re-check of that term (Omit).
type ConstraintUsage struct {
	Argv int
	Omit bool
}

// BestIndexResult is what one BestIndex call returns for one planning
// phase (spec.md §6's best_index outputs).
type BestIndexResult struct {
	Usage           []ConstraintUsage // parallel to the Constraints slice passed in
	Cost            float64
	IdxNum          int
	IdxStr          string
	OrderByConsumed bool
}

// VTab is the seam a virtual table's own query planner is reached
// through. A Table with a non-nil VTab is planned by four calls to
// BestIndex — one per spec.md §4.5 phase — instead of by the b-tree/
// auto-index machinery.
type VTab interface {
	BestIndex(constraints []Constraint, orderBy []OrderByColumn) (BestIndexResult, error)
}

// Table is one FROM-list source's schema plus its row-count estimate and
// index list, the minimum surface spec.md §6's "Catalog" interface
// exposes (find_primary_key, index_list, per-column affinity/NOT-NULL,
// per-index column/collation/sort-order lists, optional histograms).
type Table struct {
	Name       string
	Cursor     mask.CursorID
	Columns    []Column
	Indexes    []*Index // does not include the primary key; see PrimaryKey
	PrimaryKey *Index   // nil for a table with no declared primary key
	RowCount   uint64

	// VTab, when non-nil, hands planning of this table to a virtual
	// table's own best_index method instead of the b-tree/auto-index
	// machinery (spec.md §6's "Virtual-table planning entry point").
	VTab VTab

	// AutoIndexes memoizes synthesized automatic indexes for this table
	// across repeated planning calls (spec.md §4.5's automatic-index
	// synthesis). Nil disables the cache; a fresh Table starts with no
	// cache until the caller opts in with NewAutoIndexCache.
	AutoIndexes *AutoIndexCache
}

// AllIndexes returns every index usable against the table, primary key
// first, matching the teacher's catalog convention of surfacing the
// primary key alongside secondary indexes (find_primary_key + index_list
// combined into one iteration order the Loop Builder can walk).
func (t *Table) AllIndexes() []*Index {
	if t.PrimaryKey == nil {
		return t.Indexes
	}
	out := make([]*Index, 0, len(t.Indexes)+1)
	out = append(out, t.PrimaryKey)
	out = append(out, t.Indexes...)
	return out
}

// ColumnIndex returns the offset of a column by name, or -1.
func (t *Table) ColumnIndex(name string) int {
	for i, c := range t.Columns {
		if c.Name == name {
			return i
		}
	}
	return -1
}

// StatsCache memoizes per-table row-count/histogram lookups behind a
// deadlock-checking RWMutex, the same drop-in the teacher substitutes for
// sync.RWMutex around its own shared structures (storage/access
// /lock_manager.go, lib/storage/page/page.go). A single planning call
// touches this read-mostly, but nothing stops two callers from planning
// concurrently against one open catalog process, so lookups are guarded.
type StatsCache struct {
	mu    deadlock.RWMutex
	stats map[string]*Table
}

// NewStatsCache returns an empty cache.
func NewStatsCache() *StatsCache {
	return &StatsCache{stats: make(map[string]*Table)}
}

// Get returns the cached Table for name, if any.
func (c *StatsCache) Get(name string) (*Table, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.stats[name]
	return t, ok
}

// Put installs or replaces the cached Table for name — called after a
// fresh catalog/statistics lookup so the next planning call in the same
// process skips it.
func (c *StatsCache) Put(name string, t *Table) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats[name] = t
}

// AutoIndexPlan is a synthesized automatic index's cost vector and driving
// terms, the reusable half of loop.Builder.autoIndex's output — the
// prereq/self-mask fields stay in the loop package since they depend on
// which cursor the table is opened under in a particular query, but the
// cost shape and driving terms depend only on the (table, term-shape) pair
// AutoIndexCache keys on.
type AutoIndexPlan struct {
	Setup, PerRow, NOut cost.Cost
	Terms               []*clause.Term
}

// AutoIndexCache memoizes AutoIndexPlan values by the murmur3 fingerprint
// of their driving terms' (cursor,column) identity (loop.AutoIndexFingerprint),
// so a repeated query shape against the same table reuses the earlier
// synthesis instead of recomputing it — spec.md §4.5's automatic-index
// synthesis is otherwise redone from scratch on every single planning
// call. Guarded the same deadlock-checking way as StatsCache.
type AutoIndexCache struct {
	mu      deadlock.RWMutex
	entries map[uint32]*AutoIndexPlan
}

// NewAutoIndexCache returns an empty cache.
func NewAutoIndexCache() *AutoIndexCache {
	return &AutoIndexCache{entries: make(map[uint32]*AutoIndexPlan)}
}

// Get returns the cached plan for fingerprint, if any.
func (c *AutoIndexCache) Get(fingerprint uint32) (*AutoIndexPlan, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.entries[fingerprint]
	return p, ok
}

// Put installs or replaces the cached plan for fingerprint.
func (c *AutoIndexCache) Put(fingerprint uint32, p *AutoIndexPlan) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[fingerprint] = p
}

// Catalog is the full surface the planner core consumes: table lookup
// backed by a memoizing StatsCache. Anything not found here (parsing,
// DDL, on-disk format) is out of the core's scope by design.
type Catalog struct {
	cache  *StatsCache
	lookup func(name string) (*Table, error)
}

// NewCatalog wraps a lookup function (typically backed by the real
// catalog/statistics subsystem) with the shared StatsCache.
func NewCatalog(lookup func(name string) (*Table, error)) *Catalog {
	return &Catalog{cache: NewStatsCache(), lookup: lookup}
}

// Table returns the named table's metadata, consulting the cache first.
func (c *Catalog) Table(name string) (*Table, error) {
	if t, ok := c.cache.Get(name); ok {
		return t, nil
	}
	t, err := c.lookup(name)
	if err != nil {
		return nil, err
	}
	c.cache.Put(name, t)
	return t, nil
}
