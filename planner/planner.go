// Package planner ties the Clause Normalizer, Term Scanner, Loop
// Builder, Path Solver and ORDER-BY Analyzer together into the single
// entry point spec.md §2's pipeline describes: a WHERE expression, a
// FROM list and an optional ORDER BY go in, a chosen access plan comes
// out (or one of the three error outcomes of spec.md §7).
package planner

import (
	"github.com/ryogrid/wherecore/catalog"
	"github.com/ryogrid/wherecore/clause"
	"github.com/ryogrid/wherecore/common"
	"github.com/ryogrid/wherecore/expr"
	"github.com/ryogrid/wherecore/loop"
	"github.com/ryogrid/wherecore/mask"
	"github.com/ryogrid/wherecore/orderby"
	"github.com/ryogrid/wherecore/path"
	"github.com/ryogrid/wherecore/trace"
)

// FromEntry is one FROM-list table plus the cursor it is opened under
// and an optional INDEXED BY restriction.
type FromEntry struct {
	Table      *catalog.Table
	Cursor     mask.CursorID
	IndexedBy  string // "" for no restriction
	LeftJoined bool
	// ReadColumns lists the column offsets of Table the query actually
	// reads (projection plus any post-scan evaluation). It drives the
	// Loop Builder's IDX_ONLY marking (spec.md §4.5); leave nil if the
	// caller doesn't track it, and no loop for this table is ever
	// marked IDX_ONLY.
	ReadColumns []int
}

// Request bundles everything one planning call needs: the WHERE tree,
// the FROM list in join order, and an optional ORDER BY / DISTINCT
// projection.
type Request struct {
	Where   expr.Expr
	From    []FromEntry
	OrderBy []orderby.Term
	// Distinct, when non-empty, is the projected column list of a
	// single-table SELECT DISTINCT the caller wants checked for
	// redundancy (spec.md §4.8).
	Distinct []int
}

// Plan is the pipeline's output: per-level access-path choices plus the
// ORDER-BY-satisfied / DISTINCT-redundant flags spec.md §6 lists as the
// hand-off to the emitter.
type Plan struct {
	Steps             []path.PlanStep
	OrderBySatisfied  bool
	DistinctRedundant bool
	Trace             *trace.Tracer
}

// Planner holds the configuration one series of Plan calls shares.
type Planner struct {
	Config  common.Config
	LogMask common.LogLevel
}

// New returns a Planner using cfg, tracing at logMask (common.LevelNone
// disables tracing entirely).
func New(cfg common.Config, logMask common.LogLevel) *Planner {
	return &Planner{Config: cfg, LogMask: logMask}
}

// Plan runs the full pipeline once for req.
func (p *Planner) Plan(req Request) (*Plan, error) {
	if len(req.From) > common.MaxJoinTables {
		return nil, newError(ErrSchema, "join exceeds the 64-table limit", nil)
	}

	tr := trace.New(p.LogMask)

	masks := mask.NewMaskSet()
	for _, f := range req.From {
		if _, ok := masks.Assign(f.Cursor); !ok {
			return nil, newError(ErrSchema, "join exceeds the 64-table limit", nil)
		}
	}

	norm := clause.NewNormalizer(p.Config, masks)
	norm.HasHistogram = tableColumnPredicate(req.From, func(idx *catalog.Index, col int) bool {
		return len(idx.Columns) > 0 && idx.Columns[0].Column == col && idx.HasHistogram()
	})
	norm.HasIndexOn = tableColumnPredicate(req.From, func(idx *catalog.Index, col int) bool {
		return len(idx.Columns) > 0 && idx.Columns[0].Column == col
	})
	whereClause := norm.Normalize(req.Where)

	var allLoops []*loop.Loop
	for _, f := range req.From {
		restrictIdx, err := p.resolveIndexedBy(f)
		if err != nil {
			return nil, err
		}

		builder := loop.New(f.Table, f.Cursor, whereClause, masks, mask.Empty, f.ReadColumns)
		builder.OrderBy = req.OrderBy
		candidates := builder.Build()
		if restrictIdx != nil {
			candidates = restrictToIndex(candidates, restrictIdx)
		}
		if len(candidates) == 0 {
			return nil, newError(ErrNoPlan, "table "+f.Table.Name+" has no usable access path", nil)
		}
		for _, l := range candidates {
			tr.LoopConsidered(f.Table.Name, int32(l.Cursor), int32(l.PerRow), int32(l.NOut), loopFlagsString(l.Flags))
		}
		allLoops = append(allLoops, candidates...)
	}

	analyzer := orderby.New(masks)
	solver := path.New(allLoops, len(req.From), req.OrderBy, analyzer)
	best, orderSatisfied := solver.TwoPassSolve()
	if best == nil {
		return nil, newError(ErrNoPlan, "no complete join order could be formed", nil)
	}

	distinctRedundant := false
	if p.Config.DistinctReduction && len(req.From) == 1 && len(req.Distinct) > 0 {
		eqCols := whereEqualityColumns(whereClause, req.From[0].Cursor)
		distinctRedundant = orderby.DistinctRedundant(req.From[0].Table, req.Distinct, eqCols)
	}

	tr.PathChosen(len(req.From), int32(best.Cost), orderSatisfied)

	return &Plan{
		Steps:             path.LoadPlan(best),
		OrderBySatisfied:  orderSatisfied,
		DistinctRedundant: distinctRedundant,
		Trace:             tr,
	}, nil
}

// resolveIndexedBy looks up an INDEXED BY restriction against the
// table's own index list, failing with ErrSchema if the name is unknown
// (spec.md §7 outcome 2).
func (p *Planner) resolveIndexedBy(f FromEntry) (*catalog.Index, error) {
	if f.IndexedBy == "" {
		return nil, nil
	}
	for _, idx := range f.Table.AllIndexes() {
		if idx.Name == f.IndexedBy {
			return idx, nil
		}
	}
	return nil, newError(ErrSchema, "INDEXED BY names a nonexistent index: "+f.IndexedBy, nil)
}

func restrictToIndex(loops []*loop.Loop, idx *catalog.Index) []*loop.Loop {
	var out []*loop.Loop
	for _, l := range loops {
		if l.BTree != nil && l.BTree.Index == idx {
			out = append(out, l)
		}
	}
	return out
}

// tableColumnPredicate adapts a per-index test into the (cursor,column)
// callback shape clause.Normalizer expects, scanning the matching
// FromEntry's index list.
func tableColumnPredicate(from []FromEntry, test func(*catalog.Index, int) bool) func(mask.CursorID, int) bool {
	return func(cursor mask.CursorID, column int) bool {
		for _, f := range from {
			if f.Cursor != cursor {
				continue
			}
			for _, idx := range f.Table.AllIndexes() {
				if test(idx, column) {
					return true
				}
			}
		}
		return false
	}
}

// whereEqualityColumns collects the columns of cursor bound to a
// constant by a top-level equality term — the input DistinctRedundant
// needs to know which projected columns can be skipped because the
// WHERE clause already pins them.
func whereEqualityColumns(c *clause.Clause, cursor mask.CursorID) map[int]bool {
	out := map[int]bool{}
	for _, t := range c.Terms {
		if t.Enabled() && t.HasLeftColumn && t.LeftCursor == cursor && t.Op == clause.OpEQ && t.PrereqRight.IsEmpty() {
			out[t.LeftColumn] = true
		}
	}
	return out
}

func loopFlagsString(f loop.Flag) string {
	if f == 0 {
		return "SCAN"
	}
	s := ""
	add := func(name string) {
		if s != "" {
			s += "|"
		}
		s += name
	}
	if f&loop.FlagOneRow != 0 {
		add("ONEROW")
	}
	if f&loop.FlagIdxOnly != 0 {
		add("IDXONLY")
	}
	if f&loop.FlagAutoIndex != 0 {
		add("AUTOINDEX")
	}
	if f&loop.FlagVirtualTable != 0 {
		add("VTAB")
	}
	if f&loop.FlagOrUnion != 0 {
		add("ORUNION")
	}
	if f&loop.FlagReverse != 0 {
		add("REVERSE")
	}
	return s
}
