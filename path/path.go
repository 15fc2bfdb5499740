// Package path implements the Path Solver of spec.md §4.6: dynamic
// programming over prefix paths of chosen Loops, keeping the N best
// paths at each join depth and evaluating ORDER-BY satisfaction as it
// extends them.
package path

import (
	"sort"

	"github.com/ryogrid/wherecore/catalog"
	"github.com/ryogrid/wherecore/cost"
	"github.com/ryogrid/wherecore/loop"
	"github.com/ryogrid/wherecore/mask"
	"github.com/ryogrid/wherecore/orderby"
)

// BestPathCount is spec.md §4.6's K schedule: how many paths survive
// pruning at each depth of a join over the given number of tables. It is
// a pure function of the join width, not a tunable knob, because the
// schedule reflects how much join-order ambiguity the query actually has
// (a single-table query has exactly one candidate order), not a
// cost/quality tradeoff a caller should be adjusting.
func BestPathCount(tables int) int {
	switch {
	case tables <= 1:
		return 1
	case tables == 2:
		return 5
	default:
		return 10
	}
}

// Path is an ordered prefix of chosen loops, spec.md §3's Path entity.
type Path struct {
	Loops          []*loop.Loop
	Cost           cost.Cost
	RowCount       cost.Cost
	MaskLoop       mask.Bitmask
	RevLoop        mask.Bitmask
	IsOrdered      bool
	IsOrderedValid bool

	// seq is the path's insertion order within one Solve call, assigned
	// in the deterministic order candidates are generated (frontier
	// paths oldest-first, then AllLoops in slice order). It exists only
	// to break a cost/prereq tie deterministically (spec.md §8, §4.1/§9:
	// "prefer fewer prerequisite bits, then earlier insertion order").
	seq int
}

// pathLess reports whether a should be preferred over b when choosing
// which of two candidate paths survives: lower cost first, then fewer
// prerequisite bits (PopCount of the union of its loops' Prereq masks),
// then fewer loops (MaskLoop.PopCount), then earlier insertion order
// (seq). seq is unique within one Solve call, so this is a strict total
// order and its result never depends on map iteration order.
func pathLess(a, b *Path) bool {
	if a.Cost != b.Cost {
		return a.Cost < b.Cost
	}
	var preA, preB mask.Bitmask
	for _, l := range a.Loops {
		preA = preA.Union(l.Prereq)
	}
	for _, l := range b.Loops {
		preB = preB.Union(l.Prereq)
	}
	if pa, pb := preA.PopCount(), preB.PopCount(); pa != pb {
		return pa < pb
	}
	if pa, pb := a.MaskLoop.PopCount(), b.MaskLoop.PopCount(); pa != pb {
		return pa < pb
	}
	return a.seq < b.seq
}

// clone returns a shallow copy of p with its own Loops backing array, so
// extending one candidate never mutates a sibling that shares a prefix.
func (p *Path) clone() *Path {
	cp := *p
	cp.Loops = append([]*loop.Loop(nil), p.Loops...)
	return &cp
}

// key is the depth-bucket dedup key of spec.md §4.6: "insert into the
// depth's top-K list keyed by (loopMask, isOrderedValid)".
type key struct {
	loopMask mask.Bitmask
	ordered  bool
}

// Solver runs the DP search over one set of candidate loops.
type Solver struct {
	AllLoops    []*loop.Loop
	OrderTerms  []orderby.Term
	OrderAnalyz *orderby.Analyzer
	NRowEst     cost.Cost
	// TableCount is the number of FROM-list tables the path must cover
	// to be complete. It is supplied explicitly (rather than inferred
	// from AllLoops) because a table with no usable loop at all must
	// still make the search fail, not silently shrink the join.
	TableCount int
}

// New returns a Solver ready to search allLoops for the requested
// ORDER BY (nil/empty if none), covering tableCount FROM-list entries.
func New(allLoops []*loop.Loop, tableCount int, orderTerms []orderby.Term, analyzer *orderby.Analyzer) *Solver {
	return &Solver{AllLoops: allLoops, TableCount: tableCount, OrderTerms: orderTerms, OrderAnalyz: analyzer}
}

// Solve runs the DP search once at the given nRowEst (the outer-loop row
// estimate charged against a one-shot sort, per spec.md §4.6's two-pass
// ORDER-BY protocol) and returns the single best complete path, or nil
// if no complete path exists (e.g. an unsatisfiable prerequisite cycle).
func (s *Solver) Solve(nRowEst cost.Cost) *Path {
	tableCount := s.TableCount
	if tableCount == 0 {
		return &Path{}
	}

	capped := nRowEst
	if capped > cost.FromCount(25) {
		capped = cost.FromCount(25)
	}

	seq := 0
	frontier := map[key]*Path{{}: {RowCount: capped, seq: seq}}

	for depth := 0; depth < tableCount; depth++ {
		next := map[key]*Path{}
		for _, p := range orderedBySeq(frontier) {
			for _, l := range s.AllLoops {
				if !l.Prereq.IsSubsetOf(p.MaskLoop) {
					continue
				}
				if p.MaskLoop.Intersect(l.SelfMask) != 0 {
					continue // table already in this path
				}
				extended := s.extend(p, l, nRowEst)
				seq++
				extended.seq = seq
				k := key{loopMask: extended.MaskLoop, ordered: extended.IsOrderedValid}
				s.offer(next, k, extended, tableCount)
			}
		}
		if len(next) == 0 {
			return nil
		}
		frontier = next
	}

	var best *Path
	for _, p := range frontier {
		if best == nil || pathLess(p, best) {
			best = p
		}
	}
	return best
}

// orderedBySeq returns m's values sorted by insertion order, giving the
// depth loop below a deterministic sequence to extend candidates in —
// ranging over a map directly would make the seq assigned to each
// extension (and so any later cost tie it breaks) depend on Go's
// randomized map iteration order.
func orderedBySeq(m map[key]*Path) []*Path {
	out := make([]*Path, 0, len(m))
	for _, p := range m {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

// extend computes the extended path's cost and ORDER-BY status per
// spec.md §4.6: newCost = cost_add(P.cost, cost_add(L.setup, L.run +
// P.rowCount)), plus a one-shot sort cost when unordered.
func (s *Solver) extend(p *Path, l *loop.Loop, nRowEst cost.Cost) *Path {
	np := p.clone()
	np.Loops = append(np.Loops, l)
	np.MaskLoop = p.MaskLoop.Union(l.SelfMask)

	stepCost := cost.Add(l.Setup, l.PerRow+p.RowCount)
	np.Cost = cost.Add(p.Cost, stepCost)
	np.RowCount = l.NOut

	if len(s.OrderTerms) > 0 && s.OrderAnalyz != nil {
		steps := s.loopSteps(np.Loops)
		result := s.OrderAnalyz.Satisfy(s.OrderTerms, steps)
		np.RevLoop = result.RevLoop
		status := result.Status
		if status == orderby.Unknown && len(np.Loops) == s.TableCount {
			// Every table is now joined and the scan still hasn't consumed
			// every ORDER-BY term: no later loop can rescue this, so an
			// explicit sort is required, same as a direction conflict.
			status = orderby.NotSatisfied
		}
		switch status {
		case orderby.Satisfied:
			np.IsOrdered = true
			np.IsOrderedValid = true
		case orderby.NotSatisfied:
			np.IsOrdered = false
			np.IsOrderedValid = true
			if nRowEst > 0 {
				np.Cost = cost.Add(np.Cost, nRowEst+cost.EstLog(nRowEst))
			}
		default:
			np.IsOrderedValid = false
		}
	} else {
		np.IsOrdered = true
		np.IsOrderedValid = true
	}
	return np
}

// loopSteps converts the chosen Loops into orderby.LoopStep values,
// treating a full-scan/auto-index/OR-union loop as contributing no
// index order of its own. An ordered virtual-table loop contributes its
// OrderColumns the same way an index-driven b-tree loop contributes its
// index's column list, with no leading equality columns to skip.
func (s *Solver) loopSteps(loops []*loop.Loop) []orderby.LoopStep {
	steps := make([]orderby.LoopStep, len(loops))
	for i, l := range loops {
		step := orderby.LoopStep{Cursor: l.Cursor}
		switch {
		case l.BTree != nil && l.BTree.Index != nil:
			step.Columns = l.BTree.Index.Columns
			step.EqualityCols = l.BTree.EqualityCols
			step.OrderDistinct = isOrderDistinct(l)
		case l.VTab != nil && l.VTab.Ordered:
			step.Columns = l.OrderColumns
			step.OrderDistinct = l.Flags&loop.FlagOneRow != 0
		default:
			step.OrderDistinct = l.Flags&loop.FlagOneRow != 0
		}
		steps[i] = step
	}
	return steps
}

// isOrderDistinct implements spec.md §4.7's per-loop test: at most one
// row, or a UNIQUE-NOT-NULL index prefix over the columns actually
// consumed by the loop.
func isOrderDistinct(l *loop.Loop) bool {
	if l.Flags&loop.FlagOneRow != 0 {
		return true
	}
	if l.BTree == nil || l.BTree.Index == nil || l.Table == nil {
		return false
	}
	return l.BTree.Index.UniqueNotNullPrefix(l.Table, l.BTree.EqualityCols)
}

// offer inserts candidate into next[k], enforcing the depth's top-K cap,
// K = BestPathCount(tableCount) (spec.md §4.6: "If K is exceeded, drop
// the highest-cost path") and
// breaking ties deterministically via pathLess (lower cost, then fewer
// prerequisite bits, then earlier insertion order — spec.md §8, §4.1/§9).
// Because pathLess is a strict total order over seq-tagged paths, the
// worst-candidate scan below always picks the same loser regardless of
// which order the map happens to be iterated in.
func (s *Solver) offer(next map[key]*Path, k key, candidate *Path, tableCount int) {
	if existing, ok := next[k]; ok {
		if pathLess(candidate, existing) {
			next[k] = candidate
		}
		return
	}
	next[k] = candidate
	if len(next) <= BestPathCount(tableCount) {
		return
	}
	worstKey, worst := k, candidate
	for kk, p := range next {
		if pathLess(worst, p) {
			worstKey, worst = kk, p
		}
	}
	delete(next, worstKey)
}

// TwoPassSolve implements spec.md §4.6's ORDER-BY-driven second pass:
// solve once with nRowEst=0 to find the best unsorted plan, then again
// charging a sort with nRowEst = firstPass.RowCount+1, reporting the
// sort-satisfied status from the second pass.
func (s *Solver) TwoPassSolve() (*Path, bool) {
	if len(s.OrderTerms) == 0 {
		return s.Solve(0), true
	}
	first := s.Solve(0)
	if first == nil {
		return nil, false
	}
	second := s.Solve(first.RowCount + 1)
	if second == nil {
		return first, false
	}
	return second, second.IsOrdered
}

// LoadPlan drains a solved Path into the per-level emitter instructions
// spec.md §2 describes as the pipeline's final output: which cursor to
// open, which index (if any), and the reverse-scan flag.
type PlanStep struct {
	Cursor  mask.CursorID
	Index   *catalog.Index
	Reverse bool
	Loop    *loop.Loop
}

func LoadPlan(p *Path) []PlanStep {
	steps := make([]PlanStep, len(p.Loops))
	for i, l := range p.Loops {
		step := PlanStep{Cursor: l.Cursor, Loop: l}
		if l.BTree != nil {
			step.Index = l.BTree.Index
		}
		step.Reverse = p.RevLoop.Intersect(l.SelfMask) != 0
		steps[i] = step
	}
	return steps
}
