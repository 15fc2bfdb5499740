package path

import (
	"testing"

	"github.com/ryogrid/wherecore/catalog"
	"github.com/ryogrid/wherecore/cost"
	"github.com/ryogrid/wherecore/loop"
	"github.com/ryogrid/wherecore/mask"
)

func TestBestPathCountSchedule(t *testing.T) {
	cases := map[int]int{0: 1, 1: 1, 2: 5, 3: 10, 10: 10}
	for depth, want := range cases {
		if got := BestPathCount(depth); got != want {
			t.Fatalf("BestPathCount(%d) = %d, want %d", depth, got, want)
		}
	}
}

func makeLoop(cursor mask.CursorID, self mask.Bitmask, perRow cost.Cost, prereq mask.Bitmask) *loop.Loop {
	return &loop.Loop{
		Cursor:   cursor,
		SelfMask: self,
		Prereq:   prereq,
		PerRow:   perRow,
		NOut:     cost.FromCount(100),
		BTree:    &loop.BTreePayload{},
	}
}

func TestSolvePicksCheaperSingleTableLoop(t *testing.T) {
	ms := mask.NewMaskSet()
	ms.Assign(0)
	cheap := makeLoop(0, ms.MaskOf(0), 10, mask.Empty)
	expensive := makeLoop(0, ms.MaskOf(0), 100, mask.Empty)

	s := New([]*loop.Loop{cheap, expensive}, 1, nil, nil)
	best := s.Solve(0)
	if best == nil || len(best.Loops) != 1 {
		t.Fatalf("expected a single-loop path")
	}
	if best.Loops[0].PerRow != 10 {
		t.Fatalf("Solve should pick the cheaper loop, got PerRow=%v", best.Loops[0].PerRow)
	}
}

func TestSolveRespectsPrerequisites(t *testing.T) {
	ms := mask.NewMaskSet()
	ms.Assign(0)
	ms.Assign(1)
	loopA := makeLoop(0, ms.MaskOf(0), 10, mask.Empty)
	loopB := makeLoop(1, ms.MaskOf(1), 10, ms.MaskOf(0)) // needs table 0 joined first

	s := New([]*loop.Loop{loopA, loopB}, 2, nil, nil)
	best := s.Solve(0)
	if best == nil || len(best.Loops) != 2 {
		t.Fatalf("expected a complete 2-table path")
	}
	if best.Loops[0].Cursor != 0 {
		t.Fatalf("table 0 must be joined before table 1, got order starting with cursor %d", best.Loops[0].Cursor)
	}
}

func TestSolveReturnsNilWhenNoCompletePathExists(t *testing.T) {
	ms := mask.NewMaskSet()
	ms.Assign(0)
	ms.Assign(1)
	// Only a loop for table 0 exists; table 1 can never be reached.
	loopA := makeLoop(0, ms.MaskOf(0), 10, mask.Empty)
	s := New([]*loop.Loop{loopA}, 2, nil, nil)
	if s.Solve(0) != nil {
		t.Fatalf("Solve should return nil when depth cannot reach every table")
	}
}

func TestLoadPlanReportsReverseFlag(t *testing.T) {
	ms := mask.NewMaskSet()
	ms.Assign(0)
	l := makeLoop(0, ms.MaskOf(0), 10, mask.Empty)
	l.BTree.Index = &catalog.Index{Name: "idx"}
	p := &Path{Loops: []*loop.Loop{l}, RevLoop: ms.MaskOf(0)}
	steps := LoadPlan(p)
	if len(steps) != 1 || !steps[0].Reverse {
		t.Fatalf("LoadPlan should report the loop as reversed")
	}
}

func TestSolveTieBreaksDeterministicallyOnEqualCost(t *testing.T) {
	ms := mask.NewMaskSet()
	ms.Assign(0)
	// Two loops for the same table with identical PerRow/NOut/Prereq tie
	// on cost; spec.md §8 requires the same one to win every run.
	a := makeLoop(0, ms.MaskOf(0), 10, mask.Empty)
	b := makeLoop(0, ms.MaskOf(0), 10, mask.Empty)

	var first *loop.Loop
	for i := 0; i < 20; i++ {
		s := New([]*loop.Loop{a, b}, 1, nil, nil)
		best := s.Solve(0)
		if best == nil || len(best.Loops) != 1 {
			t.Fatalf("expected a single-loop path")
		}
		if first == nil {
			first = best.Loops[0]
			continue
		}
		if best.Loops[0] != first {
			t.Fatalf("tie-break must be deterministic across runs, got a different winning loop")
		}
	}
}

func TestPathLessPrefersFewerLoopBitsOnCostTie(t *testing.T) {
	ms := mask.NewMaskSet()
	ms.Assign(0)
	ms.Assign(1)
	fewer := &Path{Cost: 10, MaskLoop: ms.MaskOf(0), seq: 5}
	more := &Path{Cost: 10, MaskLoop: ms.MaskOf(0).Union(ms.MaskOf(1)), seq: 1}
	if !pathLess(fewer, more) {
		t.Fatalf("pathLess should prefer fewer MaskLoop bits over an earlier seq when cost and prerequisite bits tie")
	}
}

func TestPathLessFallsBackToInsertionOrderOnFullTie(t *testing.T) {
	a := &Path{Cost: 10, seq: 3}
	b := &Path{Cost: 10, seq: 4}
	if !pathLess(a, b) || pathLess(b, a) {
		t.Fatalf("pathLess should prefer the earlier seq once cost and prereq bits both tie")
	}
}
