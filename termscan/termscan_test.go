package termscan

import (
	"testing"

	"github.com/ryogrid/wherecore/clause"
	"github.com/ryogrid/wherecore/common"
	"github.com/ryogrid/wherecore/expr"
	"github.com/ryogrid/wherecore/mask"
	"github.com/ryogrid/wherecore/types"
)

func buildMasks(t *testing.T, cursors ...mask.CursorID) *mask.MaskSet {
	t.Helper()
	ms := mask.NewMaskSet()
	for _, c := range cursors {
		ms.Assign(c)
	}
	return ms
}

func TestUsableFindsDirectTerm(t *testing.T) {
	ms := buildMasks(t, 0)
	n := clause.NewNormalizer(common.DefaultConfig(), ms)
	where := &expr.Comparison{Op: expr.OpEQ, Left: &expr.ColumnRef{Cursor: 0, Column: 0}, Right: &expr.Literal{Type: types.Integer, Int64: 5}}
	c := n.Normalize(where)

	s := New(c)
	found := s.Usable(0, 0, ms.MaskOf(0), mask.Empty, clause.OpEQ, nil)
	if len(found) != 1 {
		t.Fatalf("got %d usable terms, want 1", len(found))
	}
}

func TestUsablePropagatesThroughEquiv(t *testing.T) {
	ms := buildMasks(t, 0, 1)
	n := clause.NewNormalizer(common.DefaultConfig(), ms)
	// x.a = y.a AND y.a = 5 -- scanning for x.a's constraints should
	// chase the EQUIV copy onto y.a and pick up the literal there.
	where := &expr.And{Terms: []expr.Expr{
		&expr.Comparison{Op: expr.OpEQ, Left: &expr.ColumnRef{Cursor: 0, Column: 0}, Right: &expr.ColumnRef{Cursor: 1, Column: 0}},
		&expr.Comparison{Op: expr.OpEQ, Left: &expr.ColumnRef{Cursor: 1, Column: 0}, Right: &expr.Literal{Type: types.Integer, Int64: 5}},
	}}
	c := n.Normalize(where)

	s := New(c)
	found := s.Usable(0, 0, ms.MaskOf(0), mask.Empty, clause.OpEQ, nil)
	sawLiteralOnY := false
	for _, term := range found {
		if term.LeftCursor == 1 && term.PrereqRight.IsEmpty() {
			sawLiteralOnY = true
		}
	}
	if !sawLiteralOnY {
		t.Fatalf("expected equivalence propagation to surface y.a=5 while scanning x.a")
	}
}

func TestUsableSkipsNotReadyPrerequisites(t *testing.T) {
	ms := buildMasks(t, 0, 1)
	n := clause.NewNormalizer(common.DefaultConfig(), ms)
	where := &expr.Comparison{Op: expr.OpEQ, Left: &expr.ColumnRef{Cursor: 0, Column: 0}, Right: &expr.ColumnRef{Cursor: 1, Column: 0}}
	c := n.Normalize(where)

	s := New(c)
	notReady := ms.MaskOf(1)
	found := s.Usable(0, 0, ms.MaskOf(0), notReady, clause.OpEQ, nil)
	if len(found) != 0 {
		t.Fatalf("term referencing not-ready cursor 1 should be skipped, got %d", len(found))
	}
}

func TestFindTermPrefersConstantRhs(t *testing.T) {
	ms := buildMasks(t, 0, 1)
	n := clause.NewNormalizer(common.DefaultConfig(), ms)
	where := &expr.And{Terms: []expr.Expr{
		&expr.Comparison{Op: expr.OpEQ, Left: &expr.ColumnRef{Cursor: 0, Column: 0}, Right: &expr.ColumnRef{Cursor: 1, Column: 0}},
		&expr.Comparison{Op: expr.OpEQ, Left: &expr.ColumnRef{Cursor: 0, Column: 0}, Right: &expr.Literal{Type: types.Integer, Int64: 7}},
	}}
	c := n.Normalize(where)

	s := New(c)
	best := FindTerm(s, 0, 0, ms.MaskOf(0), mask.Empty, clause.OpEQ, nil)
	if best == nil {
		t.Fatalf("FindTerm returned nil")
	}
	if !best.PrereqRight.IsEmpty() {
		t.Fatalf("FindTerm should prefer the constant-RHS term")
	}
}

func TestCompatibleRejectsMismatchedAffinity(t *testing.T) {
	ms := buildMasks(t, 0)
	n := clause.NewNormalizer(common.DefaultConfig(), ms)
	where := &expr.Comparison{Op: expr.OpEQ, Left: &expr.ColumnRef{Cursor: 0, Column: 0, Aff: types.AffinityText}, Right: &expr.Literal{Type: types.Varchar, String: "x"}}
	c := n.Normalize(where)

	s := New(c)
	idx := &IndexColumnSpec{Aff: types.AffinityInteger, Coll: types.CollationBinary}
	found := s.Usable(0, 0, ms.MaskOf(0), mask.Empty, clause.OpEQ, idx)
	if len(found) != 0 {
		t.Fatalf("text-affinity term should be rejected against an integer index, got %d matches", len(found))
	}
}
