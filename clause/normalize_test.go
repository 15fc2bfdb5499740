package clause

import (
	"testing"

	"github.com/ryogrid/wherecore/common"
	"github.com/ryogrid/wherecore/expr"
	"github.com/ryogrid/wherecore/mask"
	"github.com/ryogrid/wherecore/types"
)

func newTestNormalizer(t *testing.T, cursors ...mask.CursorID) (*Normalizer, *mask.MaskSet) {
	t.Helper()
	ms := mask.NewMaskSet()
	for _, c := range cursors {
		if _, ok := ms.Assign(c); !ok {
			t.Fatalf("Assign(%d) failed", c)
		}
	}
	return NewNormalizer(common.DefaultConfig(), ms), ms
}

func col(cursor mask.CursorID, column int) *expr.ColumnRef {
	return &expr.ColumnRef{Cursor: cursor, Column: column, Aff: types.AffinityInteger}
}

func lit(i int64) *expr.Literal {
	return &expr.Literal{Type: types.Integer, Int64: i}
}

func TestNormalizeSplitsTopLevelAnd(t *testing.T) {
	n, _ := newTestNormalizer(t, 0)
	where := &expr.And{Terms: []expr.Expr{
		&expr.Comparison{Op: expr.OpEQ, Left: col(0, 0), Right: lit(1)},
		&expr.Comparison{Op: expr.OpLT, Left: col(0, 1), Right: lit(2)},
	}}
	c := n.Normalize(where)
	if len(c.Terms) != 2 {
		t.Fatalf("got %d terms, want 2", len(c.Terms))
	}
}

func TestNormalizeSynthesizesEquivCopy(t *testing.T) {
	n, _ := newTestNormalizer(t, 0, 1)
	where := &expr.Comparison{Op: expr.OpEQ, Left: col(0, 0), Right: col(1, 0)}
	c := n.Normalize(where)
	if len(c.Terms) != 2 {
		t.Fatalf("got %d terms, want 2 (original + EQUIV copy)", len(c.Terms))
	}
	orig, copyT := c.Terms[0], c.Terms[1]
	if orig.Flags&FlagCopied == 0 {
		t.Fatalf("original term should be flagged FlagCopied")
	}
	if copyT.Op&OpEQUIV == 0 {
		t.Fatalf("synthesized term should carry OpEQUIV")
	}
	if copyT.LeftCursor != 1 {
		t.Fatalf("synthesized term should pivot on cursor 1, got %d", copyT.LeftCursor)
	}
}

func TestNormalizeSynthesizesBetween(t *testing.T) {
	n, _ := newTestNormalizer(t, 0)
	where := &expr.Between{Col: col(0, 0), Lo: lit(1), Hi: lit(10)}
	c := n.Normalize(where)
	if len(c.Terms) != 3 {
		t.Fatalf("got %d terms, want 3 (original + >= + <=)", len(c.Terms))
	}
	if c.Terms[1].Op != OpGE || c.Terms[2].Op != OpLE {
		t.Fatalf("expected GE then LE virtual terms, got %v then %v", c.Terms[1].Op, c.Terms[2].Op)
	}
}

func TestNormalizeSynthesizesLikePrefixRange(t *testing.T) {
	n, _ := newTestNormalizer(t, 0)
	where := &expr.Like{Col: col(0, 0), Pattern: "abc%"}
	c := n.Normalize(where)
	if len(c.Terms) != 3 {
		t.Fatalf("got %d terms, want 3 (original + >= + <)", len(c.Terms))
	}
	lo, hi := c.Terms[1], c.Terms[2]
	if lo.Op != OpGE || hi.Op != OpLT {
		t.Fatalf("expected GE then LT range terms, got %v then %v", lo.Op, hi.Op)
	}
	loLit := lo.Right.(*expr.Literal)
	hiLit := hi.Right.(*expr.Literal)
	if loLit.String != "abc" || hiLit.String != "abd" {
		t.Fatalf("prefix range = [%q,%q), want [\"abc\",\"abd\")", loLit.String, hiLit.String)
	}
	if c.Terms[0].Flags&FlagResidue == 0 {
		t.Fatalf("exact-prefix LIKE with single trailing %% should be marked residue (index-only)")
	}
}

func TestNormalizeLikeNoCaseBoundaryKeepsResidue(t *testing.T) {
	n, _ := newTestNormalizer(t, 0)
	// "A" under NOCASE folding hits the 'A'-1 boundary case when the
	// prefix's last byte is '@' ('A'-1); use that directly.
	where := &expr.Like{Col: col(0, 0), Pattern: "@%", NoCase: true}
	c := n.Normalize(where)
	original := c.Terms[0]
	if original.Flags&FlagKeepAfterRange == 0 {
		t.Fatalf("'A'-1 boundary case should keep the original LIKE test after the range")
	}
}

func TestNormalizeOrSameColumnBecomesIn(t *testing.T) {
	n, _ := newTestNormalizer(t, 0)
	where := &expr.Or{Terms: []expr.Expr{
		&expr.Comparison{Op: expr.OpEQ, Left: col(0, 0), Right: lit(1)},
		&expr.Comparison{Op: expr.OpEQ, Left: col(0, 0), Right: lit(2)},
		&expr.Comparison{Op: expr.OpEQ, Left: col(0, 0), Right: lit(3)},
	}}
	c := n.Normalize(where)
	if len(c.Terms) != 1 {
		t.Fatalf("got %d terms, want 1 (IN-ified in place)", len(c.Terms))
	}
	term := c.Terms[0]
	if term.Op != OpIN {
		t.Fatalf("term.Op = %v, want OpIN", term.Op)
	}
	inList, ok := term.Expr.(*expr.InList)
	if !ok {
		t.Fatalf("term.Expr = %T, want *expr.InList", term.Expr)
	}
	if len(inList.Values) != 3 {
		t.Fatalf("got %d IN values, want 3", len(inList.Values))
	}
}

func TestNormalizeOrDifferentColumnsStaysIndexableOr(t *testing.T) {
	n, _ := newTestNormalizer(t, 0)
	n.HasIndexOn = func(mask.CursorID, int) bool { return true }
	where := &expr.Or{Terms: []expr.Expr{
		&expr.Comparison{Op: expr.OpEQ, Left: col(0, 0), Right: lit(1)},
		&expr.Comparison{Op: expr.OpEQ, Left: col(0, 1), Right: lit(2)},
	}}
	c := n.Normalize(where)
	term := c.Terms[0]
	if term.Op == OpIN {
		t.Fatalf("different-column OR should not be IN-ified")
	}
	if term.Flags&FlagIndexableOR == 0 {
		t.Fatalf("OR with per-branch indexable columns should be flagged FlagIndexableOR")
	}
}

func TestNormalizeNotNullGatedOnHistogram(t *testing.T) {
	n, _ := newTestNormalizer(t, 0)
	where := &expr.IsNullExpr{Col: col(0, 0), Not: true}

	c := n.Normalize(where)
	if len(c.Terms) != 1 {
		t.Fatalf("without histogram support, NOT NULL should not synthesize a virtual term")
	}

	n.HasHistogram = func(mask.CursorID, int) bool { return true }
	c = n.Normalize(where)
	if len(c.Terms) != 2 {
		t.Fatalf("with histogram support, NOT NULL should synthesize a col>NULL virtual term, got %d terms", len(c.Terms))
	}
	if c.Terms[1].Op != OpGT {
		t.Fatalf("synthesized NOT NULL term should carry OpGT, got %v", c.Terms[1].Op)
	}
}

func TestNormalizeLeftJoinOnClauseComputesExtraRight(t *testing.T) {
	n, ms := newTestNormalizer(t, 0, 1, 2)
	on := &expr.OnClause{
		Inner:       &expr.Comparison{Op: expr.OpEQ, Left: col(2, 0), Right: lit(1)},
		RightCursor: 2,
	}
	c := n.Normalize(on)
	term := c.Terms[0]
	if term.Flags&FlagFromLeftJoinON == 0 {
		t.Fatalf("term from an OnClause should be flagged FlagFromLeftJoinON")
	}
	want := ms.PrefixMask().Without(ms.MaskOf(2))
	if term.ExtraRight != want {
		t.Fatalf("ExtraRight = %v, want %v (every table left of cursor 2)", term.ExtraRight, want)
	}
	if term.PrereqRight.Intersect(want) != want {
		t.Fatalf("PrereqRight should fold in ExtraRight so termscan rejects driving an index on a left-of-join table, got %v", term.PrereqRight)
	}
}

func TestNormalizeNilWhereProducesEmptyClause(t *testing.T) {
	n, _ := newTestNormalizer(t, 0)
	c := n.Normalize(nil)
	if len(c.Terms) != 0 {
		t.Fatalf("nil WHERE should produce zero terms, got %d", len(c.Terms))
	}
}
