package orderby

import (
	"testing"

	"github.com/ryogrid/wherecore/catalog"
	"github.com/ryogrid/wherecore/mask"
	"github.com/ryogrid/wherecore/types"
)

func TestSatisfyMatchesIndexPrefix(t *testing.T) {
	ms := mask.NewMaskSet()
	ms.Assign(0)
	a := New(ms)

	orderTerms := []Term{{Cursor: 0, Column: 1}}
	loops := []LoopStep{{
		Cursor:       0,
		Columns:      []catalog.IndexColumn{{Column: 0}, {Column: 1}},
		EqualityCols: 1,
	}}
	res := a.Satisfy(orderTerms, loops)
	if res.Status != Satisfied {
		t.Fatalf("Status = %v, want Satisfied", res.Status)
	}
}

func TestSatisfyReversedDirectionFlags(t *testing.T) {
	ms := mask.NewMaskSet()
	ms.Assign(0)
	a := New(ms)

	orderTerms := []Term{{Cursor: 0, Column: 0, Desc: true}}
	loops := []LoopStep{{
		Cursor:  0,
		Columns: []catalog.IndexColumn{{Column: 0, Descending: false}},
	}}
	res := a.Satisfy(orderTerms, loops)
	if res.Status != Satisfied {
		t.Fatalf("Status = %v, want Satisfied", res.Status)
	}
	if res.RevLoop.Intersect(ms.MaskOf(0)).IsEmpty() {
		t.Fatalf("ascending index against a DESC order term should be flagged reversed")
	}
}

func TestSatisfyUnknownWhenColumnsDontMatch(t *testing.T) {
	ms := mask.NewMaskSet()
	ms.Assign(0)
	a := New(ms)

	orderTerms := []Term{{Cursor: 0, Column: 5}}
	loops := []LoopStep{{Cursor: 0, Columns: []catalog.IndexColumn{{Column: 0}}}}
	res := a.Satisfy(orderTerms, loops)
	if res.Status != Unknown {
		t.Fatalf("Status = %v, want Unknown", res.Status)
	}
}

func TestSatisfyEmptyOrderByAlwaysSatisfied(t *testing.T) {
	ms := mask.NewMaskSet()
	a := New(ms)
	res := a.Satisfy(nil, nil)
	if res.Status != Satisfied {
		t.Fatalf("empty ORDER BY should always be satisfied")
	}
}

func TestSatisfyOrderDistinctTableSkipsLaterTerms(t *testing.T) {
	ms := mask.NewMaskSet()
	ms.Assign(0)
	ms.Assign(1)
	a := New(ms)

	orderTerms := []Term{
		{Cursor: 0, Column: 0},
		{Cursor: 1, Column: 0}, // table 1 is order-distinct, so this is free
	}
	loops := []LoopStep{
		{Cursor: 0, Columns: []catalog.IndexColumn{{Column: 0}}},
		{Cursor: 1, OrderDistinct: true},
	}
	res := a.Satisfy(orderTerms, loops)
	if res.Status != Satisfied {
		t.Fatalf("Status = %v, want Satisfied (second table is order-distinct)", res.Status)
	}
}

func TestDistinctRedundantWithUniqueNotNullProjectedIndex(t *testing.T) {
	tbl := &catalog.Table{
		Columns: []catalog.Column{
			{Name: "id", Aff: types.AffinityInteger, NotNull: true},
		},
		Indexes: []*catalog.Index{
			{Unique: true, Columns: []catalog.IndexColumn{{Column: 0}}},
		},
	}
	if !DistinctRedundant(tbl, []int{0}, nil) {
		t.Fatalf("DISTINCT on a projected UNIQUE NOT NULL column should be redundant")
	}
}

func TestDistinctNotRedundantWithoutCoverage(t *testing.T) {
	tbl := &catalog.Table{
		Columns: []catalog.Column{
			{Name: "id", Aff: types.AffinityInteger, NotNull: true},
			{Name: "name", Aff: types.AffinityText},
		},
		Indexes: []*catalog.Index{
			{Unique: true, Columns: []catalog.IndexColumn{{Column: 0}}},
		},
	}
	if DistinctRedundant(tbl, []int{1}, nil) {
		t.Fatalf("DISTINCT projecting an unindexed column should not be reducible")
	}
}
