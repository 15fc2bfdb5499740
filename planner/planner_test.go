package planner

import (
	"testing"

	"github.com/ryogrid/wherecore/catalog"
	"github.com/ryogrid/wherecore/common"
	"github.com/ryogrid/wherecore/expr"
	"github.com/ryogrid/wherecore/mask"
	"github.com/ryogrid/wherecore/orderby"
	"github.com/ryogrid/wherecore/types"
)

func usersTable() *catalog.Table {
	return &catalog.Table{
		Name:     "users",
		Cursor:   0,
		RowCount: 10000,
		Columns: []catalog.Column{
			{Name: "id", Aff: types.AffinityInteger, NotNull: true},
			{Name: "email", Aff: types.AffinityText, NotNull: true},
			{Name: "age", Aff: types.AffinityInteger},
		},
		PrimaryKey: &catalog.Index{
			Name:       "pk_users",
			Unique:     true,
			PrimaryKey: true,
			Columns:    []catalog.IndexColumn{{Column: 0}},
		},
		Indexes: []*catalog.Index{
			{Name: "idx_email", Unique: true, Columns: []catalog.IndexColumn{{Column: 1}}},
		},
	}
}

func TestPlanPicksIndexOverFullScan(t *testing.T) {
	tbl := usersTable()
	p := New(common.DefaultConfig(), common.LevelNone)

	where := &expr.Comparison{
		Op:    expr.OpEQ,
		Left:  &expr.ColumnRef{Cursor: 0, Column: 1, Aff: types.AffinityText},
		Right: &expr.Literal{Type: types.Varchar, String: "a@b.com"},
	}

	plan, err := p.Plan(Request{
		Where: where,
		From:  []FromEntry{{Table: tbl, Cursor: 0}},
	})
	if err != nil {
		t.Fatalf("Plan returned an error: %v", err)
	}
	if len(plan.Steps) != 1 {
		t.Fatalf("expected a single-table plan, got %d steps", len(plan.Steps))
	}
	step := plan.Steps[0]
	if step.Index == nil || step.Index.Name != "idx_email" {
		t.Fatalf("expected the email equality to drive idx_email, got %#v", step.Index)
	}
}

func TestPlanScansWithNoUsableTerm(t *testing.T) {
	tbl := usersTable()
	p := New(common.DefaultConfig(), common.LevelNone)

	plan, err := p.Plan(Request{From: []FromEntry{{Table: tbl, Cursor: 0}}})
	if err != nil {
		t.Fatalf("Plan returned an error: %v", err)
	}
	// With no WHERE term to drive any index, the cheapest access path is
	// either the table's own full scan or a bare full-index scan (never
	// an equality/range-bound loop, since there is no predicate to bind
	// one), and never an automatic index (nothing to key it on).
	if len(plan.Steps) != 1 {
		t.Fatalf("expected a single-table plan, got %d steps", len(plan.Steps))
	}
	if idx := plan.Steps[0].Index; idx != nil && idx.Name == "" {
		t.Fatalf("unexpected synthesized index in the chosen plan: %#v", idx)
	}
}

func TestPlanRejectsUnknownIndexedBy(t *testing.T) {
	tbl := usersTable()
	p := New(common.DefaultConfig(), common.LevelNone)

	_, err := p.Plan(Request{
		From: []FromEntry{{Table: tbl, Cursor: 0, IndexedBy: "nope"}},
	})
	if err == nil {
		t.Fatalf("expected an ErrSchema error for an unknown INDEXED BY name")
	}
	pe, ok := err.(*Error)
	if !ok || pe.Kind != ErrSchema {
		t.Fatalf("expected *Error{Kind: ErrSchema}, got %#v", err)
	}
}

func TestPlanRejectsTooManyTables(t *testing.T) {
	tbl := usersTable()
	p := New(common.DefaultConfig(), common.LevelNone)

	from := make([]FromEntry, common.MaxJoinTables+1)
	for i := range from {
		from[i] = FromEntry{Table: tbl, Cursor: mask.CursorID(i)}
	}
	_, err := p.Plan(Request{From: from})
	if err == nil {
		t.Fatalf("expected an error for a join over the table limit")
	}
	pe, ok := err.(*Error)
	if !ok || pe.Kind != ErrSchema {
		t.Fatalf("expected *Error{Kind: ErrSchema}, got %#v", err)
	}
}

func TestPlanOrderBySatisfiedByPrimaryKey(t *testing.T) {
	tbl := usersTable()
	p := New(common.DefaultConfig(), common.LevelNone)

	plan, err := p.Plan(Request{
		From:    []FromEntry{{Table: tbl, Cursor: 0}},
		OrderBy: []orderby.Term{{Cursor: 0, Column: 0}},
	})
	if err != nil {
		t.Fatalf("Plan returned an error: %v", err)
	}
	if !plan.OrderBySatisfied {
		t.Fatalf("expected ORDER BY id to be satisfied by the primary key scan")
	}
}

func TestPlanDistinctRedundantOnUniqueIndexedProjection(t *testing.T) {
	tbl := usersTable()
	p := New(common.DefaultConfig(), common.LevelNone)

	plan, err := p.Plan(Request{
		From:     []FromEntry{{Table: tbl, Cursor: 0}},
		Distinct: []int{0},
	})
	if err != nil {
		t.Fatalf("Plan returned an error: %v", err)
	}
	if !plan.DistinctRedundant {
		t.Fatalf("projecting the primary key alone should make DISTINCT redundant")
	}
}
