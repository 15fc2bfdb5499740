package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/ryogrid/wherecore/catalog"
	"github.com/ryogrid/wherecore/expr"
	"github.com/ryogrid/wherecore/mask"
	"github.com/ryogrid/wherecore/orderby"
	"github.com/ryogrid/wherecore/planner"
	"github.com/ryogrid/wherecore/types"
)

// fixture is the on-disk shape a planexplain invocation reads: a tiny
// catalog (tables/columns/indexes) plus a WHERE tree, ORDER BY list and
// DISTINCT projection expressed in terms of "table.column" names rather
// than the cursor/offset pairs the planner core deals in — the same
// gap a real parser+binder would close ahead of the planner, collapsed
// here into one JSON-decoding pass since this harness never parses SQL.
type fixture struct {
	Tables   []fixtureTable `json:"tables"`
	Where    *fixtureExpr   `json:"where"`
	OrderBy  []string       `json:"order_by"`
	Distinct []string       `json:"distinct"`
	Indexed  map[string]string `json:"indexed_by"` // table name -> index name
}

type fixtureTable struct {
	Name       string          `json:"name"`
	RowCount   uint64          `json:"row_count"`
	Columns    []fixtureColumn `json:"columns"`
	PrimaryKey *fixtureIndex   `json:"primary_key"`
	Indexes    []fixtureIndex  `json:"indexes"`
}

type fixtureColumn struct {
	Name    string `json:"name"`
	Type    string `json:"type"`
	NotNull bool   `json:"not_null"`
}

type fixtureIndex struct {
	Name       string             `json:"name"`
	Unique     bool               `json:"unique"`
	PrimaryKey bool               `json:"primary_key"`
	Columns    []fixtureIndexCol  `json:"columns"`
}

type fixtureIndexCol struct {
	Column     string `json:"column"`
	Descending bool   `json:"descending"`
	Histogram  []float64 `json:"histogram"`
}

// fixtureExpr is a small recursive expression node. Exactly the fields
// relevant to Op are populated; the rest stay zero.
type fixtureExpr struct {
	Op       string         `json:"op"`
	Col      string         `json:"col"`
	Value    interface{}    `json:"value"`
	Values   []interface{}  `json:"values"`
	Lo       *fixtureExpr   `json:"lo"`
	Hi       *fixtureExpr   `json:"hi"`
	Terms    []*fixtureExpr `json:"terms"`
	Pattern  string         `json:"pattern"`
}

// loadFixture reads and decodes the JSON file at path.
func loadFixture(path string) (*fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture: %w", err)
	}
	var f fixture
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse fixture: %w", err)
	}
	return &f, nil
}

// builder turns a fixture into a planner.Request plus the catalog.Table
// list the request's FromEntries reference, resolving "table.column"
// names against the fixture's declared table order (table index doubles
// as its mask.CursorID, matching a simple non-recursive FROM list with
// no repeated table references).
type builder struct {
	tables   map[string]*catalog.Table
	cursorOf map[string]mask.CursorID
	order    []string
}

func newBuilder(f *fixture) (*builder, error) {
	b := &builder{tables: map[string]*catalog.Table{}, cursorOf: map[string]mask.CursorID{}}
	for i, ft := range f.Tables {
		tbl, err := toTable(ft)
		if err != nil {
			return nil, err
		}
		tbl.Cursor = mask.CursorID(i)
		b.tables[ft.Name] = tbl
		b.cursorOf[ft.Name] = mask.CursorID(i)
		b.order = append(b.order, ft.Name)
	}
	return b, nil
}

func toTable(ft fixtureTable) (*catalog.Table, error) {
	tbl := &catalog.Table{Name: ft.Name, RowCount: ft.RowCount}
	colOffset := map[string]int{}
	for i, fc := range ft.Columns {
		aff, err := affinityOf(fc.Type)
		if err != nil {
			return nil, fmt.Errorf("table %s column %s: %w", ft.Name, fc.Name, err)
		}
		tbl.Columns = append(tbl.Columns, catalog.Column{Name: fc.Name, Aff: aff, NotNull: fc.NotNull})
		colOffset[fc.Name] = i
	}
	toIndex := func(fi fixtureIndex) (*catalog.Index, error) {
		idx := &catalog.Index{Name: fi.Name, Unique: fi.Unique, PrimaryKey: fi.PrimaryKey}
		for _, fc := range fi.Columns {
			off, ok := colOffset[fc.Column]
			if !ok {
				return nil, fmt.Errorf("index %s references unknown column %s", fi.Name, fc.Column)
			}
			idx.Columns = append(idx.Columns, catalog.IndexColumn{Column: off, Descending: fc.Descending})
			var h *catalog.Histogram
			if len(fc.Histogram) > 0 {
				h = &catalog.Histogram{Samples: fc.Histogram}
			}
			idx.Histograms = append(idx.Histograms, h)
		}
		return idx, nil
	}
	if ft.PrimaryKey != nil {
		pk, err := toIndex(*ft.PrimaryKey)
		if err != nil {
			return nil, err
		}
		pk.PrimaryKey = true
		pk.Unique = true
		tbl.PrimaryKey = pk
	}
	for _, fi := range ft.Indexes {
		idx, err := toIndex(fi)
		if err != nil {
			return nil, err
		}
		tbl.Indexes = append(tbl.Indexes, idx)
	}
	return tbl, nil
}

func affinityOf(name string) (types.Affinity, error) {
	switch name {
	case "integer", "int":
		return types.AffinityInteger, nil
	case "bigint":
		return types.AffinityInteger, nil
	case "text", "varchar":
		return types.AffinityText, nil
	case "real", "decimal":
		return types.AffinityReal, nil
	case "boolean", "bool":
		return types.AffinityBoolean, nil
	default:
		return types.AffinityNone, fmt.Errorf("unknown column type %q", name)
	}
}

// resolveColumn splits "table.column" into its cursor and offset.
func (b *builder) resolveColumn(ref string) (*expr.ColumnRef, error) {
	tblName, colName, err := splitRef(ref)
	if err != nil {
		return nil, err
	}
	tbl, ok := b.tables[tblName]
	if !ok {
		return nil, fmt.Errorf("unknown table %q in %q", tblName, ref)
	}
	off := tbl.ColumnIndex(colName)
	if off < 0 {
		return nil, fmt.Errorf("unknown column %q in %q", colName, ref)
	}
	col := tbl.Columns[off]
	return &expr.ColumnRef{Cursor: b.cursorOf[tblName], Column: off, Aff: col.Aff, Coll: col.Coll}, nil
}

func splitRef(ref string) (table, column string, err error) {
	for i := len(ref) - 1; i >= 0; i-- {
		if ref[i] == '.' {
			return ref[:i], ref[i+1:], nil
		}
	}
	return "", "", fmt.Errorf("expected table.column, got %q", ref)
}

// literal converts a decoded JSON scalar into an expr.Literal.
func literal(v interface{}) expr.Expr {
	switch t := v.(type) {
	case nil:
		return &expr.Literal{Type: types.Invalid, Null: true}
	case string:
		return &expr.Literal{Type: types.Varchar, String: t}
	case float64:
		if t == float64(int64(t)) {
			return &expr.Literal{Type: types.Integer, Int64: int64(t)}
		}
		return &expr.Literal{Type: types.Decimal, Float: t}
	case bool:
		return &expr.Literal{Type: types.Boolean, Int64: boolToInt(t)}
	default:
		return &expr.Literal{Type: types.Invalid, Null: true}
	}
}

func boolToInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

var opTable = map[string]expr.Op{
	"eq": expr.OpEQ, "ne": expr.OpNE, "lt": expr.OpLT, "le": expr.OpLE,
	"gt": expr.OpGT, "ge": expr.OpGE, "like": expr.OpLIKE, "glob": expr.OpGLOB,
}

// toExpr recursively lowers a fixtureExpr into an expr.Expr.
func (b *builder) toExpr(fe *fixtureExpr) (expr.Expr, error) {
	switch fe.Op {
	case "and", "or":
		terms := make([]expr.Expr, 0, len(fe.Terms))
		for _, t := range fe.Terms {
			sub, err := b.toExpr(t)
			if err != nil {
				return nil, err
			}
			terms = append(terms, sub)
		}
		if fe.Op == "and" {
			return &expr.And{Terms: terms}, nil
		}
		return &expr.Or{Terms: terms}, nil
	case "between":
		col, err := b.resolveColumn(fe.Col)
		if err != nil {
			return nil, err
		}
		lo, err := b.toExpr(fe.Lo)
		if err != nil {
			return nil, err
		}
		hi, err := b.toExpr(fe.Hi)
		if err != nil {
			return nil, err
		}
		return &expr.Between{Col: col, Lo: lo, Hi: hi}, nil
	case "like", "glob":
		col, err := b.resolveColumn(fe.Col)
		if err != nil {
			return nil, err
		}
		return &expr.Like{Col: col, Pattern: fe.Pattern, Glob: fe.Op == "glob"}, nil
	case "isnull", "isnotnull":
		col, err := b.resolveColumn(fe.Col)
		if err != nil {
			return nil, err
		}
		return &expr.IsNullExpr{Col: col, Not: fe.Op == "isnotnull"}, nil
	case "in":
		col, err := b.resolveColumn(fe.Col)
		if err != nil {
			return nil, err
		}
		vals := make([]expr.Expr, len(fe.Values))
		for i, v := range fe.Values {
			vals[i] = literal(v)
		}
		return &expr.InList{Col: col, Values: vals}, nil
	default:
		op, ok := opTable[fe.Op]
		if !ok {
			return nil, fmt.Errorf("unknown expression op %q", fe.Op)
		}
		col, err := b.resolveColumn(fe.Col)
		if err != nil {
			return nil, err
		}
		return &expr.Comparison{Op: op, Left: col, Right: literal(fe.Value)}, nil
	}
}

// request turns f into a planner.Request, resolving ORDER BY, DISTINCT
// and INDEXED BY names against the same table/cursor assignment used
// for the WHERE tree.
func (b *builder) request(f *fixture) (planner.Request, error) {
	req := planner.Request{}
	for _, name := range b.order {
		req.From = append(req.From, planner.FromEntry{
			Table:     b.tables[name],
			Cursor:    b.cursorOf[name],
			IndexedBy: f.Indexed[name],
		})
	}
	if f.Where != nil {
		where, err := b.toExpr(f.Where)
		if err != nil {
			return req, err
		}
		req.Where = where
	}
	for _, ref := range f.OrderBy {
		col, err := b.resolveColumn(ref)
		if err != nil {
			return req, err
		}
		req.OrderBy = append(req.OrderBy, orderby.Term{Cursor: col.Cursor, Column: col.Column, Coll: col.Coll})
	}
	if len(f.Distinct) > 0 {
		if len(b.order) != 1 {
			return req, fmt.Errorf("distinct is only checked for a single-table fixture")
		}
		tbl := b.tables[b.order[0]]
		for _, name := range f.Distinct {
			off := tbl.ColumnIndex(name)
			if off < 0 {
				return req, fmt.Errorf("distinct references unknown column %q", name)
			}
			req.Distinct = append(req.Distinct, off)
		}
	}
	return req, nil
}
