package catalog

import (
	"errors"
	"testing"

	"github.com/ryogrid/wherecore/types"
)

func TestCatalogCachesLookups(t *testing.T) {
	calls := 0
	c := NewCatalog(func(name string) (*Table, error) {
		calls++
		return &Table{Name: name, RowCount: 100}, nil
	})

	for i := 0; i < 3; i++ {
		tbl, err := c.Table("t1")
		if err != nil {
			t.Fatalf("Table() error: %v", err)
		}
		if tbl.Name != "t1" {
			t.Fatalf("Table().Name = %q, want t1", tbl.Name)
		}
	}
	if calls != 1 {
		t.Fatalf("lookup called %d times, want 1 (cache should absorb repeats)", calls)
	}
}

func TestCatalogPropagatesLookupError(t *testing.T) {
	want := errors.New("no such table")
	c := NewCatalog(func(name string) (*Table, error) { return nil, want })
	if _, err := c.Table("missing"); err != want {
		t.Fatalf("Table() error = %v, want %v", err, want)
	}
}

func TestIndexUniqueNotNullPrefix(t *testing.T) {
	tbl := &Table{
		Columns: []Column{
			{Name: "a", Aff: types.AffinityInteger, NotNull: true},
			{Name: "b", Aff: types.AffinityInteger, NotNull: false},
		},
	}
	idx := &Index{
		Unique:  true,
		Columns: []IndexColumn{{Column: 0}, {Column: 1}},
	}
	if !idx.UniqueNotNullPrefix(tbl, 1) {
		t.Fatalf("prefix of length 1 (column a, NOT NULL) should qualify")
	}
	if idx.UniqueNotNullPrefix(tbl, 2) {
		t.Fatalf("prefix of length 2 includes nullable column b, should not qualify")
	}
}

func TestIndexCoversColumns(t *testing.T) {
	idx := &Index{Columns: []IndexColumn{{Column: 0}, {Column: 2}}}
	if !idx.CoversColumns([]int{0, 2}) {
		t.Fatalf("index covering columns 0,2 should cover [0,2]")
	}
	if idx.CoversColumns([]int{0, 1}) {
		t.Fatalf("index covering columns 0,2 should not cover [0,1]")
	}
}
