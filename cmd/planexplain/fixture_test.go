package main

import "testing"

func TestLoadFixtureAndBuildRequest(t *testing.T) {
	f, err := loadFixture("testdata/example.json")
	if err != nil {
		t.Fatalf("loadFixture: %v", err)
	}
	if len(f.Tables) != 1 || f.Tables[0].Name != "users" {
		t.Fatalf("unexpected tables: %#v", f.Tables)
	}

	b, err := newBuilder(f)
	if err != nil {
		t.Fatalf("newBuilder: %v", err)
	}
	req, err := b.request(f)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if len(req.From) != 1 || req.From[0].Table.Name != "users" {
		t.Fatalf("unexpected FROM list: %#v", req.From)
	}
	if req.Where == nil {
		t.Fatalf("expected a WHERE tree to be built")
	}
	if len(req.OrderBy) != 1 || req.OrderBy[0].Column != 0 {
		t.Fatalf("unexpected ORDER BY: %#v", req.OrderBy)
	}
}

func TestRunProducesAPlan(t *testing.T) {
	if err := run("testdata/example.json", false); err != nil {
		t.Fatalf("run: %v", err)
	}
}

func TestResolveColumnRejectsUnknownTable(t *testing.T) {
	f, err := loadFixture("testdata/example.json")
	if err != nil {
		t.Fatalf("loadFixture: %v", err)
	}
	b, err := newBuilder(f)
	if err != nil {
		t.Fatalf("newBuilder: %v", err)
	}
	if _, err := b.resolveColumn("orders.id"); err == nil {
		t.Fatalf("expected an error resolving a column on an undeclared table")
	}
}
