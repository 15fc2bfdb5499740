package mask

import "testing"

func TestMaskSetPrefixInvariant(t *testing.T) {
	ms := NewMaskSet()
	for i := 0; i < 5; i++ {
		bit, ok := ms.Assign(CursorID(10 + i*3))
		if !ok || bit != i {
			t.Fatalf("Assign(%d) = (%d,%v), want (%d,true)", i, bit, ok, i)
		}
	}
	if got, want := ms.PrefixMask(), AllBelow(5); got != want {
		t.Fatalf("PrefixMask() = %#x, want %#x", got, want)
	}
	if got := ms.MaskOf(13); got != 1<<1 {
		t.Fatalf("MaskOf(13) = %#x, want %#x", got, 1<<1)
	}
	if got := ms.MaskOf(999); got != Empty {
		t.Fatalf("MaskOf(unknown) = %#x, want Empty", got)
	}
}

func TestMaskSetOverflow(t *testing.T) {
	ms := NewMaskSet()
	for i := 0; i < 64; i++ {
		if _, ok := ms.Assign(CursorID(i)); !ok {
			t.Fatalf("Assign(%d) unexpectedly failed within 64-table limit", i)
		}
	}
	if _, ok := ms.Assign(CursorID(64)); ok {
		t.Fatalf("Assign(65th) should fail per the 64-table join limit")
	}
}

func TestBitmaskAlgebra(t *testing.T) {
	a := Bitmask(0b0110)
	b := Bitmask(0b0101)
	if got := a.Union(b); got != 0b0111 {
		t.Fatalf("Union = %#b, want 0b0111", got)
	}
	if got := a.Intersect(b); got != 0b0100 {
		t.Fatalf("Intersect = %#b, want 0b0100", got)
	}
	if got := a.Without(b); got != 0b0010 {
		t.Fatalf("Without = %#b, want 0b0010", got)
	}
	if !Bitmask(0b0100).IsSubsetOf(a) {
		t.Fatalf("0b0100 should be a subset of %#b", a)
	}
	if a.Disjoint(b) {
		t.Fatalf("%#b and %#b share bit 0b0100, should not be disjoint", a, b)
	}
	if got, want := a.PopCount(), 2; got != want {
		t.Fatalf("PopCount(%#b) = %d, want %d", a, got, want)
	}
}

func TestAllBelow(t *testing.T) {
	cases := []struct {
		n    int
		want Bitmask
	}{
		{0, 0},
		{1, 1},
		{3, 7},
		{64, Bitmask(^uint64(0))},
	}
	for _, c := range cases {
		if got := AllBelow(c.n); got != c.want {
			t.Fatalf("AllBelow(%d) = %#x, want %#x", c.n, got, c.want)
		}
	}
}
