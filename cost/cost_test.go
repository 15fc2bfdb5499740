package cost

import "testing"

func TestFromCountMatchesSpecExamples(t *testing.T) {
	cases := []struct {
		n    uint64
		want Cost
	}{
		{0, 0},
		{1, 0},
		{2, 10},
		{3, 16},
	}
	for _, c := range cases {
		if got := FromCount(c.n); got != c.want {
			t.Fatalf("FromCount(%d) = %d, want %d", c.n, got, c.want)
		}
	}
}

func TestFromCountMonotone(t *testing.T) {
	prev := FromCount(0)
	for n := uint64(1); n < 100000; n *= 2 {
		got := FromCount(n)
		if got < prev {
			t.Fatalf("FromCount not monotone: FromCount(%d)=%d < previous %d", n, got, prev)
		}
		prev = got
	}
}

func TestAddCommutativeAndBounded(t *testing.T) {
	for a := Cost(0); a < 200; a += 7 {
		for b := Cost(0); b < 200; b += 11 {
			ab := Add(a, b)
			ba := Add(b, a)
			if ab != ba {
				t.Fatalf("Add(%d,%d)=%d != Add(%d,%d)=%d", a, b, ab, b, a, ba)
			}
			max := a
			if b > max {
				max = b
			}
			if ab < max {
				t.Fatalf("Add(%d,%d)=%d < max(%d,%d)=%d", a, b, ab, a, b, max)
			}
			if ab > max+10 {
				t.Fatalf("Add(%d,%d)=%d > max+10=%d", a, b, ab, max+10)
			}
		}
	}
}

func TestAddSaturatesOnLargeGap(t *testing.T) {
	if got, want := Add(100, 0), Cost(100); got != want {
		t.Fatalf("Add(100,0) = %d, want %d (gap > 49 should saturate)", got, want)
	}
	if got, want := Add(50, 10), Cost(51); got != want {
		t.Fatalf("Add(50,10) = %d, want %d (gap in (31,49] should be max+1)", got, want)
	}
}

func TestEstLog(t *testing.T) {
	if got := EstLog(0); got != 0 {
		t.Fatalf("EstLog(0) = %d, want 0", got)
	}
	if got := EstLog(eight); got != 0 {
		t.Fatalf("EstLog(cost(8)) = %d, want 0", got)
	}
	if got, want := EstLog(eight+15), Cost(15); got != want {
		t.Fatalf("EstLog(cost(8)+15) = %d, want %d", got, want)
	}
}

func TestFromDouble(t *testing.T) {
	if got := FromDouble(0.5); got != 0 {
		t.Fatalf("FromDouble(0.5) = %d, want 0", got)
	}
	if got, want := FromDouble(1000), FromCount(1000); got != want {
		t.Fatalf("FromDouble(1000) = %d, want %d (matches FromCount below 2e9)", got, want)
	}
	if got := FromDouble(1e18); got <= FromCount(2_000_000_000) {
		t.Fatalf("FromDouble(1e18) = %d, should exceed the 2e9 boundary cost", got)
	}
}
