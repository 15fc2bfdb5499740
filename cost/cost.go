// Package cost implements the logarithmic cost algebra of spec.md §4.1:
// a fixed-point approximation of 10·log2(x) together with a saturating
// "addition" that combines two such costs without ever materializing the
// underlying linear quantities. Every other package compares and combines
// row-count and time estimates exclusively through this algebra so that a
// Loop's or Path's cost is always monotone and never overflows.
package cost

import "math"

// Cost is a non-negative integer approximating 10·log2(x), rounded to a
// small fixed table (spec.md §4.1). The zero value represents "at most
// one" (log2 of 0 or 1).
type Cost int32

// addTable is the 32-entry correction table from the reference
// implementation's whereCostAdd: addTable[d] approximates
// 10·log2(1+2^(-d/10)) for a cost gap d in [0,31].
var addTable = [32]Cost{
	10, 10, // 0,1
	9, 9, // 2,3
	8, 8, // 4,5
	7, 7, 7, // 6,7,8
	6, 6, 6, // 9,10,11
	5, 5, 5, // 12-14
	4, 4, 4, 4, // 15-18
	3, 3, 3, 3, 3, 3, // 19-24
	2, 2, 2, 2, 2, 2, 2, // 25-31
}

// bitLookup maps the low three bits of a normalized 3-bit mantissa to its
// 10·log2 contribution; used by FromCount below.
var bitLookup = [8]Cost{0, 2, 3, 5, 6, 7, 8, 9}

// FromCount converts a row/element count into a Cost: 0 for n<=1, 10 for
// n==2, 16 for n==3, and so on, per spec.md §4.1 ("cost(n)").
func FromCount(n uint64) Cost {
	if n < 2 {
		return 0
	}
	if n < 8 {
		// Scale n up into [8,15] and subtract 10 per doubling, mirroring
		// the reference implementation's whereCost for small inputs.
		y := Cost(40)
		x := n
		for x < 8 {
			y -= 10
			x <<= 1
		}
		return bitLookup[x&7] + y - 10
	}
	y := Cost(40)
	x := n
	for x > 255 {
		y += 40
		x >>= 4
	}
	for x > 15 {
		y += 10
		x >>= 1
	}
	return bitLookup[x&7] + y - 10
}

// eight is cost.FromCount(8), used as the est_log() breakpoint per
// spec.md §4.1 ("0 if x≤cost(8), else x−cost(8)").
var eight = FromCount(8)

// Add approximates 10·log2(2^(a/10)+2^(b/10)): the cost of two
// alternatives whose row/time estimates should be summed, expressed
// without ever leaving the log domain. It is commutative and satisfies
// max(a,b) <= Add(a,b) <= max(a,b)+10 (spec.md §8 property 4).
func Add(a, b Cost) Cost {
	lo, hi := a, b
	if lo > hi {
		lo, hi = hi, lo
	}
	d := hi - lo
	switch {
	case d > 49:
		return hi
	case d > 31:
		return hi + 1
	default:
		return hi + addTable[d]
	}
}

// AddN folds Add across every element, returning 0 (the additive
// identity, cost of "at most one") for an empty slice.
func AddN(costs ...Cost) Cost {
	total := Cost(0)
	for i, c := range costs {
		if i == 0 {
			total = c
			continue
		}
		total = Add(total, c)
	}
	return total
}

// EstLog approximates the base-2 logarithm of a Cost-domain value,
// used for the "log₂N" term in scan-cost formulas (spec.md §4.1, §4.5).
func EstLog(x Cost) Cost {
	if x <= eight {
		return 0
	}
	return x - eight
}

// FromDouble reduces a virtual-table-supplied cost estimate (spec.md
// §4.1 "cost_from_double") into the same Cost domain: values at most 1
// map to 0, values representable as a plain count below 2e9 go through
// FromCount, and anything larger is derived from the IEEE-754 exponent so
// that huge estimates never overflow the linear domain.
func FromDouble(x float64) Cost {
	if x <= 1 {
		return 0
	}
	if x <= 2_000_000_000 {
		return FromCount(uint64(x))
	}
	raw := math.Float64bits(x)
	exp := int64(raw>>52) - 1022
	return Cost(exp * 10)
}
