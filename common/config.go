package common

// Config carries the "Configuration knobs" a caller may toggle for one
// planning context. Unlike the teacher's package-level booleans
// (EnableLogging, EnableDebug) these live on a struct because a planning
// context must not share mutable state across calls. Of these fields,
// only UseHistograms (read by the clause normalizer) and
// DistinctReduction (read by the planner) change planning; no planning
// step reads the others.
type Config struct {
	// UseHistograms gates the NOT-NULL -> "col>NULL" rewrite. Range
	// selectivity estimation uses an index's histogram whenever one is
	// present, whatever this field says.
	UseHistograms bool
	// AutoIndex enables automatic-index synthesis for tables with no
	// usable permanent index.
	AutoIndex bool
	// PreferCoveringIndex breaks near-ties in favor of a covering index.
	PreferCoveringIndex bool
	// TransitiveEquality enables x=y ∧ y=z ⇒ x=z propagation in the term
	// scanner.
	TransitiveEquality bool
	// DropUnusedLeftJoin drops LEFT-JOIN tables whose columns are unused
	// and whose presence cannot affect the result cardinality.
	DropUnusedLeftJoin bool
	// DistinctReduction enables DISTINCT-is-redundant detection.
	DistinctReduction bool
	// OrderByJoin enables the two-pass ORDER-BY-driven solver run
	// described in spec.md §4.6.
	OrderByJoin bool
	// ForceReverseOutput is a diagnostic knob: it forces every loop to
	// scan in reverse regardless of cost, for use by trace tooling.
	ForceReverseOutput bool
}

// DefaultConfig mirrors the teacher's package-level defaults
// (EnableLogging=false, EnableDebug=false): conservative, all
// optimizations on except the diagnostic-only ones.
func DefaultConfig() Config {
	return Config{
		UseHistograms:       true,
		AutoIndex:           true,
		PreferCoveringIndex: true,
		TransitiveEquality:  true,
		DropUnusedLeftJoin:  true,
		DistinctReduction:   true,
		OrderByJoin:         true,
		ForceReverseOutput:  false,
	}
}

// Tuning constants, given as plain constants rather than knobs because
// they calibrate the cost model rather than switch behavior on or off —
// the same treatment the teacher gives BucketSize and SkipListProb.
const (
	// MaxJoinTables is the hard limit imposed by the 64-bit Bitmask.
	MaxJoinTables = 64
	// MaxEquivClass bounds transitive-equality propagation (spec.md §4.4).
	MaxEquivClass = 11
	// MaxOrSetSize bounds the number of (prereq,cost,rows) triples kept
	// while costing an OR term (spec.md §3, OrSet).
	MaxOrSetSize = 3
	// RangeScanFactor is the default fraction of a key's range assumed
	// consumed by one open-ended inequality bound absent histogram data.
	RangeScanFactor = 4
)
