package common

// Assert panics if condition is false. It signals a broken internal
// invariant (spec.md §3, §8) — never a caller-triggerable condition,
// which must go through a planner.Error instead.
func Assert(condition bool, msg string) {
	if !condition {
		panic(msg)
	}
}
