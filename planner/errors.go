package planner

import (
	"fmt"

	"github.com/devlights/gomy/errs"
)

// Kind classifies a planning failure per spec.md §7's three error
// outcomes: allocation failure, schema/contract violation, or no valid
// plan. The planner never panics to report these — a caller gets an
// Error value back, never a recovered panic.
type Kind int

const (
	// ErrAlloc is spec.md §7 outcome 1: term/loop/path construction
	// failed (e.g. the caller's arena is exhausted).
	ErrAlloc Kind = iota
	// ErrSchema is spec.md §7 outcome 2: INDEXED BY names a nonexistent
	// index, more than 64 tables were requested, or a virtual table's
	// best-index response was self-contradictory.
	ErrSchema
	// ErrNoPlan is spec.md §7 outcome 3: every table has some loop
	// (a full scan always qualifies), so this only occurs when an
	// INDEXED BY constraint rules out the only usable access path.
	ErrNoPlan
)

func (k Kind) String() string {
	switch k {
	case ErrAlloc:
		return "allocation failure"
	case ErrSchema:
		return "schema violation"
	case ErrNoPlan:
		return "no valid plan"
	default:
		return "unknown planner error"
	}
}

// Error is the planner's sole error type, wrapping an optional cause
// with gomy's error-wrapping helper the way the teacher's own common
// package pulls in the same module (lib/common/assert.go imports
// github.com/devlights/gomy) for its diagnostic tooling.
type Error struct {
	Kind    Kind
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// newError builds an Error, routing through gomy/errs so causes carry
// gomy's wrapped-error formatting instead of being flattened into a
// plain string.
func newError(kind Kind, message string, cause error) *Error {
	if cause != nil {
		cause = errs.Wrap(cause, message)
	}
	return &Error{Kind: kind, Message: message, cause: cause}
}
