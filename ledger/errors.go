/*
errors.go - Centralized error types for the reconciliation core

PURPOSE:
  All error types in one place for consistency and discoverability.
  Callers and store implementations wrap these with additional context.

ERROR CATEGORIES:
  1. Input errors  - malformed days/ranges/scopes: fail fast, nothing mutated
  2. Store errors  - create races and write conflicts, retried internally
  3. Upstream errors - event source failures, propagated per entity/day

SEE ALSO:
  - statement.go: store contract that produces conflict errors
  - accumulate.go: propagates upstream read errors without persisting
*/
package ledger

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidDay is returned for malformed day keys.
	ErrInvalidDay = errors.New("invalid day")

	// ErrInvalidMonth is returned for malformed month keys.
	ErrInvalidMonth = errors.New("invalid month")

	// ErrInvalidRange is returned when a date range ends before it starts.
	ErrInvalidRange = errors.New("invalid date range")

	// ErrInvalidScope is returned for malformed statement scopes.
	ErrInvalidScope = errors.New("invalid scope")

	// ErrStatementNotFound is returned by store lookups that found no row.
	ErrStatementNotFound = errors.New("statement not found")

	// ErrClosingNotFound is returned when no closing record exists for a month.
	ErrClosingNotFound = errors.New("monthly closing not found")

	// ErrMovementNotFound is returned when a reversal targets an unknown
	// movement ID.
	ErrMovementNotFound = errors.New("movement not found")

	// ErrDuplicateStatement is returned by stores when a concurrent writer
	// created the row first. The adapter retries as lookup-then-update; this
	// sentinel never escapes FindOrCreate.
	ErrDuplicateStatement = errors.New("statement already exists")

	// ErrWriteConflict is returned by stores on a serialization/version
	// conflict. Updates retry with backoff before surfacing it.
	ErrWriteConflict = errors.New("statement write conflict")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ConflictExhaustedError is surfaced after the bounded conflict-retry loop
// gives up on a statement write.
type ConflictExhaustedError struct {
	Key      StatementKey
	Attempts int
	Last     error
}

func (e *ConflictExhaustedError) Error() string {
	return fmt.Sprintf("statement %s: write conflict after %d attempts: %v",
		e.Key, e.Attempts, e.Last)
}

func (e *ConflictExhaustedError) Unwrap() error { return ErrWriteConflict }

// DayError ties a failure to the scope/day it occurred on, so callers of a
// range sync can tell which day broke the chain.
type DayError struct {
	Scope Scope
	Date  Day
	Err   error
}

func (e *DayError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Scope, e.Date, e.Err)
}

func (e *DayError) Unwrap() error { return e.Err }
