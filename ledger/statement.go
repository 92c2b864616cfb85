/*
statement.go - The persisted daily statement and its store contract

PURPOSE:
  DailyStatement is the unit of truth per (date, scope): one row, created
  on first computation, mutated by every recomputation, never deleted.
  StatementStore is the persistence boundary; StatementWriter layers the
  idempotent upsert discipline on top of any implementation:

    1. FindOrCreate resolves create races internally: a uniqueness
       violation from a concurrent writer becomes a lookup, not an error
    2. Update is guarded by an optimistic version; conflicts retry with
       randomized backoff up to a small fixed bound
    3. After the bound, the conflict surfaces as ConflictExhaustedError
       and the caller logs and continues with other entities

CONCURRENCY:
  The statement row is the only shared mutable resource in the engine.
  It is protected by this upsert+retry discipline, not by locks. Last
  writer wins on field values; the retry loop guarantees no writer is
  silently lost to a create race.

SEE ALSO:
  - store/sqlite: production implementation
  - store/memory: in-memory implementation for tests and dev
*/
package ledger

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// =============================================================================
// DAILY STATEMENT
// =============================================================================

// DailyStatement is the persisted statement row for one (date, scope).
// Exactly one row exists per StatementKey.
type DailyStatement struct {
	ID    string
	Date  Day
	Scope Scope

	TotalSales       decimal.Decimal
	TotalPayouts     decimal.Decimal
	BranchCommission decimal.Decimal
	AgentCommission  decimal.Decimal
	TotalPaid        decimal.Decimal
	TotalCollected   decimal.Decimal

	// DailyBalance = sales - payouts - commission + paid - collected.
	DailyBalance decimal.Decimal

	// AccumulatedBalance is the progressive carry: previous day's
	// accumulated balance (or previous month's closing) + DailyBalance.
	AccumulatedBalance decimal.Decimal

	TicketCount int
	IsSettled   bool

	// Version implements optimistic concurrency; stores bump it on every
	// successful update and reject stale writers with ErrWriteConflict.
	Version int64

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (s *DailyStatement) Key() StatementKey {
	return StatementKey{Date: s.Date, Scope: s.Scope}
}

// CanEdit is the inverse of IsSettled: a settled day is closed.
func (s *DailyStatement) CanEdit() bool { return !s.IsSettled }

// Totals reassembles the statement's aggregate figures.
func (s *DailyStatement) Totals() DayTotals {
	return DayTotals{
		Sales:            s.TotalSales,
		Payouts:          s.TotalPayouts,
		BranchCommission: s.BranchCommission,
		AgentCommission:  s.AgentCommission,
		Paid:             s.TotalPaid,
		Collected:        s.TotalCollected,
		TicketCount:      s.TicketCount,
	}
}

// StatementFields is the mutable payload of a statement write. Identity
// fields (date, scope) never change after creation.
type StatementFields struct {
	Totals             DayTotals
	DailyBalance       decimal.Decimal
	AccumulatedBalance decimal.Decimal
	IsSettled          bool
}

// Apply copies the fields onto a statement (in-memory convenience for
// stores and tests).
func (f StatementFields) Apply(s *DailyStatement) {
	s.TotalSales = f.Totals.Sales
	s.TotalPayouts = f.Totals.Payouts
	s.BranchCommission = f.Totals.BranchCommission
	s.AgentCommission = f.Totals.AgentCommission
	s.TotalPaid = f.Totals.Paid
	s.TotalCollected = f.Totals.Collected
	s.TicketCount = f.Totals.TicketCount
	s.DailyBalance = f.DailyBalance
	s.AccumulatedBalance = f.AccumulatedBalance
	s.IsSettled = f.IsSettled
}

// =============================================================================
// STORE CONTRACT
// =============================================================================

// StatementStore persists daily statements.
//
// CONTRACT:
//   - FindOrCreate is idempotent. On a uniqueness violation from a
//     concurrent creator, implementations MUST retry as a lookup and
//     return the existing row; ErrDuplicateStatement never escapes.
//   - Update applies fields iff the row's current version matches;
//     otherwise it returns ErrWriteConflict (wrapped) and writes nothing.
//   - Rows are never deleted; corrections overwrite.
type StatementStore interface {
	FindOrCreate(ctx context.Context, key StatementKey) (*DailyStatement, error)

	Update(ctx context.Context, id string, version int64, fields StatementFields) error

	// Get returns the row for key, or ErrStatementNotFound.
	Get(ctx context.Context, key StatementKey) (*DailyStatement, error)

	// LatestIn returns the latest-dated statement for scope within the
	// range, or ErrStatementNotFound.
	LatestIn(ctx context.Context, scope Scope, r DateRange) (*DailyStatement, error)

	// DatesAfter returns every date strictly after the given day that has
	// a persisted statement for scope, ascending. Drives propagation.
	DatesAfter(ctx context.Context, scope Scope, after Day) ([]Day, error)

	// LastSettledIn returns the latest settled statement for scope in the
	// month, or ErrStatementNotFound. Used by the closing resolver.
	LastSettledIn(ctx context.Context, scope Scope, m Month) (*DailyStatement, error)

	// Scopes returns every distinct scope that has at least one statement.
	// Drives the scheduled month-close job.
	Scopes(ctx context.Context) ([]Scope, error)
}

// =============================================================================
// STATEMENT WRITER - upsert + bounded conflict retry
// =============================================================================

const (
	defaultWriteAttempts = 3
	defaultWriteBackoff  = 25 * time.Millisecond
)

// StatementWriter layers the find-or-create/update discipline over a store.
type StatementWriter struct {
	Store       StatementStore
	MaxAttempts int
	BaseBackoff time.Duration
	Log         *logrus.Logger
}

func NewStatementWriter(store StatementStore, log *logrus.Logger) *StatementWriter {
	return &StatementWriter{
		Store:       store,
		MaxAttempts: defaultWriteAttempts,
		BaseBackoff: defaultWriteBackoff,
		Log:         log,
	}
}

// Write persists fields for key, creating the row on first computation and
// retrying version conflicts with randomized backoff. Returns the row as
// written. Recomputing with unchanged inputs writes identical fields, so
// the operation is idempotent at the field level.
func (w *StatementWriter) Write(ctx context.Context, key StatementKey, fields StatementFields) (*DailyStatement, error) {
	attempts := w.MaxAttempts
	if attempts <= 0 {
		attempts = defaultWriteAttempts
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		st, err := w.Store.FindOrCreate(ctx, key)
		if err != nil {
			return nil, err
		}

		err = w.Store.Update(ctx, st.ID, st.Version, fields)
		if err == nil {
			fields.Apply(st)
			st.Version++
			return st, nil
		}
		if !errors.Is(err, ErrWriteConflict) {
			return nil, err
		}
		lastErr = err

		if w.Log != nil {
			w.Log.WithFields(logrus.Fields{
				"statement": key.String(),
				"attempt":   attempt,
			}).Warn("statement write conflict, retrying")
		}
		if attempt < attempts {
			if err := sleepWithJitter(ctx, w.BaseBackoff, attempt); err != nil {
				return nil, err
			}
		}
	}
	return nil, &ConflictExhaustedError{Key: key, Attempts: attempts, Last: lastErr}
}

// sleepWithJitter waits base*attempt plus up to 100% random jitter, and
// respects context cancellation.
func sleepWithJitter(ctx context.Context, base time.Duration, attempt int) error {
	if base <= 0 {
		base = defaultWriteBackoff
	}
	d := base * time.Duration(attempt)
	d += time.Duration(rand.Int63n(int64(d) + 1))
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
