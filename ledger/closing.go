/*
closing.go - Monthly closing balances

PURPOSE:
  Resolves the closing balance of a month for a scope: the value that
  seeds day 1 of the following month. Resolution priority:

    1. A persisted, explicitly settled closing record for that month
    2. The last settled DailyStatement of that month
    3. A full recomputation from source events for the month's range,
       seeded from persisted prior-month data only (no recursion into
       unbounded historical recomputation)

VALIDATION:
  A month with no tickets and no movements closes at its carried seed:
  accumulation crosses empty months untouched. A recomputed balance that
  drifts from the seed without any underlying activity is an
  inconsistency; the seed wins.

SEE ALSO:
  - accumulate.go: consults the resolver at each month boundary
  - cmd/server: the scheduled job that snapshots closings monthly
*/
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// =============================================================================
// CLOSING RECORD
// =============================================================================

// MonthlyClosing is the persisted closing balance of a scope's month.
// Once settled it is authoritative.
type MonthlyClosing struct {
	ID      string
	Scope   Scope
	Month   Month
	Balance decimal.Decimal
	Settled bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// ClosingStore persists monthly closings, upserted by (scope, month).
type ClosingStore interface {
	// GetClosing returns the record for (scope, month), or ErrClosingNotFound.
	GetClosing(ctx context.Context, scope Scope, m Month) (*MonthlyClosing, error)

	// SaveClosing upserts the record for (c.Scope, c.Month).
	SaveClosing(ctx context.Context, c MonthlyClosing) error
}

// =============================================================================
// RESOLVER
// =============================================================================

// ClosingResolver resolves closing balances per the priority above.
type ClosingResolver struct {
	Closings   ClosingStore
	Statements StatementStore
	Aggregator *Aggregator
	Hierarchy  HierarchySource
	Log        *logrus.Logger
}

func NewClosingResolver(closings ClosingStore, statements StatementStore,
	agg *Aggregator, hierarchy HierarchySource, log *logrus.Logger) *ClosingResolver {
	return &ClosingResolver{
		Closings:   closings,
		Statements: statements,
		Aggregator: agg,
		Hierarchy:  hierarchy,
		Log:        log,
	}
}

// ClosingBalance resolves the closing balance of (scope, m).
func (r *ClosingResolver) ClosingBalance(ctx context.Context, scope Scope, m Month) (decimal.Decimal, error) {
	// 1. Settled closing record.
	if c, err := r.Closings.GetClosing(ctx, scope, m); err == nil {
		if c.Settled {
			return c.Balance, nil
		}
	} else if !errors.Is(err, ErrClosingNotFound) {
		return decimal.Zero, err
	}

	// 2. Last settled statement of the month.
	if st, err := r.Statements.LastSettledIn(ctx, scope, m); err == nil {
		return st.AccumulatedBalance, nil
	} else if !errors.Is(err, ErrStatementNotFound) {
		return decimal.Zero, err
	}

	// 3. Recompute from sources.
	return r.recompute(ctx, scope, m)
}

// recompute derives the closing from source events for the month. A
// consolidated scope closes as the sum of each child's own closing.
func (r *ClosingResolver) recompute(ctx context.Context, scope Scope, m Month) (decimal.Decimal, error) {
	if scope.Grouping == GroupingConsolidated {
		return r.recomputeConsolidated(ctx, scope, m)
	}

	ix, err := r.Aggregator.Activity(ctx, m.Range(), scope.Dimension, &scope.EntityID)
	if err != nil {
		return decimal.Zero, err
	}

	seed, err := r.storedSeed(ctx, scope, m.Prev())
	if err != nil {
		return decimal.Zero, err
	}

	// Replay the month with the same interleaving rules as daily
	// computation; the seed threads through day by day.
	balance := seed
	active := false
	for _, day := range m.Range().Days() {
		a := ix.For(day, scope.EntityID)
		dl := Interleave(a, balance)
		balance = dl.AccumulatedBalance()
		if a.Totals().HasActivity() || len(a.Movements) > 0 {
			active = true
		}
	}

	// An empty month closes at its carried seed: accumulation carries the
	// prior balance forward untouched. Only a replayed balance that drifted
	// away from the seed with no underlying events is an inconsistency,
	// and then the seed is the trusted value.
	if !active && !balance.Equal(seed) {
		if r.Log != nil {
			r.Log.WithFields(logrus.Fields{
				"scope":   scope.String(),
				"month":   m.String(),
				"balance": balance.String(),
				"seed":    seed.String(),
			}).Warn("recomputed closing drifted from seed with no underlying activity, keeping seed")
		}
		return seed, nil
	}
	return balance, nil
}

func (r *ClosingResolver) recomputeConsolidated(ctx context.Context, scope Scope, m Month) (decimal.Decimal, error) {
	children, err := r.Hierarchy.Children(ctx, scope.Dimension, scope.EntityID)
	if err != nil {
		return decimal.Zero, err
	}
	childDim := ChildDimension(scope.Dimension)
	total := decimal.Zero
	for _, child := range children {
		b, err := r.ClosingBalance(ctx, SingleScope(childDim, child), m)
		if err != nil {
			return decimal.Zero, err
		}
		total = total.Add(b)
	}
	return total, nil
}

// storedSeed looks up prior-month closing data without recomputing:
// closing record (settled or not) first, then the month's last settled
// statement, else zero.
func (r *ClosingResolver) storedSeed(ctx context.Context, scope Scope, m Month) (decimal.Decimal, error) {
	if c, err := r.Closings.GetClosing(ctx, scope, m); err == nil {
		return c.Balance, nil
	} else if !errors.Is(err, ErrClosingNotFound) {
		return decimal.Zero, err
	}
	if st, err := r.Statements.LastSettledIn(ctx, scope, m); err == nil {
		return st.AccumulatedBalance, nil
	} else if !errors.Is(err, ErrStatementNotFound) {
		return decimal.Zero, err
	}
	return decimal.Zero, nil
}

// Snapshot resolves the closing for (scope, m) and persists it as settled.
// Used by the scheduled month-close job; idempotent.
func (r *ClosingResolver) Snapshot(ctx context.Context, scope Scope, m Month) (*MonthlyClosing, error) {
	balance, err := r.ClosingBalance(ctx, scope, m)
	if err != nil {
		return nil, err
	}
	c := MonthlyClosing{
		Scope:   scope,
		Month:   m,
		Balance: balance,
		Settled: true,
	}
	if err := r.Closings.SaveClosing(ctx, c); err != nil {
		return nil, err
	}
	return &c, nil
}
