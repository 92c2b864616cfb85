/*
accumulate.go - The day-over-day accumulation engine

PURPOSE:
  Computes and persists daily statements for a scope over a set of days,
  strictly ascending, threading each day's freshly computed accumulated
  balance into the next day's seed. This ordering is THE invariant the
  whole engine depends on: within one scope, days are never processed
  out of order or in parallel.

SEED RESOLUTION (priority order):
  1. The balance computed by this same run for the preceding day (in
     memory, highest trust)
  2. If the preceding day is in a different calendar month, the monthly
     closing resolver's value for the prior month
  3. The latest persisted statement before the day within the month
  4. Zero

GROUPING:
  A consolidated scope does not share one running total: each child
  accumulates independently and the consolidated statement is the sum of
  the children's own accumulated balances.

SEE ALSO:
  - interleave.go: produces the running balances this engine persists
  - reconcile:     drives this engine from external triggers
*/
package ledger

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// =============================================================================
// CACHE SIDE CHANNEL
// =============================================================================

// StatementCache is a best-effort side channel: implementations swallow
// and log their own failures, the engine never checks errors. A nil cache
// is valid.
type StatementCache interface {
	Put(ctx context.Context, st *DailyStatement)
	Get(ctx context.Context, key StatementKey) (*DailyStatement, bool)
}

// =============================================================================
// ENGINE
// =============================================================================

// Engine computes daily statements. All collaborators are injected; the
// engine holds no hidden shared state.
type Engine struct {
	Aggregator *Aggregator
	Statements StatementStore
	Writer     *StatementWriter
	Closings   *ClosingResolver
	Hierarchy  HierarchySource
	Settle     SettlementPolicy
	Cache      StatementCache

	// DayTimeout bounds each individual day's computation; zero disables.
	// A timed-out day fails the scope's sync from that day on, because
	// every later day's seed depends on it.
	DayTimeout time.Duration

	Log *logrus.Logger
}

func NewEngine(agg *Aggregator, statements StatementStore, writer *StatementWriter,
	closings *ClosingResolver, hierarchy HierarchySource, settle SettlementPolicy,
	log *logrus.Logger) *Engine {
	if settle == nil {
		settle = DefaultSettlementPolicy
	}
	return &Engine{
		Aggregator: agg,
		Statements: statements,
		Writer:     writer,
		Closings:   closings,
		Hierarchy:  hierarchy,
		Settle:     settle,
		Log:        log,
	}
}

// chainValue is the in-memory previous-day result of the current run.
type chainValue struct {
	day     Day
	balance decimal.Decimal
}

// SyncRange computes every day in the range for the scope, ascending.
func (e *Engine) SyncRange(ctx context.Context, scope Scope, r DateRange) ([]*DailyStatement, error) {
	return e.SyncDays(ctx, scope, r.Days())
}

// SyncDays computes the given days for the scope, ascending. Days need not
// be contiguous: propagation feeds in only the dates that already have
// statements, and the seed chain threads across the gaps.
func (e *Engine) SyncDays(ctx context.Context, scope Scope, days []Day) ([]*DailyStatement, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	days = sortedUniqueDays(days)
	if len(days) == 0 {
		return nil, nil
	}

	if scope.Grouping == GroupingConsolidated {
		return e.syncConsolidated(ctx, scope, days)
	}
	return e.syncSingle(ctx, scope, days)
}

// =============================================================================
// SINGLE SCOPE
// =============================================================================

func (e *Engine) syncSingle(ctx context.Context, scope Scope, days []Day) ([]*DailyStatement, error) {
	r := DateRange{From: days[0], To: days[len(days)-1]}
	ix, err := e.Aggregator.Activity(ctx, r, scope.Dimension, &scope.EntityID)
	if err != nil {
		return nil, &DayError{Scope: scope, Date: days[0], Err: err}
	}

	var chain *chainValue
	out := make([]*DailyStatement, 0, len(days))
	for _, day := range days {
		st, err := e.computeAndStoreDay(ctx, scope, day, ix.For(day, scope.EntityID), chain)
		if err != nil {
			return out, err
		}
		chain = &chainValue{day: day, balance: st.AccumulatedBalance}
		out = append(out, st)
	}
	return out, nil
}

func (e *Engine) computeAndStoreDay(ctx context.Context, scope Scope, day Day,
	activity *DayActivity, chain *chainValue) (*DailyStatement, error) {

	dayCtx := ctx
	if e.DayTimeout > 0 {
		var cancel context.CancelFunc
		dayCtx, cancel = context.WithTimeout(ctx, e.DayTimeout)
		defer cancel()
	}

	seed, err := e.resolveSeed(dayCtx, scope, day, chain)
	if err != nil {
		return nil, &DayError{Scope: scope, Date: day, Err: err}
	}

	dl := Interleave(activity, seed)
	totals := activity.Totals()
	fields := StatementFields{
		Totals:             totals,
		DailyBalance:       totals.DailyBalance(),
		AccumulatedBalance: dl.AccumulatedBalance(),
	}
	fields.IsSettled = e.Settle(SettlementInput{
		TicketCount:        totals.TicketCount,
		AccumulatedBalance: fields.AccumulatedBalance,
		TotalPaid:          totals.Paid,
		TotalCollected:     totals.Collected,
	})

	st, err := e.Writer.Write(dayCtx, StatementKey{Date: day, Scope: scope}, fields)
	if err != nil {
		return nil, &DayError{Scope: scope, Date: day, Err: err}
	}
	if e.Cache != nil {
		e.Cache.Put(dayCtx, st)
	}
	if e.Log != nil {
		e.Log.WithFields(logrus.Fields{
			"scope":       scope.String(),
			"date":        day.String(),
			"daily":       st.DailyBalance.String(),
			"accumulated": st.AccumulatedBalance.String(),
		}).Debug("statement synced")
	}
	return st, nil
}

// resolveSeed implements the 4-level priority documented at the top of
// the file.
func (e *Engine) resolveSeed(ctx context.Context, scope Scope, day Day, chain *chainValue) (decimal.Decimal, error) {
	prevDay := day.Prev()

	// 1. Freshly computed preceding day from this run.
	if chain != nil && chain.day.Equal(prevDay) {
		return chain.balance, nil
	}

	// 2. Month boundary: seed from the prior month's closing.
	if !prevDay.SameMonth(day) {
		return e.Closings.ClosingBalance(ctx, scope, day.MonthOf().Prev())
	}

	// 1b. Non-contiguous chain (propagation over statement dates only):
	// the last day computed by this run is still the freshest value as
	// long as it is in the same month.
	if chain != nil && chain.day.SameMonth(day) && chain.day.Before(day) {
		return chain.balance, nil
	}

	// 3. Latest persisted statement before the day, same month.
	latest, err := e.Statements.LatestIn(ctx, scope, DateRange{From: day.MonthOf().FirstDay(), To: prevDay})
	if err == nil {
		return latest.AccumulatedBalance, nil
	}
	if !errors.Is(err, ErrStatementNotFound) {
		return decimal.Zero, err
	}

	// 4. Nothing exists yet.
	return decimal.Zero, nil
}

// =============================================================================
// CONSOLIDATED SCOPE
// =============================================================================

// syncConsolidated syncs every child independently, then writes per-day
// consolidated rows whose figures are the sums over the children.
func (e *Engine) syncConsolidated(ctx context.Context, scope Scope, days []Day) ([]*DailyStatement, error) {
	children, err := e.Hierarchy.Children(ctx, scope.Dimension, scope.EntityID)
	if err != nil {
		return nil, &DayError{Scope: scope, Date: days[0], Err: err}
	}
	childDim := ChildDimension(scope.Dimension)

	type dayAgg struct {
		totals      DayTotals
		daily       decimal.Decimal
		accumulated decimal.Decimal
	}
	agg := make(map[Day]*dayAgg, len(days))
	for _, day := range days {
		agg[day] = &dayAgg{totals: ZeroTotals(), daily: decimal.Zero, accumulated: decimal.Zero}
	}

	// Children accumulate independently; consolidation only sums.
	for _, child := range children {
		sts, err := e.syncSingle(ctx, SingleScope(childDim, child), days)
		if err != nil {
			return nil, err
		}
		for _, st := range sts {
			a := agg[st.Date]
			a.totals = a.totals.Add(st.Totals())
			a.daily = a.daily.Add(st.DailyBalance)
			a.accumulated = a.accumulated.Add(st.AccumulatedBalance)
		}
	}

	out := make([]*DailyStatement, 0, len(days))
	for _, day := range days {
		a := agg[day]
		fields := StatementFields{
			Totals:             a.totals,
			DailyBalance:       a.daily,
			AccumulatedBalance: a.accumulated,
		}
		fields.IsSettled = e.Settle(SettlementInput{
			TicketCount:        a.totals.TicketCount,
			AccumulatedBalance: a.accumulated,
			TotalPaid:          a.totals.Paid,
			TotalCollected:     a.totals.Collected,
		})
		st, err := e.Writer.Write(ctx, StatementKey{Date: day, Scope: scope}, fields)
		if err != nil {
			return out, &DayError{Scope: scope, Date: day, Err: err}
		}
		if e.Cache != nil {
			e.Cache.Put(ctx, st)
		}
		out = append(out, st)
	}
	return out, nil
}

// =============================================================================
// LEDGER VIEW
// =============================================================================

// LedgerFor recomputes the interleaved ledger of one (scope, day) for
// display. Ledger lines are derived and transient; this never persists.
func (e *Engine) LedgerFor(ctx context.Context, scope Scope, day Day) (DayLedger, error) {
	if err := scope.Validate(); err != nil {
		return DayLedger{}, err
	}
	r := DateRange{From: day, To: day}
	ix, err := e.Aggregator.Activity(ctx, r, scope.Dimension, &scope.EntityID)
	if err != nil {
		return DayLedger{}, err
	}
	seed, err := e.resolveSeed(ctx, scope, day, nil)
	if err != nil {
		return DayLedger{}, err
	}
	return Interleave(ix.For(day, scope.EntityID), seed), nil
}

// =============================================================================
// HELPERS
// =============================================================================

func sortedUniqueDays(days []Day) []Day {
	if len(days) == 0 {
		return nil
	}
	cp := make([]Day, len(days))
	copy(cp, days)
	sort.Slice(cp, func(i, j int) bool { return cp[i].Before(cp[j]) })
	out := cp[:1]
	for _, d := range cp[1:] {
		if !d.Equal(out[len(out)-1]) {
			out = append(out, d)
		}
	}
	return out
}
