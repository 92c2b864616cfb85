/*
orchestrator.go - Sync/propagation orchestration

PURPOSE:
  Entry points for the external events that invalidate statements:

    OnDrawEvaluated / OnDrawReverted     - a draw's figures (dis)appeared
    OnPaymentRegistered / OnPaymentReversed - a movement changed
    BulkRecompute                        - explicit range recomputation

  Each trigger resolves the affected scopes (every agent, branch and bank
  the event touches, in both grouping modes), recomputes the affected day
  for each of them concurrently, and - when the day lies in the past -
  propagates through every later day that already has a statement,
  strictly ascending within each scope.

FAILURE SEMANTICS:
  Scopes are independent: all outcomes are collected, never fail-fast.
  Any failures aggregate into a PartialFailureError for the caller to
  judge; the triggering business event itself should complete regardless.

CONCURRENCY:
  Fan-out runs in two phases - single scopes, then consolidated scopes -
  because consolidated scopes re-sync their children's single rows.
  Each phase is bounded by Workers. Within a scope, days stay strictly
  sequential (the engine owns that invariant). An overall deadline bounds
  each trigger; per-day timeouts live on the engine.
*/
package reconcile

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/warp/statement-engine/ledger"
)

const defaultWorkers = 4

// Orchestrator drives the accumulation engine from external triggers.
type Orchestrator struct {
	Engine     *ledger.Engine
	Statements ledger.StatementStore
	Draws      ledger.DrawSource

	// Workers bounds concurrent scope recomputation.
	Workers int

	// Deadline bounds one whole trigger; zero disables.
	Deadline time.Duration

	// Today supplies the current calendar day (injected so tests control
	// the past/future boundary for propagation).
	Today func() ledger.Day

	Log *logrus.Logger
}

func NewOrchestrator(engine *ledger.Engine, statements ledger.StatementStore,
	draws ledger.DrawSource, log *logrus.Logger) *Orchestrator {
	return &Orchestrator{
		Engine:     engine,
		Statements: statements,
		Draws:      draws,
		Workers:    defaultWorkers,
		Today:      ledger.Today,
		Log:        log,
	}
}

// Affected identifies the hierarchy chain a movement event touches.
// AgentID may be empty for movements registered above agent level.
type Affected struct {
	AgentID  ledger.EntityID
	BranchID ledger.EntityID
	BankID   ledger.EntityID
}

// =============================================================================
// TRIGGERS
// =============================================================================

// OnDrawEvaluated recomputes every scope that sold a ticket on the draw.
func (o *Orchestrator) OnDrawEvaluated(ctx context.Context, drawID string, date ledger.Day) error {
	return o.recomputeDraw(ctx, "draw_evaluated", drawID, date)
}

// OnDrawReverted recomputes the same scopes after a draw's evaluation is
// undone; the reverted lines no longer count, so the day's figures shrink.
func (o *Orchestrator) OnDrawReverted(ctx context.Context, drawID string, date ledger.Day) error {
	return o.recomputeDraw(ctx, "draw_reverted", drawID, date)
}

func (o *Orchestrator) recomputeDraw(ctx context.Context, trigger, drawID string, date ledger.Day) error {
	lines, err := o.Draws.DrawParticipants(ctx, drawID, date)
	if err != nil {
		// Fully failed: resolution errored before any scope was processed.
		return fmt.Errorf("resolve participants of draw %s: %w", drawID, err)
	}
	scopes := scopesForLines(lines)
	if len(scopes) == 0 {
		return nil
	}
	return o.recompute(ctx, trigger, scopes, date)
}

// OnPaymentRegistered recomputes the movement's entity chain for the day.
func (o *Orchestrator) OnPaymentRegistered(ctx context.Context, a Affected, date ledger.Day) error {
	return o.recompute(ctx, "payment_registered", scopesForChain(a), date)
}

// OnPaymentReversed recomputes after a movement reversal: the movement now
// contributes zero, so the day and everything after it shift.
func (o *Orchestrator) OnPaymentReversed(ctx context.Context, a Affected, date ledger.Day) error {
	return o.recompute(ctx, "payment_reversed", scopesForChain(a), date)
}

// BulkRecompute recomputes a scope over an explicit range and propagates
// past its end when the range lies in the past.
func (o *Orchestrator) BulkRecompute(ctx context.Context, scope ledger.Scope, r ledger.DateRange) error {
	if err := scope.Validate(); err != nil {
		return err
	}
	ctx, cancel := o.withDeadline(ctx)
	defer cancel()

	days := r.Days()
	if r.To.Before(o.today()) {
		later, err := o.Statements.DatesAfter(ctx, scope, r.To)
		if err != nil {
			return err
		}
		days = append(days, later...)
	}
	_, err := o.Engine.SyncDays(ctx, scope, days)
	return err
}

// =============================================================================
// FAN-OUT CORE
// =============================================================================

// recompute runs "recompute day D, then propagate forward" for the scopes
// in two phases: all single scopes first, then the consolidated ones.
// Consolidated scopes re-sync their children's single rows, so running
// them alongside those children would put one entity's day chain in two
// goroutines at once. Within each phase no two scopes touch the same
// statement rows, so the phase itself fans out concurrently.
func (o *Orchestrator) recompute(ctx context.Context, trigger string, scopes []ledger.Scope, date ledger.Day) error {
	if len(scopes) == 0 {
		return nil
	}
	ctx, cancel := o.withDeadline(ctx)
	defer cancel()

	var singles, consolidated []ledger.Scope
	for _, s := range scopes {
		if s.Grouping == ledger.GroupingConsolidated {
			consolidated = append(consolidated, s)
		} else {
			singles = append(singles, s)
		}
	}

	outcomes := o.recomputePhase(ctx, singles, date)
	outcomes = append(outcomes, o.recomputePhase(ctx, consolidated, date)...)

	result := collect(outcomes)
	if o.Log != nil {
		o.Log.WithFields(logrus.Fields{
			"trigger":   trigger,
			"date":      date.String(),
			"succeeded": result.Succeeded,
			"failed":    result.Failed,
		}).Info("recompute finished")
		for _, f := range result.Failures {
			o.Log.WithField("trigger", trigger).Error(f)
		}
	}
	return result.Err()
}

// recomputePhase fans one phase's scopes out concurrently, bounded by
// Workers, and collects every outcome.
func (o *Orchestrator) recomputePhase(ctx context.Context, scopes []ledger.Scope, date ledger.Day) []Outcome {
	workers := o.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}

	outcomes := make([]Outcome, len(scopes))
	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup
	for i, scope := range scopes {
		wg.Add(1)
		go func(i int, scope ledger.Scope) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			outcomes[i] = Outcome{Scope: scope, Err: o.recomputeScope(ctx, scope, date)}
		}(i, scope)
	}
	wg.Wait()
	return outcomes
}

// recomputeScope recomputes the affected day and, when it lies in the
// past, every later day that already has a statement, ascending.
func (o *Orchestrator) recomputeScope(ctx context.Context, scope ledger.Scope, date ledger.Day) error {
	days := []ledger.Day{date}
	if date.Before(o.today()) {
		later, err := o.Statements.DatesAfter(ctx, scope, date)
		if err != nil {
			return err
		}
		days = append(days, later...)
	}
	_, err := o.Engine.SyncDays(ctx, scope, days)
	return err
}

func (o *Orchestrator) today() ledger.Day {
	if o.Today != nil {
		return o.Today()
	}
	return ledger.Today()
}

func (o *Orchestrator) withDeadline(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.Deadline > 0 {
		return context.WithTimeout(ctx, o.Deadline)
	}
	return context.WithCancel(ctx)
}

// =============================================================================
// AFFECTED-SCOPE RESOLUTION
// =============================================================================

// scopesForLines derives every affected scope from a draw's lines: the
// selling agents, their branches and banks, each in single grouping, plus
// the consolidated branch and bank views.
func scopesForLines(lines []ledger.DrawSettlementLine) []ledger.Scope {
	set := map[ledger.Scope]bool{}
	for _, l := range lines {
		addChain(set, Affected{AgentID: l.AgentID, BranchID: l.BranchID, BankID: l.BankID})
	}
	return sortedScopes(set)
}

func scopesForChain(a Affected) []ledger.Scope {
	set := map[ledger.Scope]bool{}
	addChain(set, a)
	return sortedScopes(set)
}

func addChain(set map[ledger.Scope]bool, a Affected) {
	if a.AgentID != "" {
		set[ledger.SingleScope(ledger.DimensionAgent, a.AgentID)] = true
	}
	if a.BranchID != "" {
		set[ledger.SingleScope(ledger.DimensionBranch, a.BranchID)] = true
		set[ledger.ConsolidatedScope(ledger.DimensionBranch, a.BranchID)] = true
	}
	if a.BankID != "" {
		set[ledger.SingleScope(ledger.DimensionBank, a.BankID)] = true
		set[ledger.ConsolidatedScope(ledger.DimensionBank, a.BankID)] = true
	}
}

func sortedScopes(set map[ledger.Scope]bool) []ledger.Scope {
	scopes := make([]ledger.Scope, 0, len(set))
	for s := range set {
		scopes = append(scopes, s)
	}
	sort.Slice(scopes, func(i, j int) bool { return scopes[i].String() < scopes[j].String() })
	return scopes
}
