package reconcile_test

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/statement-engine/ledger"
	"github.com/warp/statement-engine/reconcile"
	"github.com/warp/statement-engine/store/memory"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestOrchestrator(t *testing.T) (*reconcile.Orchestrator, *memory.Store) {
	t.Helper()
	store := memory.New()
	log := logrus.New()
	log.SetOutput(io.Discard)

	agg := ledger.NewAggregator(store, store)
	writer := ledger.NewStatementWriter(store, log)
	resolver := ledger.NewClosingResolver(store, store, agg, store, log)
	engine := ledger.NewEngine(agg, store, writer, resolver, store, nil, log)

	orch := reconcile.NewOrchestrator(engine, store, store, log)
	// Fix "today" well past the fixture dates so past-day propagation is
	// deterministic.
	orch.Today = func() ledger.Day { return ledger.NewDay(2025, time.June, 1) }
	return orch, store
}

func line(drawID string, date ledger.Day, agent, branch, bank ledger.EntityID, sales string) ledger.DrawSettlementLine {
	return ledger.DrawSettlementLine{
		DrawID:      drawID,
		Date:        date,
		AgentID:     agent,
		BranchID:    branch,
		BankID:      bank,
		ScheduledAt: date.StartOfDay().Add(10 * time.Hour),
		Sales:       ledger.MustDecimal(sales),
		TicketCount: 1,
		State:       ledger.DrawEvaluated,
	}
}

func getStatement(t *testing.T, store *memory.Store, scope ledger.Scope, date ledger.Day) *ledger.DailyStatement {
	t.Helper()
	st, err := store.Get(context.Background(), ledger.StatementKey{Date: date, Scope: scope})
	require.NoError(t, err)
	return st
}

// =============================================================================
// DRAW TRIGGERS
// =============================================================================

func TestOnDrawEvaluated_RecomputesWholeChain(t *testing.T) {
	// GIVEN: a draw sold by two agents of two branches under one bank
	// WHEN: the draw is evaluated
	// THEN: statements exist for both agents, both branches (single and
	//       consolidated) and the bank (single and consolidated)

	orch, store := newTestOrchestrator(t)
	ctx := context.Background()
	day := ledger.NewDay(2025, time.March, 10)

	require.NoError(t, store.AddDrawLines(ctx,
		line("draw-1", day, "agent-1", "branch-1", "bank-1", "100"),
		line("draw-1", day, "agent-2", "branch-2", "bank-1", "40"),
	))

	require.NoError(t, orch.OnDrawEvaluated(ctx, "draw-1", day))

	a1 := getStatement(t, store, ledger.SingleScope(ledger.DimensionAgent, "agent-1"), day)
	assert.True(t, a1.AccumulatedBalance.Equal(ledger.MustDecimal("100")))

	b2 := getStatement(t, store, ledger.SingleScope(ledger.DimensionBranch, "branch-2"), day)
	assert.True(t, b2.AccumulatedBalance.Equal(ledger.MustDecimal("40")))

	bankCons := getStatement(t, store, ledger.ConsolidatedScope(ledger.DimensionBank, "bank-1"), day)
	assert.True(t, bankCons.AccumulatedBalance.Equal(ledger.MustDecimal("140")),
		"got %s", bankCons.AccumulatedBalance)
}

func TestOnDrawReverted_ShrinksStatements(t *testing.T) {
	orch, store := newTestOrchestrator(t)
	ctx := context.Background()
	day := ledger.NewDay(2025, time.March, 10)

	require.NoError(t, store.AddDrawLines(ctx,
		line("draw-1", day, "agent-1", "branch-1", "bank-1", "100"),
	))
	require.NoError(t, orch.OnDrawEvaluated(ctx, "draw-1", day))

	require.NoError(t, store.SetDrawState(ctx, "draw-1", ledger.DrawReverted))
	require.NoError(t, orch.OnDrawReverted(ctx, "draw-1", day))

	st := getStatement(t, store, ledger.SingleScope(ledger.DimensionAgent, "agent-1"), day)
	assert.True(t, st.AccumulatedBalance.IsZero())
	assert.Equal(t, 0, st.TicketCount)
}

func TestOnDrawEvaluated_UnknownDrawIsNoop(t *testing.T) {
	orch, _ := newTestOrchestrator(t)
	err := orch.OnDrawEvaluated(context.Background(), "missing", ledger.NewDay(2025, time.March, 10))
	assert.NoError(t, err, "a draw with no lines affects no scopes")
}

// =============================================================================
// FORWARD PROPAGATION
// =============================================================================

func TestPastCorrectionPropagatesToLaterStatements(t *testing.T) {
	// GIVEN: statements for days 1..5, built in order
	// WHEN: a new draw lands on day 2 (a past day) and is evaluated
	// THEN: days 2..5 all shift by the new draw's net; day 1 is untouched

	orch, store := newTestOrchestrator(t)
	ctx := context.Background()
	scope := ledger.SingleScope(ledger.DimensionAgent, "agent-1")

	d1 := ledger.NewDay(2025, time.March, 1)
	days := make([]ledger.Day, 5)
	for i := range days {
		days[i] = d1.AddDays(i)
	}

	require.NoError(t, store.AddDrawLines(ctx,
		line("draw-1", days[0], "agent-1", "branch-1", "bank-1", "10"),
		line("draw-2", days[2], "agent-1", "branch-1", "bank-1", "20"),
		line("draw-3", days[4], "agent-1", "branch-1", "bank-1", "30"),
	))
	require.NoError(t, orch.OnDrawEvaluated(ctx, "draw-1", days[0]))
	require.NoError(t, orch.OnDrawEvaluated(ctx, "draw-2", days[2]))
	require.NoError(t, orch.OnDrawEvaluated(ctx, "draw-3", days[4]))

	// Baseline: 10 / 30 / 60 on days 1, 3, 5.
	require.True(t, getStatement(t, store, scope, days[4]).AccumulatedBalance.Equal(ledger.MustDecimal("60")))

	// Correction lands on day 2.
	require.NoError(t, store.AddDrawLines(ctx,
		line("draw-4", days[1], "agent-1", "branch-1", "bank-1", "100"),
	))
	require.NoError(t, orch.OnDrawEvaluated(ctx, "draw-4", days[1]))

	assert.True(t, getStatement(t, store, scope, days[0]).AccumulatedBalance.Equal(ledger.MustDecimal("10")),
		"day before the correction is untouched")
	assert.True(t, getStatement(t, store, scope, days[1]).AccumulatedBalance.Equal(ledger.MustDecimal("110")))
	assert.True(t, getStatement(t, store, scope, days[2]).AccumulatedBalance.Equal(ledger.MustDecimal("130")))
	assert.True(t, getStatement(t, store, scope, days[4]).AccumulatedBalance.Equal(ledger.MustDecimal("160")))
}

func TestTodayTriggerDoesNotScanForward(t *testing.T) {
	// A trigger on the current day has nothing after it to fix; only the
	// day itself is computed.

	orch, store := newTestOrchestrator(t)
	ctx := context.Background()
	today := ledger.NewDay(2025, time.June, 1)
	orch.Today = func() ledger.Day { return today }

	require.NoError(t, store.AddDrawLines(ctx,
		line("draw-1", today, "agent-1", "branch-1", "bank-1", "10"),
	))
	require.NoError(t, orch.OnDrawEvaluated(ctx, "draw-1", today))

	st := getStatement(t, store, ledger.SingleScope(ledger.DimensionAgent, "agent-1"), today)
	assert.True(t, st.AccumulatedBalance.Equal(ledger.MustDecimal("10")))
}

// =============================================================================
// MOVEMENT TRIGGERS
// =============================================================================

func TestOnPaymentRegistered_RecomputesChain(t *testing.T) {
	orch, store := newTestOrchestrator(t)
	ctx := context.Background()
	day := ledger.NewDay(2025, time.March, 10)

	m, err := store.AddMovement(ctx, ledger.MovementRecord{
		Date:     day,
		Kind:     ledger.MovementPayment,
		Amount:   ledger.MustDecimal("50"),
		AgentID:  "agent-1",
		BranchID: "branch-1",
		BankID:   "bank-1",
	})
	require.NoError(t, err)

	affected := reconcile.Affected{AgentID: m.AgentID, BranchID: m.BranchID, BankID: m.BankID}
	require.NoError(t, orch.OnPaymentRegistered(ctx, affected, day))

	agent := getStatement(t, store, ledger.SingleScope(ledger.DimensionAgent, "agent-1"), day)
	assert.True(t, agent.TotalPaid.Equal(ledger.MustDecimal("50")))
	assert.True(t, agent.AccumulatedBalance.Equal(ledger.MustDecimal("50")))

	bank := getStatement(t, store, ledger.SingleScope(ledger.DimensionBank, "bank-1"), day)
	assert.True(t, bank.AccumulatedBalance.Equal(ledger.MustDecimal("50")))
}

func TestOnPaymentRegistered_BranchLevelSkipsAgentScope(t *testing.T) {
	// A movement with no agent recomputes branch and bank scopes only.

	orch, store := newTestOrchestrator(t)
	ctx := context.Background()
	day := ledger.NewDay(2025, time.March, 10)

	m, err := store.AddMovement(ctx, ledger.MovementRecord{
		Date:     day,
		Kind:     ledger.MovementCollection,
		Amount:   ledger.MustDecimal("30"),
		BranchID: "branch-1",
		BankID:   "bank-1",
	})
	require.NoError(t, err)

	affected := reconcile.Affected{BranchID: m.BranchID, BankID: m.BankID}
	require.NoError(t, orch.OnPaymentReversed(ctx, affected, day))

	branch := getStatement(t, store, ledger.SingleScope(ledger.DimensionBranch, "branch-1"), day)
	assert.NotNil(t, branch)

	_, err = store.Get(ctx, ledger.StatementKey{
		Date:  day,
		Scope: ledger.SingleScope(ledger.DimensionAgent, "agent-1"),
	})
	assert.ErrorIs(t, err, ledger.ErrStatementNotFound)
}

// =============================================================================
// BULK RECOMPUTE
// =============================================================================

func TestBulkRecompute_RangeAndPropagation(t *testing.T) {
	// GIVEN: statements through day 5, a corrupted day 2 figure
	// WHEN: bulk recomputing days 1..3
	// THEN: day 5 is also rebuilt because the range lies in the past

	orch, store := newTestOrchestrator(t)
	ctx := context.Background()
	scope := ledger.SingleScope(ledger.DimensionAgent, "agent-1")

	d1 := ledger.NewDay(2025, time.March, 1)
	d5 := d1.AddDays(4)
	require.NoError(t, store.AddDrawLines(ctx,
		line("draw-1", d1, "agent-1", "branch-1", "bank-1", "10"),
		line("draw-2", d5, "agent-1", "branch-1", "bank-1", "30"),
	))
	require.NoError(t, orch.OnDrawEvaluated(ctx, "draw-1", d1))
	require.NoError(t, orch.OnDrawEvaluated(ctx, "draw-2", d5))

	r, err := ledger.NewDateRange(d1, d1.AddDays(2))
	require.NoError(t, err)
	require.NoError(t, orch.BulkRecompute(ctx, scope, r))

	assert.True(t, getStatement(t, store, scope, d5).AccumulatedBalance.Equal(ledger.MustDecimal("40")))
}

func TestBulkRecompute_InvalidScopeRejected(t *testing.T) {
	orch, _ := newTestOrchestrator(t)

	d1 := ledger.NewDay(2025, time.March, 1)
	r, err := ledger.NewDateRange(d1, d1)
	require.NoError(t, err)

	bad := ledger.Scope{Dimension: "warehouse", EntityID: "x", Grouping: ledger.GroupingSingle}
	assert.ErrorIs(t, orch.BulkRecompute(context.Background(), bad, r), ledger.ErrInvalidScope)
}

// =============================================================================
// SCOPE ORDERING
// =============================================================================

// overlapStatements counts statement rows held in Update by more than one
// goroutine at once. Consolidated scopes re-sync their children's rows, so
// any overlap means two goroutines ran the same entity's day chain.
type overlapStatements struct {
	*memory.Store
	mu       sync.Mutex
	inflight map[string]int
	overlaps int
}

func (s *overlapStatements) Update(ctx context.Context, id string, version int64, fields ledger.StatementFields) error {
	s.mu.Lock()
	s.inflight[id]++
	if s.inflight[id] > 1 {
		s.overlaps++
	}
	s.mu.Unlock()

	// Widen the window so a second writer on the same row would be seen.
	time.Sleep(2 * time.Millisecond)
	err := s.Store.Update(ctx, id, version, fields)

	s.mu.Lock()
	s.inflight[id]--
	s.mu.Unlock()
	return err
}

func TestRecompute_ConsolidatedWaitsForSingles(t *testing.T) {
	// GIVEN: statements across several days for a full chain
	// WHEN: a past-day draw trigger fans out over single and consolidated
	//       scopes
	// THEN: no statement row is ever inside Update from two goroutines at
	//       once; each entity's day chain stays strictly sequential

	store := memory.New()
	log := logrus.New()
	log.SetOutput(io.Discard)

	tracked := &overlapStatements{Store: store, inflight: map[string]int{}}
	agg := ledger.NewAggregator(store, store)
	writer := ledger.NewStatementWriter(tracked, log)
	resolver := ledger.NewClosingResolver(store, tracked, agg, store, log)
	engine := ledger.NewEngine(agg, tracked, writer, resolver, store, nil, log)
	orch := reconcile.NewOrchestrator(engine, tracked, store, log)
	orch.Today = func() ledger.Day { return ledger.NewDay(2025, time.June, 1) }

	ctx := context.Background()
	d1 := ledger.NewDay(2025, time.March, 10)
	require.NoError(t, store.AddDrawLines(ctx,
		line("draw-1", d1, "agent-1", "branch-1", "bank-1", "100"),
		line("draw-2", d1.AddDays(1), "agent-1", "branch-1", "bank-1", "20"),
		line("draw-3", d1.AddDays(2), "agent-1", "branch-1", "bank-1", "30"),
	))
	require.NoError(t, orch.OnDrawEvaluated(ctx, "draw-1", d1))
	require.NoError(t, orch.OnDrawEvaluated(ctx, "draw-2", d1.AddDays(1)))
	require.NoError(t, orch.OnDrawEvaluated(ctx, "draw-3", d1.AddDays(2)))

	// Correction on the earliest day: every scope now propagates through
	// three days of existing statements.
	require.NoError(t, store.AddDrawLines(ctx,
		line("draw-4", d1, "agent-1", "branch-1", "bank-1", "5"),
	))
	require.NoError(t, orch.OnDrawEvaluated(ctx, "draw-4", d1))

	tracked.mu.Lock()
	defer tracked.mu.Unlock()
	assert.Zero(t, tracked.overlaps, "same statement row updated concurrently")
}

// =============================================================================
// TIMEOUTS
// =============================================================================

// stalledStatements blocks FindOrCreate for one scope until the context
// expires, simulating a wedged storage call on that scope's rows.
type stalledStatements struct {
	*memory.Store
	stallFor ledger.Scope
}

func (s *stalledStatements) FindOrCreate(ctx context.Context, key ledger.StatementKey) (*ledger.DailyStatement, error) {
	if key.Scope == s.stallFor {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return s.Store.FindOrCreate(ctx, key)
}

func newStalledOrchestrator(t *testing.T) (*reconcile.Orchestrator, *ledger.Engine, *memory.Store) {
	t.Helper()
	store := memory.New()
	log := logrus.New()
	log.SetOutput(io.Discard)

	stalled := &stalledStatements{
		Store:    store,
		stallFor: ledger.SingleScope(ledger.DimensionAgent, "agent-1"),
	}
	agg := ledger.NewAggregator(store, store)
	writer := ledger.NewStatementWriter(stalled, log)
	resolver := ledger.NewClosingResolver(store, stalled, agg, store, log)
	engine := ledger.NewEngine(agg, stalled, writer, resolver, store, nil, log)
	orch := reconcile.NewOrchestrator(engine, stalled, store, log)
	orch.Today = func() ledger.Day { return ledger.NewDay(2025, time.June, 1) }
	return orch, engine, store
}

func TestRecompute_DayTimeoutFailsStalledScopeOnly(t *testing.T) {
	// GIVEN: a storage call that hangs for the agent's single scope and a
	//        per-day timeout on the engine
	// WHEN: a draw trigger fans out over the chain
	// THEN: the agent scope times out and is reported as failed, along with
	//       the branch consolidated scope that re-syncs the same agent; the
	//       rest of the chain completes

	orch, engine, store := newStalledOrchestrator(t)
	engine.DayTimeout = 50 * time.Millisecond

	ctx := context.Background()
	day := ledger.NewDay(2025, time.March, 10)
	require.NoError(t, store.AddDrawLines(ctx,
		line("draw-1", day, "agent-1", "branch-1", "bank-1", "100"),
	))

	err := orch.OnDrawEvaluated(ctx, "draw-1", day)
	require.Error(t, err)

	var partial *reconcile.PartialFailureError
	require.ErrorAs(t, err, &partial)
	assert.Equal(t, 2, partial.Failed)
	assert.Equal(t, 3, partial.Succeeded)

	branch := getStatement(t, store, ledger.SingleScope(ledger.DimensionBranch, "branch-1"), day)
	assert.True(t, branch.AccumulatedBalance.Equal(ledger.MustDecimal("100")))
	bank := getStatement(t, store, ledger.SingleScope(ledger.DimensionBank, "bank-1"), day)
	assert.True(t, bank.AccumulatedBalance.Equal(ledger.MustDecimal("100")))
}

func TestRecompute_DeadlineBoundsWholeTrigger(t *testing.T) {
	// GIVEN: the same stalled agent scope, no per-day timeout, but an
	//        overall deadline on the orchestrator
	// WHEN: a draw trigger fans out
	// THEN: the stalled scope unblocks at the deadline and fails; the
	//       trigger still returns with every other scope's outcome

	orch, _, store := newStalledOrchestrator(t)
	orch.Deadline = 50 * time.Millisecond

	ctx := context.Background()
	day := ledger.NewDay(2025, time.March, 10)
	require.NoError(t, store.AddDrawLines(ctx,
		line("draw-1", day, "agent-1", "branch-1", "bank-1", "100"),
	))

	err := orch.OnDrawEvaluated(ctx, "draw-1", day)
	require.Error(t, err)

	var partial *reconcile.PartialFailureError
	require.ErrorAs(t, err, &partial)
	assert.Equal(t, 2, partial.Failed)
	assert.Equal(t, 3, partial.Succeeded)
}

// =============================================================================
// PARTIAL FAILURE
// =============================================================================

// failingStatements fails DatesAfter for one scope to force a per-scope
// error inside the fan-out.
type failingStatements struct {
	*memory.Store
	failFor ledger.Scope
}

func (s *failingStatements) DatesAfter(ctx context.Context, scope ledger.Scope, after ledger.Day) ([]ledger.Day, error) {
	if scope == s.failFor {
		return nil, errors.New("simulated storage failure")
	}
	return s.Store.DatesAfter(ctx, scope, after)
}

func TestRecompute_PartialFailureReportsAndContinues(t *testing.T) {
	// GIVEN: one scope whose propagation lookup fails
	// WHEN: a past-day draw trigger fans out over the chain
	// THEN: the other scopes still get statements and the error carries
	//       the failure detail

	store := memory.New()
	log := logrus.New()
	log.SetOutput(io.Discard)

	failing := &failingStatements{
		Store:   store,
		failFor: ledger.SingleScope(ledger.DimensionAgent, "agent-1"),
	}
	agg := ledger.NewAggregator(store, store)
	writer := ledger.NewStatementWriter(store, log)
	resolver := ledger.NewClosingResolver(store, store, agg, store, log)
	engine := ledger.NewEngine(agg, store, writer, resolver, store, nil, log)
	orch := reconcile.NewOrchestrator(engine, failing, store, log)
	orch.Today = func() ledger.Day { return ledger.NewDay(2025, time.June, 1) }

	ctx := context.Background()
	day := ledger.NewDay(2025, time.March, 10)
	require.NoError(t, store.AddDrawLines(ctx,
		line("draw-1", day, "agent-1", "branch-1", "bank-1", "100"),
	))

	err := orch.OnDrawEvaluated(ctx, "draw-1", day)
	require.Error(t, err)

	var partial *reconcile.PartialFailureError
	require.ErrorAs(t, err, &partial)
	assert.Equal(t, 1, partial.Failed)
	assert.Equal(t, 4, partial.Succeeded)

	// The healthy scopes still landed.
	branch, gerr := store.Get(ctx, ledger.StatementKey{
		Date:  day,
		Scope: ledger.SingleScope(ledger.DimensionBranch, "branch-1"),
	})
	require.NoError(t, gerr)
	assert.True(t, branch.AccumulatedBalance.Equal(ledger.MustDecimal("100")))
}
