package ledger_test

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/statement-engine/ledger"
	"github.com/warp/statement-engine/store/memory"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestEngine(t *testing.T) (*ledger.Engine, *memory.Store) {
	t.Helper()
	store := memory.New()

	log := logrus.New()
	log.SetOutput(io.Discard)

	agg := ledger.NewAggregator(store, store)
	writer := ledger.NewStatementWriter(store, log)
	resolver := ledger.NewClosingResolver(store, store, agg, store, log)
	engine := ledger.NewEngine(agg, store, writer, resolver, store, nil, log)
	return engine, store
}

func agentScope() ledger.Scope {
	return ledger.SingleScope(ledger.DimensionAgent, "agent-1")
}

func mustRange(t *testing.T, from, to ledger.Day) ledger.DateRange {
	t.Helper()
	r, err := ledger.NewDateRange(from, to)
	require.NoError(t, err)
	return r
}

// =============================================================================
// ACCUMULATION INVARIANT
// =============================================================================

func TestEngine_AccumulationCarriesDayOverDay(t *testing.T) {
	// GIVEN: draws on three consecutive days
	// WHEN: syncing the range
	// THEN: accumulated(d) = accumulated(d-1) + daily(d) on every day

	engine, store := newTestEngine(t)
	ctx := context.Background()

	d1 := ledger.NewDay(2025, time.March, 10)
	d2 := d1.Next()
	d3 := d2.Next()
	seedDraws(t, store,
		drawLine("draw-1", d1, at(d1, 10, 0), "100", "30"), // +70
		drawLine("draw-2", d2, at(d2, 10, 0), "50", "80"),  // -30
		drawLine("draw-3", d3, at(d3, 10, 0), "10", "0"),   // +10
	)

	sts, err := engine.SyncRange(ctx, agentScope(), mustRange(t, d1, d3))
	require.NoError(t, err)
	require.Len(t, sts, 3)

	assert.True(t, sts[0].AccumulatedBalance.Equal(ledger.MustDecimal("70")))
	assert.True(t, sts[1].AccumulatedBalance.Equal(ledger.MustDecimal("40")))
	assert.True(t, sts[2].AccumulatedBalance.Equal(ledger.MustDecimal("50")))

	for i := 1; i < len(sts); i++ {
		want := sts[i-1].AccumulatedBalance.Add(sts[i].DailyBalance)
		assert.True(t, sts[i].AccumulatedBalance.Equal(want),
			"day %s: accumulated should be previous + daily", sts[i].Date)
	}
}

func TestEngine_ZeroActivityDayCarriesForward(t *testing.T) {
	// GIVEN: activity on day 1, nothing on day 2
	// WHEN: syncing both days
	// THEN: day 2 persists with zero daily balance and day 1's accumulated

	engine, store := newTestEngine(t)
	ctx := context.Background()

	d1 := ledger.NewDay(2025, time.March, 10)
	d2 := d1.Next()
	seedDraws(t, store, drawLine("draw-1", d1, at(d1, 10, 0), "100", "0"))

	sts, err := engine.SyncRange(ctx, agentScope(), mustRange(t, d1, d2))
	require.NoError(t, err)
	require.Len(t, sts, 2)

	assert.True(t, sts[1].DailyBalance.IsZero())
	assert.True(t, sts[1].AccumulatedBalance.Equal(ledger.MustDecimal("100")))
	assert.Equal(t, 0, sts[1].TicketCount)
}

func TestEngine_ResyncIsIdempotent(t *testing.T) {
	// GIVEN: a synced day
	// WHEN: syncing it again with unchanged sources
	// THEN: same row (same ID), same figures, bumped version

	engine, store := newTestEngine(t)
	ctx := context.Background()

	d1 := ledger.NewDay(2025, time.March, 10)
	seedDraws(t, store, drawLine("draw-1", d1, at(d1, 10, 0), "100", "30"))

	first, err := engine.SyncRange(ctx, agentScope(), mustRange(t, d1, d1))
	require.NoError(t, err)
	second, err := engine.SyncRange(ctx, agentScope(), mustRange(t, d1, d1))
	require.NoError(t, err)

	assert.Equal(t, first[0].ID, second[0].ID, "recomputation mutates, never duplicates")
	assert.True(t, first[0].AccumulatedBalance.Equal(second[0].AccumulatedBalance))
	assert.Greater(t, second[0].Version, first[0].Version)
}

func TestEngine_CorrectionPropagatesThroughResync(t *testing.T) {
	// GIVEN: three synced days
	// WHEN: a draw on day 1 is reverted and the full span is resynced
	// THEN: every later day's accumulated balance shifts by the reversal

	engine, store := newTestEngine(t)
	ctx := context.Background()

	d1 := ledger.NewDay(2025, time.March, 10)
	d3 := d1.AddDays(2)
	seedDraws(t, store,
		drawLine("draw-1", d1, at(d1, 10, 0), "100", "0"),
		drawLine("draw-2", d3, at(d3, 10, 0), "10", "0"),
	)
	_, err := engine.SyncRange(ctx, agentScope(), mustRange(t, d1, d3))
	require.NoError(t, err)

	require.NoError(t, store.SetDrawState(ctx, "draw-1", ledger.DrawReverted))
	sts, err := engine.SyncRange(ctx, agentScope(), mustRange(t, d1, d3))
	require.NoError(t, err)

	assert.True(t, sts[0].AccumulatedBalance.IsZero())
	assert.True(t, sts[2].AccumulatedBalance.Equal(ledger.MustDecimal("10")),
		"got %s", sts[2].AccumulatedBalance)
}

// =============================================================================
// MONTH BOUNDARY
// =============================================================================

func TestEngine_MonthOpeningSeedsFromClosing(t *testing.T) {
	// GIVEN: January closed at 100 (settled closing record)
	//        Feb 1 has daily balance -20, Feb 2 has +50
	// WHEN: syncing February
	// THEN: Feb 1 accumulates to 80, Feb 2 to 130; the carry is a seed,
	//       not a ledger line

	engine, store := newTestEngine(t)
	ctx := context.Background()

	jan := ledger.Month{Year: 2025, Month: time.January}
	require.NoError(t, store.SaveClosing(ctx, ledger.MonthlyClosing{
		Scope:   agentScope(),
		Month:   jan,
		Balance: ledger.MustDecimal("100"),
		Settled: true,
	}))

	feb1 := ledger.NewDay(2025, time.February, 1)
	feb2 := feb1.Next()
	seedDraws(t, store,
		drawLine("draw-1", feb1, at(feb1, 10, 0), "30", "50"), // -20
		drawLine("draw-2", feb2, at(feb2, 10, 0), "50", "0"),  // +50
	)

	sts, err := engine.SyncRange(ctx, agentScope(), mustRange(t, feb1, feb2))
	require.NoError(t, err)
	require.Len(t, sts, 2)

	assert.True(t, sts[0].DailyBalance.Equal(ledger.MustDecimal("-20")))
	assert.True(t, sts[0].AccumulatedBalance.Equal(ledger.MustDecimal("80")))
	assert.True(t, sts[1].AccumulatedBalance.Equal(ledger.MustDecimal("130")))

	// The carry never materializes as a line.
	dl, err := engine.LedgerFor(ctx, agentScope(), feb1)
	require.NoError(t, err)
	require.Len(t, dl.Lines, 1)
	assert.True(t, dl.Seed.Equal(ledger.MustDecimal("100")))
}

func TestEngine_MonthBoundaryWithoutClosingFallsBackToStatements(t *testing.T) {
	// GIVEN: no closing record, but January statements exist with the last
	//        settled one at 60
	// WHEN: syncing Feb 1
	// THEN: the opening seed resolves through the last settled statement

	engine, store := newTestEngine(t)
	ctx := context.Background()

	jan31 := ledger.NewDay(2025, time.January, 31)
	seedDraws(t, store, drawLine("draw-1", jan31, at(jan31, 10, 0), "60", "0"))
	_, err := engine.SyncRange(ctx, agentScope(), mustRange(t, jan31, jan31))
	require.NoError(t, err)

	// Mark it settled so the resolver's statement path applies.
	st, err := store.Get(ctx, ledger.StatementKey{Date: jan31, Scope: agentScope()})
	require.NoError(t, err)
	fields := ledger.StatementFields{
		Totals:             st.Totals(),
		DailyBalance:       st.DailyBalance,
		AccumulatedBalance: st.AccumulatedBalance,
		IsSettled:          true,
	}
	require.NoError(t, store.Update(ctx, st.ID, st.Version, fields))

	feb1 := ledger.NewDay(2025, time.February, 1)
	sts, err := engine.SyncRange(ctx, agentScope(), mustRange(t, feb1, feb1))
	require.NoError(t, err)
	assert.True(t, sts[0].AccumulatedBalance.Equal(ledger.MustDecimal("60")))
}

func TestEngine_CarryCrossesEmptyMonth(t *testing.T) {
	// GIVEN: December closed settled at 100 and January had no events at all
	// WHEN: syncing February 1
	// THEN: the opening seed is still 100; an empty month does not reset
	//       the accumulated balance

	engine, store := newTestEngine(t)
	ctx := context.Background()

	dec := ledger.Month{Year: 2024, Month: time.December}
	require.NoError(t, store.SaveClosing(ctx, ledger.MonthlyClosing{
		Scope:   agentScope(),
		Month:   dec,
		Balance: ledger.MustDecimal("100"),
		Settled: true,
	}))

	feb1 := ledger.NewDay(2025, time.February, 1)
	seedDraws(t, store, drawLine("draw-1", feb1, at(feb1, 10, 0), "25", "0"))

	sts, err := engine.SyncRange(ctx, agentScope(), mustRange(t, feb1, feb1))
	require.NoError(t, err)
	assert.True(t, sts[0].AccumulatedBalance.Equal(ledger.MustDecimal("125")),
		"got %s", sts[0].AccumulatedBalance)
}

// =============================================================================
// SEED RESOLUTION GAPS
// =============================================================================

func TestEngine_GapSeedsFromLatestPersistedStatement(t *testing.T) {
	// GIVEN: day 10 synced at 70, days 11-14 never synced
	// WHEN: syncing day 15 alone
	// THEN: its seed is day 10's accumulated balance

	engine, store := newTestEngine(t)
	ctx := context.Background()

	d10 := ledger.NewDay(2025, time.March, 10)
	d15 := d10.AddDays(5)
	seedDraws(t, store,
		drawLine("draw-1", d10, at(d10, 10, 0), "70", "0"),
		drawLine("draw-2", d15, at(d15, 10, 0), "5", "0"),
	)

	_, err := engine.SyncRange(ctx, agentScope(), mustRange(t, d10, d10))
	require.NoError(t, err)

	sts, err := engine.SyncRange(ctx, agentScope(), mustRange(t, d15, d15))
	require.NoError(t, err)
	assert.True(t, sts[0].AccumulatedBalance.Equal(ledger.MustDecimal("75")),
		"got %s", sts[0].AccumulatedBalance)
}

func TestEngine_FirstEverDaySeedsFromZero(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()

	d1 := ledger.NewDay(2025, time.March, 10)
	seedDraws(t, store, drawLine("draw-1", d1, at(d1, 10, 0), "100", "40"))

	sts, err := engine.SyncRange(ctx, agentScope(), mustRange(t, d1, d1))
	require.NoError(t, err)
	assert.True(t, sts[0].AccumulatedBalance.Equal(ledger.MustDecimal("60")))
}

// =============================================================================
// CONSOLIDATED SCOPES
// =============================================================================

func TestEngine_ConsolidatedSumsIndependentChildren(t *testing.T) {
	// GIVEN: two agents under one branch with different histories
	// WHEN: syncing the branch consolidated scope
	// THEN: each day's consolidated accumulated balance is the sum of the
	//       children's independently accumulated balances

	engine, store := newTestEngine(t)
	ctx := context.Background()

	d1 := ledger.NewDay(2025, time.March, 10)
	d2 := d1.Next()

	a2 := drawLine("draw-1", d1, at(d1, 10, 0), "200", "0")
	a2.AgentID = "agent-2"
	b2 := drawLine("draw-2", d2, at(d2, 10, 0), "40", "0")
	b2.AgentID = "agent-2"
	seedDraws(t, store,
		drawLine("draw-1", d1, at(d1, 10, 0), "100", "30"), // agent-1: +70
		a2, // agent-2: +200
		b2, // agent-2 day 2: +40
	)

	scope := ledger.ConsolidatedScope(ledger.DimensionBranch, "branch-1")
	sts, err := engine.SyncRange(ctx, scope, mustRange(t, d1, d2))
	require.NoError(t, err)
	require.Len(t, sts, 2)

	assert.True(t, sts[0].AccumulatedBalance.Equal(ledger.MustDecimal("270")))
	assert.True(t, sts[1].AccumulatedBalance.Equal(ledger.MustDecimal("310")))

	// Child rows were persisted too.
	child, err := store.Get(ctx, ledger.StatementKey{
		Date:  d1,
		Scope: ledger.SingleScope(ledger.DimensionAgent, "agent-2"),
	})
	require.NoError(t, err)
	assert.True(t, child.AccumulatedBalance.Equal(ledger.MustDecimal("200")))
}

func TestEngine_ConsolidatedAgentScopeRejected(t *testing.T) {
	engine, _ := newTestEngine(t)

	scope := ledger.Scope{
		Dimension: ledger.DimensionAgent,
		EntityID:  "agent-1",
		Grouping:  ledger.GroupingConsolidated,
	}
	d1 := ledger.NewDay(2025, time.March, 10)
	_, err := engine.SyncRange(context.Background(), scope, mustRange(t, d1, d1))
	assert.ErrorIs(t, err, ledger.ErrInvalidScope)
}

// =============================================================================
// LEDGER VIEW
// =============================================================================

func TestEngine_LedgerForNeverPersists(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()

	d1 := ledger.NewDay(2025, time.March, 10)
	seedDraws(t, store, drawLine("draw-1", d1, at(d1, 10, 0), "100", "0"))

	dl, err := engine.LedgerFor(ctx, agentScope(), d1)
	require.NoError(t, err)
	require.Len(t, dl.Lines, 1)

	_, err = store.Get(ctx, ledger.StatementKey{Date: d1, Scope: agentScope()})
	assert.ErrorIs(t, err, ledger.ErrStatementNotFound)
}

// =============================================================================
// SETTLEMENT
// =============================================================================

func TestEngine_SettlesOnZeroBalanceWithActivity(t *testing.T) {
	// GIVEN: a day whose draw nets +70 and a collection of 70
	// WHEN: syncing
	// THEN: the statement is settled (activity, zero balance)

	engine, store := newTestEngine(t)
	ctx := context.Background()

	d1 := ledger.NewDay(2025, time.March, 10)
	seedDraws(t, store, drawLine("draw-1", d1, at(d1, 10, 0), "100", "30"))
	_, err := store.AddMovement(ctx, collection("", d1, "70", timePtr(at(d1, 18, 0))))
	require.NoError(t, err)

	sts, err := engine.SyncRange(ctx, agentScope(), mustRange(t, d1, d1))
	require.NoError(t, err)
	assert.True(t, sts[0].AccumulatedBalance.IsZero())
	assert.True(t, sts[0].IsSettled)
}

func TestEngine_NoActivityNeverSettles(t *testing.T) {
	engine, _ := newTestEngine(t)

	d1 := ledger.NewDay(2025, time.March, 10)
	sts, err := engine.SyncRange(context.Background(), agentScope(), mustRange(t, d1, d1))
	require.NoError(t, err)
	assert.False(t, sts[0].IsSettled, "zero balance without activity is not settlement")
}
