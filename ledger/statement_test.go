package ledger_test

import (
	"context"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/statement-engine/ledger"
	"github.com/warp/statement-engine/store/memory"
)

// conflictingStore fails Update a fixed number of times before
// delegating, simulating concurrent writers racing on the version.
type conflictingStore struct {
	*memory.Store
	conflicts int32
}

func (s *conflictingStore) Update(ctx context.Context, id string, version int64, fields ledger.StatementFields) error {
	if atomic.AddInt32(&s.conflicts, -1) >= 0 {
		return ledger.ErrWriteConflict
	}
	return s.Store.Update(ctx, id, version, fields)
}

func newTestWriter(t *testing.T, conflicts int32) (*ledger.StatementWriter, *conflictingStore) {
	t.Helper()
	store := &conflictingStore{Store: memory.New(), conflicts: conflicts}
	log := logrus.New()
	log.SetOutput(io.Discard)
	w := ledger.NewStatementWriter(store, log)
	w.BaseBackoff = time.Millisecond
	return w, store
}

func testFields(accumulated string) ledger.StatementFields {
	totals := ledger.ZeroTotals()
	totals.Sales = ledger.MustDecimal(accumulated)
	totals.TicketCount = 1
	return ledger.StatementFields{
		Totals:             totals,
		DailyBalance:       ledger.MustDecimal(accumulated),
		AccumulatedBalance: ledger.MustDecimal(accumulated),
	}
}

// =============================================================================
// WRITE DISCIPLINE
// =============================================================================

func TestStatementWriter_CreatesThenUpdates(t *testing.T) {
	w, store := newTestWriter(t, 0)
	ctx := context.Background()

	key := ledger.StatementKey{
		Date:  ledger.NewDay(2025, time.March, 10),
		Scope: agentScope(),
	}

	st, err := w.Write(ctx, key, testFields("70"))
	require.NoError(t, err)
	assert.True(t, st.AccumulatedBalance.Equal(ledger.MustDecimal("70")))

	again, err := w.Write(ctx, key, testFields("90"))
	require.NoError(t, err)
	assert.Equal(t, st.ID, again.ID)
	assert.True(t, again.AccumulatedBalance.Equal(ledger.MustDecimal("90")))

	stored, err := store.Get(ctx, key)
	require.NoError(t, err)
	assert.True(t, stored.AccumulatedBalance.Equal(ledger.MustDecimal("90")))
}

func TestStatementWriter_RetriesThroughConflicts(t *testing.T) {
	// GIVEN: the first two update attempts hit a version conflict
	// WHEN: writing
	// THEN: the third attempt lands and the write succeeds

	w, _ := newTestWriter(t, 2)
	ctx := context.Background()

	key := ledger.StatementKey{
		Date:  ledger.NewDay(2025, time.March, 10),
		Scope: agentScope(),
	}

	st, err := w.Write(ctx, key, testFields("70"))
	require.NoError(t, err)
	assert.True(t, st.AccumulatedBalance.Equal(ledger.MustDecimal("70")))
}

func TestStatementWriter_ExhaustionSurfacesConflict(t *testing.T) {
	// GIVEN: conflicts on every attempt
	// WHEN: writing
	// THEN: a ConflictExhaustedError wrapping ErrWriteConflict comes back

	w, _ := newTestWriter(t, 100)
	ctx := context.Background()

	key := ledger.StatementKey{
		Date:  ledger.NewDay(2025, time.March, 10),
		Scope: agentScope(),
	}

	_, err := w.Write(ctx, key, testFields("70"))
	require.Error(t, err)

	var exhausted *ledger.ConflictExhaustedError
	assert.ErrorAs(t, err, &exhausted)
	assert.ErrorIs(t, err, ledger.ErrWriteConflict)
	assert.Equal(t, w.MaxAttempts, exhausted.Attempts)
}

func TestStatementWriter_ContextCancelStopsRetry(t *testing.T) {
	w, _ := newTestWriter(t, 100)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	key := ledger.StatementKey{
		Date:  ledger.NewDay(2025, time.March, 10),
		Scope: agentScope(),
	}

	_, err := w.Write(ctx, key, testFields("70"))
	assert.Error(t, err)
}

// =============================================================================
// EDITABILITY
// =============================================================================

func TestDailyStatement_SettledIsReadOnly(t *testing.T) {
	st := &ledger.DailyStatement{IsSettled: false}
	assert.True(t, st.CanEdit())

	st.IsSettled = true
	assert.False(t, st.CanEdit())
}
