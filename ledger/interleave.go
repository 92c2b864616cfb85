/*
interleave.go - Chronological merge of a day's events with running balances

PURPOSE:
  Merges a day's draw lines and movements into one ordered sequence and
  attaches a running balance to every line. The last line's running
  balance IS the day's accumulated balance - downstream never recomputes
  it from a separate sum.

ORDERING:
  - Primary key: scheduling timestamp, ascending
  - Movements without a time-of-day sort at start-of-day, before any draw
  - Exact ties preserve stable input order via an explicit sequence index
    assigned at ingestion (stable sort, never an unstable resort)

BALANCE:
  runningBalance(i) = runningBalance(i-1) + signed contribution of line i,
  seeded with the day's initial accumulated balance. A day with zero lines
  leaves the seed unchanged (pure carry-forward).

SEE ALSO:
  - accumulate.go: supplies the seed and persists the result
*/
package ledger

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// LEDGER LINES
// =============================================================================

type LineKind string

const (
	LineDraw     LineKind = "draw"
	LineMovement LineKind = "movement"
)

// LedgerLine is one entry of the interleaved day ledger: either a draw
// settlement or a movement, tagged with its kind and carrying the balance
// immediately after it is applied. Derived and transient - never persisted.
type LedgerLine struct {
	Kind LineKind

	// At is the effective ordering timestamp; Seq breaks exact ties by
	// preserving ingestion order.
	At  time.Time
	Seq int

	Draw     *DrawSettlementLine
	Movement *MovementRecord

	Delta          decimal.Decimal
	RunningBalance decimal.Decimal
}

// DayLedger is the ordered ledger of one (day, entity scope).
type DayLedger struct {
	Date  Day
	Seed  decimal.Decimal
	Lines []LedgerLine
}

// AccumulatedBalance is the running balance after the last line, or the
// seed unchanged for an empty day. This value is the single source of
// truth for the day's accumulated balance.
func (dl DayLedger) AccumulatedBalance() decimal.Decimal {
	if len(dl.Lines) == 0 {
		return dl.Seed
	}
	return dl.Lines[len(dl.Lines)-1].RunningBalance
}

// =============================================================================
// INTERLEAVER
// =============================================================================

// Interleave merges the day's activity into an ordered ledger seeded with
// the day's initial accumulated balance.
//
// Sequence indexes are assigned at ingestion: timeless movements first (they
// sort at start-of-day, before any draw), then draws and timed movements in
// input order. The stable sort by timestamp then guarantees ties keep that
// order.
func Interleave(a *DayActivity, seed decimal.Decimal) DayLedger {
	startOfDay := a.Date.StartOfDay()
	lines := make([]LedgerLine, 0, len(a.Draws)+len(a.Movements))
	seq := 0

	for i := range a.Movements {
		m := &a.Movements[i]
		if m.At != nil {
			continue
		}
		lines = append(lines, LedgerLine{
			Kind:     LineMovement,
			At:       startOfDay,
			Seq:      seq,
			Movement: m,
			Delta:    m.NetContribution(),
		})
		seq++
	}
	for i := range a.Draws {
		d := &a.Draws[i]
		lines = append(lines, LedgerLine{
			Kind:  LineDraw,
			At:    d.ScheduledAt,
			Seq:   seq,
			Draw:  d,
			Delta: d.NetContribution(),
		})
		seq++
	}
	for i := range a.Movements {
		m := &a.Movements[i]
		if m.At == nil {
			continue
		}
		lines = append(lines, LedgerLine{
			Kind:     LineMovement,
			At:       *m.At,
			Seq:      seq,
			Movement: m,
			Delta:    m.NetContribution(),
		})
		seq++
	}

	sort.SliceStable(lines, func(i, j int) bool {
		if lines[i].At.Equal(lines[j].At) {
			return lines[i].Seq < lines[j].Seq
		}
		return lines[i].At.Before(lines[j].At)
	})

	balance := seed
	for i := range lines {
		balance = balance.Add(lines[i].Delta)
		lines[i].RunningBalance = balance
	}

	return DayLedger{Date: a.Date, Seed: seed, Lines: lines}
}
