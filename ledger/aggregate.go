/*
aggregate.go - Event aggregation into per-day, per-entity totals

PURPOSE:
  Turns raw draw lines and movements over a date range into grouped
  per-(day, entity) activity with numeric totals: sales, payouts,
  commission by recipient, paid, collected, ticket count.

RULES:
  - Only evaluated, non-excluded draw lines count (Countable)
  - Reversed movements are dropped entirely: zero in every total
  - Records that do not resolve to an entity at the requested dimension
    (a branch-level movement viewed at agent dimension) are skipped
  - An empty result is a valid zero-activity answer, never an error

SIDE EFFECTS: none. Aggregation is read-only.

SEE ALSO:
  - interleave.go: consumes a day's grouped activity
  - accumulate.go: drives aggregation for statement computation
*/
package ledger

import (
	"context"

	"github.com/shopspring/decimal"
)

// =============================================================================
// TOTALS
// =============================================================================

// DayTotals are one day's aggregated figures for one entity scope.
type DayTotals struct {
	Sales            decimal.Decimal
	Payouts          decimal.Decimal
	BranchCommission decimal.Decimal
	AgentCommission  decimal.Decimal
	Paid             decimal.Decimal
	Collected        decimal.Decimal
	TicketCount      int
}

// ZeroTotals returns totals with every amount initialized to zero, so a
// no-activity day serializes as 0 rather than a null decimal.
func ZeroTotals() DayTotals {
	z := decimal.Zero
	return DayTotals{Sales: z, Payouts: z, BranchCommission: z,
		AgentCommission: z, Paid: z, Collected: z}
}

// DailyBalance is the day's net contribution:
// sales - payouts - commission + paid - collected.
func (t DayTotals) DailyBalance() decimal.Decimal {
	return t.Sales.Sub(t.Payouts).
		Sub(t.BranchCommission).Sub(t.AgentCommission).
		Add(t.NetMovement())
}

// NetMovement is paid - collected.
func (t DayTotals) NetMovement() decimal.Decimal {
	return t.Paid.Sub(t.Collected)
}

// HasActivity reports whether anything happened on the day.
func (t DayTotals) HasActivity() bool {
	return t.TicketCount > 0 ||
		!t.Paid.IsZero() || !t.Collected.IsZero() ||
		!t.Sales.IsZero() || !t.Payouts.IsZero()
}

// Add merges another day's totals in (used for consolidated scopes).
func (t DayTotals) Add(o DayTotals) DayTotals {
	return DayTotals{
		Sales:            t.Sales.Add(o.Sales),
		Payouts:          t.Payouts.Add(o.Payouts),
		BranchCommission: t.BranchCommission.Add(o.BranchCommission),
		AgentCommission:  t.AgentCommission.Add(o.AgentCommission),
		Paid:             t.Paid.Add(o.Paid),
		Collected:        t.Collected.Add(o.Collected),
		TicketCount:      t.TicketCount + o.TicketCount,
	}
}

// =============================================================================
// ACTIVITY - a day's raw material for one entity
// =============================================================================

// DayActivity holds one entity's countable draw lines and live movements
// for one day, ready for interleaving.
type DayActivity struct {
	Date      Day
	EntityID  EntityID
	Draws     []DrawSettlementLine
	Movements []MovementRecord
}

// Totals folds the activity into numeric totals.
func (a *DayActivity) Totals() DayTotals {
	t := ZeroTotals()
	for _, d := range a.Draws {
		t.Sales = t.Sales.Add(d.Sales)
		t.Payouts = t.Payouts.Add(d.Payout)
		t.BranchCommission = t.BranchCommission.Add(d.BranchCommission)
		t.AgentCommission = t.AgentCommission.Add(d.AgentCommission)
		t.TicketCount += d.TicketCount
	}
	for _, m := range a.Movements {
		if m.Kind == MovementCollection {
			t.Collected = t.Collected.Add(m.Amount)
		} else {
			t.Paid = t.Paid.Add(m.Amount)
		}
	}
	return t
}

// Empty reports whether the day has no lines at all (pure carry-forward).
func (a *DayActivity) Empty() bool {
	return len(a.Draws) == 0 && len(a.Movements) == 0
}

// =============================================================================
// ACTIVITY INDEX
// =============================================================================

// ActivityByDay indexes activity by day, then by entity.
type ActivityByDay map[Day]map[EntityID]*DayActivity

// For returns the activity for (day, entity), or an empty activity when the
// entity had nothing that day. Never nil.
func (ix ActivityByDay) For(day Day, id EntityID) *DayActivity {
	if byEntity, ok := ix[day]; ok {
		if a, ok := byEntity[id]; ok {
			return a
		}
	}
	return &DayActivity{Date: day, EntityID: id}
}

func (ix ActivityByDay) add(day Day, id EntityID) *DayActivity {
	byEntity, ok := ix[day]
	if !ok {
		byEntity = map[EntityID]*DayActivity{}
		ix[day] = byEntity
	}
	a, ok := byEntity[id]
	if !ok {
		a = &DayActivity{Date: day, EntityID: id}
		byEntity[id] = a
	}
	return a
}

// =============================================================================
// AGGREGATOR
// =============================================================================

// Aggregator groups raw events per day and entity at a dimension.
// Read-only; upstream read errors propagate to the caller untouched.
type Aggregator struct {
	Draws     DrawSource
	Movements MovementSource
}

func NewAggregator(draws DrawSource, movements MovementSource) *Aggregator {
	return &Aggregator{Draws: draws, Movements: movements}
}

// Activity reads and groups all events in the range at the given dimension.
// A non-nil entity restricts the read to that entity.
func (ag *Aggregator) Activity(ctx context.Context, r DateRange, dim Dimension, entity *EntityID) (ActivityByDay, error) {
	lines, err := ag.Draws.DrawSettlements(ctx, r, dim, entity)
	if err != nil {
		return nil, err
	}
	movements, err := ag.Movements.Movements(ctx, r, dim, entity)
	if err != nil {
		return nil, err
	}

	ix := ActivityByDay{}
	for _, l := range lines {
		if !l.Countable() {
			continue
		}
		id := l.EntityAt(dim)
		if id == "" || !r.Contains(l.Date) {
			continue
		}
		a := ix.add(l.Date, id)
		a.Draws = append(a.Draws, l)
	}
	for _, m := range movements {
		if m.Reversed {
			continue
		}
		id := m.EntityAt(dim)
		if id == "" || !r.Contains(m.Date) {
			continue
		}
		a := ix.add(m.Date, id)
		a.Movements = append(a.Movements, m)
	}
	return ix, nil
}
