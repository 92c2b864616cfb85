/*
events.go - Raw input records and their source interfaces

PURPOSE:
  Defines the two read-only event kinds the engine reconciles:

    DrawSettlementLine - one draw's settled figures for one agent/day
    MovementRecord     - one manual cash payment or collection

  plus the boundary interfaces through which the core reads them. The
  engine never owns these records; upstream settlement and cashiering
  produce them, the core only aggregates and interleaves.

RULES ENCODED HERE:
  - Only evaluated, non-excluded draw lines count toward totals
  - A ticket's payout counts once per ticket (a multi-line winning ticket
    is never summed per line), enforced by BuildSettlementLine
  - A reversed movement contributes zero to everything

SEE ALSO:
  - aggregate.go: groups these records into per-day totals
  - interleave.go: orders them into the ledger
*/
package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// DRAW SETTLEMENT LINES
// =============================================================================

// DrawState is the lifecycle state of the draw a line belongs to. Only
// evaluated draws contribute to statements.
type DrawState string

const (
	DrawPending   DrawState = "pending"
	DrawEvaluated DrawState = "evaluated"
	DrawReverted  DrawState = "reverted"
)

// DrawSettlementLine is one draw's settled figures for one agent on one day.
// Read-only input: the core never mutates or re-derives these amounts.
type DrawSettlementLine struct {
	DrawID   string
	Date     Day
	AgentID  EntityID
	BranchID EntityID
	BankID   EntityID

	// ScheduledAt orders the line inside the day's ledger.
	ScheduledAt time.Time

	Sales            decimal.Decimal
	Payout           decimal.Decimal
	BranchCommission decimal.Decimal
	AgentCommission  decimal.Decimal
	TicketCount      int

	State    DrawState
	Excluded bool // administratively excluded from statements
}

// EntityAt returns the line's owning entity at the given hierarchy level.
func (l DrawSettlementLine) EntityAt(dim Dimension) EntityID {
	switch dim {
	case DimensionBank:
		return l.BankID
	case DimensionBranch:
		return l.BranchID
	default:
		return l.AgentID
	}
}

// Countable reports whether the line participates in statement totals.
func (l DrawSettlementLine) Countable() bool {
	return l.State == DrawEvaluated && !l.Excluded
}

// NetContribution is the line's signed ledger contribution:
// sales - payouts - commission (both recipient roles).
func (l DrawSettlementLine) NetContribution() decimal.Decimal {
	return l.Sales.Sub(l.Payout).Sub(l.BranchCommission).Sub(l.AgentCommission)
}

// =============================================================================
// TICKET SETTLEMENT - payout counted once per winning ticket
// =============================================================================

// TicketResult is the evaluated outcome of one ticket, as reported by the
// draw-evaluation collaborator. Plays are the individual lines on the ticket.
type TicketResult struct {
	TicketID    string
	Sales       decimal.Decimal
	PlayPayouts []decimal.Decimal // payout per play; zero for losing plays
	TotalPayout decimal.Decimal   // ticket-level payout, authoritative
}

// HasWinningPlay reports whether at least one play on the ticket won.
func (t TicketResult) HasWinningPlay() bool {
	for _, p := range t.PlayPayouts {
		if p.IsPositive() {
			return true
		}
	}
	return false
}

// BuildSettlementLine folds evaluated tickets into a settlement line.
// Sales sums every ticket; payout sums the ticket-level payout of tickets
// with at least one winning play, exactly once per ticket. Commission is
// supplied by the commission-policy collaborator per line item.
func BuildSettlementLine(drawID string, date Day, scheduledAt time.Time,
	agent, branch, bank EntityID, tickets []TicketResult,
	branchCommission, agentCommission decimal.Decimal) DrawSettlementLine {

	sales := decimal.Zero
	payout := decimal.Zero
	for _, t := range tickets {
		sales = sales.Add(t.Sales)
		if t.HasWinningPlay() {
			payout = payout.Add(t.TotalPayout)
		}
	}
	return DrawSettlementLine{
		DrawID:           drawID,
		Date:             date,
		AgentID:          agent,
		BranchID:         branch,
		BankID:           bank,
		ScheduledAt:      scheduledAt,
		Sales:            sales,
		Payout:           payout,
		BranchCommission: branchCommission,
		AgentCommission:  agentCommission,
		TicketCount:      len(tickets),
		State:            DrawEvaluated,
	}
}

// =============================================================================
// MOVEMENTS
// =============================================================================

type MovementKind string

const (
	MovementPayment    MovementKind = "payment"
	MovementCollection MovementKind = "collection"
)

// MovementRecord is one manual cash movement against an entity/day.
// Read-only input to the core.
type MovementRecord struct {
	ID       string
	Date     Day
	Kind     MovementKind
	Amount   decimal.Decimal
	AgentID  EntityID // empty when registered above agent level
	BranchID EntityID
	BankID   EntityID

	// At is the movement's time of day, when recorded. Movements without a
	// time sort at start-of-day, before any draw.
	At *time.Time

	Reversed bool
}

// EntityAt returns the movement's owning entity at the given level.
// A movement registered at branch level has no agent; it simply does not
// appear in agent-scoped statements.
func (m MovementRecord) EntityAt(dim Dimension) EntityID {
	switch dim {
	case DimensionBank:
		return m.BankID
	case DimensionBranch:
		return m.BranchID
	default:
		return m.AgentID
	}
}

// NetContribution is the movement's signed ledger contribution:
// payments add to the balance, collections subtract. Reversed movements
// contribute zero everywhere and are filtered out before this is called.
func (m MovementRecord) NetContribution() decimal.Decimal {
	if m.Kind == MovementCollection {
		return m.Amount.Neg()
	}
	return m.Amount
}

// =============================================================================
// SOURCE INTERFACES - how the core reads events
// =============================================================================

// DrawSource reads settled draw lines. Implementations own the storage; the
// core only ever reads.
type DrawSource interface {
	// DrawSettlements returns every line in the range at the given dimension.
	// A non-nil entity restricts to that single entity. An empty result is a
	// valid no-activity answer, not an error.
	DrawSettlements(ctx context.Context, r DateRange, dim Dimension, entity *EntityID) ([]DrawSettlementLine, error)

	// DrawParticipants returns the lines of one draw on one day, from which
	// the orchestrator derives every affected agent, branch and bank.
	DrawParticipants(ctx context.Context, drawID string, date Day) ([]DrawSettlementLine, error)
}

// MovementSource reads cash movements, reversed ones included; the
// aggregator filters those out.
type MovementSource interface {
	Movements(ctx context.Context, r DateRange, dim Dimension, entity *EntityID) ([]MovementRecord, error)
}

// HierarchySource resolves the children of a consolidated scope: the
// branches of a bank, or the agents of a branch.
type HierarchySource interface {
	Children(ctx context.Context, dim Dimension, id EntityID) ([]EntityID, error)
}

// ChildDimension returns the level below dim, or "" for agents.
func ChildDimension(dim Dimension) Dimension {
	switch dim {
	case DimensionBank:
		return DimensionBranch
	case DimensionBranch:
		return DimensionAgent
	default:
		return ""
	}
}
