/*
settlement.go - Settlement evaluation

PURPOSE:
  Decides whether a day's statement is settled (closed, non-editable).
  The policy itself is injected: the core only guarantees it is evaluated
  with the same inputs on every write path (initial computation,
  recomputation, propagation), so two recomputations of the same day with
  identical inputs never disagree on settlement status.

CONTRACT:
  A day with zero tickets and zero net movement is never auto-settled;
  such days require an explicit settlement action upstream.
*/
package ledger

import "github.com/shopspring/decimal"

// SettlementInput is everything a policy may consult.
type SettlementInput struct {
	TicketCount        int
	AccumulatedBalance decimal.Decimal
	TotalPaid          decimal.Decimal
	TotalCollected     decimal.Decimal
}

// SettlementPolicy is a pure predicate over a day's figures.
type SettlementPolicy func(SettlementInput) bool

// DefaultSettlementPolicy settles a day that had activity and whose
// accumulated balance cleared to exactly zero. Zero-activity days are
// never auto-settled, per the contract above.
func DefaultSettlementPolicy(in SettlementInput) bool {
	hadActivity := in.TicketCount > 0 ||
		!in.TotalPaid.IsZero() || !in.TotalCollected.IsZero()
	return hadActivity && in.AccumulatedBalance.IsZero()
}

// NeverSettle is a policy for deployments where settlement is driven
// entirely by explicit administrative action.
func NeverSettle(SettlementInput) bool { return false }
