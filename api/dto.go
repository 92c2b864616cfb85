/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

MONEY:
  All monetary amounts cross the wire as decimal strings ("125.40"),
  never floats. shopspring/decimal parses and renders them exactly.

VALIDATION:
  Validation is done in handlers, not in DTOs. DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
  - ledger/statement.go: the domain model these project
*/
package api

import (
	"time"

	"github.com/warp/statement-engine/ledger"
)

// =============================================================================
// REQUEST TYPES
// =============================================================================

// DrawLineRequest is one settlement line of a draw being ingested.
type DrawLineRequest struct {
	AgentID          string `json:"agent_id"`
	BranchID         string `json:"branch_id"`
	BankID           string `json:"bank_id"`
	ScheduledAt      string `json:"scheduled_at"` // RFC3339
	Sales            string `json:"sales"`
	Payout           string `json:"payout"`
	BranchCommission string `json:"branch_commission"`
	AgentCommission  string `json:"agent_commission"`
	TicketCount      int    `json:"ticket_count"`
}

// IngestDrawRequest registers the settlement lines of one draw.
type IngestDrawRequest struct {
	DrawID string            `json:"draw_id"`
	Date   string            `json:"date"` // YYYY-MM-DD
	Lines  []DrawLineRequest `json:"lines"`
}

// DrawStateRequest flips a draw's lifecycle state and triggers
// recomputation of every affected statement.
type DrawStateRequest struct {
	DrawID string `json:"draw_id"`
	Date   string `json:"date"`
}

// MovementRequest registers a manual cash movement.
type MovementRequest struct {
	Date     string `json:"date"`
	Kind     string `json:"kind"` // "payment" or "collection"
	Amount   string `json:"amount"`
	AgentID  string `json:"agent_id,omitempty"`
	BranchID string `json:"branch_id"`
	BankID   string `json:"bank_id"`
	At       string `json:"at,omitempty"` // RFC3339; empty sorts at start of day
}

// BulkRecomputeRequest rebuilds a scope's statements over a date range.
type BulkRecomputeRequest struct {
	Dimension string `json:"dimension"`
	EntityID  string `json:"entity_id"`
	Grouping  string `json:"grouping"`
	From      string `json:"from"`
	To        string `json:"to"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

// StatementDTO is a daily statement in API responses.
type StatementDTO struct {
	ID                 string `json:"id"`
	Date               string `json:"date"`
	Dimension          string `json:"dimension"`
	EntityID           string `json:"entity_id"`
	Grouping           string `json:"grouping"`
	TotalSales         string `json:"total_sales"`
	TotalPayouts       string `json:"total_payouts"`
	BranchCommission   string `json:"branch_commission"`
	AgentCommission    string `json:"agent_commission"`
	TotalPaid          string `json:"total_paid"`
	TotalCollected     string `json:"total_collected"`
	DailyBalance       string `json:"daily_balance"`
	AccumulatedBalance string `json:"accumulated_balance"`
	TicketCount        int    `json:"ticket_count"`
	IsSettled          bool   `json:"is_settled"`
	Version            int64  `json:"version"`
	UpdatedAt          string `json:"updated_at,omitempty"`
}

// LedgerLineDTO is one interleaved line of a day's ledger view.
type LedgerLineDTO struct {
	Kind           string `json:"kind"` // "draw" or "movement"
	At             string `json:"at"`
	Reference      string `json:"reference"` // draw ID or movement ID
	Delta          string `json:"delta"`
	RunningBalance string `json:"running_balance"`
}

// LedgerDTO is the chronological ledger of one (scope, day).
type LedgerDTO struct {
	Date               string          `json:"date"`
	OpeningBalance     string          `json:"opening_balance"`
	Lines              []LedgerLineDTO `json:"lines"`
	AccumulatedBalance string          `json:"accumulated_balance"`
}

// MovementDTO is a stored movement in API responses.
type MovementDTO struct {
	ID       string `json:"id"`
	Date     string `json:"date"`
	Kind     string `json:"kind"`
	Amount   string `json:"amount"`
	AgentID  string `json:"agent_id,omitempty"`
	BranchID string `json:"branch_id"`
	BankID   string `json:"bank_id"`
	At       string `json:"at,omitempty"`
	Reversed bool   `json:"reversed"`
}

// ClosingDTO is a monthly closing in API responses.
type ClosingDTO struct {
	Dimension string `json:"dimension"`
	EntityID  string `json:"entity_id"`
	Grouping  string `json:"grouping"`
	Month     string `json:"month"`
	Balance   string `json:"balance"`
	Settled   bool   `json:"settled"`
}

// RecomputeResponse reports the outcome of a recomputation trigger.
type RecomputeResponse struct {
	Status   string   `json:"status"` // "ok" or "partial"
	Failures []string `json:"failures,omitempty"`
}

// ScenarioDTO describes a loadable demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category"`
}

// ErrorResponse is the JSON error envelope.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERTERS
// =============================================================================

func toStatementDTO(st *ledger.DailyStatement) StatementDTO {
	dto := StatementDTO{
		ID:                 st.ID,
		Date:               st.Date.String(),
		Dimension:          string(st.Scope.Dimension),
		EntityID:           string(st.Scope.EntityID),
		Grouping:           string(st.Scope.Grouping),
		TotalSales:         st.TotalSales.String(),
		TotalPayouts:       st.TotalPayouts.String(),
		BranchCommission:   st.BranchCommission.String(),
		AgentCommission:    st.AgentCommission.String(),
		TotalPaid:          st.TotalPaid.String(),
		TotalCollected:     st.TotalCollected.String(),
		DailyBalance:       st.DailyBalance.String(),
		AccumulatedBalance: st.AccumulatedBalance.String(),
		TicketCount:        st.TicketCount,
		IsSettled:          st.IsSettled,
		Version:            st.Version,
	}
	if !st.UpdatedAt.IsZero() {
		dto.UpdatedAt = st.UpdatedAt.Format(time.RFC3339)
	}
	return dto
}

func toLedgerDTO(dl ledger.DayLedger) LedgerDTO {
	lines := make([]LedgerLineDTO, len(dl.Lines))
	for i, l := range dl.Lines {
		ref := ""
		switch {
		case l.Draw != nil:
			ref = l.Draw.DrawID
		case l.Movement != nil:
			ref = l.Movement.ID
		}
		lines[i] = LedgerLineDTO{
			Kind:           string(l.Kind),
			At:             l.At.Format(time.RFC3339),
			Reference:      ref,
			Delta:          l.Delta.String(),
			RunningBalance: l.RunningBalance.String(),
		}
	}
	return LedgerDTO{
		Date:               dl.Date.String(),
		OpeningBalance:     dl.Seed.String(),
		Lines:              lines,
		AccumulatedBalance: dl.AccumulatedBalance().String(),
	}
}

func toMovementDTO(m ledger.MovementRecord) MovementDTO {
	dto := MovementDTO{
		ID:       m.ID,
		Date:     m.Date.String(),
		Kind:     string(m.Kind),
		Amount:   m.Amount.String(),
		AgentID:  string(m.AgentID),
		BranchID: string(m.BranchID),
		BankID:   string(m.BankID),
		Reversed: m.Reversed,
	}
	if m.At != nil {
		dto.At = m.At.Format(time.RFC3339)
	}
	return dto
}

func toClosingDTO(c *ledger.MonthlyClosing) ClosingDTO {
	return ClosingDTO{
		Dimension: string(c.Scope.Dimension),
		EntityID:  string(c.Scope.EntityID),
		Grouping:  string(c.Scope.Grouping),
		Month:     c.Month.String(),
		Balance:   c.Balance.String(),
		Settled:   c.Settled,
	}
}
