/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the store with realistic
	data for testing and demos. Each scenario ingests draws and cash
	movements and triggers the same recomputation path production events
	take, so the resulting statements are real engine output.

AVAILABLE SCENARIOS:

	single-agent-day:  One agent, one evaluated draw plus cash movements
	branch-network:    Three agents, two branches, consolidated rollups
	past-correction:   Late evaluation on a past day, forward propagation
	month-close:       Settled closing seeding the next month's opening

HOW SCENARIOS WORK:
 1. Reset store (clear all data)
 2. Ingest draw settlement lines (evaluated)
 3. Trigger orchestrator recomputation per event
 4. Optionally register movements and snapshot closings

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "branch-network"}

ADDING NEW SCENARIOS:
 1. Add to 'scenarios' slice with ID, name, description
 2. Create loader function: loadXxxScenario(ctx)
 3. Add case to LoadScenario handler

NOTE:

	Scenarios reset the store. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: the Handler these methods hang off
  - reconcile/orchestrator.go: the triggers the loaders drive
*/
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/warp/statement-engine/ledger"
	"github.com/warp/statement-engine/reconcile"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "single-agent-day",
		Name:        "Single Agent Day",
		Description: "One agent, one evaluated draw plus a payment and a collection on the same day",
		Category:    "basics",
	},
	{
		ID:          "branch-network",
		Name:        "Branch Network",
		Description: "Three agents across two branches with consolidated branch and bank statements",
		Category:    "hierarchy",
	},
	{
		ID:          "past-correction",
		Name:        "Past-Day Correction",
		Description: "A draw evaluated late on a past day, propagating through every later statement",
		Category:    "corrections",
	},
	{
		ID:          "month-close",
		Name:        "Month Close",
		Description: "Two months of activity with a settled closing seeding the next month's opening",
		Category:    "closings",
	},
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	if h.currentScenario == "" {
		writeJSON(w, http.StatusOK, nil)
		return
	}

	for _, s := range scenarios {
		if s.ID == h.currentScenario {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}

	// Scenario ID exists but not in list (shouldn't happen)
	writeJSON(w, http.StatusOK, ScenarioDTO{
		ID:          h.currentScenario,
		Name:        h.currentScenario,
		Description: "Currently loaded scenario",
	})
}

// LoadScenario loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ScenarioID string `json:"scenario_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	ctx := r.Context()

	// Reset first
	if err := h.Store.Reset(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset store", err)
		return
	}
	h.currentScenario = ""

	var err error
	switch req.ScenarioID {
	case "single-agent-day":
		err = h.loadSingleAgentDayScenario(ctx)
	case "branch-network":
		err = h.loadBranchNetworkScenario(ctx)
	case "past-correction":
		err = h.loadPastCorrectionScenario(ctx)
	case "month-close":
		err = h.loadMonthCloseScenario(ctx)
	default:
		writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
		return
	}

	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to load scenario: %v", err), err)
		return
	}

	h.currentScenario = req.ScenarioID
	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

// scenarioMonth anchors all scenario data in the month before the
// current one, so every scenario day is a past day and triggers the
// forward-propagation path the engine uses in production.
func scenarioMonth() ledger.Month {
	now := time.Now().UTC()
	return ledger.Month{Year: now.Year(), Month: now.Month()}.Prev()
}

func scenarioDraw(drawID string, date ledger.Day, hour int,
	agent, branch, bank, sales, payout, branchComm, agentComm string, tickets int) ledger.DrawSettlementLine {
	return ledger.DrawSettlementLine{
		DrawID:           drawID,
		Date:             date,
		AgentID:          ledger.EntityID(agent),
		BranchID:         ledger.EntityID(branch),
		BankID:           ledger.EntityID(bank),
		ScheduledAt:      date.StartOfDay().Add(time.Duration(hour) * time.Hour),
		Sales:            ledger.MustDecimal(sales),
		Payout:           ledger.MustDecimal(payout),
		BranchCommission: ledger.MustDecimal(branchComm),
		AgentCommission:  ledger.MustDecimal(agentComm),
		TicketCount:      tickets,
		State:            ledger.DrawEvaluated,
	}
}

// ingestDraw stores a draw's lines already evaluated and runs the same
// chain recomputation a real evaluation event triggers.
func (h *Handler) ingestDraw(ctx context.Context, date ledger.Day, lines ...ledger.DrawSettlementLine) error {
	if err := h.Store.AddDrawLines(ctx, lines...); err != nil {
		return err
	}
	return h.Orchestrator.OnDrawEvaluated(ctx, lines[0].DrawID, date)
}

func (h *Handler) registerMovement(ctx context.Context, m ledger.MovementRecord) error {
	stored, err := h.Store.AddMovement(ctx, m)
	if err != nil {
		return err
	}
	affected := reconcile.Affected{
		AgentID:  stored.AgentID,
		BranchID: stored.BranchID,
		BankID:   stored.BankID,
	}
	return h.Orchestrator.OnPaymentRegistered(ctx, affected, stored.Date)
}

func (h *Handler) loadSingleAgentDayScenario(ctx context.Context) error {
	day := scenarioMonth().FirstDay().AddDays(4)

	// Evening draw: 500 sales, 150 payout, 25 branch + 50 agent
	// commission. Net contribution 275.
	if err := h.ingestDraw(ctx, day,
		scenarioDraw("draw-nightly", day, 20,
			"agent-madrid-1", "branch-madrid", "bank-demo",
			"500", "150", "25", "50", 120),
	); err != nil {
		return err
	}

	// A 200 payment during the day; 75 collected without a timestamp
	// (sorts at start of day). Closing balance: 275 + 200 - 75 = 400.
	paidAt := day.StartOfDay().Add(15 * time.Hour)
	if err := h.registerMovement(ctx, ledger.MovementRecord{
		ID:       "mov-demo-payment",
		Date:     day,
		Kind:     ledger.MovementPayment,
		Amount:   ledger.MustDecimal("200"),
		AgentID:  "agent-madrid-1",
		BranchID: "branch-madrid",
		BankID:   "bank-demo",
		At:       &paidAt,
	}); err != nil {
		return err
	}
	return h.registerMovement(ctx, ledger.MovementRecord{
		ID:       "mov-demo-collection",
		Date:     day,
		Kind:     ledger.MovementCollection,
		Amount:   ledger.MustDecimal("75"),
		AgentID:  "agent-madrid-1",
		BranchID: "branch-madrid",
		BankID:   "bank-demo",
	})
}

func (h *Handler) loadBranchNetworkScenario(ctx context.Context) error {
	day := scenarioMonth().FirstDay().AddDays(9)

	// One draw sold through three agents across two branches. The
	// consolidated branch and bank statements sum the agents.
	if err := h.ingestDraw(ctx, day,
		scenarioDraw("draw-network", day, 13,
			"agent-north-1", "branch-north", "bank-demo",
			"300", "90", "15", "30", 60),
		scenarioDraw("draw-network", day, 13,
			"agent-north-2", "branch-north", "bank-demo",
			"180", "0", "9", "18", 35),
		scenarioDraw("draw-network", day, 13,
			"agent-south-1", "branch-south", "bank-demo",
			"420", "260", "21", "42", 88),
	); err != nil {
		return err
	}

	// Branch-level collection with no agent attached: visible at branch
	// and bank level, invisible on any agent statement.
	return h.registerMovement(ctx, ledger.MovementRecord{
		ID:       "mov-branch-deposit",
		Date:     day,
		Kind:     ledger.MovementCollection,
		Amount:   ledger.MustDecimal("150"),
		BranchID: "branch-north",
		BankID:   "bank-demo",
	})
}

func (h *Handler) loadPastCorrectionScenario(ctx context.Context) error {
	first := scenarioMonth().FirstDay()
	days := []ledger.Day{first.AddDays(2), first.AddDays(6), first.AddDays(12)}

	// Build a run of statements first.
	for i, d := range days {
		if err := h.ingestDraw(ctx, d,
			scenarioDraw(fmt.Sprintf("draw-run-%d", i+1), d, 19,
				"agent-madrid-1", "branch-madrid", "bank-demo",
				"100", "20", "5", "10", 25),
		); err != nil {
			return err
		}
	}

	// A draw from the second day settles late. Its evaluation lands on a
	// past day, so the orchestrator rewrites that day and every later
	// statement of the chain.
	late := first.AddDays(6)
	return h.ingestDraw(ctx, late,
		scenarioDraw("draw-late-settle", late, 21,
			"agent-madrid-1", "branch-madrid", "bank-demo",
			"250", "400", "12.50", "25", 50),
	)
}

func (h *Handler) loadMonthCloseScenario(ctx context.Context) error {
	closeMonth := scenarioMonth().Prev()
	openMonth := scenarioMonth()

	// Activity in the closing month.
	closeDay := closeMonth.FirstDay().AddDays(14)
	if err := h.ingestDraw(ctx, closeDay,
		scenarioDraw("draw-prior-month", closeDay, 18,
			"agent-madrid-1", "branch-madrid", "bank-demo",
			"400", "100", "20", "40", 95),
	); err != nil {
		return err
	}

	// Close the month for every scope the activity created. The settled
	// closing becomes the stored opening seed for the next month.
	scopes, err := h.Store.Scopes(ctx)
	if err != nil {
		return err
	}
	for _, scope := range scopes {
		if _, err := h.Closings.Snapshot(ctx, scope, closeMonth); err != nil {
			return err
		}
	}

	// First activity of the new month opens from the snapshot, not from
	// a recomputation of the prior month.
	openDay := openMonth.FirstDay()
	return h.ingestDraw(ctx, openDay,
		scenarioDraw("draw-new-month", openDay, 18,
			"agent-madrid-1", "branch-madrid", "bank-demo",
			"150", "30", "7.50", "15", 40),
	)
}
