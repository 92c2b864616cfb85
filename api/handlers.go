/*
handlers.go - HTTP API handlers for the statement engine

PURPOSE:
  Exposes the statement engine via REST API. Handles HTTP
  request/response, JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Draws:
    POST   /api/draws                      Ingest settlement lines of a draw
    POST   /api/draws/evaluate             Mark evaluated, recompute statements
    POST   /api/draws/revert               Mark reverted, recompute statements

  Movements:
    POST   /api/movements                  Register payment/collection
    POST   /api/movements/{id}/reverse     Reverse a movement

  Statements:
    GET    /api/statements/{dimension}/{entityId}           One day
    GET    /api/statements/{dimension}/{entityId}/ledger    Interleaved ledger
    POST   /api/statements/recompute                        Bulk rebuild

  Closings:
    GET    /api/closings/{dimension}/{entityId}             Monthly closing

REQUEST FLOW:
  1. Parse HTTP request
  2. Validate input
  3. Call domain logic (engine, orchestrator)
  4. Serialize response
  5. Handle errors

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 404: Resource not found
  - 409: Write-conflict exhaustion
  - 207: Partial recomputation failure (some scopes failed)
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
  - reconcile/orchestrator.go: the trigger layer handlers delegate to
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/warp/statement-engine/ledger"
	"github.com/warp/statement-engine/reconcile"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// EventStore is the persistence surface handlers need: statement reads
// plus event ingestion. Both store/sqlite and store/memory satisfy it.
type EventStore interface {
	ledger.StatementStore
	ledger.ClosingStore
	ledger.DrawSource
	ledger.MovementSource
	ledger.HierarchySource

	AddDrawLines(ctx context.Context, lines ...ledger.DrawSettlementLine) error
	SetDrawState(ctx context.Context, drawID string, state ledger.DrawState) error
	AddMovement(ctx context.Context, m ledger.MovementRecord) (ledger.MovementRecord, error)
	ReverseMovement(ctx context.Context, id string) (ledger.MovementRecord, error)

	// Reset wipes everything; scenario loading only.
	Reset(ctx context.Context) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store        EventStore
	Engine       *ledger.Engine
	Orchestrator *reconcile.Orchestrator
	Closings     *ledger.ClosingResolver
	Cache        ledger.StatementCache
	Log          *logrus.Logger

	currentScenario string
}

// NewHandler creates a handler over the given collaborators. Cache may
// be nil.
func NewHandler(store EventStore, engine *ledger.Engine,
	orch *reconcile.Orchestrator, closings *ledger.ClosingResolver,
	cache ledger.StatementCache, log *logrus.Logger) *Handler {
	return &Handler{
		Store:        store,
		Engine:       engine,
		Orchestrator: orch,
		Closings:     closings,
		Cache:        cache,
		Log:          log,
	}
}

// =============================================================================
// DRAW HANDLERS
// =============================================================================

// IngestDraw registers the settlement lines of one draw in pending state.
// POST /api/draws
func (h *Handler) IngestDraw(w http.ResponseWriter, r *http.Request) {
	var req IngestDrawRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON", err)
		return
	}
	if req.DrawID == "" {
		writeError(w, http.StatusBadRequest, "draw_id is required", nil)
		return
	}
	date, err := ledger.ParseDay(req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date", err)
		return
	}
	if len(req.Lines) == 0 {
		writeError(w, http.StatusBadRequest, "At least one line is required", nil)
		return
	}

	lines := make([]ledger.DrawSettlementLine, 0, len(req.Lines))
	for _, lr := range req.Lines {
		line, err := h.parseDrawLine(req.DrawID, date, lr)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid line", err)
			return
		}
		lines = append(lines, line)
	}

	if err := h.Store.AddDrawLines(r.Context(), lines...); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to ingest draw", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"draw_id": req.DrawID,
		"date":    date.String(),
		"lines":   len(lines),
	})
}

func (h *Handler) parseDrawLine(drawID string, date ledger.Day, lr DrawLineRequest) (ledger.DrawSettlementLine, error) {
	line := ledger.DrawSettlementLine{
		DrawID:   drawID,
		Date:     date,
		AgentID:  ledger.EntityID(lr.AgentID),
		BranchID: ledger.EntityID(lr.BranchID),
		BankID:   ledger.EntityID(lr.BankID),
		State:    ledger.DrawPending,
	}
	at, err := time.Parse(time.RFC3339, lr.ScheduledAt)
	if err != nil {
		return line, err
	}
	line.ScheduledAt = at
	line.TicketCount = lr.TicketCount

	for _, f := range []struct {
		dst *decimal.Decimal
		raw string
	}{
		{&line.Sales, lr.Sales},
		{&line.Payout, lr.Payout},
		{&line.BranchCommission, lr.BranchCommission},
		{&line.AgentCommission, lr.AgentCommission},
	} {
		d, err := parseAmount(f.raw)
		if err != nil {
			return line, err
		}
		*f.dst = d
	}
	return line, nil
}

// EvaluateDraw marks a draw evaluated and recomputes every affected
// statement, propagating forward when the draw day is in the past.
// POST /api/draws/evaluate
func (h *Handler) EvaluateDraw(w http.ResponseWriter, r *http.Request) {
	h.drawStateChange(w, r, ledger.DrawEvaluated)
}

// RevertDraw marks a draw reverted and recomputes every affected
// statement.
// POST /api/draws/revert
func (h *Handler) RevertDraw(w http.ResponseWriter, r *http.Request) {
	h.drawStateChange(w, r, ledger.DrawReverted)
}

func (h *Handler) drawStateChange(w http.ResponseWriter, r *http.Request, state ledger.DrawState) {
	var req DrawStateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON", err)
		return
	}
	date, err := ledger.ParseDay(req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date", err)
		return
	}

	if err := h.Store.SetDrawState(r.Context(), req.DrawID, state); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to update draw", err)
		return
	}

	switch state {
	case ledger.DrawEvaluated:
		err = h.Orchestrator.OnDrawEvaluated(r.Context(), req.DrawID, date)
	default:
		err = h.Orchestrator.OnDrawReverted(r.Context(), req.DrawID, date)
	}
	writeRecomputeOutcome(w, err)
}

// =============================================================================
// MOVEMENT HANDLERS
// =============================================================================

// RegisterMovement stores a payment or collection and recomputes the
// statements it touches.
// POST /api/movements
func (h *Handler) RegisterMovement(w http.ResponseWriter, r *http.Request) {
	var req MovementRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON", err)
		return
	}
	m, err := h.parseMovement(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid movement", err)
		return
	}

	stored, err := h.Store.AddMovement(r.Context(), m)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to register movement", err)
		return
	}

	affected := reconcile.Affected{
		AgentID:  stored.AgentID,
		BranchID: stored.BranchID,
		BankID:   stored.BankID,
	}
	recErr := h.Orchestrator.OnPaymentRegistered(r.Context(), affected, stored.Date)
	writeMovementOutcome(w, http.StatusCreated, stored, recErr)
}

func (h *Handler) parseMovement(req MovementRequest) (ledger.MovementRecord, error) {
	var m ledger.MovementRecord

	date, err := ledger.ParseDay(req.Date)
	if err != nil {
		return m, err
	}
	kind := ledger.MovementKind(req.Kind)
	if kind != ledger.MovementPayment && kind != ledger.MovementCollection {
		return m, errors.New("kind must be payment or collection")
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		return m, err
	}
	if amount.Sign() <= 0 {
		return m, errors.New("amount must be positive")
	}
	if req.BankID == "" || req.BranchID == "" {
		return m, errors.New("bank_id and branch_id are required")
	}

	m = ledger.MovementRecord{
		Date:     date,
		Kind:     kind,
		Amount:   amount,
		AgentID:  ledger.EntityID(req.AgentID),
		BranchID: ledger.EntityID(req.BranchID),
		BankID:   ledger.EntityID(req.BankID),
	}
	if req.At != "" {
		at, err := time.Parse(time.RFC3339, req.At)
		if err != nil {
			return m, err
		}
		m.At = &at
	}
	return m, nil
}

// ReverseMovement flags a movement reversed and recomputes the
// statements it touched.
// POST /api/movements/{id}/reverse
func (h *Handler) ReverseMovement(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	m, err := h.Store.ReverseMovement(r.Context(), id)
	if err != nil {
		if errors.Is(err, ledger.ErrMovementNotFound) {
			writeError(w, http.StatusNotFound, "Movement not found", err)
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to reverse movement", err)
		return
	}

	affected := reconcile.Affected{
		AgentID:  m.AgentID,
		BranchID: m.BranchID,
		BankID:   m.BankID,
	}
	recErr := h.Orchestrator.OnPaymentReversed(r.Context(), affected, m.Date)
	writeMovementOutcome(w, http.StatusOK, m, recErr)
}

// =============================================================================
// STATEMENT HANDLERS
// =============================================================================

// GetStatement returns one persisted daily statement.
// GET /api/statements/{dimension}/{entityId}?date=YYYY-MM-DD&grouping=single
func (h *Handler) GetStatement(w http.ResponseWriter, r *http.Request) {
	scope, date, ok := h.scopeAndDate(w, r)
	if !ok {
		return
	}
	key := ledger.StatementKey{Date: date, Scope: scope}

	if h.Cache != nil {
		if st, hit := h.Cache.Get(r.Context(), key); hit {
			writeJSON(w, http.StatusOK, toStatementDTO(st))
			return
		}
	}

	st, err := h.Store.Get(r.Context(), key)
	if err != nil {
		if errors.Is(err, ledger.ErrStatementNotFound) {
			writeError(w, http.StatusNotFound, "Statement not found", err)
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to read statement", err)
		return
	}
	if h.Cache != nil {
		h.Cache.Put(r.Context(), st)
	}
	writeJSON(w, http.StatusOK, toStatementDTO(st))
}

// GetLedger returns the interleaved draw/movement ledger of one day.
// Computed on demand from the event sources; never persisted.
// GET /api/statements/{dimension}/{entityId}/ledger?date=...&grouping=...
func (h *Handler) GetLedger(w http.ResponseWriter, r *http.Request) {
	scope, date, ok := h.scopeAndDate(w, r)
	if !ok {
		return
	}
	dl, err := h.Engine.LedgerFor(r.Context(), scope, date)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to build ledger", err)
		return
	}
	writeJSON(w, http.StatusOK, toLedgerDTO(dl))
}

// BulkRecompute rebuilds a scope's statements over a range and
// propagates past its end.
// POST /api/statements/recompute
func (h *Handler) BulkRecompute(w http.ResponseWriter, r *http.Request) {
	var req BulkRecomputeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON", err)
		return
	}
	scope := ledger.Scope{
		Dimension: ledger.Dimension(req.Dimension),
		EntityID:  ledger.EntityID(req.EntityID),
		Grouping:  ledger.Grouping(req.Grouping),
	}
	if err := scope.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid scope", err)
		return
	}
	from, err := ledger.ParseDay(req.From)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid from date", err)
		return
	}
	to, err := ledger.ParseDay(req.To)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid to date", err)
		return
	}
	dr, err := ledger.NewDateRange(from, to)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid range", err)
		return
	}
	writeRecomputeOutcome(w, h.Orchestrator.BulkRecompute(r.Context(), scope, dr))
}

// =============================================================================
// CLOSING HANDLERS
// =============================================================================

// GetClosing returns the monthly closing balance for a scope, resolving
// through the settled-record / last-settled-statement / recompute chain.
// GET /api/closings/{dimension}/{entityId}?month=YYYY-MM&grouping=single
func (h *Handler) GetClosing(w http.ResponseWriter, r *http.Request) {
	scope, ok := h.scopeParam(w, r)
	if !ok {
		return
	}
	month, err := ledger.ParseMonth(r.URL.Query().Get("month"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid month", err)
		return
	}

	if c, err := h.Store.GetClosing(r.Context(), scope, month); err == nil {
		writeJSON(w, http.StatusOK, toClosingDTO(c))
		return
	} else if !errors.Is(err, ledger.ErrClosingNotFound) {
		writeError(w, http.StatusInternalServerError, "Failed to read closing", err)
		return
	}

	balance, err := h.Closings.ClosingBalance(r.Context(), scope, month)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to resolve closing", err)
		return
	}
	writeJSON(w, http.StatusOK, ClosingDTO{
		Dimension: string(scope.Dimension),
		EntityID:  string(scope.EntityID),
		Grouping:  string(scope.Grouping),
		Month:     month.String(),
		Balance:   balance.String(),
		Settled:   false,
	})
}

// =============================================================================
// HEALTH
// =============================================================================

// Health reports liveness.
// GET /api/health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

func (h *Handler) scopeParam(w http.ResponseWriter, r *http.Request) (ledger.Scope, bool) {
	grouping := r.URL.Query().Get("grouping")
	if grouping == "" {
		grouping = string(ledger.GroupingSingle)
	}
	scope := ledger.Scope{
		Dimension: ledger.Dimension(chi.URLParam(r, "dimension")),
		EntityID:  ledger.EntityID(chi.URLParam(r, "entityId")),
		Grouping:  ledger.Grouping(grouping),
	}
	if err := scope.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid scope", err)
		return scope, false
	}
	return scope, true
}

func (h *Handler) scopeAndDate(w http.ResponseWriter, r *http.Request) (ledger.Scope, ledger.Day, bool) {
	scope, ok := h.scopeParam(w, r)
	if !ok {
		return scope, ledger.Day{}, false
	}
	date, err := ledger.ParseDay(r.URL.Query().Get("date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date", err)
		return scope, date, false
	}
	return scope, date, true
}

// parseAmount reads a wire decimal. Empty means zero: draw lines may
// omit components that do not apply.
func parseAmount(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}

func writeMovementOutcome(w http.ResponseWriter, okStatus int, m ledger.MovementRecord, recErr error) {
	body := map[string]any{"movement": toMovementDTO(m)}
	status := okStatus

	var partial *reconcile.PartialFailureError
	switch {
	case recErr == nil:
		body["recompute"] = RecomputeResponse{Status: "ok"}
	case errors.As(recErr, &partial):
		status = http.StatusMultiStatus
		body["recompute"] = RecomputeResponse{Status: "partial", Failures: partial.Failures}
	default:
		status = http.StatusInternalServerError
		body["recompute"] = RecomputeResponse{Status: "failed", Failures: []string{recErr.Error()}}
	}
	writeJSON(w, status, body)
}

func writeRecomputeOutcome(w http.ResponseWriter, err error) {
	var partial *reconcile.PartialFailureError
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, RecomputeResponse{Status: "ok"})
	case errors.As(err, &partial):
		writeJSON(w, http.StatusMultiStatus, RecomputeResponse{
			Status:   "partial",
			Failures: partial.Failures,
		})
	default:
		writeError(w, http.StatusInternalServerError, "Recomputation failed", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
