/*
Package memory provides in-memory implementations of the ledger's store
and source interfaces, for tests and development.

Mirrors the sqlite store's semantics exactly:
  - FindOrCreate resolves create races under one mutex
  - Update enforces the optimistic version and returns ErrWriteConflict
  - Reads copy out, so callers never share mutable state with the store

Ingestion helpers (AddDrawLines, AddMovement, ...) stand in for the
external settlement and cashiering collaborators that produce the raw
events in production.
*/
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/warp/statement-engine/ledger"
)

// Store holds everything in maps guarded by one RWMutex.
type Store struct {
	mu sync.RWMutex

	statements map[string]*ledger.DailyStatement // by StatementKey.String()
	byID       map[string]*ledger.DailyStatement
	closings   map[string]*ledger.MonthlyClosing // by scope+month
	draws      []ledger.DrawSettlementLine
	movements  []ledger.MovementRecord
	children   map[string]map[ledger.EntityID]bool // dim/parent -> child set
}

func New() *Store {
	return &Store{
		statements: map[string]*ledger.DailyStatement{},
		byID:       map[string]*ledger.DailyStatement{},
		closings:   map[string]*ledger.MonthlyClosing{},
		children:   map[string]map[ledger.EntityID]bool{},
	}
}

// =============================================================================
// STATEMENT STORE
// =============================================================================

func (s *Store) FindOrCreate(_ context.Context, key ledger.StatementKey) (*ledger.DailyStatement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if st, ok := s.statements[key.String()]; ok {
		cp := *st
		return &cp, nil
	}
	now := time.Now().UTC()
	st := &ledger.DailyStatement{
		ID:        uuid.NewString(),
		Date:      key.Date,
		Scope:     key.Scope,
		CreatedAt: now,
		UpdatedAt: now,
	}
	ledger.StatementFields{Totals: ledger.ZeroTotals(),
		DailyBalance:       ledger.Zero(),
		AccumulatedBalance: ledger.Zero()}.Apply(st)
	s.statements[key.String()] = st
	s.byID[st.ID] = st
	cp := *st
	return &cp, nil
}

func (s *Store) Update(_ context.Context, id string, version int64, fields ledger.StatementFields) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.byID[id]
	if !ok {
		return ledger.ErrStatementNotFound
	}
	if st.Version != version {
		return ledger.ErrWriteConflict
	}
	fields.Apply(st)
	st.Version++
	st.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Store) Get(_ context.Context, key ledger.StatementKey) (*ledger.DailyStatement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.statements[key.String()]
	if !ok {
		return nil, ledger.ErrStatementNotFound
	}
	cp := *st
	return &cp, nil
}

func (s *Store) LatestIn(_ context.Context, scope ledger.Scope, r ledger.DateRange) (*ledger.DailyStatement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *ledger.DailyStatement
	for _, st := range s.statements {
		if st.Scope != scope || !r.Contains(st.Date) {
			continue
		}
		if latest == nil || st.Date.After(latest.Date) {
			latest = st
		}
	}
	if latest == nil {
		return nil, ledger.ErrStatementNotFound
	}
	cp := *latest
	return &cp, nil
}

func (s *Store) DatesAfter(_ context.Context, scope ledger.Scope, after ledger.Day) ([]ledger.Day, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var days []ledger.Day
	for _, st := range s.statements {
		if st.Scope == scope && st.Date.After(after) {
			days = append(days, st.Date)
		}
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Before(days[j]) })
	return days, nil
}

func (s *Store) LastSettledIn(_ context.Context, scope ledger.Scope, m ledger.Month) (*ledger.DailyStatement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r := m.Range()
	var latest *ledger.DailyStatement
	for _, st := range s.statements {
		if st.Scope != scope || !st.IsSettled || !r.Contains(st.Date) {
			continue
		}
		if latest == nil || st.Date.After(latest.Date) {
			latest = st
		}
	}
	if latest == nil {
		return nil, ledger.ErrStatementNotFound
	}
	cp := *latest
	return &cp, nil
}

func (s *Store) Scopes(_ context.Context) ([]ledger.Scope, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	set := map[ledger.Scope]bool{}
	for _, st := range s.statements {
		set[st.Scope] = true
	}
	scopes := make([]ledger.Scope, 0, len(set))
	for sc := range set {
		scopes = append(scopes, sc)
	}
	sort.Slice(scopes, func(i, j int) bool { return scopes[i].String() < scopes[j].String() })
	return scopes, nil
}

// =============================================================================
// CLOSING STORE
// =============================================================================

func closingKey(scope ledger.Scope, m ledger.Month) string {
	return scope.String() + "|" + m.String()
}

func (s *Store) GetClosing(_ context.Context, scope ledger.Scope, m ledger.Month) (*ledger.MonthlyClosing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.closings[closingKey(scope, m)]
	if !ok {
		return nil, ledger.ErrClosingNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *Store) SaveClosing(_ context.Context, c ledger.MonthlyClosing) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	key := closingKey(c.Scope, c.Month)
	if existing, ok := s.closings[key]; ok {
		existing.Balance = c.Balance
		existing.Settled = c.Settled
		existing.UpdatedAt = now
		return nil
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	c.CreatedAt = now
	c.UpdatedAt = now
	s.closings[key] = &c
	return nil
}

// =============================================================================
// EVENT SOURCES
// =============================================================================

func (s *Store) DrawSettlements(_ context.Context, r ledger.DateRange, dim ledger.Dimension, entity *ledger.EntityID) ([]ledger.DrawSettlementLine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []ledger.DrawSettlementLine
	for _, l := range s.draws {
		if !r.Contains(l.Date) {
			continue
		}
		if entity != nil && l.EntityAt(dim) != *entity {
			continue
		}
		out = append(out, l)
	}
	return out, nil
}

func (s *Store) DrawParticipants(_ context.Context, drawID string, date ledger.Day) ([]ledger.DrawSettlementLine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []ledger.DrawSettlementLine
	for _, l := range s.draws {
		if l.DrawID == drawID && l.Date.Equal(date) {
			out = append(out, l)
		}
	}
	return out, nil
}

func (s *Store) Movements(_ context.Context, r ledger.DateRange, dim ledger.Dimension, entity *ledger.EntityID) ([]ledger.MovementRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []ledger.MovementRecord
	for _, m := range s.movements {
		if !r.Contains(m.Date) {
			continue
		}
		if entity != nil && m.EntityAt(dim) != *entity {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

func (s *Store) Children(_ context.Context, dim ledger.Dimension, id ledger.EntityID) ([]ledger.EntityID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	set := s.children[string(dim)+"/"+string(id)]
	out := make([]ledger.EntityID, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// =============================================================================
// INGESTION - stands in for external collaborators
// =============================================================================

// AddDrawLines ingests settlement lines and registers the hierarchy links
// they reveal.
func (s *Store) AddDrawLines(_ context.Context, lines ...ledger.DrawSettlementLine) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range lines {
		s.draws = append(s.draws, l)
		s.linkLocked(l.BankID, l.BranchID, l.AgentID)
	}
	return nil
}

// SetDrawState flips every line of a draw to the given state (evaluation
// and reversion are external; this mimics their effect on the source).
func (s *Store) SetDrawState(_ context.Context, drawID string, state ledger.DrawState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.draws {
		if s.draws[i].DrawID == drawID {
			s.draws[i].State = state
		}
	}
	return nil
}

// AddMovement ingests a movement, assigning an ID when absent, and
// returns the stored record.
func (s *Store) AddMovement(_ context.Context, m ledger.MovementRecord) (ledger.MovementRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	s.movements = append(s.movements, m)
	s.linkLocked(m.BankID, m.BranchID, m.AgentID)
	return m, nil
}

// ReverseMovement flags a movement as reversed.
func (s *Store) ReverseMovement(_ context.Context, id string) (ledger.MovementRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.movements {
		if s.movements[i].ID == id {
			s.movements[i].Reversed = true
			return s.movements[i], nil
		}
	}
	return ledger.MovementRecord{}, ledger.ErrMovementNotFound
}

// SetChildren overrides the hierarchy links for a parent.
func (s *Store) SetChildren(dim ledger.Dimension, id ledger.EntityID, children []ledger.EntityID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set := map[ledger.EntityID]bool{}
	for _, c := range children {
		set[c] = true
	}
	s.children[string(dim)+"/"+string(id)] = set
}

// Reset clears everything. Demo scenario loading starts from an empty
// store.
func (s *Store) Reset(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statements = map[string]*ledger.DailyStatement{}
	s.byID = map[string]*ledger.DailyStatement{}
	s.closings = map[string]*ledger.MonthlyClosing{}
	s.draws = nil
	s.movements = nil
	s.children = map[string]map[ledger.EntityID]bool{}
	return nil
}

func (s *Store) linkLocked(bank, branch, agent ledger.EntityID) {
	add := func(dim ledger.Dimension, parent, child ledger.EntityID) {
		if parent == "" || child == "" {
			return
		}
		key := string(dim) + "/" + string(parent)
		if s.children[key] == nil {
			s.children[key] = map[ledger.EntityID]bool{}
		}
		s.children[key][child] = true
	}
	add(ledger.DimensionBank, bank, branch)
	add(ledger.DimensionBranch, branch, agent)
}
