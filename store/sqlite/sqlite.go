/*
Package sqlite provides the SQLite-backed implementation of the ledger's
storage interfaces.

INTERFACES IMPLEMENTED:
  ledger.StatementStore:  daily statement rows, optimistic concurrency
  ledger.ClosingStore:    monthly closing balances
  ledger.DrawSource:      settled draw lines
  ledger.MovementSource:  cash movements
  ledger.HierarchySource: bank/branch/agent links

CONCURRENCY DISCIPLINE:
  The statements table carries a UNIQUE constraint per
  (date, dimension, entity, grouping) and a version column:
  - FindOrCreate inserts; a unique-constraint violation from a concurrent
    creator is swallowed and resolved by re-select
  - Update matches on (id, version); zero rows affected means a stale
    writer and surfaces ledger.ErrWriteConflict for the caller's bounded
    retry loop

WAL MODE:
  Opened with WAL for read concurrency; a sync.RWMutex serializes writers
  in-process on top. In production with PostgreSQL the database's own
  concurrency control takes over - the SQL is written to port.

USAGE:
  db, err := sqlite.New("./data/statements.db")
  ...
  defer db.Close()

SEE ALSO:
  - ledger/statement.go: the store contract and the retrying writer
  - store/memory: the in-memory twin used by tests
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/statement-engine/ledger"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New opens (or creates) the database at path and migrates the schema.
// Use ":memory:" for an in-memory database.
func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	schema := `
	-- One row per (date, scope); never deleted, recomputations overwrite.
	CREATE TABLE IF NOT EXISTS daily_statements (
		id TEXT PRIMARY KEY,
		date TEXT NOT NULL,
		dimension TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		grouping_mode TEXT NOT NULL,
		total_sales TEXT NOT NULL,
		total_payouts TEXT NOT NULL,
		branch_commission TEXT NOT NULL,
		agent_commission TEXT NOT NULL,
		total_paid TEXT NOT NULL,
		total_collected TEXT NOT NULL,
		daily_balance TEXT NOT NULL,
		accumulated_balance TEXT NOT NULL,
		ticket_count INTEGER NOT NULL DEFAULT 0,
		is_settled INTEGER NOT NULL DEFAULT 0,
		version INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_statements_key
		ON daily_statements(date, dimension, entity_id, grouping_mode);
	CREATE INDEX IF NOT EXISTS idx_statements_scope_date
		ON daily_statements(dimension, entity_id, grouping_mode, date);

	CREATE TABLE IF NOT EXISTS monthly_closings (
		id TEXT PRIMARY KEY,
		dimension TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		grouping_mode TEXT NOT NULL,
		month TEXT NOT NULL,
		balance TEXT NOT NULL,
		settled INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_closings_key
		ON monthly_closings(dimension, entity_id, grouping_mode, month);

	-- Raw events, owned by external collaborators; held here so the
	-- server is operable end to end.
	CREATE TABLE IF NOT EXISTS draw_lines (
		id TEXT PRIMARY KEY,
		draw_id TEXT NOT NULL,
		date TEXT NOT NULL,
		agent_id TEXT NOT NULL,
		branch_id TEXT NOT NULL,
		bank_id TEXT NOT NULL,
		scheduled_at TEXT NOT NULL,
		sales TEXT NOT NULL,
		payout TEXT NOT NULL,
		branch_commission TEXT NOT NULL,
		agent_commission TEXT NOT NULL,
		ticket_count INTEGER NOT NULL DEFAULT 0,
		state TEXT NOT NULL,
		excluded INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_draw_lines_date ON draw_lines(date);
	CREATE INDEX IF NOT EXISTS idx_draw_lines_draw ON draw_lines(draw_id, date);

	CREATE TABLE IF NOT EXISTS movements (
		id TEXT PRIMARY KEY,
		date TEXT NOT NULL,
		kind TEXT NOT NULL,
		amount TEXT NOT NULL,
		agent_id TEXT NOT NULL DEFAULT '',
		branch_id TEXT NOT NULL,
		bank_id TEXT NOT NULL,
		at_time TEXT,
		reversed INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_movements_date ON movements(date);

	CREATE TABLE IF NOT EXISTS hierarchy (
		dimension TEXT NOT NULL,
		parent_id TEXT NOT NULL,
		child_id TEXT NOT NULL,
		UNIQUE(dimension, parent_id, child_id)
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// STATEMENT STORE
// =============================================================================

const statementColumns = `id, date, dimension, entity_id, grouping_mode,
	total_sales, total_payouts, branch_commission, agent_commission,
	total_paid, total_collected, daily_balance, accumulated_balance,
	ticket_count, is_settled, version, created_at, updated_at`

func (s *Store) FindOrCreate(ctx context.Context, key ledger.StatementKey) (*ledger.DailyStatement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.insertStatementLocked(ctx, key)
	if err != nil && !errors.Is(err, ledger.ErrDuplicateStatement) {
		return nil, err
	}
	// Either we created the row or a concurrent writer beat us to it;
	// the duplicate resolves as a lookup.
	return s.getLocked(ctx, key)
}

// insertStatementLocked inserts the zero-valued row for key, mapping a
// unique-constraint hit to ledger.ErrDuplicateStatement.
func (s *Store) insertStatementLocked(ctx context.Context, key ledger.StatementKey) error {
	now := time.Now().UTC().Format(time.RFC3339)
	zero := decimal.Zero.String()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO daily_statements
		(id, date, dimension, entity_id, grouping_mode,
		 total_sales, total_payouts, branch_commission, agent_commission,
		 total_paid, total_collected, daily_balance, accumulated_balance,
		 ticket_count, is_settled, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, 0, 0, ?, ?)`,
		uuid.NewString(), key.Date.String(),
		string(key.Scope.Dimension), string(key.Scope.EntityID), string(key.Scope.Grouping),
		zero, zero, zero, zero, zero, zero, zero, zero,
		now, now,
	)
	if isUniqueConstraintError(err) {
		return fmt.Errorf("statement %s: %w", key, ledger.ErrDuplicateStatement)
	}
	if err != nil {
		return fmt.Errorf("failed to create statement: %w", err)
	}
	return nil
}

func (s *Store) Update(ctx context.Context, id string, version int64, fields ledger.StatementFields) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE daily_statements SET
			total_sales = ?, total_payouts = ?,
			branch_commission = ?, agent_commission = ?,
			total_paid = ?, total_collected = ?,
			daily_balance = ?, accumulated_balance = ?,
			ticket_count = ?, is_settled = ?,
			version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?`,
		fields.Totals.Sales.String(), fields.Totals.Payouts.String(),
		fields.Totals.BranchCommission.String(), fields.Totals.AgentCommission.String(),
		fields.Totals.Paid.String(), fields.Totals.Collected.String(),
		fields.DailyBalance.String(), fields.AccumulatedBalance.String(),
		fields.Totals.TicketCount, boolToInt(fields.IsSettled),
		time.Now().UTC().Format(time.RFC3339),
		id, version,
	)
	if err != nil {
		return fmt.Errorf("failed to update statement: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		// Rows are never deleted, so zero rows means a stale version.
		return fmt.Errorf("statement %s at version %d: %w", id, version, ledger.ErrWriteConflict)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, key ledger.StatementKey) (*ledger.DailyStatement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getLocked(ctx, key)
}

func (s *Store) getLocked(ctx context.Context, key ledger.StatementKey) (*ledger.DailyStatement, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+statementColumns+`
		FROM daily_statements
		WHERE date = ? AND dimension = ? AND entity_id = ? AND grouping_mode = ?`,
		key.Date.String(), string(key.Scope.Dimension),
		string(key.Scope.EntityID), string(key.Scope.Grouping),
	)
	return scanStatement(row)
}

func (s *Store) LatestIn(ctx context.Context, scope ledger.Scope, r ledger.DateRange) (*ledger.DailyStatement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT `+statementColumns+`
		FROM daily_statements
		WHERE dimension = ? AND entity_id = ? AND grouping_mode = ?
		  AND date >= ? AND date <= ?
		ORDER BY date DESC
		LIMIT 1`,
		string(scope.Dimension), string(scope.EntityID), string(scope.Grouping),
		r.From.String(), r.To.String(),
	)
	return scanStatement(row)
}

func (s *Store) DatesAfter(ctx context.Context, scope ledger.Scope, after ledger.Day) ([]ledger.Day, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT date FROM daily_statements
		WHERE dimension = ? AND entity_id = ? AND grouping_mode = ? AND date > ?
		ORDER BY date ASC`,
		string(scope.Dimension), string(scope.EntityID), string(scope.Grouping),
		after.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query statement dates: %w", err)
	}
	defer rows.Close()

	var days []ledger.Day
	for rows.Next() {
		var ds string
		if err := rows.Scan(&ds); err != nil {
			return nil, err
		}
		d, err := ledger.ParseDay(ds)
		if err != nil {
			return nil, err
		}
		days = append(days, d)
	}
	return days, rows.Err()
}

func (s *Store) LastSettledIn(ctx context.Context, scope ledger.Scope, m ledger.Month) (*ledger.DailyStatement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r := m.Range()
	row := s.db.QueryRowContext(ctx, `
		SELECT `+statementColumns+`
		FROM daily_statements
		WHERE dimension = ? AND entity_id = ? AND grouping_mode = ?
		  AND is_settled = 1 AND date >= ? AND date <= ?
		ORDER BY date DESC
		LIMIT 1`,
		string(scope.Dimension), string(scope.EntityID), string(scope.Grouping),
		r.From.String(), r.To.String(),
	)
	return scanStatement(row)
}

func (s *Store) Scopes(ctx context.Context) ([]ledger.Scope, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT dimension, entity_id, grouping_mode
		FROM daily_statements
		ORDER BY dimension, entity_id, grouping_mode`)
	if err != nil {
		return nil, fmt.Errorf("failed to query scopes: %w", err)
	}
	defer rows.Close()

	var scopes []ledger.Scope
	for rows.Next() {
		var dim, id, grouping string
		if err := rows.Scan(&dim, &id, &grouping); err != nil {
			return nil, err
		}
		scopes = append(scopes, ledger.Scope{
			Dimension: ledger.Dimension(dim),
			EntityID:  ledger.EntityID(id),
			Grouping:  ledger.Grouping(grouping),
		})
	}
	return scopes, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanStatement(row rowScanner) (*ledger.DailyStatement, error) {
	var (
		st                          ledger.DailyStatement
		date, dim, entity, grouping string
		sales, payouts              string
		branchComm, agentComm       string
		paid, collected             string
		daily, accumulated          string
		settled                     int
		createdAt, updatedAt        string
	)
	err := row.Scan(&st.ID, &date, &dim, &entity, &grouping,
		&sales, &payouts, &branchComm, &agentComm,
		&paid, &collected, &daily, &accumulated,
		&st.TicketCount, &settled, &st.Version, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, ledger.ErrStatementNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan statement: %w", err)
	}

	if st.Date, err = ledger.ParseDay(date); err != nil {
		return nil, err
	}
	st.Scope = ledger.Scope{
		Dimension: ledger.Dimension(dim),
		EntityID:  ledger.EntityID(entity),
		Grouping:  ledger.Grouping(grouping),
	}
	for _, p := range []struct {
		dst *decimal.Decimal
		src string
	}{
		{&st.TotalSales, sales}, {&st.TotalPayouts, payouts},
		{&st.BranchCommission, branchComm}, {&st.AgentCommission, agentComm},
		{&st.TotalPaid, paid}, {&st.TotalCollected, collected},
		{&st.DailyBalance, daily}, {&st.AccumulatedBalance, accumulated},
	} {
		if *p.dst, err = decimal.NewFromString(p.src); err != nil {
			return nil, fmt.Errorf("failed to parse amount %q: %w", p.src, err)
		}
	}
	st.IsSettled = settled != 0
	st.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	st.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &st, nil
}

// =============================================================================
// CLOSING STORE
// =============================================================================

func (s *Store) GetClosing(ctx context.Context, scope ledger.Scope, m ledger.Month) (*ledger.MonthlyClosing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		c                    ledger.MonthlyClosing
		balance              string
		settled              int
		createdAt, updatedAt string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, balance, settled, created_at, updated_at
		FROM monthly_closings
		WHERE dimension = ? AND entity_id = ? AND grouping_mode = ? AND month = ?`,
		string(scope.Dimension), string(scope.EntityID), string(scope.Grouping), m.String(),
	).Scan(&c.ID, &balance, &settled, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, ledger.ErrClosingNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query closing: %w", err)
	}
	if c.Balance, err = decimal.NewFromString(balance); err != nil {
		return nil, fmt.Errorf("failed to parse closing balance %q: %w", balance, err)
	}
	c.Scope = scope
	c.Month = m
	c.Settled = settled != 0
	c.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	c.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &c, nil
}

func (s *Store) SaveClosing(ctx context.Context, c ledger.MonthlyClosing) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := c.ID
	if id == "" {
		id = uuid.NewString()
	}
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO monthly_closings
		(id, dimension, entity_id, grouping_mode, month, balance, settled, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(dimension, entity_id, grouping_mode, month)
		DO UPDATE SET balance = excluded.balance, settled = excluded.settled,
		              updated_at = excluded.updated_at`,
		id, string(c.Scope.Dimension), string(c.Scope.EntityID), string(c.Scope.Grouping),
		c.Month.String(), c.Balance.String(), boolToInt(c.Settled), now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to save closing: %w", err)
	}
	return nil
}

// =============================================================================
// EVENT SOURCES
// =============================================================================

const drawLineColumns = `draw_id, date, agent_id, branch_id, bank_id, scheduled_at,
	sales, payout, branch_commission, agent_commission, ticket_count, state, excluded`

func (s *Store) DrawSettlements(ctx context.Context, r ledger.DateRange, dim ledger.Dimension, entity *ledger.EntityID) ([]ledger.DrawSettlementLine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT ` + drawLineColumns + `
		FROM draw_lines WHERE date >= ? AND date <= ?`
	args := []any{r.From.String(), r.To.String()}
	if entity != nil {
		query += ` AND ` + entityColumn(dim) + ` = ?`
		args = append(args, string(*entity))
	}
	query += ` ORDER BY date ASC, scheduled_at ASC`
	return s.queryDrawLines(ctx, query, args...)
}

func (s *Store) DrawParticipants(ctx context.Context, drawID string, date ledger.Day) ([]ledger.DrawSettlementLine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryDrawLines(ctx, `
		SELECT `+drawLineColumns+`
		FROM draw_lines WHERE draw_id = ? AND date = ?`,
		drawID, date.String())
}

func (s *Store) queryDrawLines(ctx context.Context, query string, args ...any) ([]ledger.DrawSettlementLine, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query draw lines: %w", err)
	}
	defer rows.Close()

	var lines []ledger.DrawSettlementLine
	for rows.Next() {
		var (
			l                     ledger.DrawSettlementLine
			date, scheduledAt     string
			sales, payout         string
			branchComm, agentComm string
			state                 string
			excluded              int
		)
		err := rows.Scan(&l.DrawID, &date, &l.AgentID, &l.BranchID, &l.BankID,
			&scheduledAt, &sales, &payout, &branchComm, &agentComm,
			&l.TicketCount, &state, &excluded)
		if err != nil {
			return nil, fmt.Errorf("failed to scan draw line: %w", err)
		}
		if l.Date, err = ledger.ParseDay(date); err != nil {
			return nil, err
		}
		if l.ScheduledAt, err = time.Parse(time.RFC3339, scheduledAt); err != nil {
			return nil, fmt.Errorf("failed to parse scheduled_at %q: %w", scheduledAt, err)
		}
		if l.Sales, err = decimal.NewFromString(sales); err != nil {
			return nil, err
		}
		if l.Payout, err = decimal.NewFromString(payout); err != nil {
			return nil, err
		}
		if l.BranchCommission, err = decimal.NewFromString(branchComm); err != nil {
			return nil, err
		}
		if l.AgentCommission, err = decimal.NewFromString(agentComm); err != nil {
			return nil, err
		}
		l.State = ledger.DrawState(state)
		l.Excluded = excluded != 0
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

func (s *Store) Movements(ctx context.Context, r ledger.DateRange, dim ledger.Dimension, entity *ledger.EntityID) ([]ledger.MovementRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT id, date, kind, amount, agent_id, branch_id, bank_id, at_time, reversed
		FROM movements WHERE date >= ? AND date <= ?`
	args := []any{r.From.String(), r.To.String()}
	if entity != nil {
		query += ` AND ` + entityColumn(dim) + ` = ?`
		args = append(args, string(*entity))
	}
	query += ` ORDER BY date ASC, at_time ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query movements: %w", err)
	}
	defer rows.Close()

	var out []ledger.MovementRecord
	for rows.Next() {
		m, err := scanMovement(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func scanMovement(rows *sql.Rows) (ledger.MovementRecord, error) {
	var (
		m        ledger.MovementRecord
		date     string
		kind     string
		amount   string
		atTime   sql.NullString
		reversed int
	)
	err := rows.Scan(&m.ID, &date, &kind, &amount,
		&m.AgentID, &m.BranchID, &m.BankID, &atTime, &reversed)
	if err != nil {
		return m, fmt.Errorf("failed to scan movement: %w", err)
	}
	if m.Date, err = ledger.ParseDay(date); err != nil {
		return m, err
	}
	m.Kind = ledger.MovementKind(kind)
	if m.Amount, err = decimal.NewFromString(amount); err != nil {
		return m, fmt.Errorf("failed to parse movement amount %q: %w", amount, err)
	}
	if atTime.Valid {
		t, err := time.Parse(time.RFC3339, atTime.String)
		if err != nil {
			return m, fmt.Errorf("failed to parse movement time %q: %w", atTime.String, err)
		}
		m.At = &t
	}
	m.Reversed = reversed != 0
	return m, nil
}

func (s *Store) Children(ctx context.Context, dim ledger.Dimension, id ledger.EntityID) ([]ledger.EntityID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT child_id FROM hierarchy
		WHERE dimension = ? AND parent_id = ?
		ORDER BY child_id ASC`,
		string(dim), string(id))
	if err != nil {
		return nil, fmt.Errorf("failed to query children: %w", err)
	}
	defer rows.Close()

	var out []ledger.EntityID
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, err
		}
		out = append(out, ledger.EntityID(c))
	}
	return out, rows.Err()
}

// =============================================================================
// INGESTION - stands in for external collaborators
// =============================================================================

// AddDrawLines stores settlement lines and registers the hierarchy links
// they reveal, atomically.
func (s *Store) AddDrawLines(ctx context.Context, lines ...ledger.DrawSettlementLine) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, l := range lines {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO draw_lines (id, `+drawLineColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			uuid.NewString(), l.DrawID, l.Date.String(),
			string(l.AgentID), string(l.BranchID), string(l.BankID),
			l.ScheduledAt.UTC().Format(time.RFC3339),
			l.Sales.String(), l.Payout.String(),
			l.BranchCommission.String(), l.AgentCommission.String(),
			l.TicketCount, string(l.State), boolToInt(l.Excluded),
		)
		if err != nil {
			return fmt.Errorf("failed to insert draw line: %w", err)
		}
		if err := linkTx(ctx, tx, l.BankID, l.BranchID, l.AgentID); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// SetDrawState flips every line of a draw to the given state.
func (s *Store) SetDrawState(ctx context.Context, drawID string, state ledger.DrawState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`UPDATE draw_lines SET state = ? WHERE draw_id = ?`,
		string(state), drawID)
	if err != nil {
		return fmt.Errorf("failed to update draw state: %w", err)
	}
	return nil
}

// AddMovement stores a movement, assigning an ID when absent.
func (s *Store) AddMovement(ctx context.Context, m ledger.MovementRecord) (ledger.MovementRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	var at sql.NullString
	if m.At != nil {
		at = sql.NullString{String: m.At.UTC().Format(time.RFC3339), Valid: true}
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return m, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO movements (id, date, kind, amount, agent_id, branch_id, bank_id, at_time, reversed)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.Date.String(), string(m.Kind), m.Amount.String(),
		string(m.AgentID), string(m.BranchID), string(m.BankID),
		at, boolToInt(m.Reversed),
	)
	if err != nil {
		return m, fmt.Errorf("failed to insert movement: %w", err)
	}
	if err := linkTx(ctx, tx, m.BankID, m.BranchID, m.AgentID); err != nil {
		return m, err
	}
	return m, tx.Commit()
}

// ReverseMovement flags a movement as reversed and returns the record.
func (s *Store) ReverseMovement(ctx context.Context, id string) (ledger.MovementRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`UPDATE movements SET reversed = 1 WHERE id = ?`, id)
	if err != nil {
		return ledger.MovementRecord{}, fmt.Errorf("failed to reverse movement: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return ledger.MovementRecord{}, err
	} else if n == 0 {
		return ledger.MovementRecord{}, ledger.ErrMovementNotFound
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, date, kind, amount, agent_id, branch_id, bank_id, at_time, reversed
		FROM movements WHERE id = ?`, id)
	if err != nil {
		return ledger.MovementRecord{}, fmt.Errorf("failed to load movement: %w", err)
	}
	defer rows.Close()
	if !rows.Next() {
		return ledger.MovementRecord{}, ledger.ErrMovementNotFound
	}
	return scanMovement(rows)
}

// Reset deletes all rows. Demo scenario loading starts from an empty
// database; never reachable in production wiring.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, table := range []string{
		"daily_statements", "monthly_closings",
		"draw_lines", "movements", "hierarchy",
	} {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to reset %s: %w", table, err)
		}
	}
	return nil
}

func linkTx(ctx context.Context, tx *sql.Tx, bank, branch, agent ledger.EntityID) error {
	link := func(dim ledger.Dimension, parent, child ledger.EntityID) error {
		if parent == "" || child == "" {
			return nil
		}
		_, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO hierarchy (dimension, parent_id, child_id)
			VALUES (?, ?, ?)`,
			string(dim), string(parent), string(child))
		return err
	}
	if err := link(ledger.DimensionBank, bank, branch); err != nil {
		return fmt.Errorf("failed to link hierarchy: %w", err)
	}
	if err := link(ledger.DimensionBranch, branch, agent); err != nil {
		return fmt.Errorf("failed to link hierarchy: %w", err)
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

func entityColumn(dim ledger.Dimension) string {
	switch dim {
	case ledger.DimensionBank:
		return "bank_id"
	case ledger.DimensionBranch:
		return "branch_id"
	default:
		return "agent_id"
	}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "duplicate key"))
}
