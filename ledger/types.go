/*
Package ledger provides the progressive balance reconciliation core.

PURPOSE:
  This package contains the types and algorithms that turn raw draw
  settlements and cash movements into daily financial statements with a
  progressive accumulated balance. It covers aggregation, chronological
  interleaving with running balances, day-over-day (and month-over-month)
  balance carry, settlement evaluation, and monthly closing resolution.

KEY CONCEPTS IN THIS FILE (types.go):
  - Day:       An opaque, already-localized calendar day (ledger key)
  - Month:     A calendar month (closing-balance key)
  - Dimension: Which hierarchy level a statement is scoped to
  - Grouping:  Single entity vs. consolidated-over-children
  - Scope:     The typed composite key (dimension, entity, grouping)

DESIGN PRINCIPLES:
  1. Precision: decimal.Decimal for every amount, never float64
  2. Typed keys: Scope replaces ad hoc date+entity string concatenation
  3. No timezone math: Day is trusted input from the calendar utility
  4. Explicit grouping: Single/Consolidated is decided once, upstream,
     and passed down, never re-derived from the presence of filters

SEE ALSO:
  - events.go:     Raw input records and their source interfaces
  - aggregate.go:  Per-day totals from raw records
  - interleave.go: Ordered ledger lines with running balances
  - accumulate.go: The day-over-day accumulation engine
*/
package ledger

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// DAY - Opaque localized calendar day
// =============================================================================

// Day is a calendar day key. The core never performs timezone math: callers
// convert timestamps to days with their own calendar utility and hand the
// result in. Internally a Day is anchored at UTC midnight purely so that
// comparisons and arithmetic are well defined.
type Day struct {
	t time.Time
}

const dayFormat = "2006-01-02"

func NewDay(year int, month time.Month, day int) Day {
	return Day{t: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// ParseDay parses a "YYYY-MM-DD" key.
func ParseDay(s string) (Day, error) {
	t, err := time.Parse(dayFormat, s)
	if err != nil {
		return Day{}, fmt.Errorf("%w: %q", ErrInvalidDay, s)
	}
	return Day{t: t}, nil
}

// DayOf truncates a timestamp to its calendar day. Only the date portion of
// the timestamp is consulted; the caller is responsible for having localized
// it already.
func DayOf(t time.Time) Day {
	return NewDay(t.Year(), t.Month(), t.Day())
}

func Today() Day { return DayOf(time.Now()) }

// Comparison
func (d Day) Before(o Day) bool        { return d.t.Before(o.t) }
func (d Day) After(o Day) bool         { return d.t.After(o.t) }
func (d Day) Equal(o Day) bool         { return d.t.Equal(o.t) }
func (d Day) BeforeOrEqual(o Day) bool { return !d.t.After(o.t) }
func (d Day) AfterOrEqual(o Day) bool  { return !d.t.Before(o.t) }
func (d Day) IsZero() bool             { return d.t.IsZero() }

// Arithmetic
func (d Day) AddDays(n int) Day { return Day{t: d.t.AddDate(0, 0, n)} }
func (d Day) Prev() Day         { return d.AddDays(-1) }
func (d Day) Next() Day         { return d.AddDays(1) }

// Properties
func (d Day) Year() int         { return d.t.Year() }
func (d Day) MonthOf() Month    { return Month{Year: d.Year(), Month: d.t.Month()} }
func (d Day) DayOfMonth() int   { return d.t.Day() }
func (d Day) Time() time.Time   { return d.t }
func (d Day) StartOfDay() time.Time { return d.t }

func (d Day) String() string { return d.t.Format(dayFormat) }

// SameMonth reports whether both days fall in the same calendar month.
func (d Day) SameMonth(o Day) bool {
	return d.t.Year() == o.t.Year() && d.t.Month() == o.t.Month()
}

// =============================================================================
// DATE RANGE
// =============================================================================

// DateRange is an inclusive [From, To] span of days.
type DateRange struct {
	From Day
	To   Day
}

func NewDateRange(from, to Day) (DateRange, error) {
	if to.Before(from) {
		return DateRange{}, fmt.Errorf("%w: %s after %s", ErrInvalidRange, from, to)
	}
	return DateRange{From: from, To: to}, nil
}

func (r DateRange) Contains(d Day) bool {
	return d.AfterOrEqual(r.From) && d.BeforeOrEqual(r.To)
}

// Days returns every day in the range, ascending.
func (r DateRange) Days() []Day {
	var days []Day
	for cur := r.From; cur.BeforeOrEqual(r.To); cur = cur.Next() {
		days = append(days, cur)
	}
	return days
}

func (r DateRange) String() string {
	return "[" + r.From.String() + ", " + r.To.String() + "]"
}

// =============================================================================
// MONTH - Key for monthly closing balances
// =============================================================================

type Month struct {
	Year  int
	Month time.Month
}

func (m Month) Prev() Month {
	if m.Month == time.January {
		return Month{Year: m.Year - 1, Month: time.December}
	}
	return Month{Year: m.Year, Month: m.Month - 1}
}

func (m Month) FirstDay() Day { return NewDay(m.Year, m.Month, 1) }

func (m Month) LastDay() Day {
	return Day{t: time.Date(m.Year, m.Month+1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, -1)}
}

func (m Month) Range() DateRange {
	return DateRange{From: m.FirstDay(), To: m.LastDay()}
}

func (m Month) String() string { return fmt.Sprintf("%04d-%02d", m.Year, int(m.Month)) }

// ParseMonth parses a "YYYY-MM" key.
func ParseMonth(s string) (Month, error) {
	t, err := time.Parse("2006-01", s)
	if err != nil {
		return Month{}, fmt.Errorf("%w: %q", ErrInvalidMonth, s)
	}
	return Month{Year: t.Year(), Month: t.Month()}, nil
}

// =============================================================================
// IDENTIFIERS AND SCOPE
// =============================================================================

type EntityID string

// Dimension is the hierarchy level a statement is scoped to.
type Dimension string

const (
	DimensionBank   Dimension = "bank"
	DimensionBranch Dimension = "branch"
	DimensionAgent  Dimension = "agent"
)

func (d Dimension) Valid() bool {
	switch d {
	case DimensionBank, DimensionBranch, DimensionAgent:
		return true
	}
	return false
}

// Grouping distinguishes a statement for one entity from a consolidated
// statement aggregating all of the entity's children for that day.
type Grouping string

const (
	GroupingSingle       Grouping = "single"
	GroupingConsolidated Grouping = "consolidated"
)

func (g Grouping) Valid() bool {
	return g == GroupingSingle || g == GroupingConsolidated
}

// Scope is the typed composite key identifying whose statement is being
// computed. It is decided once by the orchestrator and passed down unchanged.
type Scope struct {
	Dimension Dimension
	EntityID  EntityID
	Grouping  Grouping
}

func SingleScope(dim Dimension, id EntityID) Scope {
	return Scope{Dimension: dim, EntityID: id, Grouping: GroupingSingle}
}

func ConsolidatedScope(dim Dimension, id EntityID) Scope {
	return Scope{Dimension: dim, EntityID: id, Grouping: GroupingConsolidated}
}

func (s Scope) Validate() error {
	if !s.Dimension.Valid() {
		return fmt.Errorf("%w: dimension %q", ErrInvalidScope, s.Dimension)
	}
	if s.EntityID == "" {
		return fmt.Errorf("%w: empty entity id", ErrInvalidScope)
	}
	if !s.Grouping.Valid() {
		return fmt.Errorf("%w: grouping %q", ErrInvalidScope, s.Grouping)
	}
	if s.Grouping == GroupingConsolidated && s.Dimension == DimensionAgent {
		return fmt.Errorf("%w: agents have no children to consolidate", ErrInvalidScope)
	}
	return nil
}

func (s Scope) String() string {
	return string(s.Dimension) + "/" + string(s.EntityID) + "/" + string(s.Grouping)
}

// StatementKey is the uniqueness key of a persisted statement row:
// exactly one row exists per key.
type StatementKey struct {
	Date  Day
	Scope Scope
}

func (k StatementKey) String() string {
	return k.Date.String() + "|" + k.Scope.String()
}

// =============================================================================
// DECIMAL HELPERS
// =============================================================================

// Zero is a fresh zero amount, named for readability at call sites.
func Zero() decimal.Decimal { return decimal.Zero }

// MustDecimal parses a decimal literal in tests and fixtures.
func MustDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}
