/*
scheduler.go - Automated month-close scheduler

PURPOSE:
  On the first day of each month, snapshots the previous month's closing
  balance for every scope that has statements. Snapshots make the
  month-opening seed a stored fact instead of a recomputation, so a
  January correction cannot silently shift February's opening unless a
  recomputation is explicitly triggered.

DESIGN:
  - robfig/cron drives the schedule ("0 2 1 * *": 02:00 on the 1st)
  - Each run enumerates scopes from the statement store
  - Per-scope failures are logged and skipped; one bad scope must not
    block the rest
  - RunOnce is exported so operators can force a close out of schedule

USAGE:
  scheduler := NewMonthCloseScheduler(store, resolver, log)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - ledger/closing.go: ClosingResolver.Snapshot
  - cmd/server/main.go: wiring
*/
package api

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/warp/statement-engine/ledger"
)

// monthCloseSpec fires at 02:00 on the first day of every month.
const monthCloseSpec = "0 2 1 * *"

// MonthCloseScheduler persists monthly closing snapshots on a cron
// schedule.
type MonthCloseScheduler struct {
	Statements ledger.StatementStore
	Closings   *ledger.ClosingResolver
	Log        *logrus.Logger

	// RunTimeout bounds one full close run.
	RunTimeout time.Duration

	cron *cron.Cron
}

// NewMonthCloseScheduler creates a scheduler over the given stores.
func NewMonthCloseScheduler(statements ledger.StatementStore,
	closings *ledger.ClosingResolver, log *logrus.Logger) *MonthCloseScheduler {
	return &MonthCloseScheduler{
		Statements: statements,
		Closings:   closings,
		Log:        log,
		RunTimeout: 10 * time.Minute,
	}
}

// Start registers the cron entry and begins the schedule.
func (s *MonthCloseScheduler) Start() error {
	s.cron = cron.New()
	_, err := s.cron.AddFunc(monthCloseSpec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.RunTimeout)
		defer cancel()
		s.RunOnce(ctx, prevMonth(time.Now().UTC()))
	})
	if err != nil {
		return err
	}
	s.cron.Start()
	s.Log.WithField("spec", monthCloseSpec).Info("month-close scheduler started")
	return nil
}

// Stop halts the schedule, waiting for a running close to finish.
func (s *MonthCloseScheduler) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
	s.Log.Info("month-close scheduler stopped")
}

// RunOnce snapshots the closing of month m for every known scope.
// Per-scope failures are logged; the run continues.
func (s *MonthCloseScheduler) RunOnce(ctx context.Context, m ledger.Month) {
	scopes, err := s.Statements.Scopes(ctx)
	if err != nil {
		s.Log.WithError(err).Error("month close: list scopes")
		return
	}

	closed := 0
	for _, scope := range scopes {
		if _, err := s.Closings.Snapshot(ctx, scope, m); err != nil {
			s.Log.WithError(err).WithFields(logrus.Fields{
				"scope": scope.String(),
				"month": m.String(),
			}).Error("month close: snapshot failed")
			continue
		}
		closed++
	}
	s.Log.WithFields(logrus.Fields{
		"month":  m.String(),
		"scopes": len(scopes),
		"closed": closed,
	}).Info("month close complete")
}

func prevMonth(now time.Time) ledger.Month {
	return ledger.Month{Year: now.Year(), Month: now.Month()}.Prev()
}
