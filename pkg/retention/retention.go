// Package retention enforces RETENTION_DAYS_FSM_HISTORY by pruning
// fsm_state_history on a daily schedule, generalizing the teacher's
// pkg/cleanup.Service (ticker-driven soft-delete of old sessions) to a
// cron-scheduled hard-delete of append-only audit rows whose retention
// window has passed.
package retention

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Service periodically deletes fsm_state_history rows older than
// retentionDays. All operations are idempotent and safe to run from
// multiple pods (a delete that finds nothing is a no-op).
type Service struct {
	db            *sqlx.DB
	retentionDays int
	logger        *zap.Logger
	cron          *cron.Cron
	entryID       cron.EntryID
}

// NewService builds a retention Service. schedule is a standard cron
// expression (e.g. "0 3 * * *" for daily at 03:00); callers typically
// use cron.New()'s default parser, which this package's Start wires up.
func NewService(db *sqlx.DB, retentionDays int, logger *zap.Logger) *Service {
	return &Service{
		db:            db,
		retentionDays: retentionDays,
		logger:        logger,
	}
}

// Start schedules the prune job and runs it once immediately (mirroring
// the teacher's cleanup.Service.run, which calls runAll before entering
// its ticker loop) so a freshly started pod doesn't wait a full day for
// its first pass.
func (s *Service) Start(ctx context.Context, schedule string) error {
	s.cron = cron.New()
	entryID, err := s.cron.AddFunc(schedule, func() {
		if _, err := s.RunOnce(ctx); err != nil {
			s.logger.Error("retention: prune pass failed", zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("retention: schedule %q: %w", schedule, err)
	}
	s.entryID = entryID
	s.cron.Start()

	if _, err := s.RunOnce(ctx); err != nil {
		s.logger.Error("retention: initial prune pass failed", zap.Error(err))
	}
	return nil
}

// Stop halts the scheduler and waits for any in-flight job to finish.
func (s *Service) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
}

// RunOnce deletes fsm_state_history rows older than retentionDays,
// returning how many were removed. A retentionDays of 0 disables
// pruning entirely (spec.md default is 90; operators can opt out).
func (s *Service) RunOnce(ctx context.Context) (int64, error) {
	if s.retentionDays <= 0 {
		return 0, nil
	}

	result, err := s.db.ExecContext(ctx,
		`DELETE FROM fsm_state_history WHERE occurred_at < now() - ($1 || ' days')::interval`,
		s.retentionDays)
	if err != nil {
		return 0, fmt.Errorf("retention: prune fsm_state_history: %w", err)
	}

	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("retention: rows affected: %w", err)
	}
	if count > 0 {
		s.logger.Info("retention: pruned fsm_state_history rows", zap.Int64("count", count))
	}
	return count, nil
}
