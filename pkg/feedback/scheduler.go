package feedback

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Scheduler runs Scorer.Rollup on a cron schedule, the same
// ticker-turned-cron wrapping pkg/retention.Service applies to its own
// prune pass: the §4.8 success-rate rollup is batch work with no natural
// inbound event to trigger it per call, so it runs on its own clock
// instead of living inside a handler.
type Scheduler struct {
	scorer  *Scorer
	window  time.Duration
	logger  *zap.Logger
	cron    *cron.Cron
	entryID cron.EntryID
}

// NewScheduler builds a Scheduler. window is how far back each pass
// reaches (deliberately wider than the schedule's own period, so a
// session recorded shortly before a pass still gets rolled up on the
// next one rather than needing its own exact tick).
func NewScheduler(scorer *Scorer, window time.Duration, logger *zap.Logger) *Scheduler {
	return &Scheduler{scorer: scorer, window: window, logger: logger}
}

// Start schedules the rollup pass and runs it once immediately, mirroring
// retention.Service.Start so a freshly started pod doesn't wait out a
// full period before its first pass.
func (s *Scheduler) Start(ctx context.Context, schedule string) error {
	s.cron = cron.New()
	entryID, err := s.cron.AddFunc(schedule, func() {
		if err := s.RunOnce(ctx); err != nil {
			s.logger.Error("feedback: rollup pass failed", zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("feedback: schedule %q: %w", schedule, err)
	}
	s.entryID = entryID
	s.cron.Start()

	if err := s.RunOnce(ctx); err != nil {
		s.logger.Error("feedback: initial rollup pass failed", zap.Error(err))
	}
	return nil
}

// Stop halts the scheduler and waits for any in-flight pass to finish.
func (s *Scheduler) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
}

// RunOnce rolls up every feedback row recorded within the window.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	since := time.Now().UTC().Add(-s.window)
	if err := s.scorer.Rollup(ctx, since); err != nil {
		return fmt.Errorf("feedback: rollup since %s: %w", since, err)
	}
	return nil
}
