package fsm

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/codeready-toolchain/patternctl/pkg/storage"
)

// OrphanDetector periodically scans fsm_state for rows whose lease has
// expired and logs them, the same ticker shape as the teacher's
// runOrphanDetection/detectAndRecoverOrphans. It never transitions state
// itself — only a fresh Propose may reclaim a stale lease — it exists so
// operators can see leases piling up before they become a problem.
type OrphanDetector struct {
	repo     *storage.FSMRepository
	logger   *zap.Logger
	interval time.Duration
	staleAge time.Duration

	stopCh chan struct{}
	doneCh chan struct{}
}

func NewOrphanDetector(repo *storage.FSMRepository, logger *zap.Logger, interval, staleAge time.Duration) *OrphanDetector {
	return &OrphanDetector{
		repo:     repo,
		logger:   logger,
		interval: interval,
		staleAge: staleAge,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start runs the detection loop until Stop is called or ctx is cancelled.
func (d *OrphanDetector) Start(ctx context.Context) {
	go d.run(ctx)
}

func (d *OrphanDetector) run(ctx context.Context) {
	defer close(d.doneCh)
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-d.stopCh:
			return
		case <-ticker.C:
			d.detectOnce(ctx)
		}
	}
}

func (d *OrphanDetector) detectOnce(ctx context.Context) {
	rows, err := d.repo.FindExpiredLeases(ctx, d.staleAge)
	if err != nil {
		d.logger.Warn("orphan detection query failed", zap.Error(err))
		return
	}
	for _, row := range rows {
		d.logger.Warn("fsm lease expired without release",
			zap.String("fsm_kind", row.FSMKind),
			zap.String("entity_id", row.EntityID),
			zap.String("current_state", row.CurrentState),
		)
	}
}

// Stop signals the loop to exit and waits for it to finish.
func (d *OrphanDetector) Stop() {
	close(d.stopCh)
	<-d.doneCh
}
