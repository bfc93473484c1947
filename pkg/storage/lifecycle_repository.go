package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/codeready-toolchain/patternctl/pkg/domainerr"
)

// LifecycleRepository owns pattern_lifecycle, pattern_lifecycle_transitions,
// pattern_disable_events, and disabled_patterns_current. pkg/lifecycle.Reducer
// is its only caller — the sole writer of learned_patterns.status per
// spec.md §4.6.
type LifecycleRepository struct {
	db *sqlx.DB
}

func NewLifecycleRepository(db *sqlx.DB) *LifecycleRepository {
	return &LifecycleRepository{db: db}
}

// ApplyTransition updates the pattern row's status, appends a transition
// row, and — for a disable edge — appends a pattern_disable_events row and
// upserts disabled_patterns_current, all inside one transaction. On any
// failure every part rolls back (spec.md §4.6, testable scenario 5).
func (r *LifecycleRepository) ApplyTransition(ctx context.Context, patternID, fromStatus, toStatus, actor, reason, correlationID string, isDisable bool, patternClass string) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("lifecycle_repository: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()

	res, err := tx.ExecContext(ctx,
		`UPDATE learned_patterns SET status = $1, updated_at = $2 WHERE id = $3 AND status = $4`,
		toStatus, now, patternID, fromStatus)
	if err != nil {
		return fmt.Errorf("lifecycle_repository: update pattern status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("lifecycle_repository: rows affected: %w", err)
	}
	if affected == 0 {
		return domainerr.New(domainerr.InvalidTransition, correlationID,
			fmt.Sprintf("pattern %s is not in status %s", patternID, fromStatus))
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO pattern_lifecycle (pattern_id, status, updated_at) VALUES ($1, $2, $3)
		 ON CONFLICT (pattern_id) DO UPDATE SET status = $2, updated_at = $3`,
		patternID, toStatus, now); err != nil {
		return fmt.Errorf("lifecycle_repository: upsert pattern_lifecycle: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO pattern_lifecycle_transitions (pattern_id, from_status, to_status, actor, reason, correlation_id, occurred_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		patternID, fromStatus, toStatus, actor, reason, correlationID, now); err != nil {
		return fmt.Errorf("lifecycle_repository: insert transition: %w", err)
	}

	if isDisable {
		eventID := uuid.NewString()
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO pattern_disable_events (event_id, pattern_id, pattern_class, actor, reason, event_at, correlation_id)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			eventID, patternID, patternClass, actor, reason, now, correlationID); err != nil {
			return fmt.Errorf("lifecycle_repository: insert disable event: %w", err)
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO disabled_patterns_current (pattern_id, event_id, pattern_class, reason, event_at)
			 VALUES ($1, $2, $3, $4, $5)
			 ON CONFLICT (pattern_id) DO UPDATE SET event_id = $2, pattern_class = $3, reason = $4, event_at = $5
			 WHERE disabled_patterns_current.event_at <= $5`,
			patternID, eventID, patternClass, reason, now); err != nil {
			return fmt.Errorf("lifecycle_repository: upsert disabled_patterns_current: %w", err)
		}
	}

	return tx.Commit()
}

// UpdateSuccessRate writes success_rate back to learned_patterns — the
// feedback scorer's only write path, kept behind this repository so
// learned_patterns.status and success_rate both funnel through the
// lifecycle owner (spec.md §4.8: "writes remain single-writer").
func (r *LifecycleRepository) UpdateSuccessRate(ctx context.Context, patternID string, successRate float64, matchCount int64) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE learned_patterns SET success_rate = $1, match_count = $2, updated_at = now() WHERE id = $3`,
		successRate, matchCount, patternID)
	if err != nil {
		return fmt.Errorf("lifecycle_repository: update success rate: %w", err)
	}
	return nil
}

// DisabledCurrent fetches the current disable-event projection for a
// pattern, used by invariant #9's test.
func (r *LifecycleRepository) DisabledCurrent(ctx context.Context, patternID string) (eventID string, eventAt time.Time, err error) {
	var row struct {
		EventID string    `db:"event_id"`
		EventAt time.Time `db:"event_at"`
	}
	err = r.db.GetContext(ctx, &row, `SELECT event_id, event_at FROM disabled_patterns_current WHERE pattern_id = $1`, patternID)
	if err != nil {
		return "", time.Time{}, err
	}
	return row.EventID, row.EventAt, nil
}
