package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// FeedbackRow is a joined view of routing_feedback_scores and
// pattern_injections for one session — exactly the inputs pkg/feedback.Scorer
// needs to compute a success rollup (spec.md §4.8).
type FeedbackRow struct {
	SessionID             string        `db:"session_id"`
	AgentSelected         string        `db:"agent_selected"`
	RecommendedAgent      string        `db:"recommended_agent"`
	RoutingConfidence     float64       `db:"routing_confidence"`
	InjectionOccurred     bool          `db:"injection_occurred"`
	PatternsInjectedCount int           `db:"patterns_injected_count"`
	ToolCallsCount        int           `db:"tool_calls_count"`
	DurationMS            int64         `db:"duration_ms"`
	ProcessedAt           time.Time     `db:"processed_at"`
	PatternIDs            pqStringArray `db:"pattern_ids"`
}

// FeedbackRepository owns routing_feedback_scores and the read side of
// pattern_injections; pkg/feedback.Scorer never writes learned_patterns
// directly, only through pkg/lifecycle.Reducer.
type FeedbackRepository struct {
	db *sqlx.DB
}

func NewFeedbackRepository(db *sqlx.DB) *FeedbackRepository {
	return &FeedbackRepository{db: db}
}

// RecordInjection persists that a set of patterns was surfaced for a
// session/run. An empty pattern_ids array is valid (spec.md §8 boundary
// behavior): the injection row still persists, no integrity error.
func (r *FeedbackRepository) RecordInjection(ctx context.Context, injectionID, sessionID, runID string, patternIDs []string, occurredAt time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO pattern_injections (injection_id, session_id, run_id, pattern_ids, occurred_at) VALUES ($1, $2, $3, $4, $5)`,
		injectionID, sessionID, runID, pqArray(patternIDs), occurredAt)
	if err != nil {
		return fmt.Errorf("feedback_repository: record injection: %w", err)
	}
	return nil
}

// RecordOutcome upserts a session's routing outcome.
func (r *FeedbackRepository) RecordOutcome(ctx context.Context, row FeedbackRow) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO routing_feedback_scores
			(session_id, agent_selected, recommended_agent, routing_confidence, injection_occurred, patterns_injected_count, tool_calls_count, duration_ms, processed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (session_id) DO UPDATE SET
			agent_selected = $2, recommended_agent = $3, routing_confidence = $4, injection_occurred = $5,
			patterns_injected_count = $6, tool_calls_count = $7, duration_ms = $8, processed_at = $9`,
		row.SessionID, row.AgentSelected, row.RecommendedAgent, row.RoutingConfidence, row.InjectionOccurred,
		row.PatternsInjectedCount, row.ToolCallsCount, row.DurationMS, row.ProcessedAt)
	if err != nil {
		return fmt.Errorf("feedback_repository: record outcome: %w", err)
	}
	return nil
}

// PatternsInjectedSince returns, per pattern_id, the joined outcome rows
// for every injection recorded since the given time — the feedback
// scorer's batch input.
func (r *FeedbackRepository) PatternsInjectedSince(ctx context.Context, since time.Time) ([]FeedbackRow, error) {
	var rows []FeedbackRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT s.session_id, s.agent_selected, s.recommended_agent, s.routing_confidence, s.injection_occurred,
		       s.patterns_injected_count, s.tool_calls_count, s.duration_ms, s.processed_at,
		       i.pattern_ids
		FROM routing_feedback_scores s
		JOIN pattern_injections i ON i.session_id = s.session_id
		WHERE s.processed_at >= $1`, since)
	if err != nil {
		return nil, fmt.Errorf("feedback_repository: patterns injected since: %w", err)
	}
	return rows, nil
}
