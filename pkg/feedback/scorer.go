// Package feedback implements the review-feedback scorer (spec.md §4.8):
// joins session-level routing outcomes with the patterns surfaced to that
// session to produce per-pattern success rollups.
package feedback

import (
	"context"
	"time"

	"github.com/codeready-toolchain/patternctl/pkg/lifecycle"
	"github.com/codeready-toolchain/patternctl/pkg/storage"
)

// Scorer joins routing_feedback_scores with pattern_injections and writes
// rollups back through the lifecycle reducer, never touching
// learned_patterns directly (keeping pattern writes single-writer).
type Scorer struct {
	repo              *storage.FeedbackRepository
	lifecycleReducer  *lifecycle.Reducer
	durationCeilingMS int64
}

func NewScorer(repo *storage.FeedbackRepository, reducer *lifecycle.Reducer, durationCeilingMS int64) *Scorer {
	return &Scorer{repo: repo, lifecycleReducer: reducer, durationCeilingMS: durationCeilingMS}
}

// RecordInjection stores that a set of patterns was surfaced for a
// session/run.
func (s *Scorer) RecordInjection(ctx context.Context, injectionID, sessionID, runID string, patternIDs []string, occurredAt time.Time) error {
	return s.repo.RecordInjection(ctx, injectionID, sessionID, runID, patternIDs, occurredAt)
}

// RecordOutcome stores a session's routing outcome.
func (s *Scorer) RecordOutcome(ctx context.Context, row storage.FeedbackRow) error {
	return s.repo.RecordOutcome(ctx, row)
}

// IsSuccess is the per-session success predicate from spec.md §4.8: the
// session counts as a success iff the selected agent matches the
// recommended agent AND at least one tool call happened AND duration is
// under the domain-configured ceiling.
func (s *Scorer) IsSuccess(row storage.FeedbackRow, recommendedAgent string) bool {
	return row.AgentSelected == recommendedAgent &&
		row.ToolCallsCount > 0 &&
		row.DurationMS < s.durationCeilingMS
}

// patternRollup accumulates successes/failures across sessions for one
// pattern.
type patternRollup struct {
	successes int64
	failures  int64
}

// Rollup joins every feedback row since `since` against the patterns it
// injected, computes success_rate = successes / (successes + failures) per
// pattern, and writes each back through the lifecycle reducer. Each row
// already carries the recommended_agent recorded alongside its outcome
// (spec.md's "routing-recommended agent" is a property of the session, not
// a separate lookup).
func (s *Scorer) Rollup(ctx context.Context, since time.Time) error {
	rows, err := s.repo.PatternsInjectedSince(ctx, since)
	if err != nil {
		return err
	}

	byPattern := make(map[string]*patternRollup)
	for _, row := range rows {
		success := s.IsSuccess(row, row.RecommendedAgent)
		for _, patternID := range row.PatternIDs {
			roll, ok := byPattern[patternID]
			if !ok {
				roll = &patternRollup{}
				byPattern[patternID] = roll
			}
			if success {
				roll.successes++
			} else {
				roll.failures++
			}
		}
	}

	for patternID, roll := range byPattern {
		total := roll.successes + roll.failures
		if total == 0 {
			continue
		}
		rate := float64(roll.successes) / float64(total)
		if err := s.lifecycleReducer.UpdateSuccessRate(ctx, patternID, rate, total); err != nil {
			return err
		}
	}
	return nil
}
