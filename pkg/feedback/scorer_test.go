package feedback

import (
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/patternctl/pkg/lifecycle"
	"github.com/codeready-toolchain/patternctl/pkg/storage"
)

func TestIsSuccess_AllThreeConditionsRequired(t *testing.T) {
	scorer := NewScorer(nil, nil, 30000)

	base := storage.FeedbackRow{AgentSelected: "triage-agent", ToolCallsCount: 2, DurationMS: 1000}
	assert.True(t, scorer.IsSuccess(base, "triage-agent"))

	wrongAgent := base
	assert.False(t, scorer.IsSuccess(wrongAgent, "other-agent"))

	noToolCalls := base
	noToolCalls.ToolCallsCount = 0
	assert.False(t, scorer.IsSuccess(noToolCalls, "triage-agent"))

	tooSlow := base
	tooSlow.DurationMS = 60000
	assert.False(t, scorer.IsSuccess(tooSlow, "triage-agent"))
}

func TestRollup_WritesSuccessRateBackThroughLifecycleReducer(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()
	sqlxDB := sqlx.NewDb(db, "sqlmock")

	feedbackRepo := storage.NewFeedbackRepository(sqlxDB)
	reducer := lifecycle.NewReducer(storage.NewLifecycleRepository(sqlxDB))
	scorer := NewScorer(feedbackRepo, reducer, 30000)

	since := time.Unix(0, 0)
	mock.ExpectQuery(`SELECT s\.session_id`).
		WithArgs(since).
		WillReturnRows(sqlmock.NewRows([]string{
			"session_id", "agent_selected", "recommended_agent", "routing_confidence", "injection_occurred",
			"patterns_injected_count", "tool_calls_count", "duration_ms", "processed_at", "pattern_ids",
		}).
			AddRow("s1", "triage-agent", "triage-agent", 0.9, true, 1, 3, 1000, since, pq.StringArray{"pattern-1"}).
			AddRow("s2", "triage-agent", "other-agent", 0.9, true, 1, 3, 1000, since, pq.StringArray{"pattern-1"}))

	mock.ExpectExec(`UPDATE learned_patterns SET success_rate`).
		WithArgs(0.5, int64(2), "pattern-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, scorer.Rollup(t.Context(), since))
	require.NoError(t, mock.ExpectationsWereMet())
}
