package feedback

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/codeready-toolchain/patternctl/pkg/storage"
)

func TestScheduler_RunOnceInvokesRollup(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()
	sqlxDB := sqlx.NewDb(db, "sqlmock")

	mock.ExpectQuery("FROM routing_feedback_scores").
		WillReturnRows(sqlmock.NewRows([]string{
			"session_id", "agent_selected", "recommended_agent", "routing_confidence", "injection_occurred",
			"patterns_injected_count", "tool_calls_count", "duration_ms", "processed_at", "pattern_ids",
		}))

	scorer := NewScorer(storage.NewFeedbackRepository(sqlxDB), nil, 30000)
	sched := NewScheduler(scorer, time.Hour, zap.NewNop())

	require.NoError(t, sched.RunOnce(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}
