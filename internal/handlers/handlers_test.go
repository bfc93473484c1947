package handlers

import (
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/patternctl/pkg/domainerr"
	"github.com/codeready-toolchain/patternctl/pkg/envelope"
	"github.com/codeready-toolchain/patternctl/pkg/feedback"
	"github.com/codeready-toolchain/patternctl/pkg/lifecycle"
	"github.com/codeready-toolchain/patternctl/pkg/outbox"
	"github.com/codeready-toolchain/patternctl/pkg/pairing"
	"github.com/codeready-toolchain/patternctl/pkg/storage"
)

func TestFindingObserved_InsertsFindingRow(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()
	sqlxDB := sqlx.NewDb(db, "sqlmock")

	engine := pairing.NewEngine(storage.NewPairingRepository(sqlxDB))
	deps := Deps{Pairing: engine}

	mock.ExpectExec("INSERT INTO review_findings").WillReturnResult(sqlmock.NewResult(0, 1))

	payload := FindingObservedV1{
		FindingID: "f1", Repo: "org/repo", PRID: 42, RuleID: "r1", Severity: "warning",
		FilePath: "a.go", LineStart: 10, ToolName: "golangci-lint", ToolVersion: "1.0",
		NormalizedMessage: "msg", RawMessage: "raw", CommitSHAObserved: "abc1234",
		ObservedAt: time.Unix(0, 0).UTC(),
	}
	env, err := envelope.New("finding_observed", 1, "9f8e7d6c-5b4a-3c2d-1e0f-abcdef012345", "test", payload)
	require.NoError(t, err)

	require.NoError(t, findingObserved(deps)(t.Context(), env))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionOutcome_RecordsOutcomeAndInjection(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()
	sqlxDB := sqlx.NewDb(db, "sqlmock")

	scorer := feedback.NewScorer(storage.NewFeedbackRepository(sqlxDB), nil, 30000)
	deps := Deps{Feedback: scorer}

	mock.ExpectExec("INSERT INTO routing_feedback_scores").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO pattern_injections").WillReturnResult(sqlmock.NewResult(0, 1))

	payload := SessionOutcomeV1{
		SessionID: "s1", RunID: "run1", AgentSelected: "triage-agent", RecommendedAgent: "triage-agent",
		RoutingConfidence: 0.9, InjectionOccurred: true, PatternIDsInjected: []string{"pattern-1"},
		ToolCallsCount: 2, DurationMS: 1000, ProcessedAt: time.Unix(0, 0).UTC(),
	}
	env, err := envelope.New("session_outcome", 1, "9f8e7d6c-5b4a-3c2d-1e0f-abcdef012345", "test", payload)
	require.NoError(t, err)

	require.NoError(t, sessionOutcome(deps)(t.Context(), env))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPatternPromotionRequested_RejectsPromotionBelowConfidenceFloor(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()
	sqlxDB := sqlx.NewDb(db, "sqlmock")

	deps := Deps{
		DB:                     sqlxDB,
		Lifecycle:              lifecycle.NewReducer(storage.NewLifecycleRepository(sqlxDB)),
		PairingRepo:            storage.NewPairingRepository(sqlxDB),
		PairingConfidenceFloor: 0.5,
		Outbox:                 outbox.NewStore(),
	}

	mock.ExpectQuery("FROM finding_fix_pairs WHERE confidence_score >= \\$1").
		WillReturnRows(sqlmock.NewRows([]string{
			"pair_id", "finding_id", "fix_commit_sha", "diff_hunks", "confidence_score",
			"disappearance_confirmed", "pairing_type", "created_at",
		}))

	payload := PatternPromotionRequestedV1{
		PatternID: "pat1", FromStatus: "PROVISIONAL", ToStatus: "VALIDATED", Actor: "scheduler", Reason: "periodic review",
	}
	env, err := envelope.New("pattern_promotion_requested", 1, "9f8e7d6c-5b4a-3c2d-1e0f-abcdef012345", "test", payload)
	require.NoError(t, err)

	err = patternPromotionRequested(deps)(t.Context(), env)
	require.Error(t, err)
	require.Equal(t, domainerr.InvalidTransition, domainerr.KindOf(err))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPatternPromotionRequested_DeprecateEmitsTransitionAndDeprecatedEvents(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()
	sqlxDB := sqlx.NewDb(db, "sqlmock")

	deps := Deps{
		DB:                              sqlxDB,
		Lifecycle:                       lifecycle.NewReducer(storage.NewLifecycleRepository(sqlxDB)),
		PairingRepo:                     storage.NewPairingRepository(sqlxDB),
		PairingConfidenceFloor:          0.5,
		Outbox:                          outbox.NewStore(),
		PatternLifecycleTransitionTopic: "prod.patternctl.evt.lifecycle.pattern_lifecycle_transition.v1",
		PatternDeprecatedTopic:          "prod.patternctl.evt.lifecycle.pattern_deprecated.v1",
	}

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE learned_patterns SET status").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO pattern_lifecycle ").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO pattern_lifecycle_transitions").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO pattern_disable_events").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO disabled_patterns_current").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO outbox_messages").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO outbox_messages").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	payload := PatternPromotionRequestedV1{
		PatternID: "pat1", FromStatus: "PROVISIONAL", ToStatus: "DEPRECATED", Actor: "scheduler",
		Reason: "negative signal", PatternClass: "lint-rule",
	}
	env, err := envelope.New("pattern_promotion_requested", 1, "9f8e7d6c-5b4a-3c2d-1e0f-abcdef012345", "test", payload)
	require.NoError(t, err)

	require.NoError(t, patternPromotionRequested(deps)(t.Context(), env))
	require.NoError(t, mock.ExpectationsWereMet())
}
