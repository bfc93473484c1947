package storage

import (
	"context"
	"errors"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"
)

func newMockRepo(t *testing.T) (*LifecycleRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewLifecycleRepository(sqlx.NewDb(db, "sqlmock")), mock
}

// TestApplyTransition_RollsBackOnFaultAfterFirstStatement is spec.md §8
// scenario 5: inject a DB fault after step 1 (the pattern status update)
// and confirm none of the later statements ran and the transaction rolled
// back.
func TestApplyTransition_RollsBackOnFaultAfterFirstStatement(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE learned_patterns SET status`).
		WillReturnError(errors.New("simulated connection reset"))
	mock.ExpectRollback()

	err := repo.ApplyTransition(context.Background(), "pattern-1", "PROVISIONAL", "VALIDATED", "system", "promotion", "corr-1", false, "")
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyTransition_PromotionCommitsAllThreeStatements(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE learned_patterns SET status`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO pattern_lifecycle`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO pattern_lifecycle_transitions`).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err := repo.ApplyTransition(context.Background(), "pattern-1", "PROVISIONAL", "VALIDATED", "system", "promotion", "corr-1", false, "")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyTransition_DisableEdgeWritesDisableEventAndProjection(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE learned_patterns SET status`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO pattern_lifecycle`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO pattern_lifecycle_transitions`).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(`INSERT INTO pattern_disable_events`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO disabled_patterns_current`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := repo.ApplyTransition(context.Background(), "pattern-1", "VALIDATED", "DEPRECATED", "system", "negative signal", "corr-2", true, "security")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
