package learn

import (
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/patternctl/pkg/learning/extract"
	"github.com/codeready-toolchain/patternctl/pkg/storage"
)

func TestUpsert_FirstVersionHasNoPredecessor(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()
	sqlxDB := sqlx.NewDb(db, "sqlmock")
	repo := storage.NewPatternRepository(sqlxDB)

	mock.ExpectQuery(`SELECT MAX\(version\) FROM learned_patterns`).
		WithArgs("abc123", "domain-1").
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(nil))

	mock.ExpectQuery(`SELECT id, pattern_type, name, domain_id, signature_hash, version, status`).
		WithArgs("tool_repetition", "grep_repeated", "domain-1", "abc123").
		WillReturnError(sql.ErrNoRows)

	mock.ExpectPrepare(`INSERT INTO learned_patterns`)
	mock.ExpectQuery(`INSERT INTO learned_patterns`).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "pattern_type", "name", "domain_id", "signature_hash", "version", "status",
			"success_criteria", "match_count", "success_rate", "supersedes", "superseded_by", "quality_metrics", "created_at", "updated_at",
		}).AddRow(
			"pattern-1", "tool_repetition", "grep_repeated", "domain-1", "abc123", 1, "CANDIDATE",
			[]byte(`{}`), 0, 0.0, nil, nil, []byte(`{}`), nil, nil,
		))

	c := extract.Candidate{PatternType: "tool_repetition", Name: "grep_repeated", SignatureHash: "abc123", EssentialStructure: map[string]any{"x": 1}}

	row, err := Upsert(t.Context(), repo, c, "domain-1")
	require.NoError(t, err)
	require.Equal(t, "pattern-1", row.ID)
}
