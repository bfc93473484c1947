package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/codeready-toolchain/patternctl/pkg/domainerr"
)

// FindingRow is a row of review_findings.
type FindingRow struct {
	FindingID         string    `db:"finding_id"`
	Repo              string    `db:"repo"`
	PRID              int64     `db:"pr_id"`
	RuleID            string    `db:"rule_id"`
	Severity          string    `db:"severity"`
	FilePath          string    `db:"file_path"`
	LineStart         int       `db:"line_start"`
	LineEnd           sql.NullInt64 `db:"line_end"`
	ToolName          string    `db:"tool_name"`
	ToolVersion       string    `db:"tool_version"`
	NormalizedMessage string    `db:"normalized_message"`
	RawMessage        string    `db:"raw_message"`
	CommitSHAObserved string    `db:"commit_sha_observed"`
	ObservedAt        time.Time `db:"observed_at"`
}

// FixRow is a row of review_fixes.
type FixRow struct {
	FixID           string         `db:"fix_id"`
	FindingID       string         `db:"finding_id"`
	FixCommitSHA    string         `db:"fix_commit_sha"`
	FilePath        string         `db:"file_path"`
	DiffHunks       []string       `db:"diff_hunks"`
	TouchedLineStart int           `db:"touched_line_start"`
	TouchedLineEnd   int           `db:"touched_line_end"`
	ToolAutofix      bool          `db:"tool_autofix"`
	AppliedAt        time.Time     `db:"applied_at"`
}

// PairRow is a row of finding_fix_pairs.
type PairRow struct {
	PairID                 string    `db:"pair_id"`
	FindingID              string    `db:"finding_id"`
	FixCommitSHA           string    `db:"fix_commit_sha"`
	DiffHunks              []string  `db:"diff_hunks"`
	ConfidenceScore        float64   `db:"confidence_score"`
	DisappearanceConfirmed bool      `db:"disappearance_confirmed"`
	PairingType            string    `db:"pairing_type"`
	CreatedAt              time.Time `db:"created_at"`
}

// PairingRepository owns review_findings, review_fixes, and
// finding_fix_pairs — pkg/pairing.Engine's only storage dependency.
type PairingRepository struct {
	db *sqlx.DB
}

func NewPairingRepository(db *sqlx.DB) *PairingRepository {
	return &PairingRepository{db: db}
}

func (r *PairingRepository) InsertFinding(ctx context.Context, f FindingRow) error {
	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO review_findings
			(finding_id, repo, pr_id, rule_id, severity, file_path, line_start, line_end,
			 tool_name, tool_version, normalized_message, raw_message, commit_sha_observed, observed_at)
		VALUES
			(:finding_id, :repo, :pr_id, :rule_id, :severity, :file_path, :line_start, :line_end,
			 :tool_name, :tool_version, :normalized_message, :raw_message, :commit_sha_observed, :observed_at)
		ON CONFLICT (finding_id) DO NOTHING`, f)
	if err != nil {
		return fmt.Errorf("pairing_repository: insert finding: %w", err)
	}
	return nil
}

func (r *PairingRepository) GetFinding(ctx context.Context, findingID string) (*FindingRow, error) {
	var row FindingRow
	err := r.db.GetContext(ctx, &row, `SELECT * FROM review_findings WHERE finding_id = $1`, findingID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domainerr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("pairing_repository: get finding: %w", err)
	}
	return &row, nil
}

func (r *PairingRepository) InsertFix(ctx context.Context, f FixRow) error {
	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO review_fixes
			(fix_id, finding_id, fix_commit_sha, file_path, diff_hunks, touched_line_start, touched_line_end, tool_autofix, applied_at)
		VALUES
			(:fix_id, :finding_id, :fix_commit_sha, :file_path, :diff_hunks, :touched_line_start, :touched_line_end, :tool_autofix, :applied_at)
		ON CONFLICT (fix_id) DO NOTHING`, f)
	if err != nil {
		return fmt.Errorf("pairing_repository: insert fix: %w", err)
	}
	return nil
}

func (r *PairingRepository) FixesForFindingInCommit(ctx context.Context, findingID, fixCommitSHA string) ([]FixRow, error) {
	var rows []FixRow
	err := r.db.SelectContext(ctx, &rows,
		`SELECT * FROM review_fixes WHERE finding_id = $1 AND fix_commit_sha = $2 ORDER BY fix_id ASC`,
		findingID, fixCommitSHA)
	if err != nil {
		return nil, fmt.Errorf("pairing_repository: fixes for finding: %w", err)
	}
	return rows, nil
}

// UpsertPair inserts a pair or, on (finding_id, fix_commit_sha) collision,
// updates disappearance_confirmed — enforcing "at most one pair per
// (finding_id, fix_commit_sha)" (spec.md §4.7 invariant #6) via the unique
// index rather than an application-level check.
func (r *PairingRepository) UpsertPair(ctx context.Context, p PairRow) (PairRow, bool, error) {
	const q = `
		INSERT INTO finding_fix_pairs
			(pair_id, finding_id, fix_commit_sha, diff_hunks, confidence_score, disappearance_confirmed, pairing_type, created_at)
		VALUES
			(:pair_id, :finding_id, :fix_commit_sha, :diff_hunks, :confidence_score, :disappearance_confirmed, :pairing_type, :created_at)
		ON CONFLICT (finding_id, fix_commit_sha) DO UPDATE
			SET disappearance_confirmed = EXCLUDED.disappearance_confirmed OR finding_fix_pairs.disappearance_confirmed
		RETURNING pair_id, finding_id, fix_commit_sha, diff_hunks, confidence_score, disappearance_confirmed, pairing_type, created_at`

	stmt, err := r.db.PrepareNamedContext(ctx, q)
	if err != nil {
		return PairRow{}, false, fmt.Errorf("pairing_repository: prepare upsert pair: %w", err)
	}
	defer stmt.Close()

	var out PairRow
	if err := stmt.GetContext(ctx, &out, p); err != nil {
		return PairRow{}, false, fmt.Errorf("pairing_repository: upsert pair: %w", err)
	}
	created := out.PairID == p.PairID
	return out, created, nil
}

func (r *PairingRepository) GetPair(ctx context.Context, findingID, fixCommitSHA string) (*PairRow, error) {
	var row PairRow
	err := r.db.GetContext(ctx, &row,
		`SELECT pair_id, finding_id, fix_commit_sha, diff_hunks, confidence_score, disappearance_confirmed, pairing_type, created_at
		 FROM finding_fix_pairs WHERE finding_id = $1 AND fix_commit_sha = $2`, findingID, fixCommitSHA)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domainerr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("pairing_repository: get pair: %w", err)
	}
	return &row, nil
}

// PairsAboveFloor returns every pair with confidence_score at or above
// floor, the input set for downstream lifecycle promotion (spec.md §8
// invariant #7).
func (r *PairingRepository) PairsAboveFloor(ctx context.Context, floor float64) ([]PairRow, error) {
	var rows []PairRow
	err := r.db.SelectContext(ctx, &rows,
		`SELECT pair_id, finding_id, fix_commit_sha, diff_hunks, confidence_score, disappearance_confirmed, pairing_type, created_at
		 FROM finding_fix_pairs WHERE confidence_score >= $1 ORDER BY created_at ASC`, floor)
	if err != nil {
		return nil, fmt.Errorf("pairing_repository: pairs above floor: %w", err)
	}
	return rows, nil
}
