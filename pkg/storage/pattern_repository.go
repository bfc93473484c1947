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

// PatternRow is a row of learned_patterns.
type PatternRow struct {
	ID              string         `db:"id"`
	PatternType     string         `db:"pattern_type"`
	Name            string         `db:"name"`
	DomainID        string         `db:"domain_id"`
	SignatureHash   string         `db:"signature_hash"`
	Version         int            `db:"version"`
	Status          string         `db:"status"`
	SuccessCriteria []byte         `db:"success_criteria"`
	MatchCount      int64          `db:"match_count"`
	SuccessRate     float64        `db:"success_rate"`
	Supersedes      sql.NullString `db:"supersedes"`
	SupersededBy    sql.NullString `db:"superseded_by"`
	QualityMetrics  []byte         `db:"quality_metrics"`
	CreatedAt       time.Time      `db:"created_at"`
	UpdatedAt       time.Time      `db:"updated_at"`
}

// PatternRepository owns learned_patterns. Status is mutated only through
// pkg/lifecycle.Reducer (spec.md §4.6); this repository's Upsert is the
// learning pipeline's one write path (spec.md §4.5).
type PatternRepository struct {
	db *sqlx.DB
}

func NewPatternRepository(db *sqlx.DB) *PatternRepository {
	return &PatternRepository{db: db}
}

// Upsert inserts a new pattern version or, if (signature_hash, domain_id,
// version) already exists, is a no-op that returns the existing row — the
// pipeline's retry-safety property (spec.md §4.5: "same input produces the
// same set of upserts").
func (r *PatternRepository) Upsert(ctx context.Context, p PatternRow) (PatternRow, error) {
	const q = `
		INSERT INTO learned_patterns
			(id, pattern_type, name, domain_id, signature_hash, version, status,
			 success_criteria, match_count, success_rate, supersedes, quality_metrics, created_at, updated_at)
		VALUES (:id, :pattern_type, :name, :domain_id, :signature_hash, :version, :status,
			:success_criteria, :match_count, :success_rate, :supersedes, :quality_metrics, :created_at, :updated_at)
		ON CONFLICT (signature_hash, domain_id, version) DO NOTHING
		RETURNING id, pattern_type, name, domain_id, signature_hash, version, status,
		          success_criteria, match_count, success_rate, supersedes, superseded_by, quality_metrics, created_at, updated_at`

	stmt, err := r.db.PrepareNamedContext(ctx, q)
	if err != nil {
		return PatternRow{}, fmt.Errorf("pattern_repository: prepare upsert: %w", err)
	}
	defer stmt.Close()

	var out PatternRow
	err = stmt.GetContext(ctx, &out, p)
	if errors.Is(err, sql.ErrNoRows) {
		existing, getErr := r.GetBySignature(ctx, p.SignatureHash, p.DomainID, p.Version)
		if getErr != nil {
			return PatternRow{}, fmt.Errorf("pattern_repository: upsert conflict but lookup failed: %w", getErr)
		}
		return *existing, nil
	}
	if err != nil {
		return PatternRow{}, fmt.Errorf("pattern_repository: upsert: %w", err)
	}
	return out, nil
}

// GetBySignature fetches a pattern by its uniqueness triple.
func (r *PatternRepository) GetBySignature(ctx context.Context, signatureHash, domainID string, version int) (*PatternRow, error) {
	var row PatternRow
	err := r.db.GetContext(ctx, &row,
		`SELECT id, pattern_type, name, domain_id, signature_hash, version, status,
		        success_criteria, match_count, success_rate, supersedes, superseded_by, quality_metrics, created_at, updated_at
		 FROM learned_patterns WHERE signature_hash = $1 AND domain_id = $2 AND version = $3`,
		signatureHash, domainID, version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domainerr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("pattern_repository: get by signature: %w", err)
	}
	return &row, nil
}

// Get fetches a pattern by id.
func (r *PatternRepository) Get(ctx context.Context, id string) (*PatternRow, error) {
	var row PatternRow
	err := r.db.GetContext(ctx, &row,
		`SELECT id, pattern_type, name, domain_id, signature_hash, version, status,
		        success_criteria, match_count, success_rate, supersedes, superseded_by, quality_metrics, created_at, updated_at
		 FROM learned_patterns WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domainerr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("pattern_repository: get: %w", err)
	}
	return &row, nil
}

// LatestVersion returns the highest version number already stored for
// (signatureHash, domainID), or 0 if none exists, so the pipeline knows
// whether to supersede.
func (r *PatternRepository) LatestVersion(ctx context.Context, signatureHash, domainID string) (int, error) {
	var version sql.NullInt64
	err := r.db.GetContext(ctx, &version,
		`SELECT MAX(version) FROM learned_patterns WHERE signature_hash = $1 AND domain_id = $2`,
		signatureHash, domainID)
	if err != nil {
		return 0, fmt.Errorf("pattern_repository: latest version: %w", err)
	}
	if !version.Valid {
		return 0, nil
	}
	return int(version.Int64), nil
}

// FindLatestByIdentity returns the most recent not-yet-superseded row
// sharing (pattern_type, name, domain_id) but a different signature_hash
// — the "same logical pattern, new shape" case the learning pipeline
// links via supersedes/superseded_by. Returns domainerr.ErrNotFound if
// none exists.
func (r *PatternRepository) FindLatestByIdentity(ctx context.Context, patternType, name, domainID, excludeSignatureHash string) (*PatternRow, error) {
	var row PatternRow
	err := r.db.GetContext(ctx, &row,
		`SELECT id, pattern_type, name, domain_id, signature_hash, version, status,
		        success_criteria, match_count, success_rate, supersedes, superseded_by, quality_metrics, created_at, updated_at
		 FROM learned_patterns
		 WHERE pattern_type = $1 AND name = $2 AND domain_id = $3 AND signature_hash != $4 AND superseded_by IS NULL
		 ORDER BY created_at DESC LIMIT 1`,
		patternType, name, domainID, excludeSignatureHash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domainerr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("pattern_repository: find latest by identity: %w", err)
	}
	return &row, nil
}

// MarkSuperseded links an older pattern to the one that replaces it.
func (r *PatternRepository) MarkSuperseded(ctx context.Context, olderID, newerID string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE learned_patterns SET superseded_by = $1, updated_at = now() WHERE id = $2`, newerID, olderID)
	if err != nil {
		return fmt.Errorf("pattern_repository: mark superseded: %w", err)
	}
	return nil
}
