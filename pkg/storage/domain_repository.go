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

// DomainRow is a row of domain_taxonomy — the FK target every
// learned_patterns row carries (domain_id).
type DomainRow struct {
	DomainID       string    `db:"domain_id"`
	Name           string    `db:"name"`
	Description    string    `db:"description"`
	ParentDomainID *string   `db:"parent_domain_id"`
	CreatedAt      time.Time `db:"created_at"`
}

type DomainRepository struct {
	db *sqlx.DB
}

func NewDomainRepository(db *sqlx.DB) *DomainRepository {
	return &DomainRepository{db: db}
}

func (r *DomainRepository) Get(ctx context.Context, domainID string) (DomainRow, error) {
	var row DomainRow
	err := r.db.GetContext(ctx, &row, `SELECT domain_id, name, description, parent_domain_id, created_at FROM domain_taxonomy WHERE domain_id = $1`, domainID)
	if errors.Is(err, sql.ErrNoRows) {
		return DomainRow{}, domainerr.ErrNotFound
	}
	if err != nil {
		return DomainRow{}, fmt.Errorf("domain_repository: get: %w", err)
	}
	return row, nil
}

func (r *DomainRepository) GetByName(ctx context.Context, name string) (DomainRow, error) {
	var row DomainRow
	err := r.db.GetContext(ctx, &row, `SELECT domain_id, name, description, parent_domain_id, created_at FROM domain_taxonomy WHERE name = $1`, name)
	if errors.Is(err, sql.ErrNoRows) {
		return DomainRow{}, domainerr.ErrNotFound
	}
	if err != nil {
		return DomainRow{}, fmt.Errorf("domain_repository: get by name: %w", err)
	}
	return row, nil
}

// EnsureExists upserts a domain by name, returning its domain_id — the
// learning pipeline calls this rather than requiring every domain be
// seeded ahead of time.
func (r *DomainRepository) EnsureExists(ctx context.Context, domainID, name string, parentDomainID *string) (string, error) {
	var resultID string
	err := r.db.GetContext(ctx, &resultID, `
		INSERT INTO domain_taxonomy (domain_id, name, description, parent_domain_id, created_at)
		VALUES ($1, $2, '', $3, now())
		ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
		RETURNING domain_id`, domainID, name, parentDomainID)
	if err != nil {
		return "", fmt.Errorf("domain_repository: ensure exists: %w", err)
	}
	return resultID, nil
}

func (r *DomainRepository) Children(ctx context.Context, parentDomainID string) ([]DomainRow, error) {
	var rows []DomainRow
	err := r.db.SelectContext(ctx, &rows, `SELECT domain_id, name, description, parent_domain_id, created_at FROM domain_taxonomy WHERE parent_domain_id = $1`, parentDomainID)
	if err != nil {
		return nil, fmt.Errorf("domain_repository: children: %w", err)
	}
	return rows, nil
}
