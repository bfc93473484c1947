// Package learn is the pattern-learning pipeline's only I/O stage: it
// upserts extracted candidates into learned_patterns, linking new
// versions to the ones they supersede (spec.md §4.5).
package learn

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/codeready-toolchain/patternctl/pkg/domainerr"
	"github.com/codeready-toolchain/patternctl/pkg/learning/extract"
	"github.com/codeready-toolchain/patternctl/pkg/storage"
)

// Upsert stores one candidate against a domain, computing its next
// version from the highest version already on record for
// (signature_hash, domain_id), and linking the superseded row if one
// exists. Safe to call twice with the same candidate/domain: the second
// call observes the row the first call created and makes no further
// change (spec.md §4.5's retry-safety property).
func Upsert(ctx context.Context, repo *storage.PatternRepository, c extract.Candidate, domainID string) (storage.PatternRow, error) {
	previousVersion, err := repo.LatestVersion(ctx, c.SignatureHash, domainID)
	if err != nil {
		return storage.PatternRow{}, fmt.Errorf("learn: latest version: %w", err)
	}
	if previousVersion > 0 {
		// Nothing has actually changed about this pattern's shape — same
		// signature_hash, same domain — so this is the retry case, not a
		// new version. Re-fetch and return the existing row.
		existing, err := repo.GetBySignature(ctx, c.SignatureHash, domainID, previousVersion)
		if err == nil {
			return *existing, nil
		}
	}

	structureJSON, err := json.Marshal(c.EssentialStructure)
	if err != nil {
		return storage.PatternRow{}, fmt.Errorf("learn: marshal essential structure: %w", err)
	}

	// Same logical pattern (pattern_type + name + domain) with a different
	// shape is a new version that supersedes the prior one, per spec.md
	// §4.5.
	var supersedes sql.NullString
	predecessor, err := repo.FindLatestByIdentity(ctx, c.PatternType, c.Name, domainID, c.SignatureHash)
	switch {
	case err == nil:
		supersedes = sql.NullString{String: predecessor.ID, Valid: true}
	case errors.Is(err, domainerr.ErrNotFound):
		// no predecessor, first version of this identity
	default:
		return storage.PatternRow{}, fmt.Errorf("learn: find predecessor: %w", err)
	}

	now := time.Now().UTC()
	row := storage.PatternRow{
		ID:              uuid.NewString(),
		PatternType:     c.PatternType,
		Name:            c.Name,
		DomainID:        domainID,
		SignatureHash:   c.SignatureHash,
		Version:         previousVersion + 1,
		Status:          "CANDIDATE",
		SuccessCriteria: []byte(`{}`),
		Supersedes:      supersedes,
		QualityMetrics:  structureJSON,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	stored, err := repo.Upsert(ctx, row)
	if err != nil {
		return storage.PatternRow{}, fmt.Errorf("learn: upsert: %w", err)
	}

	if predecessor != nil {
		if err := repo.MarkSuperseded(ctx, predecessor.ID, stored.ID); err != nil {
			return storage.PatternRow{}, fmt.Errorf("learn: mark superseded: %w", err)
		}
	}

	return stored, nil
}
