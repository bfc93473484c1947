// Package learning composes the pattern-learning pipeline's three
// stages (spec.md §4.5): pkg/learning/trace.Parse, pkg/learning/extract.Candidates,
// and pkg/learning/learn.Upsert. Stages 1-2 are pure; stage 3 is the
// pipeline's only I/O, making the whole pipeline safe to retry end to
// end.
package learning

import (
	"context"
	"fmt"

	"github.com/codeready-toolchain/patternctl/pkg/learning/extract"
	"github.com/codeready-toolchain/patternctl/pkg/learning/learn"
	"github.com/codeready-toolchain/patternctl/pkg/learning/trace"
	"github.com/codeready-toolchain/patternctl/pkg/memoryclient"
	"github.com/codeready-toolchain/patternctl/pkg/storage"
)

// Pipeline wires the stages to a domain and pattern repository, plus the
// external memory service every newly stored pattern is indexed into.
type Pipeline struct {
	patterns *storage.PatternRepository
	domains  *storage.DomainRepository
	memory   *memoryclient.Client
}

// NewPipeline builds a Pipeline. memory may be nil when MEMORY_SERVICE_URL
// is unset (spec.md §6 calls it required for this pipeline, but local/dev
// deployments without the external memory service still need patterns to
// persist — see DESIGN.md); when nil, Run skips the vector-upsert RPC and
// only logs via the caller's own degraded-mode notice.
func NewPipeline(patterns *storage.PatternRepository, domains *storage.DomainRepository, memory *memoryclient.Client) *Pipeline {
	return &Pipeline{patterns: patterns, domains: domains, memory: memory}
}

// vectorUpsertPayload is the embedding input for the memory service's
// upsert_vector op: the same essential-structure fields signature_hash is
// content-addressed from, so the external service indexes on the same
// shape learn.Upsert versions on.
type vectorUpsertPayload struct {
	PatternID          string         `json:"pattern_id"`
	SignatureHash      string         `json:"signature_hash"`
	PatternType        string         `json:"pattern_type"`
	EssentialStructure map[string]any `json:"essential_structure"`
}

// Run parses rawTrace, extracts candidates, upserts each against
// domainName (created if it doesn't already exist), and — when a memory
// client is configured — indexes each stored pattern's essential
// structure as a vector via the external memory service (spec.md §6).
// correlationID threads through to the memory RPC so a circuit-broken or
// retried call stays traceable to the request that triggered it.
func (p *Pipeline) Run(ctx context.Context, correlationID string, rawTrace []byte, domainName string) ([]storage.PatternRow, error) {
	events, err := trace.Parse(rawTrace)
	if err != nil {
		return nil, fmt.Errorf("learning: parse trace: %w", err)
	}

	candidates, err := extract.Candidates(events)
	if err != nil {
		return nil, fmt.Errorf("learning: extract candidates: %w", err)
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	domain, err := p.domains.GetByName(ctx, domainName)
	if err != nil {
		return nil, fmt.Errorf("learning: resolve domain %q: %w", domainName, err)
	}

	stored := make([]storage.PatternRow, 0, len(candidates))
	for _, c := range candidates {
		row, err := learn.Upsert(ctx, p.patterns, c, domain.DomainID)
		if err != nil {
			return nil, fmt.Errorf("learning: upsert candidate %s: %w", c.Name, err)
		}
		if p.memory != nil {
			_, err := p.memory.Call(ctx, correlationID, memoryclient.OpUpsertVector, vectorUpsertPayload{
				PatternID:          row.ID,
				SignatureHash:      row.SignatureHash,
				PatternType:        row.PatternType,
				EssentialStructure: c.EssentialStructure,
			})
			if err != nil {
				return nil, fmt.Errorf("learning: upsert vector for pattern %s: %w", row.ID, err)
			}
		}
		stored = append(stored, row)
	}
	return stored, nil
}
