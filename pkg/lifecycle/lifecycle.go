// Package lifecycle implements the pattern lifecycle reducer (spec.md
// §4.6): the sole writer of learned_patterns.status and
// pattern_lifecycle_transitions, enforcing the closed CANDIDATE →
// PROVISIONAL → VALIDATED → DEPRECATED → ARCHIVED edge set (with the one
// legal short-circuit PROVISIONAL → DEPRECATED).
package lifecycle

import (
	"context"

	"github.com/codeready-toolchain/patternctl/pkg/domainerr"
	"github.com/codeready-toolchain/patternctl/pkg/storage"
)

// Status is one of the five closed lifecycle states.
type Status string

const (
	Candidate   Status = "CANDIDATE"
	Provisional Status = "PROVISIONAL"
	Validated   Status = "VALIDATED"
	Deprecated  Status = "DEPRECATED"
	Archived    Status = "ARCHIVED"
)

var legalEdges = map[[2]Status]bool{
	{Candidate, Provisional}:   true,
	{Provisional, Validated}:   true,
	{Validated, Deprecated}:    true,
	{Provisional, Deprecated}:  true, // short-circuit on strong negative signal
	{Deprecated, Archived}:     true,
}

// disableEdges marks the edges that represent disabling a pattern and thus
// require a pattern_disable_events row.
var disableEdges = map[[2]Status]bool{
	{Validated, Deprecated}:   true,
	{Provisional, Deprecated}: true,
}

// Reducer applies lifecycle transitions through LifecycleRepository.
type Reducer struct {
	repo *storage.LifecycleRepository
}

func NewReducer(repo *storage.LifecycleRepository) *Reducer {
	return &Reducer{repo: repo}
}

// Transition validates (from, to) against the static edge set and, if
// legal, commits the transition transactionally. A transition to the same
// status, or any pair outside the edge set, is rejected as
// InvalidTransition (spec.md §4.6: "(any) → (same) rejected").
func (r *Reducer) Transition(ctx context.Context, patternID string, from, to Status, actor, reason, correlationID, patternClass string) error {
	if from == to || !legalEdges[[2]Status{from, to}] {
		return domainerr.New(domainerr.InvalidTransition, correlationID,
			"illegal pattern lifecycle edge "+string(from)+" -> "+string(to))
	}

	isDisable := disableEdges[[2]Status{from, to}]
	if err := r.repo.ApplyTransition(ctx, patternID, string(from), string(to), actor, reason, correlationID, isDisable, patternClass); err != nil {
		return domainerr.Wrap(domainerr.TransientIO, correlationID, err)
	}
	return nil
}

// UpdateSuccessRate delegates to the repository, keeping learned_patterns
// writes funneled through this single writer even for the feedback
// scorer's rollups.
func (r *Reducer) UpdateSuccessRate(ctx context.Context, patternID string, successRate float64, matchCount int64) error {
	return r.repo.UpdateSuccessRate(ctx, patternID, successRate, matchCount)
}
