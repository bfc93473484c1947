// Package pairing implements the review-fix pairing engine (spec.md §4.7):
// correlates review findings with fix commits, confirms disappearance,
// scores confidence, and emits pair_created events.
package pairing

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/codeready-toolchain/patternctl/pkg/storage"
)

// PairingType is the closed set of confidence sources spec.md §4.7 names.
type PairingType string

const (
	Autofix    PairingType = "autofix"
	SameCommit PairingType = "same_commit"
	SamePR     PairingType = "same_pr"
	Temporal   PairingType = "temporal"
	Inferred   PairingType = "inferred"
)

// baseConfidence is the initial confidence_score drawn from the pairing
// type, exactly the table in spec.md §4.7.
var baseConfidence = map[PairingType]float64{
	Autofix:    0.95,
	SameCommit: 0.85,
	SamePR:     0.70,
	Temporal:   0.50,
	Inferred:   0.30,
}

// PairCreated is emitted once disappearance is confirmed.
type PairCreated struct {
	PairID                 string
	FindingID              string
	FixCommitSHA           string
	DiffHunks              []string
	ConfidenceScore        float64
	DisappearanceConfirmed bool
	PairingType            string
	CreatedAt              time.Time
}

// Engine mediates the three event kinds finding_observed, fix_applied, and
// finding_resolved.
type Engine struct {
	repo *storage.PairingRepository
}

func NewEngine(repo *storage.PairingRepository) *Engine {
	return &Engine{repo: repo}
}

// ObserveFinding persists a new finding (step 1 of the algorithm).
func (e *Engine) ObserveFinding(ctx context.Context, f storage.FindingRow) error {
	return e.repo.InsertFinding(ctx, f)
}

// Classify derives the pairing type for a fix against the finding it
// targets: tool_autofix always wins (0.95); otherwise a fix landing in the
// same commit the finding was observed in is same_commit; a fix applied
// within temporalWindow of the observation is temporal; anything else
// falls back to inferred. spec.md's same_pr tier needs a PR linkage
// fix_applied.v1 doesn't carry (see DESIGN.md), so same_pr is never
// produced by this classifier — only by ResolveFinding's no-candidate
// fallback, which spec.md pins to inferred rather than same_pr anyway.
func Classify(finding storage.FindingRow, f storage.FixRow, temporalWindow time.Duration) PairingType {
	if f.ToolAutofix {
		return Autofix
	}
	if f.FixCommitSHA == finding.CommitSHAObserved {
		return SameCommit
	}
	if f.AppliedAt.Sub(finding.ObservedAt) <= temporalWindow {
		return Temporal
	}
	return Inferred
}

// ApplyFixAuto looks up the referenced finding, classifies the fix
// against it with Classify, and delegates to ApplyFix. This is what the
// fix_applied.v1 dispatch handler calls; ApplyFix itself stays exported
// so tests can pin an exact pairing type without depending on Classify's
// heuristics.
func (e *Engine) ApplyFixAuto(ctx context.Context, f storage.FixRow, temporalWindow time.Duration) error {
	finding, err := e.repo.GetFinding(ctx, f.FindingID)
	if err != nil {
		return err
	}
	return e.ApplyFix(ctx, f, Classify(*finding, f, temporalWindow))
}

// ApplyFix looks up the referenced finding and, if present, creates a
// candidate pair with disappearance_confirmed=false, drawing the initial
// confidence_score from baseConfidence[pairingType] (step 2).
func (e *Engine) ApplyFix(ctx context.Context, f storage.FixRow, pairingType PairingType) error {
	if err := e.repo.InsertFix(ctx, f); err != nil {
		return err
	}
	if _, err := e.repo.GetFinding(ctx, f.FindingID); err != nil {
		return err
	}

	pair := storage.PairRow{
		PairID:                 uuid.NewString(),
		FindingID:              f.FindingID,
		FixCommitSHA:           f.FixCommitSHA,
		DiffHunks:              f.DiffHunks,
		ConfidenceScore:        baseConfidence[pairingType],
		DisappearanceConfirmed: false,
		PairingType:            string(pairingType),
		CreatedAt:              time.Now().UTC(),
	}
	_, _, err := e.repo.UpsertPair(ctx, pair)
	return err
}

// ResolveFinding marks disappearance_confirmed=true on the existing
// candidate pair for (findingID, fixCommitSHA), or creates an "inferred"
// pair at 0.30 confidence if none exists yet (step 3), returning the event
// to emit.
func (e *Engine) ResolveFinding(ctx context.Context, findingID, fixCommitSHA string) (PairCreated, error) {
	existing, err := e.repo.GetPair(ctx, findingID, fixCommitSHA)
	var pair storage.PairRow
	if err != nil {
		pair = storage.PairRow{
			PairID:                 uuid.NewString(),
			FindingID:              findingID,
			FixCommitSHA:           fixCommitSHA,
			ConfidenceScore:        baseConfidence[Inferred],
			DisappearanceConfirmed: true,
			PairingType:            string(Inferred),
			CreatedAt:              time.Now().UTC(),
		}
	} else {
		pair = *existing
		pair.DisappearanceConfirmed = true
	}

	out, _, err := e.repo.UpsertPair(ctx, pair)
	if err != nil {
		return PairCreated{}, err
	}

	return PairCreated{
		PairID:                 out.PairID,
		FindingID:              out.FindingID,
		FixCommitSHA:           out.FixCommitSHA,
		DiffHunks:              out.DiffHunks,
		ConfidenceScore:        out.ConfidenceScore,
		DisappearanceConfirmed: out.DisappearanceConfirmed,
		PairingType:            out.PairingType,
		CreatedAt:              out.CreatedAt,
	}, nil
}

// LineRange is an inclusive [start, end] interval. A missing line_end is
// treated as a single-line range (spec.md §8 boundary behavior).
type LineRange [2]int

// SingleLine builds a LineRange that collapses to one line when lineEnd is
// nil.
func SingleLine(lineStart int, lineEnd *int) LineRange {
	if lineEnd == nil {
		return LineRange{lineStart, lineStart}
	}
	return LineRange{lineStart, *lineEnd}
}

// overlapLength returns the length of the intersection between two
// inclusive ranges, 0 if they don't overlap (including when merely
// adjacent).
func overlapLength(a, b LineRange) int {
	start := a[0]
	if b[0] > start {
		start = b[0]
	}
	end := a[1]
	if b[1] < end {
		end = b[1]
	}
	if end < start {
		return 0
	}
	return end - start + 1
}

// CandidateFix is the subset of FixRow the tie-break needs.
type CandidateFix struct {
	FixID string
	Range LineRange
}

// BestFix implements the step-4 tie-break: when multiple fixes target the
// same finding in the same commit, the one with the largest intersection
// against the finding's line range wins; ties broken by smallest fix_id
// lexicographically.
func BestFix(finding LineRange, fixes []CandidateFix) CandidateFix {
	best := fixes[0]
	bestOverlap := overlapLength(finding, best.Range)
	for _, f := range fixes[1:] {
		overlap := overlapLength(finding, f.Range)
		if overlap > bestOverlap || (overlap == bestOverlap && f.FixID < best.FixID) {
			best = f
			bestOverlap = overlap
		}
	}
	return best
}

// sortFixesByID is used only by tests asserting tie-break determinism.
func sortFixesByID(fixes []CandidateFix) {
	sort.Slice(fixes, func(i, j int) bool { return fixes[i].FixID < fixes[j].FixID })
}
