// Package fsm implements the per-entity finite-state-machine reducer
// (spec.md §4.4): the sole component permitted to change an FSM instance's
// current_state, mediating every write through a leased compare-and-set.
package fsm

import (
	"context"
	"encoding/json"
	"time"

	"github.com/codeready-toolchain/patternctl/pkg/domainerr"
	"github.com/codeready-toolchain/patternctl/pkg/storage"
)

// Kind is one of the three disjoint FSM alphabets spec.md §3 defines.
type Kind string

const (
	Ingestion         Kind = "ingestion"
	PatternLearning   Kind = "pattern_learning"
	QualityAssessment Kind = "quality_assessment"
)

// edge is a (from_state, action) pair; edges maps it to the resulting
// to_state. Checked before any write — the same "validate against a static
// edge set" discipline the teacher applies to alertsession.Status via its
// StatusInProgress/StatusPending guards in claimNextSession, generalized
// from one linear enum to three branching machines with an action label.
type edge struct {
	from   string
	action string
}

var edgeSets = map[Kind]map[edge]string{
	Ingestion: {
		{"", "receive"}:               "RECEIVED",
		{"RECEIVED", "begin_processing"}: "PROCESSING",
		{"PROCESSING", "index"}:       "INDEXED",
		{"PROCESSING", "fail"}:        "FAILED",
	},
	PatternLearning: {
		{"", "start"}:                     "FOUNDATION",
		{"FOUNDATION", "begin_matching"}:  "MATCHING",
		{"MATCHING", "begin_validation"}:  "VALIDATION",
		{"VALIDATION", "begin_traceability"}: "TRACEABILITY",
		{"TRACEABILITY", "complete"}:      "COMPLETED",
		{"FOUNDATION", "fail"}:            "FAILED",
		{"MATCHING", "fail"}:              "FAILED",
		{"VALIDATION", "fail"}:            "FAILED",
		{"TRACEABILITY", "fail"}:          "FAILED",
	},
	QualityAssessment: {
		{"", "receive"}:        "RAW",
		{"RAW", "begin_assess"}: "ASSESSING",
		{"ASSESSING", "score"}: "SCORED",
		{"ASSESSING", "fail"}:  "FAILED",
		{"SCORED", "store"}:    "STORED",
	},
}

// InitialStates is the state assigned to a brand-new FSM row for a kind,
// before any transition has been applied — the "from" side of each kind's
// first edge.
var InitialStates = map[Kind]string{
	Ingestion:         "",
	PatternLearning:   "",
	QualityAssessment: "",
}

// LeaseToken is returned by Propose and must be presented to Transition or
// Release.
type LeaseToken struct {
	FSMKind    Kind
	EntityID   string
	LeaseID    string
	LeaseEpoch int64
}

// Reducer mediates all writes to FSM instances.
type Reducer struct {
	repo *storage.FSMRepository
}

func NewReducer(repo *storage.FSMRepository) *Reducer {
	return &Reducer{repo: repo}
}

// Propose attempts to acquire or renew a lease for (fsmKind, entityID). It
// returns domainerr.Conflict if another holder's lease is still live — the
// loser MUST NOT retry inside the same logical message attempt (spec.md
// §4.4's tie-break), only via redelivery.
func (r *Reducer) Propose(ctx context.Context, fsmKind Kind, entityID, correlationID string, ttl time.Duration) (LeaseToken, error) {
	row, won, err := r.repo.ClaimLease(ctx, string(fsmKind), entityID, InitialStates[fsmKind], ttl)
	if err != nil {
		return LeaseToken{}, domainerr.Wrap(domainerr.TransientIO, correlationID, err)
	}
	if !won {
		return LeaseToken{}, domainerr.New(domainerr.Conflict, correlationID, "lease held by another proposer")
	}
	return LeaseToken{
		FSMKind:    fsmKind,
		EntityID:   entityID,
		LeaseID:    row.LeaseID.String,
		LeaseEpoch: row.LeaseEpoch,
	}, nil
}

// Transition validates (from_state, action, to_state) against the FSM's
// static edge set and, if legal, applies it and appends history within one
// transaction.
func (r *Reducer) Transition(ctx context.Context, token LeaseToken, fromState, action, correlationID string, metadata map[string]any, sinceStateEntered time.Time) error {
	toState, ok := edgeSets[token.FSMKind][edge{fromState, action}]
	if !ok {
		return domainerr.New(domainerr.InvalidTransition, correlationID,
			"no edge for kind="+string(token.FSMKind)+" from="+fromState+" action="+action)
	}

	meta, err := json.Marshal(metadata)
	if err != nil {
		return domainerr.Wrap(domainerr.TransientIO, correlationID, err)
	}

	durationMS := time.Since(sinceStateEntered).Milliseconds()
	err = r.repo.Transition(ctx, string(token.FSMKind), token.EntityID, token.LeaseID, token.LeaseEpoch, toState, action, correlationID, meta, durationMS)
	if err != nil {
		return err // already a *domainerr.DomainError (StaleLease) or wrapped TransientIO
	}
	return nil
}

// Release clears the lease early so a subsequent proposer doesn't have to
// wait out the TTL.
func (r *Reducer) Release(ctx context.Context, token LeaseToken) error {
	return r.repo.Release(ctx, string(token.FSMKind), token.EntityID, token.LeaseID, token.LeaseEpoch)
}

// Current fetches the live row for an entity.
func (r *Reducer) Current(ctx context.Context, fsmKind Kind, entityID string) (*storage.FSMRow, error) {
	return r.repo.Get(ctx, string(fsmKind), entityID)
}

// Walk proposes a lease for (fsmKind, entityID) and applies actions in
// order, starting from the kind's initial state. It is the sequential
// "propose, transition, transition, ..., release" shape every inbound
// handler that drives an FSM to completion needs, rather than each
// handler re-deriving from_state bookkeeping by hand.
//
// If any action is illegal or the lease is stolen mid-walk, Walk attempts
// one "fail" transition from the last state it reached (a no-op if "fail"
// is not a legal edge there) before releasing the lease and returning the
// original error.
func (r *Reducer) Walk(ctx context.Context, fsmKind Kind, entityID, correlationID string, ttl time.Duration, actions []string, metadata map[string]any) error {
	token, err := r.Propose(ctx, fsmKind, entityID, correlationID, ttl)
	if err != nil {
		return err
	}

	state := InitialStates[fsmKind]
	stepStart := time.Now()
	for _, action := range actions {
		toState, ok := edgeSets[fsmKind][edge{state, action}]
		if !ok {
			walkErr := domainerr.New(domainerr.InvalidTransition, correlationID,
				"no edge for kind="+string(fsmKind)+" from="+state+" action="+action)
			r.failAndRelease(ctx, token, state, correlationID)
			return walkErr
		}
		if err := r.Transition(ctx, token, state, action, correlationID, metadata, stepStart); err != nil {
			r.failAndRelease(ctx, token, state, correlationID)
			return err
		}
		state = toState
		stepStart = time.Now()
	}

	return r.Release(ctx, token)
}

// failAndRelease is the best-effort cleanup path for a Walk that stopped
// partway: it records a "fail" transition when the FSM defines one from
// the reached state, then releases the lease regardless so the next
// proposer doesn't wait out the TTL. Both are advisory — their errors are
// not surfaced, since the caller already has the real failure to report.
func (r *Reducer) failAndRelease(ctx context.Context, token LeaseToken, state, correlationID string) {
	if _, ok := edgeSets[token.FSMKind][edge{state, "fail"}]; ok {
		_ = r.Transition(ctx, token, state, "fail", correlationID, nil, time.Now())
	}
	_ = r.Release(ctx, token)
}
