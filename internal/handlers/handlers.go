// Package handlers binds each contract-declared event kind to the domain
// package that owns it, the same role the teacher's
// agent/controller.Factory.CreateController switch plays for alert types —
// here the binding is one function per dispatch.Registry.Register call
// instead of a type switch, since the kind set is contract-driven.
package handlers

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/codeready-toolchain/patternctl/pkg/dispatch"
	"github.com/codeready-toolchain/patternctl/pkg/domainerr"
	"github.com/codeready-toolchain/patternctl/pkg/envelope"
	"github.com/codeready-toolchain/patternctl/pkg/feedback"
	"github.com/codeready-toolchain/patternctl/pkg/fsm"
	"github.com/codeready-toolchain/patternctl/pkg/learning"
	"github.com/codeready-toolchain/patternctl/pkg/lifecycle"
	"github.com/codeready-toolchain/patternctl/pkg/outbox"
	"github.com/codeready-toolchain/patternctl/pkg/pairing"
	"github.com/codeready-toolchain/patternctl/pkg/storage"
)

// FindingObservedV1 is the finding_observed.v1 payload (spec.md §4).
type FindingObservedV1 struct {
	FindingID         string    `json:"finding_id" validate:"required"`
	Repo              string    `json:"repo" validate:"required"`
	PRID              int64     `json:"pr_id" validate:"required,gt=0"`
	RuleID            string    `json:"rule_id" validate:"required"`
	Severity          string    `json:"severity" validate:"required"`
	FilePath          string    `json:"file_path" validate:"required"`
	LineStart         int       `json:"line_start" validate:"required,gte=1"`
	LineEnd           *int      `json:"line_end"`
	ToolName          string    `json:"tool_name" validate:"required"`
	ToolVersion       string    `json:"tool_version" validate:"required"`
	NormalizedMessage string    `json:"normalized_message" validate:"required"`
	RawMessage        string    `json:"raw_message" validate:"required"`
	CommitSHAObserved string    `json:"commit_sha_observed" validate:"required"`
	ObservedAt        time.Time `json:"observed_at" validate:"required"`
}

// FixAppliedV1 is the fix_applied.v1 payload.
type FixAppliedV1 struct {
	FixID             string    `json:"fix_id" validate:"required"`
	FindingID         string    `json:"finding_id" validate:"required"`
	FixCommitSHA      string    `json:"fix_commit_sha" validate:"required"`
	FilePath          string    `json:"file_path" validate:"required"`
	DiffHunks         []string  `json:"diff_hunks"`
	TouchedLineRange  [2]int    `json:"touched_line_range" validate:"required"`
	ToolAutofix       bool      `json:"tool_autofix"`
	AppliedAt         time.Time `json:"applied_at" validate:"required"`
}

// FindingResolvedV1 is the finding_resolved.v1 payload.
type FindingResolvedV1 struct {
	ResolutionID        string    `json:"resolution_id" validate:"required"`
	FindingID           string    `json:"finding_id" validate:"required"`
	FixCommitSHA        string    `json:"fix_commit_sha" validate:"required"`
	VerifiedAtCommitSHA string    `json:"verified_at_commit_sha" validate:"required"`
	CIRunID             string    `json:"ci_run_id"`
	ResolvedAt          time.Time `json:"resolved_at" validate:"required"`
}

// PatternLearningRequestedV1 is the pattern_learning_requested.v1 command
// payload: a raw agent-run trace plus the domain it belongs to.
type PatternLearningRequestedV1 struct {
	RawTrace   []byte `json:"raw_trace" validate:"required"`
	DomainName string `json:"domain_name" validate:"required"`
}

// PatternPromotionRequestedV1 is the pattern_promotion_requested.v1 command
// payload: an explicit request to move a pattern across one lifecycle
// edge (spec.md §4.6/§8 scenario 5). PatternClass is only meaningful for a
// disable edge (→DEPRECATED); it is ignored otherwise.
type PatternPromotionRequestedV1 struct {
	PatternID    string `json:"pattern_id" validate:"required"`
	FromStatus   string `json:"from_status" validate:"required"`
	ToStatus     string `json:"to_status" validate:"required"`
	Actor        string `json:"actor" validate:"required"`
	Reason       string `json:"reason"`
	PatternClass string `json:"pattern_class"`
}

// PatternLifecycleTransitionV1 is the pattern_lifecycle_transition.v1 audit
// event, emitted for every lifecycle edge the reducer applies.
type PatternLifecycleTransitionV1 struct {
	PatternID     string    `json:"pattern_id"`
	FromStatus    string    `json:"from_status"`
	ToStatus      string    `json:"to_status"`
	Actor         string    `json:"actor"`
	Reason        string    `json:"reason"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// PatternPromotedV1 is the pattern_promoted.v1 event, emitted in addition
// to the generic transition event whenever a pattern reaches VALIDATED.
type PatternPromotedV1 struct {
	PatternID  string    `json:"pattern_id"`
	ToStatus   string    `json:"to_status"`
	OccurredAt time.Time `json:"occurred_at"`
}

// PatternDeprecatedV1 is the pattern_deprecated.v1 event, emitted in
// addition to the generic transition event whenever a pattern reaches
// DEPRECATED.
type PatternDeprecatedV1 struct {
	PatternID  string    `json:"pattern_id"`
	Reason     string    `json:"reason"`
	OccurredAt time.Time `json:"occurred_at"`
}

// SessionOutcomeV1 is the session_outcome.v1 payload, the per-session
// routing-feedback fact set pkg/feedback.Scorer rolls up from.
type SessionOutcomeV1 struct {
	SessionID             string    `json:"session_id" validate:"required"`
	RunID                 string    `json:"run_id" validate:"required"`
	AgentSelected         string    `json:"agent_selected" validate:"required"`
	RecommendedAgent      string    `json:"recommended_agent" validate:"required"`
	RoutingConfidence     float64   `json:"routing_confidence"`
	InjectionOccurred     bool      `json:"injection_occurred"`
	PatternIDsInjected    []string  `json:"pattern_ids_injected"`
	ToolCallsCount        int       `json:"tool_calls_count"`
	DurationMS            int64     `json:"duration_ms"`
	ProcessedAt           time.Time `json:"processed_at" validate:"required"`
}

// Deps is every domain component a handler closes over.
type Deps struct {
	DB                              *sqlx.DB
	Pairing                         *pairing.Engine
	Learning                        *learning.Pipeline
	Feedback                        *feedback.Scorer
	Lifecycle                       *lifecycle.Reducer
	FSM                             *fsm.Reducer
	Outbox                          *outbox.Store
	PairingRepo                     *storage.PairingRepository
	PairCreatedTopic                string
	PairingTemporalWindow           time.Duration
	PairingConfidenceFloor          float64
	FSMLeaseTTL                     time.Duration
	PatternLifecycleTransitionTopic string
	PatternPromotedTopic            string
	PatternDeprecatedTopic          string
}

// Register binds every handler this service owns onto reg.
func Register(reg *dispatch.Registry, deps Deps) error {
	for _, b := range []struct {
		kind          string
		schemaVersion int
		handler       dispatch.Handler
	}{
		{"finding_observed", 1, findingObserved(deps)},
		{"fix_applied", 1, fixApplied(deps)},
		{"finding_resolved", 1, findingResolved(deps)},
		{"pattern_learning_requested", 1, patternLearningRequested(deps)},
		{"session_outcome", 1, sessionOutcome(deps)},
		{"pattern_promotion_requested", 1, patternPromotionRequested(deps)},
	} {
		if err := reg.Register(b.kind, b.schemaVersion, b.handler); err != nil {
			return fmt.Errorf("handlers: register %s: %w", b.kind, err)
		}
	}
	return nil
}

// findingObserved persists the finding and then walks the ingestion FSM
// for it through receive -> begin_processing -> index (spec.md §4.4), so
// the entity's fsm_state row reflects that it made it all the way through
// intake rather than only existing as a review_findings row.
func findingObserved(deps Deps) dispatch.Handler {
	return func(ctx context.Context, env envelope.Envelope) error {
		var p FindingObservedV1
		if err := env.UnmarshalPayload(&p); err != nil {
			return err
		}
		var lineEnd sql.NullInt64
		if p.LineEnd != nil {
			lineEnd = sql.NullInt64{Int64: int64(*p.LineEnd), Valid: true}
		}
		if err := deps.Pairing.ObserveFinding(ctx, storage.FindingRow{
			FindingID:         p.FindingID,
			Repo:              p.Repo,
			PRID:              p.PRID,
			RuleID:            p.RuleID,
			Severity:          p.Severity,
			FilePath:          p.FilePath,
			LineStart:         p.LineStart,
			LineEnd:           lineEnd,
			ToolName:          p.ToolName,
			ToolVersion:       p.ToolVersion,
			NormalizedMessage: p.NormalizedMessage,
			RawMessage:        p.RawMessage,
			CommitSHAObserved: p.CommitSHAObserved,
			ObservedAt:        p.ObservedAt,
		}); err != nil {
			return err
		}
		if deps.FSM == nil {
			return nil
		}
		return deps.FSM.Walk(ctx, fsm.Ingestion, p.FindingID, env.CorrelationID, deps.FSMLeaseTTL,
			[]string{"receive", "begin_processing", "index"},
			map[string]any{"repo": p.Repo, "rule_id": p.RuleID})
	}
}

func fixApplied(deps Deps) dispatch.Handler {
	return func(ctx context.Context, env envelope.Envelope) error {
		var p FixAppliedV1
		if err := env.UnmarshalPayload(&p); err != nil {
			return err
		}
		return deps.Pairing.ApplyFixAuto(ctx, storage.FixRow{
			FixID:            p.FixID,
			FindingID:        p.FindingID,
			FixCommitSHA:     p.FixCommitSHA,
			FilePath:         p.FilePath,
			DiffHunks:        p.DiffHunks,
			TouchedLineStart: p.TouchedLineRange[0],
			TouchedLineEnd:   p.TouchedLineRange[1],
			ToolAutofix:      p.ToolAutofix,
			AppliedAt:        p.AppliedAt,
		}, deps.PairingTemporalWindow)
	}
}

// findingResolved applies ResolveFinding and then relays the returned
// pair_created event through the outbox in its own transaction. This is a
// known non-atomicity: ResolveFinding's write and the outbox enqueue are
// two separate commits, so a crash between them drops the event without
// losing the pair row itself (the next finding_resolved retry, or the
// periodic reconciliation a production deployment would add, recovers it).
func findingResolved(deps Deps) dispatch.Handler {
	return func(ctx context.Context, env envelope.Envelope) error {
		var p FindingResolvedV1
		if err := env.UnmarshalPayload(&p); err != nil {
			return err
		}
		created, err := deps.Pairing.ResolveFinding(ctx, p.FindingID, p.FixCommitSHA)
		if err != nil {
			return err
		}

		pairEnv, err := envelope.New("pair_created", 1, env.CorrelationID, "pairing-engine", created)
		if err != nil {
			return err
		}
		tx, err := deps.DB.BeginTxx(ctx, nil)
		if err != nil {
			return domainerr.Wrap(domainerr.TransientIO, env.CorrelationID, err)
		}
		if err := deps.Outbox.Enqueue(ctx, tx, deps.PairCreatedTopic, created.PairID, pairEnv); err != nil {
			_ = tx.Rollback()
			return domainerr.Wrap(domainerr.TransientIO, env.CorrelationID, err)
		}
		if err := tx.Commit(); err != nil {
			return domainerr.Wrap(domainerr.TransientIO, env.CorrelationID, err)
		}
		return nil
	}
}

// patternLearningRequested runs the learning pipeline and then walks the
// pattern_learning FSM for this request through its full foundation ->
// matching -> validation -> traceability -> completed chain, using the
// envelope's correlation_id as the entity — each request is its own run
// (spec.md §4.4).
func patternLearningRequested(deps Deps) dispatch.Handler {
	return func(ctx context.Context, env envelope.Envelope) error {
		var p PatternLearningRequestedV1
		if err := env.UnmarshalPayload(&p); err != nil {
			return err
		}
		if _, err := deps.Learning.Run(ctx, env.CorrelationID, p.RawTrace, p.DomainName); err != nil {
			return err
		}
		if deps.FSM == nil {
			return nil
		}
		return deps.FSM.Walk(ctx, fsm.PatternLearning, env.CorrelationID, env.CorrelationID, deps.FSMLeaseTTL,
			[]string{"start", "begin_matching", "begin_validation", "begin_traceability", "complete"},
			map[string]any{"domain_name": p.DomainName})
	}
}

// sessionOutcome records the routing outcome (and any injection), then
// walks the quality_assessment FSM for the session through receive ->
// begin_assess -> score -> store, so the per-session quality pass the
// feedback scorer later rolls up from has a matching FSM record.
func sessionOutcome(deps Deps) dispatch.Handler {
	return func(ctx context.Context, env envelope.Envelope) error {
		var p SessionOutcomeV1
		if err := env.UnmarshalPayload(&p); err != nil {
			return err
		}
		if err := deps.Feedback.RecordOutcome(ctx, storage.FeedbackRow{
			SessionID:         p.SessionID,
			AgentSelected:     p.AgentSelected,
			RecommendedAgent:  p.RecommendedAgent,
			RoutingConfidence: p.RoutingConfidence,
			InjectionOccurred: p.InjectionOccurred,
			PatternsInjectedCount: len(p.PatternIDsInjected),
			ToolCallsCount:    p.ToolCallsCount,
			DurationMS:        p.DurationMS,
			ProcessedAt:       p.ProcessedAt,
		}); err != nil {
			return err
		}
		if p.InjectionOccurred && len(p.PatternIDsInjected) > 0 {
			if err := deps.Feedback.RecordInjection(ctx, env.MessageID, p.SessionID, p.RunID, p.PatternIDsInjected, p.ProcessedAt); err != nil {
				return err
			}
		}
		if deps.FSM == nil {
			return nil
		}
		return deps.FSM.Walk(ctx, fsm.QualityAssessment, p.SessionID, env.CorrelationID, deps.FSMLeaseTTL,
			[]string{"receive", "begin_assess", "score", "store"},
			map[string]any{"agent_selected": p.AgentSelected})
	}
}

// patternPromotionRequested applies an explicit lifecycle transition
// command. A promotion into VALIDATED is gated on the pairing confidence
// floor (spec.md §8 invariant #7): without at least one finding-fix pair
// meeting PAIRING_CONFIDENCE_FLOOR, there is no confirmed-fix evidence to
// promote on, so the transition is rejected before it ever reaches the
// reducer.
func patternPromotionRequested(deps Deps) dispatch.Handler {
	return func(ctx context.Context, env envelope.Envelope) error {
		var p PatternPromotionRequestedV1
		if err := env.UnmarshalPayload(&p); err != nil {
			return err
		}

		from := lifecycle.Status(p.FromStatus)
		to := lifecycle.Status(p.ToStatus)

		if to == lifecycle.Validated {
			pairs, err := deps.PairingRepo.PairsAboveFloor(ctx, deps.PairingConfidenceFloor)
			if err != nil {
				return domainerr.Wrap(domainerr.TransientIO, env.CorrelationID, err)
			}
			if len(pairs) == 0 {
				return domainerr.New(domainerr.InvalidTransition, env.CorrelationID,
					"no finding-fix pair meets the confidence floor; pattern not eligible for promotion")
			}
		}

		if err := deps.Lifecycle.Transition(ctx, p.PatternID, from, to, p.Actor, p.Reason, env.CorrelationID, p.PatternClass); err != nil {
			return err
		}

		return emitLifecycleEvents(ctx, deps, env.CorrelationID, p)
	}
}

// emitLifecycleEvents relays the lifecycle audit event(s) through the
// outbox in their own transaction, the same known non-atomicity with the
// reducer's own commit that findingResolved documents for pair_created.
func emitLifecycleEvents(ctx context.Context, deps Deps, correlationID string, p PatternPromotionRequestedV1) error {
	now := time.Now().UTC()

	tx, err := deps.DB.BeginTxx(ctx, nil)
	if err != nil {
		return domainerr.Wrap(domainerr.TransientIO, correlationID, err)
	}
	defer func() { _ = tx.Rollback() }()

	transitionEnv, err := envelope.New("pattern_lifecycle_transition", 1, correlationID, "lifecycle-reducer", PatternLifecycleTransitionV1{
		PatternID: p.PatternID, FromStatus: p.FromStatus, ToStatus: p.ToStatus, Actor: p.Actor, Reason: p.Reason, OccurredAt: now,
	})
	if err != nil {
		return err
	}
	if err := deps.Outbox.Enqueue(ctx, tx, deps.PatternLifecycleTransitionTopic, p.PatternID, transitionEnv); err != nil {
		return domainerr.Wrap(domainerr.TransientIO, correlationID, err)
	}

	switch lifecycle.Status(p.ToStatus) {
	case lifecycle.Validated:
		promotedEnv, err := envelope.New("pattern_promoted", 1, correlationID, "lifecycle-reducer", PatternPromotedV1{
			PatternID: p.PatternID, ToStatus: p.ToStatus, OccurredAt: now,
		})
		if err != nil {
			return err
		}
		if err := deps.Outbox.Enqueue(ctx, tx, deps.PatternPromotedTopic, p.PatternID, promotedEnv); err != nil {
			return domainerr.Wrap(domainerr.TransientIO, correlationID, err)
		}
	case lifecycle.Deprecated:
		deprecatedEnv, err := envelope.New("pattern_deprecated", 1, correlationID, "lifecycle-reducer", PatternDeprecatedV1{
			PatternID: p.PatternID, Reason: p.Reason, OccurredAt: now,
		})
		if err != nil {
			return err
		}
		if err := deps.Outbox.Enqueue(ctx, tx, deps.PatternDeprecatedTopic, p.PatternID, deprecatedEnv); err != nil {
			return domainerr.Wrap(domainerr.TransientIO, correlationID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return domainerr.Wrap(domainerr.TransientIO, correlationID, err)
	}
	return nil
}
