// Package quarantine implements dispatch.QuarantineSink: envelopes that
// could not be routed or whose handler permanently failed are redacted
// and relayed onto a quarantine topic via the transactional outbox,
// rather than dropped silently.
package quarantine

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/codeready-toolchain/patternctl/pkg/envelope"
	"github.com/codeready-toolchain/patternctl/pkg/outbox"
	"github.com/codeready-toolchain/patternctl/pkg/redact"
)

// reasonedPayload wraps the original (redacted) payload with the reason
// dispatch gave for quarantining it, so an operator reading the
// quarantine topic sees why, not just what.
type reasonedPayload struct {
	OriginalKind string          `json:"original_kind"`
	Reason       string          `json:"reason"`
	Payload      json.RawMessage `json:"payload"`
}

// Sink writes quarantined envelopes through the outbox so they reach the
// quarantine topic with the same at-least-once guarantee as any other
// emitted event.
type Sink struct {
	db       *sqlx.DB
	store    *outbox.Store
	redactor *redact.Redactor
	topic    string
}

func NewSink(db *sqlx.DB, redactor *redact.Redactor, topic string) *Sink {
	return &Sink{db: db, store: outbox.NewStore(), redactor: redactor, topic: topic}
}

// Quarantine redacts env.Payload and enqueues it onto the quarantine topic
// in its own transaction. A failure here is logged by the caller
// (dispatch.Registry) but never escalated into a retry loop — dispatch has
// already decided this message cannot be processed normally.
func (s *Sink) Quarantine(ctx context.Context, env envelope.Envelope, reason string) error {
	redacted := s.redactor.Payload(env.Payload)

	body, err := json.Marshal(reasonedPayload{OriginalKind: env.Kind, Reason: reason, Payload: redacted})
	if err != nil {
		return fmt.Errorf("quarantine: marshal: %w", err)
	}

	quarantineEnv, err := envelope.New("dispatch.quarantined", 1, env.CorrelationID, "dispatch-registry", json.RawMessage(body))
	if err != nil {
		return fmt.Errorf("quarantine: build envelope: %w", err)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("quarantine: begin tx: %w", err)
	}
	if err := s.store.Enqueue(ctx, tx, s.topic, env.MessageID, quarantineEnv); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("quarantine: enqueue: %w", err)
	}
	return tx.Commit()
}
