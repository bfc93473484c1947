// Package envelope defines the self-describing wrapper around every
// inter-component message and the JSON codec that freezes it after
// emission.
package envelope

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/codeready-toolchain/patternctl/pkg/domainerr"
)

// Envelope is the frozen wrapper around every message crossing a component
// boundary (spec.md §3). Payload is kept as raw JSON; handlers unmarshal it
// into their own kind-specific struct once dispatch has already validated
// the envelope itself.
type Envelope struct {
	MessageID     string          `json:"message_id" validate:"required,uuid4"`
	Kind          string          `json:"kind" validate:"required"`
	SchemaVersion int             `json:"schema_version" validate:"required,gte=1"`
	CorrelationID string          `json:"correlation_id" validate:"required,uuid4"`
	ProducerID    string          `json:"producer_id" validate:"required"`
	OccurredAt    time.Time       `json:"occurred_at" validate:"required"`
	Payload       json.RawMessage `json:"payload" validate:"required"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// New builds an Envelope with a fresh message_id, stamping occurred_at in
// UTC as the producer boundary requires (spec.md §3: "no implicit now()
// defaults in application code" — the caller is the producer, this is the
// producer boundary).
func New(kind string, schemaVersion int, correlationID, producerID string, payload any) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("envelope: marshal payload: %w", err)
	}
	return Envelope{
		MessageID:     uuid.NewString(),
		Kind:          kind,
		SchemaVersion: schemaVersion,
		CorrelationID: correlationID,
		ProducerID:    producerID,
		OccurredAt:    time.Now().UTC(),
		Payload:       raw,
	}, nil
}

// Serialize marshals the envelope to its canonical wire form.
func (e Envelope) Serialize() ([]byte, error) {
	return json.Marshal(e)
}

// Parse decodes bytes into an Envelope, rejecting unknown top-level fields
// per spec.md §6 ("field set is closed"), and then validates required
// fields. A parse or validation failure is always a SchemaViolation.
func Parse(data []byte) (Envelope, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var e Envelope
	if err := dec.Decode(&e); err != nil {
		return Envelope{}, domainerr.New(domainerr.SchemaViolation, "", fmt.Sprintf("envelope decode: %v", err))
	}
	if err := validate.Struct(e); err != nil {
		return Envelope{}, domainerr.New(domainerr.SchemaViolation, e.CorrelationID, fmt.Sprintf("envelope validation: %v", err))
	}
	return e, nil
}

// UnmarshalPayload decodes the envelope's payload into dst, rejecting
// unknown fields the same way Parse does for the envelope itself.
func (e Envelope) UnmarshalPayload(dst any) error {
	dec := json.NewDecoder(bytes.NewReader(e.Payload))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return domainerr.New(domainerr.SchemaViolation, e.CorrelationID, fmt.Sprintf("payload decode for kind %q: %v", e.Kind, err))
	}
	return nil
}
