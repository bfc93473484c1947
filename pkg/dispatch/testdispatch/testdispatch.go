// Package testdispatch is a synchronous dispatch harness for tests and
// local development: it skips the bus entirely and invokes the registry
// inline, so a test can assert on dispatch outcomes without running
// Kafka.
package testdispatch

import (
	"context"

	"go.uber.org/zap"

	"github.com/codeready-toolchain/patternctl/pkg/dispatch"
	"github.com/codeready-toolchain/patternctl/pkg/envelope"
)

// RecordingSink is a dispatch.QuarantineSink that just remembers what it
// was handed, for test assertions.
type RecordingSink struct {
	Envelopes []envelope.Envelope
	Reasons   []string
}

func (s *RecordingSink) Quarantine(_ context.Context, env envelope.Envelope, reason string) error {
	s.Envelopes = append(s.Envelopes, env)
	s.Reasons = append(s.Reasons, reason)
	return nil
}

// Harness wraps a dispatch.Registry with a RecordingSink and a no-op
// logger, wired the way a test needs: register handlers, feed envelopes
// synchronously, assert on outcomes and quarantine records.
type Harness struct {
	Registry *dispatch.Registry
	Sink     *RecordingSink
}

// New builds a Harness with generous circuit breaker settings (tests
// should not trip a breaker by accident on a handler that legitimately
// returns a handful of errors).
func New() *Harness {
	sink := &RecordingSink{}
	registry := dispatch.NewRegistry(sink, zap.NewNop(), dispatch.BreakerSettings{
		FailureThreshold: 1000,
		OpenDurationSec:  30,
	})
	return &Harness{Registry: registry, Sink: sink}
}

// Feed parses and dispatches a raw envelope synchronously, returning
// whatever error the registry produced.
func (h *Harness) Feed(ctx context.Context, raw []byte) error {
	env, err := envelope.Parse(raw)
	if err != nil {
		return err
	}
	return h.Registry.Dispatch(ctx, env)
}

// FeedEnvelope dispatches an already-built envelope synchronously.
func (h *Harness) FeedEnvelope(ctx context.Context, env envelope.Envelope) error {
	return h.Registry.Dispatch(ctx, env)
}
