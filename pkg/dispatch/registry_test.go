package dispatch

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/codeready-toolchain/patternctl/pkg/domainerr"
	"github.com/codeready-toolchain/patternctl/pkg/envelope"
)

type fakeSink struct {
	quarantined []envelope.Envelope
	reasons     []string
}

func (s *fakeSink) Quarantine(_ context.Context, env envelope.Envelope, reason string) error {
	s.quarantined = append(s.quarantined, env)
	s.reasons = append(s.reasons, reason)
	return nil
}

func testEnvelope(kind string, schemaVersion int) envelope.Envelope {
	return envelope.Envelope{
		MessageID:     "11111111-1111-4111-8111-111111111111",
		Kind:          kind,
		SchemaVersion: schemaVersion,
		CorrelationID: "22222222-2222-4222-8222-222222222222",
		ProducerID:    "test",
		Payload:       json.RawMessage(`{}`),
	}
}

func TestDispatch_UnknownKindQuarantines(t *testing.T) {
	sink := &fakeSink{}
	r := NewRegistry(sink, zap.NewNop(), BreakerSettings{FailureThreshold: 5, OpenDurationSec: 30})

	err := r.Dispatch(context.Background(), testEnvelope("nonexistent.kind", 1))
	require.Error(t, err)
	assert.Equal(t, domainerr.Quarantined, domainerr.KindOf(err))
	assert.Len(t, sink.quarantined, 1)
}

func TestDispatch_RegisteredHandlerInvoked(t *testing.T) {
	sink := &fakeSink{}
	r := NewRegistry(sink, zap.NewNop(), BreakerSettings{FailureThreshold: 5, OpenDurationSec: 30})

	called := false
	err := r.Register("pattern.learned", 1, func(ctx context.Context, env envelope.Envelope) error {
		called = true
		return nil
	})
	require.NoError(t, err)

	err = r.Dispatch(context.Background(), testEnvelope("pattern.learned", 1))
	require.NoError(t, err)
	assert.True(t, called)
}

func TestDispatch_DuplicateRegistrationRejected(t *testing.T) {
	r := NewRegistry(nil, zap.NewNop(), BreakerSettings{FailureThreshold: 5, OpenDurationSec: 30})
	noop := func(ctx context.Context, env envelope.Envelope) error { return nil }

	require.NoError(t, r.Register("pattern.learned", 1, noop))
	err := r.Register("pattern.learned", 1, noop)
	assert.ErrorIs(t, err, ErrDuplicateRegistration)
}

func TestDispatch_HandlerPanicQuarantines(t *testing.T) {
	sink := &fakeSink{}
	r := NewRegistry(sink, zap.NewNop(), BreakerSettings{FailureThreshold: 5, OpenDurationSec: 30})

	require.NoError(t, r.Register("pattern.learned", 1, func(ctx context.Context, env envelope.Envelope) error {
		panic("boom")
	}))

	err := r.Dispatch(context.Background(), testEnvelope("pattern.learned", 1))
	require.Error(t, err)
	assert.Equal(t, domainerr.Quarantined, domainerr.KindOf(err))
	assert.Len(t, sink.quarantined, 1)
}

func TestDispatch_BreakerOpensAfterConsecutiveFailures(t *testing.T) {
	r := NewRegistry(&fakeSink{}, zap.NewNop(), BreakerSettings{FailureThreshold: 2, OpenDurationSec: 30})

	failing := func(ctx context.Context, env envelope.Envelope) error {
		return domainerr.New(domainerr.TransientIO, env.CorrelationID, "boom")
	}
	require.NoError(t, r.Register("pattern.learned", 1, failing))

	env := testEnvelope("pattern.learned", 1)
	_ = r.Dispatch(context.Background(), env)
	_ = r.Dispatch(context.Background(), env)

	err := r.Dispatch(context.Background(), env)
	require.Error(t, err)
	assert.Equal(t, domainerr.TransientIO, domainerr.KindOf(err))
	assert.Equal(t, "open", r.BreakerState()["pattern.learned.v1"])
}
