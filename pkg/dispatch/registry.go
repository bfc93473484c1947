// Package dispatch routes a validated envelope to the handler registered
// for its (kind, schema_version) pair, isolating the rest of the system
// from a single handler's failure.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/codeready-toolchain/patternctl/pkg/domainerr"
	"github.com/codeready-toolchain/patternctl/pkg/envelope"
)

// ErrDuplicateRegistration is returned by Register when a (kind,
// schema_version) pair already has a handler.
var ErrDuplicateRegistration = errors.New("dispatch: handler already registered for kind/schema_version")

// Handler processes one envelope's payload. Handlers must never panic
// across the dispatch boundary; dispatch() recovers regardless, but a
// handler that panics is converted to Quarantined, not retried.
type Handler func(ctx context.Context, env envelope.Envelope) error

// Key identifies a handler slot.
type Key struct {
	Kind          string
	SchemaVersion int
}

// QuarantineSink receives envelopes that dispatch() could not route or
// that a handler permanently rejected.
type QuarantineSink interface {
	Quarantine(ctx context.Context, env envelope.Envelope, reason string) error
}

type registeredHandler struct {
	handler Handler
	breaker *gobreaker.CircuitBreaker
}

// Registry is a data-driven handler table keyed by (kind,
// schema_version), built once at startup from loaded contracts.
type Registry struct {
	mu         sync.RWMutex
	handlers   map[Key]*registeredHandler
	quarantine QuarantineSink
	logger     *zap.Logger

	breakerFailureThreshold uint32
	breakerOpenDuration     int64 // seconds, avoids importing time just for this field's zero value semantics
}

// BreakerSettings configures the per-handler circuit breaker (spec.md §7).
type BreakerSettings struct {
	FailureThreshold uint32
	OpenDurationSec  int64
}

func NewRegistry(sink QuarantineSink, logger *zap.Logger, settings BreakerSettings) *Registry {
	return &Registry{
		handlers:                make(map[Key]*registeredHandler),
		quarantine:              sink,
		logger:                  logger,
		breakerFailureThreshold: settings.FailureThreshold,
		breakerOpenDuration:     settings.OpenDurationSec,
	}
}

// Register binds a handler to a (kind, schema_version) pair. It returns
// ErrDuplicateRegistration on collision — the registry is built once at
// startup and a collision there is a configuration bug, not a runtime
// condition to tolerate silently.
func (r *Registry) Register(kind string, schemaVersion int, h Handler) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := Key{Kind: kind, SchemaVersion: schemaVersion}
	if _, exists := r.handlers[key]; exists {
		return fmt.Errorf("%w: %s v%d", ErrDuplicateRegistration, kind, schemaVersion)
	}

	breakerName := fmt.Sprintf("%s.v%d", kind, schemaVersion)
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    breakerName,
		Timeout: secondsToDuration(r.breakerOpenDuration),
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= r.breakerFailureThreshold
		},
	})

	r.handlers[key] = &registeredHandler{handler: h, breaker: breaker}
	return nil
}

// BreakerState reports the current state of every registered handler's
// circuit breaker, for the health endpoint.
func (r *Registry) BreakerState() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]string, len(r.handlers))
	for key, rh := range r.handlers {
		out[fmt.Sprintf("%s.v%d", key.Kind, key.SchemaVersion)] = rh.breaker.State().String()
	}
	return out
}

// Dispatch looks up the handler for env.Kind/env.SchemaVersion and
// invokes it through that handler's circuit breaker. Unknown kinds and
// handler panics are both routed to the quarantine sink and reported as
// domainerr.Quarantined; they are never retried.
func (r *Registry) Dispatch(ctx context.Context, env envelope.Envelope) (err error) {
	key := Key{Kind: env.Kind, SchemaVersion: env.SchemaVersion}

	r.mu.RLock()
	rh, ok := r.handlers[key]
	r.mu.RUnlock()

	if !ok {
		r.logger.Warn("dispatch: no handler registered",
			zap.String("kind", env.Kind),
			zap.Int("schema_version", env.SchemaVersion),
			zap.String("correlation_id", env.CorrelationID))
		return r.quarantineAndReport(ctx, env, "no handler registered for kind/schema_version")
	}

	_, breakerErr := rh.breaker.Execute(func() (any, error) {
		return nil, r.invokeSafely(ctx, rh.handler, env)
	})
	if breakerErr == nil {
		return nil
	}
	if errors.Is(breakerErr, gobreaker.ErrOpenState) || errors.Is(breakerErr, gobreaker.ErrTooManyRequests) {
		return domainerr.New(domainerr.TransientIO, env.CorrelationID, "handler circuit breaker open")
	}

	var de *domainerr.DomainError
	if errors.As(breakerErr, &de) && de.Kind == domainerr.Quarantined {
		return r.quarantineAndReport(ctx, env, de.Message)
	}
	return breakerErr
}

// invokeSafely calls the handler, converting a panic into a Quarantined
// domain error rather than letting it cross the dispatch boundary.
func (r *Registry) invokeSafely(ctx context.Context, h Handler, env envelope.Envelope) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("dispatch: handler panicked",
				zap.Any("recovered", rec),
				zap.String("kind", env.Kind),
				zap.String("correlation_id", env.CorrelationID))
			err = domainerr.New(domainerr.Quarantined, env.CorrelationID, fmt.Sprintf("handler panic: %v", rec))
		}
	}()
	return h(ctx, env)
}

func (r *Registry) quarantineAndReport(ctx context.Context, env envelope.Envelope, reason string) error {
	if r.quarantine != nil {
		if qerr := r.quarantine.Quarantine(ctx, env, reason); qerr != nil {
			r.logger.Error("dispatch: failed to write quarantine record",
				zap.Error(qerr), zap.String("correlation_id", env.CorrelationID))
		}
	}
	return domainerr.New(domainerr.Quarantined, env.CorrelationID, reason)
}
