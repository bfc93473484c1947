package bus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/codeready-toolchain/patternctl/pkg/envelope"
)

// Dispatcher is the subset of dispatch.Registry the fleet needs —
// kept as an interface so bus doesn't import dispatch and vice versa.
type Dispatcher interface {
	Dispatch(ctx context.Context, env envelope.Envelope) error
}

// FleetHealth reports the whole consumer fleet's state for the health
// endpoint.
type FleetHealth struct {
	Enabled bool
	Pools   map[string]PoolHealth
}

// Fleet owns one WorkerPool per topic, wired to a shared Transport and
// Dispatcher. When Enabled is false (ACTIVATION_GATE unset), Start is a
// no-op: the process still reports healthy, just with zero consumers —
// spec.md §4.2's degraded-mode requirement.
type Fleet struct {
	transport     Transport
	dispatcher    Dispatcher
	consumerGroup string
	workerCount   int
	handlerTimeout time.Duration
	logger        *zap.Logger
	enabled       bool

	mu    sync.Mutex
	pools map[string]*WorkerPool
}

func NewFleet(transport Transport, dispatcher Dispatcher, consumerGroup string, workerCount int, handlerTimeout time.Duration, logger *zap.Logger, enabled bool) *Fleet {
	return &Fleet{
		transport:      transport,
		dispatcher:     dispatcher,
		consumerGroup:  consumerGroup,
		workerCount:    workerCount,
		handlerTimeout: handlerTimeout,
		logger:         logger,
		enabled:        enabled,
		pools:          make(map[string]*WorkerPool),
	}
}

// Start subscribes to every topic and starts a pool for each. If the
// fleet is disabled it returns immediately without touching the
// transport at all.
func (f *Fleet) Start(ctx context.Context, topics []string) error {
	if !f.enabled {
		f.logger.Info("consumer fleet disabled (ACTIVATION_GATE unset), starting in health-only mode")
		return nil
	}

	for _, topic := range topics {
		messages, err := f.transport.Subscribe(ctx, topic, f.consumerGroup)
		if err != nil {
			return fmt.Errorf("bus: subscribe to %s: %w", topic, err)
		}
		pool := newWorkerPool(topic, messages, f.workerCount, f.handlerTimeout, f.handleRaw, f.logger)
		f.mu.Lock()
		f.pools[topic] = pool
		f.mu.Unlock()
		pool.start(ctx)
	}
	return nil
}

// handleRaw parses the envelope and dispatches it. Parse failures are
// SchemaViolations that dispatch never sees (there is no handler to
// call), so they are logged and the message is dropped rather than
// retried forever.
func (f *Fleet) handleRaw(ctx context.Context, value []byte) error {
	env, err := envelope.Parse(value)
	if err != nil {
		f.logger.Error("envelope failed validation, dropping", zap.Error(err))
		return nil
	}
	return f.dispatcher.Dispatch(ctx, env)
}

// Stop drains every pool: workers finish in-flight handlers (bounded by
// HANDLER_TIMEOUT_SECONDS) before Stop returns.
func (f *Fleet) Stop() {
	f.mu.Lock()
	pools := make([]*WorkerPool, 0, len(f.pools))
	for _, p := range f.pools {
		pools = append(pools, p)
	}
	f.mu.Unlock()

	var wg sync.WaitGroup
	for _, p := range pools {
		wg.Add(1)
		go func(p *WorkerPool) {
			defer wg.Done()
			p.stop()
		}(p)
	}
	wg.Wait()
}

func (f *Fleet) Health() FleetHealth {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := FleetHealth{Enabled: f.enabled, Pools: make(map[string]PoolHealth, len(f.pools))}
	for topic, p := range f.pools {
		out.Pools[topic] = p.Health()
	}
	return out
}
