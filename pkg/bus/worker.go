package bus

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// WorkerStatus mirrors the teacher's queue.WorkerStatus.
type WorkerStatus string

const (
	WorkerStatusIdle    WorkerStatus = "idle"
	WorkerStatusWorking WorkerStatus = "working"
)

// WorkerHealth reports one worker's current state.
type WorkerHealth struct {
	ID               string
	Status           WorkerStatus
	MessagesHandled  int
	LastActivity     time.Time
}

// HandleFunc processes one message's bytes, returning an error the
// caller decides how to classify (retry vs quarantine).
type HandleFunc func(ctx context.Context, value []byte) error

// worker pulls from a shared message channel and calls handle for each
// message, acking only on success — directly generalizing the teacher's
// queue.Worker polling loop from "claim a session row" to "receive off a
// topic channel."
type worker struct {
	id            string
	messages      <-chan Message
	handle        HandleFunc
	handlerTimeout time.Duration
	logger        *zap.Logger

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	mu              sync.RWMutex
	status          WorkerStatus
	messagesHandled int
	lastActivity    time.Time
}

func newWorker(id string, messages <-chan Message, handle HandleFunc, handlerTimeout time.Duration, logger *zap.Logger) *worker {
	return &worker{
		id:             id,
		messages:       messages,
		handle:         handle,
		handlerTimeout: handlerTimeout,
		logger:         logger,
		stopCh:         make(chan struct{}),
		status:         WorkerStatusIdle,
		lastActivity:   time.Now(),
	}
}

func (w *worker) start(ctx context.Context) {
	w.wg.Add(1)
	go w.run(ctx)
}

func (w *worker) stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	w.wg.Wait()
}

func (w *worker) run(ctx context.Context) {
	defer w.wg.Done()
	log := w.logger.With(zap.String("worker_id", w.id))
	log.Info("worker started")

	for {
		select {
		case <-w.stopCh:
			log.Info("worker shutting down (drain complete)")
			return
		case <-ctx.Done():
			log.Info("context cancelled, worker shutting down")
			return
		case msg, ok := <-w.messages:
			if !ok {
				return
			}
			w.process(ctx, msg, log)
		}
	}
}

// process invokes handle with a bounded timeout and acks only if it
// succeeds, mirroring the teacher's "finish in-flight work, then commit"
// drain discipline at the individual-message granularity.
func (w *worker) process(ctx context.Context, msg Message, log *zap.Logger) {
	w.setStatus(WorkerStatusWorking)
	defer w.setStatus(WorkerStatusIdle)

	handleCtx, cancel := context.WithTimeout(ctx, w.handlerTimeout)
	defer cancel()

	if err := w.handle(handleCtx, msg.Value); err != nil {
		log.Error("message handling failed", zap.Error(err), zap.String("topic", msg.Topic))
		return
	}

	if msg.Ack != nil {
		if err := msg.Ack(ctx); err != nil {
			log.Error("ack failed", zap.Error(err), zap.String("topic", msg.Topic))
			return
		}
	}

	w.mu.Lock()
	w.messagesHandled++
	w.lastActivity = time.Now()
	w.mu.Unlock()
}

func (w *worker) setStatus(s WorkerStatus) {
	w.mu.Lock()
	w.status = s
	w.mu.Unlock()
}

func (w *worker) Health() WorkerHealth {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return WorkerHealth{
		ID:              w.id,
		Status:          w.status,
		MessagesHandled: w.messagesHandled,
		LastActivity:    w.lastActivity,
	}
}
