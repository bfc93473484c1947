package bus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// PoolHealth reports one topic's worker pool state, the per-topic
// analogue of the teacher's queue.PoolHealth.
type PoolHealth struct {
	Topic         string
	TotalWorkers  int
	ActiveWorkers int
	WorkerStats   []WorkerHealth
}

// WorkerPool runs WORKER_COUNT workers pulling from one topic, each
// acking independently — directly generalizing the teacher's
// queue.WorkerPool (one pool, N workers, Start/Stop draining) to "one
// pool per contract topic" (SPEC_FULL.md §4.2).
type WorkerPool struct {
	topic   string
	workers []*worker
	logger  *zap.Logger
}

func newWorkerPool(topic string, messages <-chan Message, workerCount int, handlerTimeout time.Duration, handle HandleFunc, logger *zap.Logger) *WorkerPool {
	workers := make([]*worker, 0, workerCount)
	for i := 0; i < workerCount; i++ {
		id := fmt.Sprintf("%s-worker-%d", topic, i)
		workers = append(workers, newWorker(id, messages, handle, handlerTimeout, logger))
	}
	return &WorkerPool{topic: topic, workers: workers, logger: logger}
}

func (p *WorkerPool) start(ctx context.Context) {
	for _, w := range p.workers {
		w.start(ctx)
	}
}

func (p *WorkerPool) stop() {
	var wg sync.WaitGroup
	for _, w := range p.workers {
		wg.Add(1)
		go func(w *worker) {
			defer wg.Done()
			w.stop()
		}(w)
	}
	wg.Wait()
}

func (p *WorkerPool) Health() PoolHealth {
	stats := make([]WorkerHealth, len(p.workers))
	active := 0
	for i, w := range p.workers {
		h := w.Health()
		stats[i] = h
		if h.Status == WorkerStatusWorking {
			active++
		}
	}
	return PoolHealth{
		Topic:         p.topic,
		TotalWorkers:  len(p.workers),
		ActiveWorkers: active,
		WorkerStats:   stats,
	}
}
