// Package outbox generalizes the teacher's persistAndNotify
// (pkg/events.EventPublisher): instead of relying on pg_notify's
// transactional delivery, a domain write's envelope is appended to
// outbox_messages inside the SAME transaction as the write, and a
// separate Relay drains the table onto the bus. This is what makes
// "produced events are emitted atomically with commit of the inbound
// offset" (spec.md §4.2) hold when the transport is Kafka rather than
// Postgres NOTIFY, which can't itself participate in an app transaction.
package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/codeready-toolchain/patternctl/pkg/bus"
	"github.com/codeready-toolchain/patternctl/pkg/envelope"
)

// Store appends envelopes to outbox_messages. Enqueue takes an
// *sqlx.Tx so callers can fold it into their own transaction, the same
// way the teacher folds the events-table INSERT and pg_notify into one
// transaction.
type Store struct{}

func NewStore() *Store { return &Store{} }

func (s *Store) Enqueue(ctx context.Context, tx *sqlx.Tx, topic string, key string, env envelope.Envelope) error {
	raw, err := env.Serialize()
	if err != nil {
		return fmt.Errorf("outbox: serialize envelope: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO outbox_messages (topic, message_key, envelope, created_at) VALUES ($1, $2, $3, $4)`,
		topic, key, raw, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("outbox: enqueue: %w", err)
	}
	return nil
}

type outboxRow struct {
	ID       int64           `db:"id"`
	Topic    string          `db:"topic"`
	Key      string          `db:"message_key"`
	Envelope json.RawMessage `db:"envelope"`
}

// Relay polls outbox_messages for unpublished rows, publishes each to
// the bus transport, and marks it published. A crash between publish
// and mark-published causes at-most a duplicate redelivery, never a
// loss — consistent with the rest of the system's at-least-once
// delivery discipline.
type Relay struct {
	db        *sqlx.DB
	transport bus.Transport
	interval  time.Duration
	batchSize int
	logger    *zap.Logger

	stopCh chan struct{}
	doneCh chan struct{}
}

func NewRelay(db *sqlx.DB, transport bus.Transport, interval time.Duration, logger *zap.Logger) *Relay {
	return &Relay{
		db:        db,
		transport: transport,
		interval:  interval,
		batchSize: 100,
		logger:    logger,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

func (r *Relay) Start(ctx context.Context) {
	go r.run(ctx)
}

func (r *Relay) run(ctx context.Context) {
	defer close(r.doneCh)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.relayOnce(ctx); err != nil {
				r.logger.Error("outbox relay pass failed", zap.Error(err))
			}
		}
	}
}

func (r *Relay) Stop() {
	close(r.stopCh)
	<-r.doneCh
}

func (r *Relay) relayOnce(ctx context.Context) error {
	var rows []outboxRow
	err := r.db.SelectContext(ctx, &rows,
		`SELECT id, topic, message_key, envelope FROM outbox_messages WHERE published_at IS NULL ORDER BY id LIMIT $1`,
		r.batchSize)
	if err != nil {
		return fmt.Errorf("outbox: select unpublished: %w", err)
	}

	for _, row := range rows {
		if err := r.transport.Publish(ctx, row.Topic, []byte(row.Key), row.Envelope); err != nil {
			r.logger.Error("outbox: publish failed, will retry next pass",
				zap.Int64("outbox_id", row.ID), zap.String("topic", row.Topic), zap.Error(err))
			continue
		}
		if _, err := r.db.ExecContext(ctx,
			`UPDATE outbox_messages SET published_at = $1 WHERE id = $2`, time.Now().UTC(), row.ID); err != nil {
			r.logger.Error("outbox: failed to mark published", zap.Int64("outbox_id", row.ID), zap.Error(err))
		}
	}
	return nil
}
