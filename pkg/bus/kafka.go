package bus

import (
	"context"
	"fmt"
	"sync"

	kafka "github.com/segmentio/kafka-go"
)

// KafkaTransport is the production Transport, one *kafka.Writer shared
// across publishes and one *kafka.Reader per (topic, consumerGroup) pair
// handed out by Subscribe.
type KafkaTransport struct {
	brokers []string
	writer  *kafka.Writer

	mu      sync.Mutex
	readers []*kafka.Reader
}

func NewKafkaTransport(brokers []string) *KafkaTransport {
	return &KafkaTransport{
		brokers: brokers,
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Balancer:               &kafka.Hash{},
			AllowAutoTopicCreation: true,
		},
	}
}

func (t *KafkaTransport) Subscribe(ctx context.Context, topic, consumerGroup string) (<-chan Message, error) {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers: t.brokers,
		Topic:   topic,
		GroupID: consumerGroup,
	})

	t.mu.Lock()
	t.readers = append(t.readers, reader)
	t.mu.Unlock()

	out := make(chan Message)
	go func() {
		defer close(out)
		for {
			msg, err := reader.FetchMessage(ctx)
			if err != nil {
				return
			}
			m := msg
			select {
			case out <- Message{
				Topic: m.Topic,
				Key:   m.Key,
				Value: m.Value,
				Ack: func(ackCtx context.Context) error {
					return reader.CommitMessages(ackCtx, m)
				},
			}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (t *KafkaTransport) Publish(ctx context.Context, topic string, key, value []byte) error {
	err := t.writer.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   key,
		Value: value,
	})
	if err != nil {
		return fmt.Errorf("bus: kafka publish to %s: %w", topic, err)
	}
	return nil
}

func (t *KafkaTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	var firstErr error
	for _, r := range t.readers {
		if err := r.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := t.writer.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
