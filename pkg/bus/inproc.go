package bus

import (
	"context"
	"sync"
)

// InprocTransport is a buffered-channel Transport for tests and local
// dev when ACTIVATION_GATE is unset — spec.md §4.2's requirement that
// the degraded/disabled consumer path be a genuinely separate code path
// rather than a Kafka client pointed at nothing.
type InprocTransport struct {
	mu    sync.Mutex
	chans map[string]chan Message
}

func NewInprocTransport() *InprocTransport {
	return &InprocTransport{chans: make(map[string]chan Message)}
}

func (t *InprocTransport) topicChan(topic string) chan Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	ch, ok := t.chans[topic]
	if !ok {
		ch = make(chan Message, 256)
		t.chans[topic] = ch
	}
	return ch
}

// Subscribe returns the shared buffered channel for topic. Every
// subscriber to the same topic competes for messages off the same
// channel, the same "consumer group" semantics kafka-go gives Kafka
// consumers — one delivery per message, not a fan-out.
func (t *InprocTransport) Subscribe(_ context.Context, topic, _ string) (<-chan Message, error) {
	return t.topicChan(topic), nil
}

func (t *InprocTransport) Publish(ctx context.Context, topic string, key, value []byte) error {
	ch := t.topicChan(topic)
	select {
	case ch <- Message{Topic: topic, Key: key, Value: value, Ack: func(context.Context) error { return nil }}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *InprocTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, ch := range t.chans {
		close(ch)
	}
	t.chans = make(map[string]chan Message)
	return nil
}
