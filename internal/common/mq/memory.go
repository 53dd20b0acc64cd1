package mq

import (
	"context"
	"errors"
	"sync"
)

// MemoryQueue delivers messages in-process. It backs single-node
// deployments that run without Kafka.
type MemoryQueue struct {
	mu       sync.RWMutex
	handlers map[string][]HandlerFunc
	closed   bool
}

// NewMemoryQueue creates an empty in-process queue.
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{handlers: make(map[string][]HandlerFunc)}
}

// Publish calls every handler of topic synchronously. Handler errors are
// dropped after MaxRetries attempts.
func (q *MemoryQueue) Publish(ctx context.Context, topic string, message *Message) error {
	if message == nil {
		return errors.New("message is nil")
	}
	if topic == "" {
		return errors.New("topic is required")
	}
	q.mu.RLock()
	if q.closed {
		q.mu.RUnlock()
		return errors.New("message queue is closed")
	}
	handlers := append([]HandlerFunc(nil), q.handlers[topic]...)
	q.mu.RUnlock()

	for _, h := range handlers {
		m := *message
		for h(ctx, &m) != nil && m.ShouldRetry() {
			m.RetryCount++
		}
	}
	return nil
}

func (q *MemoryQueue) Subscribe(ctx context.Context, topic string, handler HandlerFunc) error {
	return q.SubscribeWithOptions(ctx, topic, handler, nil)
}

func (q *MemoryQueue) SubscribeWithOptions(_ context.Context, topic string, handler HandlerFunc, _ *SubscribeOptions) error {
	if topic == "" {
		return errors.New("topic is required")
	}
	if handler == nil {
		return errors.New("handler is required")
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[topic] = append(q.handlers[topic], handler)
	return nil
}

func (q *MemoryQueue) Start() error { return nil }

func (q *MemoryQueue) Stop() error { return nil }

func (q *MemoryQueue) Ping(context.Context) error { return nil }

func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.handlers = make(map[string][]HandlerFunc)
	return nil
}

var _ MessageQueue = (*MemoryQueue)(nil)
