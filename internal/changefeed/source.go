package changefeed

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned when publishing to a closed source.
var ErrClosed = errors.New("change feed closed")

// Delivery is an event handed to a consumer. Ack must be called once the event
// has been handled; unacked deliveries may be redelivered by durable sources.
type Delivery struct {
	Event Event
	Ack   func(ctx context.Context) error
}

// Source delivers events until ctx is done or the source is exhausted.
// Implementations close the returned channel when they stop.
type Source interface {
	Deliveries(ctx context.Context) (<-chan Delivery, error)
}

// MemorySource is an in-process channel feed. Publish blocks while the buffer is
// full, until a consumer makes room, ctx ends, or the feed is closed.
type MemorySource struct {
	ch   chan Delivery
	done chan struct{}

	mu       sync.Mutex // guards closed and inflight.Add
	closed   bool
	inflight sync.WaitGroup
}

// NewMemorySource creates a feed with the given buffer size.
func NewMemorySource(buffer int) *MemorySource {
	return &MemorySource{ch: make(chan Delivery, buffer), done: make(chan struct{})}
}

// Publish enqueues e. Returns ErrClosed after Close, including for a
// publish that was blocked on a full buffer when Close was called.
func (m *MemorySource) Publish(ctx context.Context, e Event) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	m.inflight.Add(1)
	m.mu.Unlock()
	defer m.inflight.Done()

	select {
	case m.ch <- Delivery{Event: e, Ack: noAck}:
		return nil
	case <-m.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the feed; consumers drain what is buffered. Blocked publishers are
// released with ErrClosed before the delivery channel is closed.
func (m *MemorySource) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	close(m.done)
	m.mu.Unlock()

	m.inflight.Wait()
	close(m.ch)
}

// Deliveries returns the shared channel. ctx is unused; call Close to stop.
func (m *MemorySource) Deliveries(_ context.Context) (<-chan Delivery, error) {
	return m.ch, nil
}

func noAck(context.Context) error { return nil }
