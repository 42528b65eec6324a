package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

var ErrTransportClosed = errors.New("event transport closed")

// MemoryTransport passes envelopes over buffered channels, one per
// (topic, consumer group). Every declared group receives every message.
type MemoryTransport struct {
	OnReject DeadLetterSink

	buf    int
	mu     sync.RWMutex
	groups map[string]map[string]chan Envelope
	dlq    map[string][]Envelope
	closed bool

	published uint64
	acked     uint64
	rejected  uint64
}

func NewMemoryTransport(buf int) *MemoryTransport {
	if buf <= 0 {
		buf = 256
	}
	return &MemoryTransport{
		buf:    buf,
		groups: map[string]map[string]chan Envelope{},
		dlq:    map[string][]Envelope{},
	}
}

// Declare creates the group queue ahead of the first Publish so nothing
// published during startup is lost.
func (m *MemoryTransport) Declare(topic, group string) {
	m.queue(topic, group)
}

func (m *MemoryTransport) queue(topic, group string) chan Envelope {
	m.mu.Lock()
	defer m.mu.Unlock()
	byGroup, ok := m.groups[topic]
	if !ok {
		byGroup = map[string]chan Envelope{}
		m.groups[topic] = byGroup
	}
	ch, ok := byGroup[group]
	if !ok {
		ch = make(chan Envelope, m.buf)
		byGroup[group] = ch
	}
	return ch
}

func (m *MemoryTransport) Publish(ctx context.Context, topic string, env Envelope) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrTransportClosed
	}
	targets := make([]chan Envelope, 0, len(m.groups[topic]))
	for _, ch := range m.groups[topic] {
		targets = append(targets, ch)
	}
	m.mu.RUnlock()

	for _, ch := range targets {
		select {
		case ch <- env:
		case <-ctx.Done():
			return fmt.Errorf("publish %s: %w", topic, ctx.Err())
		}
	}
	atomic.AddUint64(&m.published, 1)
	return nil
}

func (m *MemoryTransport) Consume(ctx context.Context, topic, group string, h Handler) error {
	ch := m.queue(topic, group)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case env := <-ch:
			if err := safeHandle(ctx, h, env); err != nil {
				atomic.AddUint64(&m.rejected, 1)
				m.mu.Lock()
				m.dlq[topic] = append(m.dlq[topic], env)
				m.mu.Unlock()
				if m.OnReject != nil {
					m.OnReject(ctx, topic, group, env, err)
				}
				continue
			}
			atomic.AddUint64(&m.acked, 1)
		}
	}
}

// DeadLetters returns the envelopes rejected on topic.
func (m *MemoryTransport) DeadLetters(topic string) []Envelope {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Envelope(nil), m.dlq[topic]...)
}

func (m *MemoryTransport) Stats() (published, acked, rejected uint64) {
	return atomic.LoadUint64(&m.published), atomic.LoadUint64(&m.acked), atomic.LoadUint64(&m.rejected)
}

func (m *MemoryTransport) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

func safeHandle(ctx context.Context, h Handler, env Envelope) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(ctx, env)
}
