package events

import (
	"context"
	"sync"
)

// Published is one message captured by MemoryPublisher.
type Published struct {
	RoutingKey string
	Event      interface{}
}

// MemoryPublisher records messages in order. Used by tests and by the
// server when no broker is configured.
type MemoryPublisher struct {
	mu       sync.Mutex
	messages []Published
	Err      error
}

func NewMemoryPublisher() *MemoryPublisher {
	return &MemoryPublisher{}
}

func (m *MemoryPublisher) record(key string, ev interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.messages = append(m.messages, Published{RoutingKey: key, Event: ev})
	return nil
}

func (m *MemoryPublisher) PublishSessionStarted(_ context.Context, ev *SessionEvent) error {
	return m.record(string(EventTypeSessionStarted), ev)
}

func (m *MemoryPublisher) PublishSessionEnded(_ context.Context, ev *SessionEvent) error {
	return m.record(string(EventTypeSessionEnded), ev)
}

func (m *MemoryPublisher) PublishTrustUpdated(_ context.Context, ev *TrustEvent) error {
	return m.record(string(EventTypeTrustUpdated), ev)
}

func (m *MemoryPublisher) Close() error { return nil }

// Messages returns a copy of everything published so far.
func (m *MemoryPublisher) Messages() []Published {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Published, len(m.messages))
	copy(out, m.messages)
	return out
}

// Count returns how many messages used routingKey.
func (m *MemoryPublisher) Count(routingKey string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, p := range m.messages {
		if p.RoutingKey == routingKey {
			n++
		}
	}
	return n
}
