package replication

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by operations on a closed channel.
var ErrClosed = errors.New("replication: channel closed")

// Memory is an in-process Channel. Multiple engine instances attached to
// the same Memory see each other's writes, which is how tests model several
// devices on one replication fabric.
type Memory struct {
	mu     sync.RWMutex
	subs   map[string]map[int]Handler
	nextID int
	closed bool
}

// NewMemory creates an in-process channel.
func NewMemory() *Memory {
	return &Memory{subs: make(map[string]map[int]Handler)}
}

// Put delivers the entry to every current subscriber of the namespace.
func (m *Memory) Put(ctx context.Context, namespace, key string, value []byte) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrClosed
	}
	handlers := make([]Handler, 0, len(m.subs[namespace]))
	for _, fn := range m.subs[namespace] {
		handlers = append(handlers, fn)
	}
	m.mu.RUnlock()

	for _, fn := range handlers {
		fn(key, value)
	}
	return nil
}

// Subscribe registers a handler for the namespace.
func (m *Memory) Subscribe(namespace string, fn Handler) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}

	m.nextID++
	id := m.nextID
	if m.subs[namespace] == nil {
		m.subs[namespace] = make(map[int]Handler)
	}
	m.subs[namespace][id] = fn

	cancel := func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subs[namespace], id)
	}
	return cancel, nil
}

// Close drops all subscriptions.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.subs = make(map[string]map[int]Handler)
	return nil
}
