package continuation

import (
	"context"
	"sync"
)

// MemoryStore is a process-local Store for tests and single-instance runs.
type MemoryStore struct {
	mu      sync.Mutex
	pending map[string][]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{pending: make(map[string][]string)}
}

func (m *MemoryStore) Put(_ context.Context, sender string, chunks []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(chunks) == 0 {
		delete(m.pending, sender)
		return nil
	}
	m.pending[sender] = append([]string(nil), chunks...)
	return nil
}

func (m *MemoryStore) TakeNext(_ context.Context, sender string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	queue := m.pending[sender]
	if len(queue) == 0 {
		delete(m.pending, sender)
		return "", false, nil
	}
	if len(queue) == 1 {
		delete(m.pending, sender)
	} else {
		m.pending[sender] = queue[1:]
	}
	return queue[0], true, nil
}

func (m *MemoryStore) Clear(_ context.Context, sender string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pending, sender)
	return nil
}

// Pending returns a copy of the queued pieces for sender.
func (m *MemoryStore) Pending(sender string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.pending[sender]...)
}
