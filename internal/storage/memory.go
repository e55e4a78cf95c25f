package storage

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// MemoryStorage is an in-memory journal backend.
type MemoryStorage struct {
	entries []*Entry // oldest first
	index   map[uuid.UUID]*Entry
	mu      sync.RWMutex
}

// NewMemoryStorage creates a new in-memory journal backend.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		index: make(map[uuid.UUID]*Entry),
	}
}

// Append stores a copy of e.
func (m *MemoryStorage) Append(e *Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.index[e.ID]; exists {
		return fmt.Errorf("entry %s already exists", e.ID)
	}
	c := copyEntry(e)
	m.entries = append(m.entries, c)
	m.index[c.ID] = c
	return nil
}

// Load retrieves an entry from memory.
func (m *MemoryStorage) Load(id uuid.UUID) (*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.index[id]
	if !ok {
		return nil, fmt.Errorf("entry %s not found", id)
	}
	return copyEntry(e), nil
}

// Recent returns up to limit entries, newest first.
func (m *MemoryStorage) Recent(limit int) ([]*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Entry
	for i := len(m.entries) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		out = append(out, copyEntry(m.entries[i]))
	}
	return out, nil
}

// Prune keeps the newest keep entries.
func (m *MemoryStorage) Prune(keep int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if keep < 0 || len(m.entries) <= keep {
		return nil
	}
	drop := len(m.entries) - keep
	for _, e := range m.entries[:drop] {
		delete(m.index, e.ID)
	}
	m.entries = append([]*Entry(nil), m.entries[drop:]...)
	return nil
}

// Clear removes all entries.
func (m *MemoryStorage) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries = nil
	m.index = make(map[uuid.UUID]*Entry)
	return nil
}

// Close is a no-op for memory storage.
func (m *MemoryStorage) Close() error {
	return nil
}
