package credentials

import (
	"context"
	"sync"
)

// Memory is an in-memory Store. Values are lost on restart - suitable for
// tests and single-run CLI use.
type Memory struct {
	mu     sync.RWMutex
	values map[string]map[string]string // userID -> key -> value
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{values: make(map[string]map[string]string)}
}

// Get implements Store.
func (m *Memory) Get(ctx context.Context, userID, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	user, ok := m.values[userID]
	if !ok {
		return "", false, nil
	}
	value, ok := user[key]
	return value, ok, nil
}

// Set implements Store.
func (m *Memory) Set(ctx context.Context, userID, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.values[userID]
	if !ok {
		user = make(map[string]string)
		m.values[userID] = user
	}
	user[key] = value
	return nil
}

var _ Store = (*Memory)(nil)
