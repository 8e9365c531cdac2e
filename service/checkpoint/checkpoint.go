// Package checkpoint persists the last hub event id durably enqueued per shard.
package checkpoint

import (
	"context"
	"fmt"
	"sync"
)

// Store reads and writes a shard cursor. Get returns 0 when nothing is stored;
// Set with 0 removes the key, so absent and 0 mean the same thing.
type Store interface {
	Get(ctx context.Context, shardKey string) (uint64, error)
	Set(ctx context.Context, shardKey string, eventID uint64) error
}

// KeyFor namespaces a shard's checkpoint by hub host.
func KeyFor(hubHost, shardKey string) string {
	return fmt.Sprintf("hub:%s:%s:last-hub-event-id", hubHost, shardKey)
}

// Memory is an in-process Store.
type Memory struct {
	mu   sync.RWMutex
	data map[string]uint64
}

func NewMemory() *Memory {
	return &Memory{data: make(map[string]uint64)}
}

func (m *Memory) Get(_ context.Context, shardKey string) (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data[shardKey], nil
}

func (m *Memory) Set(_ context.Context, shardKey string, eventID uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if eventID == 0 {
		delete(m.data, shardKey)
		return nil
	}
	m.data[shardKey] = eventID
	return nil
}
