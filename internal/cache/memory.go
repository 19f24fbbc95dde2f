// Package cache provides the aggregation cache backends: an in-process map
// and a Redis hash shared between processes.
package cache

import (
	"context"
	"sync"

	"github.com/mesh-intelligence/keepsake/pkg/types"
)

// Memory is an in-process cache of frozen records. It never evicts; Clear
// empties it.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]*types.Record
}

func NewMemory() *Memory {
	return &Memory{entries: make(map[string]*types.Record)}
}

func (m *Memory) Get(_ context.Context, key string) (*types.Record, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.entries[key]
	return rec, ok, nil
}

// Put stores rec, freezing a copy if the caller handed over a mutable one.
func (m *Memory) Put(_ context.Context, key string, rec *types.Record) error {
	if !rec.Frozen() {
		rec = rec.Clone()
		rec.Freeze()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = rec
	return nil
}

func (m *Memory) Clear(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[string]*types.Record)
	return nil
}

func (m *Memory) Len(context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries), nil
}
