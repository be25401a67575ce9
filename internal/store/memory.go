package store

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/serroba/datafactory/internal/collector"
)

// MemoryRowStore keeps rows in memory, merging writes for the same minute.
type MemoryRowStore struct {
	mu   sync.RWMutex
	rows map[time.Time]collector.Fields
}

func NewMemoryRowStore() *MemoryRowStore {
	return &MemoryRowStore{rows: make(map[time.Time]collector.Fields)}
}

func (m *MemoryRowStore) Write(_ context.Context, row collector.Row) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := row.Time.UTC()

	fields, ok := m.rows[key]
	if !ok {
		fields = make(collector.Fields, len(row.Fields))
		m.rows[key] = fields
	}

	maps.Copy(fields, row.Fields)

	return nil
}

// Latest returns the most recent row.
func (m *MemoryRowStore) Latest(_ context.Context) (collector.Row, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.rows) == 0 {
		return collector.Row{}, ErrNotFound
	}

	latest := slices.MaxFunc(slices.Collect(maps.Keys(m.rows)), func(a, b time.Time) int { return a.Compare(b) })

	return collector.Row{Time: latest, Fields: maps.Clone(m.rows[latest])}, nil
}

func (m *MemoryRowStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.rows)
}
