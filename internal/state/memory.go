package state

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-process EntityStore. Used by tests and by the
// daemon when no database is configured.
type MemoryStore struct {
	mu       sync.RWMutex
	entities map[Kind]map[string][]byte
	events   map[string]EventRecord
	log      []EventRecord
	last     *EventRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entities: make(map[Kind]map[string][]byte),
		events:   make(map[string]EventRecord),
	}
}

func (m *MemoryStore) Get(_ context.Context, kind Kind, id string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.entities[kind][id]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), data...), nil
}

// List returns up to limit entities of a kind ordered by id.
func (m *MemoryStore) List(_ context.Context, kind Kind, limit int) ([][]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.entities[kind]))
	for id := range m.entities[kind] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	out := make([][]byte, 0, len(ids))
	for _, id := range ids {
		out = append(out, append([]byte(nil), m.entities[kind][id]...))
	}
	return out, nil
}

func (m *MemoryStore) Apply(_ context.Context, batch *Batch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, w := range batch.Writes {
		byID, ok := m.entities[w.Kind]
		if !ok {
			byID = make(map[string][]byte)
			m.entities[w.Kind] = byID
		}
		byID[w.ID] = append([]byte(nil), w.Data...)
	}
	if batch.Event != nil {
		rec := *batch.Event
		m.events[rec.Key] = rec
		m.log = append(m.log, rec)
		m.last = &rec
	}
	return nil
}

func (m *MemoryStore) HasEvent(_ context.Context, key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.events[key]
	return ok, nil
}

func (m *MemoryStore) LastEvent(_ context.Context) (*EventRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.last == nil {
		return nil, nil
	}
	rec := *m.last
	return &rec, nil
}

func (m *MemoryStore) Events(_ context.Context, after int64, limit int) ([]EventRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []EventRecord
	for _, rec := range m.log {
		if rec.Sequence <= after {
			continue
		}
		out = append(out, rec)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// Count is the number of stored entities of a kind.
func (m *MemoryStore) Count(kind Kind) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entities[kind])
}
