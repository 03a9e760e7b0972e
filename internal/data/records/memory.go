package records

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-process Store for tests and local development.
type MemoryStore struct {
	mu   sync.Mutex
	recs map[string]map[string]IndexRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{recs: make(map[string]map[string]IndexRecord)}
}

func (m *MemoryStore) List(ctx context.Context, namespace string) ([]IndexRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]IndexRecord, 0, len(m.recs[namespace]))
	for _, r := range m.recs[namespace] {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Source < out[j].Source })
	return out, nil
}

func (m *MemoryStore) Upsert(ctx context.Context, rec IndexRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.recs[rec.Namespace] == nil {
		m.recs[rec.Namespace] = make(map[string]IndexRecord)
	}
	rec.UpdatedAt = time.Now()
	m.recs[rec.Namespace][rec.Source] = rec
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, namespace string, sources []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, s := range sources {
		delete(m.recs[namespace], s)
	}
	return nil
}

func (m *MemoryStore) DeleteNamespace(ctx context.Context, namespace string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.recs, namespace)
	return nil
}
