package store

import (
	"context"
	"slices"
	"sync"
)

// MemStore is a thread-safe in-memory store.
type MemStore struct {
	mu      sync.RWMutex
	records map[string]Record
	order   []string
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		records: make(map[string]Record),
	}
}

func (s *MemStore) Get(_ context.Context, name string) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[name]
	if !ok {
		return Record{}, ErrNotFound
	}
	return cloneRecord(rec), nil
}

func (s *MemStore) List(_ context.Context) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]Record, 0, len(s.order))
	for _, name := range s.order {
		result = append(result, cloneRecord(s.records[name]))
	}
	return result, nil
}

func (s *MemStore) Put(_ context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.records[rec.Name]; ok {
		rec.ID = existing.ID
		rec.CreatedAt = existing.CreatedAt
	} else {
		s.order = append(s.order, rec.Name)
	}
	s.records[rec.Name] = cloneRecord(rec)
	return nil
}

func (s *MemStore) Delete(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[name]; !ok {
		return ErrNotFound
	}
	delete(s.records, name)
	s.order = slices.DeleteFunc(s.order, func(n string) bool { return n == name })
	return nil
}

func cloneRecord(rec Record) Record {
	rec.State = slices.Clone(rec.State)
	return rec
}

// Compile-time interface check.
var _ Store = (*MemStore)(nil)
