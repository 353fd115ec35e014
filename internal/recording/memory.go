package recording

import (
	"context"
	"sort"
	"sync"
	"time"
)

// InMemoryStore keeps the index in process memory. Used in tests and as a
// last-resort fallback when no durable backend is configured.
type InMemoryStore struct {
	mu     sync.RWMutex
	byID   map[string]Recording
	byPath map[string]string
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		byID:   make(map[string]Recording),
		byPath: make(map[string]string),
	}
}

func (s *InMemoryStore) Insert(_ context.Context, rec Recording) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[rec.ID] = rec
	s.byPath[rec.Path] = rec.ID
	return nil
}

func (s *InMemoryStore) Get(_ context.Context, id string) (Recording, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.byID[id]
	if !ok {
		return Recording{}, ErrNotFound
	}
	return rec, nil
}

func (s *InMemoryStore) GetByPath(_ context.Context, path string) (Recording, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byPath[path]
	if !ok {
		return Recording{}, ErrNotFound
	}
	return s.byID[id], nil
}

func (s *InMemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}
	delete(s.byID, id)
	delete(s.byPath, rec.Path)
	return nil
}

func (s *InMemoryStore) List(_ context.Context) ([]Recording, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Recording, 0, len(s.byID))
	for _, rec := range s.byID {
		out = append(out, rec)
	}
	sortByCreatedAt(out)
	return out, nil
}

func (s *InMemoryStore) ListExpired(_ context.Context, now time.Time) ([]Recording, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Recording
	for _, rec := range s.byID {
		if !rec.ExpiresAt.After(now) {
			out = append(out, rec)
		}
	}
	sortByCreatedAt(out)
	return out, nil
}

func (s *InMemoryStore) Close() error { return nil }

func sortByCreatedAt(recs []Recording) {
	sort.Slice(recs, func(i, j int) bool {
		if recs[i].CreatedAt.Equal(recs[j].CreatedAt) {
			return recs[i].ID < recs[j].ID
		}
		return recs[i].CreatedAt.Before(recs[j].CreatedAt)
	})
}
