package archive

import (
	"context"
	"sync"
)

// MemoryStore backs tests and single-node deployments without Postgres.
type MemoryStore struct {
	mu       sync.RWMutex
	patients map[string]ArchivedPatient
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{patients: make(map[string]ArchivedPatient)}
}

func (s *MemoryStore) Save(ctx context.Context, patient ArchivedPatient) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.patients[patient.Key]; exists {
		return nil
	}
	s.patients[patient.Key] = patient
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, key string) (*ArchivedPatient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	patient, ok := s.patients[key]
	if !ok {
		return nil, ErrNotFound
	}
	return &patient, nil
}

func (s *MemoryStore) Count(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.patients)), nil
}
