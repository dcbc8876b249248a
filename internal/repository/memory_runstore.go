package repository

import (
	"context"
	"sort"
	"sync"

	"comfyrun/pkg/models"
)

// MemoryRunStore keeps run records in process memory.
type MemoryRunStore struct {
	mu   sync.RWMutex
	runs map[string]models.RunRecord
}

// NewMemoryRunStore creates a new MemoryRunStore.
func NewMemoryRunStore() *MemoryRunStore {
	return &MemoryRunStore{runs: make(map[string]models.RunRecord)}
}

func (s *MemoryRunStore) Save(_ context.Context, run *models.RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[run.ID] = *run
	return nil
}

func (s *MemoryRunStore) Get(_ context.Context, id string) (*models.RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &run, nil
}

func (s *MemoryRunStore) List(_ context.Context, limit int) ([]*models.RunRecord, error) {
	s.mu.RLock()
	out := make([]*models.RunRecord, 0, len(s.runs))
	for _, run := range s.runs {
		out = append(out, &run)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryRunStore) Ping(context.Context) error {
	return nil
}
