package ingest

import (
	"context"
	"sync"

	"github.com/cortexbrain/cortex/pkg/model"
	"github.com/cortexbrain/cortex/pkg/store"
)

// JobStore persists ingestion job records. Implementations must allow
// concurrent reads while the owning coordinator goroutine writes.
type JobStore interface {
	SaveJob(ctx context.Context, job model.IngestJob) error
	GetJob(ctx context.Context, id string) (*model.IngestJob, error)
}

// MemoryJobStore is the default single-process JobStore.
type MemoryJobStore struct {
	mu   sync.RWMutex
	jobs map[string]model.IngestJob
}

func NewMemoryJobStore() *MemoryJobStore {
	return &MemoryJobStore{jobs: make(map[string]model.IngestJob)}
}

func (s *MemoryJobStore) SaveJob(ctx context.Context, job model.IngestJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job.Warnings = append([]string(nil), job.Warnings...)
	s.jobs[job.ID] = job
	return nil
}

func (s *MemoryJobStore) GetJob(ctx context.Context, id string) (*model.IngestJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	job.Warnings = append([]string(nil), job.Warnings...)
	return &job, nil
}
