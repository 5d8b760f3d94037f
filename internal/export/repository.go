package export

import (
	"context"
	"sync"
)

// Repository stores sealed export jobs. Jobs are written once; Delete only withdraws a job
// whose audit.export event could not be recorded.
type Repository interface {
	Create(ctx context.Context, job Job) error
	Get(ctx context.Context, jobID string) (*Job, error)
	Delete(ctx context.Context, jobID string) error
}

// MemoryRepository keeps export jobs in process memory.
type MemoryRepository struct {
	mu   sync.RWMutex
	jobs map[string]Job
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{jobs: map[string]Job{}}
}

func (r *MemoryRepository) Create(_ context.Context, job Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[job.JobID] = cloneJob(job)
	return nil
}

func (r *MemoryRepository) Get(_ context.Context, jobID string) (*Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	job, ok := r.jobs[jobID]
	if !ok {
		return nil, nil
	}
	out := cloneJob(job)
	return &out, nil
}

func (r *MemoryRepository) Delete(_ context.Context, jobID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.jobs, jobID)
	return nil
}
