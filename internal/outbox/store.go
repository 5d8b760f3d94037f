package outbox

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/nextmed-labs/trustledger/pkg/enums"
)

var (
	// ErrJobNotFound is returned by stores for unknown ids.
	ErrJobNotFound = errors.New("outbox job not found")
	// ErrJobChanged is returned by Save when the stored revision moved past job.Revision.
	ErrJobChanged = errors.New("outbox job changed concurrently")
)

// Store holds job records. Only the Runner writes to it. Save is a compare-and-set on
// Revision: it writes job with Revision+1 only while the stored revision equals job.Revision.
type Store interface {
	Create(ctx context.Context, job Job) error
	Get(ctx context.Context, id string) (Job, error)
	Save(ctx context.Context, job Job) error
	List(ctx context.Context) ([]Job, error)
	Due(ctx context.Context, nowMs int64) ([]Job, error)
	CountByStatus(ctx context.Context) (map[enums.JobStatus]int, error)
	FindLive(ctx context.Context, trackingID string) (*Job, error)
}

// MemoryStore is the default process-local Store.
type MemoryStore struct {
	mu   sync.RWMutex
	jobs map[string]Job
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: map[string]Job{}}
}

func (s *MemoryStore) Create(_ context.Context, job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return errors.New("outbox job already exists")
	}
	s.jobs[job.ID] = cloneJob(job)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return Job{}, ErrJobNotFound
	}
	return cloneJob(job), nil
}

func (s *MemoryStore) Save(_ context.Context, job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.jobs[job.ID]
	if !ok {
		return ErrJobNotFound
	}
	if stored.Revision != job.Revision {
		return ErrJobChanged
	}
	job = cloneJob(job)
	job.Revision++
	s.jobs[job.ID] = job
	return nil
}

func (s *MemoryStore) List(_ context.Context) ([]Job, error) {
	return s.filter(func(Job) bool { return true }), nil
}

func (s *MemoryStore) Due(_ context.Context, nowMs int64) ([]Job, error) {
	return s.filter(func(j Job) bool { return j.Due(nowMs) }), nil
}

func (s *MemoryStore) CountByStatus(_ context.Context) (map[enums.JobStatus]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := map[enums.JobStatus]int{}
	for _, j := range s.jobs {
		out[j.Status]++
	}
	return out, nil
}

func (s *MemoryStore) FindLive(_ context.Context, trackingID string) (*Job, error) {
	matches := s.filter(func(j Job) bool {
		return j.Payload.TrackingID == trackingID && !j.Status.IsTerminal()
	})
	if len(matches) == 0 {
		return nil, nil
	}
	return &matches[0], nil
}

// filter returns matching copies in creation order.
func (s *MemoryStore) filter(keep func(Job) bool) []Job {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		if keep(j) {
			out = append(out, cloneJob(j))
		}
	}
	sortJobs(out)
	return out
}

func sortJobs(jobs []Job) {
	sort.Slice(jobs, func(i, k int) bool {
		if jobs[i].CreatedAtMs != jobs[k].CreatedAtMs {
			return jobs[i].CreatedAtMs < jobs[k].CreatedAtMs
		}
		return jobs[i].ID < jobs[k].ID
	})
}
