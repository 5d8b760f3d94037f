package participants

import (
	"context"
	"errors"
	"sort"
	"sync"
)

// ErrExists is returned by Create when the id is taken.
var ErrExists = errors.New("participant already exists")

// Repository stores participants. Get returns nil without error for unknown ids.
type Repository interface {
	Create(ctx context.Context, p Participant) error
	Get(ctx context.Context, id string) (*Participant, error)
	Save(ctx context.Context, p Participant) error
	List(ctx context.Context) ([]Participant, error)
}

// MemoryRepository keeps participants in process memory.
type MemoryRepository struct {
	mu   sync.RWMutex
	byID map[string]Participant
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{byID: map[string]Participant{}}
}

func (r *MemoryRepository) Create(_ context.Context, p Participant) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[p.ID]; ok {
		return ErrExists
	}
	r.byID[p.ID] = clone(p)
	return nil
}

func (r *MemoryRepository) Get(_ context.Context, id string) (*Participant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byID[id]
	if !ok {
		return nil, nil
	}
	out := clone(p)
	return &out, nil
}

func (r *MemoryRepository) Save(_ context.Context, p Participant) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[p.ID] = clone(p)
	return nil
}

func (r *MemoryRepository) List(_ context.Context) ([]Participant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Participant, 0, len(r.byID))
	for _, p := range r.byID {
		out = append(out, clone(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
