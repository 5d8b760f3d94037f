package consents

import (
	"context"
	"errors"
	"sync"
)

// ErrExists is returned by Create when the id is taken.
var ErrExists = errors.New("consent already exists")

// Repository stores consents with their full version history. Get returns nil
// without error for unknown ids.
type Repository interface {
	Create(ctx context.Context, c Consent) error
	Get(ctx context.Context, id string) (*Consent, error)
	Save(ctx context.Context, c Consent) error
}

// MemoryRepository keeps consents in process memory.
type MemoryRepository struct {
	mu   sync.RWMutex
	byID map[string]Consent
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{byID: map[string]Consent{}}
}

func (r *MemoryRepository) Create(_ context.Context, c Consent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[c.ID]; ok {
		return ErrExists
	}
	r.byID[c.ID] = clone(c)
	return nil
}

func (r *MemoryRepository) Get(_ context.Context, id string) (*Consent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byID[id]
	if !ok {
		return nil, nil
	}
	out := clone(c)
	return &out, nil
}

func (r *MemoryRepository) Save(_ context.Context, c Consent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[c.ID] = clone(c)
	return nil
}
