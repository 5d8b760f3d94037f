package audit

import (
	"context"
	"sync"
)

// Repository stores ledger events. Implementations must keep seq order on List and must
// never modify or delete an appended event.
type Repository interface {
	Append(ctx context.Context, e Event) error
	Last(ctx context.Context) (*Event, error)
	List(ctx context.Context, f Filter) ([]Event, error)
	Get(ctx context.Context, seq int64) (*Event, error)
	Tail(ctx context.Context, n int) ([]Event, error)
}

// MemoryRepository keeps the ledger in process memory.
type MemoryRepository struct {
	mu     sync.RWMutex
	events []Event
}

// NewMemoryRepository returns an empty in-memory ledger store.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{}
}

func (r *MemoryRepository) Append(_ context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n := len(r.events); n > 0 && r.events[n-1].Seq >= e.Seq {
		return errSeqTaken
	}
	r.events = append(r.events, cloneEvent(e))
	return nil
}

func (r *MemoryRepository) Last(_ context.Context) (*Event, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.events) == 0 {
		return nil, nil
	}
	e := cloneEvent(r.events[len(r.events)-1])
	return &e, nil
}

func (r *MemoryRepository) List(_ context.Context, f Filter) ([]Event, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Event, 0, len(r.events))
	for _, e := range r.events {
		if f.Matches(e) {
			out = append(out, cloneEvent(e))
		}
	}
	return out, nil
}

func (r *MemoryRepository) Get(_ context.Context, seq int64) (*Event, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.events {
		if e.Seq == seq {
			out := cloneEvent(e)
			return &out, nil
		}
	}
	return nil, nil
}

func (r *MemoryRepository) Tail(_ context.Context, n int) ([]Event, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if n <= 0 {
		return []Event{}, nil
	}
	start := len(r.events) - n
	if start < 0 {
		start = 0
	}
	out := make([]Event, 0, len(r.events)-start)
	for _, e := range r.events[start:] {
		out = append(out, cloneEvent(e))
	}
	return out, nil
}
