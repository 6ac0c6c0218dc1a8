// README: In-memory ride store for development mode and tests.
package ride

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"sharedride/internal/types"
)

type MemoryStore struct {
	mu    sync.Mutex
	rides map[types.ID]*Ride
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rides: make(map[types.ID]*Ride)}
}

func (s *MemoryStore) Insert(_ context.Context, r *Ride) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rides[r.ID]; ok {
		return fmt.Errorf("ride %s already exists", r.ID)
	}
	s.rides[r.ID] = r.Clone()
	return nil
}

func (s *MemoryStore) FindByID(_ context.Context, id types.ID) (*Ride, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rides[id]
	if !ok {
		return nil, ErrNotFound
	}
	return r.Clone(), nil
}

func (s *MemoryStore) FindActive(_ context.Context, f Filter) ([]*Ride, error) {
	s.mu.Lock()
	out := make([]*Ride, 0)
	for _, r := range s.rides {
		if f.Matches(r) {
			out = append(out, r.Clone())
		}
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].RequestedAt.After(out[j].RequestedAt) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *MemoryStore) ConditionalUpdate(_ context.Context, id types.ID, cond Condition, mut Mutation) (*Ride, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rides[id]
	if !ok || !cond.Matches(r) {
		return nil, ErrPreconditionFailed
	}
	mut.Apply(r)
	return r.Clone(), nil
}
