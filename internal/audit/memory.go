package audit

import (
	"context"
	"sync"
)

// InMemory is a mutex-guarded Store used by tests and the in-memory engine.
type InMemory struct {
	mu      sync.RWMutex
	entries []*Entry
}

var _ Store = (*InMemory)(nil)

// NewInMemory creates an empty store.
func NewInMemory() *InMemory {
	return &InMemory{}
}

func (s *InMemory) Append(ctx context.Context, e *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *e
	s.entries = append(s.entries, &cp)
	return nil
}

func (s *InMemory) List(ctx context.Context, f Filter) ([]*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	limit := f.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	var res []*Entry
	skipped := 0
	// Newest first, matching the durable store's ordering.
	for i := len(s.entries) - 1; i >= 0; i-- {
		e := s.entries[i]
		if !matches(e, f) {
			continue
		}
		if skipped < f.Offset {
			skipped++
			continue
		}
		cp := *e
		res = append(res, &cp)
		if len(res) >= limit {
			break
		}
	}
	return res, nil
}

func matches(e *Entry, f Filter) bool {
	if f.ActorID != "" && e.ActorID != f.ActorID {
		return false
	}
	if f.Action != "" && e.Action != f.Action {
		return false
	}
	if f.EntityType != "" && e.EntityType != f.EntityType {
		return false
	}
	if f.EntityID != "" && e.EntityID != f.EntityID {
		return false
	}
	return true
}
