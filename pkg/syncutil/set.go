// Package syncutil provides small concurrency helpers shared across
// the sync and session layers.
package syncutil

import "sync"

// Set is a mutex-guarded string set. The session layer uses one per
// document to track in-flight publishes so teardown can wait for them
// instead of relying on ad hoc shared flags.
type Set struct {
	mu    sync.Mutex
	items map[string]struct{}
}

// NewSet returns an empty set.
func NewSet() *Set {
	return &Set{items: make(map[string]struct{})}
}

// Add inserts id, reporting whether it was newly added.
func (s *Set) Add(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[id]; ok {
		return false
	}
	s.items[id] = struct{}{}
	return true
}

// Remove deletes id, reporting whether it was present.
func (s *Set) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[id]; !ok {
		return false
	}
	delete(s.items, id)
	return true
}

// Contains reports membership.
func (s *Set) Contains(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.items[id]
	return ok
}

// Len returns the current size.
func (s *Set) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// Drain removes and returns all members.
func (s *Set) Drain() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.items))
	for id := range s.items {
		out = append(out, id)
	}
	s.items = make(map[string]struct{})
	return out
}
