package inflight

import "sync"

// Set tracks the recording ids currently being processed by this process
type Set struct {
	mu  sync.Mutex
	ids map[string]struct{}
}

// NewSet creates an empty set
func NewSet() *Set {
	return &Set{ids: make(map[string]struct{})}
}

// TryAcquire inserts id and reports whether it was absent
func (s *Set) TryAcquire(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, held := s.ids[id]; held {
		return false
	}
	s.ids[id] = struct{}{}
	return true
}

// Release removes id. Releasing an id that is not held is a no-op.
func (s *Set) Release(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.ids, id)
}

// Held reports whether id is currently held
func (s *Set) Held(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, held := s.ids[id]
	return held
}

// Len returns the number of held ids
func (s *Set) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ids)
}
