package state

import (
	"maps"
	"slices"
	"sync"
)

// staleKeys is the set of cache keys whose on-disk copy is out of date.
// Whether a key is written or removed is decided at flush time by reading
// the in-memory value, so the set only needs membership.
type staleKeys[K comparable] struct {
	mu   sync.Mutex
	keys map[K]struct{}
}

func newStaleKeys[K comparable]() *staleKeys[K] {
	return &staleKeys[K]{keys: make(map[K]struct{})}
}

func (s *staleKeys[K]) add(k K) {
	s.mu.Lock()
	s.keys[k] = struct{}{}
	s.mu.Unlock()
}

// take empties the set and returns what it held. Keys added afterwards
// belong to the next flush.
func (s *staleKeys[K]) take() []K {
	s.mu.Lock()
	taken := s.keys
	s.keys = make(map[K]struct{})
	s.mu.Unlock()
	return slices.Collect(maps.Keys(taken))
}

// restore puts keys back after a failed flush.
func (s *staleKeys[K]) restore(keys []K) {
	s.mu.Lock()
	for _, k := range keys {
		s.keys[k] = struct{}{}
	}
	s.mu.Unlock()
}

func (s *staleKeys[K]) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.keys)
}
