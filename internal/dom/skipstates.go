package dom

import (
	"sort"
	"sync"
)

// SkipStates is the set of DOM digests that have already been explored.
// It is shared between workers exploring different pages and is safe for
// concurrent use.
type SkipStates struct {
	mu  sync.RWMutex
	set map[string]struct{}
}

// NewSkipStates creates a set holding digests.
func NewSkipStates(digests ...string) *SkipStates {
	s := &SkipStates{set: make(map[string]struct{}, len(digests))}
	for _, d := range digests {
		s.set[d] = struct{}{}
	}
	return s
}

// Add records digest and reports whether it was not already present.
func (s *SkipStates) Add(digest string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.set[digest]; ok {
		return false
	}
	s.set[digest] = struct{}{}
	return true
}

// Contains reports whether digest has been recorded.
func (s *SkipStates) Contains(digest string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.set[digest]
	return ok
}

// Merge adds every digest of other.
func (s *SkipStates) Merge(other *SkipStates) {
	if other == nil || other == s {
		return
	}
	digests := other.Slice()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range digests {
		s.set[d] = struct{}{}
	}
}

// Len returns the number of digests.
func (s *SkipStates) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.set)
}

// Slice returns the digests in sorted order.
func (s *SkipStates) Slice() []string {
	s.mu.RLock()
	out := make([]string, 0, len(s.set))
	for d := range s.set {
		out = append(out, d)
	}
	s.mu.RUnlock()
	sort.Strings(out)
	return out
}
