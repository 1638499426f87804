// Copyright (c) OpenMMLab. All rights reserved.

package source

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// SeenSet records event ids that have already been emitted
type SeenSet interface {
	// Add records id and reports whether it was new
	Add(id string) bool
	Len() int
}

// NewSeenSet returns an unbounded set when capacity <= 0 and an LRU-bounded
// set otherwise.
func NewSeenSet(capacity int) SeenSet {
	if capacity <= 0 {
		return make(mapSet)
	}
	cache, err := lru.New[string, struct{}](capacity)
	if err != nil {
		return make(mapSet)
	}
	return &lruSet{cache: cache}
}

// mapSet grows for the lifetime of the source
type mapSet map[string]struct{}

func (s mapSet) Add(id string) bool {
	if _, exists := s[id]; exists {
		return false
	}
	s[id] = struct{}{}
	return true
}

func (s mapSet) Len() int {
	return len(s)
}

// lruSet forgets the least recently seen ids once full. An id evicted here
// and returned again by a later window is emitted twice.
type lruSet struct {
	cache *lru.Cache[string, struct{}]
}

func (s *lruSet) Add(id string) bool {
	if s.cache.Contains(id) {
		s.cache.Get(id)
		return false
	}
	s.cache.Add(id, struct{}{})
	return true
}

func (s *lruSet) Len() int {
	return s.cache.Len()
}
