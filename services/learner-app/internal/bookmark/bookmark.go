// Package bookmark tracks which courses the user saved in this process.
package bookmark

import (
	"sync"

	"weversity/services/learner-app/internal/model"
)

type Store struct {
	mu  sync.RWMutex
	ids map[string]struct{}
}

func New() *Store {
	return &Store{ids: map[string]struct{}{}}
}

// Toggle flips the bookmark for id and reports whether it is now set.
func (s *Store) Toggle(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ids[id]; ok {
		delete(s.ids, id)
		return false
	}
	s.ids[id] = struct{}{}
	return true
}

func (s *Store) IsBookmarked(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.ids[id]
	return ok
}

// List returns the bookmarked courses in catalog order.
func (s *Store) List(catalog []model.Course) []model.Course {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Course, 0, len(s.ids))
	for _, course := range catalog {
		if _, ok := s.ids[course.ID]; ok {
			out = append(out, course)
		}
	}
	return out
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.ids)
}
