// Package navtest provides a recording navigator for tests.
package navtest

import (
	"sync"

	"weversity/services/learner-app/internal/nav"
)

// Recorder is a nav.Navigator that remembers every target it was sent.
type Recorder struct {
	mu      sync.Mutex
	history []nav.Target
}

func (r *Recorder) Replace(target nav.Target) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.history = append(r.history, target)
}

func (r *Recorder) History() []nav.Target {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]nav.Target, len(r.history))
	copy(out, r.history)
	return out
}

func (r *Recorder) Last() (nav.Target, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.history) == 0 {
		return nav.Target{}, false
	}
	return r.history[len(r.history)-1], true
}
