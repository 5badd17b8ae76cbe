// Package router keeps the visible screen consistent with the session: while
// the first session check runs nothing is shown, afterwards signed-out users
// see the entry screen and signed-in users the live tab. Flows navigate
// through the gate as well, so a screen already shown is never pushed twice.
package router

import (
	"sync"

	"weversity/services/learner-app/internal/nav"
	"weversity/services/learner-app/internal/role"
	"weversity/services/learner-app/internal/session"
)

// Source is the part of the session store the gate depends on.
type Source interface {
	Subscribe(l session.Listener) func()
}

type Gate struct {
	source    Source
	navigator nav.Navigator

	// routeMu serialises compare-and-replace so navigations reach the
	// navigator in the order they were decided.
	routeMu sync.Mutex

	mu          sync.Mutex
	unsubscribe func()
	current     nav.Target
	routed      bool
}

func New(source Source, navigator nav.Navigator) *Gate {
	return &Gate{source: source, navigator: navigator}
}

// Start subscribes to the session. It is a no-op when already started.
func (g *Gate) Start() {
	g.mu.Lock()
	if g.unsubscribe != nil {
		g.mu.Unlock()
		return
	}
	// Placeholder so a re-entrant Start during Subscribe sees us as started.
	g.unsubscribe = func() {}
	g.mu.Unlock()

	unsubscribe := g.source.Subscribe(g.route)

	g.mu.Lock()
	g.unsubscribe = unsubscribe
	g.mu.Unlock()
}

func (g *Gate) Stop() {
	g.mu.Lock()
	unsubscribe := g.unsubscribe
	g.unsubscribe = nil
	g.mu.Unlock()
	if unsubscribe != nil {
		unsubscribe()
	}
}

// Current returns the last target routed to. ok is false while blank.
func (g *Gate) Current() (nav.Target, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.current, g.routed
}

// Target is where a snapshot should be shown. ok is false while loading.
func Target(snap session.Snapshot) (nav.Target, bool) {
	switch {
	case snap.State == session.StateLoading:
		return nav.Target{}, false
	case snap.Authenticated():
		return nav.To(role.LandingRoute(snap.Session.Role)), true
	default:
		return nav.To(nav.RouteEntry), true
	}
}

// Replace navigates to target unless it is already the current screen.
func (g *Gate) Replace(target nav.Target) {
	g.routeMu.Lock()
	defer g.routeMu.Unlock()

	g.mu.Lock()
	if g.routed && g.current.Equal(target) {
		g.mu.Unlock()
		return
	}
	g.current, g.routed = target, true
	g.mu.Unlock()

	g.navigator.Replace(target)
}

func (g *Gate) route(snap session.Snapshot) {
	target, ok := Target(snap)
	if !ok {
		return
	}
	g.Replace(target)
}
