// Package session holds the single answer to "is a user signed in" and lets
// the rest of the app subscribe to changes of that answer.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"weversity/services/learner-app/internal/backend"
	"weversity/services/learner-app/internal/model"
)

// PendingVerificationKey marks an email whose verification link is outstanding.
const PendingVerificationKey = "pendingVerificationEmail"

var ErrEmailNotVerified = errors.New("email not verified")

type State int

const (
	StateLoading State = iota
	StateSignedOut
	StateSignedIn
)

func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateSignedOut:
		return "signed_out"
	case StateSignedIn:
		return "signed_in"
	default:
		return "unknown"
	}
}

type Snapshot struct {
	State   State
	Session *model.Session
}

func (s Snapshot) Authenticated() bool {
	return s.State == StateSignedIn && s.Session != nil && s.Session.UserID != ""
}

func (s Snapshot) equal(other Snapshot) bool {
	if s.State != other.State {
		return false
	}
	if s.Session == nil || other.Session == nil {
		return s.Session == other.Session
	}
	return *s.Session == *other.Session
}

type Listener func(Snapshot)

type subscriber struct {
	fn        Listener
	delivered int64
}

// delivery is one queued snapshot. A delivery with only set goes to that
// subscriber alone.
type delivery struct {
	seq  int64
	snap Snapshot
	only *subscriber
}

type Options struct {
	// RequireEmailVerification keeps users whose email is not verified
	// signed out, whatever the backend reports. Off by default.
	RequireEmailVerification bool
	Logger                   *slog.Logger
}

type Store struct {
	auth   backend.Auth
	kv     backend.KeyValue
	opts   Options
	logger *slog.Logger

	mu        sync.Mutex
	snapshot  Snapshot
	sub       backend.Subscription
	listeners map[int]*subscriber
	nextID    int
	seq       int64
	queue     []delivery
	draining  bool
}

func New(auth backend.Auth, kv backend.KeyValue, opts Options) *Store {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		auth:      auth,
		kv:        kv,
		opts:      opts,
		logger:    logger,
		snapshot:  Snapshot{State: StateLoading},
		listeners: map[int]*subscriber{},
	}
}

// Start registers the auth-state listener and runs the initial session check.
// Calling Start again while started does nothing, so one backend event never
// reaches the store twice.
func (s *Store) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.sub != nil {
		s.mu.Unlock()
		return nil
	}
	s.sub = s.auth.OnAuthStateChange(s.handleEvent)
	s.mu.Unlock()

	current, err := s.auth.GetSession(ctx)
	if err != nil {
		s.logger.WarnContext(ctx, "initial session check failed", "error", err)
		s.settleInitial(nil)
		return err
	}
	s.settleInitial(current)
	return nil
}

func (s *Store) Stop() {
	s.mu.Lock()
	sub := s.sub
	s.sub = nil
	s.mu.Unlock()
	if sub != nil {
		sub.Unsubscribe()
	}
}

func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneSnapshot(s.snapshot)
}

func (s *Store) Authenticated() bool {
	return s.Snapshot().Authenticated()
}

func (s *Store) Session() (model.Session, bool) {
	snap := s.Snapshot()
	if !snap.Authenticated() {
		return model.Session{}, false
	}
	return *snap.Session, true
}

// RequiresVerification reports whether unverified users are kept signed out.
func (s *Store) RequiresVerification() bool {
	return s.opts.RequireEmailVerification
}

// Subscribe calls l with the current snapshot and then on every change.
// Listeners see snapshots one at a time and in the order they were set. A
// change made while another goroutine is delivering is handed to that
// goroutine, so l may run on a goroutine other than the one that caused it.
func (s *Store) Subscribe(l Listener) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	sub := &subscriber{fn: l, delivered: s.seq - 1}
	s.listeners[id] = sub
	s.queue = append(s.queue, delivery{seq: s.seq, snap: s.snapshot, only: sub})
	s.mu.Unlock()

	s.drain()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.listeners, id)
		})
	}
}

// Login signs in with a password. A rejected sign-in leaves the session
// untouched and returns the backend error.
func (s *Store) Login(ctx context.Context, email, password string) error {
	result, err := s.auth.SignInWithPassword(ctx, email, password)
	if err != nil {
		return err
	}
	if s.opts.RequireEmailVerification && !result.User.EmailVerified {
		if err := s.auth.SignOut(ctx); err != nil {
			s.logger.WarnContext(ctx, "sign out of unverified user failed", "error", err)
		}
		s.set(nil)
		return ErrEmailNotVerified
	}
	s.set(s.fromAuth(&result))
	return nil
}

// Logout always ends in the signed-out state, whatever the backend says.
func (s *Store) Logout(ctx context.Context) {
	if err := s.auth.SignOut(ctx); err != nil {
		s.logger.WarnContext(ctx, "backend sign out failed", "error", err)
	}
	s.set(nil)
	if err := s.kv.Remove(ctx, PendingVerificationKey); err != nil {
		s.logger.WarnContext(ctx, "clear pending verification failed", "error", err)
	}
}

// RefreshUser re-reads the signed-in user. Without a backend session it does
// nothing.
func (s *Store) RefreshUser(ctx context.Context) error {
	current, err := s.auth.GetSession(ctx)
	if err != nil {
		return err
	}
	if current == nil {
		return nil
	}
	user, err := s.auth.GetUser(ctx)
	if err != nil {
		return err
	}
	current.User = user
	if !s.admits(current) {
		s.set(nil)
		return nil
	}
	s.set(s.fromAuth(current))
	return nil
}

// SetRole records the resolved role on the current session when it still
// belongs to userID.
func (s *Store) SetRole(userID string, role model.Role) {
	s.mu.Lock()
	if s.snapshot.Session == nil || s.snapshot.Session.UserID != userID {
		s.mu.Unlock()
		return
	}
	next := *s.snapshot.Session
	s.mu.Unlock()

	next.Role = role
	s.set(&next)
}

// handleEvent also sees the SIGNED_IN of a password sign-in that Login is
// about to refuse, so the verification gate applies here too.
func (s *Store) handleEvent(event backend.AuthEvent, current *backend.AuthSession) {
	if event == backend.EventSignedOut || !s.admits(current) {
		s.set(nil)
		return
	}
	s.set(s.fromAuth(current))
}

// settleInitial applies the initial check unless an auth event already
// decided the state.
func (s *Store) settleInitial(current *backend.AuthSession) {
	s.mu.Lock()
	loading := s.snapshot.State == StateLoading
	s.mu.Unlock()
	if !loading {
		return
	}
	if !s.admits(current) {
		s.set(nil)
		return
	}
	s.set(s.fromAuth(current))
}

func (s *Store) admits(current *backend.AuthSession) bool {
	if current == nil {
		return false
	}
	return !s.opts.RequireEmailVerification || current.User.EmailVerified
}

// fromAuth keeps an already resolved role for the same user.
func (s *Store) fromAuth(current *backend.AuthSession) *model.Session {
	next := &model.Session{
		UserID:        current.User.ID,
		Email:         current.User.Email,
		EmailVerified: current.User.EmailVerified,
	}
	s.mu.Lock()
	if prev := s.snapshot.Session; prev != nil && prev.UserID == next.UserID {
		next.Role = prev.Role
	}
	s.mu.Unlock()
	return next
}

func (s *Store) set(next *model.Session) {
	snap := Snapshot{State: StateSignedOut}
	if next != nil && next.UserID != "" {
		copied := *next
		snap = Snapshot{State: StateSignedIn, Session: &copied}
	}

	s.mu.Lock()
	if s.snapshot.equal(snap) {
		s.mu.Unlock()
		return
	}
	s.snapshot = snap
	s.seq++
	s.queue = append(s.queue, delivery{seq: s.seq, snap: snap})
	s.mu.Unlock()

	s.drain()
}

// drain delivers queued snapshots until the queue is empty. Only one
// goroutine drains at a time and every subscriber only moves forward.
func (s *Store) drain() {
	s.mu.Lock()
	if s.draining {
		s.mu.Unlock()
		return
	}
	s.draining = true
	for len(s.queue) > 0 {
		d := s.queue[0]
		s.queue = s.queue[1:]

		var targets []*subscriber
		for _, sub := range s.listeners {
			if d.only != nil && d.only != sub {
				continue
			}
			if sub.delivered < d.seq {
				sub.delivered = d.seq
				targets = append(targets, sub)
			}
		}
		s.mu.Unlock()

		for _, sub := range targets {
			sub.fn(cloneSnapshot(d.snap))
		}
		s.mu.Lock()
	}
	s.draining = false
	s.mu.Unlock()
}

func cloneSnapshot(s Snapshot) Snapshot {
	if s.Session != nil {
		copied := *s.Session
		s.Session = &copied
	}
	return s
}
