// Package fake is an in-memory backend for exercising the learner core
// without the auth-identity service. Its error responses mirror the
// service's codes and messages.
package fake

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"weversity/services/learner-app/internal/backend"
	"weversity/services/learner-app/internal/model"
)

type account struct {
	user     backend.User
	password string
}

type otpEntry struct {
	code    string
	expired bool
	misses  int
}

type Backend struct {
	// RequireEmailVerification makes password sign-in fail for unverified users.
	RequireEmailVerification bool
	SignOutErr               error
	UpsertErr                error
	// OTPAttemptLimit, when positive, drops an OTP after that many wrong codes.
	OTPAttemptLimit int

	mu          sync.Mutex
	accounts    map[string]*account
	profiles    map[string]model.Profile
	session     *backend.AuthSession
	listeners   map[int]backend.AuthStateCallback
	nextID      int
	tokens      map[string]string
	otps        map[string]otpEntry
	resends     map[string]int
	networkDown bool
	seq         int
}

func New() *Backend {
	return &Backend{
		accounts:  map[string]*account{},
		profiles:  map[string]model.Profile{},
		listeners: map[int]backend.AuthStateCallback{},
		tokens:    map[string]string{},
		otps:      map[string]otpEntry{},
		resends:   map[string]int{},
	}
}

var (
	errDuplicate    = &backend.APIError{Status: http.StatusConflict, Code: "email_taken", Message: "User with this email already exists"}
	errCredentials  = &backend.APIError{Status: http.StatusUnauthorized, Code: "invalid_credentials", Message: "Invalid login credentials"}
	errUnconfirmed  = &backend.APIError{Status: http.StatusForbidden, Code: "email_not_confirmed", Message: "Email not confirmed"}
	errInvalidToken = &backend.APIError{Status: http.StatusBadRequest, Code: "invalid_token", Message: "Token has expired or is invalid"}
	errInvalidOTP   = &backend.APIError{Status: http.StatusBadRequest, Code: "invalid_otp", Message: "Invalid OTP"}
	errExpiredOTP   = &backend.APIError{Status: http.StatusBadRequest, Code: "otp_expired", Message: "OTP has expired. Please request a new one"}
	errNoUser       = &backend.APIError{Status: http.StatusNotFound, Code: "user_not_found", Message: "No account found with this email"}
	errOTPLocked    = &backend.APIError{Status: http.StatusTooManyRequests, Code: "too_many_attempts", Message: "Too many incorrect attempts. Please request a new OTP"}
)

func (b *Backend) SignUp(ctx context.Context, email, password string, metadata model.Metadata) (backend.SignUpResult, error) {
	b.mu.Lock()
	if err := b.unavailable(); err != nil {
		b.mu.Unlock()
		return backend.SignUpResult{}, err
	}
	key := strings.ToLower(email)
	if _, ok := b.accounts[key]; ok {
		b.mu.Unlock()
		return backend.SignUpResult{}, errDuplicate
	}
	b.seq++
	user := backend.User{ID: "user-" + strconv.Itoa(b.seq), Email: key, Metadata: metadata}
	b.accounts[key] = &account{user: user, password: password}
	b.tokens["verify-"+user.ID] = key

	result := backend.SignUpResult{User: user}
	var session *backend.AuthSession
	if !b.RequireEmailVerification {
		session = b.newSessionLocked(user)
		result.Session = cloneSession(session)
	}
	b.mu.Unlock()

	if session != nil {
		b.emit(backend.EventSignedIn, session)
	}
	return result, nil
}

func (b *Backend) SignInWithPassword(ctx context.Context, email, password string) (backend.AuthSession, error) {
	b.mu.Lock()
	if err := b.unavailable(); err != nil {
		b.mu.Unlock()
		return backend.AuthSession{}, err
	}
	acct, ok := b.accounts[strings.ToLower(email)]
	if !ok || acct.password != password {
		b.mu.Unlock()
		return backend.AuthSession{}, errCredentials
	}
	if b.RequireEmailVerification && !acct.user.EmailVerified {
		b.mu.Unlock()
		return backend.AuthSession{}, errUnconfirmed
	}
	session := b.newSessionLocked(acct.user)
	b.mu.Unlock()

	b.emit(backend.EventSignedIn, session)
	return *session, nil
}

func (b *Backend) SignOut(ctx context.Context) error {
	b.mu.Lock()
	b.session = nil
	err := b.SignOutErr
	b.mu.Unlock()

	b.emit(backend.EventSignedOut, nil)
	return err
}

func (b *Backend) GetSession(ctx context.Context) (*backend.AuthSession, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.unavailable(); err != nil {
		return nil, err
	}
	return cloneSession(b.session), nil
}

func (b *Backend) GetUser(ctx context.Context) (backend.User, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.unavailable(); err != nil {
		return backend.User{}, err
	}
	if b.session == nil {
		return backend.User{}, backend.ErrNoSession
	}
	acct, ok := b.accounts[b.session.User.Email]
	if !ok {
		return backend.User{}, backend.ErrNoSession
	}
	return acct.user, nil
}

func (b *Backend) OnAuthStateChange(cb backend.AuthStateCallback) backend.Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	b.listeners[id] = cb
	return &subscription{unsubscribe: func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.listeners, id)
	}}
}

func (b *Backend) Resend(ctx context.Context, kind, email string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.unavailable(); err != nil {
		return err
	}
	key := strings.ToLower(email)
	b.resends[key]++
	if acct, ok := b.accounts[key]; ok {
		// A resend replaces the outstanding link.
		for token, owner := range b.tokens {
			if owner == key {
				delete(b.tokens, token)
			}
		}
		b.tokens["verify-"+acct.user.ID+"-"+strconv.Itoa(b.resends[key])] = key
	}
	return nil
}

func (b *Backend) VerifyOTP(ctx context.Context, tokenHash, kind string) (backend.User, error) {
	b.mu.Lock()
	if err := b.unavailable(); err != nil {
		b.mu.Unlock()
		return backend.User{}, err
	}
	email, ok := b.tokens[tokenHash]
	if !ok {
		b.mu.Unlock()
		return backend.User{}, errInvalidToken
	}
	delete(b.tokens, tokenHash)
	acct := b.accounts[email]
	acct.user.EmailVerified = true
	user := acct.user
	var updated *backend.AuthSession
	if b.session != nil && b.session.User.ID == user.ID {
		b.session.User = user
		updated = cloneSession(b.session)
	}
	b.mu.Unlock()

	if updated != nil {
		b.emit(backend.EventUserUpdated, updated)
	}
	return user, nil
}

func (b *Backend) Upsert(ctx context.Context, profile model.Profile) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.unavailable(); err != nil {
		return err
	}
	if b.UpsertErr != nil {
		return b.UpsertErr
	}
	// Roles are fixed once a profile exists.
	if existing, ok := b.profiles[profile.ID]; ok && existing.Role != "" {
		profile.Role = existing.Role
	}
	b.profiles[profile.ID] = profile
	return nil
}

func (b *Backend) Select(ctx context.Context, id string) (*model.Profile, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.unavailable(); err != nil {
		return nil, err
	}
	profile, ok := b.profiles[id]
	if !ok {
		return nil, nil
	}
	return &profile, nil
}

func (b *Backend) SendOTP(ctx context.Context, email string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.unavailable(); err != nil {
		return err
	}
	key := strings.ToLower(email)
	if _, ok := b.accounts[key]; !ok {
		return errNoUser
	}
	b.otps[key] = otpEntry{code: "1234"}
	return nil
}

func (b *Backend) VerifyResetOTP(ctx context.Context, email, code string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.unavailable(); err != nil {
		return err
	}
	return b.checkOTPLocked(strings.ToLower(email), code)
}

func (b *Backend) ResetPassword(ctx context.Context, email, code, newPassword string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.unavailable(); err != nil {
		return err
	}
	key := strings.ToLower(email)
	if err := b.checkOTPLocked(key, code); err != nil {
		return err
	}
	b.accounts[key].password = newPassword
	delete(b.otps, key)
	return nil
}

func (b *Backend) checkOTPLocked(email, code string) error {
	entry, ok := b.otps[email]
	if !ok {
		return errInvalidOTP
	}
	if entry.code != code {
		entry.misses++
		if b.OTPAttemptLimit > 0 && entry.misses >= b.OTPAttemptLimit {
			delete(b.otps, email)
			return errOTPLocked
		}
		b.otps[email] = entry
		return errInvalidOTP
	}
	if entry.expired {
		delete(b.otps, email)
		return errExpiredOTP
	}
	return nil
}

// Test controls.

// SetNetworkDown makes every call fail with backend.ErrUnavailable.
func (b *Backend) SetNetworkDown(down bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.networkDown = down
}

// VerificationToken returns the outstanding verification token for email.
func (b *Backend) VerificationToken(email string) (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for token, owner := range b.tokens {
		if owner == strings.ToLower(email) {
			return token, true
		}
	}
	return "", false
}

func (b *Backend) OutstandingTokens(email string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	count := 0
	for _, owner := range b.tokens {
		if owner == strings.ToLower(email) {
			count++
		}
	}
	return count
}

func (b *Backend) ResendCount(email string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.resends[strings.ToLower(email)]
}

func (b *Backend) ExpireOTP(email string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	key := strings.ToLower(email)
	if entry, ok := b.otps[key]; ok {
		entry.expired = true
		b.otps[key] = entry
	}
}

func (b *Backend) HasOTP(email string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.otps[strings.ToLower(email)]
	return ok
}

func (b *Backend) Profile(id string) (model.Profile, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	profile, ok := b.profiles[id]
	return profile, ok
}

func (b *Backend) ListenerCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.listeners)
}

// Revoke drops the session server-side and notifies listeners.
func (b *Backend) Revoke() {
	b.mu.Lock()
	b.session = nil
	b.mu.Unlock()
	b.emit(backend.EventSignedOut, nil)
}

func (b *Backend) unavailable() error {
	if b.networkDown {
		return fmt.Errorf("%w: dial tcp: connection refused", backend.ErrUnavailable)
	}
	return nil
}

func (b *Backend) newSessionLocked(user backend.User) *backend.AuthSession {
	b.seq++
	b.session = &backend.AuthSession{
		AccessToken:  "access-" + strconv.Itoa(b.seq),
		RefreshToken: "refresh-" + strconv.Itoa(b.seq),
		ExpiresAt:    time.Now().Add(time.Hour),
		User:         user,
	}
	return cloneSession(b.session)
}

func (b *Backend) emit(event backend.AuthEvent, session *backend.AuthSession) {
	b.mu.Lock()
	callbacks := make([]backend.AuthStateCallback, 0, len(b.listeners))
	for _, cb := range b.listeners {
		callbacks = append(callbacks, cb)
	}
	b.mu.Unlock()
	for _, cb := range callbacks {
		cb(event, cloneSession(session))
	}
}

func cloneSession(session *backend.AuthSession) *backend.AuthSession {
	if session == nil {
		return nil
	}
	copied := *session
	return &copied
}

type subscription struct {
	once        sync.Once
	unsubscribe func()
}

func (s *subscription) Unsubscribe() {
	s.once.Do(s.unsubscribe)
}
