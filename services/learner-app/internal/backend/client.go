package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"weversity/services/learner-app/internal/model"
)

// SessionKey is the storage key holding the persisted token pair.
const SessionKey = "auth.session"

// refreshLeeway refreshes access tokens slightly before they expire.
const refreshLeeway = 30 * time.Second

// Client implements Auth, Profiles and Recovery over the auth-identity HTTP API.
// The token pair is persisted in the KeyValue store so a cold start can resume.
type Client struct {
	baseURL *url.URL
	http    *http.Client
	kv      KeyValue
	logger  *slog.Logger
	now     func() time.Time

	mu        sync.Mutex
	session   *AuthSession
	restored  bool
	listeners map[int]AuthStateCallback
	nextID    int
}

func NewClient(baseURL string, kv KeyValue, httpClient *http.Client, logger *slog.Logger) (*Client, error) {
	parsed, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse api url: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("api url %q must be absolute", baseURL)
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:   parsed,
		http:      httpClient,
		kv:        kv,
		logger:    logger,
		now:       time.Now,
		listeners: map[int]AuthStateCallback{},
	}, nil
}

func (c *Client) SignUp(ctx context.Context, email, password string, metadata model.Metadata) (SignUpResult, error) {
	body := map[string]interface{}{
		"email":    email,
		"password": password,
		"data":     metadataToWire(metadata),
	}
	var resp wireSignup
	if err := c.do(ctx, http.MethodPost, "/auth/signup", "", body, &resp); err != nil {
		return SignUpResult{}, err
	}

	result := SignUpResult{User: resp.User.toUser()}
	if resp.Session != nil {
		session := resp.Session.toSession()
		if err := c.setSession(ctx, &session, EventSignedIn); err != nil {
			return SignUpResult{}, err
		}
		result.Session = &session
	}
	return result, nil
}

func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (AuthSession, error) {
	body := map[string]string{"email": email, "password": password}
	var resp wireSession
	if err := c.do(ctx, http.MethodPost, "/auth/token", "", body, &resp); err != nil {
		return AuthSession{}, err
	}
	session := resp.toSession()
	if err := c.setSession(ctx, &session, EventSignedIn); err != nil {
		return AuthSession{}, err
	}
	return session, nil
}

// SignOut revokes the server-side sessions and always clears local state. The
// returned error only reports the server call.
func (c *Client) SignOut(ctx context.Context) error {
	session, _ := c.currentSession(ctx)
	var remoteErr error
	if session != nil {
		remoteErr = c.do(ctx, http.MethodPost, "/auth/logout", session.AccessToken, nil, nil)
	}
	if err := c.setSession(ctx, nil, EventSignedOut); err != nil {
		c.logger.WarnContext(ctx, "clear persisted session failed", "error", err)
	}
	return remoteErr
}

// GetSession returns the current session, restoring it from storage on first
// use and refreshing the access token when it is about to expire. A refresh
// token the service rejects ends the session.
func (c *Client) GetSession(ctx context.Context) (*AuthSession, error) {
	session, err := c.currentSession(ctx)
	if err != nil || session == nil {
		return nil, err
	}
	if c.now().Add(refreshLeeway).Before(session.ExpiresAt) {
		return session, nil
	}

	var resp wireSession
	err = c.do(ctx, http.MethodPost, "/auth/refresh", "", map[string]string{"refresh_token": session.RefreshToken}, &resp)
	var apiErr *APIError
	switch {
	case err == nil:
	case errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized:
		if clearErr := c.setSession(ctx, nil, EventSignedOut); clearErr != nil {
			c.logger.WarnContext(ctx, "clear persisted session failed", "error", clearErr)
		}
		return nil, nil
	default:
		return nil, err
	}

	refreshed := resp.toSession()
	if err := c.setSession(ctx, &refreshed, EventTokenRefreshed); err != nil {
		return nil, err
	}
	return &refreshed, nil
}

func (c *Client) GetUser(ctx context.Context) (User, error) {
	session, err := c.GetSession(ctx)
	if err != nil {
		return User{}, err
	}
	if session == nil {
		return User{}, ErrNoSession
	}
	var resp wireUser
	if err := c.do(ctx, http.MethodGet, "/auth/user", session.AccessToken, nil, &resp); err != nil {
		return User{}, err
	}
	user := resp.toUser()
	c.updateUser(ctx, user)
	return user, nil
}

func (c *Client) OnAuthStateChange(cb AuthStateCallback) Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = cb
	return &subscription{unsubscribe: func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.listeners, id)
	}}
}

func (c *Client) Resend(ctx context.Context, kind, email string) error {
	return c.do(ctx, http.MethodPost, "/auth/resend", "", map[string]string{"type": kind, "email": email}, nil)
}

func (c *Client) VerifyOTP(ctx context.Context, tokenHash, kind string) (User, error) {
	var resp wireVerify
	body := map[string]string{"token_hash": tokenHash, "type": kind}
	if err := c.do(ctx, http.MethodPost, "/auth/verify", "", body, &resp); err != nil {
		return User{}, err
	}
	user := resp.User.toUser()
	c.updateUser(ctx, user)
	return user, nil
}

func (c *Client) Upsert(ctx context.Context, profile model.Profile) error {
	session, err := c.GetSession(ctx)
	if err != nil {
		return err
	}
	if session == nil {
		return ErrNoSession
	}
	return c.do(ctx, http.MethodPut, "/profiles/"+url.PathEscape(profile.ID), session.AccessToken, profileToWire(profile), nil)
}

func (c *Client) Select(ctx context.Context, id string) (*model.Profile, error) {
	session, err := c.GetSession(ctx)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, ErrNoSession
	}
	var resp wireProfile
	err = c.do(ctx, http.MethodGet, "/profiles/"+url.PathEscape(id), session.AccessToken, nil, &resp)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	profile := resp.toProfile()
	return &profile, nil
}

func (c *Client) SendOTP(ctx context.Context, email string) error {
	return c.do(ctx, http.MethodPost, "/auth/send-otp", "", map[string]string{"email": email}, nil)
}

func (c *Client) VerifyResetOTP(ctx context.Context, email, code string) error {
	return c.do(ctx, http.MethodPost, "/auth/verify-otp", "", map[string]string{"email": email, "otp": code}, nil)
}

func (c *Client) ResetPassword(ctx context.Context, email, code, newPassword string) error {
	body := map[string]string{"email": email, "otp": code, "newPassword": newPassword}
	return c.do(ctx, http.MethodPost, "/auth/reset-password", "", body, nil)
}

func (c *Client) currentSession(ctx context.Context) (*AuthSession, error) {
	c.mu.Lock()
	if c.restored {
		session := c.session
		c.mu.Unlock()
		return session, nil
	}
	c.mu.Unlock()

	raw, ok, err := c.kv.Get(ctx, SessionKey)
	if err != nil {
		return nil, fmt.Errorf("load persisted session: %w", err)
	}

	var restored *AuthSession
	if ok {
		var stored wireSession
		if err := json.Unmarshal([]byte(raw), &stored); err != nil {
			c.logger.WarnContext(ctx, "discarding unreadable persisted session", "error", err)
			_ = c.kv.Remove(ctx, SessionKey)
		} else {
			session := stored.toSession()
			restored = &session
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.restored {
		c.session = restored
		c.restored = true
	}
	return c.session, nil
}

func (c *Client) setSession(ctx context.Context, session *AuthSession, event AuthEvent) error {
	if session == nil {
		err := c.kv.Remove(ctx, SessionKey)
		c.storeSession(nil)
		c.emit(event, nil)
		return err
	}

	data, err := json.Marshal(sessionToWire(*session))
	if err != nil {
		return err
	}
	if err := c.kv.Set(ctx, SessionKey, string(data)); err != nil {
		return fmt.Errorf("persist session: %w", err)
	}
	c.storeSession(session)
	c.emit(event, session)
	return nil
}

func (c *Client) storeSession(session *AuthSession) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if session != nil {
		copied := *session
		session = &copied
	}
	c.session = session
	c.restored = true
}

func (c *Client) updateUser(ctx context.Context, user User) {
	c.mu.Lock()
	if c.session == nil || c.session.User.ID != user.ID {
		c.mu.Unlock()
		return
	}
	updated := *c.session
	c.mu.Unlock()

	updated.User = user
	if err := c.setSession(ctx, &updated, EventUserUpdated); err != nil {
		c.logger.WarnContext(ctx, "persist updated user failed", "error", err)
	}
}

func (c *Client) emit(event AuthEvent, session *AuthSession) {
	c.mu.Lock()
	callbacks := make([]AuthStateCallback, 0, len(c.listeners))
	for _, cb := range c.listeners {
		callbacks = append(callbacks, cb)
	}
	c.mu.Unlock()

	for _, cb := range callbacks {
		var copied *AuthSession
		if session != nil {
			s := *session
			copied = &s
		}
		cb(event, copied)
	}
}

func (c *Client) do(ctx context.Context, method, path, token string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	endpoint := *c.baseURL
	endpoint.Path = strings.TrimRight(endpoint.Path, "/") + path
	req, err := http.NewRequestWithContext(ctx, method, endpoint.String(), reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := &APIError{Status: resp.StatusCode}
		var payload wireError
		if err := json.NewDecoder(resp.Body).Decode(&payload); err == nil {
			apiErr.Code = payload.Error
			apiErr.Message = payload.Message
		}
		return apiErr
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

type subscription struct {
	once        sync.Once
	unsubscribe func()
}

func (s *subscription) Unsubscribe() {
	s.once.Do(s.unsubscribe)
}
