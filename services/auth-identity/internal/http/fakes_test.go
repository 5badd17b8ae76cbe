package http

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"weversity/services/auth-identity/internal/codes"
	"weversity/services/auth-identity/internal/mail"
	"weversity/services/auth-identity/internal/model"
	"weversity/services/auth-identity/internal/repository"
)

type memoryStore struct {
	mu       sync.Mutex
	users    map[string]model.User
	profiles map[string]model.Profile
	sessions map[string]model.RefreshSession
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		users:    map[string]model.User{},
		profiles: map[string]model.Profile{},
		sessions: map[string]model.RefreshSession{},
	}
}

func (m *memoryStore) CreateUser(_ context.Context, user model.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.users {
		if existing.Email == user.Email {
			return repository.ErrEmailTaken
		}
	}
	m.users[user.ID] = user
	return nil
}

func (m *memoryStore) GetUserByEmail(_ context.Context, email string) (model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, user := range m.users {
		if strings.EqualFold(user.Email, email) {
			return user, nil
		}
	}
	return model.User{}, pgx.ErrNoRows
}

func (m *memoryStore) GetUserByID(_ context.Context, userID string) (model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[userID]
	if !ok {
		return model.User{}, pgx.ErrNoRows
	}
	return user, nil
}

func (m *memoryStore) MarkEmailVerified(_ context.Context, userID string, verifiedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[userID]
	if !ok {
		return pgx.ErrNoRows
	}
	user.EmailVerifiedAt = &verifiedAt
	m.users[userID] = user
	return nil
}

func (m *memoryStore) UpdatePassword(_ context.Context, userID, passwordHash string, updatedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[userID]
	if !ok {
		return pgx.ErrNoRows
	}
	user.PasswordHash = passwordHash
	user.UpdatedAt = updatedAt
	m.users[userID] = user
	return nil
}

func (m *memoryStore) UpsertProfile(_ context.Context, profile model.Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.profiles[profile.ID]; ok {
		profile.Role = existing.Role
	}
	m.profiles[profile.ID] = profile
	return nil
}

func (m *memoryStore) GetProfile(_ context.Context, id string) (model.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	profile, ok := m.profiles[id]
	if !ok {
		return model.Profile{}, pgx.ErrNoRows
	}
	return profile, nil
}

func (m *memoryStore) CreateRefreshSession(_ context.Context, session model.RefreshSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[session.TokenHash] = session
	return nil
}

func (m *memoryStore) GetRefreshSession(_ context.Context, tokenHash string) (model.RefreshSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[tokenHash]
	if !ok {
		return model.RefreshSession{}, pgx.ErrNoRows
	}
	return session, nil
}

func (m *memoryStore) RevokeRefreshSession(_ context.Context, sessionID string, revokedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for hash, session := range m.sessions {
		if session.ID == sessionID {
			session.RevokedAt = &revokedAt
			m.sessions[hash] = session
		}
	}
	return nil
}

func (m *memoryStore) RevokeRefreshSessionsByUser(_ context.Context, userID string, revokedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for hash, session := range m.sessions {
		if session.UserID == userID && session.RevokedAt == nil {
			session.RevokedAt = &revokedAt
			m.sessions[hash] = session
		}
	}
	return nil
}

type memoryCodes struct {
	mu            sync.Mutex
	otps          map[string]codes.OTPRecord
	failures      map[string]int64
	verifications map[string]codes.Verification
}

func newMemoryCodes() *memoryCodes {
	return &memoryCodes{
		otps:          map[string]codes.OTPRecord{},
		failures:      map[string]int64{},
		verifications: map[string]codes.Verification{},
	}
}

func (m *memoryCodes) PutOTP(_ context.Context, email string, record codes.OTPRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.otps[email] = record
	delete(m.failures, email)
	return nil
}

func (m *memoryCodes) RecordOTPFailure(_ context.Context, email string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[email]++
	return m.failures[email], nil
}

func (m *memoryCodes) GetOTP(_ context.Context, email string) (codes.OTPRecord, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.otps[email]
	return record, ok, nil
}

func (m *memoryCodes) DeleteOTP(_ context.Context, email string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.otps, email)
	delete(m.failures, email)
	return nil
}

func (m *memoryCodes) PutVerification(_ context.Context, tokenHash string, record codes.Verification, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for hash, existing := range m.verifications {
		if existing.UserID == record.UserID {
			delete(m.verifications, hash)
		}
	}
	m.verifications[tokenHash] = record
	return nil
}

func (m *memoryCodes) ConsumeVerification(_ context.Context, tokenHash string) (codes.Verification, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.verifications[tokenHash]
	delete(m.verifications, tokenHash)
	return record, ok, nil
}

type recordingMailer struct {
	mu   sync.Mutex
	sent []mail.Message
}

func (r *recordingMailer) Send(_ context.Context, msg mail.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, msg)
	return nil
}

func (r *recordingMailer) last(subject string) (mail.Message, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.sent) - 1; i >= 0; i-- {
		if r.sent[i].Subject == subject {
			return r.sent[i], true
		}
	}
	return mail.Message{}, false
}
