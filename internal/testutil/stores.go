// stores.go
//
// Shared mock implementations of auth.Store and auth.RateLimiter.
// Imported by test files across packages to avoid duplicate mock definitions.
package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/MGallo-Code/portico/internal/store"
	"github.com/gofrs/uuid/v5"
)

// MockStore implements auth.Store for tests.

// Always stateful...Users and Sessions are maps, like a real store.
// Use *Err fields to inject errors for specific operations.
// Unlike the real stores, GetSessionByTokenHash returns expired rows so the gate's own expiry check is exercised.
type MockStore struct {
	// Error injection...zero value means no error
	SaveLoginErr     error
	GetSessionErr    error
	DeleteSessionErr error
	HealthErr        error

	Users    map[string]*store.User    // keyed by identity
	Sessions map[string]*store.Session // keyed by string(tokenHash)

	// Counters for asserting which operations ran.
	SaveLoginCalls     int
	DeleteSessionCalls int

	mu sync.Mutex
}

// NewMockStore returns an empty MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		Users:    make(map[string]*store.User),
		Sessions: make(map[string]*store.Session),
	}
}

// SaveLogin upserts the user and replaces any existing session for it.
func (m *MockStore) SaveLogin(_ context.Context, identity string, tokenHash []byte, expiresAt time.Time) (*store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SaveLoginCalls++
	if m.SaveLoginErr != nil {
		return nil, m.SaveLoginErr
	}

	now := time.Now()
	u, ok := m.Users[identity]
	if !ok {
		u = &store.User{ID: uuid.Must(uuid.NewV7()), Identity: identity, CreatedAt: now}
		m.Users[identity] = u
	}
	u.UpdatedAt = now

	// One session per user.
	for k, s := range m.Sessions {
		if s.UserID == u.ID {
			delete(m.Sessions, k)
		}
	}
	m.Sessions[string(tokenHash)] = &store.Session{
		UserID:    u.ID,
		Identity:  identity,
		TokenHash: append([]byte(nil), tokenHash...),
		ExpiresAt: expiresAt,
		CreatedAt: now,
	}
	copied := *u
	return &copied, nil
}

// AddSession seeds a session for identity directly, creating the user if needed.
func (m *MockStore) AddSession(identity string, tokenHash []byte, expiresAt time.Time) *store.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.Users[identity]
	if !ok {
		u = &store.User{ID: uuid.Must(uuid.NewV7()), Identity: identity}
		m.Users[identity] = u
	}
	s := &store.Session{UserID: u.ID, Identity: identity, TokenHash: tokenHash, ExpiresAt: expiresAt}
	m.Sessions[string(tokenHash)] = s
	return s
}

func (m *MockStore) GetSessionByTokenHash(_ context.Context, tokenHash []byte) (*store.Session, error) {
	if m.GetSessionErr != nil {
		return nil, m.GetSessionErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.Sessions[string(tokenHash)]
	if !ok {
		return nil, store.ErrNotFound
	}
	copied := *s
	return &copied, nil
}

func (m *MockStore) DeleteSession(_ context.Context, tokenHash []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.DeleteSessionCalls++
	if m.DeleteSessionErr != nil {
		return m.DeleteSessionErr
	}
	delete(m.Sessions, string(tokenHash))
	return nil
}

func (m *MockStore) CheckHealth(_ context.Context) error {
	return m.HealthErr
}

// SessionCount returns the number of stored sessions.
func (m *MockStore) SessionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Sessions)
}

// MockRateLimiter implements auth.RateLimiter for tests.
// AllowErr is returned from every Allow call; Keys records the keys seen.
type MockRateLimiter struct {
	AllowErr  error
	HealthErr error
	Keys      []string

	mu sync.Mutex
}

func (m *MockRateLimiter) Allow(_ context.Context, key string, _ store.RateLimit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Keys = append(m.Keys, key)
	return m.AllowErr
}

func (m *MockRateLimiter) CheckHealth(_ context.Context) error {
	return m.HealthErr
}
