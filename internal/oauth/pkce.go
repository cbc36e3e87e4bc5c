// pkce.go -- In-flight login attempts: state key -> PKCE verifier.
//
// One entry per login attempt, keyed by a random attempt key that doubles as
// the OAuth state param. Entries are consumed exactly once by the callback.
package oauth

import (
	"crypto/rand"
	"errors"
	"sync"
	"time"

	"golang.org/x/oauth2"
)

// ErrMissingVerifier is returned by Consume when no live attempt matches the key:
// callback without a prior redirect, replayed callback, expired attempt, or server restart.
var ErrMissingVerifier = errors.New("missing pkce verifier")

// DefaultAttemptTTL bounds how long a user may sit on the provider consent page.
const DefaultAttemptTTL = 10 * time.Minute

type attempt struct {
	provider  ProviderID
	verifier  string // empty for providers without PKCE
	createdAt time.Time
}

// VerifierStore holds in-flight login attempts. Safe for concurrent use.
// Create one at startup and share it between the initiator and callback handlers.
type VerifierStore struct {
	mu       sync.Mutex
	ttl      time.Duration
	attempts map[string]attempt
	now      func() time.Time
}

// NewVerifierStore returns an empty store. ttl <= 0 uses DefaultAttemptTTL.
func NewVerifierStore(ttl time.Duration) *VerifierStore {
	if ttl <= 0 {
		ttl = DefaultAttemptTTL
	}
	return &VerifierStore{
		ttl:      ttl,
		attempts: make(map[string]attempt),
		now:      time.Now,
	}
}

// BeginPKCE generates a verifier, stores it under a fresh attempt key, and
// returns the S256 challenge for the authorization URL plus the attempt key.
func (s *VerifierStore) BeginPKCE(provider ProviderID) (challenge, attemptKey string) {
	verifier := oauth2.GenerateVerifier()
	attemptKey = s.put(provider, verifier)
	return oauth2.S256ChallengeFromVerifier(verifier), attemptKey
}

// BeginState records an attempt with no verifier, for providers used without PKCE.
// The callback still has to present the key, so state is verified for every provider.
func (s *VerifierStore) BeginState(provider ProviderID) (attemptKey string) {
	return s.put(provider, "")
}

// Consume atomically removes the attempt and returns its verifier.
// The entry is removed even when it is rejected, so a key can never be tried twice.
func (s *VerifierStore) Consume(provider ProviderID, attemptKey string) (string, error) {
	s.mu.Lock()
	a, ok := s.attempts[attemptKey]
	delete(s.attempts, attemptKey)
	s.mu.Unlock()

	if !ok || a.provider != provider || s.now().Sub(a.createdAt) > s.ttl {
		return "", ErrMissingVerifier
	}
	return a.verifier, nil
}

// Sweep drops attempts older than the TTL and returns how many were removed.
func (s *VerifierStore) Sweep() int {
	cutoff := s.now().Add(-s.ttl)
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for key, a := range s.attempts {
		if a.createdAt.Before(cutoff) {
			delete(s.attempts, key)
			n++
		}
	}
	return n
}

// Len returns the number of in-flight attempts.
func (s *VerifierStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.attempts)
}

func (s *VerifierStore) put(provider ProviderID, verifier string) string {
	// 128 bits from crypto/rand; collisions are not a practical concern.
	key := rand.Text()
	s.mu.Lock()
	s.attempts[key] = attempt{provider: provider, verifier: verifier, createdAt: s.now()}
	s.mu.Unlock()
	return key
}
