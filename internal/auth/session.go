// session.go

// Session token generation and issuance.
package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/MGallo-Code/portico/internal/oauth"
)

// ErrSessionPersistenceFailed wraps any failure to durably record a new session.
// No cookie may be emitted when this is returned.
var ErrSessionPersistenceFailed = errors.New("session persistence failed")

// DefaultSessionTTL applies when the provider's token response omits expires_in.
const DefaultSessionTTL = 3600 * time.Second

const sessionTokenBytes = 32

// GenerateToken returns 256-bit random session token and its SHA-256 hash.
// Token goes in the cookie; hash goes in storage.
func GenerateToken() (*[32]byte, *[32]byte, error) {
	var token [sessionTokenBytes]byte
	_, err := rand.Read(token[:])
	if err != nil {
		return nil, nil, fmt.Errorf("generating token with rand: %w", err)
	}
	hash := sha256.Sum256(token[:])
	return &token, &hash, nil
}

// sessionTTL is the provider-declared token lifetime, or DefaultSessionTTL.
func sessionTTL(tok oauth.TokenResponse) time.Duration {
	if ttl := tok.ExpiresIn(); ttl > 0 {
		return ttl
	}
	return DefaultSessionTTL
}

// IssueSession records a session for identity and returns the cookie to set.
// The user is created on first login; an existing session for the same user is replaced.
// Session expiry tracks the provider token lifetime (now + expires_in).
func (h *AuthHandler) IssueSession(ctx context.Context, identity string, tok oauth.TokenResponse) (*http.Cookie, error) {
	ttl := sessionTTL(tok)
	expiresAt := h.now().Add(ttl)

	rawToken, tokenHash, err := GenerateToken()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSessionPersistenceFailed, err)
	}
	// Encode before persisting so a cookie failure never leaves an orphan row.
	cookie, err := h.Cookies.SessionCookie(rawToken[:], ttl)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSessionPersistenceFailed, err)
	}
	if _, err := h.PS.SaveLogin(ctx, identity, tokenHash[:], expiresAt); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSessionPersistenceFailed, err)
	}
	return cookie, nil
}
