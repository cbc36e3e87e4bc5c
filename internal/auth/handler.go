// handler.go -- AuthHandler dependencies and the login/logout endpoints.
package auth

import (
	"context"
	"crypto/sha256"
	"errors"
	"net/http"
	"time"

	"github.com/MGallo-Code/portico/internal/oauth"
	"github.com/MGallo-Code/portico/internal/store"
)

// Store defines the user/session operations needed by auth handlers.
// Satisfied by *store.PostgresStore and *store.SQLiteStore -- defined here (at consumer) per Go convention.
type Store interface {
	// SaveLogin upserts the user by identity and replaces its session, in one transaction.
	SaveLogin(ctx context.Context, identity string, tokenHash []byte, expiresAt time.Time) (*store.User, error)

	// GetSessionByTokenHash fetches a non-expired session by token hash.
	// Returns store.ErrNotFound if not found or expired.
	GetSessionByTokenHash(ctx context.Context, tokenHash []byte) (*store.Session, error)

	// DeleteSession removes a session row by token hash. Missing rows are not an error.
	DeleteSession(ctx context.Context, tokenHash []byte) error

	// CheckHealth pings the backing database.
	CheckHealth(ctx context.Context) error
}

// RateLimiter checks and records rate limit state for a given key and policy.
// Satisfied by *store.RedisRateLimiter and store.NoopRateLimiter.
type RateLimiter interface {
	// Allow records the attempt. Returns store.ErrRateLimitExceeded when over policy.
	Allow(ctx context.Context, key string, policy store.RateLimit) error

	// CheckHealth returns store.ErrCacheDisabled when no backend is configured.
	CheckHealth(ctx context.Context) error
}

// OAuthFlow is the provider side of the authorization-code flow. Satisfied by *oauth.Client.
type OAuthFlow interface {
	// AuthorizationURL records a login attempt and returns the consent URL.
	AuthorizationURL(id oauth.ProviderID) (string, error)

	// ConsumeAttempt removes the attempt keyed by state, returning its PKCE verifier ("" for non-PKCE providers).
	ConsumeAttempt(id oauth.ProviderID, state string) (string, error)

	// Exchange trades an authorization code for a token. Never retried.
	Exchange(ctx context.Context, id oauth.ProviderID, code, verifier string) (*oauth.Token, error)
}

// IdentityResolver turns a provider token into the canonical identity. Satisfied by *oauth.Resolver.
type IdentityResolver interface {
	Resolve(ctx context.Context, id oauth.ProviderID, tok oauth.TokenResponse) (string, error)
}

// AuthHandler holds dependencies for all login, session, and gate handlers.
type AuthHandler struct {
	PS       Store
	RL       RateLimiter
	OAuth    OAuthFlow
	Identity IdentityResolver
	Cookies  *CookieCodec

	// Providers lists the enabled providers, in display order.
	Providers []oauth.ProviderID
	// RateLogin is the per-IP policy for /login-initiate.
	RateLogin store.RateLimit

	// Now overrides the clock; nil means time.Now.
	Now func() time.Time
}

func (h *AuthHandler) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

// LoginOptions handles GET /login and GET / -- lists enabled providers and where to start each login.
func (h *AuthHandler) LoginOptions(w http.ResponseWriter, r *http.Request) {
	type option struct {
		Provider string `json:"provider"`
		LoginURL string `json:"login_url"`
	}
	opts := make([]option, 0, len(h.Providers))
	for _, id := range h.Providers {
		opts = append(opts, option{Provider: string(id), LoginURL: "/login-initiate/" + string(id)})
	}
	writeJSON(w, http.StatusOK, struct {
		Providers []option `json:"providers"`
	}{opts})
}

// Logout handles GET /logout -- deletes the server-side session if one is referenced,
// always clears the cookie, and redirects to /.
// Store failures are logged only; the user is logged out from the browser's point of view regardless.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	token, err := h.Cookies.ReadToken(r)
	switch {
	case err == nil:
		tokenHash := sha256.Sum256(token)
		if err := h.PS.DeleteSession(r.Context(), tokenHash[:]); err != nil {
			logError(r, "logout: failed to delete session", "error", err)
		} else {
			logInfo(r, "logout: session deleted")
		}
	case errors.Is(err, ErrNoSessionCookie):
		logDebug(r, "logout: no session cookie")
	default:
		logWarn(r, "logout: unreadable session cookie", "error", err)
	}

	http.SetCookie(w, h.Cookies.ClearCookie())
	http.Redirect(w, r, "/", http.StatusFound)
}
