// oauth.go -- Generic OAuth2 initiation and callback handlers.
// Provider-specific logic lives in internal/oauth; one flow serves every provider.
package auth

import (
	"errors"
	"net"
	"net/http"
	"slices"

	"github.com/MGallo-Code/portico/internal/oauth"
	"github.com/MGallo-Code/portico/internal/store"
	"github.com/go-chi/chi/v5"
)

// LoginInitiate handles GET /login-initiate/{provider} -- records a login attempt
// (state, plus a PKCE verifier when the provider requires one) and redirects to the consent page.
func (h *AuthHandler) LoginInitiate(w http.ResponseWriter, r *http.Request) {
	id, ok := h.oauthProvider(r, w)
	if !ok {
		return
	}

	// Each initiation allocates a pending attempt; cap them per client.
	if err := h.RL.Allow(r.Context(), "login_initiate:"+clientIP(r), h.RateLogin); err != nil {
		if errors.Is(err, store.ErrRateLimitExceeded) {
			logWarn(r, "login initiate rate limited", "provider", id)
			TooManyRequests(w)
			return
		}
		// Fail open; login availability outranks the limiter.
		logError(r, "rate limiter unavailable", "error", err)
	}

	authURL, err := h.OAuth.AuthorizationURL(id)
	if err != nil {
		InternalServerError(w, r, err)
		return
	}
	logInfo(r, "login initiated", "provider", id)
	http.Redirect(w, r, authURL, http.StatusFound)
}

// Callback handles GET /callback/{provider} -- consumes the login attempt, exchanges the code,
// resolves the identity, and issues a session cookie before redirecting to /protected.
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	id, ok := h.oauthProvider(r, w)
	if !ok {
		return
	}
	q := r.URL.Query()

	// Consume first: whatever happens next, this state can never be used again.
	verifier, err := h.OAuth.ConsumeAttempt(id, q.Get("state"))
	if err != nil {
		logWarn(r, "oauth callback: no pending login attempt", "provider", id, "error", err)
		BadRequest(w, r, "invalid or expired login attempt")
		return
	}

	// Provider-reported failure, e.g. the user declined consent.
	if providerErr := q.Get("error"); providerErr != "" {
		logWarn(r, "oauth callback: provider returned error", "provider", id, "oauth_error", providerErr)
		Unauthorized(w, r, "authentication failed")
		return
	}
	code := q.Get("code")
	if code == "" {
		logWarn(r, "oauth callback: missing code", "provider", id)
		BadRequest(w, r, "missing authorization code")
		return
	}

	tok, err := h.OAuth.Exchange(r.Context(), id, code, verifier)
	if err != nil {
		if oauth.IsProviderRejection(err) {
			logWarn(r, "oauth callback: provider rejected code", "provider", id, "error", err)
			Unauthorized(w, r, "authentication failed")
			return
		}
		BadGateway(w, r, err)
		return
	}

	identity, err := h.Identity.Resolve(r.Context(), id, tok)
	if err != nil {
		logWarn(r, "oauth callback: identity resolution failed", "provider", id, "error", err)
		Unauthorized(w, r, "authentication failed")
		return
	}

	cookie, err := h.IssueSession(r.Context(), identity, tok)
	if err != nil {
		InternalServerError(w, r, err)
		return
	}

	http.SetCookie(w, cookie)
	logInfo(r, "login succeeded", "provider", id)
	http.Redirect(w, r, "/protected", http.StatusFound)
}

// oauthProvider reads the {provider} URL param and checks it is enabled.
// Writes 404 and returns false otherwise.
func (h *AuthHandler) oauthProvider(r *http.Request, w http.ResponseWriter) (oauth.ProviderID, bool) {
	id, err := oauth.ParseProviderID(chi.URLParam(r, "provider"))
	if err != nil || !slices.Contains(h.Providers, id) {
		logWarn(r, "unknown oauth provider", "provider", chi.URLParam(r, "provider"))
		NotFound(w)
		return "", false
	}
	return id, true
}

// clientIP returns the host part of RemoteAddr.
// RemoteAddr is the TCP peer unless the router trusts proxy headers and RealIP rewrote it.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
