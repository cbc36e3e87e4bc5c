// middleware.go

// Session authentication middleware.
package auth

import (
	"context"
	"crypto/sha256"
	"errors"
	"net/http"

	"github.com/MGallo-Code/portico/internal/store"
	"github.com/gofrs/uuid/v5"
)

// contextKey is unexported to prevent collisions with other packages using the same context.
type contextKey string

const userIDKey contextKey = "user_id"
const identityKey contextKey = "identity"

// UserIDFromContext retrieves authenticated user's ID from context.
// Returns zero UUID and false if the gate hasn't run.
func UserIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(userIDKey).(uuid.UUID)
	return id, ok
}

// IdentityFromContext retrieves authenticated user's canonical identity from context.
// Returns "" and false if the gate hasn't run.
func IdentityFromContext(ctx context.Context) (string, bool) {
	identity, ok := ctx.Value(identityKey).(string)
	return identity, ok
}

// RequireAuth gates browser pages. Unauthenticated requests are redirected to /login.
func (h *AuthHandler) RequireAuth(next http.Handler) http.Handler {
	return h.gate(next, func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/login", http.StatusFound)
	})
}

// RequireAuthAPI gates API routes. Unauthenticated requests get a 401 JSON body.
func (h *AuthHandler) RequireAuthAPI(next http.Handler) http.Handler {
	return h.gate(next, func(w http.ResponseWriter, r *http.Request) {
		Unauthorized(w, r, "unauthorized")
	})
}

// gate validates the session cookie against the store on every request; results are never cached.
// A cookie that was presented but did not resolve to a live session is cleared before deny runs.
// A request with no cookie is denied without touching cookies.
func (h *AuthHandler) gate(next http.Handler, deny http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := h.Cookies.ReadToken(r)
		if errors.Is(err, ErrNoSessionCookie) {
			logDebug(r, "require auth failed", "reason", "missing_session_cookie")
			deny(w, r)
			return
		}
		if err != nil {
			logWarn(r, "require auth failed", "reason", "invalid_session_cookie", "error", err)
			h.clearAndDeny(w, r, deny)
			return
		}

		tokenHash := sha256.Sum256(token)
		sess, err := h.PS.GetSessionByTokenHash(r.Context(), tokenHash[:])
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				// Stores hide expired rows, so a miss may still be an expired row on disk.
				logWarn(r, "require auth failed", "reason", "session_not_found")
				h.deleteStaleSession(r, tokenHash[:])
			} else {
				logError(r, "require auth failed fetching session from store", "error", err)
			}
			h.clearAndDeny(w, r, deny)
			return
		}
		// Stores filter expired rows; checked again so the boundary is ours.
		if !sess.ExpiresAt.After(h.now()) {
			logWarn(r, "require auth failed", "reason", "session_expired")
			h.deleteStaleSession(r, tokenHash[:])
			h.clearAndDeny(w, r, deny)
			return
		}

		ctx := context.WithValue(r.Context(), userIDKey, sess.UserID)
		ctx = context.WithValue(ctx, identityKey, sess.Identity)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// deleteStaleSession removes a found-expired session row. Best effort; the cleanup loop retries.
func (h *AuthHandler) deleteStaleSession(r *http.Request, tokenHash []byte) {
	if err := h.PS.DeleteSession(r.Context(), tokenHash); err != nil {
		logWarn(r, "failed to delete expired session", "error", err)
	}
}

func (h *AuthHandler) clearAndDeny(w http.ResponseWriter, r *http.Request, deny http.HandlerFunc) {
	http.SetCookie(w, h.Cookies.ClearCookie())
	deny(w, r)
}
