// protected.go -- Handlers behind the authentication gate.
package auth

import (
	"net/http"
	"strings"

	"github.com/MGallo-Code/portico/internal/oauth"
)

// profile is the JSON body returned to authenticated callers.
type profile struct {
	Identity    string `json:"identity"`
	Provider    string `json:"provider"`
	DisplayName string `json:"display_name"`
}

// describeIdentity derives the provider and a display name from a canonical identity.
// Synthesized Twitter identities are the only ones carrying TwitterIdentitySuffix.
func describeIdentity(identity string) profile {
	if name, ok := strings.CutSuffix(identity, oauth.TwitterIdentitySuffix); ok {
		return profile{Identity: identity, Provider: string(oauth.Twitter), DisplayName: name}
	}
	return profile{Identity: identity, Provider: string(oauth.Google), DisplayName: identity}
}

// currentProfile writes the caller's profile, or 500 if the gate did not run.
func currentProfile(w http.ResponseWriter, r *http.Request) {
	identity, ok := IdentityFromContext(r.Context())
	if !ok {
		logError(r, "protected handler reached without identity in context")
		writeMessage(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, describeIdentity(identity))
}

// Protected handles GET /protected -- the landing page after a successful login.
func (h *AuthHandler) Protected(w http.ResponseWriter, r *http.Request) {
	currentProfile(w, r)
}

// Profile handles GET /protected/profile.
func (h *AuthHandler) Profile(w http.ResponseWriter, r *http.Request) {
	currentProfile(w, r)
}

// Me handles GET /api/me behind RequireAuthAPI.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	currentProfile(w, r)
}
