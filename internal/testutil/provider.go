// provider.go
//
// FakeProvider is an httptest OAuth2 provider with token and userinfo endpoints
// for both Google and Twitter response shapes. Codes are single-use, like the real thing.
package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"golang.org/x/oauth2"
)

// FakeGrant is what a code is exchanged for, and what userinfo returns for its token.
type FakeGrant struct {
	AccessToken string
	Verifier    string // required code_verifier; empty means PKCE not expected
	Challenge   string // when set, the code_verifier must hash (S256) to it; Verifier is ignored
	Email       string // Google userinfo email
	Username    string // Twitter users/me username
}

// FakeProvider serves:
//
//	POST /token             authorization_code grant, HTTP Basic client auth
//	GET  /google/userinfo   OIDC userinfo JSON
//	GET  /twitter/users/me  Twitter v2 {"data":{...}} JSON
type FakeProvider struct {
	Server       *httptest.Server
	ClientID     string
	ClientSecret string

	// ExpiresIn is sent as expires_in when > 0.
	ExpiresIn int

	mu            sync.Mutex
	codes         map[string]FakeGrant
	tokens        map[string]FakeGrant
	tokenRequests int
	lastVerifier  string
}

// NewFakeProvider starts the server and closes it when the test ends.
func NewFakeProvider(t *testing.T) *FakeProvider {
	t.Helper()
	f := &FakeProvider{
		ClientID:     "fake-client",
		ClientSecret: "fake-secret",
		codes:        make(map[string]FakeGrant),
		tokens:       make(map[string]FakeGrant),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /token", f.handleToken)
	mux.HandleFunc("GET /google/userinfo", f.handleGoogleUserInfo)
	mux.HandleFunc("GET /twitter/users/me", f.handleTwitterUserInfo)
	f.Server = httptest.NewServer(mux)
	t.Cleanup(f.Server.Close)
	return f
}

// URL returns the absolute URL for path on the fake server.
func (f *FakeProvider) URL(path string) string {
	return f.Server.URL + path
}

// IssueCode registers code so one exchange of it succeeds.
func (f *FakeProvider) IssueCode(code string, g FakeGrant) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.codes[code] = g
}

// TokenRequests returns how many token requests were received.
func (f *FakeProvider) TokenRequests() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tokenRequests
}

// LastVerifier returns the code_verifier sent on the most recent token request.
func (f *FakeProvider) LastVerifier() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastVerifier
}

func (f *FakeProvider) handleToken(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokenRequests++

	id, secret, ok := r.BasicAuth()
	if !ok || id != f.ClientID || secret != f.ClientSecret {
		oauthError(w, http.StatusUnauthorized, "invalid_client")
		return
	}
	if err := r.ParseForm(); err != nil || r.PostForm.Get("grant_type") != "authorization_code" {
		oauthError(w, http.StatusBadRequest, "unsupported_grant_type")
		return
	}
	f.lastVerifier = r.PostForm.Get("code_verifier")

	code := r.PostForm.Get("code")
	g, ok := f.codes[code]
	delete(f.codes, code)
	if !ok {
		oauthError(w, http.StatusBadRequest, "invalid_grant")
		return
	}
	if g.Challenge != "" {
		if oauth2.S256ChallengeFromVerifier(f.lastVerifier) != g.Challenge {
			oauthError(w, http.StatusBadRequest, "invalid_grant")
			return
		}
	} else if g.Verifier != f.lastVerifier {
		oauthError(w, http.StatusBadRequest, "invalid_grant")
		return
	}

	f.tokens[g.AccessToken] = g
	body := map[string]any{"access_token": g.AccessToken, "token_type": "bearer"}
	if f.ExpiresIn > 0 {
		body["expires_in"] = f.ExpiresIn
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(body)
}

func (f *FakeProvider) grantForBearer(r *http.Request) (FakeGrant, bool) {
	tok, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		return FakeGrant{}, false
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	g, ok := f.tokens[tok]
	return g, ok
}

func (f *FakeProvider) handleGoogleUserInfo(w http.ResponseWriter, r *http.Request) {
	g, ok := f.grantForBearer(r)
	if !ok {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"sub":            "google-" + g.AccessToken,
		"email":          g.Email,
		"email_verified": true,
	})
}

func (f *FakeProvider) handleTwitterUserInfo(w http.ResponseWriter, r *http.Request) {
	g, ok := f.grantForBearer(r)
	if !ok {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"data": map[string]string{"id": "42", "name": "Test User", "username": g.Username},
	})
}

func oauthError(w http.ResponseWriter, status int, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": code})
}
