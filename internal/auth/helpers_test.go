// helpers_test.go

// Shared fixtures for auth package tests.
package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MGallo-Code/portico/internal/oauth"
	"github.com/MGallo-Code/portico/internal/store"
	"github.com/MGallo-Code/portico/internal/testutil"
	"github.com/go-chi/chi/v5"
)

// fixedNow is the clock used by every test handler.
var fixedNow = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

// testCodec returns a codec with deterministic keys, so cookies minted by one codec decode in another.
func testCodec() *CookieCodec {
	return NewCookieCodec("sid",
		bytes.Repeat([]byte{0x11}, 32),
		bytes.Repeat([]byte{0x22}, 32),
		true)
}

// stubFlow implements OAuthFlow with canned results.
type stubFlow struct {
	authURL    string
	authErr    error
	verifier   string
	consumeErr error
	token      *oauth.Token
	exchErr    error

	consumed  []string // states passed to ConsumeAttempt
	exchanged []string // codes passed to Exchange
	verifiers []string // verifiers passed to Exchange
}

func (s *stubFlow) AuthorizationURL(oauth.ProviderID) (string, error) {
	return s.authURL, s.authErr
}

func (s *stubFlow) ConsumeAttempt(_ oauth.ProviderID, state string) (string, error) {
	s.consumed = append(s.consumed, state)
	return s.verifier, s.consumeErr
}

func (s *stubFlow) Exchange(_ context.Context, _ oauth.ProviderID, code, verifier string) (*oauth.Token, error) {
	s.exchanged = append(s.exchanged, code)
	s.verifiers = append(s.verifiers, verifier)
	return s.token, s.exchErr
}

// stubResolver implements IdentityResolver with a canned result.
type stubResolver struct {
	identity string
	err      error
}

func (s *stubResolver) Resolve(context.Context, oauth.ProviderID, oauth.TokenResponse) (string, error) {
	return s.identity, s.err
}

// newTestHandler returns a handler with both providers enabled, in-memory mocks, and a fixed clock.
func newTestHandler() (*AuthHandler, *testutil.MockStore, *testutil.MockRateLimiter) {
	ps := testutil.NewMockStore()
	rl := &testutil.MockRateLimiter{}
	h := &AuthHandler{
		PS:        ps,
		RL:        rl,
		OAuth:     &stubFlow{authURL: "https://provider.test/authorize?state=s"},
		Identity:  &stubResolver{identity: "ada@example.com"},
		Cookies:   testCodec(),
		Providers: []oauth.ProviderID{oauth.Google, oauth.Twitter},
		RateLogin: store.RateLimit{MaxAttempts: 5, Window: time.Minute},
		Now:       func() time.Time { return fixedNow },
	}
	return h, ps, rl
}

// withProvider injects the {provider} chi URL param.
func withProvider(r *http.Request, provider string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("provider", provider)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// seedSession stores a session for identity and returns a request cookie referencing it.
func seedSession(t *testing.T, h *AuthHandler, ps *testutil.MockStore, identity string, expiresAt time.Time) *http.Cookie {
	t.Helper()
	raw, hash, err := GenerateToken()
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	ps.AddSession(identity, hash[:], expiresAt)
	c, err := h.Cookies.SessionCookie(raw[:], time.Hour)
	if err != nil {
		t.Fatalf("SessionCookie: %v", err)
	}
	return &http.Cookie{Name: c.Name, Value: c.Value}
}

// findCookie returns the named Set-Cookie from the response, or nil.
func findCookie(w *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range w.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// assertStatus fails the test if the recorder's status differs.
func assertStatus(t *testing.T, w *httptest.ResponseRecorder, want int) {
	t.Helper()
	if w.Code != want {
		t.Fatalf("status: got %d, want %d (body %q)", w.Code, want, w.Body.String())
	}
}

// assertMessage checks the JSON {"message": ...} body.
func assertMessage(t *testing.T, w *httptest.ResponseRecorder, want string) {
	t.Helper()
	var body struct {
		Message string `json:"message"`
	}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if body.Message != want {
		t.Errorf("message: got %q, want %q", body.Message, want)
	}
}

// assertCleared fails unless the response clears the session cookie.
func assertCleared(t *testing.T, w *httptest.ResponseRecorder) {
	t.Helper()
	c := findCookie(w, "sid")
	if c == nil {
		t.Fatal("expected session cookie to be cleared, got no Set-Cookie")
	}
	if c.MaxAge >= 0 || c.Value != "" {
		t.Errorf("expected removal cookie, got MaxAge=%d Value=%q", c.MaxAge, c.Value)
	}
	if c.Path != "/" || !c.HttpOnly || c.SameSite != http.SameSiteLaxMode {
		t.Errorf("removal cookie attributes differ: Path=%q HttpOnly=%v SameSite=%v", c.Path, c.HttpOnly, c.SameSite)
	}
}

// assertRedirect checks a 302 to the given location (prefix match for provider URLs).
func assertRedirect(t *testing.T, w *httptest.ResponseRecorder, wantPrefix string) {
	t.Helper()
	assertStatus(t, w, http.StatusFound)
	if loc := w.Header().Get("Location"); !strings.HasPrefix(loc, wantPrefix) {
		t.Errorf("Location: got %q, want prefix %q", loc, wantPrefix)
	}
}
