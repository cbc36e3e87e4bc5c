// main_test.go
//
// Level 3 smoke tests
// chi wiring via httptest.NewServer with an in-memory SQLite store and a fake provider.
// Catches middleware ordering, route grouping, and real HTTP cookie/header behavior
// that httptest.NewRecorder cannot exercise.

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/MGallo-Code/portico/internal/auth"
	"github.com/MGallo-Code/portico/internal/oauth"
	"github.com/MGallo-Code/portico/internal/store"
	"github.com/MGallo-Code/portico/internal/testutil"
)

// --- Smoke helpers ---

// newSmokeHandler builds real oauth and SQLite components pointed at f.
func newSmokeHandler(t *testing.T, f *testutil.FakeProvider) *auth.AuthHandler {
	t.Helper()
	tw := oauth.TwitterDefaults(f.ClientID, f.ClientSecret, "http://app.test/callback/twitter")
	tw.AuthURL, tw.TokenURL, tw.UserInfoURL = f.URL("/authorize"), f.URL("/token"), f.URL("/twitter/users/me")
	g := oauth.GoogleDefaults(f.ClientID, f.ClientSecret, "http://app.test/callback/google")
	g.AuthURL, g.TokenURL, g.UserInfoURL = f.URL("/authorize"), f.URL("/token"), f.URL("/google/userinfo")
	reg, err := oauth.NewRegistry(g, tw)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	ps, err := store.NewSQLiteStore(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(ps.Close)

	return &auth.AuthHandler{
		PS:        ps,
		RL:        store.NoopRateLimiter{},
		OAuth:     oauth.NewClient(reg, oauth.NewVerifierStore(time.Minute), 5*time.Second),
		Identity:  oauth.NewResolver(reg, 5*time.Second),
		Cookies:   auth.NewCookieCodec("sid", bytes.Repeat([]byte{7}, 64), bytes.Repeat([]byte{9}, 32), false),
		Providers: reg.IDs(),
		RateLogin: store.RateLimit{MaxAttempts: 100, Window: time.Minute},
	}
}

// newSmokeServer serves buildRouter over newSmokeHandler, ignoring proxy headers.
func newSmokeServer(t *testing.T, f *testutil.FakeProvider) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(buildRouter(newSmokeHandler(t, f), false))
	t.Cleanup(srv.Close)
	return srv
}

// newBrowser returns a client that keeps cookies and does not follow redirects.
func newBrowser(t *testing.T) *http.Client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookiejar: %v", err)
	}
	return &http.Client{
		Jar: jar,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

// get performs a GET and returns status, Location header, and body.
func get(t *testing.T, c *http.Client, rawURL string) (int, string, string) {
	t.Helper()
	resp, err := c.Get(rawURL)
	if err != nil {
		t.Fatalf("GET %s: %v", rawURL, err)
	}
	defer resp.Body.Close()
	var buf bytes.Buffer
	buf.ReadFrom(resp.Body)
	return resp.StatusCode, resp.Header.Get("Location"), buf.String()
}

// browserLogin drives initiate -> provider -> callback for a Twitter user and returns the callback status.
func browserLogin(t *testing.T, c *http.Client, base string, f *testutil.FakeProvider, code, username string) int {
	t.Helper()
	status, loc, _ := get(t, c, base+"/login-initiate/twitter")
	if status != http.StatusFound {
		t.Fatalf("login-initiate: expected 302, got %d", status)
	}
	authURL, err := url.Parse(loc)
	if err != nil {
		t.Fatalf("parsing authorization url: %v", err)
	}
	q := authURL.Query()
	f.IssueCode(code, testutil.FakeGrant{AccessToken: "at-" + code, Challenge: q.Get("code_challenge"), Username: username})

	cb := url.Values{"code": {code}, "state": {q.Get("state")}}
	status, loc, _ = get(t, c, base+"/callback/twitter?"+cb.Encode())
	if status == http.StatusFound && loc != "/protected" {
		t.Errorf("callback redirect: got %q, want /protected", loc)
	}
	return status
}

// --- Smoke tests ---

func TestSmoke_Health(t *testing.T) {
	srv := newSmokeServer(t, testutil.NewFakeProvider(t))

	status, _, body := get(t, newBrowser(t), srv.URL+"/health")

	if status != http.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
	var got struct {
		Database    string `json:"database"`
		RateLimiter string `json:"rate_limiter"`
	}
	if err := json.Unmarshal([]byte(body), &got); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if got.Database != "ok" || got.RateLimiter != "disabled" {
		t.Errorf("unexpected health body: %+v", got)
	}
}

func TestSmoke_LoginOptions(t *testing.T) {
	srv := newSmokeServer(t, testutil.NewFakeProvider(t))

	status, _, body := get(t, newBrowser(t), srv.URL+"/login")

	if status != http.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
	for _, want := range []string{"/login-initiate/google", "/login-initiate/twitter"} {
		if !strings.Contains(body, want) {
			t.Errorf("login options missing %q: %s", want, body)
		}
	}
}

func TestSmoke_UnknownProvider(t *testing.T) {
	srv := newSmokeServer(t, testutil.NewFakeProvider(t))
	c := newBrowser(t)

	for _, path := range []string{"/login-initiate/facebook", "/callback/facebook?code=x&state=y"} {
		if status, _, _ := get(t, c, srv.URL+path); status != http.StatusNotFound {
			t.Errorf("%s: expected 404, got %d", path, status)
		}
	}
}

func TestSmoke_GatesWithoutSession(t *testing.T) {
	srv := newSmokeServer(t, testutil.NewFakeProvider(t))
	c := newBrowser(t)

	status, loc, _ := get(t, c, srv.URL+"/protected")
	if status != http.StatusFound || loc != "/login" {
		t.Errorf("/protected: expected 302 to /login, got %d %q", status, loc)
	}
	status, _, _ = get(t, c, srv.URL+"/api/me")
	if status != http.StatusUnauthorized {
		t.Errorf("/api/me: expected 401, got %d", status)
	}
}

func TestSmoke_Logout_WithoutSession(t *testing.T) {
	srv := newSmokeServer(t, testutil.NewFakeProvider(t))

	status, loc, _ := get(t, newBrowser(t), srv.URL+"/logout")

	if status != http.StatusFound || loc != "/" {
		t.Errorf("expected 302 to /, got %d %q", status, loc)
	}
}

func TestSmoke_FullRoundTrip(t *testing.T) {
	f := testutil.NewFakeProvider(t)
	srv := newSmokeServer(t, f)
	c := newBrowser(t)

	if status := browserLogin(t, c, srv.URL, f, "code-rt", "grace"); status != http.StatusFound {
		t.Fatalf("callback: expected 302, got %d", status)
	}

	status, _, body := get(t, c, srv.URL+"/protected/profile")
	if status != http.StatusOK {
		t.Fatalf("/protected/profile: expected 200, got %d", status)
	}
	if !strings.Contains(body, `"display_name":"grace"`) || !strings.Contains(body, `"provider":"twitter"`) {
		t.Errorf("unexpected profile: %s", body)
	}
	if status, _, _ := get(t, c, srv.URL+"/api/me"); status != http.StatusOK {
		t.Errorf("/api/me: expected 200, got %d", status)
	}

	status, loc, _ := get(t, c, srv.URL+"/logout")
	if status != http.StatusFound || loc != "/" {
		t.Fatalf("/logout: expected 302 to /, got %d %q", status, loc)
	}

	// Jar dropped the cookie on logout; both gates deny.
	if status, _, _ := get(t, c, srv.URL+"/api/me"); status != http.StatusUnauthorized {
		t.Errorf("/api/me after logout: expected 401, got %d", status)
	}
	if status, loc, _ := get(t, c, srv.URL+"/protected"); status != http.StatusFound || loc != "/login" {
		t.Errorf("/protected after logout: expected 302 to /login, got %d %q", status, loc)
	}
}

func TestSmoke_StaleCookieIsCleared(t *testing.T) {
	f := testutil.NewFakeProvider(t)
	srv := newSmokeServer(t, f)
	c := newBrowser(t)
	if status := browserLogin(t, c, srv.URL, f, "code-stale", "lin"); status != http.StatusFound {
		t.Fatalf("callback: expected 302, got %d", status)
	}
	base, _ := url.Parse(srv.URL)
	stale := c.Jar.Cookies(base)

	// Log out with a second client holding a copy, then present the stale copy.
	other := newBrowser(t)
	other.Jar.SetCookies(base, stale)
	get(t, other, srv.URL+"/logout")

	resp, err := c.Get(srv.URL + "/api/me")
	if err != nil {
		t.Fatalf("GET /api/me: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
	cleared := false
	for _, ck := range resp.Cookies() {
		if ck.Name == "sid" && ck.MaxAge < 0 {
			cleared = true
		}
	}
	if !cleared {
		t.Error("stale session cookie was not cleared")
	}
}

func TestSmoke_RateLimitKeyIgnoresForwardedForUnlessTrusted(t *testing.T) {
	tests := []struct {
		name       string
		trustProxy bool
		wantKey    string
	}{
		{"untrusted uses peer address", false, "login_initiate:127.0.0.1"},
		{"trusted uses forwarded address", true, "login_initiate:198.51.100.9"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newSmokeHandler(t, testutil.NewFakeProvider(t))
			rl := &testutil.MockRateLimiter{}
			h.RL = rl
			srv := httptest.NewServer(buildRouter(h, tt.trustProxy))
			t.Cleanup(srv.Close)

			req, err := http.NewRequest(http.MethodGet, srv.URL+"/login-initiate/twitter", nil)
			if err != nil {
				t.Fatalf("NewRequest: %v", err)
			}
			req.Header.Set("X-Forwarded-For", "198.51.100.9")
			resp, err := newBrowser(t).Do(req)
			if err != nil {
				t.Fatalf("GET /login-initiate/twitter: %v", err)
			}
			resp.Body.Close()

			if resp.StatusCode != http.StatusFound {
				t.Fatalf("expected 302, got %d", resp.StatusCode)
			}
			if len(rl.Keys) != 1 || rl.Keys[0] != tt.wantKey {
				t.Errorf("rate limit keys: got %v, want [%s]", rl.Keys, tt.wantKey)
			}
		})
	}
}
