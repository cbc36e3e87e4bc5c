// identity.go -- Resolves an access token into the canonical identity used as the local user key.
package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

var (
	// ErrIdentityFetchFailed wraps transport, status, and decode errors from the userinfo endpoint.
	ErrIdentityFetchFailed = errors.New("identity fetch failed")
	// ErrMalformedIdentity is returned when the provider answered but the normalized identity is empty.
	ErrMalformedIdentity = errors.New("malformed identity")
)

// TwitterIdentitySuffix marks synthesized Twitter identities.
const TwitterIdentitySuffix = "@twitter.local"

// maxUserInfoBytes caps how much of a userinfo response is read.
const maxUserInfoBytes = 1 << 20

// TwitterIdentity synthesizes the canonical identity for a Twitter username.
// Twitter's users.read scope does not expose email, so this is a pseudo-address,
// not a deliverable one. The username is used as-is, even if it contains '@' or '.'.
func TwitterIdentity(username string) string {
	return username + TwitterIdentitySuffix
}

// Resolver fetches and normalizes user identity from the provider's userinfo endpoint.
// Safe for concurrent use.
type Resolver struct {
	registry *Registry
	http     *http.Client
	oidc     map[ProviderID]*oidc.Provider
}

// NewResolver builds a resolver for every provider in the registry. timeout <= 0 uses DefaultHTTPTimeout.
func NewResolver(registry *Registry, timeout time.Duration) *Resolver {
	if timeout <= 0 {
		timeout = DefaultHTTPTimeout
	}
	r := &Resolver{
		registry: registry,
		http:     &http.Client{Timeout: timeout},
		oidc:     make(map[ProviderID]*oidc.Provider),
	}
	// Google's userinfo endpoint is OIDC-standard; no discovery round-trip needed.
	if p, err := registry.lookup(Google); err == nil {
		pc := &oidc.ProviderConfig{UserInfoURL: p.cfg.UserInfoURL}
		r.oidc[Google] = pc.NewProvider(oidc.ClientContext(context.Background(), r.http))
	}
	return r
}

// Resolve returns the canonical identity for tok: Google's email verbatim, or
// TwitterIdentity(username) for Twitter.
func (r *Resolver) Resolve(ctx context.Context, id ProviderID, tok TokenResponse) (string, error) {
	p, err := r.registry.lookup(id)
	if err != nil {
		return "", err
	}
	bearer := NewToken(tok.AccessTokenSecret(), tok.ExpiresIn())

	var identity string
	switch id {
	case Google:
		identity, err = r.googleIdentity(ctx, bearer)
	case Twitter:
		identity, err = r.twitterIdentity(ctx, p.cfg.UserInfoURL, bearer)
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownProvider, id)
	}
	if err != nil {
		return "", err
	}
	return identity, nil
}

func (r *Resolver) googleIdentity(ctx context.Context, tok *Token) (string, error) {
	info, err := r.oidc[Google].UserInfo(oidc.ClientContext(ctx, r.http), oauth2.StaticTokenSource(tok.oauth2Token()))
	if err != nil {
		return "", fmt.Errorf("%w: google: %w", ErrIdentityFetchFailed, err)
	}
	if strings.TrimSpace(info.Email) == "" {
		return "", fmt.Errorf("%w: google: empty email", ErrMalformedIdentity)
	}
	return info.Email, nil
}

// twitterUserInfo is the GET /2/users/me response shape.
type twitterUserInfo struct {
	Data struct {
		ID       string `json:"id"`
		Name     string `json:"name"`
		Username string `json:"username"`
	} `json:"data"`
}

func (r *Resolver) twitterIdentity(ctx context.Context, userInfoURL string, tok *Token) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, userInfoURL, nil)
	if err != nil {
		return "", fmt.Errorf("%w: twitter: building request: %w", ErrIdentityFetchFailed, err)
	}
	tok.oauth2Token().SetAuthHeader(req)

	resp, err := r.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: twitter: %w", ErrIdentityFetchFailed, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxUserInfoBytes))
	if err != nil {
		return "", fmt.Errorf("%w: twitter: reading body: %w", ErrIdentityFetchFailed, err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: twitter: %s: %s", ErrIdentityFetchFailed, resp.Status, body)
	}

	var info twitterUserInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return "", fmt.Errorf("%w: twitter: decoding body: %w", ErrIdentityFetchFailed, err)
	}
	if strings.TrimSpace(info.Data.Username) == "" {
		return "", fmt.Errorf("%w: twitter: empty username", ErrMalformedIdentity)
	}
	return TwitterIdentity(info.Data.Username), nil
}
