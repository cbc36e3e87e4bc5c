// client.go -- Authorization URL building and authorization-code exchange.
//
// One flow for every provider; the ProviderConfig decides whether PKCE is used.
// Nothing here retries: codes and verifiers are single-use.
package oauth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"
)

// ErrTokenExchangeFailed wraps any transport error or provider error response from the token endpoint.
var ErrTokenExchangeFailed = errors.New("token exchange failed")

// DefaultHTTPTimeout bounds every outbound provider call.
const DefaultHTTPTimeout = 30 * time.Second

// TokenResponse is the slice of a provider token the session issuer needs.
type TokenResponse interface {
	// AccessTokenSecret returns the raw bearer token.
	AccessTokenSecret() string
	// ExpiresIn returns the provider-declared lifetime, or 0 when the provider omitted it.
	ExpiresIn() time.Duration
}

// Token is the result of a successful exchange. Held in memory for the callback only.
type Token struct {
	secret    string
	expiresIn time.Duration
}

// NewToken builds a Token directly; used by tests and by alternate exchangers.
func NewToken(secret string, expiresIn time.Duration) *Token {
	return &Token{secret: secret, expiresIn: expiresIn}
}

func (t *Token) AccessTokenSecret() string { return t.secret }
func (t *Token) ExpiresIn() time.Duration  { return t.expiresIn }

// oauth2Token rebuilds the x/oauth2 form for Bearer-authenticated calls.
func (t *Token) oauth2Token() *oauth2.Token {
	return &oauth2.Token{AccessToken: t.secret, TokenType: "Bearer"}
}

// Client runs the provider side of the code flow. Safe for concurrent use.
type Client struct {
	registry *Registry
	attempts *VerifierStore
	http     *http.Client
}

// NewClient wires the registry and attempt store. timeout <= 0 uses DefaultHTTPTimeout.
func NewClient(registry *Registry, attempts *VerifierStore, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultHTTPTimeout
	}
	return &Client{
		registry: registry,
		attempts: attempts,
		http:     &http.Client{Timeout: timeout},
	}
}

// Registry returns the provider registry the client was built with.
func (c *Client) Registry() *Registry { return c.registry }

// AuthorizationURL records a new login attempt and returns the provider consent URL.
// The attempt key travels as state; PKCE providers also get an S256 challenge.
func (c *Client) AuthorizationURL(id ProviderID) (string, error) {
	p, err := c.registry.lookup(id)
	if err != nil {
		return "", err
	}

	if !p.cfg.RequiresPKCE {
		return p.oauth2.AuthCodeURL(c.attempts.BeginState(id)), nil
	}

	challenge, attemptKey := c.attempts.BeginPKCE(id)
	return p.oauth2.AuthCodeURL(attemptKey,
		oauth2.SetAuthURLParam("code_challenge", challenge),
		oauth2.SetAuthURLParam("code_challenge_method", "S256"),
	), nil
}

// ConsumeAttempt validates the callback state and returns the stored verifier (empty without PKCE).
func (c *Client) ConsumeAttempt(id ProviderID, state string) (string, error) {
	if _, err := c.registry.lookup(id); err != nil {
		return "", err
	}
	return c.attempts.Consume(id, state)
}

// Exchange trades an authorization code (plus verifier, if any) for an access token.
// All failures wrap ErrTokenExchangeFailed; IsProviderRejection tells rejections from transport errors.
func (c *Client) Exchange(ctx context.Context, id ProviderID, code, verifier string) (*Token, error) {
	p, err := c.registry.lookup(id)
	if err != nil {
		return nil, err
	}

	var opts []oauth2.AuthCodeOption
	if verifier != "" {
		opts = append(opts, oauth2.VerifierOption(verifier))
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.http)
	tok, err := p.oauth2.Exchange(ctx, code, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrTokenExchangeFailed, id, err)
	}

	var expiresIn time.Duration
	if !tok.Expiry.IsZero() {
		expiresIn = max(0, time.Until(tok.Expiry).Round(time.Second))
	}
	return &Token{secret: tok.AccessToken, expiresIn: expiresIn}, nil
}

// IsProviderRejection reports whether err came from the provider answering with an
// error response (bad/expired/reused code, verifier mismatch), as opposed to a transport failure.
func IsProviderRejection(err error) bool {
	var re *oauth2.RetrieveError
	return errors.As(err, &re)
}
