// provider.go -- Provider registry: static per-provider OAuth2 endpoints and credentials.
package oauth

import (
	"errors"
	"fmt"
	"net/url"
	"slices"
	"sort"

	"golang.org/x/oauth2"
)

// ErrUnknownProvider is returned by Registry.Get for a provider that is not configured.
var ErrUnknownProvider = errors.New("unknown oauth provider")

// ProviderID names a supported identity provider. Also used as the {provider} URL param.
type ProviderID string

const (
	Google  ProviderID = "google"
	Twitter ProviderID = "twitter"
)

// ParseProviderID maps a URL param onto a supported provider.
func ParseProviderID(s string) (ProviderID, error) {
	switch id := ProviderID(s); id {
	case Google, Twitter:
		return id, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownProvider, s)
	}
}

// ProviderConfig holds everything needed to run the code flow against one provider.
// Immutable after the registry is built.
type ProviderConfig struct {
	ID           ProviderID
	ClientID     string
	ClientSecret string
	AuthURL      string
	TokenURL     string
	UserInfoURL  string
	RedirectURL  string
	Scopes       []string
	RequiresPKCE bool
}

// GoogleDefaults returns Google's endpoints and scopes. Google is used without PKCE.
func GoogleDefaults(clientID, clientSecret, redirectURL string) ProviderConfig {
	return ProviderConfig{
		ID:           Google,
		ClientID:     clientID,
		ClientSecret: clientSecret,
		AuthURL:      "https://accounts.google.com/o/oauth2/v2/auth",
		TokenURL:     "https://www.googleapis.com/oauth2/v3/token",
		UserInfoURL:  "https://openidconnect.googleapis.com/v1/userinfo",
		RedirectURL:  redirectURL,
		Scopes:       []string{"openid", "profile", "email"},
	}
}

// TwitterDefaults returns Twitter's v2 endpoints and scopes. Twitter requires PKCE.
// users.read does not expose email; see TwitterIdentity.
func TwitterDefaults(clientID, clientSecret, redirectURL string) ProviderConfig {
	return ProviderConfig{
		ID:           Twitter,
		ClientID:     clientID,
		ClientSecret: clientSecret,
		AuthURL:      "https://twitter.com/i/oauth2/authorize",
		TokenURL:     "https://api.twitter.com/2/oauth2/token",
		UserInfoURL:  "https://api.twitter.com/2/users/me",
		RedirectURL:  redirectURL,
		Scopes:       []string{"tweet.read", "users.read"},
		RequiresPKCE: true,
	}
}

// validate checks that secrets are present and every URL is absolute.
func (c ProviderConfig) validate() error {
	if _, err := ParseProviderID(string(c.ID)); err != nil {
		return err
	}
	if c.ClientID == "" {
		return fmt.Errorf("%s: client id is required", c.ID)
	}
	if c.ClientSecret == "" {
		return fmt.Errorf("%s: client secret is required", c.ID)
	}
	for name, raw := range map[string]string{
		"auth url":     c.AuthURL,
		"token url":    c.TokenURL,
		"userinfo url": c.UserInfoURL,
		"redirect url": c.RedirectURL,
	} {
		u, err := url.ParseRequestURI(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("%s: invalid %s %q", c.ID, name, raw)
		}
	}
	return nil
}

// oauth2Config builds the x/oauth2 client config.
// AuthStyleInHeader is pinned: AutoDetect would resend the code with params on failure.
func (c ProviderConfig) oauth2Config() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		RedirectURL:  c.RedirectURL,
		Scopes:       slices.Clone(c.Scopes),
		Endpoint: oauth2.Endpoint{
			AuthURL:   c.AuthURL,
			TokenURL:  c.TokenURL,
			AuthStyle: oauth2.AuthStyleInHeader,
		},
	}
}

type registeredProvider struct {
	cfg    ProviderConfig
	oauth2 *oauth2.Config
}

// Registry is the set of configured providers. Safe for concurrent reads.
type Registry struct {
	providers map[ProviderID]*registeredProvider
}

// NewRegistry validates every config and fails fast on the first bad one.
// Misconfiguration is an operator error, so callers treat this as startup-fatal.
func NewRegistry(cfgs ...ProviderConfig) (*Registry, error) {
	reg := &Registry{providers: make(map[ProviderID]*registeredProvider, len(cfgs))}
	for _, c := range cfgs {
		if err := c.validate(); err != nil {
			return nil, fmt.Errorf("invalid provider config: %w", err)
		}
		if _, dup := reg.providers[c.ID]; dup {
			return nil, fmt.Errorf("provider %s configured twice", c.ID)
		}
		c.Scopes = slices.Clone(c.Scopes)
		reg.providers[c.ID] = &registeredProvider{cfg: c, oauth2: c.oauth2Config()}
	}
	return reg, nil
}

// Get returns a copy of the provider's configuration.
func (r *Registry) Get(id ProviderID) (ProviderConfig, error) {
	p, err := r.lookup(id)
	if err != nil {
		return ProviderConfig{}, err
	}
	cfg := p.cfg
	cfg.Scopes = slices.Clone(cfg.Scopes)
	return cfg, nil
}

// IDs returns the configured providers in name order.
func (r *Registry) IDs() []ProviderID {
	ids := make([]ProviderID, 0, len(r.providers))
	for id := range r.providers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (r *Registry) lookup(id ProviderID) (*registeredProvider, error) {
	p, ok := r.providers[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, id)
	}
	return p, nil
}
