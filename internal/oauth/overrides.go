// overrides.go -- Optional YAML file overriding provider endpoints, redirects, and scopes.
// Used to point a deployment at staging or mock providers without code changes.
package oauth

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// ProviderOverride replaces the non-empty fields of a ProviderConfig.
type ProviderOverride struct {
	AuthURL      string   `yaml:"auth_url"`
	TokenURL     string   `yaml:"token_url"`
	UserInfoURL  string   `yaml:"userinfo_url"`
	RedirectURL  string   `yaml:"redirect_url"`
	Scopes       []string `yaml:"scopes"`
	RequiresPKCE *bool    `yaml:"requires_pkce"`
}

type overridesFile struct {
	Providers map[ProviderID]ProviderOverride `yaml:"providers"`
}

// ParseOverrides decodes a providers file. Unknown keys are rejected.
//
//	providers:
//	  twitter:
//	    token_url: https://staging.example/2/oauth2/token
//	    scopes: [tweet.read, users.read, offline.access]
func ParseOverrides(r io.Reader) (map[ProviderID]ProviderOverride, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var f overridesFile
	if err := dec.Decode(&f); err != nil && err != io.EOF {
		return nil, fmt.Errorf("decoding provider overrides: %w", err)
	}
	for id := range f.Providers {
		if _, err := ParseProviderID(string(id)); err != nil {
			return nil, err
		}
	}
	return f.Providers, nil
}

// LoadOverridesFile reads and parses a providers file from disk.
func LoadOverridesFile(path string) (map[ProviderID]ProviderOverride, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening provider overrides: %w", err)
	}
	defer f.Close()
	return ParseOverrides(f)
}

// ApplyOverrides returns cfgs with matching overrides applied. Providers absent from cfgs are ignored.
func ApplyOverrides(cfgs []ProviderConfig, overrides map[ProviderID]ProviderOverride) []ProviderConfig {
	out := make([]ProviderConfig, len(cfgs))
	for i, c := range cfgs {
		o, ok := overrides[c.ID]
		if ok {
			c = o.apply(c)
		}
		out[i] = c
	}
	return out
}

func (o ProviderOverride) apply(c ProviderConfig) ProviderConfig {
	if o.AuthURL != "" {
		c.AuthURL = o.AuthURL
	}
	if o.TokenURL != "" {
		c.TokenURL = o.TokenURL
	}
	if o.UserInfoURL != "" {
		c.UserInfoURL = o.UserInfoURL
	}
	if o.RedirectURL != "" {
		c.RedirectURL = o.RedirectURL
	}
	if len(o.Scopes) > 0 {
		c.Scopes = o.Scopes
	}
	if o.RequiresPKCE != nil {
		c.RequiresPKCE = *o.RequiresPKCE
	}
	return c
}
