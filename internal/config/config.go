// config.go

// Environment variable loading and validation.
package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/MGallo-Code/portico/internal/oauth"
	"github.com/caarlos0/env/v11"
)

// Config holds all env configuration vars for Portico.
type Config struct {
	Port          string     `env:"PORT" envDefault:"7865"`
	LogLevel      slog.Level `env:"LOG_LEVEL" envDefault:"info"`
	AppEnv        string     `env:"APP_ENV" envDefault:"development"`
	PublicBaseURL string     `env:"PUBLIC_BASE_URL" envDefault:"http://localhost:7865"`

	// StoreDriver selects the user/session store: "postgres" (DATABASE_URL) or "sqlite" (SQLITE_PATH).
	StoreDriver string `env:"STORE_DRIVER" envDefault:"postgres"`
	DatabaseURL string `env:"DATABASE_URL"`
	SQLitePath  string `env:"SQLITE_PATH" envDefault:"portico.db"`

	// RedisURL is optional; empty disables login rate limiting.
	RedisURL string `env:"REDIS_URL"`

	CookieName   string `env:"COOKIE_NAME" envDefault:"sid"`
	CookieSecure bool   `env:"COOKIE_SECURE" envDefault:"true"`
	// Base64 (std encoding). Required in production so sessions survive restarts.
	CookieHashKeyB64  string `env:"COOKIE_HASH_KEY"`
	CookieBlockKeyB64 string `env:"COOKIE_BLOCK_KEY"`
	// Decoded from the B64 fields by Validate; nil when unset.
	CookieHashKey  []byte
	CookieBlockKey []byte

	// A provider is enabled when its client id is set.
	GoogleClientID      string `env:"GOOGLE_CLIENT_ID"`
	GoogleClientSecret  string `env:"GOOGLE_CLIENT_SECRET"`
	TwitterClientID     string `env:"TWITTER_CLIENT_ID"`
	TwitterClientSecret string `env:"TWITTER_CLIENT_SECRET"`
	// ProvidersFile optionally overrides provider endpoints/scopes (YAML).
	ProvidersFile string `env:"PROVIDERS_FILE"`

	OAuthHTTPTimeout time.Duration `env:"OAUTH_HTTP_TIMEOUT" envDefault:"30s"`
	PKCETTL          time.Duration `env:"PKCE_TTL" envDefault:"10m"`

	// TrustProxyHeaders honors X-Forwarded-For/X-Real-IP for the client IP.
	// Enable only behind a proxy that overwrites those headers; otherwise clients pick their own IP.
	TrustProxyHeaders bool `env:"TRUST_PROXY_HEADERS" envDefault:"false"`

	// Rate limit policy for /login-initiate per client IP.
	RateLoginMax    int           `env:"RATE_LOGIN_MAX" envDefault:"20"`
	RateLoginWindow time.Duration `env:"RATE_LOGIN_WINDOW" envDefault:"1m"`

	SessionCleanupInterval time.Duration `env:"SESSION_CLEANUP_INTERVAL" envDefault:"1h"`
}

// LoadConfig reads environment variables and returns a validated Config.
func LoadConfig() (*Config, error) {
	return load(env.ToMap(os.Environ()))
}

// load parses from an explicit environment map; tests call it directly.
func load(environ map[string]string) (*Config, error) {
	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, env.Options{Environment: environ}); err != nil {
		return nil, fmt.Errorf("parsing env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// IsProduction reports whether APP_ENV=production.
func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

// Validate checks cross-field rules and decodes cookie keys.
func (c *Config) Validate() error {
	switch c.AppEnv {
	case "development", "production":
	default:
		return fmt.Errorf("APP_ENV must be development or production, got %q", c.AppEnv)
	}

	switch c.StoreDriver {
	case "postgres":
		if c.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required when STORE_DRIVER=postgres")
		}
	case "sqlite":
		if c.SQLitePath == "" {
			return errors.New("SQLITE_PATH is required when STORE_DRIVER=sqlite")
		}
	default:
		return fmt.Errorf("STORE_DRIVER must be postgres or sqlite, got %q", c.StoreDriver)
	}

	if u, err := url.Parse(c.PublicBaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("PUBLIC_BASE_URL must be an absolute URL, got %q", c.PublicBaseURL)
	}
	if c.CookieName == "" {
		return errors.New("COOKIE_NAME must not be empty")
	}

	if c.GoogleClientID == "" && c.TwitterClientID == "" {
		return errors.New("at least one of GOOGLE_CLIENT_ID or TWITTER_CLIENT_ID is required")
	}
	if c.GoogleClientID != "" && c.GoogleClientSecret == "" {
		return errors.New("GOOGLE_CLIENT_SECRET is required when GOOGLE_CLIENT_ID is set")
	}
	if c.TwitterClientID != "" && c.TwitterClientSecret == "" {
		return errors.New("TWITTER_CLIENT_SECRET is required when TWITTER_CLIENT_ID is set")
	}

	if c.OAuthHTTPTimeout <= 0 || c.PKCETTL <= 0 || c.RateLoginWindow <= 0 || c.SessionCleanupInterval <= 0 {
		return errors.New("OAUTH_HTTP_TIMEOUT, PKCE_TTL, RATE_LOGIN_WINDOW and SESSION_CLEANUP_INTERVAL must be positive")
	}
	if c.RateLoginMax <= 0 {
		return errors.New("RATE_LOGIN_MAX must be positive")
	}

	return c.decodeCookieKeys()
}

func (c *Config) decodeCookieKeys() error {
	if c.CookieHashKeyB64 == "" || c.CookieBlockKeyB64 == "" {
		if c.IsProduction() {
			return errors.New("COOKIE_HASH_KEY and COOKIE_BLOCK_KEY are required in production")
		}
		return nil
	}

	hashKey, err := base64.StdEncoding.DecodeString(c.CookieHashKeyB64)
	if err != nil {
		return fmt.Errorf("COOKIE_HASH_KEY is not valid base64: %w", err)
	}
	if len(hashKey) < 32 {
		return fmt.Errorf("COOKIE_HASH_KEY must decode to at least 32 bytes, got %d", len(hashKey))
	}
	blockKey, err := base64.StdEncoding.DecodeString(c.CookieBlockKeyB64)
	if err != nil {
		return fmt.Errorf("COOKIE_BLOCK_KEY is not valid base64: %w", err)
	}
	switch len(blockKey) {
	case 16, 24, 32:
	default:
		return fmt.Errorf("COOKIE_BLOCK_KEY must decode to 16, 24 or 32 bytes, got %d", len(blockKey))
	}

	c.CookieHashKey, c.CookieBlockKey = hashKey, blockKey
	return nil
}

// Providers returns the enabled providers' configs, with redirect URLs under
// PublicBaseURL and PROVIDERS_FILE overrides applied.
func (c *Config) Providers() ([]oauth.ProviderConfig, error) {
	base := strings.TrimRight(c.PublicBaseURL, "/")
	var cfgs []oauth.ProviderConfig
	if c.GoogleClientID != "" {
		cfgs = append(cfgs, oauth.GoogleDefaults(c.GoogleClientID, c.GoogleClientSecret, base+"/callback/google"))
	}
	if c.TwitterClientID != "" {
		cfgs = append(cfgs, oauth.TwitterDefaults(c.TwitterClientID, c.TwitterClientSecret, base+"/callback/twitter"))
	}

	if c.ProvidersFile == "" {
		return cfgs, nil
	}
	overrides, err := oauth.LoadOverridesFile(c.ProvidersFile)
	if err != nil {
		return nil, err
	}
	return oauth.ApplyOverrides(cfgs, overrides), nil
}
