package config

import (
	"encoding/base64"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/MGallo-Code/portico/internal/oauth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// minimalEnv is the smallest valid environment.
func minimalEnv() map[string]string {
	return map[string]string{
		"DATABASE_URL":          "postgres://localhost/portico",
		"TWITTER_CLIENT_ID":     "tid",
		"TWITTER_CLIENT_SECRET": "tsecret",
	}
}

func with(base map[string]string, kv ...string) map[string]string {
	out := maps.Clone(base)
	for i := 0; i+1 < len(kv); i += 2 {
		out[kv[i]] = kv[i+1]
	}
	return out
}

func b64(n int) string {
	return base64.StdEncoding.EncodeToString(make([]byte, n))
}

// --- load ---

func TestLoad_Defaults(t *testing.T) {
	cfg, err := load(minimalEnv())
	require.NoError(t, err)

	assert.Equal(t, "7865", cfg.Port)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
	assert.Equal(t, "development", cfg.AppEnv)
	assert.Equal(t, "postgres", cfg.StoreDriver)
	assert.Equal(t, "sid", cfg.CookieName)
	assert.True(t, cfg.CookieSecure)
	assert.Equal(t, 30*time.Second, cfg.OAuthHTTPTimeout)
	assert.Equal(t, 10*time.Minute, cfg.PKCETTL)
	assert.Equal(t, 20, cfg.RateLoginMax)
	assert.Equal(t, time.Minute, cfg.RateLoginWindow)
	assert.Empty(t, cfg.RedisURL)
	assert.Nil(t, cfg.CookieHashKey)
	assert.False(t, cfg.TrustProxyHeaders)
}

func TestLoad_Overrides(t *testing.T) {
	cfg, err := load(with(minimalEnv(),
		"PORT", "9000",
		"LOG_LEVEL", "debug",
		"COOKIE_SECURE", "false",
		"OAUTH_HTTP_TIMEOUT", "5s",
		"COOKIE_HASH_KEY", b64(64),
		"COOKIE_BLOCK_KEY", b64(32),
		"TRUST_PROXY_HEADERS", "true",
	))
	require.NoError(t, err)

	assert.Equal(t, "9000", cfg.Port)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
	assert.False(t, cfg.CookieSecure)
	assert.Equal(t, 5*time.Second, cfg.OAuthHTTPTimeout)
	assert.Len(t, cfg.CookieHashKey, 64)
	assert.Len(t, cfg.CookieBlockKey, 32)
	assert.True(t, cfg.TrustProxyHeaders)
}

func TestLoad_Errors(t *testing.T) {
	cases := []struct {
		name    string
		environ map[string]string
	}{
		{"missing DATABASE_URL for postgres", map[string]string{"TWITTER_CLIENT_ID": "t", "TWITTER_CLIENT_SECRET": "s"}},
		{"unknown store driver", with(minimalEnv(), "STORE_DRIVER", "mongo")},
		{"unknown app env", with(minimalEnv(), "APP_ENV", "staging")},
		{"no providers", map[string]string{"DATABASE_URL": "postgres://x"}},
		{"google id without secret", with(minimalEnv(), "GOOGLE_CLIENT_ID", "g")},
		{"relative base url", with(minimalEnv(), "PUBLIC_BASE_URL", "/app")},
		{"production without cookie keys", with(minimalEnv(), "APP_ENV", "production")},
		{"short hash key", with(minimalEnv(), "COOKIE_HASH_KEY", b64(8), "COOKIE_BLOCK_KEY", b64(32))},
		{"bad block key size", with(minimalEnv(), "COOKIE_HASH_KEY", b64(32), "COOKIE_BLOCK_KEY", b64(20))},
		{"non-base64 key", with(minimalEnv(), "COOKIE_HASH_KEY", "!!!", "COOKIE_BLOCK_KEY", b64(32))},
		{"zero rate limit", with(minimalEnv(), "RATE_LOGIN_MAX", "0")},
		{"unparseable duration", with(minimalEnv(), "PKCE_TTL", "soon")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := load(tc.environ)
			assert.Error(t, err)
		})
	}
}

func TestLoad_SQLiteNeedsNoDatabaseURL(t *testing.T) {
	cfg, err := load(map[string]string{
		"STORE_DRIVER":     "sqlite",
		"GOOGLE_CLIENT_ID": "g", "GOOGLE_CLIENT_SECRET": "s",
	})
	require.NoError(t, err)
	assert.Equal(t, "portico.db", cfg.SQLitePath)
}

// --- Providers ---

func TestProviders(t *testing.T) {
	t.Run("enabled providers get redirects under base url", func(t *testing.T) {
		cfg, err := load(with(minimalEnv(),
			"PUBLIC_BASE_URL", "https://app.example/",
			"GOOGLE_CLIENT_ID", "g", "GOOGLE_CLIENT_SECRET", "gs",
		))
		require.NoError(t, err)

		provs, err := cfg.Providers()
		require.NoError(t, err)
		require.Len(t, provs, 2)
		assert.Equal(t, oauth.Google, provs[0].ID)
		assert.Equal(t, "https://app.example/callback/google", provs[0].RedirectURL)
		assert.Equal(t, oauth.Twitter, provs[1].ID)
		assert.Equal(t, "https://app.example/callback/twitter", provs[1].RedirectURL)

		_, err = oauth.NewRegistry(provs...)
		assert.NoError(t, err)
	})

	t.Run("providers file overrides endpoints", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "providers.yaml")
		require.NoError(t, os.WriteFile(path, []byte("providers:\n  twitter:\n    userinfo_url: https://mock.test/me\n"), 0o600))

		cfg, err := load(with(minimalEnv(), "PROVIDERS_FILE", path))
		require.NoError(t, err)
		provs, err := cfg.Providers()
		require.NoError(t, err)
		require.Len(t, provs, 1)
		assert.Equal(t, "https://mock.test/me", provs[0].UserInfoURL)
	})

	t.Run("missing providers file is an error", func(t *testing.T) {
		cfg, err := load(with(minimalEnv(), "PROVIDERS_FILE", filepath.Join(t.TempDir(), "nope.yaml")))
		require.NoError(t, err)
		_, err = cfg.Providers()
		assert.Error(t, err)
	})
}
