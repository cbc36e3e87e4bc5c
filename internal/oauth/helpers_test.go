package oauth

import (
	"testing"

	"github.com/MGallo-Code/portico/internal/testutil"
	"github.com/stretchr/testify/require"
)

// fakeConfigs points both providers at the fake server.
func fakeConfigs(f *testutil.FakeProvider) []ProviderConfig {
	g := GoogleDefaults(f.ClientID, f.ClientSecret, "http://app.test/callback/google")
	g.AuthURL = f.URL("/authorize")
	g.TokenURL = f.URL("/token")
	g.UserInfoURL = f.URL("/google/userinfo")

	tw := TwitterDefaults(f.ClientID, f.ClientSecret, "http://app.test/callback/twitter")
	tw.AuthURL = f.URL("/authorize")
	tw.TokenURL = f.URL("/token")
	tw.UserInfoURL = f.URL("/twitter/users/me")
	return []ProviderConfig{g, tw}
}

func newFakeRegistry(t *testing.T, f *testutil.FakeProvider) *Registry {
	t.Helper()
	reg, err := NewRegistry(fakeConfigs(f)...)
	require.NoError(t, err)
	return reg
}
