// cookie.go -- Session cookie encoding.
//
// The cookie carries the raw 256-bit session token, encrypted (AES) and
// signed (HMAC) with server-held keys. Only SHA-256(token) is stored server-side.
package auth

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/securecookie"
)

// ErrNoSessionCookie is returned by ReadToken when the request carries no session cookie.
// Any other ReadToken error means a cookie was present but unusable.
var ErrNoSessionCookie = errors.New("no session cookie")

// CookieCodec builds, reads, and clears the session cookie.
type CookieCodec struct {
	name   string
	secure bool
	sc     *securecookie.SecureCookie
}

// NewCookieCodec returns a codec for the named cookie.
// hashKey should be 32 or 64 bytes; blockKey must be 16, 24, or 32 bytes.
// Keys must be stable across restarts or every issued session becomes unreadable.
func NewCookieCodec(name string, hashKey, blockKey []byte, secure bool) *CookieCodec {
	sc := securecookie.New(hashKey, blockKey).
		SetSerializer(securecookie.NopEncoder{}).
		// Expiry is enforced by the server-side session row, not the cookie timestamp.
		MaxAge(0)
	return &CookieCodec{name: name, secure: secure, sc: sc}
}

// Name returns the cookie name.
func (c *CookieCodec) Name() string { return c.name }

// SessionCookie encodes token into a cookie living for ttl. token is not modified.
func (c *CookieCodec) SessionCookie(token []byte, ttl time.Duration) (*http.Cookie, error) {
	// NopEncoder hands the slice straight to the cipher, which encrypts in place.
	value, err := c.sc.Encode(c.name, bytes.Clone(token))
	if err != nil {
		return nil, fmt.Errorf("encoding session cookie: %w", err)
	}
	return &http.Cookie{
		Name:     c.name,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   c.secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(ttl.Seconds()),
	}, nil
}

// ClearCookie returns a removal instruction with the same name, path, and flags.
func (c *CookieCodec) ClearCookie() *http.Cookie {
	return &http.Cookie{
		Name:     c.name,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   c.secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	}
}

// ReadToken returns the raw session token from r.
// Returns ErrNoSessionCookie when absent; other errors mean tampered, foreign-key, or malformed cookies.
func (c *CookieCodec) ReadToken(r *http.Request) ([]byte, error) {
	cookie, err := r.Cookie(c.name)
	if err != nil {
		return nil, ErrNoSessionCookie
	}
	var token []byte
	if err := c.sc.Decode(c.name, cookie.Value, &token); err != nil {
		return nil, fmt.Errorf("decoding session cookie: %w", err)
	}
	if len(token) != sessionTokenBytes {
		return nil, fmt.Errorf("session token has %d bytes, want %d", len(token), sessionTokenBytes)
	}
	return token, nil
}
