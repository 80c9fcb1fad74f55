// Package cookie sets and reads the storefront session cookie.
package cookie

import (
	"net/http"
	"time"
)

// SessionCookieName carries the anonymous cart session ID.
const SessionCookieName = "brokkr_session"

// SessionMaxAge keeps a guest cart for thirty days of inactivity.
const SessionMaxAge = 30 * 24 * 60 * 60

// Config holds cookie scoping.
type Config struct {
	// Domain scopes cookies, e.g. "shop.example.com". Empty means host-only.
	Domain string

	// Secure requires HTTPS. True in production.
	Secure bool
}

func NewConfig(domain string, secure bool) *Config {
	return &Config{Domain: domain, Secure: secure}
}

func (c *Config) cookie(name, value string) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Domain:   c.Domain,
		Path:     "/",
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: http.SameSiteLaxMode,
	}
}

// SetSession writes an HttpOnly, SameSite=Lax cookie valid for maxAge seconds.
func (c *Config) SetSession(w http.ResponseWriter, name, value string, maxAge int) {
	ck := c.cookie(name, value)
	ck.MaxAge = maxAge
	http.SetCookie(w, ck)
}

// SetSessionWithExpiry is SetSession with an absolute expiry instead of MaxAge.
func (c *Config) SetSessionWithExpiry(w http.ResponseWriter, name, value string, expires time.Time) {
	ck := c.cookie(name, value)
	ck.Expires = expires
	http.SetCookie(w, ck)
}

// ClearSession expires the cookie. Domain and path must match the original.
func (c *Config) ClearSession(w http.ResponseWriter, name string) {
	ck := c.cookie(name, "")
	ck.MaxAge = -1
	http.SetCookie(w, ck)
}

// Get returns the cookie value, or "" when the cookie is absent.
func Get(r *http.Request, name string) string {
	ck, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return ck.Value
}
