package cookie

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGet(t *testing.T) {
	tests := []struct {
		name     string
		cookie   *http.Cookie
		expected string
	}{
		{
			name:     "returns session ID when cookie exists",
			cookie:   &http.Cookie{Name: SessionCookieName, Value: "sess-12345"},
			expected: "sess-12345",
		},
		{
			name:     "ignores other cookies",
			cookie:   &http.Cookie{Name: "other", Value: "x"},
			expected: "",
		},
		{
			name:     "no cookies",
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.cookie != nil {
				req.AddCookie(tt.cookie)
			}
			assert.Equal(t, tt.expected, Get(req, SessionCookieName))
		})
	}
}

func TestConfig_SetSession(t *testing.T) {
	rec := httptest.NewRecorder()
	NewConfig("shop.example.com", true).SetSession(rec, SessionCookieName, "abc", SessionMaxAge)

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	c := cookies[0]
	assert.Equal(t, SessionCookieName, c.Name)
	assert.Equal(t, "abc", c.Value)
	assert.Equal(t, "shop.example.com", c.Domain)
	assert.Equal(t, "/", c.Path)
	assert.Equal(t, SessionMaxAge, c.MaxAge)
	assert.True(t, c.HttpOnly)
	assert.True(t, c.Secure)
	assert.Equal(t, http.SameSiteLaxMode, c.SameSite)
}

func TestConfig_ClearSession(t *testing.T) {
	rec := httptest.NewRecorder()
	NewConfig("", false).ClearSession(rec, SessionCookieName)

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, "", cookies[0].Value)
	assert.Equal(t, -1, cookies[0].MaxAge)
	assert.Empty(t, cookies[0].Domain)
}
