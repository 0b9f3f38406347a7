package auth

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emergent-company/orchestrator/internal/config"
)

func TestBearerToken(t *testing.T) {
	cases := []struct {
		header string
		want   string
	}{
		{"Bearer abc123", "abc123"},
		{"Bearer  abc123  ", "abc123"},
		{"", ""},
		{"Basic abc123", ""},
		{"bearer abc123", ""}, // case-sensitive per RFC 6750
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, bearerToken(tc.header))
	}
}

func TestMiddleware_MissingAuthorizationHeader(t *testing.T) {
	z := NewZitadelService(&config.Config{Auth: config.AuthConfig{DisableIntrospection: true}}, slog.Default())
	mw := Middleware(z)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := mw(func(c echo.Context) error { return c.NoContent(http.StatusOK) })(c)
	require.Error(t, err)

	httpErr, ok := err.(*echo.HTTPError)
	require.True(t, ok)
	assert.Equal(t, http.StatusUnauthorized, httpErr.Code)
}

func TestUserID_NotSet(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	c := e.NewContext(req, httptest.NewRecorder())
	assert.Equal(t, "", UserID(c))
}
