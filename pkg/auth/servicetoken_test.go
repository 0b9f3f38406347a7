package auth

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emergent-company/orchestrator/internal/config"
)

func signServiceToken(t *testing.T, secret, subject string, expiresIn time.Duration) string {
	t.Helper()
	claims := serviceTokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiresIn)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestVerifyServiceToken_ValidToken(t *testing.T) {
	secret := "test-secret"
	token := signServiceToken(t, secret, "scheduler", time.Hour)

	sub, err := VerifyServiceToken(secret, token)
	require.NoError(t, err)
	assert.Equal(t, "scheduler", sub)
}

func TestVerifyServiceToken_NotConfigured(t *testing.T) {
	_, err := VerifyServiceToken("", "anything")
	require.Error(t, err)
}

func TestVerifyServiceToken_WrongSecret(t *testing.T) {
	token := signServiceToken(t, "correct-secret", "scheduler", time.Hour)

	_, err := VerifyServiceToken("wrong-secret", token)
	require.Error(t, err)
}

func TestVerifyServiceToken_Expired(t *testing.T) {
	secret := "test-secret"
	token := signServiceToken(t, secret, "scheduler", -time.Hour)

	_, err := VerifyServiceToken(secret, token)
	require.Error(t, err)
}

func TestVerifyServiceToken_OpaqueToken(t *testing.T) {
	_, err := VerifyServiceToken("test-secret", "opaque-zitadel-token")
	require.Error(t, err)
}

func TestMiddleware_ServiceTokenBypassesZitadel(t *testing.T) {
	secret := "test-secret"
	z := NewZitadelService(&config.Config{
		Auth: config.AuthConfig{DisableIntrospection: true, ServiceTokenSecret: secret},
	}, slog.Default())
	mw := Middleware(z)

	token := signServiceToken(t, secret, "ci", time.Hour)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	var gotUserID string
	err := mw(func(c echo.Context) error {
		gotUserID = UserID(c)
		return c.NoContent(http.StatusOK)
	})(c)

	require.NoError(t, err)
	assert.Equal(t, "ci", gotUserID)
}
