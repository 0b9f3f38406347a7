package auth

import (
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/emergent-company/orchestrator/pkg/apperror"
)

// userIDContextKey is the echo.Context key the Middleware stores the
// authenticated user's subject under.
const userIDContextKey = "auth.userID"

// Middleware extracts and validates the Authorization: Bearer token on
// every request, rejecting with apperror.ErrUnauthorized when it is
// missing or the Zitadel service can't confirm it is active. It first
// tries the token as a locally-signed service token (cheap, no network;
// a no-op unless ServiceTokenSecret is configured), then token
// introspection, then falls back to the userinfo endpoint when
// introspection is disabled or unconfigured (z.cfg.DisableIntrospection or
// no client JWT), matching Introspect's nil,nil "unavailable" contract.
func Middleware(z *ZitadelService) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			token := bearerToken(c.Request().Header.Get(echo.HeaderAuthorization))
			if token == "" {
				return apperror.ErrUnauthorized.ToEchoError()
			}

			if sub, err := VerifyServiceToken(z.cfg.ServiceTokenSecret, token); err == nil {
				c.Set(userIDContextKey, sub)
				return next(c)
			}

			result, err := z.Introspect(c.Request().Context(), token)
			if err != nil {
				return apperror.ErrUnauthorized.WithInternal(err).ToEchoError()
			}

			var userID string
			switch {
			case result != nil:
				if !result.Active {
					return apperror.ErrUnauthorized.ToEchoError()
				}
				userID = result.Sub
			default:
				info, err := z.GetUserInfo(c.Request().Context(), token)
				if err != nil {
					return apperror.ErrUnauthorized.WithInternal(err).ToEchoError()
				}
				userID = info.Sub
			}

			c.Set(userIDContextKey, userID)
			return next(c)
		}
	}
}

// UserID returns the authenticated user's subject stored by Middleware, or
// "" if Middleware has not run on this request.
func UserID(c echo.Context) string {
	userID, _ := c.Get(userIDContextKey).(string)
	return userID
}

func bearerToken(header string) string {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, prefix))
}
