package auth

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// serviceTokenClaims is the payload of a locally-signed service token.
// Sub identifies the calling service (e.g. "scheduler", "ci").
type serviceTokenClaims struct {
	jwt.RegisteredClaims
}

// VerifyServiceToken validates a locally-signed HS256 token against secret
// and returns its subject. Used as a network-free alternative to Zitadel
// introspection for trusted internal callers; returns an error for any
// opaque (non-JWT) token, so it's safe to try before falling back to
// introspection.
func VerifyServiceToken(secret, tokenString string) (string, error) {
	if secret == "" {
		return "", errors.New("service token auth not configured")
	}

	claims := &serviceTokenClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return "", fmt.Errorf("parse service token: %w", err)
	}
	if !token.Valid {
		return "", errors.New("service token not valid")
	}
	if claims.Subject == "" {
		return "", errors.New("service token missing subject")
	}
	return claims.Subject, nil
}
