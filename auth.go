package chatsession

import (
	"context"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// CredentialRefresher returns a fresh bearer credential. It is called when
// the server reports token_expired, when a handshake is rejected, and before
// dialing with a credential that has already expired.
type CredentialRefresher func(ctx context.Context) (string, error)

// TokenExpiry reads the exp claim of a JWT without verifying its signature.
// Opaque tokens report false.
func TokenExpiry(token string) (time.Time, bool) {
	if token == "" {
		return time.Time{}, false
	}
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return time.Time{}, false
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}

// tokenExpired reports whether token is a JWT whose exp is not after now.
func tokenExpired(token string, now time.Time) bool {
	exp, ok := TokenExpiry(token)
	return ok && !exp.After(now)
}

func bearer(token string) string {
	return "Bearer " + token
}
