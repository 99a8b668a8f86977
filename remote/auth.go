package remote

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenExpired inspects the cached bearer token's exp claim without
// verifying the signature (the server is the verifier; this is a local
// pre-check so the engine can halt before burning a request on a 401).
// Tokens that cannot be parsed are treated as expired.
func TokenExpired(token string, now time.Time) bool {
	parser := jwt.NewParser(jwt.WithoutClaimsValidation())
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return true
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return true
	}
	return !now.Before(exp.Time)
}
