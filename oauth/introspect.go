package oauth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// jwtExpiry extracts the exp claim from a JWT access token without
// verifying its signature. Verification is the resource server's job; the
// client only needs the expiry to schedule refreshes for providers that
// omit expires_in from the token response.
func jwtExpiry(accessToken string) (time.Time, bool) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(accessToken, claims); err != nil {
		return time.Time{}, false
	}
	expiry, err := claims.GetExpirationTime()
	if err != nil || expiry == nil {
		return time.Time{}, false
	}
	return expiry.Time, true
}
