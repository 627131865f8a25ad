package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"
)

// Profile is the authenticated user as returned by the auth endpoints.
type Profile struct {
	ID     string `json:"id"`
	Name   string `json:"name,omitempty"`
	Email  string `json:"email,omitempty"`
	Avatar string `json:"avatar,omitempty"`
}

// Credential is the access/refresh token pair for the current session.
type Credential struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time // zero when the access token is opaque
	User         *Profile
}

// Valid reports whether the credential carries an access token that is not
// known to expire within skew.
func (c Credential) Valid(skew time.Duration) bool {
	if c.AccessToken == "" {
		return false
	}
	if c.ExpiresAt.IsZero() {
		return true
	}
	return time.Now().Add(skew).Before(c.ExpiresAt)
}

// tokenExpiry reads the exp claim of a JWT access token without verifying its
// signature. The server remains the authority; this only feeds diagnostics.
func tokenExpiry(accessToken string) time.Time {
	if accessToken == "" {
		return time.Time{}
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(accessToken, claims); err != nil {
		log.Debug().Err(err).Msg("Access token is not a JWT; expiry unknown")
		return time.Time{}
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}
