package session

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenInfo describes what can be read from a token without verifying it.
type TokenInfo struct {
	JWT       bool      `json:"jwt"`
	Subject   string    `json:"subject,omitempty"`
	ExpiresAt time.Time `json:"expiresAt,omitempty"`
	Expired   bool      `json:"expired"`
}

// Inspect decodes a JWT's claims without checking its signature. It is for
// diagnostics only; the backend remains the authority on validity.
// Placeholder tokens from message-only logins are reported as non-JWT.
func Inspect(token string, now time.Time) TokenInfo {
	if token == "" {
		return TokenInfo{}
	}
	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return TokenInfo{}
	}

	info := TokenInfo{JWT: true}
	if sub, err := parsed.Claims.GetSubject(); err == nil {
		info.Subject = sub
	}
	if exp, err := parsed.Claims.GetExpirationTime(); err == nil && exp != nil {
		info.ExpiresAt = exp.Time
		info.Expired = !now.Before(exp.Time)
	}
	return info
}
