// ABOUTME: Best-effort token expiry extraction for backend bearer tokens
// ABOUTME: Decodes the exp claim of JWT-shaped tokens without verifying the signature

package auth

import (
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ExpiryExtractor reads an expiry from an opaque token when its format allows.
// ok is false when the token carries no readable expiry.
type ExpiryExtractor interface {
	TryExtractExpiry(token string) (expiresAt time.Time, ok bool)
}

// JWTExpiryExtractor reads the "exp" claim of three-segment JWTs.
// The signature is not checked: the token was issued by the backend and is
// only inspected here to schedule local expiry, never to grant access.
type JWTExpiryExtractor struct {
	parser *jwt.Parser
}

// NewJWTExpiryExtractor creates an extractor for JWT-shaped tokens
func NewJWTExpiryExtractor() *JWTExpiryExtractor {
	return &JWTExpiryExtractor{parser: jwt.NewParser()}
}

// TryExtractExpiry returns the exp claim if the token is a decodable JWT.
func (e *JWTExpiryExtractor) TryExtractExpiry(token string) (time.Time, bool) {
	if strings.Count(token, ".") != 2 {
		return time.Time{}, false
	}

	claims := jwt.MapClaims{}
	if _, _, err := e.parser.ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}

// noExpiry never finds an expiry; every token gets the default lifetime.
type noExpiry struct{}

func (noExpiry) TryExtractExpiry(string) (time.Time, bool) {
	return time.Time{}, false
}
