package backend

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// StaticCredentials is a fixed bearer token and classroom id.
// It implements recorder.SessionContext.
type StaticCredentials struct {
	Token     string
	Classroom string

	// Now is used for the expiry check; defaults to time.Now
	Now func() time.Time
}

// BearerToken returns the token, or "" when it is a JWT whose exp claim has passed.
// Opaque tokens are returned unchanged.
func (c *StaticCredentials) BearerToken() string {
	if c.Token == "" || TokenExpired(c.Token, c.now()) {
		return ""
	}
	return c.Token
}

func (c *StaticCredentials) ClassroomID() string {
	return c.Classroom
}

func (c *StaticCredentials) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

// TokenExpired reports whether token is a JWT with an exp claim at or before now.
// The signature is not verified; the backend remains the authority on validity.
func TokenExpired(token string, now time.Time) bool {
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return false
	}
	if claims.ExpiresAt == nil {
		return false
	}
	return !now.Before(claims.ExpiresAt.Time)
}
