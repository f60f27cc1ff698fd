package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrNoSubject = errors.New("token carries no user id")

// Claims is what the client reads from the session token issued by the
// booking API. The signature is not checked.
type Claims struct {
	UserID    string
	Role      string
	ExpiresAt time.Time
}

// Inspect decodes token without verifying it. The user id is taken from
// the first non-empty of the "id", "userId" and "sub" claims.
func Inspect(token string) (Claims, error) {
	mc := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, mc); err != nil {
		return Claims{}, fmt.Errorf("malformed token: %w", err)
	}

	var c Claims
	for _, key := range []string{"id", "userId", "sub"} {
		if s, ok := mc[key].(string); ok && s != "" {
			c.UserID = s
			break
		}
	}
	if c.UserID == "" {
		return Claims{}, ErrNoSubject
	}
	if role, ok := mc["role"].(string); ok {
		c.Role = role
	}

	exp, err := mc.GetExpirationTime()
	if err != nil {
		return Claims{}, fmt.Errorf("malformed token expiry: %w", err)
	}
	if exp != nil {
		c.ExpiresAt = exp.Time
	}

	return c, nil
}
