// Package auth issues and verifies the signed tokens that tie a WebSocket
// session or an HTTP request to a user identity. Tokens are HS256 JWTs with
// the user id and role as claims; verification is stateless.
package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Roles a user can hold. Admins may moderate topics and users.
const (
	RoleMember = "member"
	RoleAdmin  = "admin"
)

// ErrInvalidToken covers every verification failure: malformed, expired,
// bad signature, wrong algorithm. The connection stays open; the session
// simply remains unauthenticated.
var ErrInvalidToken = errors.New("auth: invalid token")

// Identity is the authenticated principal derived from a token. It is
// immutable for the lifetime of a session.
type Identity struct {
	ID    int64
	Email string
	Role  string
}

// IsAdmin reports whether the identity holds the admin role.
func (id Identity) IsAdmin() bool {
	return id.Role == RoleAdmin
}

type claims struct {
	Email string `json:"email,omitempty"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

// Tokens signs and verifies identity tokens with a shared HMAC secret.
type Tokens struct {
	secret []byte
	ttl    time.Duration
}

// NewTokens creates a Tokens helper. ttl bounds the lifetime of newly
// issued tokens; verification honours whatever expiry a token carries.
func NewTokens(secret []byte, ttl time.Duration) *Tokens {
	return &Tokens{secret: secret, ttl: ttl}
}

// Sign issues a token for the identity.
func (t *Tokens) Sign(id Identity) (string, error) {
	now := time.Now()
	c := claims{
		Email: id.Email,
		Role:  id.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   fmt.Sprintf("%d", id.ID),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	signed, err := token.SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, nil
}

// Verify checks the token's signature and expiry and returns the identity
// it encodes. All failures are reported as ErrInvalidToken.
func (t *Tokens) Verify(tokenString string) (Identity, error) {
	var c claims
	_, err := jwt.ParseWithClaims(tokenString, &c, func(*jwt.Token) (interface{}, error) {
		return t.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	userID, err := strconv.ParseInt(c.Subject, 10, 64)
	if err != nil || userID <= 0 {
		return Identity{}, fmt.Errorf("%w: bad subject %q", ErrInvalidToken, c.Subject)
	}

	role := c.Role
	if role == "" {
		role = RoleMember
	}

	return Identity{ID: userID, Email: c.Email, Role: role}, nil
}
