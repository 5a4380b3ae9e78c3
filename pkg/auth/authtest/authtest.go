// Package authtest issues HS256 access tokens for tests and local tooling.
package authtest

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/dodge1218/prompt-intelligence/pkg/auth"
)

// Generator signs tokens shaped like the ones the auth provider issues.
type Generator struct {
	Secret   []byte
	Issuer   string
	Audience []string
	TTL      time.Duration
	Now      func() time.Time
}

// NewGenerator creates a generator.
func NewGenerator(secret, issuer string, audience []string, ttl time.Duration) *Generator {
	return &Generator{
		Secret:   []byte(secret),
		Issuer:   issuer,
		Audience: audience,
		TTL:      ttl,
		Now:      time.Now,
	}
}

// Token issues a token for userID.
func (g *Generator) Token(userID, email string) (string, error) {
	now := g.Now()
	claims := &auth.Claims{
		Email: email,
		Role:  "authenticated",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    g.Issuer,
			Subject:   userID,
			Audience:  g.Audience,
			ExpiresAt: jwt.NewNumericDate(now.Add(g.TTL)),
			NotBefore: jwt.NewNumericDate(now),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        uuid.NewString(),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(g.Secret)
}
