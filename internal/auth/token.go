// Package auth provides token issuance/verification and credential
// checking for the chat relay. Tokens are HS256-signed JWTs carrying the
// identity in the subject claim; credentials are bcrypt hashes stored in
// the relational store.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token verification errors.
var (
	// ErrTokenInvalid is returned for malformed tokens, signature
	// mismatches, and unexpected signing algorithms.
	ErrTokenInvalid = errors.New("invalid token")

	// ErrTokenExpired is returned when the token's expiry has passed.
	ErrTokenExpired = errors.New("token expired")
)

// Codec issues and verifies bearer tokens. It is stateless apart from
// the signing secret and default expiry fixed at construction.
type Codec struct {
	secret []byte
	expiry time.Duration
}

// NewCodec creates a token codec. The secret must be at least 32
// characters; expiry is the default TTL used by IssueDefault.
func NewCodec(secret string, expiry time.Duration) (*Codec, error) {
	if len(secret) < 32 {
		return nil, fmt.Errorf("signing secret must be at least 32 characters")
	}
	return &Codec{secret: []byte(secret), expiry: expiry}, nil
}

// DefaultExpiry returns the codec's default token TTL.
func (c *Codec) DefaultExpiry() time.Duration {
	return c.expiry
}

// Issue produces a signed token binding identity for the given TTL.
func (c *Codec) Issue(identity string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   identity,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		Issuer:    "chatrelay",
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(c.secret)
}

// IssueDefault produces a signed token with the codec's default TTL.
func (c *Codec) IssueDefault(identity string) (string, error) {
	return c.Issue(identity, c.expiry)
}

// Verify validates a token and returns the identity it binds.
// The context is honored so callers can bound verification time even
// when a future implementation talks to a remote verifier.
func (c *Codec) Verify(ctx context.Context, tokenString string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if tokenString == "" {
		return "", ErrTokenInvalid
	}

	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return c.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrTokenExpired
		}
		return "", ErrTokenInvalid
	}
	if !token.Valid || claims.Subject == "" {
		return "", ErrTokenInvalid
	}

	return claims.Subject, nil
}
