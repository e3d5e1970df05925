// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

// Package identity issues and verifies bearer tokens and carries the
// authenticated user through request contexts.
package identity

import (
	"context"
	"time"

	"github.com/golang-jwt/jwt/v5"

	huddleerr "github.com/sigil-dev/huddle/pkg/errors"
)

// DefaultTokenTTL is the lifetime of issued tokens.
const DefaultTokenTTL = 24 * time.Hour

const issuer = "huddle"

// Claims is the JWT payload.
type Claims struct {
	UserID string `json:"uid"`
	jwt.RegisteredClaims
}

// Tokens signs and verifies HS256 tokens with a shared secret.
type Tokens struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// TokenOption configures Tokens.
type TokenOption func(*Tokens)

// WithTTL sets the lifetime of issued tokens.
func WithTTL(d time.Duration) TokenOption {
	return func(t *Tokens) { t.ttl = d }
}

// WithClock overrides time.Now for issuing and verifying.
func WithClock(now func() time.Time) TokenOption {
	return func(t *Tokens) { t.now = now }
}

// NewTokens creates a signer for secret.
func NewTokens(secret string, opts ...TokenOption) (*Tokens, error) {
	if secret == "" {
		return nil, huddleerr.New(huddleerr.CodeAuthTokenIssueFailure, "token secret is required")
	}
	t := &Tokens{secret: []byte(secret), ttl: DefaultTokenTTL, now: time.Now}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// Issue signs a token for userID.
func (t *Tokens) Issue(userID string) (string, error) {
	if userID == "" {
		return "", huddleerr.New(huddleerr.CodeAuthTokenIssueFailure, "user ID is required")
	}
	now := t.now()
	claims := Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", huddleerr.Wrap(err, huddleerr.CodeAuthTokenIssueFailure, "signing token",
			huddleerr.FieldUserID(userID),
		)
	}
	return signed, nil
}

// Verify checks signature, issuer and expiry, and returns the user ID.
func (t *Tokens) Verify(token string) (string, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return t.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil {
		return "", huddleerr.Wrap(err, huddleerr.CodeAuthTokenUnauthorized, "invalid token")
	}
	if claims.UserID == "" {
		return "", huddleerr.New(huddleerr.CodeAuthTokenUnauthorized, "token has no user")
	}
	return claims.UserID, nil
}

type userKey struct{}

// WithUser returns a context carrying userID.
func WithUser(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userKey{}, userID)
}

// UserFrom returns the user carried by ctx.
func UserFrom(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(userKey{}).(string)
	return id, ok && id != ""
}

// Subject reads the user ID from token without checking the signature.
// Clients use it to label a stored session; only the gateway's Verify is
// authoritative.
func Subject(token string) (string, error) {
	var claims Claims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return "", huddleerr.Wrap(err, huddleerr.CodeAuthTokenUnauthorized, "malformed token")
	}
	if claims.UserID == "" {
		return "", huddleerr.New(huddleerr.CodeAuthTokenUnauthorized, "token has no user")
	}
	return claims.UserID, nil
}
