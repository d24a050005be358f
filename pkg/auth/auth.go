package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/runnerx/runnerx/pkg/types"
)

var (
	// ErrEmptyCredential is returned for a blank token
	ErrEmptyCredential = errors.New("credential is empty")
	// ErrExpiredCredential is returned for a JWT whose exp is in the past
	ErrExpiredCredential = errors.New("credential has expired")
)

// Claims is what the client reads from a credential
type Claims struct {
	Subject   string
	ExpiresAt time.Time
	IssuedAt  time.Time
	// Opaque is true when the token is not a JWT
	Opaque bool
}

// Expired reports whether the credential expired at or before now.
// Credentials without a known expiry never report expired.
func (c Claims) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && !now.Before(c.ExpiresAt)
}

// Inspect reads the claims of token without verifying its signature
func Inspect(token string) (Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Claims{}, ErrEmptyCredential
	}
	if strings.Count(token, ".") != 2 {
		return Claims{Opaque: true}, nil
	}

	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return Claims{}, fmt.Errorf("failed to parse credential: %w", err)
	}
	mc, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return Claims{}, fmt.Errorf("failed to parse credential: unexpected claims type")
	}

	claims := Claims{Subject: subject(mc)}
	if exp, err := mc.GetExpirationTime(); err == nil && exp != nil {
		claims.ExpiresAt = exp.Time
	}
	if iat, err := mc.GetIssuedAt(); err == nil && iat != nil {
		claims.IssuedAt = iat.Time
	}
	return claims, nil
}

// Check inspects token and fails when it has expired at now
func Check(token string, now time.Time) (Claims, error) {
	claims, err := Inspect(token)
	if err != nil {
		return Claims{}, err
	}
	if claims.Expired(now) {
		return claims, fmt.Errorf("%w at %s", ErrExpiredCredential, claims.ExpiresAt.Format(time.RFC3339))
	}
	return claims, nil
}

// subject prefers the registered sub claim and falls back to user_id,
// which the RunnerX backend issues
func subject(mc jwt.MapClaims) string {
	if sub, err := mc.GetSubject(); err == nil && sub != "" {
		return sub
	}
	if id, ok := types.FormatID(mc["user_id"]); ok {
		return id
	}
	return ""
}
