// Package auth loads the bearer credential presented on CONNECT.
//
// The collaboration server is the authority on credentials. Tokens that parse
// as JWTs are inspected without signature verification, only so the CLI can
// log the subject and refuse a token that has already expired.
package auth

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Errors
var (
	ErrEmptyTokenFile = errors.New("token file is empty")
	ErrExpired        = errors.New("credential expired")
)

// Credentials holds the bearer token and what could be read from it.
type Credentials struct {
	Token     string    // Opaque bearer token, empty for anonymous
	Subject   string    // JWT "sub", if present
	ExpiresAt time.Time // JWT "exp", zero if absent
	JWT       bool      // True if Token parsed as a JWT
}

// LoadCredentials loads the token from token, or from tokenPath when token is
// empty. Neither set yields anonymous credentials.
func LoadCredentials(token, tokenPath string) (*Credentials, error) {
	token = strings.TrimSpace(token)
	if token == "" && tokenPath != "" {
		data, err := os.ReadFile(tokenPath)
		if err != nil {
			return nil, fmt.Errorf("read token file: %w", err)
		}
		token = strings.TrimSpace(string(data))
		if token == "" {
			return nil, fmt.Errorf("%w: %s", ErrEmptyTokenFile, tokenPath)
		}
	}

	return Inspect(token), nil
}

// Inspect reads the subject and expiry from a JWT without verifying it.
// Tokens that are not JWTs are kept as opaque credentials.
func Inspect(token string) *Credentials {
	creds := &Credentials{Token: token}
	if token == "" {
		return creds
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return creds
	}
	creds.JWT = true

	if sub, err := claims.GetSubject(); err == nil {
		creds.Subject = sub
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		creds.ExpiresAt = exp.Time
	}
	return creds
}

// Anonymous reports whether no token is set.
func (c *Credentials) Anonymous() bool {
	return c.Token == ""
}

// Expired reports whether the token carries an expiry at or before now.
func (c *Credentials) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && !now.Before(c.ExpiresAt)
}

// Check returns ErrExpired if the token has expired at now.
func (c *Credentials) Check(now time.Time) error {
	if c.Expired(now) {
		return fmt.Errorf("%w at %s", ErrExpired, c.ExpiresAt.UTC().Format(time.RFC3339))
	}
	return nil
}

// Bearer returns the Authorization header value, or "" when anonymous.
func (c *Credentials) Bearer() string {
	if c.Anonymous() {
		return ""
	}
	return "Bearer " + c.Token
}
