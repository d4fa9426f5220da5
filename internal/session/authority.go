// Package session verifies bearer tokens against a session authority and
// reads the session cookie that browsers carry between page loads.
package session

import (
	"context"
	"errors"
	"strings"

	"github.com/keygate/keygate/internal/model"
)

var (
	// ErrInvalidToken means the authority rejected the token.
	ErrInvalidToken = errors.New("invalid or expired token")
	// ErrInvalidCredentials means a password login was refused.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrUnavailable means the authority could not be reached or answered
	// with something other than a verdict.
	ErrUnavailable = errors.New("session authority unavailable")
)

// Authority is the source of truth for session validity. Verify must be
// safe for concurrent use.
type Authority interface {
	Verify(ctx context.Context, token string) (*model.Principal, error)
}

// PasswordAuthority is an Authority that can also exchange an
// email/password pair for a session.
type PasswordAuthority interface {
	Authority
	Login(ctx context.Context, email, password string) (*Envelope, error)
}

// ParseBearer extracts the token from an Authorization header value of the
// form "Bearer <token>". The scheme is matched case-insensitively.
func ParseBearer(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	if token == "" || strings.ContainsAny(token, " \t") {
		return "", false
	}
	return token, true
}
