package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/keygate/keygate/internal/model"
)

// DefaultCookieName is the cookie the PocketBase JS SDK writes.
const DefaultCookieName = "pb_auth"

// Envelope is the client-held session: a token and a cached principal. The
// principal is advisory; only the token is authoritative.
type Envelope struct {
	Token     string          `json:"token"`
	Principal model.Principal `json:"model"`
}

type rawEnvelope struct {
	Token  string           `json:"token"`
	Model  *model.Principal `json:"model"`
	Record *model.Principal `json:"record"`
}

// ParseEnvelope decodes a cookie value. Values may be URL-encoded. An
// envelope without a token is an error.
func ParseEnvelope(value string) (*Envelope, error) {
	if value == "" {
		return nil, errors.New("empty session cookie")
	}
	if strings.Contains(value, "%") {
		if decoded, err := url.QueryUnescape(value); err == nil {
			value = decoded
		}
	}

	var raw rawEnvelope
	if err := json.Unmarshal([]byte(value), &raw); err != nil {
		return nil, fmt.Errorf("decode session cookie: %w", err)
	}
	if raw.Token == "" {
		return nil, errors.New("session cookie has no token")
	}

	env := &Envelope{Token: raw.Token}
	switch {
	case raw.Model != nil:
		env.Principal = *raw.Model
	case raw.Record != nil:
		env.Principal = *raw.Record
	}
	return env, nil
}

// Encode returns the URL-encoded JSON form stored in the cookie.
func (e *Envelope) Encode() (string, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("encode session cookie: %w", err)
	}
	return url.QueryEscape(string(b)), nil
}

// CookieOptions controls how the session cookie is written.
type CookieOptions struct {
	Name   string
	Secure bool
	MaxAge time.Duration
}

// Cookie builds the session cookie for e.
func (e *Envelope) Cookie(opts CookieOptions) (*http.Cookie, error) {
	value, err := e.Encode()
	if err != nil {
		return nil, err
	}
	name := opts.Name
	if name == "" {
		name = DefaultCookieName
	}
	c := &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   opts.Secure,
		SameSite: http.SameSiteStrictMode,
	}
	if opts.MaxAge > 0 {
		c.MaxAge = int(opts.MaxAge.Seconds())
	}
	return c, nil
}

// ClearCookie returns a cookie that deletes the named session cookie.
func ClearCookie(name string, secure bool) *http.Cookie {
	if name == "" {
		name = DefaultCookieName
	}
	return &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteStrictMode,
	}
}
