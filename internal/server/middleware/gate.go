package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/keygate/keygate/internal/metrics"
	"github.com/keygate/keygate/internal/model"
	"github.com/keygate/keygate/internal/session"
)

// Identity headers set on requests that pass the gate. Downstream handlers
// may display them but must not treat them as authorization.
const (
	HeaderUserID    = "X-User-Id"
	HeaderUserEmail = "X-User-Email"
)

// DefaultProtectedPrefixes are the page routes gated when none are configured.
var DefaultProtectedPrefixes = []string{"/dashboard", "/admin", "/user"}

type contextKeyGate string

// GatePrincipalKey is the context key for the principal the gate admitted.
const GatePrincipalKey contextKeyGate = "gate_principal"

// GateConfig configures SessionGate.
type GateConfig struct {
	CookieName        string
	LoginPath         string
	ProtectedPrefixes []string
	// Authority, when set, is consulted on every gated request after the
	// local checks pass. Any error redirects.
	Authority session.Authority
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
	Now       func() time.Time
}

func (c *GateConfig) defaults() {
	if c.CookieName == "" {
		c.CookieName = session.DefaultCookieName
	}
	if c.LoginPath == "" {
		c.LoginPath = "/"
	}
	if c.ProtectedPrefixes == nil {
		c.ProtectedPrefixes = DefaultProtectedPrefixes
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// SessionGate returns middleware that redirects requests for protected
// page routes to the login path unless they carry a usable session cookie.
// It is a navigation convenience: API handlers re-validate bearer tokens
// themselves. Client-supplied identity headers are stripped from every
// request, gated or not.
func SessionGate(cfg GateConfig) func(http.Handler) http.Handler {
	cfg.defaults()
	logger := cfg.Logger.With("component", "gate")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Header.Del(HeaderUserID)
			r.Header.Del(HeaderUserEmail)

			if !cfg.protects(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			p, reason := cfg.admit(r)
			if reason != "" {
				cfg.Metrics.GateDecision("redirect_" + reason)
				logger.DebugContext(r.Context(), "gate redirect",
					"path", r.URL.Path,
					"reason", reason,
					"request_id", GetRequestID(r.Context()),
				)
				http.Redirect(w, r, cfg.LoginPath, http.StatusTemporaryRedirect)
				return
			}

			cfg.Metrics.GateDecision("pass")
			if p.ID != "" {
				r.Header.Set(HeaderUserID, p.ID)
			}
			if p.Email != "" {
				r.Header.Set(HeaderUserEmail, p.Email)
			}
			ctx := context.WithValue(r.Context(), GatePrincipalKey, p)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func (c *GateConfig) protects(path string) bool {
	if path == c.LoginPath {
		return false
	}
	for _, prefix := range c.ProtectedPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// admit runs the gate checks in order and returns the admitted principal,
// or a non-empty reason for the redirect.
func (c *GateConfig) admit(r *http.Request) (model.Principal, string) {
	cookie, err := r.Cookie(c.CookieName)
	if err != nil || cookie.Value == "" {
		return model.Principal{}, "no_cookie"
	}

	env, err := session.ParseEnvelope(cookie.Value)
	if err != nil {
		return model.Principal{}, "malformed"
	}

	if session.TokenExpired(env.Token, c.Now()) {
		return model.Principal{}, "expired"
	}

	if c.Authority == nil {
		return env.Principal, ""
	}

	p, err := c.Authority.Verify(r.Context(), env.Token)
	if err != nil || p == nil {
		return model.Principal{}, "rejected"
	}
	return *p, ""
}

// GetGatePrincipal returns the principal the gate admitted, if any. The
// value is advisory unless the gate was configured with an Authority.
func GetGatePrincipal(ctx context.Context) (model.Principal, bool) {
	p, ok := ctx.Value(GatePrincipalKey).(model.Principal)
	return p, ok
}
