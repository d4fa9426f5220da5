package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/keygate/keygate/internal/model"
	"github.com/keygate/keygate/internal/session"
)

// SessionHandler serves the /session endpoints that exchange credentials
// for a session cookie and clear it again.
type SessionHandler struct {
	authority    session.PasswordAuthority
	cookieName   string
	secureCookie bool
	loginPath    string
	logger       *slog.Logger
	now          func() time.Time
}

// SessionConfig configures a SessionHandler.
type SessionConfig struct {
	CookieName   string
	SecureCookie bool
	LoginPath    string
	Logger       *slog.Logger
}

// NewSessionHandler creates a new SessionHandler.
func NewSessionHandler(authority session.PasswordAuthority, cfg SessionConfig) *SessionHandler {
	if cfg.CookieName == "" {
		cfg.CookieName = session.DefaultCookieName
	}
	if cfg.LoginPath == "" {
		cfg.LoginPath = "/"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &SessionHandler{
		authority:    authority,
		cookieName:   cfg.CookieName,
		secureCookie: cfg.SecureCookie,
		loginPath:    cfg.LoginPath,
		logger:       cfg.Logger,
		now:          time.Now,
	}
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Success   bool            `json:"success"`
	Token     string          `json:"token"`
	Principal model.Principal `json:"principal"`
}

// Login authenticates with email and password and sets the session cookie.
// POST /session
func (h *SessionHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := readJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "Email and password are required")
		return
	}

	env, err := h.authority.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrInvalidCredentials):
			writeError(w, http.StatusBadRequest, "Invalid email or password")
		case errors.Is(err, session.ErrUnavailable):
			h.logger.Warn("session authority unavailable", "error", err)
			writeError(w, http.StatusServiceUnavailable, "Session authority unavailable")
		default:
			h.logger.Error("login failed", "error", err)
			writeError(w, http.StatusInternalServerError, "Internal server error")
		}
		return
	}

	opts := session.CookieOptions{Name: h.cookieName, Secure: h.secureCookie}
	if exp, ok := session.TokenExpiry(env.Token); ok {
		if ttl := exp.Sub(h.now()); ttl > 0 {
			opts.MaxAge = ttl
		}
	}
	cookie, err := env.Cookie(opts)
	if err != nil {
		h.logger.Error("failed to encode session cookie", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	http.SetCookie(w, cookie)
	w.Header().Set("Cache-Control", "no-store")

	writeJSON(w, http.StatusOK, loginResponse{
		Success:   true,
		Token:     env.Token,
		Principal: env.Principal,
	})
}

// Logout clears the session cookie and sends the browser to the login page.
// DELETE /session
func (h *SessionHandler) Logout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, session.ClearCookie(h.cookieName, h.secureCookie))
	http.Redirect(w, r, h.loginPath, http.StatusSeeOther)
}
