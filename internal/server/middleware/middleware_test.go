package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"

	"github.com/keygate/keygate/internal/metrics"
	"github.com/keygate/keygate/internal/model"
	"github.com/keygate/keygate/internal/service"
	"github.com/keygate/keygate/internal/session"
)

// ---------------------------------------------------------------------------
// RequestID middleware tests
// ---------------------------------------------------------------------------

func TestRequestIDGeneratesUUID(t *testing.T) {
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := GetRequestID(r.Context())
		if id == "" {
			t.Error("expected non-empty request ID in context")
		}
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/test", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	respID := rr.Header().Get("X-Request-ID")
	if respID == "" {
		t.Error("expected X-Request-ID in response header")
	}
	// UUID v7 format check: 36 chars with dashes
	if len(respID) != 36 {
		t.Errorf("expected UUID-length request ID, got %q (len=%d)", respID, len(respID))
	}
}

func TestRequestIDPreservesClientID(t *testing.T) {
	clientID := "my-custom-trace-id-123"

	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := GetRequestID(r.Context())
		if id != clientID {
			t.Errorf("expected context ID %q, got %q", clientID, id)
		}
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/test", nil)
	req.Header.Set("X-Request-ID", clientID)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	respID := rr.Header().Get("X-Request-ID")
	if respID != clientID {
		t.Errorf("expected response X-Request-ID %q, got %q", clientID, respID)
	}
}

func TestRequestIDReplacesUnsafeClientID(t *testing.T) {
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	for _, bad := range []string{strings.Repeat("x", 200), "has space"} {
		req := httptest.NewRequest("GET", "/test", nil)
		req.Header.Set("X-Request-ID", bad)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		if got := rr.Header().Get("X-Request-ID"); got == bad || len(got) != 36 {
			t.Errorf("unsafe id %q was kept or not replaced: %q", bad, got)
		}
	}
}

func TestGetRequestIDEmptyContext(t *testing.T) {
	id := GetRequestID(context.Background())
	if id != "" {
		t.Errorf("expected empty string from bare context, got %q", id)
	}
}

// ---------------------------------------------------------------------------
// SessionGate tests
// ---------------------------------------------------------------------------

func token(t *testing.T, exp time.Time) string {
	t.Helper()
	claims := jwt.MapClaims{"id": "u1"}
	if !exp.IsZero() {
		claims["exp"] = exp.Unix()
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("k"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return s
}

func envelopeCookie(t *testing.T, tok string) *http.Cookie {
	t.Helper()
	env := &session.Envelope{Token: tok, Principal: model.Principal{ID: "u1", Email: "u1@example.com"}}
	c, err := env.Cookie(session.CookieOptions{})
	if err != nil {
		t.Fatalf("Cookie: %v", err)
	}
	return c
}

type gateAuthority struct {
	err   error
	calls int
}

func (a *gateAuthority) Verify(_ context.Context, _ string) (*model.Principal, error) {
	a.calls++
	if a.err != nil {
		return nil, a.err
	}
	return &model.Principal{ID: "live", Email: "live@example.com"}, nil
}

func gateHandler(t *testing.T, cfg GateConfig, sawID *string) http.Handler {
	t.Helper()
	return SessionGate(cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if sawID != nil {
			*sawID = r.Header.Get(HeaderUserID)
		}
		w.WriteHeader(http.StatusOK)
	}))
}

func TestSessionGateRedirects(t *testing.T) {
	now := time.Now()
	m := metrics.New()
	h := gateHandler(t, GateConfig{Metrics: m}, nil)

	tests := []struct {
		name   string
		cookie *http.Cookie
	}{
		{"missing cookie", nil},
		{"malformed json", &http.Cookie{Name: "pb_auth", Value: "{not json"}},
		{"missing token", &http.Cookie{Name: "pb_auth", Value: url.QueryEscape(`{"model":{"id":"u1"}}`)}},
		{"expired token", envelopeCookie(t, token(t, now.Add(-time.Minute)))},
		{"garbage token", envelopeCookie(t, "garbage")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/dashboard/settings", nil)
			if tt.cookie != nil {
				req.AddCookie(tt.cookie)
			}
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)

			if rr.Code != http.StatusTemporaryRedirect {
				t.Fatalf("status = %d, want 307", rr.Code)
			}
			if loc := rr.Header().Get("Location"); loc != "/" {
				t.Errorf("Location = %q, want /", loc)
			}
		})
	}
}

func TestSessionGatePasses(t *testing.T) {
	var sawID string
	h := gateHandler(t, GateConfig{}, &sawID)

	for _, tok := range []string{token(t, time.Now().Add(time.Hour)), token(t, time.Time{})} {
		req := httptest.NewRequest("GET", "/admin", nil)
		req.AddCookie(envelopeCookie(t, tok))
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rr.Code)
		}
		if sawID != "u1" {
			t.Errorf("X-User-Id = %q, want u1", sawID)
		}
	}
}

func TestSessionGateIgnoresUnprotectedPaths(t *testing.T) {
	h := gateHandler(t, GateConfig{}, nil)

	for _, path := range []string{"/", "/login", "/api-keys", "/public/dashboard"} {
		req := httptest.NewRequest("GET", path, nil)
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		if rr.Code != http.StatusOK {
			t.Errorf("%s: status = %d, want 200", path, rr.Code)
		}
	}
}

func TestSessionGateLoginPathNeverLoops(t *testing.T) {
	h := gateHandler(t, GateConfig{LoginPath: "/user/login"}, nil)

	req := httptest.NewRequest("GET", "/user/login", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Errorf("login path status = %d, want 200", rr.Code)
	}

	req = httptest.NewRequest("GET", "/user/profile", nil)
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if loc := rr.Header().Get("Location"); loc != "/user/login" {
		t.Errorf("Location = %q, want /user/login", loc)
	}
}

func TestSessionGateStripsSpoofedHeaders(t *testing.T) {
	var sawID string
	h := gateHandler(t, GateConfig{}, &sawID)

	req := httptest.NewRequest("GET", "/public", nil)
	req.Header.Set(HeaderUserID, "admin")
	req.Header.Set(HeaderUserEmail, "root@example.com")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if sawID != "" {
		t.Errorf("spoofed X-User-Id reached the handler: %q", sawID)
	}
}

func TestSessionGateLiveCheck(t *testing.T) {
	valid := envelopeCookie(t, token(t, time.Now().Add(time.Hour)))

	t.Run("authority admits", func(t *testing.T) {
		auth := &gateAuthority{}
		var sawID string
		h := gateHandler(t, GateConfig{Authority: auth}, &sawID)

		req := httptest.NewRequest("GET", "/dashboard", nil)
		req.AddCookie(valid)
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rr.Code)
		}
		if sawID != "live" {
			t.Errorf("X-User-Id = %q, want the authority's principal", sawID)
		}
	})

	for _, err := range []error{session.ErrInvalidToken, session.ErrUnavailable} {
		t.Run(err.Error(), func(t *testing.T) {
			auth := &gateAuthority{err: err}
			h := gateHandler(t, GateConfig{Authority: auth}, nil)

			req := httptest.NewRequest("GET", "/dashboard", nil)
			req.AddCookie(valid)
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)

			if rr.Code != http.StatusTemporaryRedirect {
				t.Errorf("status = %d, want 307", rr.Code)
			}
		})
	}

	t.Run("expired token skips authority", func(t *testing.T) {
		auth := &gateAuthority{}
		h := gateHandler(t, GateConfig{Authority: auth}, nil)

		req := httptest.NewRequest("GET", "/dashboard", nil)
		req.AddCookie(envelopeCookie(t, token(t, time.Now().Add(-time.Hour))))
		h.ServeHTTP(httptest.NewRecorder(), req)
		if auth.calls != 0 {
			t.Errorf("authority called %d times for an expired token", auth.calls)
		}
	})
}

func TestGetGatePrincipal(t *testing.T) {
	if _, ok := GetGatePrincipal(context.Background()); ok {
		t.Error("expected no principal in bare context")
	}
	ctx := context.WithValue(context.Background(), GatePrincipalKey, model.Principal{ID: "u1"})
	if p, ok := GetGatePrincipal(ctx); !ok || p.ID != "u1" {
		t.Errorf("GetGatePrincipal = %+v, %v", p, ok)
	}
}

// ---------------------------------------------------------------------------
// RequireAPIKey tests
// ---------------------------------------------------------------------------

type stubVerifier struct {
	key *model.StoredKey
	err error
}

func (s stubVerifier) Verify(context.Context, string) (*model.StoredKey, error) {
	if s.err != nil {
		return nil, s.err
	}
	k := *s.key
	return &k, nil
}

func TestRequireAPIKey(t *testing.T) {
	valid := stubVerifier{key: &model.StoredKey{ID: "k1", OwnerID: "u1", KeyHash: "digest"}}

	tests := []struct {
		name     string
		verifier KeyVerifier
		header   string
		want     int
	}{
		{"missing", valid, "", http.StatusUnauthorized},
		{"invalid", stubVerifier{err: service.ErrUnauthenticated}, "bad", http.StatusUnauthorized},
		{"store down", stubVerifier{err: service.ErrUpstream}, "k", http.StatusServiceUnavailable},
		{"valid", valid, "k", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := RequireAPIKey(tt.verifier, "")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				key := GetAPIKey(r.Context())
				if key == nil || key.ID != "k1" {
					t.Errorf("GetAPIKey = %+v", key)
				} else if key.KeyHash != "" {
					t.Error("digest should be cleared before reaching handlers")
				}
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest("GET", "/api-keys/self", nil)
			if tt.header != "" {
				req.Header.Set("X-API-Key", tt.header)
			}
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)

			if rr.Code != tt.want {
				t.Fatalf("status = %d, want %d", rr.Code, tt.want)
			}
			if tt.want != http.StatusOK {
				var body model.ErrorResponse
				if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
					t.Fatalf("error body is not JSON: %v", err)
				}
				if body.Error.Code != tt.want {
					t.Errorf("error.code = %d, want %d", body.Error.Code, tt.want)
				}
			}
		})
	}
}

func TestGetAPIKeyWithoutValue(t *testing.T) {
	if GetAPIKey(context.Background()) != nil {
		t.Error("expected nil key from bare context")
	}
}

// ---------------------------------------------------------------------------
// RateLimit tests
// ---------------------------------------------------------------------------

func TestRateLimit(t *testing.T) {
	h := RateLimit(2)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest("POST", "/session", nil)
		req.RemoteAddr = "203.0.113.7:5555"
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		codes = append(codes, rr.Code)
	}
	if codes[0] != 200 || codes[1] != 200 || codes[2] != http.StatusTooManyRequests {
		t.Errorf("status codes = %v, want [200 200 429]", codes)
	}
}

func TestRateLimitDisabled(t *testing.T) {
	h := RateLimit(0)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	for i := 0; i < 5; i++ {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest("GET", "/", nil))
		if rr.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d", i, rr.Code)
		}
	}
}

// ---------------------------------------------------------------------------
// Logger tests
// ---------------------------------------------------------------------------

func TestLoggerRecordsRoutePattern(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(Logger(logger, metrics.New()))
	r.Get("/items/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	req := httptest.NewRequest("GET", "/items/42?token=secret", nil)
	r.ServeHTTP(httptest.NewRecorder(), req)

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v (%s)", err, buf.String())
	}
	if entry["route"] != "/items/{id}" {
		t.Errorf("route = %v, want /items/{id}", entry["route"])
	}
	if entry["status"] != float64(http.StatusTeapot) {
		t.Errorf("status = %v, want 418", entry["status"])
	}
	if strings.Contains(buf.String(), "secret") {
		t.Error("query string leaked into the log")
	}
}
