package handler

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/keygate/keygate/internal/service"
)

// ---------------------------------------------------------------------------
// queryString tests
// ---------------------------------------------------------------------------

func TestQueryString(t *testing.T) {
	tests := []struct {
		name string
		url  string
		want string
	}{
		{"missing", "/test", ""},
		{"plain", "/test?id=k1", "k1"},
		{"trimmed", "/test?id=%20k1%20", "k1"},
		{"empty", "/test?id=", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", tt.url, nil)
			if got := queryString(r, "id"); got != tt.want {
				t.Errorf("queryString = %q, want %q", got, tt.want)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// classifyServiceError tests
// ---------------------------------------------------------------------------

func TestClassifyServiceError(t *testing.T) {
	tests := []struct {
		err        error
		wantStatus int
	}{
		{service.ErrUnauthenticated, http.StatusUnauthorized},
		{service.ErrForbidden, http.StatusForbidden},
		{service.ErrNotFound, http.StatusNotFound},
		{fmt.Errorf("%w: name is required", service.ErrInvalid), http.StatusBadRequest},
		{fmt.Errorf("%w: dial tcp 10.0.0.5:5432", service.ErrUpstream), http.StatusServiceUnavailable},
		{service.ErrInternal, http.StatusInternalServerError},
		{fmt.Errorf("something else"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			status, msg := classifyServiceError(tt.err)
			if status != tt.wantStatus {
				t.Errorf("status = %d, want %d", status, tt.wantStatus)
			}
			if strings.Contains(msg, "10.0.0.5") {
				t.Errorf("message leaks upstream detail: %q", msg)
			}
		})
	}

	_, msg := classifyServiceError(fmt.Errorf("%w: name is required", service.ErrInvalid))
	if !strings.Contains(msg, "name is required") {
		t.Errorf("validation message = %q, want the validation reason", msg)
	}
}

// ---------------------------------------------------------------------------
// writeError tests
// ---------------------------------------------------------------------------

func TestWriteError(t *testing.T) {
	t.Run("writes JSON error response", func(t *testing.T) {
		w := httptest.NewRecorder()
		writeError(w, http.StatusBadRequest, "Invalid input")

		if w.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", w.Code)
		}
		if ct := w.Header().Get("Content-Type"); ct != "application/json" {
			t.Errorf("expected application/json, got %s", ct)
		}
		body := w.Body.String()
		if !strings.Contains(body, `"code":400`) {
			t.Errorf("expected code 400 in body: %s", body)
		}
		if !strings.Contains(body, `"message":"Invalid input"`) {
			t.Errorf("expected message in body: %s", body)
		}
	})

	t.Run("includes context", func(t *testing.T) {
		w := httptest.NewRecorder()
		writeError(w, http.StatusNotFound, "API key not found", map[string]interface{}{"id": "k1"})
		if !strings.Contains(w.Body.String(), `"context":{"id":"k1"}`) {
			t.Errorf("expected context in body: %s", w.Body.String())
		}
	})
}

// ---------------------------------------------------------------------------
// writeJSON tests
// ---------------------------------------------------------------------------

func TestWriteJSON(t *testing.T) {
	w := httptest.NewRecorder()
	writeJSON(w, http.StatusOK, map[string]string{"hello": "world"})

	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected application/json, got %s", ct)
	}
	if !strings.Contains(w.Body.String(), `"hello":"world"`) {
		t.Errorf("expected JSON body, got: %s", w.Body.String())
	}
}

func TestReadJSONRejectsOversizedBody(t *testing.T) {
	body := `{"name":"` + strings.Repeat("a", maxBodyBytes) + `"}`
	r := httptest.NewRequest("POST", "/api-keys", strings.NewReader(body))
	w := httptest.NewRecorder()
	var v map[string]string
	if err := readJSON(w, r, &v); err == nil {
		t.Error("expected error for oversized body")
	}
}
