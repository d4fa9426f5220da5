package ui

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestLoginPage(t *testing.T) {
	rr := httptest.NewRecorder()
	LoginPage().ServeHTTP(rr, httptest.NewRequest("GET", "/", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("Content-Type = %q", ct)
	}
	body := rr.Body.String()
	if !strings.Contains(body, `fetch("/session"`) {
		t.Error("login page should post to /session")
	}
	if !strings.Contains(body, `type="password"`) {
		t.Error("login page should have a password field")
	}
}
