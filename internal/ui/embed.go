// Package ui embeds the fallback login page served when no frontend is
// configured.
package ui

import (
	"bytes"
	"embed"
	"net/http"
	"time"
)

//go:embed static/login.html
var static embed.FS

// LoginPage serves the embedded login form. The form posts to /session and
// follows the redirect query parameter on success.
func LoginPage() http.Handler {
	page, err := static.ReadFile("static/login.html")
	if err != nil {
		panic("ui: login page missing from build: " + err.Error())
	}
	modTime := time.Now()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "no-store")
		http.ServeContent(w, r, "login.html", modTime, bytes.NewReader(page))
	})
}
