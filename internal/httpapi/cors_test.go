package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"sequence_engine/internal/config"
)

func TestCorsAllowsListedOrigin(t *testing.T) {
	cfg := config.CorsConfig{AllowOrigins: []string{"https://panel.example"}, AllowCredentials: true}
	h := corsMiddleware(cfg, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/sites", nil)
	req.Header.Set("Origin", "https://panel.example")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("preflight status = %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://panel.example" {
		t.Fatalf("allow-origin = %q", got)
	}
	if rec.Header().Get("Access-Control-Allow-Credentials") != "true" {
		t.Fatal("credentials header missing")
	}
	if rec.Header().Get("Vary") != "Origin" {
		t.Fatal("vary header missing")
	}
}

func TestCorsIgnoresUnknownOrigin(t *testing.T) {
	cfg := config.CorsConfig{AllowOrigins: []string{"https://panel.example"}}
	called := false
	h := corsMiddleware(cfg, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		called = true
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/sites", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if !called {
		t.Fatal("request not passed through")
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("allow-origin leaked: %q", got)
	}
}
