package server

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func newCORSHandler(t *testing.T, origins ...string) http.Handler {
	t.Helper()
	policy, err := newCORSPolicy(CORSConfig{AllowedOrigins: origins})
	if err != nil {
		t.Fatalf("newCORSPolicy: %v", err)
	}
	return corsMiddleware(policy, nil, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
}

func TestCORSAllowsConfiguredOrigin(t *testing.T) {
	handler := newCORSHandler(t, "https://player.example.com")

	req := httptest.NewRequest(http.MethodGet, "/videos", nil)
	req.Header.Set("Origin", "https://player.example.com")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://player.example.com" {
		t.Fatalf("Access-Control-Allow-Origin = %q", got)
	}
	if got := rec.Header().Get("Vary"); got != "Origin" {
		t.Fatalf("Vary = %q", got)
	}
}

func TestCORSBlocksUnknownOrigin(t *testing.T) {
	handler := newCORSHandler(t, "https://player.example.com")

	req := httptest.NewRequest(http.MethodGet, "/videos", nil)
	req.Header.Set("Origin", "https://evil.example.net")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestCORSAllowsSameOrigin(t *testing.T) {
	handler := newCORSHandler(t)

	req := httptest.NewRequest(http.MethodGet, "http://media.local/videos", nil)
	req.Host = "media.local"
	req.Header.Set("Origin", "http://media.local")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestCORSPassthroughWithoutOrigin(t *testing.T) {
	handler := newCORSHandler(t, "https://player.example.com")

	req := httptest.NewRequest(http.MethodGet, "/videos", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("unexpected Access-Control-Allow-Origin = %q", got)
	}
}

func TestCORSPreflight(t *testing.T) {
	handler := newCORSHandler(t, "https://player.example.com")

	req := httptest.NewRequest(http.MethodOptions, "/upload", nil)
	req.Header.Set("Origin", "https://player.example.com")
	req.Header.Set("Access-Control-Request-Method", "POST")
	req.Header.Set("Access-Control-Request-Headers", "Content-Type, X-Request-Id")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Methods"); got != "GET, POST, DELETE, OPTIONS" {
		t.Fatalf("Access-Control-Allow-Methods = %q", got)
	}
	if got := rec.Header().Get("Access-Control-Allow-Headers"); got != "Content-Type, X-Request-Id" {
		t.Fatalf("Access-Control-Allow-Headers = %q", got)
	}
}

func TestNormalizeOrigin(t *testing.T) {
	cases := []struct {
		input   string
		want    string
		wantErr bool
	}{
		{input: "https://Player.Example.com", want: "https://player.example.com"},
		{input: "http://localhost:3000", want: "http://localhost:3000"},
		{input: "  ", want: ""},
		{input: "not a url", wantErr: true},
		{input: "/relative/path", wantErr: true},
	}
	for _, tc := range cases {
		got, err := normalizeOrigin(tc.input)
		if tc.wantErr {
			if err == nil {
				t.Errorf("normalizeOrigin(%q) expected error", tc.input)
			}
			continue
		}
		if err != nil {
			t.Errorf("normalizeOrigin(%q): %v", tc.input, err)
			continue
		}
		if got != tc.want {
			t.Errorf("normalizeOrigin(%q) = %q, want %q", tc.input, got, tc.want)
		}
	}
}

func TestNewCORSPolicyRejectsInvalidOrigin(t *testing.T) {
	if _, err := newCORSPolicy(CORSConfig{AllowedOrigins: []string{"missing-scheme.example"}}); err == nil {
		t.Fatal("expected error for origin without scheme")
	}
}
