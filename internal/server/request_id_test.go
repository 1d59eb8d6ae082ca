package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"vodforge/internal/observability/logging"
)

func TestRequestIDGeneratedWhenMissing(t *testing.T) {
	var seen string
	handler := requestIDMiddlewareWithGenerator(func() string { return "generated-id" },
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seen, _ = logging.RequestIDFromContext(r.Context())
		}))

	req := httptest.NewRequest(http.MethodGet, "/videos", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if seen != "generated-id" {
		t.Fatalf("context request id = %q", seen)
	}
	if got := rec.Header().Get("X-Request-Id"); got != "generated-id" {
		t.Fatalf("X-Request-Id = %q", got)
	}
}

func TestRequestIDPreservedFromHeader(t *testing.T) {
	var seen string
	handler := requestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = logging.RequestIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/videos", nil)
	req.Header.Set("X-Request-Id", "caller-supplied")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if seen != "caller-supplied" {
		t.Fatalf("context request id = %q", seen)
	}
	if got := rec.Header().Get("X-Request-Id"); got != "caller-supplied" {
		t.Fatalf("X-Request-Id = %q", got)
	}
}

func TestNewRequestIDUnique(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 32; i++ {
		id := newRequestID()
		if id == "" {
			t.Fatal("empty request id")
		}
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate request id %q", id)
		}
		seen[id] = struct{}{}
	}
}
