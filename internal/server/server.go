package server

import (
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"vodforge/internal/api"
	"vodforge/internal/observability/logging"
	"vodforge/internal/observability/metrics"
)

type Config struct {
	Addr      string
	MediaRoot string
	CORS      CORSConfig
	Security  SecurityConfig
	RateLimit RateLimitConfig
	Logger    *slog.Logger
	Metrics   *metrics.Recorder
}

type Server struct {
	httpServer  *http.Server
	logger      *slog.Logger
	metrics     *metrics.Recorder
	rateLimiter *rateLimiter
}

func New(handler *api.Handler, cfg Config) (*Server, error) {
	recorder := cfg.Metrics
	if recorder == nil {
		recorder = metrics.Default()
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", handler.Health)
	mux.Handle("/metrics", recorder.Handler())
	mux.HandleFunc("/upload", handler.Upload)
	mux.HandleFunc("/videos", handler.Videos)
	mux.HandleFunc("/videos/", handler.VideoByID)

	if root := strings.TrimSpace(cfg.MediaRoot); root != "" {
		fileServer := http.FileServer(http.Dir(root))
		mux.Handle("/media/", http.StripPrefix("/media/", noDirectoryListing(fileServer)))
	}

	policy, err := newCORSPolicy(cfg.CORS)
	if err != nil {
		return nil, fmt.Errorf("configure cors: %w", err)
	}

	rl := newRateLimiter(cfg.RateLimit)
	chain := http.Handler(mux)
	chain = rateLimitMiddleware(rl, cfg.Logger, chain)
	chain = metrics.HTTPMiddleware(recorder, chain)
	chain = corsMiddleware(policy, cfg.Logger, chain)
	chain = securityHeadersMiddleware(cfg.Security, chain)
	chain = logging.RequestLogger(cfg.Logger)(chain)
	chain = requestIDMiddleware(chain)

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           chain,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return &Server{
		httpServer:  httpServer,
		logger:      cfg.Logger,
		metrics:     recorder,
		rateLimiter: rl,
	}, nil
}

// HTTPServer exposes the configured server for lifecycle helpers.
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// Handler exposes the assembled middleware chain, mainly for tests.
func (s *Server) Handler() http.Handler {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Handler
}

// noDirectoryListing keeps the media file server from enumerating the output
// tree while still serving playlists and segments.
func noDirectoryListing(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/") || r.URL.Path == "" {
			http.NotFound(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func rateLimitMiddleware(rl *rateLimiter, logger *slog.Logger, next http.Handler) http.Handler {
	if rl == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.AllowRequest() {
			writeMiddlewareError(w, http.StatusTooManyRequests, "global rate limit exceeded")
			return
		}
		if r.Method == http.MethodPost && r.URL.Path == "/upload" {
			ip := extractClientIP(r)
			allowed, retryAfter, err := rl.AllowUpload(r.Context(), ip)
			if err != nil {
				if logger != nil {
					logger.Error("rate limiter failure", "error", err)
				}
				writeMiddlewareError(w, http.StatusServiceUnavailable, "rate limit failure")
				return
			}
			if !allowed {
				if retryAfter > 0 {
					w.Header().Set("Retry-After", fmt.Sprintf("%.0f", retryAfter.Seconds()))
				}
				writeMiddlewareError(w, http.StatusTooManyRequests, "too many uploads")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func extractClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		if len(parts) > 0 {
			return strings.TrimSpace(parts[0])
		}
	}
	if xrip := r.Header.Get("X-Real-IP"); xrip != "" {
		return strings.TrimSpace(xrip)
	}
	return clientIP(r.RemoteAddr)
}

func clientIP(remoteAddr string) string {
	if remoteAddr == "" {
		return ""
	}
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}
