package server

import "net/http"

const (
	defaultFrameAncestors     = "'none'"
	defaultFrameOptions       = "DENY"
	defaultReferrerPolicy     = "no-referrer"
	defaultPermissionsPolicy  = "camera=(), microphone=(), geolocation=()"
	defaultContentTypeOptions = "nosniff"
)

// SecurityConfig controls the response headers that harden the server against
// clickjacking, MIME sniffing, and referrer leakage. Zero-valued fields fall
// back to safe defaults; override ContentSecurityPolicy when serving the media
// tree to a player hosted elsewhere.
type SecurityConfig struct {
	ContentSecurityPolicy string
	FrameAncestors        string
	FrameOptions          string
	ReferrerPolicy        string
	PermissionsPolicy     string
	ContentTypeOptions    string
}

func (cfg SecurityConfig) withDefaults() SecurityConfig {
	if cfg.FrameAncestors == "" {
		cfg.FrameAncestors = defaultFrameAncestors
	}
	if cfg.FrameOptions == "" {
		cfg.FrameOptions = defaultFrameOptions
	}
	if cfg.ReferrerPolicy == "" {
		cfg.ReferrerPolicy = defaultReferrerPolicy
	}
	if cfg.PermissionsPolicy == "" {
		cfg.PermissionsPolicy = defaultPermissionsPolicy
	}
	if cfg.ContentTypeOptions == "" {
		cfg.ContentTypeOptions = defaultContentTypeOptions
	}
	if cfg.ContentSecurityPolicy == "" {
		cfg.ContentSecurityPolicy = defaultContentSecurityPolicy(cfg.FrameAncestors)
	}
	return cfg
}

func defaultContentSecurityPolicy(frameAncestors string) string {
	// media-src covers HLS playlists and segments fetched by players served
	// from the same origin.
	return "default-src 'self'; " +
		"connect-src 'self'; " +
		"media-src 'self' blob:; " +
		"img-src 'self' data:; " +
		"object-src 'none'; " +
		"base-uri 'self'; " +
		"frame-ancestors " + frameAncestors + "; " +
		"form-action 'self'"
}

func securityHeadersMiddleware(cfg SecurityConfig, next http.Handler) http.Handler {
	effective := cfg.withDefaults()

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Security-Policy", effective.ContentSecurityPolicy)
		w.Header().Set("X-Frame-Options", effective.FrameOptions)
		w.Header().Set("X-Content-Type-Options", effective.ContentTypeOptions)
		w.Header().Set("Referrer-Policy", effective.ReferrerPolicy)
		w.Header().Set("Permissions-Policy", effective.PermissionsPolicy)
		next.ServeHTTP(w, r)
	})
}
