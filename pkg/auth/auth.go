// Package auth provides API-key authentication and per-key rate
// limiting for the HTTP surface.
package auth

import (
	"context"
	"net"
	"net/http"
	"strings"

	"eventsnap/pkg/logger"
)

// SecConfig carries the security settings the middleware needs.
type SecConfig struct {
	BackendKeys  map[string]struct{}
	FrontendKeys map[string]struct{}
	AllowUnauth  bool
	RPS          float64
	Burst        int
}

type ctxRoleKey struct{}

// RoleFromContext returns the role resolved for the request: "backend",
// "frontend" or "unauth".
func RoleFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(ctxRoleKey{}).(string); ok {
		return v
	}
	return ""
}

// Middleware authenticates requests by API key (Authorization: Bearer or
// X-API-Key) and applies a per-key token-bucket rate limit. Unauthorized
// requests are rejected unless AllowUnauth is set, in which case they are
// limited per remote address instead.
func Middleware(cfg SecConfig) func(http.Handler) http.Handler {
	pool := &limiterPool{cfg: cfg}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// health probes stay reachable without credentials
			if (r.URL.Path == "/healthz" || r.URL.Path == "/readyz") && r.Method == http.MethodGet {
				next.ServeHTTP(w, r)
				return
			}
			key := apiKey(r)
			role := ""
			switch {
			case key != "" && member(cfg.BackendKeys, key):
				role = "backend"
			case key != "" && member(cfg.FrontendKeys, key):
				role = "frontend"
			case cfg.AllowUnauth:
				role = "unauth"
			default:
				logger.Warn("unauthorized_request", "path", r.URL.Path, "remote", r.RemoteAddr)
				http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
				return
			}

			limKey := key
			if limKey == "" {
				limKey = remoteHost(r)
			}
			if !pool.Allow(limKey) {
				logger.Warn("rate_limited", "path", r.URL.Path, "remote", r.RemoteAddr)
				http.Error(w, `{"error":"rate limit exceeded"}`, http.StatusTooManyRequests)
				return
			}

			ctx := context.WithValue(r.Context(), ctxRoleKey{}, role)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func apiKey(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	return strings.TrimSpace(r.Header.Get("X-API-Key"))
}

func member(set map[string]struct{}, key string) bool {
	_, ok := set[key]
	return ok
}

func remoteHost(r *http.Request) string {
	if h, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return h
	}
	return r.RemoteAddr
}
