package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/aisu-os/core/pkg/apperr"
	"github.com/aisu-os/core/pkg/metrics"
	"github.com/aisu-os/core/pkg/ratelimit"
)

// allowCORS answers preflight and tags responses for the configured origins.
func allowCORS(origins []string, next http.Handler) http.Handler {
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[o] = true
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && (allowed[origin] || allowed["*"]) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
			w.Header().Set("Access-Control-Allow-Credentials", "true")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientIP resolves the caller's address, honoring X-Forwarded-For.
func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		return strings.TrimSpace(strings.Split(forwarded, ",")[0])
	}
	host := r.RemoteAddr
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		host = host[:idx]
	}
	if host == "" {
		return "unknown"
	}
	return host
}

// rateLimited wraps a handler with a fixed-window limit keyed by
// (route, client ip).
func rateLimited(limiter ratelimit.Limiter, limit int, window time.Duration, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := r.URL.Path + ":" + clientIP(r)
		if err := limiter.Hit(r.Context(), key, limit, window); err != nil {
			if apperr.IsKind(err, apperr.RateLimited) {
				metrics.RateLimitedTotal.Inc()
			}
			writeError(w, err)
			return
		}
		next(w, r)
	}
}
