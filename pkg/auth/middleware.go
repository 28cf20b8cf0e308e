package auth

import (
	"net"
	"net/http"
	"strings"

	"commhub/pkg/logger"
	"commhub/pkg/utils"
)

// MiddlewareConfig drives the request gateway: CORS, rate limiting and
// signature verification.
type MiddlewareConfig struct {
	AllowedOrigins []string
	RPS            float64
	Burst          int
}

// Middleware wraps the REST surface. Every request except health and
// metrics probes must carry X-User-ID and X-User-Signature headers; the
// verified user id lands in the request context.
func Middleware(cfg MiddlewareConfig) func(http.Handler) http.Handler {
	limiters := &limiterPool{rps: cfg.RPS, burst: cfg.Burst}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			logger.Debug("incoming_request",
				"method", r.Method, "path", r.URL.Path,
				"remote", r.RemoteAddr, "headers", logger.SafeHeaders(r))

			origin := r.Header.Get("Origin")
			if origin != "" && originAllowed(origin, cfg.AllowedOrigins) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Vary", "Origin")
				w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type,X-User-ID,X-User-Signature")
				w.Header().Set("Access-Control-Max-Age", "600")
			}
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			// probes stay unauthenticated; websocket connections
			// authenticate with their first frame instead of headers
			if r.URL.Path == "/healthz" || r.URL.Path == "/metrics" ||
				r.URL.Path == "/v1/ws" || strings.HasPrefix(r.URL.Path, "/docs") {
				next.ServeHTTP(w, r)
				return
			}

			cred := Credential{
				UserID:    r.Header.Get("X-User-ID"),
				Signature: r.Header.Get("X-User-Signature"),
			}
			if err := Verify(cred); err != nil {
				logger.Warn("request_unauthorized", "path", r.URL.Path, "remote", r.RemoteAddr)
				utils.JSONFault(w, err)
				return
			}

			if !limiters.Allow(limiterKey(cred.UserID, r)) {
				logger.Warn("request_rate_limited", "user", cred.UserID, "path", r.URL.Path)
				utils.JSONError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), strings.TrimSpace(cred.UserID))))
		})
	}
}

func limiterKey(userID string, r *http.Request) string {
	if userID != "" {
		return "u:" + userID
	}
	return "ip:" + clientIP(r)
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i > 0 {
			return strings.TrimSpace(fwd[:i])
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func originAllowed(origin string, allowed []string) bool {
	for _, a := range allowed {
		if a == "*" || strings.EqualFold(a, origin) {
			return true
		}
	}
	return false
}
