package main

import (
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"golang.org/x/time/rate"

	"github.com/example/stockauth/internal/metrics"
	"github.com/example/stockauth/internal/reqctx"
	"github.com/example/stockauth/internal/token"
)

// invalidTokenBody is the fixed rejection body for any bearer-token failure.
// Malformed, bad-signature and expired tokens all produce this same response
// so the caller cannot tell which check failed.
const invalidTokenBody = "Invalid JWT token"

// publicPaths require no authenticated identity. Everything else does; there
// are no finer-grained per-role route rules.
var publicPaths = map[string]bool{
	"/api/login":    true,
	"/api/register": true,
	"/errors":       true,
	"/health":       true,
	"/ready":        true,
	"/metrics":      true,
}

func isPublicPath(path string) bool { return publicPaths[path] }

// RequestScope is the outermost middleware: it creates the per-request
// diagnostic scope (request id, method, path, resolved handler name),
// attaches it to the request context, and guarantees the identity binding is
// cleared on every exit path, panics included.
func (a *App) RequestScope(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		scope := reqctx.New(uuid.NewString(), r.Method, r.URL.Path)
		if route := mux.CurrentRoute(r); route != nil {
			scope.Handler = route.GetName()
		}

		defer func() {
			if rec := recover(); rec != nil {
				a.Log.Error("panic while handling request",
					"request_id", scope.RequestID,
					"method", scope.Method,
					"path", scope.Path,
					"panic", rec)
				writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred")
			}
			scope.Clear()
		}()

		next.ServeHTTP(w, r.WithContext(reqctx.WithScope(r.Context(), scope)))
	})
}

// Logging writes one structured completion line per request and records the
// Prometheus request counters.
func (a *App) Logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start)
		args := []any{
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.statusCode,
			"duration", duration,
			"remote", r.RemoteAddr,
		}
		route := r.URL.Path
		if scope, ok := reqctx.FromContext(r.Context()); ok {
			args = append(args, "request_id", scope.RequestID)
			if scope.Handler != "" {
				args = append(args, "handler", scope.Handler)
				route = scope.Handler
			}
			if username, authed := scope.Identity(); authed {
				args = append(args, "username", username)
			}
		}
		a.Log.Info("request completed", args...)

		metrics.RequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(wrapped.statusCode)).Inc()
		metrics.RequestDuration.WithLabelValues(route).Observe(duration.Seconds())
	})
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Authenticate is the per-request authentication gate. A missing or
// non-Bearer Authorization header passes through unauthenticated for
// RequireAuth to judge; a present but invalid token terminates the request
// immediately with 401 and the fixed body.
func (a *App) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") {
			next.ServeHTTP(w, r)
			return
		}
		tokenStr := strings.TrimPrefix(auth, "Bearer ")

		claims, err := a.Tokens.Validate(tokenStr)
		if err != nil {
			kind := "malformed"
			var verr *token.ValidationError
			if errors.As(err, &verr) {
				kind = verr.Kind.String()
			}
			metrics.TokenValidationsTotal.WithLabelValues(kind).Inc()
			a.Log.Warn("rejected bearer token",
				"kind", kind,
				"method", r.Method,
				"path", r.URL.Path)
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(invalidTokenBody))
			return
		}
		metrics.TokenValidationsTotal.WithLabelValues("valid").Inc()

		scope, ok := reqctx.FromContext(r.Context())
		if ok && scope.Authenticated() {
			// identity already bound for this request
			next.ServeHTTP(w, r)
			return
		}

		ident, err := a.Loader.LoadIdentity(claims.Subject)
		if err != nil {
			if errors.Is(err, ErrIdentityNotFound) {
				// a validly signed token for an account that no longer
				// exists is still an authentication failure
				w.Header().Set("Content-Type", "text/plain; charset=utf-8")
				w.WriteHeader(http.StatusUnauthorized)
				w.Write([]byte(invalidTokenBody))
				return
			}
			// credential corruption or store failure: fatal for this request
			a.Log.Error("identity resolution failed", "username", claims.Subject, "err", err)
			writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred")
			return
		}

		if ok {
			scope.BindIdentity(ident.Username, ident.Authorities)
		}
		next.ServeHTTP(w, r)
	})
}

// RequireAuth enforces the static access policy after the gate has run.
func (a *App) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}
		scope, ok := reqctx.FromContext(r.Context())
		if !ok || !scope.Authenticated() {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Authentication required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// CORS middleware handles CORS headers
func (a *App) CORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "3600")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// RateLimiter implements per-client rate limiting keyed by remote IP.
type RateLimiter struct {
	limiters map[string]*rate.Limiter
	mu       sync.RWMutex
	perMin   int
}

func NewRateLimiter(perMinute int) *RateLimiter {
	return &RateLimiter{
		limiters: make(map[string]*rate.Limiter),
		perMin:   perMinute,
	}
}

func (rl *RateLimiter) getLimiter(ip string) *rate.Limiter {
	rl.mu.RLock()
	limiter, exists := rl.limiters[ip]
	rl.mu.RUnlock()

	if !exists {
		rl.mu.Lock()
		// Double-check after acquiring write lock
		limiter, exists = rl.limiters[ip]
		if !exists {
			limiter = rate.NewLimiter(rate.Limit(rl.perMin)/60, rl.perMin)
			rl.limiters[ip] = limiter
		}
		rl.mu.Unlock()
	}

	return limiter
}

// RateLimit middleware enforces per-client limits on everything except the
// operational endpoints.
func (a *App) RateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health", "/ready", "/metrics":
			next.ServeHTTP(w, r)
			return
		}

		ip := r.RemoteAddr
		if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
			ip = host
		}
		if !a.rateLimiter.getLimiter(ip).Allow() {
			writeError(w, http.StatusTooManyRequests, "RATE_LIMIT_EXCEEDED", "Rate limit exceeded")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// SecurityHeaders middleware adds security headers
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-XSS-Protection", "1; mode=block")
		w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		next.ServeHTTP(w, r)
	})
}
