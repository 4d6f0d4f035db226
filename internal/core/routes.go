package core

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/google/uuid"

	"medcase/internal/types"
)

// defaultRequestTimeout is the soft deadline applied to every request
// context. Upload proxying to the AI pipeline is the slowest path, so the
// timeout leaves room for a full ingest round trip.
const defaultRequestTimeout = 90 * time.Second

// defaultRedactedHeaders lists header names whose values are masked in
// request logs.
var defaultRedactedHeaders = []string{
	"Authorization",
	"Cookie",
}

// MountRoutes registers the global middleware chain, the /v1 group, and the
// health endpoint.
func (s *Server) MountRoutes() {
	s.registerGlobalMiddleware()

	s.router.Route("/v1", func(r chi.Router) {
		for _, register := range s.RouteRegistrars {
			register(r)
		}
	})

	s.router.Get("/healthz", s.HandleHealth)
}

// registerGlobalMiddleware applies middleware in order:
//
//  1. Recoverer       - catches panics; outermost so nothing escapes.
//  2. ContextTimeout  - soft deadline on every request.
//  3. RequestID       - correlation ID for logs and upstream calls.
//  4. SecurityHeaders - standard security response headers.
//  5. RequestLogger   - structured logging with redacted headers.
//  6. CORS            - browser access headers.
//  7. Metrics         - latency and count recording.
//  8. Identity        - resolves the caller's user ID into the context.
func (s *Server) registerGlobalMiddleware() {
	s.router.Use(s.Recoverer)
	s.router.Use(ContextTimeoutMiddleware(defaultRequestTimeout))
	s.router.Use(RequestIDMiddleware)
	s.router.Use(s.SecurityHeadersMiddleware)
	s.router.Use(RequestLogger(s.Logger, defaultRedactedHeaders))
	s.router.Use(NewCORSMiddleware([]string{"*"}))
	s.router.Use(s.MetricsMiddleware)
	s.router.Use(IdentityMiddleware)
}

// ContextTimeoutMiddleware sets a deadline on the request context. Handlers
// observing the context get cancelled work instead of hanging on a stalled
// upstream.
func ContextTimeoutMiddleware(duration time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), duration)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequestIDMiddleware generates or propagates a correlation ID. An incoming
// X-Request-Id header is reused; otherwise a new UUID is generated. The ID
// is stored in the context and echoed in the response header.
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-Id")
		if requestID == "" {
			requestID = uuid.NewString()
		}

		ctx := types.WithRequestID(r.Context(), requestID)
		w.Header().Set("X-Request-Id", requestID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// IdentityMiddleware resolves the caller's user ID into the request context.
// Authentication itself happens at the platform gateway; by the time a
// request reaches this service the verified user ID travels in the X-User-Id
// header. Handlers that require identity reject requests where it is absent.
func IdentityMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if userID := r.Header.Get("X-User-Id"); userID != "" {
			ctx := types.WithUserID(r.Context(), userID)
			r = r.WithContext(ctx)
		}
		next.ServeHTTP(w, r)
	})
}
