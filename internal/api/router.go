// Package api wires the HTTP surface: routing, middleware, and handlers.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	mw "github.com/sahanasridhar/medtimeline/internal/api/middleware"
	"github.com/sahanasridhar/medtimeline/internal/api/response"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	Auth      *mw.Auth
	RateLimit *mw.RateLimit

	HealthHandler http.HandlerFunc

	LoadHandler       http.HandlerFunc
	LoadMoreHandler   http.HandlerFunc
	ListClusters      http.HandlerFunc
	GenerateCluster   http.HandlerFunc
	EndSessionHandler http.HandlerFunc

	CacheStatsHandler http.HandlerFunc
	CacheClearHandler http.HandlerFunc

	ListSessionsHandler http.HandlerFunc
	GetSessionHandler   http.HandlerFunc

	CreateKeyHandler http.HandlerFunc
	ListKeysHandler  http.HandlerFunc
	RevokeKeyHandler http.HandlerFunc
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(mw.Logger)
	r.Use(mw.Recovery)

	// Public health check
	r.Get("/api/v1/health", orNotImplemented(deps.HealthHandler))

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(deps.Auth.Authenticate)
		r.Use(deps.RateLimit.Limit)

		r.Get("/api/v1/timeline", orNotImplemented(deps.ListClusters))
		r.Post("/api/v1/timeline/load", orNotImplemented(deps.LoadHandler))
		r.Post("/api/v1/timeline/load-more", orNotImplemented(deps.LoadMoreHandler))
		r.Post("/api/v1/timeline/{dateKey}/generate", orNotImplemented(deps.GenerateCluster))
		r.Post("/api/v1/timeline/session/end", orNotImplemented(deps.EndSessionHandler))

		r.Get("/api/v1/cache/stats", orNotImplemented(deps.CacheStatsHandler))

		r.Get("/api/v1/usage/sessions", orNotImplemented(deps.ListSessionsHandler))
		r.Get("/api/v1/usage/sessions/{sessionID}", orNotImplemented(deps.GetSessionHandler))

		// Admin routes
		r.Group(func(r chi.Router) {
			r.Use(deps.Auth.RequireScope("admin"))

			r.Delete("/api/v1/admin/cache", orNotImplemented(deps.CacheClearHandler))
			r.Post("/api/v1/admin/keys", orNotImplemented(deps.CreateKeyHandler))
			r.Get("/api/v1/admin/keys", orNotImplemented(deps.ListKeysHandler))
			r.Delete("/api/v1/admin/keys/{keyID}", orNotImplemented(deps.RevokeKeyHandler))
		})
	})

	return r
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Endpoint not yet implemented", nil)
	}
}
