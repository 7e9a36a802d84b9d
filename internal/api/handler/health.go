package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/sahanasridhar/medtimeline/internal/api/response"
)

// Pinger is implemented by every backend a health check probes.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthDeps names the backends the health endpoint reports on. Any nil
// field is skipped.
type HealthDeps struct {
	Database Pinger
	Redis    Pinger
	Gateway  func(ctx context.Context) error
}

// NewHealthHandler returns the handler for GET /api/v1/health. Degraded
// backends flip the status code to 503 but the body always lists each
// component.
func NewHealthHandler(deps HealthDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		components := map[string]string{}
		healthy := true

		check := func(name string, ping func(context.Context) error) {
			if ping == nil {
				return
			}
			if err := ping(ctx); err != nil {
				components[name] = "unavailable"
				healthy = false
				return
			}
			components[name] = "ok"
		}

		if deps.Database != nil {
			check("database", deps.Database.Ping)
		}
		if deps.Redis != nil {
			check("redis", deps.Redis.Ping)
		}
		check("gateway", deps.Gateway)

		body := map[string]any{
			"status":     "ok",
			"components": components,
		}
		if !healthy {
			body["status"] = "degraded"
			response.Error(w, http.StatusServiceUnavailable, "DEGRADED",
				"One or more backends are unavailable", components)
			return
		}
		response.JSON(w, body)
	}
}
