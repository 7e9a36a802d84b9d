// Package handler contains the HTTP handlers for the public API.
package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sahanasridhar/medtimeline/internal/api/response"
	"github.com/sahanasridhar/medtimeline/internal/orchestrator"
	"github.com/sahanasridhar/medtimeline/internal/source"
	"github.com/sahanasridhar/medtimeline/pkg/models"
)

// Timeline defines the orchestrator surface the handlers depend on.
type Timeline interface {
	Load(ctx context.Context) ([]models.ClusterSnapshot, error)
	LoadMore(ctx context.Context) bool
	GenerateCluster(ctx context.Context, dateKey string) (*models.GenerationResult, error)
	Snapshots() []models.ClusterSnapshot
	EndSession(ctx context.Context)
}

// NewLoadHandler returns the handler for POST /api/v1/timeline/load. The
// response carries the fresh timeline; generation of the first batch keeps
// running after the response is written.
func NewLoadHandler(svc Timeline) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snaps, err := svc.Load(r.Context())
		if err != nil {
			switch {
			case errors.Is(err, source.ErrGatewayUnreachable):
				response.Error(w, http.StatusBadGateway, "GATEWAY_UNREACHABLE",
					"The record gateway is not reachable", nil)
			case errors.Is(err, source.ErrGatewayTimeout):
				response.Error(w, http.StatusGatewayTimeout, "GATEWAY_TIMEOUT",
					"The record gateway timed out", nil)
			case errors.Is(err, source.ErrGatewayQueryError):
				response.Error(w, http.StatusBadGateway, "GATEWAY_QUERY_ERROR",
					"The record gateway rejected the query", nil)
			default:
				response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
					"Failed to load the timeline", nil)
			}
			return
		}
		response.Accepted(w, snaps)
	}
}

// NewLoadMoreHandler returns the handler for POST /api/v1/timeline/load-more.
func NewLoadMoreHandler(svc Timeline) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		dispatched := svc.LoadMore(r.Context())
		response.Accepted(w, map[string]any{
			"dispatched": dispatched,
			"clusters":   svc.Snapshots(),
		})
	}
}

// NewListClustersHandler returns the handler for GET /api/v1/timeline.
func NewListClustersHandler(svc Timeline) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		snaps := svc.Snapshots()
		response.Collection(w, snaps, response.ListMeta{Count: len(snaps), Limit: len(snaps)})
	}
}

// NewGenerateClusterHandler returns the handler for
// POST /api/v1/timeline/{dateKey}/generate. This is the explicit path:
// failures surface to the caller instead of being swallowed.
func NewGenerateClusterHandler(svc Timeline) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		dateKey := chi.URLParam(r, "dateKey")
		if dateKey == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "dateKey is required", nil)
			return
		}

		result, err := svc.GenerateCluster(r.Context(), dateKey)
		if err != nil {
			switch {
			case errors.Is(err, orchestrator.ErrUnknownCluster):
				response.Error(w, http.StatusNotFound, "CLUSTER_NOT_FOUND",
					"No cluster exists for the given date", nil)
			case errors.Is(err, orchestrator.ErrGenerationInFlight):
				response.Error(w, http.StatusConflict, "GENERATION_IN_FLIGHT",
					"Generation for this cluster is already running", nil)
			case errors.Is(err, models.ErrGenerationTimeout):
				response.Error(w, http.StatusGatewayTimeout, "GENERATION_TIMEOUT",
					"The generation call exceeded its deadline", nil)
			case errors.Is(err, models.ErrProviderUnavailable):
				response.Error(w, http.StatusBadGateway, "AI_PROVIDER_UNAVAILABLE",
					"The AI provider is not available", nil)
			case errors.Is(err, models.ErrInvalidResponse):
				response.Error(w, http.StatusBadGateway, "AI_INVALID_RESPONSE",
					"The AI provider returned an unusable response", nil)
			default:
				response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
					"Generation failed", nil)
			}
			return
		}
		response.JSON(w, result)
	}
}

// NewEndSessionHandler returns the handler for POST /api/v1/timeline/session/end.
func NewEndSessionHandler(svc Timeline) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		svc.EndSession(r.Context())
		response.JSON(w, map[string]string{"status": "session closed"})
	}
}
