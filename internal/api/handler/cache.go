package handler

import (
	"net/http"

	"github.com/sahanasridhar/medtimeline/internal/api/response"
	"github.com/sahanasridhar/medtimeline/internal/cache"
)

// NewCacheStatsHandler returns the handler for GET /api/v1/cache/stats.
func NewCacheStatsHandler(c cache.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := c.Stats(r.Context())
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Failed to read cache stats", nil)
			return
		}
		response.JSON(w, stats)
	}
}

// NewCacheClearHandler returns the handler for DELETE /api/v1/admin/cache.
func NewCacheClearHandler(c cache.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := c.ClearAll(r.Context()); err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Failed to clear the cache", nil)
			return
		}
		response.JSON(w, map[string]string{"status": "cache cleared"})
	}
}
