package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/sahanasridhar/medtimeline/internal/api/response"
	"github.com/sahanasridhar/medtimeline/internal/store"
)

const defaultSessionListLimit = 50

// NewListUsageSessionsHandler returns the handler for GET /api/v1/usage/sessions.
func NewListUsageSessionsHandler(s store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := defaultSessionListLimit
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
					"limit must be a positive integer", nil)
				return
			}
			limit = n
		}

		sessions, err := s.ListUsageSessions(r.Context(), limit)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Failed to list usage sessions", nil)
			return
		}
		response.Collection(w, sessions, response.ListMeta{Count: len(sessions), Limit: limit})
	}
}

// NewGetUsageSessionHandler returns the handler for GET /api/v1/usage/sessions/{sessionID}.
func NewGetUsageSessionHandler(s store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "sessionID"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
				"sessionID must be a UUID", nil)
			return
		}

		session, err := s.GetUsageSession(r.Context(), id)
		if errors.Is(err, store.ErrNotFound) {
			response.Error(w, http.StatusNotFound, "SESSION_NOT_FOUND",
				"No usage session with that ID", nil)
			return
		}
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Failed to load the usage session", nil)
			return
		}
		response.JSON(w, session)
	}
}
