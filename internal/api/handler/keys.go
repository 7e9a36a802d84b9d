package handler

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/sahanasridhar/medtimeline/internal/api/response"
	"github.com/sahanasridhar/medtimeline/internal/store"
	"github.com/sahanasridhar/medtimeline/pkg/models"
)

// Valid scopes an API key can carry.
var validScopes = map[string]bool{
	"read":  true,
	"admin": true,
}

// generateRawKey produces a new API key with the service prefix. The raw key
// is shown exactly once; only its bcrypt hash is stored.
func generateRawKey() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate key material: %w", err)
	}
	return "mt_" + hex.EncodeToString(buf), nil
}

// NewCreateKeyHandler returns the handler for POST /api/v1/admin/keys.
func NewCreateKeyHandler(s store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Name   string   `json:"name"`
			Scopes []string `json:"scopes"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}
		if req.Name == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "name is required", nil)
			return
		}
		if len(req.Scopes) == 0 {
			req.Scopes = []string{"read"}
		}
		for _, sc := range req.Scopes {
			if !validScopes[sc] {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
					fmt.Sprintf("unknown scope %q", sc), nil)
				return
			}
		}

		rawKey, err := generateRawKey()
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Failed to generate key", nil)
			return
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(rawKey), bcrypt.DefaultCost)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Failed to hash key", nil)
			return
		}

		now := time.Now().UTC()
		key := &models.APIKey{
			ID:        uuid.New(),
			Name:      req.Name,
			KeyHash:   string(hash),
			KeyPrefix: rawKey[:8],
			Scopes:    req.Scopes,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := s.CreateAPIKey(r.Context(), key); err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Failed to store key", nil)
			return
		}

		// The only time the raw key ever leaves the server.
		response.Created(w, map[string]any{
			"key": rawKey,
			"meta": map[string]any{
				"id":         key.ID,
				"name":       key.Name,
				"key_prefix": key.KeyPrefix,
				"scopes":     key.Scopes,
				"created_at": key.CreatedAt,
			},
		})
	}
}

// NewListKeysHandler returns the handler for GET /api/v1/admin/keys.
func NewListKeysHandler(s store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		keys, err := s.ListAPIKeys(r.Context())
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Failed to list keys", nil)
			return
		}
		response.Collection(w, keys, response.ListMeta{Count: len(keys), Limit: len(keys)})
	}
}

// NewRevokeKeyHandler returns the handler for DELETE /api/v1/admin/keys/{keyID}.
func NewRevokeKeyHandler(s store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "keyID"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
				"keyID must be a UUID", nil)
			return
		}

		err = s.RevokeAPIKey(r.Context(), id)
		if errors.Is(err, store.ErrNotFound) {
			response.Error(w, http.StatusNotFound, "KEY_NOT_FOUND",
				"No active key with that ID", nil)
			return
		}
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Failed to revoke key", nil)
			return
		}
		response.JSON(w, map[string]string{"status": "revoked"})
	}
}
