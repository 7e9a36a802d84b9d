package api_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/sahanasridhar/medtimeline/internal/api"
	mw "github.com/sahanasridhar/medtimeline/internal/api/middleware"
	"github.com/sahanasridhar/medtimeline/internal/store"
	"github.com/sahanasridhar/medtimeline/pkg/models"
)

// stubStore returns no API keys, so every authentication attempt fails.
type stubStore struct{}

func (s *stubStore) Ping(context.Context) error { return nil }
func (s *stubStore) GetAPIKeyByPrefix(context.Context, string) ([]*models.APIKey, error) {
	return nil, nil
}
func (s *stubStore) UpdateAPIKeyLastUsed(context.Context, uuid.UUID) error { return nil }
func (s *stubStore) CreateAPIKey(context.Context, *models.APIKey) error    { return nil }
func (s *stubStore) ListAPIKeys(context.Context) ([]*models.APIKey, error) { return nil, nil }
func (s *stubStore) RevokeAPIKey(context.Context, uuid.UUID) error         { return nil }
func (s *stubStore) UpsertGenerationResult(context.Context, *models.GenerationRecord) error {
	return nil
}
func (s *stubStore) GetGenerationResult(context.Context, string) (*models.GenerationRecord, error) {
	return nil, store.ErrNotFound
}
func (s *stubStore) ListGenerationResults(context.Context, int) ([]*models.GenerationRecord, error) {
	return nil, nil
}
func (s *stubStore) SaveUsageSession(context.Context, *models.UsageSession) error { return nil }
func (s *stubStore) GetUsageSession(context.Context, uuid.UUID) (*models.UsageSession, error) {
	return nil, store.ErrNotFound
}
func (s *stubStore) ListUsageSessions(context.Context, int) ([]*models.UsageSession, error) {
	return nil, nil
}

type stubState struct{}

func (s *stubState) SetClusterState(context.Context, string, models.ClusterState, time.Duration) error {
	return nil
}
func (s *stubState) GetClusterState(context.Context, string) (models.ClusterState, bool, error) {
	return "", false, nil
}
func (s *stubState) IncrWithExpiry(context.Context, string, time.Duration) (int64, error) {
	return 1, nil
}
func (s *stubState) Ping(context.Context) error { return nil }

func newTestRouter() http.Handler {
	return api.NewRouter(api.Dependencies{
		Auth:      mw.NewAuth(&stubStore{}),
		RateLimit: mw.NewRateLimit(&stubState{}, 60),
		HealthHandler: func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		},
	})
}

func TestRouter_HealthIsPublic(t *testing.T) {
	router := newTestRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRouter_ProtectedRoutesRequireAuth(t *testing.T) {
	router := newTestRouter()

	routes := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/api/v1/timeline"},
		{http.MethodPost, "/api/v1/timeline/load"},
		{http.MethodPost, "/api/v1/timeline/load-more"},
		{http.MethodPost, "/api/v1/timeline/2024-01-01/generate"},
		{http.MethodPost, "/api/v1/timeline/session/end"},
		{http.MethodGet, "/api/v1/cache/stats"},
		{http.MethodGet, "/api/v1/usage/sessions"},
		{http.MethodDelete, "/api/v1/admin/cache"},
		{http.MethodPost, "/api/v1/admin/keys"},
	}
	for _, rt := range routes {
		t.Run(rt.method+" "+rt.path, func(t *testing.T) {
			req := httptest.NewRequest(rt.method, rt.path, nil)
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			assert.Equal(t, http.StatusUnauthorized, rec.Code)
		})
	}
}

func TestRouter_UnknownRoute(t *testing.T) {
	router := newTestRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/nope", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
