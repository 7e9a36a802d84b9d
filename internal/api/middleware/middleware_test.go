package middleware_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	mw "github.com/sahanasridhar/medtimeline/internal/api/middleware"
	"github.com/sahanasridhar/medtimeline/internal/store"
	"github.com/sahanasridhar/medtimeline/pkg/models"
)

// --- Mock Store ---

type mockStore struct {
	keys []*models.APIKey
	err  error
}

func (m *mockStore) Ping(_ context.Context) error { return nil }
func (m *mockStore) GetAPIKeyByPrefix(_ context.Context, _ string) ([]*models.APIKey, error) {
	return m.keys, m.err
}
func (m *mockStore) UpdateAPIKeyLastUsed(_ context.Context, _ uuid.UUID) error { return nil }
func (m *mockStore) CreateAPIKey(_ context.Context, _ *models.APIKey) error    { return nil }
func (m *mockStore) ListAPIKeys(_ context.Context) ([]*models.APIKey, error)   { return nil, nil }
func (m *mockStore) RevokeAPIKey(_ context.Context, _ uuid.UUID) error         { return nil }
func (m *mockStore) UpsertGenerationResult(_ context.Context, _ *models.GenerationRecord) error {
	return nil
}
func (m *mockStore) GetGenerationResult(_ context.Context, _ string) (*models.GenerationRecord, error) {
	return nil, store.ErrNotFound
}
func (m *mockStore) ListGenerationResults(_ context.Context, _ int) ([]*models.GenerationRecord, error) {
	return nil, nil
}
func (m *mockStore) SaveUsageSession(_ context.Context, _ *models.UsageSession) error { return nil }
func (m *mockStore) GetUsageSession(_ context.Context, _ uuid.UUID) (*models.UsageSession, error) {
	return nil, store.ErrNotFound
}
func (m *mockStore) ListUsageSessions(_ context.Context, _ int) ([]*models.UsageSession, error) {
	return nil, nil
}

// --- Mock state store ---

type mockState struct {
	counter int64
	err     error
}

func (m *mockState) SetClusterState(_ context.Context, _ string, _ models.ClusterState, _ time.Duration) error {
	return nil
}
func (m *mockState) GetClusterState(_ context.Context, _ string) (models.ClusterState, bool, error) {
	return "", false, nil
}
func (m *mockState) IncrWithExpiry(_ context.Context, _ string, _ time.Duration) (int64, error) {
	if m.err != nil {
		return 0, m.err
	}
	m.counter++
	return m.counter, nil
}
func (m *mockState) Ping(_ context.Context) error { return nil }

// --- helpers ---

func okHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}
}

func hashKey(t *testing.T, rawKey string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(rawKey), bcrypt.MinCost)
	require.NoError(t, err)
	return string(hash)
}

func storedKey(t *testing.T, rawKey string, scopes ...string) *models.APIKey {
	t.Helper()
	return &models.APIKey{
		ID:        uuid.New(),
		Name:      "test",
		KeyHash:   hashKey(t, rawKey),
		KeyPrefix: rawKey[:8],
		Scopes:    scopes,
	}
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Error.Code
}

// --- Auth tests ---

func TestAuthenticate_MissingHeader(t *testing.T) {
	auth := mw.NewAuth(&mockStore{})
	handler := auth.Authenticate(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "INVALID_TOKEN", errorCode(t, rec))
}

func TestAuthenticate_MalformedHeader(t *testing.T) {
	auth := mw.NewAuth(&mockStore{})
	handler := auth.Authenticate(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Basic abc123")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthenticate_ValidKey(t *testing.T) {
	rawKey := "mt_0123456789abcdef"
	auth := mw.NewAuth(&mockStore{keys: []*models.APIKey{storedKey(t, rawKey, "read")}})
	handler := auth.Authenticate(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+rawKey)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthenticate_WrongKey(t *testing.T) {
	auth := mw.NewAuth(&mockStore{keys: []*models.APIKey{storedKey(t, "mt_0123456789abcdef", "read")}})
	handler := auth.Authenticate(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer mt_01234_wrong_key")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequireScope(t *testing.T) {
	rawKey := "mt_0123456789abcdef"
	auth := mw.NewAuth(&mockStore{keys: []*models.APIKey{storedKey(t, rawKey, "read")}})

	handler := auth.Authenticate(auth.RequireScope("admin")(okHandler()))

	req := httptest.NewRequest(http.MethodDelete, "/admin", nil)
	req.Header.Set("Authorization", "Bearer "+rawKey)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "FORBIDDEN", errorCode(t, rec))
}

func TestRequireScope_Granted(t *testing.T) {
	rawKey := "mt_0123456789abcdef"
	auth := mw.NewAuth(&mockStore{keys: []*models.APIKey{storedKey(t, rawKey, "read", "admin")}})

	handler := auth.Authenticate(auth.RequireScope("admin")(okHandler()))

	req := httptest.NewRequest(http.MethodDelete, "/admin", nil)
	req.Header.Set("Authorization", "Bearer "+rawKey)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

// --- RateLimit tests ---

func TestRateLimit_UnderLimit(t *testing.T) {
	rl := mw.NewRateLimit(&mockState{}, 5)
	handler := rl.Limit(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(mw.SetKeyPrefixForTest(req.Context(), "mt_abcd1"))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "5", rec.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "4", rec.Header().Get("X-RateLimit-Remaining"))
}

func TestRateLimit_Exceeded(t *testing.T) {
	st := &mockState{}
	rl := mw.NewRateLimit(st, 2)
	handler := rl.Limit(okHandler())

	var rec *httptest.ResponseRecorder
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req = req.WithContext(mw.SetKeyPrefixForTest(req.Context(), "mt_abcd1"))
		rec = httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
	}

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "RATE_LIMIT_EXCEEDED", errorCode(t, rec))
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
}

func TestRateLimit_FailsOpenOnRedisError(t *testing.T) {
	rl := mw.NewRateLimit(&mockState{err: assert.AnError}, 1)
	handler := rl.Limit(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(mw.SetKeyPrefixForTest(req.Context(), "mt_abcd1"))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimit_NoPrefixPassesThrough(t *testing.T) {
	rl := mw.NewRateLimit(&mockState{}, 1)
	handler := rl.Limit(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("X-RateLimit-Limit"))
}

// --- Recovery tests ---

func TestRecovery_CatchesPanic(t *testing.T) {
	handler := mw.Recovery(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "INTERNAL_ERROR", errorCode(t, rec))
}
