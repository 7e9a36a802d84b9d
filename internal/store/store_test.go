package store_test

import (
	"context"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/sahanasridhar/medtimeline/internal/store"
	"github.com/sahanasridhar/medtimeline/pkg/models"
)

// migrationsDir returns the absolute path to the migrations directory.
func migrationsDir() string {
	_, filename, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(filename), "..", "..", "migrations")
}

// setupTestDB spins up a Postgres container, runs migrations, and returns a pool.
func setupTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("medtimeline_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, pgContainer.Terminate(ctx))
	})

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	err = store.RunMigrations(connStr, migrationsDir())
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })

	return pool
}

// --- API Key Tests ---

func TestAPIKey_CreateAndGet(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Microsecond)
	key := &models.APIKey{
		ID:        uuid.New(),
		Name:      "test-key",
		KeyHash:   "bcrypt-hash-here",
		KeyPrefix: "mt_abcd",
		Scopes:    []string{"read", "admin"},
		CreatedAt: now,
		UpdatedAt: now,
	}

	require.NoError(t, s.CreateAPIKey(ctx, key))

	keys, err := s.GetAPIKeyByPrefix(ctx, "mt_abcd")
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, key.ID, keys[0].ID)
	assert.Equal(t, "test-key", keys[0].Name)
	assert.Equal(t, []string{"read", "admin"}, keys[0].Scopes)
}

func TestAPIKey_Revoke(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	now := time.Now().UTC()
	key := &models.APIKey{
		ID: uuid.New(), Name: "doomed", KeyHash: "h", KeyPrefix: "mt_dead",
		Scopes: []string{"read"}, CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, s.CreateAPIKey(ctx, key))

	require.NoError(t, s.RevokeAPIKey(ctx, key.ID))

	keys, err := s.GetAPIKeyByPrefix(ctx, "mt_dead")
	require.NoError(t, err)
	assert.Empty(t, keys, "revoked keys are invisible to lookup")

	err = s.RevokeAPIKey(ctx, key.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestAPIKey_DuplicateID(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	now := time.Now().UTC()
	key := &models.APIKey{
		ID: uuid.New(), Name: "one", KeyHash: "h", KeyPrefix: "mt_dup1",
		Scopes: []string{"read"}, CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, s.CreateAPIKey(ctx, key))

	err := s.CreateAPIKey(ctx, key)
	assert.ErrorIs(t, err, store.ErrDuplicateKey)
}

// --- Generation Result Tests ---

func TestGenerationResult_UpsertOverwrites(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	rec := &models.GenerationRecord{
		DateKey:  "2024-03-15",
		Provider: "openai",
		Model:    "gpt-4o-mini",
		Result: models.GenerationResult{
			Title:       "Annual physical",
			Description: "Routine exam with lipid panel.",
			IconHint:    "stethoscope",
			Artifacts:   []models.ArtifactRef{{RecordID: "r1", Category: "labResults"}},
		},
	}
	require.NoError(t, s.UpsertGenerationResult(ctx, rec))

	rec.Result.Title = "Annual physical and labs"
	require.NoError(t, s.UpsertGenerationResult(ctx, rec))

	got, err := s.GetGenerationResult(ctx, "2024-03-15")
	require.NoError(t, err)
	assert.Equal(t, "Annual physical and labs", got.Result.Title, "a retry overwrites the previous row")
	require.Len(t, got.Result.Artifacts, 1)
	assert.Equal(t, "r1", got.Result.Artifacts[0].RecordID)
}

func TestGenerationResult_NotFound(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)

	_, err := s.GetGenerationResult(context.Background(), "1999-01-01")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestGenerationResult_ListNewestFirst(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	for _, dk := range []string{"2024-01-01", "2024-02-01", "2024-03-01"} {
		rec := &models.GenerationRecord{
			DateKey: dk, Provider: "mock", Model: "m",
			Result: models.GenerationResult{Title: dk, Description: "d", IconHint: "note"},
		}
		require.NoError(t, s.UpsertGenerationResult(ctx, rec))
	}

	recs, err := s.ListGenerationResults(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "2024-03-01", recs[0].DateKey)
	assert.Equal(t, "2024-02-01", recs[1].DateKey)
}

// --- Usage Session Tests ---

func TestUsageSession_SaveAndGet(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	started := time.Now().UTC().Truncate(time.Microsecond)
	ended := started.Add(3 * time.Minute)
	session := &models.UsageSession{
		ID:        uuid.New(),
		StartedAt: started,
		EndedAt:   &ended,
	}
	session.Calls = []models.CallUsage{
		{ID: uuid.New(), SessionID: session.ID, DateKey: "2024-01-01", Kind: models.CallKindLive,
			Model: "gpt-4o-mini", InputTokens: 1200, OutputTokens: 200, CreatedAt: started},
		{ID: uuid.New(), SessionID: session.ID, DateKey: "2024-01-02", Kind: models.CallKindCached,
			Model: "gpt-4o-mini", CreatedAt: started.Add(time.Second)},
	}

	require.NoError(t, s.SaveUsageSession(ctx, session))

	got, err := s.GetUsageSession(ctx, session.ID)
	require.NoError(t, err)
	require.NotNil(t, got.EndedAt)
	require.Len(t, got.Calls, 2)
	assert.Equal(t, models.CallKindLive, got.Calls[0].Kind)
	assert.Equal(t, models.CallKindCached, got.Calls[1].Kind)
	assert.Zero(t, got.Calls[1].InputTokens)
	assert.Equal(t, 1400, got.TotalTokens())
}

func TestUsageSession_SaveIsIdempotent(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	started := time.Now().UTC().Truncate(time.Microsecond)
	session := &models.UsageSession{ID: uuid.New(), StartedAt: started}
	session.Calls = []models.CallUsage{
		{ID: uuid.New(), SessionID: session.ID, DateKey: "2024-01-01",
			Kind: models.CallKindLive, InputTokens: 10, CreatedAt: started},
	}

	require.NoError(t, s.SaveUsageSession(ctx, session))
	require.NoError(t, s.SaveUsageSession(ctx, session))

	got, err := s.GetUsageSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Len(t, got.Calls, 1, "re-publishing a session must not duplicate calls")
}

func TestUsageSession_ListNewestFirst(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Microsecond)
	older := &models.UsageSession{ID: uuid.New(), StartedAt: base.Add(-time.Hour)}
	newer := &models.UsageSession{ID: uuid.New(), StartedAt: base}
	require.NoError(t, s.SaveUsageSession(ctx, older))
	require.NoError(t, s.SaveUsageSession(ctx, newer))

	sessions, err := s.ListUsageSessions(ctx, 10)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, newer.ID, sessions[0].ID)
	assert.Equal(t, older.ID, sessions[1].ID)
}
