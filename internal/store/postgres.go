package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sahanasridhar/medtimeline/pkg/models"
)

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- API Keys ---

func (s *PostgresStore) GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, key_hash, key_prefix, scopes, last_used_at, deleted_at, created_at, updated_at
		 FROM api_keys WHERE key_prefix = $1 AND deleted_at IS NULL`, prefix)
	if err != nil {
		return nil, fmt.Errorf("get api key by prefix: %w", err)
	}
	defer rows.Close()

	var keys []*models.APIKey
	for rows.Next() {
		var k models.APIKey
		if err := rows.Scan(&k.ID, &k.Name, &k.KeyHash, &k.KeyPrefix, &k.Scopes,
			&k.LastUsedAt, &k.DeletedAt, &k.CreatedAt, &k.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, &k)
	}
	return keys, rows.Err()
}

func (s *PostgresStore) UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET last_used_at = NOW(), updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("update api key last used: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO api_keys (id, name, key_hash, key_prefix, scopes, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		key.ID, key.Name, key.KeyHash, key.KeyPrefix, key.Scopes, key.CreatedAt, key.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create api key: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListAPIKeys(ctx context.Context) ([]*models.APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, key_hash, key_prefix, scopes, last_used_at, deleted_at, created_at, updated_at
		 FROM api_keys WHERE deleted_at IS NULL ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	defer rows.Close()

	var keys []*models.APIKey
	for rows.Next() {
		var k models.APIKey
		if err := rows.Scan(&k.ID, &k.Name, &k.KeyHash, &k.KeyPrefix, &k.Scopes,
			&k.LastUsedAt, &k.DeletedAt, &k.CreatedAt, &k.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, &k)
	}
	return keys, rows.Err()
}

func (s *PostgresStore) RevokeAPIKey(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET deleted_at = NOW(), updated_at = NOW()
		 WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Generation Results ---

func (s *PostgresStore) UpsertGenerationResult(ctx context.Context, rec *models.GenerationRecord) error {
	result, err := json.Marshal(rec.Result)
	if err != nil {
		return fmt.Errorf("marshal generation result: %w", err)
	}
	err = s.pool.QueryRow(ctx,
		`INSERT INTO generation_results (date_key, provider, model, result, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, NOW(), NOW())
		 ON CONFLICT (date_key) DO UPDATE SET
		   provider = EXCLUDED.provider,
		   model = EXCLUDED.model,
		   result = EXCLUDED.result,
		   updated_at = NOW()
		 RETURNING created_at, updated_at`,
		rec.DateKey, rec.Provider, rec.Model, result,
	).Scan(&rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert generation result: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetGenerationResult(ctx context.Context, dateKey string) (*models.GenerationRecord, error) {
	var rec models.GenerationRecord
	var result []byte
	err := s.pool.QueryRow(ctx,
		`SELECT date_key, provider, model, result, created_at, updated_at
		 FROM generation_results WHERE date_key = $1`, dateKey,
	).Scan(&rec.DateKey, &rec.Provider, &rec.Model, &result, &rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get generation result: %w", err)
	}
	if err := json.Unmarshal(result, &rec.Result); err != nil {
		return nil, fmt.Errorf("unmarshal generation result: %w", err)
	}
	return &rec, nil
}

func (s *PostgresStore) ListGenerationResults(ctx context.Context, limit int) ([]*models.GenerationRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT date_key, provider, model, result, created_at, updated_at
		 FROM generation_results ORDER BY date_key DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list generation results: %w", err)
	}
	defer rows.Close()

	var recs []*models.GenerationRecord
	for rows.Next() {
		var rec models.GenerationRecord
		var result []byte
		if err := rows.Scan(&rec.DateKey, &rec.Provider, &rec.Model, &result,
			&rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan generation result: %w", err)
		}
		if err := json.Unmarshal(result, &rec.Result); err != nil {
			return nil, fmt.Errorf("unmarshal generation result: %w", err)
		}
		recs = append(recs, &rec)
	}
	return recs, rows.Err()
}

// --- Usage Sessions ---

// SaveUsageSession writes the session and its calls atomically.
func (s *PostgresStore) SaveUsageSession(ctx context.Context, session *models.UsageSession) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin usage session tx: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO usage_sessions (id, started_at, ended_at)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (id) DO UPDATE SET ended_at = EXCLUDED.ended_at`,
		session.ID, session.StartedAt, session.EndedAt)
	if err != nil {
		return fmt.Errorf("insert usage session: %w", err)
	}

	for _, c := range session.Calls {
		_, err = tx.Exec(ctx,
			`INSERT INTO usage_calls (id, session_id, date_key, kind, model, input_tokens, output_tokens, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			 ON CONFLICT (id) DO NOTHING`,
			c.ID, c.SessionID, c.DateKey, c.Kind, c.Model, c.InputTokens, c.OutputTokens, c.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert usage call: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit usage session tx: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUsageSession(ctx context.Context, id uuid.UUID) (*models.UsageSession, error) {
	var session models.UsageSession
	err := s.pool.QueryRow(ctx,
		`SELECT id, started_at, ended_at FROM usage_sessions WHERE id = $1`, id,
	).Scan(&session.ID, &session.StartedAt, &session.EndedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get usage session: %w", err)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, session_id, date_key, kind, model, input_tokens, output_tokens, created_at
		 FROM usage_calls WHERE session_id = $1 ORDER BY created_at ASC`, id)
	if err != nil {
		return nil, fmt.Errorf("list usage calls: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var c models.CallUsage
		if err := rows.Scan(&c.ID, &c.SessionID, &c.DateKey, &c.Kind, &c.Model,
			&c.InputTokens, &c.OutputTokens, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan usage call: %w", err)
		}
		session.Calls = append(session.Calls, c)
	}
	return &session, rows.Err()
}

func (s *PostgresStore) ListUsageSessions(ctx context.Context, limit int) ([]*models.UsageSession, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, started_at, ended_at FROM usage_sessions ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list usage sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*models.UsageSession
	for rows.Next() {
		var s models.UsageSession
		if err := rows.Scan(&s.ID, &s.StartedAt, &s.EndedAt); err != nil {
			return nil, fmt.Errorf("scan usage session: %w", err)
		}
		sessions = append(sessions, &s)
	}
	return sessions, rows.Err()
}

func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
