package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/rand"
	"time"

	_ "modernc.org/sqlite"
)

const createCacheTable = `
CREATE TABLE IF NOT EXISTS response_cache (
	key TEXT PRIMARY KEY,
	model TEXT NOT NULL,
	response TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	last_accessed_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_response_cache_last_accessed
	ON response_cache(last_accessed_at);
`

// SQLiteCache implements Cache on a local SQLite database. SQLite gives us
// the three store operations the policy needs: point lookup, range delete by
// created_at for expiration, and ordered scan by last_accessed_at for LRU
// eviction.
type SQLiteCache struct {
	db   *sql.DB
	opts Options

	// Injectable for tests.
	now  func() time.Time
	rand func() float64
}

// NewSQLite opens (or creates) the cache database at path.
func NewSQLite(path string, opts Options) (*SQLiteCache, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open cache db: %w", err)
	}

	if _, err := db.Exec(createCacheTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate cache db: %w", err)
	}

	return &SQLiteCache{
		db:   db,
		opts: opts.withDefaults(),
		now:  time.Now,
		rand: rand.Float64,
	}, nil
}

// Get returns the cached response for key, touching last_accessed_at on a
// hit. A miss returns ("", false, nil).
func (c *SQLiteCache) Get(ctx context.Context, key string) (string, bool, error) {
	var response string
	err := c.db.QueryRowContext(ctx,
		`SELECT response FROM response_cache WHERE key = ?`, key,
	).Scan(&response)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("cache get: %w", err)
	}

	if _, err := c.db.ExecContext(ctx,
		`UPDATE response_cache SET last_accessed_at = ? WHERE key = ?`,
		c.now().UTC().Unix(), key,
	); err != nil {
		return "", false, fmt.Errorf("cache touch: %w", err)
	}

	return response, true, nil
}

// Put inserts a new entry for key. First writer wins: if an entry already
// exists the call is a no-op and the stored response is unchanged.
func (c *SQLiteCache) Put(ctx context.Context, key, model, response string) error {
	now := c.now().UTC().Unix()
	res, err := c.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO response_cache (key, model, response, created_at, last_accessed_at)
		 VALUES (?, ?, ?, ?, ?)`,
		key, model, response, now, now,
	)
	if err != nil {
		return fmt.Errorf("cache put: %w", err)
	}

	inserted, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("cache put: %w", err)
	}

	if inserted > 0 && c.rand() < maintenanceProbability {
		return c.Maintain(ctx)
	}
	return nil
}

// ClearAll deletes every entry.
func (c *SQLiteCache) ClearAll(ctx context.Context) error {
	if _, err := c.db.ExecContext(ctx, `DELETE FROM response_cache`); err != nil {
		return fmt.Errorf("cache clear: %w", err)
	}
	return nil
}

// Stats returns the entry count and creation-time bounds.
func (c *SQLiteCache) Stats(ctx context.Context) (Stats, error) {
	var (
		count  int64
		oldest sql.NullInt64
		newest sql.NullInt64
	)
	err := c.db.QueryRowContext(ctx,
		`SELECT COUNT(*), MIN(created_at), MAX(created_at) FROM response_cache`,
	).Scan(&count, &oldest, &newest)
	if err != nil {
		return Stats{}, fmt.Errorf("cache stats: %w", err)
	}

	st := Stats{Count: count}
	if oldest.Valid {
		t := time.Unix(oldest.Int64, 0).UTC()
		st.OldestCreatedAt = &t
	}
	if newest.Valid {
		t := time.Unix(newest.Int64, 0).UTC()
		st.NewestCreatedAt = &t
	}
	return st, nil
}

// Maintain runs the expiration sweep followed by size enforcement. Eviction
// selects the entries with the oldest last_accessed_at, breaking ties by key
// so repeated sweeps over the same state delete the same rows.
func (c *SQLiteCache) Maintain(ctx context.Context) error {
	cutoff := c.now().UTC().Add(-c.opts.TTL).Unix()
	if _, err := c.db.ExecContext(ctx,
		`DELETE FROM response_cache WHERE created_at < ?`, cutoff,
	); err != nil {
		return fmt.Errorf("cache expiration sweep: %w", err)
	}

	var count int64
	if err := c.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM response_cache`,
	).Scan(&count); err != nil {
		return fmt.Errorf("cache size check: %w", err)
	}

	excess := count - int64(c.opts.MaxEntries)
	if excess <= 0 {
		return nil
	}

	if _, err := c.db.ExecContext(ctx,
		`DELETE FROM response_cache WHERE key IN (
			SELECT key FROM response_cache
			ORDER BY last_accessed_at ASC, key ASC
			LIMIT ?
		)`, excess,
	); err != nil {
		return fmt.Errorf("cache eviction: %w", err)
	}
	return nil
}

// Close releases the database connection.
func (c *SQLiteCache) Close() error {
	return c.db.Close()
}

// Compile-time check that SQLiteCache implements Cache.
var _ Cache = (*SQLiteCache)(nil)
