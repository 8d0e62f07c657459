package webtool

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"
)

const cacheSchema = `
CREATE TABLE IF NOT EXISTS fetch_cache (
    url TEXT PRIMARY KEY,
    body TEXT NOT NULL,
    fetched_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_fetch_cache_fetched_at ON fetch_cache(fetched_at);
`

// DefaultCacheTTL matches the session-scoped cache of the detection run:
// within an hour the same advisory page is served from disk.
const DefaultCacheTTL = time.Hour

// Cache stores fetched page bodies in SQLite so retried rounds and repeated
// scrapes of the same advisory do not re-hit the network. Best effort: cache
// errors are logged and treated as misses.
type Cache struct {
	db  *sql.DB
	ttl time.Duration
}

// NewCache opens (creating if needed) the cache database at dbPath.
func NewCache(dbPath string) (*Cache, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening fetch cache: %w", err)
	}
	if _, err := db.Exec(cacheSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing fetch cache schema: %w", err)
	}
	return &Cache{db: db, ttl: DefaultCacheTTL}, nil
}

// Close closes the underlying database.
func (c *Cache) Close() error {
	return c.db.Close()
}

// Get returns the cached body for url when present and fresh.
func (c *Cache) Get(ctx context.Context, url string) (string, bool) {
	var body string
	var fetchedAt time.Time
	err := c.db.QueryRowContext(ctx,
		`SELECT body, fetched_at FROM fetch_cache WHERE url = ?`, url,
	).Scan(&body, &fetchedAt)
	if err != nil {
		if err != sql.ErrNoRows {
			log.Debug().Err(err).Str("url", url).Msg("fetch cache read failed")
		}
		return "", false
	}
	if time.Since(fetchedAt) > c.ttl {
		return "", false
	}
	return body, true
}

// Put stores a fetched body for url, replacing any previous entry.
func (c *Cache) Put(ctx context.Context, url, body string) {
	_, err := c.db.ExecContext(ctx,
		`INSERT INTO fetch_cache (url, body, fetched_at) VALUES (?, ?, ?)
		 ON CONFLICT(url) DO UPDATE SET body = excluded.body, fetched_at = excluded.fetched_at`,
		url, body, time.Now().UTC(),
	)
	if err != nil {
		log.Debug().Err(err).Str("url", url).Msg("fetch cache write failed")
	}
}
