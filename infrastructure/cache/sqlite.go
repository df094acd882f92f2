package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	_ "modernc.org/sqlite"

	"github.com/qaforge/botshield/internal/domain"
	"github.com/qaforge/botshield/internal/ports"
)

var _ ports.CacheStore = (*SQLiteCache)(nil)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS verdicts (
	key        TEXT PRIMARY KEY,
	payload    BLOB NOT NULL,
	expires_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_verdicts_expires_at ON verdicts(expires_at);
`

// SQLiteCache is a key/TTL verdict store backed by a single SQLite file.
// Verdicts are stored as JSON payloads; expiry is a unix timestamp with
// zero meaning no expiry. Safe for concurrent use via database/sql's
// connection pool.
type SQLiteCache struct {
	db *sql.DB

	// now is replaceable in tests.
	now func() time.Time
}

// NewSQLiteCache opens (creating if needed) the cache database at path.
// Use ":memory:" for an ephemeral store.
func NewSQLiteCache(path string) (*SQLiteCache, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening cache database: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing cache schema: %w", err)
	}
	return &SQLiteCache{db: db, now: time.Now}, nil
}

// Get retrieves a cached verdict by key. Expired entries are deleted
// and reported as a miss.
func (sc *SQLiteCache) Get(ctx context.Context, key string) (*domain.ConsensusVerdict, bool, error) {
	var payload []byte
	var expiresAt int64
	err := sc.db.QueryRowContext(ctx,
		`SELECT payload, expires_at FROM verdicts WHERE key = ?`, key,
	).Scan(&payload, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, &ports.CacheError{Operation: "get", Key: key, Err: err}
	}

	if expiresAt != 0 && sc.now().Unix() > expiresAt {
		_, _ = sc.db.ExecContext(ctx, `DELETE FROM verdicts WHERE key = ?`, key)
		return nil, false, nil
	}

	var verdict domain.ConsensusVerdict
	if err := json.Unmarshal(payload, &verdict); err != nil {
		return nil, false, &ports.CacheError{Operation: "get", Key: key, Err: ports.ErrCacheCorrupted}
	}
	return &verdict, true, nil
}

// Set stores a verdict with an expiration time. A zero TTL means the
// entry does not expire.
func (sc *SQLiteCache) Set(ctx context.Context, key string, verdict *domain.ConsensusVerdict, ttl time.Duration) error {
	if verdict == nil {
		return &ports.CacheError{Operation: "set", Key: key, Err: ports.ErrCacheCorrupted}
	}

	payload, err := json.Marshal(verdict)
	if err != nil {
		return &ports.CacheError{Operation: "set", Key: key, Err: err}
	}

	var expiresAt int64
	if ttl > 0 {
		expiresAt = sc.now().Add(ttl).Unix()
	}

	_, err = sc.db.ExecContext(ctx,
		`INSERT INTO verdicts (key, payload, expires_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET payload = excluded.payload, expires_at = excluded.expires_at`,
		key, payload, expiresAt,
	)
	if err != nil {
		return &ports.CacheError{Operation: "set", Key: key, Err: err}
	}
	return nil
}

// Delete removes a verdict from the cache.
func (sc *SQLiteCache) Delete(ctx context.Context, key string) error {
	if _, err := sc.db.ExecContext(ctx, `DELETE FROM verdicts WHERE key = ?`, key); err != nil {
		return &ports.CacheError{Operation: "delete", Key: key, Err: err}
	}
	return nil
}

// Clear removes all cached verdicts.
func (sc *SQLiteCache) Clear(ctx context.Context) error {
	if _, err := sc.db.ExecContext(ctx, `DELETE FROM verdicts`); err != nil {
		return &ports.CacheError{Operation: "clear", Err: err}
	}
	return nil
}

// Close closes the underlying database.
func (sc *SQLiteCache) Close() error { return sc.db.Close() }
