package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/zen-systems/cmdgate/pkg/schema"
)

// SQLiteStore persists cached envelopes across restarts.
type SQLiteStore struct {
	db  *sql.DB
	ttl time.Duration

	now func() time.Time // test hook
}

// OpenSQLite opens (and if needed creates) the cache database at path.
func OpenSQLite(path string, ttl time.Duration) (*SQLiteStore, error) {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open cache db: %w", err)
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS responses(
		key TEXT PRIMARY KEY,
		envelope TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		expires_at INTEGER NOT NULL
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create cache table: %w", err)
	}

	return &SQLiteStore{db: db, ttl: ttl, now: time.Now}, nil
}

func (s *SQLiteStore) Get(ctx context.Context, key string) (*Entry, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT envelope, created_at, expires_at FROM responses WHERE key = ?`, key)

	var (
		payload   string
		createdAt int64
		expiresAt int64
	)
	if err := row.Scan(&payload, &createdAt, &expiresAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("cache get: %w", err)
	}

	entry := &Entry{
		Key:       key,
		CreatedAt: time.Unix(createdAt, 0),
		ExpiresAt: time.Unix(expiresAt, 0),
	}
	if entry.Expired(s.now()) {
		// Lazy eviction; the row is gone either way.
		_, _ = s.db.ExecContext(ctx, `DELETE FROM responses WHERE key = ?`, key)
		return nil, false, nil
	}

	if err := json.Unmarshal([]byte(payload), &entry.Envelope); err != nil {
		return nil, false, fmt.Errorf("cache get: decode envelope: %w", err)
	}
	return entry, true, nil
}

func (s *SQLiteStore) Put(ctx context.Context, key string, env *schema.ResponseEnvelope) error {
	stored := *env
	stored.CacheHit = false
	payload, err := json.Marshal(&stored)
	if err != nil {
		return fmt.Errorf("cache put: encode envelope: %w", err)
	}

	now := s.now()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO responses(key, envelope, created_at, expires_at)
		 VALUES(?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET
			envelope = excluded.envelope,
			created_at = excluded.created_at,
			expires_at = excluded.expires_at`,
		key, string(payload), now.Unix(), now.Add(s.ttl).Unix())
	if err != nil {
		return fmt.Errorf("cache put: %w", err)
	}
	return nil
}

// PurgeExpired removes all entries past their TTL.
func (s *SQLiteStore) PurgeExpired(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM responses WHERE expires_at < ?`, s.now().Unix())
	if err != nil {
		return 0, fmt.Errorf("cache purge: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
