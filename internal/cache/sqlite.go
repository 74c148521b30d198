package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS cache_entries (
	key        TEXT PRIMARY KEY,
	data       BLOB NOT NULL,
	timestamp  INTEGER NOT NULL,
	ttl        INTEGER NOT NULL DEFAULT 0
)`

// SQLiteBackend stores records in a single SQLite table.
type SQLiteBackend struct {
	db *sql.DB
}

// OpenSQLite opens (and creates) the cache database at path.
func OpenSQLite(ctx context.Context, path string) (*SQLiteBackend, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// WAL and a busy timeout let racing hook processes share the file
	if _, err := db.ExecContext(ctx, `
		PRAGMA journal_mode = WAL;
		PRAGMA synchronous = NORMAL;
		PRAGMA busy_timeout = 5000;
	`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set pragmas: %w", err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create cache table: %w", err)
	}
	return &SQLiteBackend{db: db}, nil
}

// Name implements Backend.
func (b *SQLiteBackend) Name() string { return "sqlite" }

// Read implements Backend.
func (b *SQLiteBackend) Read(ctx context.Context, key string) (*Record, error) {
	var (
		rec  Record
		data []byte
		ts   int64
	)
	err := b.db.QueryRowContext(ctx,
		`SELECT data, timestamp, ttl FROM cache_entries WHERE key = ?`, key,
	).Scan(&data, &ts, &rec.TTL)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query cache entry: %w", err)
	}
	rec.Data = data
	rec.Timestamp = time.UnixMilli(ts).UTC()
	return &rec, nil
}

// Write implements Backend.
func (b *SQLiteBackend) Write(ctx context.Context, key string, rec *Record) error {
	_, err := b.db.ExecContext(ctx, `
		INSERT INTO cache_entries (key, data, timestamp, ttl) VALUES (?, ?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET data = excluded.data, timestamp = excluded.timestamp, ttl = excluded.ttl`,
		key, []byte(rec.Data), rec.Timestamp.UnixMilli(), rec.TTL)
	if err != nil {
		return fmt.Errorf("upsert cache entry: %w", err)
	}
	return nil
}

// Delete implements Backend.
func (b *SQLiteBackend) Delete(ctx context.Context, key string) error {
	res, err := b.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("delete cache entry: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// List implements Backend.
func (b *SQLiteBackend) List(ctx context.Context) ([]RecordInfo, error) {
	rows, err := b.db.QueryContext(ctx,
		`SELECT key, length(data), timestamp FROM cache_entries ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("list cache entries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var infos []RecordInfo
	for rows.Next() {
		var (
			ri RecordInfo
			ts int64
		)
		if err := rows.Scan(&ri.Key, &ri.Size, &ts); err != nil {
			return nil, fmt.Errorf("scan cache entry: %w", err)
		}
		ri.Timestamp = time.UnixMilli(ts).UTC()
		infos = append(infos, ri)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cache entries: %w", err)
	}
	return infos, nil
}

// Close implements Backend.
func (b *SQLiteBackend) Close() error {
	if b.db == nil {
		return nil
	}
	return b.db.Close()
}
