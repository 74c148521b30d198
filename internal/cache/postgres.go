package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS incsync_cache_entries (
	key        TEXT PRIMARY KEY,
	data       JSONB NOT NULL,
	timestamp  TIMESTAMPTZ NOT NULL,
	ttl        BIGINT NOT NULL DEFAULT 0
)`

// PostgresBackend stores records in a shared Postgres table, for teams that
// run incsync from several machines against one cache.
type PostgresBackend struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects to dsn and ensures the cache table exists.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresBackend, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create cache table: %w", err)
	}
	return &PostgresBackend{pool: pool}, nil
}

// Name implements Backend.
func (b *PostgresBackend) Name() string { return "postgres" }

// Read implements Backend.
func (b *PostgresBackend) Read(ctx context.Context, key string) (*Record, error) {
	var (
		rec  Record
		data []byte
	)
	row := b.pool.QueryRow(ctx,
		`SELECT data, timestamp, ttl FROM incsync_cache_entries WHERE key = $1`, key)
	if err := row.Scan(&data, &rec.Timestamp, &rec.TTL); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query cache entry %s: %w", key, err)
	}
	rec.Data = data
	rec.Timestamp = rec.Timestamp.UTC()
	return &rec, nil
}

// Write implements Backend.
func (b *PostgresBackend) Write(ctx context.Context, key string, rec *Record) error {
	_, err := b.pool.Exec(ctx, `
		INSERT INTO incsync_cache_entries (key, data, timestamp, ttl) VALUES ($1, $2, $3, $4)
		ON CONFLICT (key) DO UPDATE SET data = EXCLUDED.data, timestamp = EXCLUDED.timestamp, ttl = EXCLUDED.ttl`,
		key, []byte(rec.Data), rec.Timestamp, rec.TTL)
	if err != nil {
		return fmt.Errorf("upsert cache entry %s: %w", key, err)
	}
	return nil
}

// Delete implements Backend.
func (b *PostgresBackend) Delete(ctx context.Context, key string) error {
	tag, err := b.pool.Exec(ctx, `DELETE FROM incsync_cache_entries WHERE key = $1`, key)
	if err != nil {
		return fmt.Errorf("delete cache entry %s: %w", key, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// List implements Backend.
func (b *PostgresBackend) List(ctx context.Context) ([]RecordInfo, error) {
	rows, err := b.pool.Query(ctx,
		`SELECT key, octet_length(data::text), timestamp FROM incsync_cache_entries ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("list cache entries: %w", err)
	}
	defer rows.Close()

	var infos []RecordInfo
	for rows.Next() {
		var (
			ri RecordInfo
			ts time.Time
		)
		if err := rows.Scan(&ri.Key, &ri.Size, &ts); err != nil {
			return nil, fmt.Errorf("scan cache entry: %w", err)
		}
		ri.Timestamp = ts.UTC()
		infos = append(infos, ri)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cache entries: %w", err)
	}
	return infos, nil
}

// Close implements Backend.
func (b *PostgresBackend) Close() error {
	b.pool.Close()
	return nil
}
