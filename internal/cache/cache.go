// Package cache stores derived, disposable records with lazy TTL expiry.
//
// The cache is never authoritative. Any record may be deleted at any time
// and is rebuilt from the increment documents on demand.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/randalmurphal/incsync/internal/metrics"
)

// DefaultTTL is used when no TTL is configured.
const DefaultTTL = 24 * time.Hour

var (
	// ErrNotFound is returned by backends for absent keys.
	ErrNotFound = errors.New("cache record not found")
	// ErrCorrupt is returned by backends for unreadable records.
	ErrCorrupt = errors.New("cache record corrupt")
)

// Record is the persisted form of one entry.
type Record struct {
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
	TTL       int64           `json:"ttl"` // seconds
}

// RecordInfo describes a stored record without its payload.
type RecordInfo struct {
	Key       string
	Size      int64
	Timestamp time.Time
}

// Backend persists records. Implementations must be safe for use by
// multiple processes sharing the same storage.
type Backend interface {
	Name() string
	Read(ctx context.Context, key string) (*Record, error)
	Write(ctx context.Context, key string, rec *Record) error
	Delete(ctx context.Context, key string) error
	List(ctx context.Context) ([]RecordInfo, error)
	Close() error
}

// Stats summarizes the cache contents.
type Stats struct {
	Backend   string        `json:"backend"`
	Count     int           `json:"count"`
	TotalSize int64         `json:"total_size"`
	OldestAge time.Duration `json:"oldest_age"`
}

// Meta describes an entry returned by Peek.
type Meta struct {
	Timestamp time.Time
	Age       time.Duration
	Stale     bool
}

// Store is a TTL cache over a Backend. It holds no process-wide state;
// construct one per use.
type Store struct {
	backend Backend
	ttl     time.Duration
	now     func() time.Time
	logger  *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithTTL sets the expiry age. Non-positive values keep the default.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// New creates a Store over backend.
func New(backend Backend, opts ...Option) *Store {
	s := &Store{
		backend: backend,
		ttl:     DefaultTTL,
		now:     time.Now,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// TTL returns the configured expiry age.
func (s *Store) TTL() time.Duration { return s.ttl }

// Close releases the backend.
func (s *Store) Close() error { return s.backend.Close() }

var keyUnsafe = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// Key derives the stable cache key for an increment and sync target
// (e.g. "status", "github").
func Key(incrementID, target string) string {
	return keyUnsafe.ReplaceAllString(incrementID, "_") + "--" + keyUnsafe.ReplaceAllString(target, "_")
}

// Get decodes the entry for key into v. It returns false when the entry is
// absent, corrupt or older than the TTL; expired and corrupt entries are
// deleted as a side effect.
func (s *Store) Get(ctx context.Context, key string, v any) (bool, error) {
	rec, err := s.read(ctx, key)
	if err != nil || rec == nil {
		return false, err
	}

	if s.now().Sub(rec.Timestamp) > s.ttl {
		metrics.CacheLookup(s.backend.Name(), "expired")
		s.remove(ctx, key, "expired")
		return false, nil
	}
	if err := json.Unmarshal(rec.Data, v); err != nil {
		metrics.CacheLookup(s.backend.Name(), "corrupt")
		s.remove(ctx, key, "undecodable")
		return false, nil
	}
	metrics.CacheLookup(s.backend.Name(), "hit")
	return true, nil
}

// Peek decodes the entry for key regardless of age and never deletes it.
// It returns nil Meta when the entry is absent or corrupt.
func (s *Store) Peek(ctx context.Context, key string, v any) (*Meta, error) {
	rec, err := s.read(ctx, key)
	if err != nil || rec == nil {
		return nil, err
	}
	if err := json.Unmarshal(rec.Data, v); err != nil {
		return nil, nil
	}
	age := s.now().Sub(rec.Timestamp)
	return &Meta{Timestamp: rec.Timestamp, Age: age, Stale: age > s.ttl}, nil
}

func (s *Store) read(ctx context.Context, key string) (*Record, error) {
	rec, err := s.backend.Read(ctx, key)
	switch {
	case errors.Is(err, ErrNotFound):
		metrics.CacheLookup(s.backend.Name(), "miss")
		return nil, nil
	case errors.Is(err, ErrCorrupt):
		metrics.CacheLookup(s.backend.Name(), "corrupt")
		s.remove(ctx, key, "corrupt")
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("read cache %s: %w", key, err)
	}
	return rec, nil
}

func (s *Store) remove(ctx context.Context, key, reason string) {
	if err := s.backend.Delete(ctx, key); err != nil && !errors.Is(err, ErrNotFound) {
		s.logger.Warn("failed to delete cache entry", "key", key, "reason", reason, "error", err)
		return
	}
	s.logger.Debug("cache entry deleted", "key", key, "reason", reason)
}

// Set stores v under key with the given timestamp. A zero timestamp means now.
func (s *Store) Set(ctx context.Context, key string, v any, timestamp time.Time) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal cache %s: %w", key, err)
	}
	if timestamp.IsZero() {
		timestamp = s.now()
	}
	rec := &Record{
		Data:      data,
		Timestamp: timestamp.UTC(),
		TTL:       int64(s.ttl / time.Second),
	}
	if err := s.backend.Write(ctx, key, rec); err != nil {
		return fmt.Errorf("write cache %s: %w", key, err)
	}
	return nil
}

// Delete removes key. Deleting an absent key is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.backend.Delete(ctx, key); err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("delete cache %s: %w", key, err)
	}
	return nil
}

// Clear removes every entry and returns how many were removed.
func (s *Store) Clear(ctx context.Context) (int, error) {
	return s.deleteWhere(ctx, func(RecordInfo) bool { return true })
}

// DeleteOlderThan removes entries older than age.
func (s *Store) DeleteOlderThan(ctx context.Context, age time.Duration) (int, error) {
	now := s.now()
	return s.deleteWhere(ctx, func(ri RecordInfo) bool { return now.Sub(ri.Timestamp) > age })
}

func (s *Store) deleteWhere(ctx context.Context, match func(RecordInfo) bool) (int, error) {
	infos, err := s.backend.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list cache: %w", err)
	}
	n := 0
	for _, ri := range infos {
		if !match(ri) {
			continue
		}
		if err := s.Delete(ctx, ri.Key); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// Stats reports entry count, total size and the age of the oldest entry.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	infos, err := s.backend.List(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("list cache: %w", err)
	}
	st := Stats{Backend: s.backend.Name(), Count: len(infos)}
	now := s.now()
	for _, ri := range infos {
		st.TotalSize += ri.Size
		if age := now.Sub(ri.Timestamp); age > st.OldestAge {
			st.OldestAge = age
		}
	}
	return st, nil
}
