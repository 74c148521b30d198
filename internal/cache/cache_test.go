package cache

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type entry struct {
	Completed int `json:"completed"`
	Total     int `json:"total"`
}

var t0 = time.Date(2025, 11, 20, 10, 0, 0, 0, time.UTC)

type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }

// backends returns every backend that can run in this environment.
func backends(t *testing.T) map[string]func(t *testing.T) Backend {
	t.Helper()
	m := map[string]func(t *testing.T) Backend{
		"file": func(t *testing.T) Backend {
			return NewFileBackend(filepath.Join(t.TempDir(), "cache"))
		},
		"sqlite": func(t *testing.T) Backend {
			b, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "cache.db"))
			require.NoError(t, err)
			return b
		},
	}
	if dsn := os.Getenv("INCSYNC_TEST_POSTGRES_DSN"); dsn != "" {
		m["postgres"] = func(t *testing.T) Backend {
			b, err := OpenPostgres(context.Background(), dsn)
			require.NoError(t, err)
			return b
		}
	}
	return m
}

func newStore(t *testing.T, b Backend, c *clock) *Store {
	t.Helper()
	s := New(b, WithTTL(time.Hour), WithClock(c.Now))
	t.Cleanup(func() {
		_, _ = s.Clear(context.Background())
		_ = s.Close()
	})
	return s
}

func TestStore(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			t.Run("set and get", func(t *testing.T) {
				c := &clock{now: t0}
				s := newStore(t, open(t), c)

				require.NoError(t, s.Set(ctx, "0001-auth--status", entry{3, 4}, time.Time{}))

				var got entry
				ok, err := s.Get(ctx, "0001-auth--status", &got)
				require.NoError(t, err)
				assert.True(t, ok)
				assert.Equal(t, entry{3, 4}, got)
			})

			t.Run("miss", func(t *testing.T) {
				s := newStore(t, open(t), &clock{now: t0})
				var got entry
				ok, err := s.Get(ctx, "absent", &got)
				require.NoError(t, err)
				assert.False(t, ok)
			})

			t.Run("expired entry is deleted on read", func(t *testing.T) {
				c := &clock{now: t0}
				s := newStore(t, open(t), c)
				require.NoError(t, s.Set(ctx, "k", entry{1, 4}, t0))

				c.now = t0.Add(2 * time.Hour)
				var got entry
				ok, err := s.Get(ctx, "k", &got)
				require.NoError(t, err)
				assert.False(t, ok)

				meta, err := s.Peek(ctx, "k", &got)
				require.NoError(t, err)
				assert.Nil(t, meta, "expired entry should be gone")
			})

			t.Run("peek reports staleness without deleting", func(t *testing.T) {
				c := &clock{now: t0}
				s := newStore(t, open(t), c)
				require.NoError(t, s.Set(ctx, "k", entry{1, 4}, t0))

				c.now = t0.Add(90 * time.Minute)
				var got entry
				meta, err := s.Peek(ctx, "k", &got)
				require.NoError(t, err)
				require.NotNil(t, meta)
				assert.True(t, meta.Stale)
				assert.Equal(t, 90*time.Minute, meta.Age)
				assert.Equal(t, entry{1, 4}, got)

				meta, err = s.Peek(ctx, "k", &got)
				require.NoError(t, err)
				assert.NotNil(t, meta)
			})

			t.Run("stats clear and age sweep", func(t *testing.T) {
				c := &clock{now: t0}
				s := newStore(t, open(t), c)
				require.NoError(t, s.Set(ctx, "a", entry{1, 1}, t0.Add(-3*time.Hour)))
				require.NoError(t, s.Set(ctx, "b", entry{1, 2}, t0.Add(-30*time.Minute)))
				require.NoError(t, s.Set(ctx, "c", entry{2, 2}, t0))

				st, err := s.Stats(ctx)
				require.NoError(t, err)
				assert.Equal(t, 3, st.Count)
				assert.Positive(t, st.TotalSize)
				assert.Equal(t, 3*time.Hour, st.OldestAge)

				n, err := s.DeleteOlderThan(ctx, time.Hour)
				require.NoError(t, err)
				assert.Equal(t, 1, n)

				n, err = s.Clear(ctx)
				require.NoError(t, err)
				assert.Equal(t, 2, n)

				st, err = s.Stats(ctx)
				require.NoError(t, err)
				assert.Zero(t, st.Count)
			})

			t.Run("delete absent is not an error", func(t *testing.T) {
				s := newStore(t, open(t), &clock{now: t0})
				assert.NoError(t, s.Delete(ctx, "nothing"))
			})
		})
	}
}

func TestFileBackend_CorruptRecordDeleted(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.json"), []byte("{not json"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "nots.json"), []byte(`{"data":{}}`), 0644))

	s := New(NewFileBackend(dir), WithClock(func() time.Time { return t0 }))

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, st.Count, "corrupt records are still listed")

	var got entry
	for _, key := range []string{"bad", "nots"} {
		ok, err := s.Get(ctx, key, &got)
		require.NoError(t, err)
		assert.False(t, ok)
		_, statErr := os.Stat(filepath.Join(dir, key+".json"))
		assert.True(t, os.IsNotExist(statErr), "%s should be deleted", key)
	}
}

func TestFileBackend_RecordFormat(t *testing.T) {
	dir := t.TempDir()
	s := New(NewFileBackend(dir), WithTTL(2*time.Hour))
	require.NoError(t, s.Set(context.Background(), "k", entry{1, 2}, t0))

	data, err := os.ReadFile(filepath.Join(dir, "k.json"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"timestamp": "2025-11-20T10:00:00Z"`)
	assert.Contains(t, string(data), `"ttl": 7200`)
	assert.Contains(t, string(data), `"completed": 1`)
}

func TestKey(t *testing.T) {
	tests := []struct {
		id, target, want string
	}{
		{"0001-auth", "status", "0001-auth--status"},
		{"0002-a b", "github", "0002-a_b--github"},
		{"../0003", "jira/x", ".._0003--jira_x"},
	}
	for _, tt := range tests {
		if got := Key(tt.id, tt.target); got != tt.want {
			t.Errorf("Key(%q, %q) = %q, want %q", tt.id, tt.target, got, tt.want)
		}
	}
}
