package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	syncerrors "github.com/randalmurphal/incsync/internal/errors"
	"github.com/randalmurphal/incsync/internal/increment"
	"github.com/randalmurphal/incsync/internal/tracker"
)

func isolate(t *testing.T) string {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, increment.StateDir), 0755))
	return root
}

func writeConfig(t *testing.T, root, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(root, increment.StateDir, ConfigFileName), []byte(content), 0644))
}

func TestLoad_Defaults(t *testing.T) {
	root := isolate(t)

	cfg, err := Load(LoadOptions{Root: root})
	require.NoError(t, err)
	assert.Equal(t, root, cfg.Root)
	assert.Empty(t, cfg.Source)
	assert.Equal(t, BackendFile, cfg.Cache.Backend)
	assert.Equal(t, 24*time.Hour, cfg.Cache.TTL)
	assert.Equal(t, 3, cfg.Retry.MaxRetries)
	assert.Equal(t, time.Second, cfg.Retry.InitialDelay)
	assert.Equal(t, 4, cfg.Sync.Concurrency)
	assert.Equal(t, 500*time.Millisecond, cfg.Watch.Debounce)
	require.NotNil(t, cfg.WIP.For(increment.TypeFeature).Recommended)
	assert.Equal(t, 1, *cfg.WIP.For(increment.TypeFeature).Recommended)
	assert.Equal(t, filepath.Join(root, ".incsync", "cache"), cfg.Resolve(cfg.Cache.Dir))
}

func TestLoad_ProjectFile(t *testing.T) {
	root := isolate(t)
	writeConfig(t, root, `
cache:
  backend: sqlite
  ttl: 30m
retry:
  max_retries: 5
  initial_delay: 2s
sync:
  concurrency: 8
  labels: [incsync, mirrored]
wip:
  overall:
    recommended: 2
    hard_cap: 3
trackers:
  github:
    repo: acme/widgets
  work:
    provider: jira
    base_url: https://acme.atlassian.net
    project: PROJ
`)

	cfg, err := Load(LoadOptions{Root: root})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, ".incsync", "config.yaml"), cfg.Source)
	assert.Equal(t, BackendSQLite, cfg.Cache.Backend)
	assert.Equal(t, 30*time.Minute, cfg.Cache.TTL)
	assert.Equal(t, 5, cfg.Retry.MaxRetries)
	assert.Equal(t, 2*time.Second, cfg.Retry.InitialDelay)
	assert.Equal(t, 30*time.Second, cfg.Retry.MaxDelay, "unset keys keep defaults")
	assert.Equal(t, 8, cfg.Sync.Concurrency)
	assert.Equal(t, []string{"incsync", "mirrored"}, cfg.Sync.Labels)
	require.NotNil(t, cfg.WIP.Overall.HardCap)
	assert.Equal(t, 3, *cfg.WIP.Overall.HardCap)

	gh, err := cfg.Tracker("github")
	require.NoError(t, err)
	assert.Equal(t, "github", gh.Provider, "provider defaults to the section key")
	assert.Equal(t, "acme/widgets", gh.Repo)

	work, err := cfg.Tracker("work")
	require.NoError(t, err)
	assert.Equal(t, "jira", work.Provider)
	assert.Equal(t, "PROJ", work.Project)
}

func TestLoad_EnvOverrides(t *testing.T) {
	root := isolate(t)
	writeConfig(t, root, "sync:\n  concurrency: 8\n")
	t.Setenv("INCSYNC_SYNC_CONCURRENCY", "2")
	t.Setenv("INCSYNC_CACHE_TTL", "5m")

	cfg, err := Load(LoadOptions{Root: root})
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Sync.Concurrency)
	assert.Equal(t, 5*time.Minute, cfg.Cache.TTL)
}

func TestLoad_ExplicitFileMustExist(t *testing.T) {
	isolate(t)
	_, err := Load(LoadOptions{File: filepath.Join(t.TempDir(), "nope.yaml")})
	require.Error(t, err)
	assert.Equal(t, syncerrors.CodeConfigInvalid, syncerrors.CodeOf(err))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"unknown backend", func(c *Config) { c.Cache.Backend = "redis" }, "Cache.Backend"},
		{"postgres without dsn", func(c *Config) { c.Cache.Backend = BackendPostgres }, "Cache.DSN"},
		{"zero concurrency", func(c *Config) { c.Sync.Concurrency = 0 }, "Sync.Concurrency"},
		{"too many retries", func(c *Config) { c.Retry.MaxRetries = 50 }, "Retry.MaxRetries"},
		{"initial delay above max", func(c *Config) { c.Retry.InitialDelay = time.Minute }, "retry.initial_delay"},
		{
			"unknown tracker provider",
			func(c *Config) { c.Trackers = map[string]tracker.Config{"x": {Provider: "trello"}} },
			"Trackers[x].Provider",
		},
		{
			"negative wip limit",
			func(c *Config) { n := -1; c.WIP.Overall.Recommended = &n },
			"WIP.Overall.Recommended",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Equal(t, syncerrors.CodeConfigInvalid, syncerrors.CodeOf(err))
			assert.Contains(t, err.Error(), tt.field)
		})
	}

	require.NoError(t, Default().Validate())
	cfg := Default()
	cfg.Cache.Backend = BackendPostgres
	cfg.Cache.DSN = "postgres://localhost/incsync"
	assert.NoError(t, cfg.Validate())
}

func TestTracker_Unknown(t *testing.T) {
	_, err := Default().Tracker("trello")
	require.Error(t, err)
	assert.Equal(t, syncerrors.CodeConfigInvalid, syncerrors.CodeOf(err))
}
