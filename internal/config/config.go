// Package config loads and validates incsync configuration.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/randalmurphal/incsync/internal/cache"
	syncerrors "github.com/randalmurphal/incsync/internal/errors"
	"github.com/randalmurphal/incsync/internal/increment"
	"github.com/randalmurphal/incsync/internal/retry"
	"github.com/randalmurphal/incsync/internal/tracker"
	"github.com/randalmurphal/incsync/internal/wip"
)

// ConfigFileName is the config file name inside the state directory.
const ConfigFileName = "config.yaml"

// Cache backends.
const (
	BackendFile     = "file"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// Config is the complete incsync configuration.
type Config struct {
	// Root is the project directory holding .incsync.
	Root     string                    `yaml:"root" mapstructure:"root" json:"root"`
	Cache    CacheConfig               `yaml:"cache" mapstructure:"cache" json:"cache"`
	Retry    retry.Policy              `yaml:"retry" mapstructure:"retry" json:"retry"`
	WIP      wip.Limits                `yaml:"wip" mapstructure:"wip" json:"wip"`
	Sync     SyncConfig                `yaml:"sync" mapstructure:"sync" json:"sync"`
	Trackers map[string]tracker.Config `yaml:"trackers" mapstructure:"trackers" json:"trackers,omitempty" validate:"dive"`
	Watch    WatchConfig               `yaml:"watch" mapstructure:"watch" json:"watch"`
	Metrics  MetricsConfig             `yaml:"metrics" mapstructure:"metrics" json:"metrics"`

	// Source is the config file that was read, empty when none was found.
	Source string `yaml:"-" mapstructure:"-" json:"source,omitempty"`
}

// CacheConfig selects the cache backend.
type CacheConfig struct {
	Backend string        `yaml:"backend" mapstructure:"backend" json:"backend" validate:"required,oneof=file sqlite postgres"`
	TTL     time.Duration `yaml:"ttl" mapstructure:"ttl" json:"ttl" validate:"gte=0"`

	// Dir holds file backend records, relative to Root unless absolute.
	Dir  string `yaml:"dir" mapstructure:"dir" json:"dir"`
	// Path is the SQLite database, relative to Root unless absolute.
	Path string `yaml:"path" mapstructure:"path" json:"path"`
	DSN  string `yaml:"dsn" mapstructure:"dsn" json:"-" validate:"required_if=Backend postgres"`
}

// SyncConfig controls batch tracker sync.
type SyncConfig struct {
	Concurrency int `yaml:"concurrency" mapstructure:"concurrency" json:"concurrency" validate:"gte=1,lte=32"`

	// RatePerSecond caps provider calls; zero is unlimited.
	RatePerSecond float64  `yaml:"rate_per_second" mapstructure:"rate_per_second" json:"rate_per_second" validate:"gte=0"`
	Burst         int      `yaml:"burst" mapstructure:"burst" json:"burst" validate:"gte=0"`
	Labels        []string `yaml:"labels" mapstructure:"labels" json:"labels,omitempty"`

	// Comment is posted on every synced issue when non-empty.
	Comment string `yaml:"comment" mapstructure:"comment" json:"comment,omitempty"`
}

// WatchConfig controls the watch command.
type WatchConfig struct {
	Debounce time.Duration `yaml:"debounce" mapstructure:"debounce" json:"debounce" validate:"gte=0"`
	// Repair also rewrites frontmatter counters after each propagation.
	Repair   bool          `yaml:"repair" mapstructure:"repair" json:"repair"`
}

// MetricsConfig controls metrics export.
type MetricsConfig struct {
	// Textfile, when set, receives Prometheus text exposition after each command.
	Textfile string `yaml:"textfile" mapstructure:"textfile" json:"textfile,omitempty"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Root: ".",
		Cache: CacheConfig{
			Backend: BackendFile,
			TTL:     cache.DefaultTTL,
			Dir:     filepath.Join(increment.StateDir, "cache"),
			Path:    filepath.Join(increment.StateDir, "cache.db"),
		},
		Retry: retry.DefaultPolicy(),
		WIP:   wip.DefaultLimits(),
		Sync: SyncConfig{
			Concurrency: 4,
			Burst:       1,
		},
		Watch: WatchConfig{Debounce: 500 * time.Millisecond},
	}
}

// Resolve returns p relative to Root unless it is absolute.
func (c *Config) Resolve(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.Root, p)
}

// Tracker returns the settings for the named tracker. A registered provider
// name without a config section gets zero settings, which read credentials
// from the environment.
func (c *Config) Tracker(name string) (tracker.Config, error) {
	if tc, ok := c.Trackers[name]; ok {
		return tc, nil
	}
	if slices.Contains(tracker.Registered(), tracker.Type(name)) {
		return tracker.Config{Provider: name}, nil
	}
	return tracker.Config{}, syncerrors.NewConfigInvalid("trackers."+name,
		fmt.Sprintf("no tracker named %q is configured", name))
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the configuration. Tracker sections without a provider
// take it from their key.
func (c *Config) Validate() error {
	for name, tc := range c.Trackers {
		if tc.Provider == "" {
			tc.Provider = strings.ToLower(name)
			c.Trackers[name] = tc
		}
	}
	if c.Retry.MaxDelay > 0 && c.Retry.InitialDelay > c.Retry.MaxDelay {
		return syncerrors.NewConfigInvalid("retry.initial_delay", "must not exceed retry.max_delay")
	}

	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return syncerrors.NewConfigInvalid("config", err.Error())
	}
	fe := verrs[0]
	return syncerrors.NewConfigInvalid(fieldPath(fe.Namespace()), describe(fe))
}

// fieldPath turns "Config.Sync.Concurrency" into "Sync.Concurrency".
func fieldPath(ns string) string {
	_, rest, ok := strings.Cut(ns, ".")
	if !ok {
		return ns
	}
	return rest
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "required_if":
		return fmt.Sprintf("is required when %s", strings.Replace(fe.Param(), " ", " is ", 1))
	case "oneof":
		return fmt.Sprintf("must be one of: %s", fe.Param())
	case "gte":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "lte":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "url":
		return "must be a URL"
	}
	return fmt.Sprintf("failed %q validation", fe.Tag())
}
