package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	syncerrors "github.com/randalmurphal/incsync/internal/errors"
	"github.com/randalmurphal/incsync/internal/increment"
)

// EnvPrefix prefixes every environment override, e.g. INCSYNC_SYNC_CONCURRENCY.
const EnvPrefix = "INCSYNC"

// LoadOptions locate the configuration.
type LoadOptions struct {
	// File is an explicit config file. It must exist.
	File string
	// Root is the project directory searched for .incsync/config.yaml.
	Root string
}

// Load reads configuration. Later sources override earlier ones:
//  1. Built-in defaults
//  2. File when given, else .incsync/config.yaml under Root, else
//     $HOME/.incsync/config.yaml
//  3. Environment variables (INCSYNC_*)
//
// The result is validated.
func Load(opts LoadOptions) (*Config, error) {
	root := opts.Root
	if root == "" {
		root = "."
	}

	v := viper.New()
	setDefaults(v, root)

	if opts.File != "" {
		v.SetConfigFile(opts.File)
	} else {
		v.AddConfigPath(filepath.Join(root, increment.StateDir))
		v.AddConfigPath("$HOME/" + increment.StateDir)
		v.SetConfigName(strings.TrimSuffix(ConfigFileName, filepath.Ext(ConfigFileName)))
	}
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if opts.File != "" || !errors.As(err, &notFound) {
			return nil, syncerrors.NewConfigInvalid("config file", err.Error())
		}
	}

	cfg := Default()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, syncerrors.NewConfigInvalid("config", fmt.Sprintf("decode: %v", err))
	}
	cfg.Source = v.ConfigFileUsed()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setDefaults registers every scalar key so AutomaticEnv can override it.
func setDefaults(v *viper.Viper, root string) {
	d := Default()
	v.SetDefault("root", root)
	v.SetDefault("cache.backend", d.Cache.Backend)
	v.SetDefault("cache.ttl", d.Cache.TTL)
	v.SetDefault("cache.dir", d.Cache.Dir)
	v.SetDefault("cache.path", d.Cache.Path)
	v.SetDefault("cache.dsn", "")
	v.SetDefault("retry.max_retries", d.Retry.MaxRetries)
	v.SetDefault("retry.initial_delay", d.Retry.InitialDelay)
	v.SetDefault("retry.max_delay", d.Retry.MaxDelay)
	v.SetDefault("retry.multiplier", d.Retry.Multiplier)
	v.SetDefault("sync.concurrency", d.Sync.Concurrency)
	v.SetDefault("sync.rate_per_second", d.Sync.RatePerSecond)
	v.SetDefault("sync.burst", d.Sync.Burst)
	v.SetDefault("sync.labels", []string{})
	v.SetDefault("sync.comment", d.Sync.Comment)
	v.SetDefault("watch.debounce", d.Watch.Debounce)
	v.SetDefault("watch.repair", d.Watch.Repair)
	v.SetDefault("metrics.textfile", "")
}
