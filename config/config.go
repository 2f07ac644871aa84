// Package config loads bdcache configuration from a file and the
// environment.
//
// Sources are layered: built-in defaults first, then the config file
// ($BDCACHE_CONFIG, or config.yaml under the data directory's default
// location), then BDCACHE_* environment variables. Later sources win, so
// CI can override a checked-in file with plain environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/meigma/bdcache"
	"github.com/meigma/bdcache/store"
	"github.com/meigma/bdcache/store/compress"
	"github.com/meigma/bdcache/store/disk"
	"github.com/meigma/bdcache/store/ocistore"
)

const (
	envPrefix     = "BDCACHE"
	envConfigFile = "BDCACHE_CONFIG"
)

// Remote configures the remote cache backend.
type Remote struct {
	// Enabled turns remote replication on. Off by default: a purely
	// local cache is valid and complete.
	Enabled bool `mapstructure:"enabled"`

	// Reference is the registry repository artifacts are replicated to,
	// e.g. "registry.example.com/team/bdcache".
	Reference string `mapstructure:"reference"`

	// PlainHTTP uses plain HTTP for the registry connection. Only for
	// local test registries.
	PlainHTTP bool `mapstructure:"plain_http"`

	// Retries is how many times transient remote failures are retried.
	Retries int `mapstructure:"retries"`

	// RetryInterval is the initial backoff interval between retries.
	RetryInterval time.Duration `mapstructure:"retry_interval"`
}

// Config is the full bdcache configuration.
type Config struct {
	// DataDir is the root of the local cache: artifacts live under
	// "artifacts", lock files under "locks". Default ~/.bdcache.
	DataDir string `mapstructure:"data_dir"`

	// LockTimeout bounds the wait for another requester's in-flight
	// build of the same fingerprint.
	LockTimeout time.Duration `mapstructure:"lock_timeout"`

	// Compression stores artifacts zstd-compressed. Both tiers of one
	// cache space must agree on this setting.
	Compression bool `mapstructure:"compression"`

	Remote Remote `mapstructure:"remote"`
}

// Load reads configuration from the file and environment layers and
// validates the result.
func Load() (*Config, error) {
	v := viper.New()

	v.SetDefault("data_dir", defaultDataDir())
	v.SetDefault("lock_timeout", 5*time.Minute)
	v.SetDefault("compression", false)
	v.SetDefault("remote.enabled", false)
	v.SetDefault("remote.reference", "")
	v.SetDefault("remote.plain_http", false)
	v.SetDefault("remote.retries", 3)
	v.SetDefault("remote.retry_interval", 500*time.Millisecond)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path := os.Getenv(envConfigFile); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(defaultDataDir())
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("config: read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports the first invalid field.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return errors.New("config: data_dir must not be empty")
	}
	if c.LockTimeout <= 0 {
		return errors.New("config: lock_timeout must be positive")
	}
	if c.Remote.Enabled && c.Remote.Reference == "" {
		return errors.New("config: remote.reference is required when remote.enabled is set")
	}
	if c.Remote.Retries < 0 {
		return errors.New("config: remote.retries must be >= 0")
	}
	if c.Remote.RetryInterval <= 0 {
		return errors.New("config: remote.retry_interval must be positive")
	}
	return nil
}

// ArtifactsDir returns the directory holding local artifacts.
func (c *Config) ArtifactsDir() string {
	return filepath.Join(c.DataDir, "artifacts")
}

// LocksDir returns the directory holding per-fingerprint lock files.
func (c *Config) LocksDir() string {
	return filepath.Join(c.DataDir, "locks")
}

// LocalStore opens the local tier described by the configuration.
func (c *Config) LocalStore() (store.Store, error) {
	local, err := disk.New(c.ArtifactsDir())
	if err != nil {
		return nil, err
	}
	if !c.Compression {
		return local, nil
	}
	return compress.New(local)
}

// RemoteStore opens the remote tier, or returns nil when disabled.
func (c *Config) RemoteStore(opts ...ocistore.Option) (store.Store, error) {
	if !c.Remote.Enabled {
		return nil, nil
	}
	host, _ := os.Hostname()
	all := append([]ocistore.Option{
		ocistore.WithPlainHTTP(c.Remote.PlainHTTP),
		ocistore.WithRetries(c.Remote.Retries),
		ocistore.WithRetryInterval(c.Remote.RetryInterval),
		ocistore.WithCreator(host),
	}, opts...)
	remote, err := ocistore.NewRepository(c.Remote.Reference, all...)
	if err != nil {
		return nil, err
	}
	if !c.Compression {
		return remote, nil
	}
	return compress.New(remote)
}

// Open assembles a ready Coordinator from the configuration.
func (c *Config) Open(builder bdcache.Builder, opts ...bdcache.Option) (*bdcache.Coordinator, error) {
	local, err := c.LocalStore()
	if err != nil {
		return nil, err
	}

	all := []bdcache.Option{
		bdcache.WithLockDir(c.LocksDir()),
		bdcache.WithLockTimeout(c.LockTimeout),
	}
	remote, err := c.RemoteStore()
	if err != nil {
		return nil, err
	}
	if remote != nil {
		all = append(all, bdcache.WithRemote(remote))
	}
	all = append(all, opts...)

	return bdcache.New(local, builder, all...)
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".bdcache"
	}
	return filepath.Join(home, ".bdcache")
}
