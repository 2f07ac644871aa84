package bdcache

import (
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/meigma/bdcache/store"
)

const defaultLockTimeout = 5 * time.Minute

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithRemote sets the remote cache backend. Without it the coordinator
// runs local-only: misses go straight to the builder and nothing is
// replicated.
func WithRemote(remote store.Store) Option {
	return func(c *Coordinator) {
		c.remote = remote
	}
}

// WithLockDir sets the directory holding per-fingerprint lock files. All
// processes sharing a local cache directory must use the same lock
// directory.
func WithLockDir(dir string) Option {
	return func(c *Coordinator) {
		c.lockDir = dir
	}
}

// WithLockTimeout bounds how long Acquire waits for another requester's
// in-flight fetch or build of the same fingerprint. Expiry surfaces as
// ErrLockTimeout. Defaults to 5 minutes; size it to the slowest expected
// build.
func WithLockTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.lockTimeout = d
		}
	}
}

// WithLogger sets the logger for cache decisions and degraded operations.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) {
		c.logger = logger
	}
}

func defaultLockDir() string {
	return filepath.Join(os.TempDir(), "bdcache-locks")
}
