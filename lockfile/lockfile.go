// Package lockfile provides cross-process advisory locks scoped to a
// cache key.
//
// Requesters for the same fingerprint may be separate OS processes sharing
// one cache directory, so in-process synchronization is not enough. Each
// key gets a lock file held via an OS advisory lock (flock); the kernel
// releases the lock when the owning process exits, so a crashed owner never
// wedges the cache and no heartbeat protocol is needed. Owner identity is
// written into the file purely for diagnostics.
package lockfile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
)

// ErrTimeout is returned when a lock could not be acquired before the
// context deadline. The condition is transient: the holder finishes or
// dies eventually, so callers may retry.
var ErrTimeout = errors.New("lockfile: acquisition timed out")

const defaultPollInterval = 50 * time.Millisecond

// Lock is an advisory lock on a single file. A Lock is not reusable across
// goroutines; create one per acquisition.
type Lock struct {
	path         string
	pollInterval time.Duration
	fl           *flock.Flock
}

// Option configures a Lock.
type Option func(*Lock)

// WithPollInterval sets how often acquisition re-attempts the lock while
// waiting. Defaults to 50ms.
func WithPollInterval(d time.Duration) Option {
	return func(l *Lock) {
		if d > 0 {
			l.pollInterval = d
		}
	}
}

// New creates a lock for the given path. The lock is not held until
// Acquire succeeds.
func New(path string, opts ...Option) *Lock {
	l := &Lock{
		path:         path,
		pollInterval: defaultPollInterval,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Path returns the lock file path.
func (l *Lock) Path() string { return l.path }

// ownerInfo is written into the lock file after acquisition so an operator
// inspecting a busy cache can see who holds a lock. It has no protocol
// role: liveness comes from the OS lock itself.
type ownerInfo struct {
	Token      string    `json:"token"`
	PID        int       `json:"pid"`
	Host       string    `json:"host"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// Acquire blocks until the lock is held or ctx expires. Expiry is reported
// as ErrTimeout.
func (l *Lock) Acquire(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o700); err != nil {
		return fmt.Errorf("lockfile: create lock dir: %w", err)
	}

	fl := flock.New(l.path)
	locked, err := fl.TryLockContext(ctx, l.pollInterval)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return fmt.Errorf("%w: %s", ErrTimeout, l.path)
		}
		return fmt.Errorf("lockfile: lock %s: %w", l.path, err)
	}
	if !locked {
		return fmt.Errorf("%w: %s", ErrTimeout, l.path)
	}
	l.fl = fl

	l.writeOwner()
	return nil
}

// Release drops the lock. The lock file is left in place for reuse.
func (l *Lock) Release() error {
	if l.fl == nil {
		return nil
	}
	err := l.fl.Unlock()
	l.fl = nil
	if err != nil {
		return fmt.Errorf("lockfile: unlock %s: %w", l.path, err)
	}
	return nil
}

// writeOwner records the holder's identity in the lock file. Best effort:
// the lock is already held, and a failed write only loses diagnostics.
func (l *Lock) writeOwner() {
	host, _ := os.Hostname()
	info := ownerInfo{
		Token:      uuid.NewString(),
		PID:        os.Getpid(),
		Host:       host,
		AcquiredAt: time.Now().UTC(),
	}
	raw, err := json.Marshal(info)
	if err != nil {
		return
	}
	_ = os.WriteFile(l.path, raw, 0o600)
}

// Owner reads the identity recorded by the current or most recent holder.
func Owner(path string) (pid int, host string, ok bool) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, "", false
	}
	var info ownerInfo
	if json.Unmarshal(raw, &info) != nil {
		return 0, "", false
	}
	return info.PID, info.Host, true
}
