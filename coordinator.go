package bdcache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/meigma/bdcache/lockfile"
	"github.com/meigma/bdcache/store"
)

// Coordinator orchestrates artifact lookups across tiers: local store
// first, then the remote backend, then a fresh build. Newly built or
// remote-fetched artifacts are written back toward the local tier.
//
// At most one build or remote fetch is in flight per fingerprint, even
// across processes: requests are deduplicated in-process with singleflight
// and across processes with an advisory file lock per fingerprint. A
// requester that waited out another's build re-checks the local tier after
// acquiring the lock and finds the finished artifact instead of building
// again.
type Coordinator struct {
	local       store.Store
	remote      store.Store
	builder     Builder
	lockDir     string
	lockTimeout time.Duration
	logger      *slog.Logger
	group       singleflight.Group
	now         func() time.Time
}

// New creates a Coordinator. The local store and builder are required; a
// remote backend is optional (WithRemote).
//
// Processes sharing a local cache directory must also share the lock
// directory, or the cross-process build exclusion does not hold. The
// config package wires both from one data directory.
func New(local store.Store, builder Builder, opts ...Option) (*Coordinator, error) {
	if local == nil {
		return nil, errors.New("bdcache: local store is required")
	}
	if builder == nil {
		return nil, errors.New("bdcache: builder is required")
	}
	c := &Coordinator{
		local:       local,
		builder:     builder,
		lockTimeout: defaultLockTimeout,
		now:         time.Now,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(c)
	}
	if c.lockDir == "" {
		c.lockDir = defaultLockDir()
	}
	return c, nil
}

// log returns the logger, falling back to a discard logger if nil.
func (c *Coordinator) log() *slog.Logger {
	if c.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return c.logger
}

// Acquire returns the artifact for a requirement in the given build
// environment, reporting which tier satisfied it.
//
// Build failures are surfaced wrapped but never masked or retried. Remote
// tier failures degrade to a miss after bounded retries and never fail the
// request. Local store failures are fatal: the atomicity guarantee depends
// on a working local cache.
func (c *Coordinator) Acquire(ctx context.Context, req Requirement, env Environment) (*Artifact, error) {
	fp, err := ComputeFingerprint(req, env)
	if err != nil {
		return nil, err
	}
	key := fp.String()

	// Fast path: no locks when the local tier already has it.
	art, err := c.fromLocal(ctx, fp)
	if err == nil {
		c.log().Debug("local cache hit", "requirement", req.String(), "fingerprint", key)
		return art, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		return c.acquireSlow(ctx, req, fp)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Artifact), nil
}

// acquireSlow holds the cross-process lock for the fingerprint while it
// fetches or builds. Exactly one process runs this per fingerprint at a
// time; the rest block on the lock and then hit the local tier.
func (c *Coordinator) acquireSlow(ctx context.Context, req Requirement, fp Fingerprint) (*Artifact, error) {
	key := fp.String()

	lock := lockfile.New(filepath.Join(c.lockDir, key+".lock"))
	lockCtx, cancel := context.WithTimeout(ctx, c.lockTimeout)
	defer cancel()
	if err := lock.Acquire(lockCtx); err != nil {
		if errors.Is(err, lockfile.ErrTimeout) {
			return nil, fmt.Errorf("%w: %s (fingerprint %s)", ErrLockTimeout, req.String(), key)
		}
		return nil, err
	}
	defer func() {
		if err := lock.Release(); err != nil {
			c.log().Warn("failed to release fingerprint lock", "fingerprint", key, "error", err)
		}
	}()

	// Re-check local: another process may have finished the build while
	// this one waited on the lock.
	art, err := c.fromLocal(ctx, fp)
	if err == nil {
		c.log().Debug("local cache hit after lock wait", "requirement", req.String(), "fingerprint", key)
		return art, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	art, ok, err := c.fromRemote(ctx, req, fp)
	if err != nil {
		return nil, err
	}
	if ok {
		return art, nil
	}

	return c.build(ctx, req, fp)
}

// fromLocal reads the artifact from the local tier. Creation time comes
// from store metadata when the store tracks it.
func (c *Coordinator) fromLocal(ctx context.Context, fp Fingerprint) (*Artifact, error) {
	data, err := c.local.Get(ctx, fp.String())
	if err != nil {
		return nil, err
	}

	created := c.now().UTC()
	if statter, ok := c.local.(store.Statter); ok {
		if meta, err := statter.Stat(ctx, fp.String()); err == nil {
			created = meta.CreatedAt
		}
	}
	return &Artifact{
		Fingerprint: fp,
		Data:        data,
		Size:        int64(len(data)),
		CreatedAt:   created,
		Tier:        TierLocal,
	}, nil
}

// fromRemote tries the remote tier. Remote failures other than a genuine
// miss are logged and degraded to a miss: remote availability is an
// optimization, never a correctness dependency. On a hit the artifact is
// copied into the local tier before returning; a local write failure is
// fatal, since the cache cannot proceed without a usable local store.
func (c *Coordinator) fromRemote(ctx context.Context, req Requirement, fp Fingerprint) (*Artifact, bool, error) {
	if c.remote == nil {
		return nil, false, nil
	}
	key := fp.String()

	data, err := c.remote.Get(ctx, key)
	switch {
	case err == nil:
	case errors.Is(err, store.ErrNotFound):
		c.log().Debug("remote cache miss", "requirement", req.String(), "fingerprint", key)
		return nil, false, nil
	default:
		c.log().Warn("remote cache degraded to miss", "requirement", req.String(), "fingerprint", key, "error", err)
		return nil, false, nil
	}

	if err := c.local.Put(ctx, key, data); err != nil {
		return nil, false, fmt.Errorf("bdcache: store remote artifact %s: %w", key, err)
	}

	c.log().Debug("remote cache hit", "requirement", req.String(), "fingerprint", key, "size", len(data))
	return &Artifact{
		Fingerprint: fp,
		Data:        data,
		Size:        int64(len(data)),
		CreatedAt:   c.now().UTC(),
		Tier:        TierRemote,
	}, true, nil
}

// build invokes the builder, stores the result locally, and replicates it
// to the remote tier best-effort.
func (c *Coordinator) build(ctx context.Context, req Requirement, fp Fingerprint) (*Artifact, error) {
	key := fp.String()
	c.log().Info("building artifact", "requirement", req.String(), "fingerprint", key)

	data, err := c.builder.Build(ctx, req)
	if err != nil {
		// Build failures are deterministic more often than not; surface
		// them unchanged rather than retrying.
		return nil, fmt.Errorf("bdcache: build %s (fingerprint %s): %w", req.String(), key, err)
	}

	if err := c.local.Put(ctx, key, data); err != nil {
		return nil, fmt.Errorf("bdcache: store built artifact %s: %w", key, err)
	}

	if c.remote != nil {
		if err := c.remote.Put(ctx, key, data); err != nil {
			c.log().Warn("remote upload failed, artifact remains local-only", "fingerprint", key, "error", err)
		}
	}

	return &Artifact{
		Fingerprint: fp,
		Data:        data,
		Size:        int64(len(data)),
		CreatedAt:   c.now().UTC(),
		Tier:        TierBuilt,
	}, nil
}
