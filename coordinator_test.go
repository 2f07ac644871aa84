package bdcache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/bdcache/internal/testutil"
	"github.com/meigma/bdcache/store"
	"github.com/meigma/bdcache/store/disk"
)

type countingBuilder struct {
	calls atomic.Int64
	data  []byte
	err   error
	delay time.Duration
}

func (b *countingBuilder) Build(ctx context.Context, _ Requirement) ([]byte, error) {
	b.calls.Add(1)
	if b.delay > 0 {
		select {
		case <-time.After(b.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if b.err != nil {
		return nil, b.err
	}
	return b.data, nil
}

func newTestCoordinator(t *testing.T, local store.Store, builder Builder, opts ...Option) *Coordinator {
	t.Helper()
	opts = append([]Option{WithLockDir(t.TempDir()), WithLockTimeout(10 * time.Second)}, opts...)
	c, err := New(local, builder, opts...)
	require.NoError(t, err)
	return c
}

func TestAcquireBuildsOnDoubleMiss(t *testing.T) {
	t.Parallel()

	local := testutil.NewMemStore()
	remote := testutil.NewMemStore()
	builder := &countingBuilder{data: []byte("wheel bytes")}
	c := newTestCoordinator(t, local, builder, WithRemote(remote))

	art, err := c.Acquire(t.Context(), testRequirement(t), testEnvironment())
	require.NoError(t, err)

	assert.Equal(t, TierBuilt, art.Tier)
	assert.Equal(t, []byte("wheel bytes"), art.Data)
	assert.Equal(t, int64(len("wheel bytes")), art.Size)
	assert.EqualValues(t, 1, builder.calls.Load())

	// Stored locally and replicated remotely.
	assert.Equal(t, 1, local.Len())
	assert.Equal(t, 1, remote.Len())
}

func TestAcquireIdempotent(t *testing.T) {
	t.Parallel()

	local := testutil.NewMemStore()
	builder := &countingBuilder{data: []byte("artifact")}
	c := newTestCoordinator(t, local, builder)

	first, err := c.Acquire(t.Context(), testRequirement(t), testEnvironment())
	require.NoError(t, err)
	require.Equal(t, TierBuilt, first.Tier)

	second, err := c.Acquire(t.Context(), testRequirement(t), testEnvironment())
	require.NoError(t, err)
	assert.Equal(t, TierLocal, second.Tier)
	assert.Equal(t, first.Data, second.Data)
	assert.EqualValues(t, 1, builder.calls.Load(), "second acquire must not rebuild")
}

func TestAcquireRemoteHit(t *testing.T) {
	t.Parallel()

	req := testRequirement(t)
	env := testEnvironment()
	fp, err := ComputeFingerprint(req, env)
	require.NoError(t, err)

	local := testutil.NewMemStore()
	remote := testutil.NewMemStore()
	require.NoError(t, remote.Put(t.Context(), fp.String(), []byte("remote artifact")))

	builder := &countingBuilder{data: []byte("should not be built")}
	c := newTestCoordinator(t, local, builder, WithRemote(remote))

	art, err := c.Acquire(t.Context(), req, env)
	require.NoError(t, err)

	assert.Equal(t, TierRemote, art.Tier)
	assert.Equal(t, []byte("remote artifact"), art.Data)
	assert.Zero(t, builder.calls.Load(), "remote hit must not invoke the builder")

	// Propagated to the local tier.
	data, err := local.Get(t.Context(), fp.String())
	require.NoError(t, err)
	assert.Equal(t, []byte("remote artifact"), data)
}

func TestAcquireLocalHitSkipsRemote(t *testing.T) {
	t.Parallel()

	req := testRequirement(t)
	env := testEnvironment()
	fp, err := ComputeFingerprint(req, env)
	require.NoError(t, err)

	local := testutil.NewMemStore()
	require.NoError(t, local.Put(t.Context(), fp.String(), []byte("local artifact")))
	localPuts := local.PutCalls.Load()

	remote := testutil.NewMemStore()
	builder := &countingBuilder{data: []byte("unused")}
	c := newTestCoordinator(t, local, builder, WithRemote(remote))

	art, err := c.Acquire(t.Context(), req, env)
	require.NoError(t, err)

	assert.Equal(t, TierLocal, art.Tier)
	assert.Equal(t, []byte("local artifact"), art.Data)
	assert.Zero(t, builder.calls.Load())
	assert.Zero(t, remote.GetCalls.Load(), "local hit must not touch the remote tier")
	assert.Zero(t, remote.HasCalls.Load())
	assert.Equal(t, localPuts, local.PutCalls.Load(), "local hit must not rewrite the entry")
}

func TestAcquireDegradesWhenRemoteFails(t *testing.T) {
	t.Parallel()

	local := testutil.NewMemStore()
	remote := &testutil.FailStore{Err: errors.New("connection refused")}
	builder := &countingBuilder{data: []byte("built despite remote outage")}
	c := newTestCoordinator(t, local, builder, WithRemote(remote))

	art, err := c.Acquire(t.Context(), testRequirement(t), testEnvironment())
	require.NoError(t, err, "remote failures must never fail the request")

	assert.Equal(t, TierBuilt, art.Tier)
	assert.Equal(t, []byte("built despite remote outage"), art.Data)
	assert.EqualValues(t, 1, builder.calls.Load())
	// Get degraded to miss, Put failed best-effort; both were attempted.
	assert.EqualValues(t, 2, remote.Calls.Load())
	assert.Equal(t, 1, local.Len(), "artifact must still land in the local tier")
}

func TestAcquirePropagatesBuildError(t *testing.T) {
	t.Parallel()

	buildErr := errors.New("gcc exited with status 1")
	local := testutil.NewMemStore()
	builder := &countingBuilder{err: buildErr}
	c := newTestCoordinator(t, local, builder)

	_, err := c.Acquire(t.Context(), testRequirement(t), testEnvironment())
	require.Error(t, err)
	assert.ErrorIs(t, err, buildErr, "builder error must stay reachable through the chain")
	assert.Contains(t, err.Error(), "foo==1.0")
	assert.Equal(t, 0, local.Len())
}

func TestAcquireInvalidRequirement(t *testing.T) {
	t.Parallel()

	local := testutil.NewMemStore()
	builder := &countingBuilder{data: []byte("x")}
	c := newTestCoordinator(t, local, builder)

	_, err := c.Acquire(t.Context(), Requirement{}, testEnvironment())
	assert.ErrorIs(t, err, ErrInvalidRequirement)
	assert.Zero(t, builder.calls.Load())
}

func TestAcquireConcurrentSingleBuild(t *testing.T) {
	t.Parallel()

	const workers = 16

	local := testutil.NewMemStore()
	builder := &countingBuilder{data: []byte("expensive artifact"), delay: 50 * time.Millisecond}
	c := newTestCoordinator(t, local, builder)

	var wg sync.WaitGroup
	results := make([]*Artifact, workers)
	errs := make([]error, workers)
	for i := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = c.Acquire(t.Context(), testRequirement(t), testEnvironment())
		}()
	}
	wg.Wait()

	for i := range workers {
		require.NoError(t, errs[i])
		assert.Equal(t, []byte("expensive artifact"), results[i].Data)
	}
	assert.EqualValues(t, 1, builder.calls.Load(), "concurrent acquires must share one build")
}

func TestAcquireAcrossCoordinatorsSharedLockDir(t *testing.T) {
	t.Parallel()

	// Two coordinators over the same stores and lock directory model two
	// processes sharing a cache. Singleflight cannot help here; only the
	// file lock serializes them.
	lockDir := t.TempDir()
	cacheDir := t.TempDir()

	local1, err := disk.New(cacheDir)
	require.NoError(t, err)
	local2, err := disk.New(cacheDir)
	require.NoError(t, err)

	builder := &countingBuilder{data: []byte("shared artifact"), delay: 50 * time.Millisecond}

	c1, err := New(local1, builder, WithLockDir(lockDir), WithLockTimeout(10*time.Second))
	require.NoError(t, err)
	c2, err := New(local2, builder, WithLockDir(lockDir), WithLockTimeout(10*time.Second))
	require.NoError(t, err)

	var wg sync.WaitGroup
	arts := make([]*Artifact, 2)
	errs := make([]error, 2)
	for i, c := range []*Coordinator{c1, c2} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			arts[i], errs[i] = c.Acquire(t.Context(), testRequirement(t), testEnvironment())
		}()
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.Equal(t, arts[0].Data, arts[1].Data)
	assert.EqualValues(t, 1, builder.calls.Load(), "file lock must prevent a duplicate build")

	tiers := map[Tier]int{arts[0].Tier: 1}
	tiers[arts[1].Tier]++
	assert.Equal(t, 1, tiers[TierBuilt], "exactly one requester builds")
	assert.Equal(t, 1, tiers[TierLocal], "the other observes the finished artifact")
}

func TestAcquireLockTimeout(t *testing.T) {
	t.Parallel()

	lockDir := t.TempDir()
	local := testutil.NewMemStore()

	// Holder keeps the fingerprint lock while a second coordinator with a
	// tiny timeout tries to acquire.
	release := make(chan struct{})
	started := make(chan struct{})
	holderBuilder := BuilderFunc(func(ctx context.Context, _ Requirement) ([]byte, error) {
		close(started)
		<-release
		return []byte("slow"), nil
	})
	holder, err := New(local, holderBuilder, WithLockDir(lockDir), WithLockTimeout(10*time.Second))
	require.NoError(t, err)

	waiterBuilder := &countingBuilder{data: []byte("never built")}
	waiter, err := New(local, waiterBuilder, WithLockDir(lockDir), WithLockTimeout(100*time.Millisecond))
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := holder.Acquire(t.Context(), testRequirement(t), testEnvironment())
		assert.NoError(t, err)
	}()

	<-started
	_, err = waiter.Acquire(t.Context(), testRequirement(t), testEnvironment())
	assert.ErrorIs(t, err, ErrLockTimeout)
	assert.Zero(t, waiterBuilder.calls.Load())

	close(release)
	<-done
}

func TestAcquireWithDiskStoreRoundTrip(t *testing.T) {
	t.Parallel()

	local, err := disk.New(t.TempDir())
	require.NoError(t, err)
	builder := &countingBuilder{data: []byte("on-disk artifact")}
	c := newTestCoordinator(t, local, builder)

	art, err := c.Acquire(t.Context(), testRequirement(t), testEnvironment())
	require.NoError(t, err)
	require.Equal(t, TierBuilt, art.Tier)

	again, err := c.Acquire(t.Context(), testRequirement(t), testEnvironment())
	require.NoError(t, err)
	assert.Equal(t, TierLocal, again.Tier)
	assert.Equal(t, art.Data, again.Data)
	assert.False(t, again.CreatedAt.IsZero())
}
