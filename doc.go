// Package bdcache caches built binary distributions so repeated installs
// of the same requirement set skip the expensive build step.
//
// The cache is two-tiered: a local filesystem store and an optional remote
// OCI-registry-backed store shared across machines. Artifacts are keyed by
// a fingerprint derived from the requirement (name, version, source digest)
// and the build environment (platform, interpreter, ABI), so an artifact
// built for one environment is never served to an incompatible one.
//
// The entry point is the Coordinator:
//
//	local, _ := disk.New("/var/cache/bdcache/artifacts")
//	c, _ := bdcache.New(local, builder,
//		bdcache.WithRemote(remote),
//		bdcache.WithLockDir("/var/cache/bdcache/locks"),
//	)
//	art, err := c.Acquire(ctx, req, bdcache.HostEnvironment())
//
// Acquire checks the local tier, then the remote tier, and only then invokes
// the builder. Concurrent requests for the same fingerprint are serialized
// both in-process (singleflight) and across processes (advisory file locks),
// so a given artifact is built at most once no matter how many installs race
// for it. Remote availability is an optimization: after bounded retries the
// remote tier degrades to a miss and the request proceeds locally.
package bdcache
