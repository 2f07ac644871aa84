// Package integration contains end-to-end tests that exercise the cache
// against a real OCI registry running in a container.
//
// Run with:
//
//	go test -tags integration ./integration/...
//
// Docker is required. Set SKIP_DOCKER_TESTS=1 to skip.
package integration
