package bdcache

import (
	"errors"

	"github.com/meigma/bdcache/store"
)

// Sentinel errors for cache operations.
var (
	// ErrInvalidRequirement is returned when a requirement or environment
	// cannot be fingerprinted.
	ErrInvalidRequirement = errors.New("bdcache: invalid requirement")

	// ErrLockTimeout is returned when the per-fingerprint lock could not be
	// acquired within the configured bound. The condition is transient; the
	// caller may retry the whole Acquire.
	ErrLockTimeout = errors.New("bdcache: lock acquisition timed out")
)

// Errors re-exported from store.
var (
	// ErrNotFound is returned when an artifact does not exist in a tier.
	ErrNotFound = store.ErrNotFound

	// ErrRemoteUnavailable wraps transient remote backend failures that
	// survived retrying. The coordinator absorbs these and degrades to the
	// local-only path; they surface only from direct store use.
	ErrRemoteUnavailable = store.ErrUnavailable
)
