package bdcache

import "context"

// Builder produces a binary artifact for a requirement. The coordinator
// treats Build as opaque, expensive, and non-idempotent: it is invoked at
// most once per fingerprint and its errors are surfaced unchanged, never
// retried (build failures are typically deterministic).
type Builder interface {
	Build(ctx context.Context, req Requirement) ([]byte, error)
}

// BuilderFunc adapts a function to the Builder interface.
type BuilderFunc func(ctx context.Context, req Requirement) ([]byte, error)

func (f BuilderFunc) Build(ctx context.Context, req Requirement) ([]byte, error) {
	return f(ctx, req)
}
