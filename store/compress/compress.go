// Package compress wraps any store.Store with transparent zstd
// compression, so artifacts are compressed at rest and on the wire.
// It composes under either tier; both tiers of one cache space must agree
// on whether compression is enabled.
package compress

import (
	"context"
	"fmt"

	"github.com/klauspost/compress/zstd"

	"github.com/meigma/bdcache/store"
)

// Store compresses artifact bytes before delegating to an inner store and
// decompresses on the way out. Keys, existence checks, and listings pass
// through unchanged.
type Store struct {
	inner store.Store
	enc   *zstd.Encoder
	dec   *zstd.Decoder
}

// Option configures a compressing store.
type Option func(*config)

type config struct {
	level zstd.EncoderLevel
}

// WithLevel sets the zstd encoder level. Defaults to zstd.SpeedDefault.
func WithLevel(level zstd.EncoderLevel) Option {
	return func(c *config) {
		c.level = level
	}
}

// New wraps inner with zstd compression.
func New(inner store.Store, opts ...Option) (*Store, error) {
	cfg := config{level: zstd.SpeedDefault}
	for _, opt := range opts {
		opt(&cfg)
	}

	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(cfg.level))
	if err != nil {
		return nil, fmt.Errorf("compress: create encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("compress: create decoder: %w", err)
	}
	return &Store{inner: inner, enc: enc, dec: dec}, nil
}

// Has reports whether the inner store has the key.
func (s *Store) Has(ctx context.Context, key string) (bool, error) {
	return s.inner.Has(ctx, key)
}

// Get fetches and decompresses the artifact for the key.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	compressed, err := s.inner.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	data, err := s.dec.DecodeAll(compressed, nil)
	if err != nil {
		return nil, fmt.Errorf("compress: decompress %s: %w", key, err)
	}
	return data, nil
}

// Put compresses the artifact and stores it under the key.
func (s *Store) Put(ctx context.Context, key string, data []byte) error {
	return s.inner.Put(ctx, key, s.enc.EncodeAll(data, nil))
}

// List delegates to the inner store when it supports enumeration.
func (s *Store) List(ctx context.Context) ([]string, error) {
	lister, ok := s.inner.(store.Lister)
	if !ok {
		return nil, fmt.Errorf("compress: inner store does not support listing")
	}
	return lister.List(ctx)
}

// Stat delegates to the inner store when it tracks metadata. Sizes reflect
// the compressed entry as stored.
func (s *Store) Stat(ctx context.Context, key string) (store.Metadata, error) {
	statter, ok := s.inner.(store.Statter)
	if !ok {
		return store.Metadata{}, fmt.Errorf("compress: inner store does not track metadata")
	}
	return statter.Stat(ctx, key)
}
