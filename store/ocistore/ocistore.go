// Package ocistore provides the remote cache tier backed by an OCI
// registry.
//
// Each fingerprint maps to one tagged manifest (tag = fingerprint) whose
// single layer holds the artifact bytes. Re-uploading a fingerprint
// overwrites the tag with identical content, which is harmless: the same
// fingerprint implies the same artifact.
//
// Every operation can fail transiently on the network, so operations are
// retried with bounded exponential backoff. After retries are exhausted the
// error wraps store.ErrUnavailable; the coordinator degrades such failures
// to a cache miss rather than failing the request.
package ocistore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"oras.land/oras-go/v2"
	"oras.land/oras-go/v2/content"
	"oras.land/oras-go/v2/errdef"

	"github.com/meigma/bdcache/store"
)

// Media types identifying bdcache content in a registry.
const (
	// MediaTypeArtifact is the media type of the layer holding the
	// artifact bytes.
	MediaTypeArtifact = "application/vnd.bdcache.artifact.layer.v1"

	// MediaTypeConfig is the media type of the config blob, which carries
	// the artifact metadata as JSON.
	MediaTypeConfig = "application/vnd.bdcache.artifact.config.v1+json"
)

const (
	defaultRetries       = 3
	defaultRetryInterval = 500 * time.Millisecond
)

// Store implements store.Store against any ORAS target, typically a
// remote repository created with NewRepository.
type Store struct {
	target        oras.Target
	retries       uint64
	retryInterval time.Duration
	creator       string
	logger        *slog.Logger
	now           func() time.Time
}

// New creates a Store on top of an existing ORAS target.
func New(target oras.Target, opts ...Option) *Store {
	cfg := newOptions(opts)
	return &Store{
		target:        target,
		retries:       cfg.retries,
		retryInterval: cfg.retryInterval,
		creator:       cfg.creator,
		logger:        cfg.logger,
		now:           time.Now,
	}
}

// log returns the logger, falling back to a discard logger if nil.
func (s *Store) log() *slog.Logger {
	if s.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return s.logger
}

// Has reports whether the registry has a manifest tagged with the key.
func (s *Store) Has(ctx context.Context, key string) (bool, error) {
	var found bool
	err := s.retry(ctx, func() error {
		_, err := s.target.Resolve(ctx, key)
		switch {
		case err == nil:
			found = true
			return nil
		case errors.Is(err, errdef.ErrNotFound):
			found = false
			return nil
		default:
			return err
		}
	})
	if err != nil {
		return false, fmt.Errorf("ocistore: check %s: %w: %w", key, store.ErrUnavailable, err)
	}
	return found, nil
}

// Get downloads the artifact for the key. Content is verified against the
// manifest's layer digest during the read. Returns store.ErrNotFound when
// no manifest is tagged with the key, and an error wrapping
// store.ErrUnavailable when the registry stays unreachable after retries.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	var data []byte
	err := s.retry(ctx, func() error {
		desc, err := s.target.Resolve(ctx, key)
		if err != nil {
			return err
		}
		manifest, err := s.fetchManifest(ctx, desc)
		if err != nil {
			return err
		}
		layer, err := artifactLayer(manifest)
		if err != nil {
			return backoff.Permanent(err)
		}
		rc, err := s.target.Fetch(ctx, layer)
		if err != nil {
			return err
		}
		defer rc.Close()

		// ReadAll verifies size and digest against the descriptor.
		data, err = content.ReadAll(rc, layer)
		return err
	})
	if err != nil {
		if errors.Is(err, errdef.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", store.ErrNotFound, key)
		}
		return nil, fmt.Errorf("ocistore: fetch %s: %w: %w", key, store.ErrUnavailable, err)
	}
	return data, nil
}

// Put uploads the artifact under the key. Uploads are idempotent: blobs
// that already exist are skipped and the tag is simply repointed at an
// identical manifest.
func (s *Store) Put(ctx context.Context, key string, data []byte) error {
	layer := content.NewDescriptorFromBytes(MediaTypeArtifact, data)

	meta := store.Metadata{
		Key:       key,
		Size:      int64(len(data)),
		CreatedAt: s.now().UTC(),
		CreatedBy: s.creator,
	}
	configBytes, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("ocistore: marshal metadata: %w", err)
	}
	configDesc := content.NewDescriptorFromBytes(MediaTypeConfig, configBytes)

	manifestBytes, manifestDesc, err := buildManifest(configDesc, layer, meta.CreatedAt)
	if err != nil {
		return err
	}

	err = s.retry(ctx, func() error {
		if err := s.pushIfAbsent(ctx, layer, data); err != nil {
			return err
		}
		if err := s.pushIfAbsent(ctx, configDesc, configBytes); err != nil {
			return err
		}
		if err := s.pushIfAbsent(ctx, manifestDesc, manifestBytes); err != nil {
			return err
		}
		return s.target.Tag(ctx, manifestDesc, key)
	})
	if err != nil {
		return fmt.Errorf("ocistore: upload %s: %w: %w", key, store.ErrUnavailable, err)
	}

	s.log().Debug("artifact uploaded", "key", key, "size", layer.Size)
	return nil
}

// pushIfAbsent pushes a blob unless the target already has it.
func (s *Store) pushIfAbsent(ctx context.Context, desc ocispec.Descriptor, blob []byte) error {
	exists, err := s.target.Exists(ctx, desc)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	if err := s.target.Push(ctx, desc, bytes.NewReader(blob)); err != nil && !errors.Is(err, errdef.ErrAlreadyExists) {
		return err
	}
	return nil
}

func (s *Store) fetchManifest(ctx context.Context, desc ocispec.Descriptor) (*ocispec.Manifest, error) {
	rc, err := s.target.Fetch(ctx, desc)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	raw, err := content.ReadAll(rc, desc)
	if err != nil {
		return nil, err
	}
	var manifest ocispec.Manifest
	if err := json.Unmarshal(raw, &manifest); err != nil {
		return nil, backoff.Permanent(fmt.Errorf("ocistore: invalid manifest: %w", err))
	}
	return &manifest, nil
}

// artifactLayer picks the artifact layer out of a manifest.
func artifactLayer(manifest *ocispec.Manifest) (ocispec.Descriptor, error) {
	for _, layer := range manifest.Layers {
		if layer.MediaType == MediaTypeArtifact {
			return layer, nil
		}
	}
	return ocispec.Descriptor{}, errors.New("ocistore: manifest has no artifact layer")
}

// retry runs op with bounded exponential backoff. Permanent failures
// (not-found, client-side rejections) abort immediately.
func (s *Store) retry(ctx context.Context, op func() error) error {
	attempt := 0
	wrapped := func() error {
		err := op()
		if err == nil {
			return nil
		}
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			return err
		}
		if isPermanent(err) {
			return backoff.Permanent(err)
		}
		attempt++
		s.log().Debug("retrying remote operation", "attempt", attempt, "error", err)
		return err
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = s.retryInterval
	bo.MaxElapsedTime = 0
	return backoff.Retry(wrapped, backoff.WithContext(backoff.WithMaxRetries(bo, s.retries), ctx))
}
