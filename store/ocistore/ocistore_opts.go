package ocistore

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"oras.land/oras-go/v2/errdef"
	"oras.land/oras-go/v2/registry/remote"
	"oras.land/oras-go/v2/registry/remote/auth"
	"oras.land/oras-go/v2/registry/remote/errcode"
	"oras.land/oras-go/v2/registry/remote/retry"
)

// Option configures a Store.
type Option func(*options)

type options struct {
	retries       uint64
	retryInterval time.Duration
	creator       string
	logger        *slog.Logger
	plainHTTP     bool
	userAgent     string
	credential    auth.CredentialFunc
}

func newOptions(opts []Option) *options {
	cfg := &options{
		retries:       defaultRetries,
		retryInterval: defaultRetryInterval,
		userAgent:     "bdcache/1.0",
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(cfg)
	}
	return cfg
}

// WithRetries sets how many times a failed operation is retried after the
// initial attempt. Zero disables retrying.
func WithRetries(n int) Option {
	return func(o *options) {
		if n >= 0 {
			o.retries = uint64(n)
		}
	}
}

// WithRetryInterval sets the initial backoff interval between retries.
func WithRetryInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.retryInterval = d
		}
	}
}

// WithCreator sets the creator identity recorded in uploaded metadata.
func WithCreator(creator string) Option {
	return func(o *options) {
		o.creator = creator
	}
}

// WithLogger sets the logger used for retry and upload diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithPlainHTTP enables plain HTTP for the repository connection. Only for
// local test registries.
func WithPlainHTTP(enabled bool) Option {
	return func(o *options) {
		o.plainHTTP = enabled
	}
}

// WithCredential sets the credential function used to authenticate against
// the registry. The default is anonymous access.
func WithCredential(fn auth.CredentialFunc) Option {
	return func(o *options) {
		o.credential = fn
	}
}

// WithUserAgent sets the User-Agent header sent to the registry.
func WithUserAgent(ua string) Option {
	return func(o *options) {
		if ua != "" {
			o.userAgent = ua
		}
	}
}

// NewRepository creates a Store backed by a remote registry repository,
// e.g. "registry.example.com/team/bdcache". Authentication uses the
// credential function when provided and anonymous access otherwise.
func NewRepository(ref string, opts ...Option) (*Store, error) {
	cfg := newOptions(opts)

	repo, err := remote.NewRepository(ref)
	if err != nil {
		return nil, fmt.Errorf("ocistore: parse reference %q: %w", ref, err)
	}
	repo.PlainHTTP = cfg.plainHTTP

	client := &auth.Client{
		Client: retry.DefaultClient,
		Cache:  auth.NewCache(),
		Header: http.Header{
			"User-Agent": []string{cfg.userAgent},
		},
	}
	if cfg.credential != nil {
		client.Credential = cfg.credential
	}
	repo.Client = client

	s := New(repo)
	s.retries = cfg.retries
	s.retryInterval = cfg.retryInterval
	s.creator = cfg.creator
	s.logger = cfg.logger
	return s, nil
}

// isPermanent reports whether an error should not be retried: not-found,
// already-exists, and client-side registry rejections other than timeouts
// and rate limiting. Everything else (network errors, 5xx) is assumed
// transient.
func isPermanent(err error) bool {
	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		return true
	}
	if errors.Is(err, errdef.ErrNotFound) ||
		errors.Is(err, errdef.ErrAlreadyExists) ||
		errors.Is(err, errdef.ErrInvalidReference) ||
		errors.Is(err, errdef.ErrUnsupported) {
		return true
	}

	var resp *errcode.ErrorResponse
	if errors.As(err, &resp) {
		if resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode == http.StatusTooManyRequests {
			return false
		}
		return resp.StatusCode >= 400 && resp.StatusCode < 500
	}

	return false
}
