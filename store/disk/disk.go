// Package disk provides the local, filesystem-backed cache tier.
//
// Entries are sharded by key prefix and written atomically: content goes to
// a temporary file in the target directory and is renamed into place, so a
// crash mid-write never leaves a partially visible entry and concurrent
// writers of the same key converge on one winner. A JSON metadata sidecar
// is written before the artifact rename, so any visible artifact has
// metadata alongside it.
package disk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/meigma/bdcache/store"
)

const (
	defaultShardPrefixLen = 2
	defaultDirPerm        = 0o700

	tmpPrefix   = "tmp-"
	metadataExt = ".json"
	filePerm    = 0o600
)

var validKey = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]*$`)

// Store implements store.Store, store.Lister, and store.Statter on the
// local filesystem.
type Store struct {
	dir            string
	shardPrefixLen int
	dirPerm        os.FileMode
	creator        string
	now            func() time.Time
}

// Option configures a disk store.
type Option func(*Store)

// WithShardPrefixLen sets the number of key characters used for sharding.
// Use 0 to disable sharding. Defaults to 2.
func WithShardPrefixLen(n int) Option {
	return func(s *Store) {
		s.shardPrefixLen = n
	}
}

// WithDirPerm sets the directory permissions used for cache directories.
func WithDirPerm(mode os.FileMode) Option {
	return func(s *Store) {
		s.dirPerm = mode
	}
}

// WithCreator sets the creator identity recorded in metadata sidecars.
func WithCreator(creator string) Option {
	return func(s *Store) {
		s.creator = creator
	}
}

// New creates a disk store rooted at dir.
func New(dir string, opts ...Option) (*Store, error) {
	if dir == "" {
		return nil, errors.New("disk: store dir is empty")
	}
	s := &Store{
		dir:            dir,
		shardPrefixLen: defaultShardPrefixLen,
		dirPerm:        defaultDirPerm,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.shardPrefixLen < 0 {
		return nil, errors.New("disk: shard prefix length must be >= 0")
	}
	if err := os.MkdirAll(dir, s.dirPerm); err != nil {
		return nil, fmt.Errorf("disk: create store dir: %w", err)
	}
	return s, nil
}

// Dir returns the store's root directory.
func (s *Store) Dir() string { return s.dir }

// Has reports whether a complete artifact exists for the key. Temporary
// files are never visible here: only the final renamed path is checked.
func (s *Store) Has(_ context.Context, key string) (bool, error) {
	path, err := s.path(key)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("disk: stat %s: %w", key, err)
	}
	return true, nil
}

// Get returns the artifact bytes for the key, or store.ErrNotFound.
// I/O failures other than absence are surfaced as themselves; a failed
// read must not be mistaken for a miss.
func (s *Store) Get(_ context.Context, key string) ([]byte, error) {
	path, err := s.path(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", store.ErrNotFound, key)
		}
		return nil, fmt.Errorf("disk: read %s: %w", key, err)
	}
	return data, nil
}

// Put stores the artifact atomically. If the key already exists the write
// is skipped; by the fingerprint trust assumption the content is identical.
func (s *Store) Put(_ context.Context, key string, data []byte) error {
	path, err := s.path(key)
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, s.dirPerm); err != nil {
		return fmt.Errorf("disk: create shard dir: %w", err)
	}

	// Sidecar first: a visible artifact always has metadata next to it.
	meta := store.Metadata{
		Key:       key,
		Size:      int64(len(data)),
		CreatedAt: s.now().UTC(),
		CreatedBy: s.creator,
	}
	if err := s.writeFileAtomic(path+metadataExt, mustMarshal(meta)); err != nil {
		return fmt.Errorf("disk: write metadata for %s: %w", key, err)
	}

	if err := s.writeFileAtomic(path, data); err != nil {
		return fmt.Errorf("disk: write %s: %w", key, err)
	}
	return nil
}

// Stat returns the metadata sidecar for the key. If the artifact exists but
// the sidecar is missing or unreadable, metadata is synthesized from file
// info so older cache directories keep working.
func (s *Store) Stat(_ context.Context, key string) (store.Metadata, error) {
	path, err := s.path(key)
	if err != nil {
		return store.Metadata{}, err
	}
	fi, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return store.Metadata{}, fmt.Errorf("%w: %s", store.ErrNotFound, key)
		}
		return store.Metadata{}, fmt.Errorf("disk: stat %s: %w", key, err)
	}

	raw, err := os.ReadFile(path + metadataExt)
	if err == nil {
		var meta store.Metadata
		if json.Unmarshal(raw, &meta) == nil && meta.Key == key {
			return meta, nil
		}
	}
	return store.Metadata{
		Key:       key,
		Size:      fi.Size(),
		CreatedAt: fi.ModTime().UTC(),
	}, nil
}

// List enumerates the keys of complete entries. Temporary files and
// metadata sidecars are skipped. Order is not significant.
func (s *Store) List(_ context.Context) ([]string, error) {
	var keys []string
	err := filepath.WalkDir(s.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		name := d.Name()
		if strings.HasPrefix(name, tmpPrefix) || strings.HasSuffix(name, metadataExt) {
			return nil
		}
		if validKey.MatchString(name) {
			keys = append(keys, name)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("disk: list: %w", err)
	}
	return keys, nil
}

// writeFileAtomic writes data to a temporary file in the target directory
// and renames it into place. If another writer won the race, the temporary
// file is discarded and the existing entry stands.
func (s *Store) writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, tmpPrefix+"*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	if err := os.Chmod(tmpPath, filePerm); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}

	if err := os.Rename(tmpPath, path); err != nil {
		if _, statErr := os.Stat(path); statErr == nil {
			_ = os.Remove(tmpPath)
			return nil
		}
		_ = os.Remove(tmpPath)
		return err
	}
	return nil
}

func (s *Store) path(key string) (string, error) {
	if !validKey.MatchString(key) || strings.HasSuffix(key, metadataExt) || strings.HasPrefix(key, tmpPrefix) {
		return "", fmt.Errorf("disk: invalid key %q", key)
	}
	if s.shardPrefixLen <= 0 {
		return filepath.Join(s.dir, key), nil
	}
	prefixLen := s.shardPrefixLen
	if prefixLen > len(key) {
		prefixLen = len(key)
	}
	return filepath.Join(s.dir, key[:prefixLen], key), nil
}

func mustMarshal(meta store.Metadata) []byte {
	raw, err := json.Marshal(meta)
	if err != nil {
		// Metadata is a plain struct of marshalable fields.
		panic(err)
	}
	return raw
}
