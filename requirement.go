package bdcache

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/opencontainers/go-digest"
)

// Requirement identifies one installable package: a normalized name, the
// version selected by the resolver, and a digest of the source archive the
// build consumes. Requirements are immutable value types; construct them
// with NewRequirement so the name is normalized exactly once.
type Requirement struct {
	// Name is the normalized package name (lowercase, separator runs
	// collapsed to a single hyphen).
	Name string

	// Version is the exact version the resolver picked, e.g. "1.4.2".
	Version string

	// SourceDigest is the digest of the source distribution the artifact
	// is built from. Optional; when set it participates in the fingerprint
	// so a re-released archive under the same version invalidates the
	// cache entry.
	SourceDigest digest.Digest
}

var normalizedName = regexp.MustCompile(`^[a-z0-9](?:[a-z0-9-]*[a-z0-9])?$`)

// NewRequirement builds a Requirement with a normalized name.
func NewRequirement(name, version string, source digest.Digest) (Requirement, error) {
	r := Requirement{
		Name:         NormalizeName(name),
		Version:      version,
		SourceDigest: source,
	}
	if err := r.Validate(); err != nil {
		return Requirement{}, err
	}
	return r, nil
}

// NormalizeName lowercases a package name and collapses runs of hyphens,
// underscores, and dots into a single hyphen, so "Foo.Bar_baz" and
// "foo-bar-baz" name the same package.
func NormalizeName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	var b strings.Builder
	b.Grow(len(name))
	sep := false
	for _, r := range name {
		if r == '-' || r == '_' || r == '.' {
			sep = true
			continue
		}
		if sep {
			if b.Len() > 0 {
				b.WriteByte('-')
			}
			sep = false
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Validate reports whether the requirement is well formed. Violations wrap
// ErrInvalidRequirement.
func (r Requirement) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidRequirement)
	}
	if !normalizedName.MatchString(r.Name) {
		return fmt.Errorf("%w: name %q is not a normalized package name", ErrInvalidRequirement, r.Name)
	}
	if r.Version == "" {
		return fmt.Errorf("%w: %s has empty version", ErrInvalidRequirement, r.Name)
	}
	if strings.ContainsAny(r.Version, " \t\n\x00") {
		return fmt.Errorf("%w: %s has malformed version %q", ErrInvalidRequirement, r.Name, r.Version)
	}
	if r.SourceDigest != "" {
		if err := r.SourceDigest.Validate(); err != nil {
			return fmt.Errorf("%w: %s has invalid source digest: %v", ErrInvalidRequirement, r.Name, err)
		}
	}
	return nil
}

// String renders the requirement as "name==version" for logs and errors.
func (r Requirement) String() string {
	return r.Name + "==" + r.Version
}
