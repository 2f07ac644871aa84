package bdcache

import (
	"fmt"
	"runtime"
	"slices"
	"strings"
)

// Environment describes the build environment an artifact is compatible
// with. Every field participates in the fingerprint: two environments that
// differ in any build-relevant dimension must never share an artifact, so
// callers should err on the side of including more detail rather than less.
type Environment struct {
	// Platform is the OS/architecture tag, e.g. "linux-x86_64".
	Platform string

	// Interpreter is the interpreter implementation and version tag the
	// artifact targets, e.g. "cp39". Empty for interpreter-independent
	// artifacts.
	Interpreter string

	// ABI is the binary interface tag, e.g. "cp39-gnu". Empty when the
	// artifact has no ABI dependency.
	ABI string

	// Extra holds additional compiler-relevant tags (optimization flags,
	// libc variant, CUDA version). Order is not significant; tags are
	// sorted before fingerprinting.
	Extra []string
}

// HostEnvironment returns an Environment describing the running system.
// Interpreter and ABI are left empty; callers targeting a specific runtime
// fill them in.
func HostEnvironment() Environment {
	return Environment{
		Platform: runtime.GOOS + "-" + runtime.GOARCH,
	}
}

// Validate reports whether the environment is well formed. Violations wrap
// ErrInvalidRequirement since they make the request unfingerprintable.
func (e Environment) Validate() error {
	if e.Platform == "" {
		return fmt.Errorf("%w: environment has empty platform", ErrInvalidRequirement)
	}
	for _, f := range []string{e.Platform, e.Interpreter, e.ABI} {
		if strings.ContainsAny(f, " \t\n\x00") {
			return fmt.Errorf("%w: malformed environment tag %q", ErrInvalidRequirement, f)
		}
	}
	for _, tag := range e.Extra {
		if tag == "" || strings.ContainsAny(tag, " \t\n\x00") {
			return fmt.Errorf("%w: malformed extra tag %q", ErrInvalidRequirement, tag)
		}
	}
	return nil
}

// String renders the environment as a hyphenated tag for logs.
func (e Environment) String() string {
	parts := make([]string, 0, 3+len(e.Extra))
	for _, f := range []string{e.Platform, e.Interpreter, e.ABI} {
		if f != "" {
			parts = append(parts, f)
		}
	}
	extra := slices.Clone(e.Extra)
	slices.Sort(extra)
	parts = append(parts, extra...)
	return strings.Join(parts, "-")
}
