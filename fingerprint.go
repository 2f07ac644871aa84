package bdcache

import (
	"encoding/binary"
	"slices"

	"github.com/opencontainers/go-digest"
)

// formatRevision is encoded into every fingerprint. Bump it when the cache
// layout or artifact format changes incompatibly; old and new entries then
// coexist without ever being served across the boundary.
const formatRevision = 1

// Fingerprint is the deterministic cache key for one (requirement,
// environment) pair: the hex-encoded SHA-256 of their canonical encoding.
// It is safe to use as a filename and as an OCI tag.
type Fingerprint string

func (f Fingerprint) String() string { return string(f) }

// ComputeFingerprint derives the cache key for a requirement in a given
// build environment. It is pure: the same inputs always produce the same
// key, and any difference in a build-relevant dimension produces a
// different key. Malformed inputs wrap ErrInvalidRequirement.
func ComputeFingerprint(req Requirement, env Environment) (Fingerprint, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}
	if err := env.Validate(); err != nil {
		return "", err
	}

	digester := digest.SHA256.Digester()
	h := digester.Hash()

	var rev [8]byte
	binary.BigEndian.PutUint64(rev[:], formatRevision)
	h.Write(rev[:])

	// Length-prefixed fields: no combination of field values can collide
	// with a different combination that happens to concatenate equally.
	writeField(h.Write, req.Name)
	writeField(h.Write, req.Version)
	writeField(h.Write, string(req.SourceDigest))
	writeField(h.Write, env.Platform)
	writeField(h.Write, env.Interpreter)
	writeField(h.Write, env.ABI)

	extra := slices.Clone(env.Extra)
	slices.Sort(extra)
	var count [8]byte
	binary.BigEndian.PutUint64(count[:], uint64(len(extra)))
	h.Write(count[:])
	for _, tag := range extra {
		writeField(h.Write, tag)
	}

	return Fingerprint(digester.Digest().Encoded()), nil
}

func writeField(w func([]byte) (int, error), s string) {
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], uint64(len(s)))
	w(n[:])
	w([]byte(s))
}
