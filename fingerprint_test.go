package bdcache

import (
	"testing"

	"github.com/opencontainers/go-digest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRequirement(t *testing.T) Requirement {
	t.Helper()
	req, err := NewRequirement("foo", "1.0", digest.FromString("foo-1.0.tar.gz"))
	require.NoError(t, err)
	return req
}

func testEnvironment() Environment {
	return Environment{
		Platform:    "linux-x86_64",
		Interpreter: "cp39",
		ABI:         "cp39-gnu",
	}
}

func TestComputeFingerprintDeterministic(t *testing.T) {
	t.Parallel()

	req := testRequirement(t)
	env := testEnvironment()

	first, err := ComputeFingerprint(req, env)
	require.NoError(t, err)
	assert.Len(t, first.String(), 64, "fingerprint should be a hex sha256")

	for range 10 {
		again, err := ComputeFingerprint(req, env)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}

	// Separately constructed but equal inputs must agree.
	req2, err := NewRequirement("Foo", "1.0", digest.FromString("foo-1.0.tar.gz"))
	require.NoError(t, err)
	again, err := ComputeFingerprint(req2, testEnvironment())
	require.NoError(t, err)
	assert.Equal(t, first, again)
}

func TestComputeFingerprintDivergesPerDimension(t *testing.T) {
	t.Parallel()

	req := testRequirement(t)
	env := testEnvironment()
	base, err := ComputeFingerprint(req, env)
	require.NoError(t, err)

	mutations := map[string]func() (Requirement, Environment){
		"name": func() (Requirement, Environment) {
			r := req
			r.Name = "bar"
			return r, env
		},
		"version": func() (Requirement, Environment) {
			r := req
			r.Version = "1.1"
			return r, env
		},
		"source digest": func() (Requirement, Environment) {
			r := req
			r.SourceDigest = digest.FromString("foo-1.0.tar.gz respun")
			return r, env
		},
		"platform": func() (Requirement, Environment) {
			e := env
			e.Platform = "darwin-arm64"
			return req, e
		},
		"interpreter": func() (Requirement, Environment) {
			e := env
			e.Interpreter = "cp310"
			return req, e
		},
		"abi": func() (Requirement, Environment) {
			e := env
			e.ABI = "cp39-musl"
			return req, e
		},
		"extra tag": func() (Requirement, Environment) {
			e := env
			e.Extra = []string{"cuda12"}
			return req, e
		},
	}

	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			r, e := mutate()
			fp, err := ComputeFingerprint(r, e)
			require.NoError(t, err)
			assert.NotEqual(t, base, fp, "changing %s must change the fingerprint", name)
		})
	}
}

func TestComputeFingerprintExtraTagOrder(t *testing.T) {
	t.Parallel()

	req := testRequirement(t)
	env := testEnvironment()

	env.Extra = []string{"sse4", "lto"}
	a, err := ComputeFingerprint(req, env)
	require.NoError(t, err)

	env.Extra = []string{"lto", "sse4"}
	b, err := ComputeFingerprint(req, env)
	require.NoError(t, err)

	assert.Equal(t, a, b, "extra tag order must not affect the fingerprint")
}

func TestComputeFingerprintFieldBoundaries(t *testing.T) {
	t.Parallel()

	// Field contents must not bleed across boundaries: moving a suffix
	// from one field to the next changes the key.
	env := testEnvironment()
	a, err := ComputeFingerprint(Requirement{Name: "ab", Version: "c1"}, env)
	require.NoError(t, err)
	b, err := ComputeFingerprint(Requirement{Name: "abc", Version: "1"}, env)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestComputeFingerprintInvalidInput(t *testing.T) {
	t.Parallel()

	req := testRequirement(t)

	_, err := ComputeFingerprint(Requirement{}, testEnvironment())
	assert.ErrorIs(t, err, ErrInvalidRequirement)

	_, err = ComputeFingerprint(req, Environment{})
	assert.ErrorIs(t, err, ErrInvalidRequirement, "empty platform must be rejected")

	_, err = ComputeFingerprint(req, Environment{Platform: "linux x86_64"})
	assert.ErrorIs(t, err, ErrInvalidRequirement)
}
