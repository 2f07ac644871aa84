package ocistore

import (
	"encoding/json"
	"fmt"
	"time"

	specs "github.com/opencontainers/image-spec/specs-go"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"oras.land/oras-go/v2/content"
)

// buildManifest assembles the OCI image manifest describing one artifact.
// Marshaling is deterministic, so re-uploading the same artifact with the
// same metadata produces a byte-identical manifest.
func buildManifest(config, layer ocispec.Descriptor, created time.Time) ([]byte, ocispec.Descriptor, error) {
	manifest := ocispec.Manifest{
		Versioned:    specs.Versioned{SchemaVersion: 2},
		MediaType:    ocispec.MediaTypeImageManifest,
		ArtifactType: MediaTypeArtifact,
		Config:       config,
		Layers:       []ocispec.Descriptor{layer},
		Annotations: map[string]string{
			ocispec.AnnotationCreated: created.Format(time.RFC3339),
		},
	}
	raw, err := json.Marshal(manifest)
	if err != nil {
		return nil, ocispec.Descriptor{}, fmt.Errorf("ocistore: marshal manifest: %w", err)
	}
	return raw, content.NewDescriptorFromBytes(ocispec.MediaTypeImageManifest, raw), nil
}
