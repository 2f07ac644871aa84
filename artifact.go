package bdcache

import "time"

// Tier identifies where an artifact came from.
type Tier int

const (
	// TierLocal means the artifact was already in the local store.
	TierLocal Tier = iota + 1
	// TierRemote means the artifact was fetched from the remote backend
	// and copied into the local store.
	TierRemote
	// TierBuilt means the artifact was freshly built.
	TierBuilt
)

func (t Tier) String() string {
	switch t {
	case TierLocal:
		return "local"
	case TierRemote:
		return "remote"
	case TierBuilt:
		return "built"
	default:
		return "unknown"
	}
}

// Artifact is a cached build result: the opaque binary blob plus its
// provenance. The coordinator never mutates artifact bytes, only copies
// them between tiers; callers must treat Data as read-only.
type Artifact struct {
	Fingerprint Fingerprint
	Data        []byte
	Size        int64
	CreatedAt   time.Time
	Tier        Tier
}
