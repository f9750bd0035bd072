package common

import "github.com/opencontainers/go-digest"

// ResultKind distinguishes the two kinds of published artifact.
type ResultKind string

const (
	KindBinary ResultKind = "binary"
	KindImage  ResultKind = "image"
)

// PublicationResult is the terminal record for one artifact or image.
// A run succeeds only if every result it produced succeeded.
type PublicationResult struct {
	Kind ResultKind

	// Target identifies what was published: an os/arch pair for
	// binaries, a registry-qualified repository for images.
	Target string

	// Location is the durable remote address on success.
	Location string

	// Digest is the content digest attached to the publication, when
	// the destination reports or carries one.
	Digest digest.Digest

	// Err is non-nil on failure and carries a taxonomy sentinel.
	Err error
}

// OK reports publication success.
func (r PublicationResult) OK() bool { return r.Err == nil }
