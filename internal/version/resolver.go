package version

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/distribution/reference"
)

// ErrInvalidVersion is returned when the operator-supplied version
// string cannot be used as a registry tag or artifact filename.
var ErrInvalidVersion = errors.New("invalid version")

// TagRefPrefix qualifies a raw version for systems that want a full ref.
const TagRefPrefix = "refs/tags/"

// tagPattern anchors the registry tag grammar over the whole string.
// reference.TagRegexp itself is unanchored.
var tagPattern = regexp.MustCompile(`^` + reference.TagRegexp.String() + `$`)

// Resolved is the normalized form of an operator-supplied version. It
// is immutable for the lifetime of a run: Raw doubles as the image tag
// and the artifact filename fragment, TagRef is the ref-qualified form.
type Resolved struct {
	Raw    string
	TagRef string
}

// Option adjusts resolution policy.
type Option func(*options)

type options struct {
	strictSemver bool
}

// StrictSemver rejects versions that do not parse as semantic
// versions, on top of the tag grammar check.
func StrictSemver() Option {
	return func(o *options) { o.strictSemver = true }
}

// Resolve validates raw and returns its normalized forms. It performs
// no I/O, so callers can rely on it failing before any network
// activity in the run.
func Resolve(raw string, opts ...Option) (Resolved, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	if raw == "" {
		return Resolved{}, fmt.Errorf("%w: empty version string", ErrInvalidVersion)
	}
	if strings.ContainsFunc(raw, func(r rune) bool { return r < 0x20 || r == 0x7f }) {
		return Resolved{}, fmt.Errorf("%w: %q contains control characters", ErrInvalidVersion, raw)
	}
	if strings.ContainsAny(raw, " \t/\\:") {
		return Resolved{}, fmt.Errorf("%w: %q contains separator or whitespace characters", ErrInvalidVersion, raw)
	}
	if !tagPattern.MatchString(raw) {
		return Resolved{}, fmt.Errorf("%w: %q is not a valid registry tag", ErrInvalidVersion, raw)
	}

	if o.strictSemver {
		if _, err := semver.NewVersion(raw); err != nil {
			return Resolved{}, fmt.Errorf("%w: %q is not a semantic version: %v", ErrInvalidVersion, raw, err)
		}
	}

	return Resolved{
		Raw:    raw,
		TagRef: TagRefPrefix + raw,
	}, nil
}
