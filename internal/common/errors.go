// Package common holds the failure taxonomy and result record shared
// by the fetch, assembly and publication stages.
package common

import "errors"

var (
	// ErrArtifactNotFound means the upstream source has no artifact
	// for the requested version and platform. Terminal for that
	// platform; re-invocation with a corrected version is the only
	// remedy.
	ErrArtifactNotFound = errors.New("artifact not found")

	// ErrAuthenticationFailed means the destination rejected our
	// credentials. Fatal for that destination, never retried.
	ErrAuthenticationFailed = errors.New("authentication failed")

	// ErrDestinationConflict means the target ref already exists and
	// overwrite is disallowed by policy.
	ErrDestinationConflict = errors.New("destination already exists")

	// ErrNetworkFailure covers transient transport problems. The only
	// class the caller may retry: published artifacts are immutable
	// and content-addressed, so re-running with the same inputs is
	// idempotent.
	ErrNetworkFailure = errors.New("network failure")
)

// Retryable reports whether err is in the caller-retryable class.
func Retryable(err error) bool {
	return errors.Is(err, ErrNetworkFailure)
}
