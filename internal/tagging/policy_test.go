package tagging

import (
	"testing"
	"time"

	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"davit/internal/version"
)

func testMeta() Metadata {
	return Metadata{
		Revision: "0f3a9c1",
		Source:   "https://example.com/acme/myapp",
		Created:  time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC),
	}
}

func mustResolve(t *testing.T, raw string) version.Resolved {
	t.Helper()
	resolved, err := version.Resolve(raw)
	require.NoError(t, err)
	return resolved
}

func TestPlan_DefaultBranch(t *testing.T) {
	ref, err := Plan(mustResolve(t, "2.0.0"), true, "ghcr.io", "acme/myapp", testMeta())

	require.NoError(t, err)
	assert.Equal(t, []string{"2.0.0", "latest"}, ref.Tags)
}

func TestPlan_NonDefaultBranch(t *testing.T) {
	ref, err := Plan(mustResolve(t, "2.0.0"), false, "ghcr.io", "acme/myapp", testMeta())

	require.NoError(t, err)
	assert.Equal(t, []string{"2.0.0"}, ref.Tags)
}

func TestPlan_LatestCollision(t *testing.T) {
	ref, err := Plan(mustResolve(t, "latest"), true, "ghcr.io", "acme/myapp", testMeta())

	require.NoError(t, err)
	assert.Equal(t, []string{"latest"}, ref.Tags, "duplicate tags collapse to one")
}

func TestPlan_NoDuplicates(t *testing.T) {
	for _, isDefault := range []bool{true, false} {
		for _, raw := range []string{"2.0.0", "latest", "v1.9.9-rc.2"} {
			ref, err := Plan(mustResolve(t, raw), isDefault, "ghcr.io", "acme/myapp", testMeta())
			require.NoError(t, err)

			seen := make(map[string]bool)
			for _, tag := range ref.Tags {
				assert.False(t, seen[tag], "duplicate tag %q", tag)
				seen[tag] = true
			}
			assert.True(t, seen[raw], "version tag always present")
		}
	}
}

func TestPlan_Labels(t *testing.T) {
	ref, err := Plan(mustResolve(t, "2.0.0"), true, "ghcr.io", "acme/myapp", testMeta())
	require.NoError(t, err)

	assert.Equal(t, "2.0.0", ref.Labels[ocispec.AnnotationVersion])
	assert.Equal(t, "0f3a9c1", ref.Labels[ocispec.AnnotationRevision])
	assert.Equal(t, "2026-08-30T12:00:00Z", ref.Labels[ocispec.AnnotationCreated])
	assert.Equal(t, "https://example.com/acme/myapp", ref.Labels[ocispec.AnnotationSource])
}

func TestPlan_RevisionRequired(t *testing.T) {
	meta := testMeta()
	meta.Revision = ""

	_, err := Plan(mustResolve(t, "2.0.0"), true, "ghcr.io", "acme/myapp", meta)
	assert.Error(t, err)
}

func TestPlan_BadRepository(t *testing.T) {
	_, err := Plan(mustResolve(t, "2.0.0"), true, "ghcr.io", "ACME//myapp", testMeta())
	assert.Error(t, err)
}

func TestImageRef_Tagged(t *testing.T) {
	ref, err := Plan(mustResolve(t, "2.0.0"), false, "ghcr.io", "acme/myapp", testMeta())
	require.NoError(t, err)

	assert.Equal(t, "ghcr.io/acme/myapp", ref.Name())
	assert.Equal(t, "ghcr.io/acme/myapp:2.0.0", ref.Tagged("2.0.0"))
}
