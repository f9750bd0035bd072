package pipeline

import (
	"archive/tar"
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"davit/internal/common"
	"davit/internal/config"
	"davit/internal/platform"
	"davit/internal/version"
	"davit/pkg/docker/mocks"
)

func binaryArchive(t *testing.T, name string) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	require.NoError(t, tw.WriteHeader(&tar.Header{Name: name, Mode: 0o755, Size: 3, Typeflag: tar.TypeReg}))
	_, err := tw.Write([]byte("bin"))
	require.NoError(t, err)
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	return buf.Bytes()
}

// upstreamServer serves archives for version 2.0.0 on both platforms
// and 404s everything else.
func upstreamServer(t *testing.T, hits *atomic.Int64) *httptest.Server {
	t.Helper()
	payload := binaryArchive(t, "myapp")
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			hits.Add(1)
		}
		if !strings.HasPrefix(r.URL.Path, "/releases/2.0.0/") {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write(payload)
	}))
}

func releaseServer(t *testing.T, uploads *atomic.Int64) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if uploads != nil {
			uploads.Add(1)
		}
		w.WriteHeader(http.StatusCreated)
	}))
}

func testConfig(upstreamURL, releaseURL string) *config.Config {
	cfg := &config.Config{
		Project:  config.Project{Name: "myapp", Source: "https://example.com/acme/myapp"},
		Upstream: config.Upstream{URL: upstreamURL + "/releases/{{.Version}}/{{.Filename}}"},
		Platforms: []platform.Target{
			{OS: "linux", Arch: "amd64", Triple: "x86_64-unknown-linux-gnu", Archive: "myapp-{{.Version}}-{{.Triple}}.tar.gz"},
			{OS: "darwin", Arch: "arm64", Triple: "aarch64-apple-darwin", Archive: "myapp-{{.Version}}-{{.Triple}}.tar.gz"},
		},
		Recipes:  map[string][]string{"linux": {}, "darwin": {}},
		Registry: config.Registry{Host: "ghcr.io", Repository: "acme/myapp"},
		Release:  config.Release{URL: releaseURL},
		Image:    config.Image{Base: "debian:stable-slim", StateDir: "/var/lib/myapp", Platform: "linux/amd64"},
		Network:  config.Network{Timeout: config.Duration(5 * time.Second)},
	}
	return cfg
}

func TestPublishBinaries(t *testing.T) {
	upstream := upstreamServer(t, nil)
	defer upstream.Close()
	var uploads atomic.Int64
	release := releaseServer(t, &uploads)
	defer release.Close()

	p, err := New(testConfig(upstream.URL, release.URL), nil)
	require.NoError(t, err)

	results, err := p.PublishBinaries(context.Background(), Options{Version: "2.0.0"})

	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, r := range results {
		assert.True(t, r.OK(), "platform %s: %v", r.Target, r.Err)
		assert.Equal(t, common.KindBinary, r.Kind)
		assert.NotEmpty(t, r.Location)
		assert.NotEmpty(t, r.Digest)
	}
	assert.NoError(t, Summarize(results))
	// Each platform uploads the archive plus its checksum companion.
	assert.Equal(t, int64(4), uploads.Load())
}

func TestPublishBinaries_MissingVersionIsolatedPerPlatform(t *testing.T) {
	// Upstream only has 2.0.0; asking for 9.9.9 yields ArtifactNotFound
	// for every platform, each reported independently.
	upstream := upstreamServer(t, nil)
	defer upstream.Close()
	release := releaseServer(t, nil)
	defer release.Close()

	p, err := New(testConfig(upstream.URL, release.URL), nil)
	require.NoError(t, err)

	results, err := p.PublishBinaries(context.Background(), Options{Version: "9.9.9"})

	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, r := range results {
		assert.ErrorIs(t, r.Err, common.ErrArtifactNotFound)
	}
	assert.Error(t, Summarize(results))
}

func TestPublishBinaries_OnePlatformMissing(t *testing.T) {
	payload := binaryArchive(t, "myapp")
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "darwin") {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write(payload)
	}))
	defer upstream.Close()
	release := releaseServer(t, nil)
	defer release.Close()

	p, err := New(testConfig(upstream.URL, release.URL), nil)
	require.NoError(t, err)

	results, err := p.PublishBinaries(context.Background(), Options{Version: "2.0.0"})

	require.NoError(t, err)
	require.Len(t, results, 2)
	byTarget := map[string]common.PublicationResult{}
	for _, r := range results {
		byTarget[r.Target] = r
	}
	assert.True(t, byTarget["linux/amd64"].OK(), "sibling platform unaffected")
	assert.ErrorIs(t, byTarget["darwin/arm64"].Err, common.ErrArtifactNotFound)
}

func TestPublishBinaries_InvalidVersionBeforeNetwork(t *testing.T) {
	var hits atomic.Int64
	upstream := upstreamServer(t, &hits)
	defer upstream.Close()
	release := releaseServer(t, &hits)
	defer release.Close()

	p, err := New(testConfig(upstream.URL, release.URL), nil)
	require.NoError(t, err)

	_, err = p.PublishBinaries(context.Background(), Options{Version: "2.0 .0"})

	assert.ErrorIs(t, err, version.ErrInvalidVersion)
	assert.Zero(t, hits.Load(), "no network activity after InvalidVersion")
}

func TestPublishBinaries_InconsistentMatrixAborts(t *testing.T) {
	var hits atomic.Int64
	upstream := upstreamServer(t, &hits)
	defer upstream.Close()
	release := releaseServer(t, &hits)
	defer release.Close()

	cfg := testConfig(upstream.URL, release.URL)
	delete(cfg.Recipes, "darwin")

	p, err := New(cfg, nil)
	require.NoError(t, err)

	_, err = p.PublishBinaries(context.Background(), Options{Version: "2.0.0"})

	assert.ErrorIs(t, err, platform.ErrUnsupported)
	assert.Zero(t, hits.Load())
}

func TestPublishBinaries_ReleaseRefOverride(t *testing.T) {
	upstream := upstreamServer(t, nil)
	defer upstream.Close()

	var paths []string
	release := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		w.WriteHeader(http.StatusCreated)
	}))
	defer release.Close()

	cfg := testConfig(upstream.URL, release.URL)
	cfg.Platforms = cfg.Platforms[:1]

	p, err := New(cfg, nil)
	require.NoError(t, err)

	_, err = p.PublishBinaries(context.Background(), Options{Version: "2.0.0", ReleaseRef: "refs/tags/v2.0.0"})
	require.NoError(t, err)

	require.NotEmpty(t, paths)
	assert.True(t, strings.HasPrefix(paths[0], "/refs/tags/v2.0.0/"), "got %s", paths[0])
}

func TestPublishImage(t *testing.T) {
	upstream := upstreamServer(t, nil)
	defer upstream.Close()
	release := releaseServer(t, nil)
	defer release.Close()

	engine := &mocks.Engine{}
	engine.On("Build", mock.Anything, mock.Anything, "ghcr.io/acme/myapp:2.0.0", mock.Anything).Return("sha256:abcd", nil)
	engine.On("Tag", mock.Anything, "sha256:abcd", "ghcr.io/acme/myapp:2.0.0").Return(nil)
	engine.On("Tag", mock.Anything, "sha256:abcd", "ghcr.io/acme/myapp:latest").Return(nil)
	engine.On("Push", mock.Anything, "ghcr.io/acme/myapp:2.0.0", mock.Anything).Return(nil)
	engine.On("Push", mock.Anything, "ghcr.io/acme/myapp:latest", mock.Anything).Return(nil)
	engine.On("Remove", mock.Anything, "ghcr.io/acme/myapp:latest").Return(nil)

	p, err := New(testConfig(upstream.URL, release.URL), engine)
	require.NoError(t, err)

	result, err := p.PublishImage(context.Background(), Options{
		Version:         "2.0.0",
		IsDefaultBranch: true,
		Revision:        "0f3a9c1",
	})

	require.NoError(t, err)
	require.NoError(t, result.Err)
	assert.Equal(t, "ghcr.io/acme/myapp:2.0.0", result.Location)
	engine.AssertExpectations(t)
}

func TestPublishImage_NonDefaultBranchSkipsLatest(t *testing.T) {
	upstream := upstreamServer(t, nil)
	defer upstream.Close()
	release := releaseServer(t, nil)
	defer release.Close()

	engine := &mocks.Engine{}
	engine.On("Build", mock.Anything, mock.Anything, "ghcr.io/acme/myapp:2.0.0", mock.Anything).Return("sha256:abcd", nil)
	engine.On("Tag", mock.Anything, "sha256:abcd", "ghcr.io/acme/myapp:2.0.0").Return(nil)
	engine.On("Push", mock.Anything, "ghcr.io/acme/myapp:2.0.0", mock.Anything).Return(nil)

	p, err := New(testConfig(upstream.URL, release.URL), engine)
	require.NoError(t, err)

	result, err := p.PublishImage(context.Background(), Options{
		Version:  "2.0.0",
		Revision: "0f3a9c1",
	})

	require.NoError(t, err)
	require.NoError(t, result.Err)
	engine.AssertNotCalled(t, "Push", mock.Anything, "ghcr.io/acme/myapp:latest", mock.Anything)
}

func TestPublishImage_RequiresEngine(t *testing.T) {
	upstream := upstreamServer(t, nil)
	defer upstream.Close()
	release := releaseServer(t, nil)
	defer release.Close()

	p, err := New(testConfig(upstream.URL, release.URL), nil)
	require.NoError(t, err)

	_, err = p.PublishImage(context.Background(), Options{Version: "2.0.0", Revision: "r"})
	assert.Error(t, err)
}

func TestPublishImage_FetchFailureContained(t *testing.T) {
	upstream := upstreamServer(t, nil)
	defer upstream.Close()
	release := releaseServer(t, nil)
	defer release.Close()

	engine := &mocks.Engine{}

	p, err := New(testConfig(upstream.URL, release.URL), engine)
	require.NoError(t, err)

	result, err := p.PublishImage(context.Background(), Options{Version: "9.9.9", Revision: "r"})

	require.NoError(t, err)
	assert.ErrorIs(t, result.Err, common.ErrArtifactNotFound)
	engine.AssertNotCalled(t, "Build", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestRun(t *testing.T) {
	upstream := upstreamServer(t, nil)
	defer upstream.Close()
	release := releaseServer(t, nil)
	defer release.Close()

	engine := &mocks.Engine{}
	engine.On("Build", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return("sha256:abcd", nil)
	engine.On("Tag", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	engine.On("Push", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	engine.On("Remove", mock.Anything, mock.Anything).Return(nil)

	p, err := New(testConfig(upstream.URL, release.URL), engine)
	require.NoError(t, err)

	results, err := p.Run(context.Background(), Options{
		Version:         "2.0.0",
		IsDefaultBranch: true,
		Revision:        "0f3a9c1",
	})

	require.NoError(t, err)
	require.Len(t, results, 3, "two binaries and one image")
	assert.NoError(t, Summarize(results))
}

func TestRun_InvalidVersion(t *testing.T) {
	var hits atomic.Int64
	upstream := upstreamServer(t, &hits)
	defer upstream.Close()
	release := releaseServer(t, &hits)
	defer release.Close()

	p, err := New(testConfig(upstream.URL, release.URL), &mocks.Engine{})
	require.NoError(t, err)

	_, err = p.Run(context.Background(), Options{Version: "has space", Revision: "r"})

	assert.ErrorIs(t, err, version.ErrInvalidVersion)
	assert.Zero(t, hits.Load())
}

func TestDryRun(t *testing.T) {
	var hits atomic.Int64
	upstream := upstreamServer(t, &hits)
	defer upstream.Close()
	release := releaseServer(t, &hits)
	defer release.Close()

	engine := &mocks.Engine{}
	p, err := New(testConfig(upstream.URL, release.URL), engine)
	require.NoError(t, err)

	results, err := p.Run(context.Background(), Options{
		Version:         "2.0.0",
		IsDefaultBranch: true,
		Revision:        "0f3a9c1",
		DryRun:          true,
	})

	require.NoError(t, err)
	assert.NoError(t, Summarize(results))
	assert.Zero(t, hits.Load(), "dry run performs no network activity")
	engine.AssertNotCalled(t, "Build", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestSummarize(t *testing.T) {
	ok := common.PublicationResult{Kind: common.KindBinary, Target: "linux/amd64"}
	bad := common.PublicationResult{Kind: common.KindBinary, Target: "darwin/arm64", Err: common.ErrArtifactNotFound}

	assert.NoError(t, Summarize([]common.PublicationResult{ok}))

	err := Summarize([]common.PublicationResult{ok, bad})
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrArtifactNotFound)
	assert.Contains(t, err.Error(), "darwin/arm64")
	assert.NotContains(t, err.Error(), "retryable", "missing artifacts need a new version, not a re-run")

	flaky := common.PublicationResult{Kind: common.KindImage, Target: "ghcr.io/acme/myapp", Err: common.ErrNetworkFailure}
	err = Summarize([]common.PublicationResult{ok, flaky})
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrNetworkFailure)
	assert.Contains(t, err.Error(), "(retryable)")
}
