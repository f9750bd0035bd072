// Package assembler implements the two-stage artifact assembly: Stage
// A materializes the versioned executable in an isolated build
// snapshot, Stage B packs only that executable into a minimal runtime
// image.
package assembler

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"text/template"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-resty/resty/v2"

	"davit/internal/archive"
	"davit/internal/common"
	"davit/internal/platform"
	"davit/internal/version"
	"davit/internal/workspace"
)

// Fetcher downloads versioned binary archives from the upstream
// release source.
type Fetcher struct {
	client      *resty.Client
	urlTemplate *template.Template
	maxBinary   int64
}

// FetchConfig bounds the network behavior of Stage A. Timeout and
// retry counts are caller-supplied knobs with no hardcoded policy
// beyond being bounded.
type FetchConfig struct {
	// URLTemplate locates an archive; rendered with {{.Version}} and
	// {{.Filename}}.
	URLTemplate string

	Timeout   time.Duration
	Retries   int
	RetryWait time.Duration

	// MaxBinarySize caps extraction; zero means the archive package
	// default.
	MaxBinarySize int64
}

// NewFetcher validates the URL template and builds the HTTP client.
func NewFetcher(cfg FetchConfig) (*Fetcher, error) {
	tmpl, err := template.New("upstream").Option("missingkey=error").Parse(cfg.URLTemplate)
	if err != nil {
		return nil, fmt.Errorf("bad upstream URL template: %w", err)
	}

	client := resty.New().
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.Retries).
		SetRetryWaitTime(cfg.RetryWait).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			// A missing artifact is terminal, not transient.
			if r != nil && r.StatusCode() == http.StatusNotFound {
				return false
			}
			return err != nil || (r != nil && r.StatusCode() >= http.StatusInternalServerError)
		})

	return &Fetcher{client: client, urlTemplate: tmpl, maxBinary: cfg.MaxBinarySize}, nil
}

// Staged is the Stage A output for one platform: the downloaded
// archive and the single executable extracted from it.
type Staged struct {
	Artifact    platform.Artifact
	ArchivePath string
	BinaryPath  string
}

// Fetch performs Stage A for one platform: download the archive for
// the resolved version into the workspace fetch area, then verify and
// extract its single executable into the build snapshot. A 404 from
// upstream is ErrArtifactNotFound; transport and server failures are
// ErrNetworkFailure.
func (f *Fetcher) Fetch(ctx context.Context, ws *workspace.Workspace, resolved version.Resolved, art platform.Artifact) (Staged, error) {
	url, err := f.renderURL(resolved, art)
	if err != nil {
		return Staged{}, err
	}

	dest := filepath.Join(ws.FetchDir(), art.Filename)
	log.Info("fetching artifact", "platform", art.Target.Name(), "url", url)

	resp, err := f.client.R().
		SetContext(ctx).
		SetOutput(dest).
		Get(url)
	if err != nil {
		return Staged{}, fmt.Errorf("%w: fetching %s: %v", common.ErrNetworkFailure, art.Filename, err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		_ = os.Remove(dest)
		return Staged{}, fmt.Errorf("%w: upstream has no %s at version %s", common.ErrArtifactNotFound, art.Filename, resolved.Raw)
	}
	if !resp.IsSuccess() {
		_ = os.Remove(dest)
		return Staged{}, fmt.Errorf("%w: upstream returned %d for %s", common.ErrNetworkFailure, resp.StatusCode(), art.Filename)
	}

	binary, err := archive.ExtractExecutable(dest, ws.BuildDir(), f.maxBinary)
	if err != nil {
		return Staged{}, err
	}

	log.Debug("artifact staged", "platform", art.Target.Name(), "binary", binary)
	return Staged{Artifact: art, ArchivePath: dest, BinaryPath: binary}, nil
}

func (f *Fetcher) renderURL(resolved version.Resolved, art platform.Artifact) (string, error) {
	var sb strings.Builder
	data := struct {
		Version  string
		Filename string
	}{resolved.Raw, art.Filename}
	if err := f.urlTemplate.Execute(&sb, data); err != nil {
		return "", fmt.Errorf("rendering upstream URL for %s: %w", art.Target.Name(), err)
	}
	return sb.String(), nil
}
