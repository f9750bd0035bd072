// Package publisher pushes finished artifacts to their destinations:
// binary archives to the release host, assembled images to the
// container registry.
package publisher

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-resty/resty/v2"
	"github.com/opencontainers/go-digest"

	"davit/internal/checksum"
	"davit/internal/common"
)

// BinaryArtifact is a finished, checksummed binary ready for upload.
type BinaryArtifact struct {
	// Platform is the os/arch pair, reported in the result.
	Platform string

	// Path is the local file to upload.
	Path string

	// Filename is the artifact name at the destination.
	Filename string

	// TagRef is the release ref the artifact is filed under, e.g.
	// refs/tags/2.0.0.
	TagRef string

	// Digest is the artifact's content digest.
	Digest digest.Digest
}

// ReleaseHostConfig bounds the release host client.
type ReleaseHostConfig struct {
	// URL is the base upload URL of the release host.
	URL string

	// Token is the opaque credential supplied by the environment.
	Token string

	Timeout   time.Duration
	Retries   int
	RetryWait time.Duration

	// AllowOverwrite asks the host to replace existing artifacts
	// instead of rejecting the upload with a conflict.
	AllowOverwrite bool
}

// Binaries uploads binary artifacts and their checksum companions to
// the release host.
type Binaries struct {
	client    *resty.Client
	url       string
	overwrite bool
}

// NewBinaries builds the release host client. Only transport errors
// and 5xx responses are retried; credential and conflict failures are
// surfaced immediately.
func NewBinaries(cfg ReleaseHostConfig) (*Binaries, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("release host URL is required")
	}

	client := resty.New().
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.Retries).
		SetRetryWaitTime(cfg.RetryWait).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || (r != nil && r.StatusCode() >= http.StatusInternalServerError)
		})
	if cfg.Token != "" {
		client.SetAuthToken(cfg.Token)
	}

	return &Binaries{client: client, url: strings.TrimRight(cfg.URL, "/"), overwrite: cfg.AllowOverwrite}, nil
}

// Publish uploads the artifact and its .sha256 companion under the
// release ref and returns the terminal result for this artifact. The
// destination path is distinct per platform, so parallel publications
// need no coordination.
func (b *Binaries) Publish(ctx context.Context, art BinaryArtifact) common.PublicationResult {
	result := common.PublicationResult{
		Kind:   common.KindBinary,
		Target: art.Platform,
		Digest: art.Digest,
	}

	location, err := b.upload(ctx, art)
	if err != nil {
		result.Err = err
		return result
	}

	if err := b.uploadSums(ctx, art); err != nil {
		result.Err = err
		return result
	}

	log.Info("binary published", "platform", art.Platform, "location", location)
	result.Location = location
	return result
}

func (b *Binaries) upload(ctx context.Context, art BinaryArtifact) (string, error) {
	// The body has to be replayable: a consumed file handle would make
	// every retry fail after the first attempt.
	data, err := os.ReadFile(art.Path)
	if err != nil {
		return "", fmt.Errorf("reading artifact for upload: %w", err)
	}

	dest := fmt.Sprintf("%s/%s/%s", b.url, art.TagRef, art.Filename)
	req := b.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/octet-stream").
		SetHeader("X-Checksum-Sha256", art.Digest.Encoded()).
		SetBody(data)
	if b.overwrite {
		req.SetQueryParam("overwrite", "true")
	}
	resp, err := req.Put(dest)
	if err != nil {
		return "", fmt.Errorf("%w: uploading %s: %v", common.ErrNetworkFailure, art.Filename, err)
	}
	if err := classifyStatus(resp.StatusCode(), art.Filename); err != nil {
		return "", err
	}

	if loc := resp.Header().Get("Location"); loc != "" {
		return loc, nil
	}
	return dest, nil
}

func (b *Binaries) uploadSums(ctx context.Context, art BinaryArtifact) error {
	dest := fmt.Sprintf("%s/%s/%s.sha256", b.url, art.TagRef, art.Filename)
	req := b.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "text/plain").
		SetBody(checksum.SumsLine(art.Digest, art.Filename))
	if b.overwrite {
		req.SetQueryParam("overwrite", "true")
	}
	resp, err := req.Put(dest)
	if err != nil {
		return fmt.Errorf("%w: uploading checksum for %s: %v", common.ErrNetworkFailure, art.Filename, err)
	}
	return classifyStatus(resp.StatusCode(), art.Filename+".sha256")
}

func classifyStatus(status int, name string) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("%w: release host rejected credentials for %s (%d)", common.ErrAuthenticationFailed, name, status)
	case status == http.StatusConflict:
		return fmt.Errorf("%w: %s already present on release host", common.ErrDestinationConflict, name)
	default:
		return fmt.Errorf("%w: release host returned %d for %s", common.ErrNetworkFailure, status, name)
	}
}
