// Package pipeline wires the release components together: version
// resolution, platform fan-out, artifact assembly, tagging and
// publication. It owns the run-level policy that configuration-shape
// errors abort everything while per-platform errors stay contained.
package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"davit/internal/assembler"
	"davit/internal/checksum"
	"davit/internal/common"
	"davit/internal/config"
	"davit/internal/platform"
	"davit/internal/publisher"
	"davit/internal/tagging"
	"davit/internal/version"
	"davit/internal/workspace"
	"davit/pkg/docker"
)

// Options are the per-run inputs supplied by the operator.
type Options struct {
	// Version is the sole triggering parameter.
	Version string

	// ReleaseRef overrides the default refs/tags/<version> ref the
	// binaries are filed under.
	ReleaseRef string

	// IsDefaultBranch enables the latest tag. Supplied by the
	// invoking environment; the pipeline knows nothing about branch
	// naming.
	IsDefaultBranch bool

	// Revision is the source revision recorded in image labels.
	Revision string

	// DryRun logs the publication plan without touching the network.
	DryRun bool

	// WorkDir overrides the workspace base directory. Empty means the
	// system temp directory.
	WorkDir string
}

// Pipeline is a fully wired release run. Methods return an error only
// for run-aborting conditions (invalid version, inconsistent matrix,
// missing engine); per-artifact failures are carried inside the
// returned PublicationResults and folded by Summarize.
type Pipeline struct {
	cfg      *config.Config
	fetcher  *assembler.Fetcher
	binaries *publisher.Binaries
	images   *publisher.Images
	imageAsm *assembler.ImageAssembler
}

// New wires a pipeline from validated configuration. engine may be
// nil for binaries-only runs; the image path requires it.
func New(cfg *config.Config, engine docker.Engine) (*Pipeline, error) {
	fetcher, err := assembler.NewFetcher(assembler.FetchConfig{
		URLTemplate:   cfg.Upstream.URL,
		Timeout:       cfg.Network.Timeout.Std(),
		Retries:       cfg.Network.Retries,
		RetryWait:     cfg.Network.RetryWait.Std(),
		MaxBinarySize: int64(cfg.Limits.MaxBinarySize),
	})
	if err != nil {
		return nil, err
	}

	binaries, err := publisher.NewBinaries(publisher.ReleaseHostConfig{
		URL:            cfg.Release.URL,
		Token:          config.ReleaseToken(),
		Timeout:        cfg.Network.Timeout.Std(),
		Retries:        cfg.Network.Retries,
		RetryWait:      cfg.Network.RetryWait.Std(),
		AllowOverwrite: cfg.Release.AllowOverwrite,
	})
	if err != nil {
		return nil, err
	}

	p := &Pipeline{cfg: cfg, fetcher: fetcher, binaries: binaries}

	if engine != nil {
		p.imageAsm, err = assembler.NewImageAssembler(engine, cfg.Image.Base, cfg.Image.StateDir)
		if err != nil {
			return nil, err
		}
		p.images, err = publisher.NewImages(engine, cfg.Registry.Host, publisher.RegistryCredentials{
			Username: config.RegistryUser(),
			Token:    config.RegistryToken(),
		})
		if err != nil {
			return nil, err
		}
	}

	return p, nil
}

// resolve applies the configured version policy. It runs before any
// network activity in every entry point.
func (p *Pipeline) resolve(opts Options) (version.Resolved, error) {
	var vOpts []version.Option
	if p.cfg.StrictSemver() {
		vOpts = append(vOpts, version.StrictSemver())
	}
	return version.Resolve(opts.Version, vOpts...)
}

// PublishBinaries runs the per-platform binary pipeline. Platforms
// run in parallel over isolated workspaces; one platform's failure
// never aborts its siblings. On normal completion the returned slice
// holds one terminal result per declared platform.
func (p *Pipeline) PublishBinaries(ctx context.Context, opts Options) ([]common.PublicationResult, error) {
	resolved, err := p.resolve(opts)
	if err != nil {
		return nil, err
	}
	artifacts, err := p.renderMatrix(resolved)
	if err != nil {
		return nil, err
	}

	releaseRef := opts.ReleaseRef
	if releaseRef == "" {
		releaseRef = resolved.TagRef
	}

	if opts.DryRun {
		for _, art := range artifacts {
			log.Info("dry run: would publish binary", "platform", art.Target.Name(), "filename", art.Filename, "ref", releaseRef)
		}
		return nil, nil
	}

	results := make([]common.PublicationResult, len(artifacts))
	g, gctx := errgroup.WithContext(ctx)
	for i, art := range artifacts {
		g.Go(func() error {
			results[i] = p.publishOneBinary(gctx, resolved, art, releaseRef, opts.WorkDir)
			return nil
		})
	}
	_ = g.Wait()

	return results, nil
}

func (p *Pipeline) publishOneBinary(ctx context.Context, resolved version.Resolved, art platform.Artifact, releaseRef, workDir string) common.PublicationResult {
	fail := func(err error) common.PublicationResult {
		return common.PublicationResult{Kind: common.KindBinary, Target: art.Target.Name(), Err: err}
	}

	ws, err := workspace.New(workDir)
	if err != nil {
		return fail(err)
	}
	defer func() {
		if err := ws.Close(); err != nil {
			log.Warn("failed to clean workspace", "id", ws.ID, "error", err)
		}
	}()

	staged, err := p.fetcher.Fetch(ctx, ws, resolved, art)
	if err != nil {
		return fail(err)
	}

	d, err := checksum.File(staged.ArchivePath)
	if err != nil {
		return fail(err)
	}

	return p.binaries.Publish(ctx, publisher.BinaryArtifact{
		Platform: art.Target.Name(),
		Path:     staged.ArchivePath,
		Filename: art.Filename,
		TagRef:   releaseRef,
		Digest:   d,
	})
}

// PublishImage runs the sequential image pipeline: Stage A fetch for
// the configured image platform, Stage B assembly, tag plan, push.
// Stage B never starts unless Stage A succeeded.
func (p *Pipeline) PublishImage(ctx context.Context, opts Options) (common.PublicationResult, error) {
	if p.images == nil || p.imageAsm == nil {
		return common.PublicationResult{}, errors.New("image pipeline requires an engine connection")
	}

	resolved, err := p.resolve(opts)
	if err != nil {
		return common.PublicationResult{}, err
	}
	matrix, err := p.cfg.Matrix()
	if err != nil {
		return common.PublicationResult{}, err
	}
	if err := matrix.Validate(p.cfg.RecipeSet()); err != nil {
		return common.PublicationResult{}, err
	}
	art, err := matrix.Lookup(resolved, p.cfg.Image.Platform)
	if err != nil {
		return common.PublicationResult{}, err
	}

	ref, err := tagging.Plan(resolved, opts.IsDefaultBranch, p.cfg.Registry.Host, p.cfg.Registry.Repository, tagging.Metadata{
		Revision: opts.Revision,
		Source:   p.cfg.Project.Source,
	})
	if err != nil {
		return common.PublicationResult{}, err
	}

	if opts.DryRun {
		log.Info("dry run: would publish image", "repository", ref.Name(), "tags", fmt.Sprintf("%v", ref.Tags))
		return common.PublicationResult{Kind: common.KindImage, Target: ref.Name()}, nil
	}

	fail := func(err error) common.PublicationResult {
		return common.PublicationResult{Kind: common.KindImage, Target: ref.Name(), Err: err}
	}

	ws, err := workspace.New(opts.WorkDir)
	if err != nil {
		return fail(err), nil
	}
	defer func() {
		if err := ws.Close(); err != nil {
			log.Warn("failed to clean workspace", "id", ws.ID, "error", err)
		}
	}()

	staged, err := p.fetcher.Fetch(ctx, ws, resolved, art)
	if err != nil {
		return fail(err), nil
	}

	imageID, err := p.imageAsm.Assemble(ctx, ws, staged.BinaryPath, ref)
	if err != nil {
		return fail(err), nil
	}

	return p.images.Publish(ctx, imageID, ref), nil
}

// Run executes both pipelines for one version. They are independent;
// the binary fan-out and the image path overlap, and the run's
// overall outcome is the conjunction of every result.
func (p *Pipeline) Run(ctx context.Context, opts Options) ([]common.PublicationResult, error) {
	// Resolve once up front so an invalid version aborts the whole
	// run before either pipeline starts anything.
	if _, err := p.resolve(opts); err != nil {
		return nil, err
	}

	var (
		imageResult common.PublicationResult
		imageErr    error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		imageResult, imageErr = p.PublishImage(gctx, opts)
		return nil
	})

	binResults, binErr := p.PublishBinaries(gctx, opts)
	_ = g.Wait()

	if err := errors.Join(binErr, imageErr); err != nil {
		return nil, err
	}
	return append(binResults, imageResult), nil
}

// Summarize folds a result set into the run's overall error: nil only
// when every publication succeeded. Each failure keeps its target and
// cause, and failures a re-run could clear are marked retryable.
func Summarize(results []common.PublicationResult) error {
	var errs []error
	for _, r := range results {
		if r.OK() {
			continue
		}
		if common.Retryable(r.Err) {
			errs = append(errs, fmt.Errorf("%s %s (retryable): %w", r.Kind, r.Target, r.Err))
		} else {
			errs = append(errs, fmt.Errorf("%s %s: %w", r.Kind, r.Target, r.Err))
		}
	}
	return errors.Join(errs...)
}

// renderMatrix validates matrix consistency and renders every
// artifact filename. Shared config-shape gate for both pipelines.
func (p *Pipeline) renderMatrix(resolved version.Resolved) ([]platform.Artifact, error) {
	matrix, err := p.cfg.Matrix()
	if err != nil {
		return nil, err
	}
	if err := matrix.Validate(p.cfg.RecipeSet()); err != nil {
		return nil, err
	}
	return matrix.Targets(resolved)
}
