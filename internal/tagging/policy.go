// Package tagging computes the tags and labels applied to a published
// image. The policy is deterministic: the explicit version tag always,
// "latest" only for publications from the default branch.
package tagging

import (
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/distribution/reference"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"davit/internal/version"
)

// LatestTag is the conditional tag emitted for default-branch runs.
const LatestTag = "latest"

var errBadRepository = errors.New("invalid image repository")

// Metadata feeds the non-addressing labels attached to the image.
type Metadata struct {
	// Revision is the source revision the run publishes. Required.
	Revision string

	// Source is the URL of the source repository. Optional.
	Source string

	// Created stamps the publication time; the zero value means now.
	Created time.Time
}

// ImageRef is the full publication target for one image: where it
// goes and every tag and label it carries. It is handed to the
// publisher as-is.
type ImageRef struct {
	Registry   string
	Repository string
	Tags       []string
	Labels     map[string]string
}

// Name returns the registry-qualified repository without a tag.
func (r ImageRef) Name() string {
	return r.Registry + "/" + r.Repository
}

// Tagged returns the full reference for one of the computed tags.
func (r ImageRef) Tagged(tag string) string {
	return r.Name() + ":" + tag
}

// Plan computes the publication reference for a resolved version.
// Tags are ordered and unique: the version tag first, then "latest"
// when isDefaultBranch holds. A version literally named "latest"
// collapses to a single tag; that is a policy note, not an error.
func Plan(resolved version.Resolved, isDefaultBranch bool, registry, repository string, meta Metadata) (ImageRef, error) {
	named, err := reference.ParseNormalizedNamed(registry + "/" + repository)
	if err != nil {
		return ImageRef{}, fmt.Errorf("%w: %s/%s: %v", errBadRepository, registry, repository, err)
	}
	if meta.Revision == "" {
		return ImageRef{}, errors.New("revision metadata is required for image labels")
	}

	tags := []string{resolved.Raw}
	if isDefaultBranch {
		if resolved.Raw == LatestTag {
			log.Warn("version tag collides with the latest tag, emitting it once", "version", resolved.Raw)
		} else {
			tags = append(tags, LatestTag)
		}
	}
	for _, tag := range tags {
		if _, err := reference.WithTag(named, tag); err != nil {
			return ImageRef{}, fmt.Errorf("tag %q rejected by reference grammar: %w", tag, err)
		}
	}

	created := meta.Created
	if created.IsZero() {
		created = time.Now().UTC()
	}
	labels := map[string]string{
		ocispec.AnnotationVersion:  resolved.Raw,
		ocispec.AnnotationRevision: meta.Revision,
		ocispec.AnnotationCreated:  created.Format(time.RFC3339),
	}
	if meta.Source != "" {
		labels[ocispec.AnnotationSource] = meta.Source
	}

	return ImageRef{
		Registry:   registry,
		Repository: repository,
		Tags:       tags,
		Labels:     labels,
	}, nil
}
