package platform

import (
	"errors"
	"fmt"
	"strings"
	"text/template"

	"davit/internal/version"
)

// ErrUnsupported is returned when the declared matrix references a
// platform the configuration cannot actually build for.
var ErrUnsupported = errors.New("unsupported platform")

// Target is one (OS, architecture) entry of the release matrix. The
// set of targets is fixed by configuration, never probed at runtime.
type Target struct {
	// OS is the operating system identifier, e.g. "linux".
	OS string `yaml:"os"`

	// Arch is the architecture identifier, e.g. "amd64".
	Arch string `yaml:"arch"`

	// Triple is the fixed toolchain triple for this target, e.g.
	// "x86_64-unknown-linux-gnu".
	Triple string `yaml:"triple"`

	// Archive is the artifact filename template. Rendered with
	// {{.Version}}, {{.Triple}}, {{.OS}} and {{.Arch}}.
	Archive string `yaml:"archive"`
}

// Name returns the os/arch pair used in logs and publication results.
func (t Target) Name() string {
	return t.OS + "/" + t.Arch
}

// Artifact is a fully rendered matrix entry for one resolved version.
type Artifact struct {
	Target   Target
	Filename string
}

// Matrix is the immutable set of release targets for a run.
type Matrix struct {
	targets []Target
}

// NewMatrix builds a matrix from configured targets. The target list
// must be non-empty and free of duplicate os/arch pairs.
func NewMatrix(targets []Target) (*Matrix, error) {
	if len(targets) == 0 {
		return nil, fmt.Errorf("%w: no targets declared", ErrUnsupported)
	}

	seen := make(map[string]bool, len(targets))
	for _, t := range targets {
		if t.OS == "" || t.Arch == "" {
			return nil, fmt.Errorf("%w: target with empty os or arch", ErrUnsupported)
		}
		if t.Archive == "" {
			return nil, fmt.Errorf("%w: %s declares no archive filename template", ErrUnsupported, t.Name())
		}
		if seen[t.Name()] {
			return nil, fmt.Errorf("%w: duplicate target %s", ErrUnsupported, t.Name())
		}
		seen[t.Name()] = true
	}

	return &Matrix{targets: targets}, nil
}

// Validate checks the matrix against the set of operating systems the
// configuration knows how to provision. This is a configuration-shape
// check and runs before any network activity.
func (m *Matrix) Validate(recipes map[string]bool) error {
	for _, t := range m.targets {
		if !recipes[t.OS] {
			return fmt.Errorf("%w: %s has no install recipe", ErrUnsupported, t.Name())
		}
	}
	return nil
}

// Targets renders the artifact filename for every target at the given
// version. The returned slice order follows the configuration but
// carries no meaning; entries are independent.
func (m *Matrix) Targets(resolved version.Resolved) ([]Artifact, error) {
	artifacts := make([]Artifact, 0, len(m.targets))
	for _, t := range m.targets {
		filename, err := renderFilename(t, resolved)
		if err != nil {
			return nil, err
		}
		artifacts = append(artifacts, Artifact{Target: t, Filename: filename})
	}
	return artifacts, nil
}

// Lookup returns the artifact for a single os/arch pair, used by the
// image pipeline which assembles for exactly one platform.
func (m *Matrix) Lookup(resolved version.Resolved, name string) (Artifact, error) {
	for _, t := range m.targets {
		if t.Name() != name {
			continue
		}
		filename, err := renderFilename(t, resolved)
		if err != nil {
			return Artifact{}, err
		}
		return Artifact{Target: t, Filename: filename}, nil
	}
	return Artifact{}, fmt.Errorf("%w: %s is not in the release matrix", ErrUnsupported, name)
}

func renderFilename(t Target, resolved version.Resolved) (string, error) {
	tmpl, err := template.New("archive").Option("missingkey=error").Parse(t.Archive)
	if err != nil {
		return "", fmt.Errorf("%w: bad archive template for %s: %v", ErrUnsupported, t.Name(), err)
	}

	var sb strings.Builder
	data := struct {
		Version string
		Triple  string
		OS      string
		Arch    string
	}{resolved.Raw, t.Triple, t.OS, t.Arch}
	if err := tmpl.Execute(&sb, data); err != nil {
		return "", fmt.Errorf("%w: rendering archive template for %s: %v", ErrUnsupported, t.Name(), err)
	}
	return sb.String(), nil
}
