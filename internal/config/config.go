// Package config loads and validates the static release
// configuration. Everything that can fail from configuration shape
// fails here, before the pipeline touches the network.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"davit/internal/platform"
	"davit/pkg/bytesize"
	"davit/pkg/duration"
)

// Duration wraps time.Duration with yaml parsing of "30s" or "1d"
// style strings.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := duration.Parse(raw)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the standard library form.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// ByteSize wraps int64 with yaml parsing of "512MB" style strings.
type ByteSize int64

func (b *ByteSize) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := bytesize.Parse(raw)
	if err != nil {
		return err
	}
	*b = ByteSize(parsed)
	return nil
}

// Config is the full static configuration for a release run.
type Config struct {
	Project   Project             `yaml:"project"`
	Upstream  Upstream            `yaml:"upstream"`
	Platforms []platform.Target   `yaml:"platforms"`
	Recipes   map[string][]string `yaml:"recipes"`
	Registry  Registry            `yaml:"registry"`
	Release   Release             `yaml:"release"`
	Image     Image               `yaml:"image"`
	Network   Network             `yaml:"network"`
	Limits    Limits              `yaml:"limits"`
}

// Project names the published software and its source location.
type Project struct {
	Name string `yaml:"name"`

	// Source is the source repository URL, recorded as an image label.
	Source string `yaml:"source"`

	// StrictSemver rejects versions which do not parse as semantic
	// versions. Defaults to true.
	StrictSemver *bool `yaml:"strict_semver"`
}

// Upstream locates versioned binary archives.
type Upstream struct {
	// URL is a template rendered with {{.Version}} and {{.Filename}}.
	URL string `yaml:"url"`
}

// Registry identifies the container registry destination.
type Registry struct {
	Host       string `yaml:"host"`
	Repository string `yaml:"repository"`
}

// Release identifies the binary release host.
type Release struct {
	URL string `yaml:"url"`

	// AllowOverwrite asks the host to replace an existing artifact
	// instead of answering 409.
	AllowOverwrite bool `yaml:"allow_overwrite"`
}

// Image configures runtime image assembly.
type Image struct {
	// Base is the minimal runtime base image.
	Base string `yaml:"base"`

	// StateDir is the declared persistent-state volume mount point.
	StateDir string `yaml:"state_dir"`

	// Platform is the os/arch pair whose binary the image embeds.
	Platform string `yaml:"platform"`
}

// Network bounds all network operations. No prescribed defaults
// beyond being bounded; both knobs are overridable per run.
type Network struct {
	Timeout   Duration `yaml:"timeout"`
	Retries   int      `yaml:"retries"`
	RetryWait Duration `yaml:"retry_wait"`
}

// Limits bounds local resource usage during assembly.
type Limits struct {
	// MaxBinarySize caps how much a single archive entry may expand
	// to on extraction. Defaults to 2GB.
	MaxBinarySize ByteSize `yaml:"max_binary_size"`
}

// Load reads, decodes and validates the configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	var cfg Config
	dec := yaml.NewDecoder(strings.NewReader(string(data)))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Network.Timeout == 0 {
		c.Network.Timeout = Duration(2 * time.Minute)
	}
	if c.Network.RetryWait == 0 {
		c.Network.RetryWait = Duration(2 * time.Second)
	}
	if c.Image.StateDir == "" && c.Project.Name != "" {
		c.Image.StateDir = "/var/lib/" + c.Project.Name
	}
	if c.Image.Platform == "" {
		c.Image.Platform = "linux/amd64"
	}
	if c.Limits.MaxBinarySize == 0 {
		c.Limits.MaxBinarySize = 2 << 30
	}
}

// Validate checks configuration shape, including the matrix
// consistency check that raises platform.ErrUnsupported.
func (c *Config) Validate() error {
	if c.Project.Name == "" {
		return fmt.Errorf("project.name is required")
	}
	if c.Upstream.URL == "" {
		return fmt.Errorf("upstream.url is required")
	}
	if c.Registry.Host == "" || c.Registry.Repository == "" {
		return fmt.Errorf("registry.host and registry.repository are required")
	}
	if strings.Contains(c.Registry.Host, "://") {
		return fmt.Errorf("registry.host should be just the host name (e.g. 'ghcr.io')")
	}
	if c.Release.URL == "" {
		return fmt.Errorf("release.url is required")
	}
	if c.Image.Base == "" {
		return fmt.Errorf("image.base is required")
	}
	if c.Network.Retries < 0 {
		return fmt.Errorf("network.retries must not be negative")
	}

	matrix, err := c.Matrix()
	if err != nil {
		return err
	}
	return matrix.Validate(c.RecipeSet())
}

// Matrix builds the platform matrix from the declared targets.
func (c *Config) Matrix() (*platform.Matrix, error) {
	return platform.NewMatrix(c.Platforms)
}

// RecipeSet returns the operating systems the configuration can
// provision toolchains for.
func (c *Config) RecipeSet() map[string]bool {
	set := make(map[string]bool, len(c.Recipes))
	for os := range c.Recipes {
		set[os] = true
	}
	return set
}

// StrictSemver reports the version-policy knob with its default.
func (c *Config) StrictSemver() bool {
	if c.Project.StrictSemver == nil {
		return true
	}
	return *c.Project.StrictSemver
}
