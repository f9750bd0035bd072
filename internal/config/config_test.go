package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"davit/internal/platform"
)

const validConfig = `
project:
  name: myapp
  source: https://example.com/acme/myapp
upstream:
  url: https://dl.example.com/releases/{{.Version}}/{{.Filename}}
platforms:
  - os: linux
    arch: amd64
    triple: x86_64-unknown-linux-gnu
    archive: myapp-{{.Version}}-{{.Triple}}.tar.gz
  - os: darwin
    arch: arm64
    triple: aarch64-apple-darwin
    archive: myapp-{{.Version}}-{{.Triple}}.tar.gz
recipes:
  linux: [musl-tools]
  darwin: []
registry:
  host: ghcr.io
  repository: acme/myapp
release:
  url: https://releases.example.com/upload
image:
  base: debian:stable-slim
  platform: linux/amd64
network:
  timeout: 90s
  retries: 3
  retry_wait: 5s
limits:
  max_binary_size: 512MB
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "davit.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	cfg, err := Load(writeConfig(t, validConfig))

	require.NoError(t, err)
	assert.Equal(t, "myapp", cfg.Project.Name)
	assert.Equal(t, 90*time.Second, cfg.Network.Timeout.Std())
	assert.Equal(t, 3, cfg.Network.Retries)
	assert.Equal(t, 5*time.Second, cfg.Network.RetryWait.Std())
	assert.Equal(t, "/var/lib/myapp", cfg.Image.StateDir, "state dir defaults from project name")
	assert.True(t, cfg.StrictSemver(), "strict semver defaults on")
	assert.Len(t, cfg.Platforms, 2)
	assert.Equal(t, ByteSize(512<<20), cfg.Limits.MaxBinarySize)
}

func TestLoad_Defaults(t *testing.T) {
	minimal := `
project:
  name: myapp
upstream:
  url: https://dl.example.com/{{.Version}}/{{.Filename}}
platforms:
  - os: linux
    arch: amd64
    triple: x86_64-unknown-linux-gnu
    archive: myapp-{{.Version}}.tar.gz
recipes:
  linux: []
registry:
  host: ghcr.io
  repository: acme/myapp
release:
  url: https://releases.example.com/upload
image:
  base: debian:stable-slim
`
	cfg, err := Load(writeConfig(t, minimal))

	require.NoError(t, err)
	assert.Equal(t, 2*time.Minute, cfg.Network.Timeout.Std())
	assert.Equal(t, "linux/amd64", cfg.Image.Platform)
	assert.Equal(t, ByteSize(2<<30), cfg.Limits.MaxBinarySize)
}

func TestDuration_HumanUnits(t *testing.T) {
	var d Duration
	require.NoError(t, yaml.Unmarshal([]byte("1d"), &d))
	assert.Equal(t, 24*time.Hour, d.Std())

	var b ByteSize
	require.NoError(t, yaml.Unmarshal([]byte(`"1.5GB"`), &b))
	assert.Equal(t, ByteSize(3<<29), b)
}

func TestLoad_UnknownField(t *testing.T) {
	_, err := Load(writeConfig(t, validConfig+"\nbogus: true\n"))
	assert.Error(t, err)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestValidate_MissingRecipe(t *testing.T) {
	content := `
project:
  name: myapp
upstream:
  url: https://dl.example.com/{{.Version}}/{{.Filename}}
platforms:
  - os: linux
    arch: amd64
    triple: x86_64-unknown-linux-gnu
    archive: myapp-{{.Version}}.tar.gz
  - os: windows
    arch: amd64
    triple: x86_64-pc-windows-msvc
    archive: myapp-{{.Version}}.tar.gz
recipes:
  linux: []
registry:
  host: ghcr.io
  repository: acme/myapp
release:
  url: https://releases.example.com/upload
image:
  base: debian:stable-slim
`
	_, err := Load(writeConfig(t, content))
	assert.ErrorIs(t, err, platform.ErrUnsupported)
}

func TestValidate_RequiredFields(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"project name", func(c *Config) { c.Project.Name = "" }},
		{"upstream url", func(c *Config) { c.Upstream.URL = "" }},
		{"registry host", func(c *Config) { c.Registry.Host = "" }},
		{"registry scheme", func(c *Config) { c.Registry.Host = "https://ghcr.io" }},
		{"release url", func(c *Config) { c.Release.URL = "" }},
		{"image base", func(c *Config) { c.Image.Base = "" }},
		{"negative retries", func(c *Config) { c.Network.Retries = -1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(writeConfig(t, validConfig))
			require.NoError(t, err)

			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestCredentialEnv(t *testing.T) {
	t.Setenv(EnvRegistryUser, "ci-bot")
	t.Setenv(EnvRegistryToken, "opaque-token")
	t.Setenv(EnvReleaseToken, "release-token")

	assert.Equal(t, "ci-bot", RegistryUser())
	assert.Equal(t, "opaque-token", RegistryToken())
	assert.Equal(t, "release-token", ReleaseToken())
}
