// Package workspace manages the run-scoped staging tree backing the
// two-stage assembly: an isolated fetch area, a build snapshot, and a
// runtime snapshot. The only sanctioned flow between build and runtime
// is an explicit copy of a named file.
package workspace

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
)

// Workspace is one run's staging area on the local filesystem. Each
// platform gets its own Workspace, so parallel builds never share
// state.
type Workspace struct {
	ID   string
	root string
}

// New creates the staging tree under baseDir. An empty baseDir uses
// the system temp directory.
func New(baseDir string) (*Workspace, error) {
	if baseDir == "" {
		baseDir = os.TempDir()
	}

	id := uuid.NewString()
	root := filepath.Join(baseDir, "davit-"+id)

	for _, dir := range []string{
		filepath.Join(root, "fetch"),
		filepath.Join(root, "build"),
		filepath.Join(root, "runtime"),
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	log.Debug("workspace initialized", "id", id, "root", root)
	return &Workspace{ID: id, root: root}, nil
}

// FetchDir holds downloaded archives before extraction.
func (w *Workspace) FetchDir() string { return filepath.Join(w.root, "fetch") }

// BuildDir is the Stage A output snapshot: extracted executables and
// whatever intermediates extraction produced.
func (w *Workspace) BuildDir() string { return filepath.Join(w.root, "build") }

// RuntimeDir is the Stage B input snapshot. It only ever receives
// files through Promote.
func (w *Workspace) RuntimeDir() string { return filepath.Join(w.root, "runtime") }

// Promote copies a single file from the build snapshot into the
// runtime snapshot and returns its new path. Nothing else crosses the
// stage boundary, which is what keeps build-time artifacts out of the
// published image.
func (w *Workspace) Promote(buildPath string) (string, error) {
	src, err := os.Open(buildPath)
	if err != nil {
		return "", fmt.Errorf("failed to open build artifact: %w", err)
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return "", fmt.Errorf("failed to stat build artifact: %w", err)
	}
	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("build artifact %s is not a regular file", buildPath)
	}

	dstPath := filepath.Join(w.RuntimeDir(), filepath.Base(buildPath))
	dst, err := os.OpenFile(dstPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return "", fmt.Errorf("failed to create runtime artifact: %w", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return "", fmt.Errorf("failed to copy artifact into runtime snapshot: %w", err)
	}

	log.Debug("artifact promoted", "id", w.ID, "file", filepath.Base(buildPath))
	return dstPath, nil
}

// RuntimeFiles lists the names currently in the runtime snapshot.
func (w *Workspace) RuntimeFiles() ([]string, error) {
	entries, err := os.ReadDir(w.RuntimeDir())
	if err != nil {
		return nil, fmt.Errorf("failed to list runtime snapshot: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names, nil
}

// Close removes the whole staging tree.
func (w *Workspace) Close() error {
	if err := os.RemoveAll(w.root); err != nil {
		return fmt.Errorf("failed to remove workspace: %w", err)
	}
	return nil
}
