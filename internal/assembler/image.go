package assembler

import (
	"archive/tar"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/charmbracelet/log"

	"davit/internal/tagging"
	"davit/internal/workspace"
	"davit/pkg/docker"
)

// dockerfileTemplate is the whole runtime recipe: a fresh minimal
// base, the single executable, a writable state mount point, the
// executable as sole entrypoint. Nothing from Stage A survives into
// the image besides the binary itself.
const dockerfileTemplate = `FROM {{.Base}}
COPY {{.Binary}} /usr/bin/{{.Binary}}
VOLUME {{.StateDir}}
ENTRYPOINT ["/usr/bin/{{.Binary}}"]
`

// ImageAssembler performs Stage B: runtime image assembly around an
// executable produced by Stage A.
type ImageAssembler struct {
	engine docker.Engine

	// Base is the minimal runtime base image.
	Base string

	// StateDir is the persistent-state volume mount point declared in
	// the image.
	StateDir string
}

// NewImageAssembler wires Stage B to an image engine.
func NewImageAssembler(engine docker.Engine, base, stateDir string) (*ImageAssembler, error) {
	if base == "" {
		return nil, fmt.Errorf("runtime base image is required")
	}
	if !strings.HasPrefix(stateDir, "/") {
		return nil, fmt.Errorf("state directory must be an absolute path, got %q", stateDir)
	}
	return &ImageAssembler{engine: engine, Base: base, StateDir: stateDir}, nil
}

// Assemble promotes the Stage A executable into the runtime snapshot,
// synthesizes the minimal Dockerfile, and builds the image tagged with
// the version tag of ref. Returns the image ID. Stage B never starts
// unless Stage A handed it an existing executable.
func (a *ImageAssembler) Assemble(ctx context.Context, ws *workspace.Workspace, binaryPath string, ref tagging.ImageRef) (string, error) {
	promoted, err := ws.Promote(binaryPath)
	if err != nil {
		return "", err
	}

	// The runtime snapshot must hold exactly the promoted executable.
	names, err := ws.RuntimeFiles()
	if err != nil {
		return "", err
	}
	if len(names) != 1 {
		return "", fmt.Errorf("runtime snapshot holds %d files, want exactly the executable", len(names))
	}

	buildCtx, err := a.buildContext(promoted)
	if err != nil {
		return "", err
	}

	versionTag := ref.Tagged(ref.Tags[0])
	imageID, err := a.engine.Build(ctx, buildCtx, versionTag, ref.Labels)
	if err != nil {
		return "", fmt.Errorf("assembling runtime image: %w", err)
	}

	log.Info("runtime image assembled", "tag", versionTag, "id", imageID, "base", a.Base)
	return imageID, nil
}

// buildContext tars the synthesized Dockerfile plus the executable,
// the complete build context and nothing else.
func (a *ImageAssembler) buildContext(binaryPath string) (io.Reader, error) {
	binary := filepath.Base(binaryPath)

	tmpl := template.Must(template.New("dockerfile").Parse(dockerfileTemplate))
	var dockerfile bytes.Buffer
	data := struct {
		Base     string
		Binary   string
		StateDir string
	}{a.Base, binary, a.StateDir}
	if err := tmpl.Execute(&dockerfile, data); err != nil {
		return nil, fmt.Errorf("rendering dockerfile: %w", err)
	}

	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)

	if err := tw.WriteHeader(&tar.Header{
		Name: "Dockerfile",
		Mode: 0o644,
		Size: int64(dockerfile.Len()),
	}); err != nil {
		return nil, fmt.Errorf("writing build context: %w", err)
	}
	if _, err := tw.Write(dockerfile.Bytes()); err != nil {
		return nil, fmt.Errorf("writing build context: %w", err)
	}

	f, err := os.Open(binaryPath)
	if err != nil {
		return nil, fmt.Errorf("opening runtime executable: %w", err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat runtime executable: %w", err)
	}

	if err := tw.WriteHeader(&tar.Header{
		Name: binary,
		Mode: 0o755,
		Size: info.Size(),
	}); err != nil {
		return nil, fmt.Errorf("writing build context: %w", err)
	}
	if _, err := io.Copy(tw, f); err != nil {
		return nil, fmt.Errorf("writing build context: %w", err)
	}
	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("finalizing build context: %w", err)
	}

	return &buf, nil
}
