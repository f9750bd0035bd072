package publisher

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/docker/docker/api/types/registry"
	"github.com/opencontainers/go-digest"

	"davit/internal/common"
	"davit/internal/tagging"
	"davit/pkg/docker"
)

// RegistryCredentials is the opaque credential pair supplied by the
// invoking environment. Lifecycle management happens outside this
// pipeline.
type RegistryCredentials struct {
	Username string
	Token    string
}

// Images publishes assembled images to the container registry with
// every computed tag.
type Images struct {
	engine docker.Engine
	auth   string

	// mu serializes multi-tag pushes per image reference so no reader
	// of the registry observes a partial tag set while another push
	// of the same reference is in flight.
	mu   sync.Mutex
	refs map[string]*sync.Mutex
}

// NewImages wires the image publisher to an engine and encodes the
// registry credentials once.
func NewImages(engine docker.Engine, registryHost string, creds RegistryCredentials) (*Images, error) {
	var auth string
	if creds.Username != "" || creds.Token != "" {
		blob, err := json.Marshal(registry.AuthConfig{
			Username:      creds.Username,
			Password:      creds.Token,
			ServerAddress: registryHost,
		})
		if err != nil {
			return nil, fmt.Errorf("encoding registry credentials: %w", err)
		}
		auth = base64.URLEncoding.EncodeToString(blob)
	}

	return &Images{
		engine: engine,
		auth:   auth,
		refs:   make(map[string]*sync.Mutex),
	}, nil
}

// Publish applies every computed tag to the built image and pushes
// them. From the caller's perspective the tag set lands atomically:
// the first push failure fails the whole publication, and a failed
// publication is never reported as partially succeeded.
func (p *Images) Publish(ctx context.Context, imageID string, ref tagging.ImageRef) common.PublicationResult {
	result := common.PublicationResult{
		Kind:   common.KindImage,
		Target: ref.Name(),
	}
	if d, err := digest.Parse(imageID); err == nil {
		result.Digest = d
	}

	lock := p.refLock(ref.Name())
	lock.Lock()
	defer lock.Unlock()

	// All tags point at the image locally before anything is pushed.
	for _, tag := range ref.Tags {
		if err := p.engine.Tag(ctx, imageID, ref.Tagged(tag)); err != nil {
			result.Err = fmt.Errorf("%w: tagging %s: %v", common.ErrNetworkFailure, ref.Tagged(tag), err)
			return result
		}
	}

	for _, tag := range ref.Tags {
		tagged := ref.Tagged(tag)
		log.Info("pushing image", "ref", tagged)
		if err := p.engine.Push(ctx, tagged, p.auth); err != nil {
			result.Err = classifyPushError(err, tagged)
			return result
		}
	}

	// The duplicate local refs only existed for the pushes; cleanup
	// failures do not affect the publication outcome.
	for _, tag := range ref.Tags[1:] {
		if err := p.engine.Remove(ctx, ref.Tagged(tag)); err != nil {
			log.Warn("failed to remove local tag", "ref", ref.Tagged(tag), "error", err)
		}
	}

	result.Location = ref.Tagged(ref.Tags[0])
	log.Info("image published", "ref", result.Location, "tags", len(ref.Tags))
	return result
}

func (p *Images) refLock(name string) *sync.Mutex {
	p.mu.Lock()
	defer p.mu.Unlock()
	lock, ok := p.refs[name]
	if !ok {
		lock = &sync.Mutex{}
		p.refs[name] = lock
	}
	return lock
}

// classifyPushError maps the daemon's in-band push errors onto the
// failure taxonomy. The daemon reports these as strings, so matching
// is necessarily textual.
func classifyPushError(err error, ref string) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "unauthorized") ||
		strings.Contains(msg, "authentication required") ||
		strings.Contains(msg, "no basic auth credentials") ||
		strings.Contains(msg, "denied"):
		return fmt.Errorf("%w: registry rejected push of %s: %v", common.ErrAuthenticationFailed, ref, err)
	case strings.Contains(msg, "already exists") ||
		strings.Contains(msg, "conflict") ||
		strings.Contains(msg, "tag is immutable"):
		return fmt.Errorf("%w: %s: %v", common.ErrDestinationConflict, ref, err)
	default:
		return fmt.Errorf("%w: pushing %s: %v", common.ErrNetworkFailure, ref, err)
	}
}
