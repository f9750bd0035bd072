// Package docker wraps the image engine operations the release
// pipeline needs behind a small interface, so image assembly and
// publication can be tested without a daemon.
package docker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/charmbracelet/log"
	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/jsonmessage"
)

// Engine is the subset of the image engine API the pipeline uses.
type Engine interface {
	// Build builds an image from a tar build context and returns the
	// image ID.
	Build(ctx context.Context, buildContext io.Reader, tag string, labels map[string]string) (string, error)

	// Tag applies an additional reference to an existing local image.
	Tag(ctx context.Context, source, target string) error

	// Push pushes one tagged reference to its registry. registryAuth
	// is the base64-encoded auth blob; the stream is fully drained so
	// in-band errors surface.
	Push(ctx context.Context, ref string, registryAuth string) error

	// Remove deletes a local image reference.
	Remove(ctx context.Context, ref string) error

	Close() error
}

// Client is the production Engine backed by the local daemon socket.
type Client struct {
	cli *client.Client
}

var _ Engine = (*Client)(nil)

// NewClient connects to the engine using the standard DOCKER_HOST
// environment resolution with API version negotiation.
func NewClient() (*Client, error) {
	cli, err := client.NewClientWithOpts(
		client.FromEnv,
		client.WithAPIVersionNegotiation(),
	)
	if err != nil {
		return nil, fmt.Errorf("error initializing engine client: %w", err)
	}

	log.Debug("engine client initialized", "host", cli.DaemonHost())
	return &Client{cli: cli}, nil
}

func (c *Client) Build(ctx context.Context, buildContext io.Reader, tag string, labels map[string]string) (string, error) {
	resp, err := c.cli.ImageBuild(ctx, buildContext, types.ImageBuildOptions{
		Tags:        []string{tag},
		Labels:      labels,
		Dockerfile:  "Dockerfile",
		Remove:      true,
		ForceRemove: true,
	})
	if err != nil {
		return "", fmt.Errorf("failed to start image build: %w", err)
	}
	defer resp.Body.Close()

	var imageID string
	if err := jsonmessage.DisplayJSONMessagesStream(resp.Body, io.Discard, 0, false, func(msg jsonmessage.JSONMessage) {
		if msg.Aux == nil {
			return
		}
		var result types.BuildResult
		if err := json.Unmarshal(*msg.Aux, &result); err == nil && result.ID != "" {
			imageID = result.ID
		}
	}); err != nil {
		return "", fmt.Errorf("image build failed: %w", err)
	}

	if imageID == "" {
		// Older daemons omit the aux record; resolve through the tag.
		inspect, _, err := c.cli.ImageInspectWithRaw(ctx, tag)
		if err != nil {
			return "", fmt.Errorf("image built but ID not resolvable: %w", err)
		}
		imageID = inspect.ID
	}

	log.Debug("image built", "tag", tag, "id", imageID)
	return imageID, nil
}

func (c *Client) Tag(ctx context.Context, source, target string) error {
	if err := c.cli.ImageTag(ctx, source, target); err != nil {
		return fmt.Errorf("failed to tag %s as %s: %w", source, target, err)
	}
	return nil
}

func (c *Client) Push(ctx context.Context, ref string, registryAuth string) error {
	rd, err := c.cli.ImagePush(ctx, ref, image.PushOptions{RegistryAuth: registryAuth})
	if err != nil {
		return fmt.Errorf("failed to start push of %s: %w", ref, err)
	}
	defer rd.Close()

	// Push errors arrive in-band as stream messages, the same way the
	// daemon reports load and build failures.
	if err := jsonmessage.DisplayJSONMessagesStream(rd, io.Discard, 0, false, nil); err != nil {
		return fmt.Errorf("push of %s failed: %w", ref, err)
	}
	return nil
}

func (c *Client) Remove(ctx context.Context, ref string) error {
	if _, err := c.cli.ImageRemove(ctx, ref, image.RemoveOptions{}); err != nil {
		return fmt.Errorf("failed to remove image %s: %w", ref, err)
	}
	return nil
}

func (c *Client) Close() error {
	return c.cli.Close()
}
