// Package image reports on and pulls the container image the agent runs in.
package image

import (
	"context"
	"fmt"
	"io"
	"time"

	cerrdefs "github.com/containerd/errdefs"
	dimage "github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"go.uber.org/zap"

	"github.com/hochfrequenz/codex-orchestrator/internal/logger"
)

// Info describes the local copy of the configured image
type Info struct {
	ImageName      string     `json:"imageName" yaml:"imageName"`
	ImageID        string     `json:"imageId,omitempty" yaml:"imageId,omitempty"`
	ImageCreatedAt *time.Time `json:"imageCreatedAt,omitempty" yaml:"imageCreatedAt,omitempty"`
	Present        bool       `json:"present" yaml:"present"`
}

// dockerAPI is the subset of the docker client used here
type dockerAPI interface {
	ImageInspect(ctx context.Context, imageID string, opts ...client.ImageInspectOption) (dimage.InspectResponse, error)
	ImagePull(ctx context.Context, ref string, opts dimage.PullOptions) (io.ReadCloser, error)
	Close() error
}

// Manager inspects and pulls one image
type Manager struct {
	api  dockerAPI
	name string
	log  *logger.Logger
}

// NewManager connects to the docker daemon from the environment (DOCKER_HOST etc.).
// The connection is lazy; a missing daemon surfaces on first use.
func NewManager(imageName string, log *logger.Logger) (*Manager, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return newManager(cli, imageName, log), nil
}

func newManager(api dockerAPI, imageName string, log *logger.Logger) *Manager {
	if log == nil {
		log = logger.Default()
	}
	return &Manager{api: api, name: imageName, log: log.WithComponent("image")}
}

// Name returns the configured image reference
func (m *Manager) Name() string { return m.name }

// Info inspects the image. An image that is not present locally is not an error.
func (m *Manager) Info(ctx context.Context) (Info, error) {
	info := Info{ImageName: m.name}
	resp, err := m.api.ImageInspect(ctx, m.name)
	if err != nil {
		if cerrdefs.IsNotFound(err) {
			return info, nil
		}
		return info, fmt.Errorf("inspect image %s: %w", m.name, err)
	}
	info.Present = true
	info.ImageID = resp.ID
	if created, err := time.Parse(time.RFC3339Nano, resp.Created); err == nil {
		created = created.UTC()
		info.ImageCreatedAt = &created
	}
	return info, nil
}

// Pull fetches the image and returns the refreshed info
func (m *Manager) Pull(ctx context.Context) (Info, error) {
	m.log.Info("Pulling image", zap.String("image", m.name))

	reader, err := m.api.ImagePull(ctx, m.name, dimage.PullOptions{})
	if err != nil {
		m.log.Error("Failed to pull image", zap.String("image", m.name), zap.Error(err))
		return Info{ImageName: m.name}, fmt.Errorf("failed to pull image %s: %w", m.name, err)
	}
	defer reader.Close()

	// the pull only completes once the progress stream is drained
	if _, err := io.Copy(io.Discard, reader); err != nil {
		return Info{ImageName: m.name}, fmt.Errorf("error reading image pull output: %w", err)
	}
	m.log.Info("Image pulled", zap.String("image", m.name))
	return m.Info(ctx)
}

// Close releases the docker client
func (m *Manager) Close() error {
	return m.api.Close()
}
