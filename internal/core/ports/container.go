package ports

import (
	"context"
	"io"

	"github.com/melih/wpfleet/internal/core/domain"
)

// ContainerService defines the runtime operations the proxy needs.
// This interface allows us to switch between Docker, Podman, or a fake
// in tests without changing the business logic.
type ContainerService interface {
	ListContainers(ctx context.Context, filter domain.ContainerFilter) ([]domain.Container, error)
	Exec(ctx context.Context, containerID string, req domain.ExecRequest) (domain.ExecOutput, error)
	CopyToContainer(ctx context.Context, containerID, destPath string, content io.Reader, size int64) error
	CopyDirToContainer(ctx context.Context, containerID, srcDir, destDir string) error
	PublishedPort(ctx context.Context, containerID string, containerPort int) (string, error)
	ContainerLogs(ctx context.Context, containerID string, tail int) (io.ReadCloser, error)
}

// ComposeService runs Docker Compose against a project directory.
type ComposeService interface {
	Up(ctx context.Context, projectDir, projectName string) error
	Down(ctx context.Context, projectDir, projectName string) error
}
