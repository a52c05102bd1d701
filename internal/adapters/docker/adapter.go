package docker

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/archive"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"
	"github.com/melih/wpfleet/internal/core/domain"
)

// www-data in the official WordPress image.
const wwwDataID = 33

// Adapter implements ports.ContainerService using Docker SDK
type Adapter struct {
	cli *client.Client
}

// NewAdapter creates a new Docker adapter instance
func NewAdapter() (*Adapter, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return &Adapter{cli: cli}, nil
}

// Ping checks that the daemon answers within two seconds.
func (a *Adapter) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if _, err := a.cli.Ping(ctx); err != nil {
		return fmt.Errorf("docker daemon unreachable: %w", err)
	}
	return nil
}

func (a *Adapter) Close() error {
	return a.cli.Close()
}

// ListContainers returns the containers matching filter with details
func (a *Adapter) ListContainers(ctx context.Context, filter domain.ContainerFilter) ([]domain.Container, error) {
	args := filters.NewArgs()
	for key, val := range filter.Labels {
		if key == "" || val == "" {
			continue
		}
		args.Add("label", key+"="+val)
	}
	if filter.Ancestor != "" {
		args.Add("ancestor", filter.Ancestor)
	}

	containers, err := a.cli.ContainerList(ctx, container.ListOptions{All: filter.All, Filters: args})
	if err != nil {
		return nil, fmt.Errorf("failed to list containers: %w", err)
	}

	result := make([]domain.Container, 0, len(containers))
	for _, c := range containers {
		// Use the first name if available, remove slash
		name := ""
		if len(c.Names) > 0 {
			name = strings.TrimPrefix(c.Names[0], "/")
		}

		ip := ""
		if c.NetworkSettings != nil {
			for _, ep := range c.NetworkSettings.Networks {
				if ep != nil && ep.IPAddress != "" {
					ip = ep.IPAddress
					break
				}
			}
		}

		result = append(result, domain.Container{
			ID:        c.ID,
			Name:      name,
			Image:     c.Image,
			Status:    c.Status,
			State:     c.State,
			IPAddress: ip,
			Labels:    c.Labels,
		})
	}
	return result, nil
}

// Exec runs argv in the container without a shell and collects its output.
// A non-zero exit code is reported in the output, not as an error.
func (a *Adapter) Exec(ctx context.Context, containerID string, req domain.ExecRequest) (domain.ExecOutput, error) {
	if strings.TrimSpace(containerID) == "" {
		return domain.ExecOutput{}, errors.New("container id required")
	}
	if len(req.Argv) == 0 {
		return domain.ExecOutput{}, errors.New("command required")
	}

	execResp, err := a.cli.ContainerExecCreate(ctx, containerID, types.ExecConfig{
		AttachStdout: true,
		AttachStderr: true,
		Cmd:          req.Argv,
		Env:          req.Env,
		WorkingDir:   req.WorkDir,
		User:         req.User,
	})
	if err != nil {
		return domain.ExecOutput{}, fmt.Errorf("failed to create exec: %w", err)
	}

	attach, err := a.cli.ContainerExecAttach(ctx, execResp.ID, types.ExecStartCheck{})
	if err != nil {
		return domain.ExecOutput{}, fmt.Errorf("failed to attach exec: %w", err)
	}
	defer attach.Close()

	var stdout, stderr bytes.Buffer
	copied := make(chan error, 1)
	go func() {
		_, err := stdcopy.StdCopy(&stdout, &stderr, attach.Reader)
		copied <- err
	}()

	select {
	case err := <-copied:
		if err != nil {
			return domain.ExecOutput{}, fmt.Errorf("failed to read exec output: %w", err)
		}
	case <-ctx.Done():
		// Closing the hijacked connection unblocks the copy; the process
		// itself keeps running inside the container.
		attach.Close()
		<-copied
		return domain.ExecOutput{}, ctx.Err()
	}

	inspect, err := a.cli.ContainerExecInspect(ctx, execResp.ID)
	if err != nil {
		return domain.ExecOutput{}, fmt.Errorf("failed to inspect exec: %w", err)
	}
	return domain.ExecOutput{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: inspect.ExitCode,
	}, nil
}

// CopyToContainer streams content into the container as a single file at
// destPath, owned by www-data.
func (a *Adapter) CopyToContainer(ctx context.Context, containerID, destPath string, content io.Reader, size int64) error {
	if strings.TrimSpace(containerID) == "" {
		return errors.New("container id required")
	}
	destPath = strings.TrimSpace(destPath)
	if destPath == "" || !strings.HasPrefix(destPath, "/") {
		return errors.New("absolute destination path required")
	}

	pr, pw := io.Pipe()
	go func() {
		tw := tar.NewWriter(pw)
		hdr := &tar.Header{
			Name:    path.Base(destPath),
			Mode:    0o644,
			Size:    size,
			Uid:     wwwDataID,
			Gid:     wwwDataID,
			ModTime: time.Now(),
		}
		if err := tw.WriteHeader(hdr); err != nil {
			pw.CloseWithError(err)
			return
		}
		if _, err := io.CopyN(tw, content, size); err != nil {
			pw.CloseWithError(err)
			return
		}
		pw.CloseWithError(tw.Close())
	}()

	err := a.cli.CopyToContainer(ctx, containerID, path.Dir(destPath), pr, types.CopyToContainerOptions{
		AllowOverwriteDirWithFile: true,
	})
	pr.Close()
	if err != nil {
		return fmt.Errorf("failed to copy %s into container: %w", destPath, err)
	}
	return nil
}

// CopyDirToContainer copies srcDir (the directory itself, not only its
// contents) into destDir, skipping VCS metadata.
func (a *Adapter) CopyDirToContainer(ctx context.Context, containerID, srcDir, destDir string) error {
	base := filepath.Base(srcDir)
	tarball, err := archive.TarWithOptions(filepath.Dir(srcDir), &archive.TarOptions{
		IncludeFiles:    []string{base},
		ExcludePatterns: []string{filepath.Join(base, ".git")},
	})
	if err != nil {
		return fmt.Errorf("failed to archive %s: %w", srcDir, err)
	}
	defer tarball.Close()

	if err := a.cli.CopyToContainer(ctx, containerID, destDir, tarball, types.CopyToContainerOptions{}); err != nil {
		return fmt.Errorf("failed to copy %s into container: %w", base, err)
	}
	return nil
}

// PublishedPort returns the host port bound to containerPort/tcp.
func (a *Adapter) PublishedPort(ctx context.Context, containerID string, containerPort int) (string, error) {
	info, err := a.cli.ContainerInspect(ctx, containerID)
	if err != nil {
		return "", fmt.Errorf("failed to inspect container: %w", err)
	}
	if info.NetworkSettings == nil {
		return "", fmt.Errorf("container %s has no network settings", containerID)
	}
	key := nat.Port(fmt.Sprintf("%d/tcp", containerPort))
	for _, binding := range info.NetworkSettings.Ports[key] {
		if strings.TrimSpace(binding.HostPort) != "" {
			return binding.HostPort, nil
		}
	}
	return "", fmt.Errorf("no host port bound for %s", key)
}

// ContainerLogs returns a demultiplexed stream of container logs
func (a *Adapter) ContainerLogs(ctx context.Context, containerID string, tail int) (io.ReadCloser, error) {
	options := container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Timestamps: true,
	}
	if tail > 0 {
		options.Tail = fmt.Sprintf("%d", tail)
	}
	raw, err := a.cli.ContainerLogs(ctx, containerID, options)
	if err != nil {
		return nil, fmt.Errorf("failed to read logs: %w", err)
	}

	pr, pw := io.Pipe()
	go func() {
		defer raw.Close()
		_, err := stdcopy.StdCopy(pw, pw, raw)
		pw.CloseWithError(err)
	}()
	return pr, nil
}
