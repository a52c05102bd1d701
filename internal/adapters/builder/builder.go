package builder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/archive"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/sirupsen/logrus"
)

type Adapter struct {
	cli *client.Client
	log logrus.FieldLogger
}

func NewBuilderAdapter(log logrus.FieldLogger) (*Adapter, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Adapter{cli: cli, log: log}, nil
}

// BuildImage builds a Docker image from the Dockerfile in contextDir
func (a *Adapter) BuildImage(ctx context.Context, contextDir string, imageName string) (string, error) {
	// 1. Create Build Context (Tar)
	tar, err := archive.TarWithOptions(contextDir, &archive.TarOptions{})
	if err != nil {
		return "", fmt.Errorf("failed to create build context: %w", err)
	}
	defer tar.Close()

	// 2. Build Docker Image
	a.log.WithField("image", imageName).Info("building image")
	resp, err := a.cli.ImageBuild(ctx, tar, types.ImageBuildOptions{
		Tags:        []string{imageName},
		Dockerfile:  "Dockerfile",
		Remove:      true, // Remove intermediate containers
		ForceRemove: true,
		PullParent:  true,
	})
	if err != nil {
		return "", fmt.Errorf("failed to build image: %w", err)
	}
	defer resp.Body.Close()

	// The build only finishes once the progress stream is drained. Build
	// failures arrive as an error message in the stream, not as an error.
	if err := drainBuildOutput(resp.Body, a.log.WithField("image", imageName)); err != nil {
		return "", fmt.Errorf("failed to build image: %w", err)
	}
	return imageName, nil
}

type buildMessage struct {
	Stream      string `json:"stream"`
	Error       string `json:"error"`
	ErrorDetail struct {
		Message string `json:"message"`
	} `json:"errorDetail"`
}

func drainBuildOutput(r io.Reader, log logrus.FieldLogger) error {
	dec := json.NewDecoder(r)
	for {
		var msg buildMessage
		if err := dec.Decode(&msg); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if msg.Error != "" {
			if msg.ErrorDetail.Message != "" {
				return errors.New(msg.ErrorDetail.Message)
			}
			return errors.New(msg.Error)
		}
		if line := strings.TrimSpace(msg.Stream); line != "" {
			log.Debug(line)
		}
	}
}

// CloneSource shallow-clones repoURL into dir
func (a *Adapter) CloneSource(ctx context.Context, repoURL, ref, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create clone dir: %w", err)
	}

	opts := &git.CloneOptions{
		URL:          repoURL,
		Depth:        1, // Shallow clone for speed
		SingleBranch: true,
	}
	if ref = strings.TrimSpace(ref); ref != "" {
		opts.ReferenceName = plumbing.NewBranchReferenceName(ref)
	}

	a.log.WithField("repo", repoURL).WithField("ref", ref).Info("cloning source")
	if _, err := git.PlainCloneContext(ctx, dir, false, opts); err != nil {
		if ref == "" {
			return fmt.Errorf("failed to clone repo: %w", err)
		}
		// ref may be a tag rather than a branch
		if rmErr := os.RemoveAll(dir); rmErr != nil {
			return fmt.Errorf("failed to clone repo: %w", err)
		}
		opts.ReferenceName = plumbing.NewTagReferenceName(ref)
		if _, tagErr := git.PlainCloneContext(ctx, dir, false, opts); tagErr != nil {
			return fmt.Errorf("failed to clone repo at %s: %w", ref, tagErr)
		}
	}
	return nil
}
