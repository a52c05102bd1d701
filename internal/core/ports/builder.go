package ports

import "context"

// BuilderService defines operations for building container images and
// fetching source code.
type BuilderService interface {
	// BuildImage builds a Docker image from the Dockerfile in contextDir.
	// It returns the tag of the built image or an error.
	BuildImage(ctx context.Context, contextDir string, imageName string) (string, error)

	// CloneSource shallow-clones repoURL at ref (default branch when empty)
	// into dir.
	CloneSource(ctx context.Context, repoURL, ref, dir string) error
}
