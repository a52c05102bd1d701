package wpcli

import (
	"context"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/melih/wpfleet/internal/core/domain"
)

// GitSource names a plugin or theme repository to install.
type GitSource struct {
	Kind    string // plugin or theme
	RepoURL string
	Ref     string
}

// Slug derives the install directory name from the repository URL.
func (s GitSource) Slug() (string, error) {
	u, err := url.Parse(strings.TrimSpace(s.RepoURL))
	if err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
		return "", domain.Validationf("repository URL must be an http(s) URL")
	}
	slug := strings.ToLower(strings.TrimSuffix(path.Base(u.Path), ".git"))
	if !slugPattern.MatchString(slug) {
		return "", domain.Validationf("cannot derive a %s slug from %q", s.Kind, s.RepoURL)
	}
	return slug, nil
}

// InstallFromGit clones a plugin or theme repository, copies it into
// wp-content and activates it.
func (d *Dispatcher) InstallFromGit(ctx context.Context, instanceID string, src GitSource) (Result, error) {
	if src.Kind != "plugin" && src.Kind != "theme" {
		return Result{}, domain.Validationf("kind must be plugin or theme")
	}
	if d.source == nil {
		return Result{}, domain.Infrastructure("git installs are not configured", nil)
	}
	slug, err := src.Slug()
	if err != nil {
		return Result{}, err
	}
	activate, err := d.builder.Build(src.Kind, "activate", []string{slug})
	if err != nil {
		return Result{}, err
	}

	var res Result
	err = d.withInstance(ctx, instanceID, true, func(h domain.InstanceHandle) error {
		root := d.stagingDir
		if root == "" {
			root = os.TempDir()
		}
		dir := filepath.Join(root, uuid.NewString(), slug)
		defer os.RemoveAll(filepath.Dir(dir))

		if err := d.source.CloneSource(ctx, src.RepoURL, src.Ref, dir); err != nil {
			return domain.Infrastructure("failed to clone repository", err)
		}
		dest := path.Join(DocumentRoot, "wp-content", src.Kind+"s")
		if err := d.runtime.CopyDirToContainer(ctx, h.ContainerID, dir, dest); err != nil {
			return domain.Infrastructure("failed to copy source into container", err)
		}
		res, err = d.executor.Execute(ctx, h, activate, 0)
		return err
	})
	return res, err
}
