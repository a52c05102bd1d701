package wpcli

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/melih/wpfleet/internal/core/domain"
)

// UploadsDir is where uploaded files are placed inside the container.
const UploadsDir = DocumentRoot + "/wp-content/uploads"

const importerPlugin = "wordpress-importer"

var uploadNamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,199}$`)

// Upload is a file received from a caller.
type Upload struct {
	Filename string
	Content  io.Reader
}

// SanitizeFilename reduces a client-supplied name to its base name and
// rejects anything that could address another path.
func SanitizeFilename(name string) (string, error) {
	base := path.Base(strings.ReplaceAll(strings.TrimSpace(name), `\`, "/"))
	if base == "." || base == "/" || !uploadNamePattern.MatchString(base) {
		return "", domain.Validationf("invalid file name %q", name)
	}
	return base, nil
}

// ImportMedia stages the file, copies it into the uploads directory and
// runs `wp media import <path>`.
func (d *Dispatcher) ImportMedia(ctx context.Context, instanceID string, up Upload) (Result, error) {
	res, err := d.importUpload(ctx, instanceID, up, func(h domain.InstanceHandle, containerPath string) (Result, error) {
		cmd, err := d.builder.Build("media", "import", []string{containerPath})
		if err != nil {
			return Result{}, err
		}
		return d.executor.Execute(ctx, h, cmd, 0)
	})
	if err != nil {
		return Result{}, err
	}
	res.Message = fmt.Sprintf("Successfully imported %s as attachment.", up.Filename)
	return res, nil
}

// ImportContent stages a WXR file, makes sure the importer plugin is
// installed and active, then runs `wp import <path> --authors=skip`.
func (d *Dispatcher) ImportContent(ctx context.Context, instanceID string, up Upload) (Result, error) {
	res, err := d.importUpload(ctx, instanceID, up, func(h domain.InstanceHandle, containerPath string) (Result, error) {
		if err := d.ensurePlugin(ctx, h, importerPlugin); err != nil {
			return Result{}, err
		}
		cmd, err := d.builder.Build("import", "", []string{containerPath, "--authors=skip"})
		if err != nil {
			return Result{}, err
		}
		return d.executor.Execute(ctx, h, cmd, 0)
	})
	if err != nil {
		return Result{}, err
	}
	res.Message = fmt.Sprintf("Successfully imported content from %s.", up.Filename)
	return res, nil
}

// importUpload resolves the instance first so a resolution failure leaves
// nothing staged, then stages, copies and runs fn under the instance lock.
func (d *Dispatcher) importUpload(ctx context.Context, instanceID string, up Upload, fn func(h domain.InstanceHandle, containerPath string) (Result, error)) (Result, error) {
	if up.Content == nil {
		return Result{}, domain.Validationf("no file uploaded")
	}
	name, err := SanitizeFilename(up.Filename)
	if err != nil {
		return Result{}, err
	}
	up.Filename = name
	containerPath := path.Join(UploadsDir, name)

	var res Result
	err = d.withInstance(ctx, instanceID, true, func(h domain.InstanceHandle) error {
		staged, cleanup, err := d.stage(up)
		if err != nil {
			return err
		}
		defer cleanup()

		if err := d.copyStaged(ctx, h, staged, containerPath); err != nil {
			return err
		}
		res, err = fn(h, containerPath)
		return err
	})
	return res, err
}

// stage writes the upload into a request-scoped directory under the
// staging root. cleanup removes the directory.
func (d *Dispatcher) stage(up Upload) (string, func(), error) {
	root := d.stagingDir
	if root == "" {
		root = os.TempDir()
	}
	dir := filepath.Join(root, uuid.NewString())
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", nil, domain.Infrastructure("failed to create staging directory", err)
	}
	cleanup := func() {
		if err := os.RemoveAll(dir); err != nil {
			d.log.WithError(err).WithField("dir", dir).Warn("failed to remove staging directory")
		}
	}

	staged := filepath.Join(dir, up.Filename)
	f, err := os.OpenFile(staged, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o600)
	if err != nil {
		cleanup()
		return "", nil, domain.Infrastructure("failed to stage upload", err)
	}
	if _, err := io.Copy(f, up.Content); err != nil {
		f.Close()
		cleanup()
		return "", nil, domain.Infrastructure("failed to stage upload", err)
	}
	if err := f.Close(); err != nil {
		cleanup()
		return "", nil, domain.Infrastructure("failed to stage upload", err)
	}
	return staged, cleanup, nil
}

func (d *Dispatcher) copyStaged(ctx context.Context, h domain.InstanceHandle, staged, containerPath string) error {
	f, err := os.Open(staged)
	if err != nil {
		return domain.Infrastructure("failed to open staged upload", err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return domain.Infrastructure("failed to stat staged upload", err)
	}
	if err := d.runtime.CopyToContainer(ctx, h.ContainerID, containerPath, f, info.Size()); err != nil {
		return domain.Infrastructure("failed to copy upload into container", err)
	}
	d.log.WithField("instance", h.InstanceID).WithField("path", containerPath).Info("copied upload into container")
	return nil
}

// ensurePlugin installs and activates plugin unless it is already installed.
// Called with the instance lock held.
func (d *Dispatcher) ensurePlugin(ctx context.Context, h domain.InstanceHandle, plugin string) error {
	check, err := d.builder.Build("plugin", "is-installed", []string{plugin})
	if err != nil {
		return err
	}
	if _, err := d.executor.Execute(ctx, h, check, 0); err == nil {
		return nil
	} else if domain.KindOf(err) != domain.KindExecution {
		return err
	}

	d.log.WithField("plugin", plugin).Info("plugin not installed, installing")
	install, err := d.builder.Build("plugin", "install", []string{plugin, "--activate"})
	if err != nil {
		return err
	}
	_, err = d.executor.Execute(ctx, h, install, 0)
	return err
}
