package provision

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// maxBundleEntry bounds a single extracted file.
const maxBundleEntry = 512 << 20

// ExtractZip unpacks archivePath into dest. Entries that would land outside
// dest are rejected.
func ExtractZip(archivePath, dest string) error {
	r, err := zip.OpenReader(archivePath)
	if err != nil {
		return fmt.Errorf("failed to open bundle: %w", err)
	}
	defer r.Close()

	root, err := filepath.Abs(dest)
	if err != nil {
		return err
	}
	for _, f := range r.File {
		target := filepath.Join(root, filepath.FromSlash(f.Name))
		if target != root && !strings.HasPrefix(target, root+string(os.PathSeparator)) {
			return fmt.Errorf("bundle entry %q escapes the target directory", f.Name)
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
			continue
		}
		if f.Mode()&os.ModeSymlink != 0 {
			return fmt.Errorf("bundle entry %q is a symlink", f.Name)
		}
		if err := extractFile(f, target); err != nil {
			return err
		}
	}
	return nil
}

func extractFile(f *zip.File, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	src, err := f.Open()
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", f.Name, err)
	}
	defer src.Close()

	mode := f.Mode().Perm() | 0o644
	dst, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	n, err := io.Copy(dst, io.LimitReader(src, maxBundleEntry+1))
	if closeErr := dst.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return fmt.Errorf("failed to extract %s: %w", f.Name, err)
	}
	if n > maxBundleEntry {
		return fmt.Errorf("bundle entry %q is too large", f.Name)
	}
	return nil
}

// FlattenNested moves the contents of a lone top-level directory (the
// "wordpress/" folder of release archives) up into dir.
func FlattenNested(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	var nested string
	switch {
	case hasDir(entries, "wordpress"):
		nested = filepath.Join(dir, "wordpress")
	case len(entries) == 1 && entries[0].IsDir():
		nested = filepath.Join(dir, entries[0].Name())
	default:
		return nil
	}

	// Move it aside first so a child with the same name does not collide.
	tmp := filepath.Join(dir, ".flatten-"+filepath.Base(nested))
	if err := os.Rename(nested, tmp); err != nil {
		return err
	}
	nested = tmp

	children, err := os.ReadDir(nested)
	if err != nil {
		return err
	}
	for _, child := range children {
		from := filepath.Join(nested, child.Name())
		to := filepath.Join(dir, child.Name())
		if err := os.RemoveAll(to); err != nil {
			return err
		}
		if err := os.Rename(from, to); err != nil {
			return fmt.Errorf("failed to move %s: %w", child.Name(), err)
		}
	}
	return os.Remove(nested)
}

func hasDir(entries []os.DirEntry, name string) bool {
	for _, e := range entries {
		if e.IsDir() && e.Name() == name {
			return true
		}
	}
	return false
}

// download fetches url into path.
func download(ctx context.Context, client *http.Client, url, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to download %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("failed to download %s: %s", url, resp.Status)
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		return fmt.Errorf("failed to download %s: %w", url, err)
	}
	return f.Close()
}
