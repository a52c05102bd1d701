package wpcli

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/melih/wpfleet/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestImportMediaCatPNG(t *testing.T) {
	rt := newFakeRuntime()
	rt.respond = func(argv []string) (domain.ExecOutput, error) {
		return domain.ExecOutput{Stdout: "Imported file '/var/www/html/wp-content/uploads/cat.png' as attachment ID 5.\nSuccess: Imported 1 of 1 items."}, nil
	}
	staging := t.TempDir()
	d := newTestDispatcher(rt, &staticResolver{}, staging)

	res, err := d.ImportMedia(context.Background(), "blog", Upload{Filename: "cat.png", Content: strings.NewReader("\x89PNG")})
	require.NoError(t, err)
	assert.Equal(t, "Successfully imported cat.png as attachment.", res.Output())

	assert.Equal(t, []byte("\x89PNG"), rt.copies["/var/www/html/wp-content/uploads/cat.png"])
	calls := rt.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, []string{"wp", "media", "import", "/var/www/html/wp-content/uploads/cat.png", "--allow-root"}, calls[0])

	cmd := mustBuild(t, "media", "import", calls[0][3])
	assert.Equal(t, "wp media import '/var/www/html/wp-content/uploads/cat.png' --allow-root", cmd.String())

	entries, err := os.ReadDir(staging)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestImportMediaCleansUpOnFailure(t *testing.T) {
	rt := newFakeRuntime()
	rt.respond = func(argv []string) (domain.ExecOutput, error) {
		return domain.ExecOutput{ExitCode: 1, Stderr: "Error: Invalid file type."}, nil
	}
	staging := t.TempDir()
	d := newTestDispatcher(rt, &staticResolver{}, staging)

	_, err := d.ImportMedia(context.Background(), "blog", Upload{Filename: "cat.png", Content: strings.NewReader("x")})
	assert.ErrorIs(t, err, domain.ErrExecution)

	entries, err := os.ReadDir(staging)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestImportMediaRejectsBadNames(t *testing.T) {
	rt := newFakeRuntime()
	d := newTestDispatcher(rt, &staticResolver{}, t.TempDir())

	for _, name := range []string{"", ".htaccess", "a b.png", "x;id.png", "..", "/"} {
		_, err := d.ImportMedia(context.Background(), "blog", Upload{Filename: name, Content: strings.NewReader("x")})
		assert.ErrorIs(t, err, domain.ErrValidation, name)
	}
	_, err := d.ImportMedia(context.Background(), "blog", Upload{Filename: "cat.png"})
	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.Empty(t, rt.calls())
}

func TestSanitizeFilenameStripsDirectories(t *testing.T) {
	name, err := SanitizeFilename("../../etc/cat.png")
	require.NoError(t, err)
	assert.Equal(t, "cat.png", name)

	name, err = SanitizeFilename(`C:\Users\me\cat.png`)
	require.NoError(t, err)
	assert.Equal(t, "cat.png", name)
}

func TestImportContentInstallsImporter(t *testing.T) {
	rt := newFakeRuntime()
	rt.respond = func(argv []string) (domain.ExecOutput, error) {
		if argv[1] == "plugin" && argv[2] == "is-installed" {
			return domain.ExecOutput{ExitCode: 1}, nil
		}
		return domain.ExecOutput{Stdout: "Success: Finished importing."}, nil
	}
	d := newTestDispatcher(rt, &staticResolver{}, t.TempDir())

	res, err := d.ImportContent(context.Background(), "blog", Upload{Filename: "site.xml", Content: strings.NewReader("<rss/>")})
	require.NoError(t, err)
	assert.Equal(t, "Successfully imported content from site.xml.", res.Output())

	calls := rt.calls()
	require.Len(t, calls, 3)
	assert.Equal(t, []string{"wp", "plugin", "is-installed", "wordpress-importer", "--allow-root"}, calls[0])
	assert.Equal(t, []string{"wp", "plugin", "install", "wordpress-importer", "--activate", "--allow-root"}, calls[1])
	assert.Equal(t, []string{"wp", "import", "/var/www/html/wp-content/uploads/site.xml", "--authors=skip", "--allow-root"}, calls[2])
}

func TestImportContentSkipsInstalledImporter(t *testing.T) {
	rt := newFakeRuntime()
	d := newTestDispatcher(rt, &staticResolver{}, t.TempDir())

	_, err := d.ImportContent(context.Background(), "blog", Upload{Filename: "site.xml", Content: strings.NewReader("<rss/>")})
	require.NoError(t, err)
	assert.Len(t, rt.calls(), 2)
}

func TestImportContentInfrastructureFailureNotMistakenForMissingPlugin(t *testing.T) {
	rt := newFakeRuntime()
	rt.respond = func(argv []string) (domain.ExecOutput, error) {
		return domain.ExecOutput{}, errors.New("container gone")
	}
	d := newTestDispatcher(rt, &staticResolver{}, t.TempDir())

	_, err := d.ImportContent(context.Background(), "blog", Upload{Filename: "site.xml", Content: strings.NewReader("<rss/>")})
	assert.ErrorIs(t, err, domain.ErrInfrastructure)
	assert.Len(t, rt.calls(), 1)
}
