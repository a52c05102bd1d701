package wpcli

import (
	"errors"
	"testing"

	"github.com/melih/wpfleet/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildArgv(t *testing.T) {
	cmd, err := NewBuilder(nil).Build("package", "install", []string{"hello-dolly"})
	require.NoError(t, err)

	assert.Equal(t, []string{"wp", "package", "install", "hello-dolly", "--allow-root"}, cmd.Argv())
	assert.Equal(t, "wp package install 'hello-dolly' --allow-root", cmd.String())
}

func TestBuildWithoutSubCommand(t *testing.T) {
	cmd, err := NewBuilder(nil).Build("export", "", []string{"--stdout"})
	require.NoError(t, err)
	assert.Equal(t, []string{"wp", "export", "--stdout", "--allow-root"}, cmd.Argv())
	assert.True(t, cmd.ReadOnly())
}

func TestBuildKeepsMetacharactersInOneToken(t *testing.T) {
	payloads := []string{
		"; rm -rf /",
		"$(reboot)",
		"`id`",
		"a | b && c",
		`it's "quoted"`,
		"> /etc/passwd",
	}
	for _, p := range payloads {
		t.Run(p, func(t *testing.T) {
			cmd, err := NewBuilder(nil).Build("option", "update", []string{"blogname", p})
			require.NoError(t, err)

			argv := cmd.Argv()
			require.Len(t, argv, 6)
			assert.Equal(t, p, argv[4])
			assert.Contains(t, cmd.String(), Quote(p))
		})
	}
}

func TestBuildDenylist(t *testing.T) {
	b := NewBuilder(nil)
	for _, ns := range []string{"eval", "eval-file", "shell", " EVAL "} {
		_, err := b.Build(ns, "", []string{"phpinfo();"})
		require.Error(t, err, ns)
		assert.True(t, errors.Is(err, domain.ErrForbidden), ns)
	}
}

func TestBuildCustomDenylist(t *testing.T) {
	b := NewBuilder([]string{"db"})
	_, err := b.Build("db", "drop", nil)
	assert.ErrorIs(t, err, domain.ErrForbidden)

	// eval is only denied by default.
	_, err = b.Build("eval", "", nil)
	assert.NoError(t, err)
}

func TestBuildRejectsDeniedFlags(t *testing.T) {
	b := NewBuilder(nil)
	for _, arg := range []string{"--exec=system('id');", "--require=/tmp/x.php", "--ssh=host", "--http=http://x"} {
		_, err := b.Build("option", "get", []string{"home", arg})
		assert.ErrorIs(t, err, domain.ErrForbidden, arg)
	}
	// A value that merely mentions the flag is data.
	_, err := b.Build("option", "update", []string{"note", "use --exec carefully"})
	assert.NoError(t, err)
}

func TestBuildValidation(t *testing.T) {
	b := NewBuilder(nil)
	cases := []struct {
		name, ns, sub string
		args          []string
	}{
		{"empty namespace", "", "list", nil},
		{"unknown namespace", "frobnicate", "", nil},
		{"namespace with space", "plugin list", "", nil},
		{"namespace metachar", "plugin;id", "", nil},
		{"subcommand metachar", "plugin", "list&&id", nil},
		{"nul byte", "option", "get", []string{"a\x00b"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := b.Build(tc.ns, tc.sub, tc.args)
			assert.ErrorIs(t, err, domain.ErrValidation)
		})
	}
}

func TestOperationTokenizes(t *testing.T) {
	cmd, err := NewBuilder(nil).Operation(domain.CliOperation{
		Namespace:  "post",
		SubCommand: "create",
		ArgString:  `--post_title="Hello; world" --post_status=publish`,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"wp", "post", "create", "--post_title=Hello; world", "--post_status=publish", "--allow-root"}, cmd.Argv())
}

func TestOperationTakesSubCommandFromArgs(t *testing.T) {
	b := NewBuilder(nil)

	cmd, err := b.Operation(domain.CliOperation{Namespace: "plugin", ArgString: "list --format=json"})
	require.NoError(t, err)
	assert.Equal(t, "list", cmd.SubCommand())
	assert.True(t, cmd.ReadOnly())
	assert.Equal(t, []string{"wp", "plugin", "list", "--format=json", "--allow-root"}, cmd.Argv())

	cmd, err = b.Operation(domain.CliOperation{Namespace: "search-replace", ArgString: "'http://a b' http://c"})
	require.NoError(t, err)
	assert.Equal(t, "", cmd.SubCommand())
	assert.Equal(t, []string{"wp", "search-replace", "http://a b", "http://c", "--allow-root"}, cmd.Argv())
}

func TestOperationRefusesDedicatedCommands(t *testing.T) {
	b := NewBuilder(nil)
	for _, op := range []domain.CliOperation{
		{Namespace: "package", SubCommand: "install", ArgString: "hello-dolly"},
		{Namespace: "package", ArgString: "install ../../evil;name"},
		{Namespace: " package ", ArgString: "  install x"},
	} {
		_, err := b.Operation(op)
		assert.ErrorIs(t, err, domain.ErrForbidden, "%+v", op)
	}

	// the typed operation still builds it
	_, err := b.Build("package", "install", []string{"hello-dolly"})
	assert.NoError(t, err)
}

func TestOperationDeniedBeforeTokenizing(t *testing.T) {
	_, err := NewBuilder(nil).Operation(domain.CliOperation{Namespace: "eval", ArgString: `"unterminated`})
	assert.ErrorIs(t, err, domain.ErrForbidden)
}

func TestReadOnly(t *testing.T) {
	b := NewBuilder(nil)
	cases := []struct {
		ns, sub string
		args    []string
		want    bool
	}{
		{"plugin", "list", nil, true},
		{"option", "get", []string{"home"}, true},
		{"option", "update", []string{"home", "x"}, false},
		{"language", "core", []string{"list"}, true},
		{"language", "core", []string{"install", "de_DE"}, false},
		{"help", "", nil, true},
		{"maintenance-mode", "activate", nil, false},
	}
	for _, tc := range cases {
		cmd, err := b.Build(tc.ns, tc.sub, tc.args)
		require.NoError(t, err)
		assert.Equal(t, tc.want, cmd.ReadOnly(), "%s %s %v", tc.ns, tc.sub, tc.args)
	}
}

func TestLogStringMasksSecrets(t *testing.T) {
	cmd, err := NewBuilder(nil).Build("user", "create", []string{"bob", "bob@example.com", "--user_pass=hunter2"})
	require.NoError(t, err)
	cmd = cmd.WithSecrets("hunter2")

	assert.Contains(t, cmd.String(), "hunter2")
	assert.NotContains(t, cmd.LogString(), "hunter2")
	assert.Contains(t, cmd.LogString(), "--user_pass=***")
}

func TestQuote(t *testing.T) {
	assert.Equal(t, "'plain'", Quote("plain"))
	assert.Equal(t, "''", Quote(""))
	assert.Equal(t, `'it'"'"'s'`, Quote("it's"))
	assert.Equal(t, `'a b' 'c'`, QuoteAll([]string{"a b", "c"}))
}
