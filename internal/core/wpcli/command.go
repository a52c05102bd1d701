// Package wpcli builds, executes and dispatches WP-CLI invocations against
// a resolved WordPress container.
package wpcli

import (
	"regexp"
	"strings"

	"github.com/melih/wpfleet/internal/core/domain"
)

// Binary is the WP-CLI executable inside the WordPress image.
const Binary = "wp"

const allowRootFlag = "--allow-root"

var identPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]*$`)

// DefaultDenylist holds the namespaces that run arbitrary PHP.
var DefaultDenylist = []string{"eval", "eval-file", "shell"}

// Global flags that make WP-CLI load code or talk to another host.
var deniedFlags = []string{"--exec", "--require", "--ssh", "--http"}

var knownNamespaces = map[string]struct{}{
	"admin": {}, "cache": {}, "cap": {}, "cli": {}, "comment": {}, "config": {},
	"core": {}, "cron": {}, "db": {}, "dist-archive": {}, "embed": {}, "eval": {},
	"eval-file": {}, "export": {}, "find": {}, "help": {}, "i18n": {}, "import": {},
	"language": {}, "maintenance-mode": {}, "media": {}, "menu": {}, "network": {},
	"option": {}, "package": {}, "plugin": {}, "post": {}, "post-type": {},
	"profile": {}, "rewrite": {}, "role": {}, "scaffold": {}, "search-replace": {},
	"server": {}, "shell": {}, "sidebar": {}, "site": {}, "super-admin": {},
	"taxonomy": {}, "term": {}, "theme": {}, "transient": {}, "user": {},
	"widget": {},
}

var readOnlySubCommands = map[string]struct{}{
	"list": {}, "get": {}, "status": {}, "is-installed": {}, "is-active": {},
	"exists": {}, "path": {}, "version": {}, "check": {}, "check-update": {},
	"search": {}, "count": {}, "verify-checksums": {}, "info": {}, "has": {},
	"pluck": {},
}

// Commands with a dedicated operation that carries its own validation and
// rate limit. The generic path refuses them.
var dedicatedCommands = map[string]string{
	"package install": "package/install",
}

var readOnlyNamespaces = map[string]struct{}{
	"help": {}, "export": {}, "find": {},
}

// BenignOutcome turns a non-zero exit whose output contains Pattern into a
// success reporting Message.
type BenignOutcome struct {
	Pattern string
	Message string
}

// Command is a fully validated WP-CLI invocation. Only a Builder can produce
// a non-zero Command, and the Executor accepts nothing else.
type Command struct {
	namespace  string
	subCommand string
	args       []string
	benign     []BenignOutcome
	secrets    []string
}

func (c Command) IsZero() bool      { return c.namespace == "" }
func (c Command) Namespace() string  { return c.namespace }
func (c Command) SubCommand() string { return c.subCommand }

// Argv is the process argument vector executed in the container.
func (c Command) Argv() []string {
	argv := make([]string, 0, len(c.args)+4)
	argv = append(argv, Binary, c.namespace)
	if c.subCommand != "" {
		argv = append(argv, c.subCommand)
	}
	argv = append(argv, c.args...)
	return append(argv, allowRootFlag)
}

// String renders the command as a single shell line. Caller tokens are
// always quoted; the binary, namespace, subcommand and --allow-root are
// trusted literals.
func (c Command) String() string {
	if c.IsZero() {
		return ""
	}
	parts := make([]string, 0, len(c.args)+4)
	parts = append(parts, Binary, c.namespace)
	if c.subCommand != "" {
		parts = append(parts, c.subCommand)
	}
	for _, arg := range c.args {
		parts = append(parts, Quote(arg))
	}
	parts = append(parts, allowRootFlag)
	return strings.Join(parts, " ")
}

// WithBenign returns a copy of c that treats the given outcomes as success.
func (c Command) WithBenign(outcomes ...BenignOutcome) Command {
	c.benign = append(append([]BenignOutcome(nil), c.benign...), outcomes...)
	return c
}

// WithSecrets returns a copy of c whose LogString masks the given values.
func (c Command) WithSecrets(values ...string) Command {
	c.secrets = append(append([]string(nil), c.secrets...), values...)
	return c
}

// LogString is String with secret values masked.
func (c Command) LogString() string {
	line := c.String()
	for _, secret := range c.secrets {
		if secret != "" {
			line = strings.ReplaceAll(line, secret, "***")
		}
	}
	return line
}

// ReadOnly reports whether the command can run without the instance lock.
func (c Command) ReadOnly() bool {
	if _, ok := readOnlyNamespaces[c.namespace]; ok {
		return true
	}
	sub := c.subCommand
	// language core list, language plugin is-installed, ...
	if c.namespace == "language" && sub != "" && len(c.args) > 0 {
		sub = c.args[0]
	}
	_, ok := readOnlySubCommands[sub]
	return ok
}

// Builder validates operations and produces Commands.
type Builder struct {
	denied map[string]struct{}
}

// NewBuilder returns a Builder refusing the given namespaces. A nil
// denylist means DefaultDenylist.
func NewBuilder(denylist []string) *Builder {
	if denylist == nil {
		denylist = DefaultDenylist
	}
	denied := make(map[string]struct{}, len(denylist))
	for _, name := range denylist {
		name = strings.ToLower(strings.TrimSpace(name))
		if name != "" {
			denied[name] = struct{}{}
		}
	}
	return &Builder{denied: denied}
}

// Blocked reports whether namespace is on the denylist.
func (b *Builder) Blocked(namespace string) bool {
	_, ok := b.denied[strings.ToLower(strings.TrimSpace(namespace))]
	return ok
}

// Build validates a logical invocation and returns the Command for it.
// Every caller token stays a single argument regardless of its content.
func (b *Builder) Build(namespace, subCommand string, args []string) (Command, error) {
	namespace = strings.TrimSpace(namespace)
	subCommand = strings.TrimSpace(subCommand)

	if b.Blocked(namespace) {
		return Command{}, domain.Forbiddenf("command %q is not allowed", namespace)
	}
	if namespace == "" {
		return Command{}, domain.Validationf("command namespace is required")
	}
	if !identPattern.MatchString(namespace) {
		return Command{}, domain.Validationf("invalid command namespace %q", namespace)
	}
	if _, ok := knownNamespaces[namespace]; !ok {
		return Command{}, domain.Validationf("unknown command namespace %q", namespace)
	}
	if subCommand != "" && !identPattern.MatchString(subCommand) {
		return Command{}, domain.Validationf("invalid subcommand %q", subCommand)
	}
	for _, arg := range args {
		if strings.ContainsRune(arg, 0) {
			return Command{}, domain.Validationf("arguments must not contain NUL bytes")
		}
		if flag, ok := deniedFlag(arg); ok {
			return Command{}, domain.Forbiddenf("flag %s is not allowed", flag)
		}
	}
	return Command{
		namespace:  namespace,
		subCommand: subCommand,
		args:       append([]string(nil), args...),
	}, nil
}

// Operation builds the Command for a generic CliOperation. Without a
// subcommand the first argument token, when it is a plain identifier, is
// taken as the subcommand, so `package` + "install x" is classified the
// same as `package install` + "x".
func (b *Builder) Operation(op domain.CliOperation) (Command, error) {
	if b.Blocked(op.Namespace) {
		return Command{}, domain.Forbiddenf("command %q is not allowed", strings.TrimSpace(op.Namespace))
	}
	args, err := Tokenize(op.ArgString)
	if err != nil {
		return Command{}, err
	}
	sub := strings.TrimSpace(op.SubCommand)
	if sub == "" && len(args) > 0 && identPattern.MatchString(args[0]) {
		sub, args = args[0], args[1:]
	}
	cmd, err := b.Build(op.Namespace, sub, args)
	if err != nil {
		return Command{}, err
	}
	if route, ok := dedicatedCommands[cmd.namespace+" "+cmd.subCommand]; ok {
		return Command{}, domain.Forbiddenf("%s %s is only available through %s", cmd.namespace, cmd.subCommand, route)
	}
	return cmd, nil
}

func deniedFlag(arg string) (string, bool) {
	for _, flag := range deniedFlags {
		if arg == flag || strings.HasPrefix(arg, flag+"=") {
			return flag, true
		}
	}
	return "", false
}
