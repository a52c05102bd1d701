package wpcli

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/melih/wpfleet/internal/core/domain"
)

var (
	packageNamePattern = regexp.MustCompile(`^[a-zA-Z0-9_][a-zA-Z0-9_-]*(/[a-zA-Z0-9_-]+)?$`)
	slugPattern        = regexp.MustCompile(`^[a-z0-9_][a-z0-9_-]*$`)
	optionNamePattern  = regexp.MustCompile(`^[A-Za-z0-9_.:][A-Za-z0-9_.:-]*$`)
	languagePattern    = regexp.MustCompile(`^[a-z]{2,3}(_[A-Z]{2})?(_[a-z0-9]+)?$`)
	fieldPattern       = regexp.MustCompile(`^[a-z_]+$`)
	unsafeFileChars    = regexp.MustCompile(`[^A-Za-z0-9._-]+`)
)

const (
	maintenanceActive   = "Maintenance mode is already active."
	maintenanceInactive = "Maintenance mode is already deactivated."
)

const userListFields = "--fields=ID,user_login,user_email,display_name,user_registered,roles"

func required(name, value string) error {
	if strings.TrimSpace(value) == "" {
		return domain.Validationf("%s is required", name)
	}
	return nil
}

// identifier rejects names WP-CLI could read as a flag.
func identifier(name, value string) error {
	if err := required(name, value); err != nil {
		return err
	}
	if strings.HasPrefix(value, "-") {
		return domain.Validationf("%s must not start with -", name)
	}
	return nil
}

// positional rejects free-form values WP-CLI would parse as a flag.
func positional(name, value string) error {
	if strings.HasPrefix(value, "--") {
		return domain.Validationf("%s must not start with --", name)
	}
	return nil
}

func matches(name, value string, pattern *regexp.Regexp) error {
	if err := required(name, value); err != nil {
		return err
	}
	if !pattern.MatchString(value) {
		return domain.Validationf("invalid %s %q", name, value)
	}
	return nil
}

// InstallPackage runs `wp package install <name>`.
func (d *Dispatcher) InstallPackage(ctx context.Context, instanceID, name string) (Result, error) {
	if err := matches("package name", name, packageNamePattern); err != nil {
		return Result{}, err
	}
	return d.Invoke(ctx, instanceID, "package", "install", name)
}

// CacheAdd runs `wp cache add <key> <data> [<group>]`.
func (d *Dispatcher) CacheAdd(ctx context.Context, instanceID, key, data, group string) (Result, error) {
	if err := identifier("key", key); err != nil {
		return Result{}, err
	}
	if err := positional("data", data); err != nil {
		return Result{}, err
	}
	if err := positional("group", group); err != nil {
		return Result{}, err
	}
	args := []string{key, data}
	if group = strings.TrimSpace(group); group != "" {
		args = append(args, group)
	}
	return d.Invoke(ctx, instanceID, "cache", "add", args...)
}

// CapAdd grants capability to role.
func (d *Dispatcher) CapAdd(ctx context.Context, instanceID, role, capability string) (Result, error) {
	if err := matches("role", role, slugPattern); err != nil {
		return Result{}, err
	}
	if err := matches("capability", capability, slugPattern); err != nil {
		return Result{}, err
	}
	return d.Invoke(ctx, instanceID, "cap", "add", role, capability)
}

// CapList lists the capabilities of role as JSON.
func (d *Dispatcher) CapList(ctx context.Context, instanceID, role string) (Result, error) {
	if err := matches("role", role, slugPattern); err != nil {
		return Result{}, err
	}
	return d.Invoke(ctx, instanceID, "cap", "list", role, "--format=json")
}

// CapRemove revokes capability from role.
func (d *Dispatcher) CapRemove(ctx context.Context, instanceID, role, capability string) (Result, error) {
	if err := matches("role", role, slugPattern); err != nil {
		return Result{}, err
	}
	if err := matches("capability", capability, slugPattern); err != nil {
		return Result{}, err
	}
	return d.Invoke(ctx, instanceID, "cap", "remove", role, capability)
}

// UserCreate creates a user. The password never appears in logs.
func (d *Dispatcher) UserCreate(ctx context.Context, instanceID, username, email, password, displayName string) (Result, error) {
	if err := identifier("username", username); err != nil {
		return Result{}, err
	}
	if err := identifier("email", email); err != nil {
		return Result{}, err
	}
	args := []string{username, email}
	if password != "" {
		args = append(args, "--user_pass="+password)
	}
	if displayName != "" {
		args = append(args, "--display_name="+displayName)
	}
	cmd, err := d.builder.Build("user", "create", args)
	if err != nil {
		return Result{}, err
	}
	return d.Dispatch(ctx, instanceID, cmd.WithSecrets(password))
}

// UserGenerate creates count dummy users.
func (d *Dispatcher) UserGenerate(ctx context.Context, instanceID string, count int) (Result, error) {
	if count < 1 || count > 1000 {
		return Result{}, domain.Validationf("count must be between 1 and 1000")
	}
	return d.Invoke(ctx, instanceID, "user", "generate", "--count="+strconv.Itoa(count))
}

// UserListSorted lists users ordered by ID with a fixed field set.
func (d *Dispatcher) UserListSorted(ctx context.Context, instanceID, argString string) (Result, error) {
	args, err := Tokenize(argString)
	if err != nil {
		return Result{}, err
	}
	args = append(args, "--order=ASC", "--orderby=ID", userListFields)
	return d.Invoke(ctx, instanceID, "user", "list", args...)
}

// UserListFiltered lists users where field equals value, e.g. role=editor.
func (d *Dispatcher) UserListFiltered(ctx context.Context, instanceID, field, value string) (Result, error) {
	field = strings.TrimPrefix(strings.TrimSpace(field), "--")
	if err := matches("field", field, fieldPattern); err != nil {
		return Result{}, err
	}
	return d.Invoke(ctx, instanceID, "user", "list", "--"+field+"="+value)
}

// UserDelete deletes a user without prompting.
func (d *Dispatcher) UserDelete(ctx context.Context, instanceID, username string) (Result, error) {
	if err := identifier("username", username); err != nil {
		return Result{}, err
	}
	return d.Invoke(ctx, instanceID, "user", "delete", username, "--yes")
}

// RoleCreate creates a role with a display name.
func (d *Dispatcher) RoleCreate(ctx context.Context, instanceID, role, displayName string) (Result, error) {
	if err := matches("role name", role, slugPattern); err != nil {
		return Result{}, err
	}
	if err := required("display name", displayName); err != nil {
		return Result{}, err
	}
	if err := positional("display name", displayName); err != nil {
		return Result{}, err
	}
	return d.Invoke(ctx, instanceID, "role", "create", role, displayName)
}

// RoleList lists roles as JSON.
func (d *Dispatcher) RoleList(ctx context.Context, instanceID string) (Result, error) {
	return d.Invoke(ctx, instanceID, "role", "list", "--format=json")
}

// RoleDelete deletes a role.
func (d *Dispatcher) RoleDelete(ctx context.Context, instanceID, role string) (Result, error) {
	if err := matches("role name", role, slugPattern); err != nil {
		return Result{}, err
	}
	return d.Invoke(ctx, instanceID, "role", "delete", role)
}

// SearchReplace replaces oldValue with newValue across the database,
// leaving post GUIDs untouched.
func (d *Dispatcher) SearchReplace(ctx context.Context, instanceID, oldValue, newValue string) (Result, error) {
	if err := required("old value", oldValue); err != nil {
		return Result{}, err
	}
	if err := positional("old value", oldValue); err != nil {
		return Result{}, err
	}
	if err := positional("new value", newValue); err != nil {
		return Result{}, err
	}
	return d.Invoke(ctx, instanceID, "search-replace", "", oldValue, newValue, "--skip-columns=guid")
}

// SetMaintenanceMode toggles maintenance mode. Toggling into the current
// state succeeds with a canonical message.
func (d *Dispatcher) SetMaintenanceMode(ctx context.Context, instanceID string, enable bool) (Result, error) {
	sub, outcomes := "deactivate", []BenignOutcome{
		{Pattern: "already deactivated", Message: maintenanceInactive},
	}
	if enable {
		sub, outcomes = "activate", []BenignOutcome{
			{Pattern: "already activated", Message: maintenanceActive},
			{Pattern: "already active", Message: maintenanceActive},
		}
	}
	cmd, err := d.builder.Build("maintenance-mode", sub, nil)
	if err != nil {
		return Result{}, err
	}
	return d.Dispatch(ctx, instanceID, cmd.WithBenign(outcomes...))
}

// MaintenanceStatus reports whether maintenance mode is active.
func (d *Dispatcher) MaintenanceStatus(ctx context.Context, instanceID string) (Result, error) {
	return d.Invoke(ctx, instanceID, "maintenance-mode", "status")
}

// LanguageInstall installs a core language pack.
func (d *Dispatcher) LanguageInstall(ctx context.Context, instanceID, language string) (Result, error) {
	if err := matches("language", language, languagePattern); err != nil {
		return Result{}, err
	}
	return d.Invoke(ctx, instanceID, "language", "core", "install", language)
}

// LanguageUninstall removes a core language pack.
func (d *Dispatcher) LanguageUninstall(ctx context.Context, instanceID, language string) (Result, error) {
	if err := matches("language", language, languagePattern); err != nil {
		return Result{}, err
	}
	return d.Invoke(ctx, instanceID, "language", "core", "uninstall", language)
}

// LanguageSet sets the site language option.
func (d *Dispatcher) LanguageSet(ctx context.Context, instanceID, language string) (Result, error) {
	language = strings.TrimSpace(language)
	if err := matches("language", language, languagePattern); err != nil {
		return Result{}, err
	}
	return d.Invoke(ctx, instanceID, "option", "update", "WPLANG", language)
}

// LanguagesInstalled lists installed core languages as JSON.
func (d *Dispatcher) LanguagesInstalled(ctx context.Context, instanceID string) (Result, error) {
	return d.Invoke(ctx, instanceID, "language", "core", "list", "--status=installed", "--format=json")
}

// LanguagesAll lists every available core language as JSON.
func (d *Dispatcher) LanguagesAll(ctx context.Context, instanceID string) (Result, error) {
	return d.Invoke(ctx, instanceID, "language", "core", "list", "--format=json")
}

// OptionGet returns an option value.
func (d *Dispatcher) OptionGet(ctx context.Context, instanceID, key string) (Result, error) {
	if err := matches("option name", key, optionNamePattern); err != nil {
		return Result{}, err
	}
	return d.Invoke(ctx, instanceID, "option", "get", key)
}

// OptionSet creates or updates an option. The value is passed verbatim.
func (d *Dispatcher) OptionSet(ctx context.Context, instanceID, key, value string) (Result, error) {
	if err := matches("option name", key, optionNamePattern); err != nil {
		return Result{}, err
	}
	if err := positional("option value", value); err != nil {
		return Result{}, err
	}
	return d.Invoke(ctx, instanceID, "option", "update", key, value)
}

// Help returns WP-CLI help for an optional command path such as
// "plugin install".
func (d *Dispatcher) Help(ctx context.Context, instanceID, command string) (Result, error) {
	args := strings.Fields(command)
	for _, arg := range args {
		if !identPattern.MatchString(arg) {
			return Result{}, domain.Validationf("invalid help topic %q", command)
		}
	}
	return d.Invoke(ctx, instanceID, "help", "", args...)
}

// Export is a WXR export of the whole site.
type Export struct {
	Filename string
	Data     []byte
}

// Export produces a WXR export named <blogname>.wordpress.<date>.000.xml.
func (d *Dispatcher) Export(ctx context.Context, instanceID string) (Export, error) {
	nameCmd, err := d.builder.Build("option", "get", []string{"blogname"})
	if err != nil {
		return Export{}, err
	}
	exportCmd, err := d.builder.Build("export", "", []string{"--stdout"})
	if err != nil {
		return Export{}, err
	}

	var out Export
	err = d.withInstance(ctx, instanceID, false, func(h domain.InstanceHandle) error {
		name, err := d.executor.Execute(ctx, h, nameCmd, 0)
		if err != nil {
			return err
		}
		res, err := d.executor.Execute(ctx, h, exportCmd, 0)
		if err != nil {
			return err
		}
		out = Export{
			Filename: exportFilename(name.Stdout, time.Now()),
			Data:     []byte(res.Stdout + "\n"),
		}
		return nil
	})
	return out, err
}

func exportFilename(siteName string, now time.Time) string {
	base := strings.Trim(unsafeFileChars.ReplaceAllString(strings.TrimSpace(siteName), "-"), "-.")
	if base == "" {
		base = "site"
	}
	return fmt.Sprintf("%s.wordpress.%s.000.xml", base, now.Format("2006-01-02"))
}
