package docker

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
)

// ComposeCLI implements ports.ComposeService by running the compose CLI.
type ComposeCLI struct {
	command []string
}

// NewComposeCLI uses command (default "docker compose") as the compose
// entrypoint, e.g. []string{"docker-compose"} for the standalone binary.
func NewComposeCLI(command []string) *ComposeCLI {
	if len(command) == 0 {
		command = []string{"docker", "compose"}
	}
	return &ComposeCLI{command: command}
}

func (c *ComposeCLI) Up(ctx context.Context, projectDir, projectName string) error {
	return c.run(ctx, projectDir, projectName, "up", "-d", "--remove-orphans")
}

func (c *ComposeCLI) Down(ctx context.Context, projectDir, projectName string) error {
	return c.run(ctx, projectDir, projectName, "down")
}

func (c *ComposeCLI) run(ctx context.Context, projectDir, projectName string, args ...string) error {
	argv := append([]string{}, c.command[1:]...)
	argv = append(argv,
		"--project-name", projectName,
		"--file", filepath.Join(projectDir, "docker-compose.yml"),
	)
	argv = append(argv, args...)

	cmd := exec.CommandContext(ctx, c.command[0], argv...)
	cmd.Dir = projectDir
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("compose %s failed: %w: %s", args[0], err, strings.TrimSpace(out.String()))
	}
	return nil
}
