package wpcli

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/melih/wpfleet/internal/core/domain"
	"github.com/melih/wpfleet/internal/core/ports"
	"github.com/sirupsen/logrus"
)

// DefaultTimeout bounds a single WP-CLI invocation.
const DefaultTimeout = 2 * time.Minute

// DocumentRoot is the WordPress installation path inside the container.
const DocumentRoot = "/var/www/html"

// Result is the outcome of a successful (or benign) invocation.
type Result struct {
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr,omitempty"`
	ExitCode int    `json:"exit_code"`
	Benign   bool   `json:"benign,omitempty"`
	Message  string `json:"message,omitempty"`
}

// Output is the text reported to callers: the substituted or summary
// message when one is set, otherwise the trimmed stdout.
func (r Result) Output() string {
	if r.Message != "" {
		return r.Message
	}
	return r.Stdout
}

// Executor runs Commands in a container and applies the failure policy.
type Executor struct {
	runtime ports.ContainerService
	timeout time.Duration
	log     logrus.FieldLogger
}

// NewExecutor creates an Executor. A non-positive timeout means DefaultTimeout.
func NewExecutor(runtime ports.ContainerService, timeout time.Duration, log logrus.FieldLogger) *Executor {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Executor{runtime: runtime, timeout: timeout, log: log}
}

// Execute runs cmd in the handle's container.
//
// A runtime failure or timeout is an InfrastructureError. A non-zero exit is
// an ExecutionError unless the output matches one of the command's benign
// outcomes. Stderr on a zero exit is only logged.
func (e *Executor) Execute(ctx context.Context, h domain.InstanceHandle, cmd Command, timeout time.Duration) (Result, error) {
	if cmd.IsZero() {
		return Result{}, domain.Validationf("empty command")
	}
	if h.ContainerID == "" {
		return Result{}, domain.Resolution("no target container", nil)
	}
	if timeout <= 0 {
		timeout = e.timeout
	}

	log := e.log.WithFields(logrus.Fields{
		"instance":  h.InstanceID,
		"container": h.ContainerName,
		"command":   cmd.LogString(),
	})

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	out, err := e.runtime.Exec(ctx, h.ContainerID, domain.ExecRequest{
		Argv:    cmd.Argv(),
		WorkDir: DocumentRoot,
	})
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			log.WithError(err).Error("wp-cli command timed out")
			return Result{}, domain.Infrastructure(fmt.Sprintf("command timed out after %s", timeout), err)
		}
		log.WithError(err).Error("wp-cli command could not be run")
		return Result{}, domain.Infrastructure("failed to run command in container", err)
	}

	res := Result{
		Stdout:   strings.TrimSpace(out.Stdout),
		Stderr:   strings.TrimSpace(out.Stderr),
		ExitCode: out.ExitCode,
	}
	log = log.WithFields(logrus.Fields{"exit_code": out.ExitCode, "took": time.Since(start)})

	if out.ExitCode != 0 {
		if msg, ok := matchBenign(cmd.benign, res.Stderr, res.Stdout); ok {
			log.WithField("stderr", res.Stderr).Info("wp-cli reported benign state")
			res.Benign = true
			res.Message = msg
			return res, nil
		}
		detail := res.Stderr
		if detail == "" {
			detail = res.Stdout
		}
		log.WithField("stderr", detail).Warn("wp-cli command failed")
		return Result{}, domain.Execution(fmt.Sprintf("%s %s failed", Binary, strings.TrimSpace(cmd.namespace+" "+cmd.subCommand)), out.ExitCode, detail)
	}

	if res.Stderr != "" {
		log.WithField("stderr", res.Stderr).Warn("wp-cli stderr")
	} else {
		log.Debug("wp-cli command succeeded")
	}
	return res, nil
}

func matchBenign(outcomes []BenignOutcome, outputs ...string) (string, bool) {
	for _, o := range outcomes {
		pattern := strings.ToLower(o.Pattern)
		for _, text := range outputs {
			if pattern != "" && strings.Contains(strings.ToLower(text), pattern) {
				return o.Message, true
			}
		}
	}
	return "", false
}
