package wpcli

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/melih/wpfleet/internal/core/domain"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testHandle = domain.InstanceHandle{InstanceID: "blog", ContainerID: "c-blog", ContainerName: "blog-wordpress-1"}

func mustBuild(t *testing.T, ns, sub string, args ...string) Command {
	t.Helper()
	cmd, err := NewBuilder(nil).Build(ns, sub, args)
	require.NoError(t, err)
	return cmd
}

func TestExecuteTrimsOutput(t *testing.T) {
	rt := newFakeRuntime()
	rt.respond = func(argv []string) (domain.ExecOutput, error) {
		return domain.ExecOutput{Stdout: "  Success: done.\n\n"}, nil
	}
	log, _ := quietLogger()
	res, err := NewExecutor(rt, 0, log).Execute(context.Background(), testHandle, mustBuild(t, "cache", "flush"), 0)
	require.NoError(t, err)
	assert.Equal(t, "Success: done.", res.Output())
	assert.False(t, res.Benign)
}

func TestExecuteNonZeroIsExecutionError(t *testing.T) {
	rt := newFakeRuntime()
	rt.respond = func(argv []string) (domain.ExecOutput, error) {
		return domain.ExecOutput{ExitCode: 1, Stderr: "Error: The 'nope' plugin could not be found.\n"}, nil
	}
	log, _ := quietLogger()
	_, err := NewExecutor(rt, 0, log).Execute(context.Background(), testHandle, mustBuild(t, "plugin", "activate", "nope"), 0)
	require.Error(t, err)

	var e *domain.Error
	require.True(t, errors.As(err, &e))
	assert.Equal(t, domain.KindExecution, e.Kind)
	assert.Equal(t, 1, e.ExitCode)
	assert.Equal(t, "Error: The 'nope' plugin could not be found.", e.Detail)
}

func TestExecuteBenignOutcome(t *testing.T) {
	rt := newFakeRuntime()
	rt.respond = func(argv []string) (domain.ExecOutput, error) {
		return domain.ExecOutput{ExitCode: 1, Stderr: "Error: Maintenance mode already DEACTIVATED."}, nil
	}
	log, _ := quietLogger()
	cmd := mustBuild(t, "maintenance-mode", "deactivate").WithBenign(BenignOutcome{Pattern: "already deactivated", Message: "off"})
	res, err := NewExecutor(rt, 0, log).Execute(context.Background(), testHandle, cmd, 0)
	require.NoError(t, err)
	assert.True(t, res.Benign)
	assert.Equal(t, "off", res.Output())
}

func TestExecuteStderrOnSuccessIsWarning(t *testing.T) {
	rt := newFakeRuntime()
	rt.respond = func(argv []string) (domain.ExecOutput, error) {
		return domain.ExecOutput{Stdout: "ok", Stderr: "Warning: something minor"}, nil
	}
	log, hook := quietLogger()
	res, err := NewExecutor(rt, 0, log).Execute(context.Background(), testHandle, mustBuild(t, "plugin", "list"), 0)
	require.NoError(t, err)
	assert.Equal(t, "ok", res.Output())
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
}

func TestExecuteRuntimeFailureIsInfrastructure(t *testing.T) {
	rt := newFakeRuntime()
	rt.respond = func(argv []string) (domain.ExecOutput, error) {
		return domain.ExecOutput{}, errors.New("No such container: c-blog")
	}
	log, _ := quietLogger()
	_, err := NewExecutor(rt, 0, log).Execute(context.Background(), testHandle, mustBuild(t, "plugin", "list"), 0)
	assert.ErrorIs(t, err, domain.ErrInfrastructure)
}

func TestExecuteTimeout(t *testing.T) {
	rt := newFakeRuntime()
	rt.respond = func(argv []string) (domain.ExecOutput, error) {
		time.Sleep(50 * time.Millisecond)
		return domain.ExecOutput{}, context.DeadlineExceeded
	}
	log, _ := quietLogger()
	_, err := NewExecutor(rt, 0, log).Execute(context.Background(), testHandle, mustBuild(t, "package", "install", "slow"), 10*time.Millisecond)
	require.ErrorIs(t, err, domain.ErrInfrastructure)
	assert.Contains(t, err.Error(), "timed out")
}

func TestExecuteRejectsZeroCommandAndHandle(t *testing.T) {
	rt := newFakeRuntime()
	log, _ := quietLogger()
	e := NewExecutor(rt, 0, log)

	_, err := e.Execute(context.Background(), testHandle, Command{}, 0)
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = e.Execute(context.Background(), domain.InstanceHandle{}, mustBuild(t, "plugin", "list"), 0)
	assert.ErrorIs(t, err, domain.ErrResolution)
	assert.Empty(t, rt.calls())
}
