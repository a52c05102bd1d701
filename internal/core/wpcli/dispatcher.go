package wpcli

import (
	"context"
	"time"

	"github.com/melih/wpfleet/internal/core/domain"
	"github.com/melih/wpfleet/internal/core/ports"
	"github.com/sirupsen/logrus"
)

// Resolver finds the container serving an instance.
type Resolver interface {
	Resolve(ctx context.Context, instanceID string) (domain.InstanceHandle, error)
}

// Options configures a Dispatcher.
type Options struct {
	Denylist   []string
	StagingDir string
	Timeout    time.Duration
	LockWait   time.Duration
	Logger     logrus.FieldLogger
}

// Dispatcher routes logical operations through the Builder and Executor.
// Validation happens before any container is resolved or process spawned.
type Dispatcher struct {
	builder    *Builder
	executor   *Executor
	resolver   Resolver
	runtime    ports.ContainerService
	source     ports.BuilderService
	stagingDir string
	locks      *instanceLocks
	log        logrus.FieldLogger
}

// NewDispatcher wires a Dispatcher. source may be nil when installing from
// git is not needed.
func NewDispatcher(runtime ports.ContainerService, resolver Resolver, source ports.BuilderService, opts Options) *Dispatcher {
	log := opts.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	lockWait := opts.LockWait
	if lockWait <= 0 {
		lockWait = 30 * time.Second
	}
	return &Dispatcher{
		builder:    NewBuilder(opts.Denylist),
		executor:   NewExecutor(runtime, opts.Timeout, log),
		resolver:   resolver,
		runtime:    runtime,
		source:     source,
		stagingDir: opts.StagingDir,
		locks:      newInstanceLocks(lockWait),
		log:        log,
	}
}

// Builder exposes the dispatcher's command builder.
func (d *Dispatcher) Builder() *Builder { return d.builder }

// Run executes a generic proxy operation: `wp <namespace> <subCommand> <args...>`.
func (d *Dispatcher) Run(ctx context.Context, instanceID string, op domain.CliOperation) (Result, error) {
	cmd, err := d.builder.Operation(op)
	if err != nil {
		return Result{}, err
	}
	return d.Dispatch(ctx, instanceID, cmd)
}

// Invoke builds and dispatches a command from already separated tokens.
func (d *Dispatcher) Invoke(ctx context.Context, instanceID, namespace, subCommand string, args ...string) (Result, error) {
	cmd, err := d.builder.Build(namespace, subCommand, args)
	if err != nil {
		return Result{}, err
	}
	return d.Dispatch(ctx, instanceID, cmd)
}

// Dispatch resolves the instance and executes cmd on it.
func (d *Dispatcher) Dispatch(ctx context.Context, instanceID string, cmd Command) (Result, error) {
	var res Result
	err := d.withInstance(ctx, instanceID, !cmd.ReadOnly(), func(h domain.InstanceHandle) error {
		var err error
		res, err = d.executor.Execute(ctx, h, cmd, 0)
		return err
	})
	return res, err
}

// ExecuteOn runs cmd against an already resolved handle, taking the
// instance lock for mutating commands.
func (d *Dispatcher) ExecuteOn(ctx context.Context, h domain.InstanceHandle, cmd Command, timeout time.Duration) (Result, error) {
	if !cmd.ReadOnly() {
		release, err := d.locks.acquire(ctx, lockKey(h))
		if err != nil {
			return Result{}, err
		}
		defer release()
	}
	return d.executor.Execute(ctx, h, cmd, timeout)
}

// withInstance resolves instanceID and runs fn, holding the instance lock
// for the whole of fn when mutating is set.
func (d *Dispatcher) withInstance(ctx context.Context, instanceID string, mutating bool, fn func(h domain.InstanceHandle) error) error {
	h, err := d.resolver.Resolve(ctx, instanceID)
	if err != nil {
		return err
	}
	if mutating {
		release, err := d.locks.acquire(ctx, lockKey(h))
		if err != nil {
			return err
		}
		defer release()
	}
	return fn(h)
}

// lockKey is the container, so every route that reaches the same
// container shares one lock whichever way it was resolved.
func lockKey(h domain.InstanceHandle) string {
	return h.ContainerID
}
