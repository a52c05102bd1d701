// Package resolver finds the running WordPress container of an instance.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/melih/wpfleet/internal/core/domain"
	"github.com/melih/wpfleet/internal/core/ports"
	"github.com/melih/wpfleet/internal/core/retry"
	"github.com/sirupsen/logrus"
)

// Compose labels identifying a service container of a project.
const (
	ProjectLabel = "com.docker.compose.project"
	ServiceLabel = "com.docker.compose.service"
)

// ErrAmbiguous is wrapped by the ResolutionError returned when more than
// one container matches.
var ErrAmbiguous = errors.New("multiple containers match")

// DefaultService is the compose service running WordPress.
const DefaultService = "wordpress"

// Options configures a Resolver.
type Options struct {
	// Image is the ancestor filter used when no instance ID is given.
	Image   string
	Service string
	Logger  logrus.FieldLogger
}

// Resolver maps instance IDs to running containers. It never caches, so a
// restarted container is picked up on the next call.
type Resolver struct {
	runtime ports.ContainerService
	image   string
	service string
	log     logrus.FieldLogger
}

func New(runtime ports.ContainerService, opts Options) *Resolver {
	if opts.Image == "" {
		opts.Image = "wordpress"
	}
	if opts.Service == "" {
		opts.Service = DefaultService
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	return &Resolver{runtime: runtime, image: opts.Image, service: opts.Service, log: opts.Logger}
}

// Resolve returns the handle of the single running container serving
// instanceID. An empty instanceID selects by image ancestry. No match and
// more than one match are both ResolutionErrors.
func (r *Resolver) Resolve(ctx context.Context, instanceID string) (domain.InstanceHandle, error) {
	filter := domain.ContainerFilter{Ancestor: r.image}
	target := fmt.Sprintf("image %q", r.image)
	if instanceID != "" {
		filter = domain.ContainerFilter{Labels: map[string]string{
			ProjectLabel: instanceID,
			ServiceLabel: r.service,
		}}
		target = fmt.Sprintf("instance %q", instanceID)
	}

	containers, err := r.runtime.ListContainers(ctx, filter)
	if err != nil {
		return domain.InstanceHandle{}, domain.Infrastructure("failed to list containers", err)
	}

	var running []domain.Container
	for _, c := range containers {
		if c.State == "" || c.State == "running" {
			running = append(running, c)
		}
	}

	switch len(running) {
	case 0:
		return domain.InstanceHandle{}, domain.Resolution(fmt.Sprintf("no running container for %s", target), nil)
	case 1:
		c := running[0]
		if instanceID == "" {
			instanceID = c.Labels[ProjectLabel]
		}
		return domain.InstanceHandle{
			InstanceID:    instanceID,
			ContainerID:   c.ID,
			ContainerName: strings.TrimSpace(c.Name),
		}, nil
	default:
		names := make([]string, 0, len(running))
		for _, c := range running {
			names = append(names, strings.TrimSpace(c.Name))
		}
		sort.Strings(names)
		return domain.InstanceHandle{}, &domain.Error{
			Kind:    domain.KindResolution,
			Message: fmt.Sprintf("ambiguous target for %s", target),
			Detail:  "matching containers: " + strings.Join(names, ", "),
			Err:     ErrAmbiguous,
		}
	}
}

// WaitReady polls Resolve with exponential backoff until the container is
// running or timeout elapses.
func (r *Resolver) WaitReady(ctx context.Context, instanceID string, timeout time.Duration) (domain.InstanceHandle, error) {
	policy := retry.DefaultPolicy
	if timeout > 0 {
		policy.Timeout = timeout
	}

	var handle domain.InstanceHandle
	err := retry.Until(ctx, policy, func(ctx context.Context) error {
		h, err := r.Resolve(ctx, instanceID)
		if err != nil {
			if errors.Is(err, ErrAmbiguous) {
				return retry.Permanent(err)
			}
			return err
		}
		handle = h
		return nil
	}, func(err error, next time.Duration) {
		r.log.WithField("instance", instanceID).WithField("retry_in", next).Debugf("waiting for container: %v", err)
	})
	if err != nil {
		if errors.Is(err, ErrAmbiguous) {
			return domain.InstanceHandle{}, err
		}
		return domain.InstanceHandle{}, domain.Resolution(fmt.Sprintf("instance %q not ready within %s", instanceID, policy.Timeout), err)
	}
	return handle, nil
}
