package ports

import (
	"context"

	"github.com/melih/wpfleet/internal/core/domain"
)

// InstanceRepository persists managed instances.
type InstanceRepository interface {
	Create(ctx context.Context, inst *domain.ManagedInstance) error
	Get(ctx context.Context, id string) (*domain.ManagedInstance, error)
	List(ctx context.Context) ([]domain.ManagedInstance, error)
	UpdateState(ctx context.Context, id string, state domain.ProvisionState, lastErr string) error
	Delete(ctx context.Context, id string) error
	MaxHTTPPort(ctx context.Context) (int, error)
}
