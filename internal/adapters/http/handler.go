package http

import (
	"context"
	"io"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/melih/wpfleet/internal/core/domain"
	"github.com/melih/wpfleet/internal/core/provision"
	"github.com/melih/wpfleet/internal/core/wpcli"
)

// InstanceService is the provisioning surface the handlers need.
type InstanceService interface {
	Create(ctx context.Context, req provision.CreateRequest, bundle io.Reader) (*domain.ManagedInstance, error)
	Get(ctx context.Context, id string) (*domain.ManagedInstance, error)
	List(ctx context.Context) ([]domain.ManagedInstance, error)
	Inspect(ctx context.Context, id string) (*provision.Status, error)
	Logs(ctx context.Context, h domain.InstanceHandle, tail int) (io.ReadCloser, error)
	Remove(ctx context.Context, id string, purge bool) error
}

type InstanceHandler struct {
	service  InstanceService
	resolver wpcli.Resolver
}

func NewInstanceHandler(service InstanceService, resolver wpcli.Resolver) *InstanceHandler {
	return &InstanceHandler{service: service, resolver: resolver}
}

// CreateInstance accepts JSON or multipart form fields; a multipart
// "bundle" file is used as the WordPress source instead of a download.
func (h *InstanceHandler) CreateInstance(c *fiber.Ctx) error {
	var req provision.CreateRequest
	if err := c.BodyParser(&req); err != nil {
		return domain.Validationf("invalid request body")
	}

	var bundle io.Reader
	if fh, err := c.FormFile("bundle"); err == nil {
		f, err := fh.Open()
		if err != nil {
			return domain.Infrastructure("failed to read bundle", err)
		}
		defer f.Close()
		bundle = f
	}

	inst, err := h.service.Create(c.UserContext(), req, bundle)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusAccepted).JSON(inst)
}

func (h *InstanceHandler) ListInstances(c *fiber.Ctx) error {
	instances, err := h.service.List(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(instances)
}

func (h *InstanceHandler) GetInstance(c *fiber.Ctx) error {
	st, err := h.service.Inspect(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(st)
}

func (h *InstanceHandler) DeleteInstance(c *fiber.Ctx) error {
	if err := h.service.Remove(c.UserContext(), c.Params("id"), c.QueryBool("purge", false)); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// GetInstanceLogs streams the WordPress container's recent log lines.
func (h *InstanceHandler) GetInstanceLogs(c *fiber.Ctx) error {
	tail, err := strconv.Atoi(c.Query("tail", "200"))
	if err != nil || tail < 0 {
		return domain.Validationf("tail must be a non-negative integer")
	}
	handle, err := h.resolver.Resolve(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	logs, err := h.service.Logs(c.UserContext(), handle, tail)
	if err != nil {
		return err
	}
	c.Set(fiber.HeaderContentType, fiber.MIMETextPlainCharsetUTF8)
	return c.SendStream(logs)
}

// RequireInstance rejects requests for IDs the registry does not know.
func (h *InstanceHandler) RequireInstance(c *fiber.Ctx) error {
	if _, err := h.service.Get(c.UserContext(), c.Params("id")); err != nil {
		return err
	}
	return c.Next()
}
