package http

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/melih/wpfleet/internal/core/domain"
	"github.com/sirupsen/logrus"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

var kindStatus = map[domain.ErrorKind]int{
	domain.KindValidation:     fiber.StatusBadRequest,
	domain.KindForbidden:      fiber.StatusForbidden,
	domain.KindNotFound:       fiber.StatusNotFound,
	domain.KindBusy:           fiber.StatusConflict,
	domain.KindResolution:     fiber.StatusBadGateway,
	domain.KindExecution:      fiber.StatusInternalServerError,
	domain.KindInfrastructure: fiber.StatusInternalServerError,
}

// errorHandler maps returned errors to status codes. Execution errors
// carry the tool's stderr; infrastructure details are only shown when
// expose is set.
func errorHandler(expose bool, log logrus.FieldLogger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		status, body := classify(err, expose)
		if status >= fiber.StatusInternalServerError {
			log.WithError(err).WithField("path", c.Path()).Error("request failed")
		}
		return c.Status(status).JSON(body)
	}
}

func classify(err error, expose bool) (int, ErrorResponse) {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return fe.Code, ErrorResponse{Error: fe.Message}
	}

	var de *domain.Error
	if !errors.As(err, &de) {
		body := ErrorResponse{Error: "internal error"}
		if expose {
			body.Detail = err.Error()
		}
		return fiber.StatusInternalServerError, body
	}

	status, ok := kindStatus[de.Kind]
	if !ok {
		status = fiber.StatusInternalServerError
	}
	body := ErrorResponse{Error: de.Message, Detail: de.Detail}
	if body.Error == "" {
		body.Error = string(de.Kind)
	}
	if de.Err != nil && body.Detail == "" && (expose || de.Kind != domain.KindInfrastructure) {
		body.Detail = de.Err.Error()
	}
	return status, body
}
