package http

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// RequestLogger tags each request with an X-Request-ID and logs it once
// the error handler has set the final status.
func RequestLogger(log logrus.FieldLogger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		id := c.Get(fiber.HeaderXRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(fiber.HeaderXRequestID, id)

		if err := c.Next(); err != nil {
			if herr := c.App().ErrorHandler(c, err); herr != nil {
				_ = c.SendStatus(fiber.StatusInternalServerError)
			}
		}

		entry := log.WithFields(logrus.Fields{
			"request_id": id,
			"method":     c.Method(),
			"path":       c.Path(),
			"status":     c.Response().StatusCode(),
			"took":       time.Since(start),
			"ip":         c.IP(),
		})
		if c.Response().StatusCode() >= fiber.StatusInternalServerError {
			entry.Warn("request")
		} else {
			entry.Info("request")
		}
		return nil
	}
}

// RequestContext gives handlers a context that ends with the request and
// is cancelled early when the server shuts down, so in-flight execs and
// lock waits stop with it. fasthttp does not report client disconnects.
func RequestContext() fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx, cancel := context.WithCancel(c.UserContext())
		defer cancel()
		stop := context.AfterFunc(c.Context(), cancel)
		defer stop()

		c.SetUserContext(ctx)
		return c.Next()
	}
}
