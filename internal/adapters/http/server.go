package http

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/melih/wpfleet/internal/core/ports"
	"github.com/melih/wpfleet/internal/core/wpcli"
	"github.com/sirupsen/logrus"
)

// Deps are the services behind the HTTP API. Instances and Runtime may be
// nil, which leaves the instance routes and the subdomain proxy unmounted.
type Deps struct {
	Dispatcher *wpcli.Dispatcher
	Instances  InstanceService
	Resolver   wpcli.Resolver
	Runtime    ports.ContainerService
	Logger     logrus.FieldLogger
}

type Options struct {
	DefaultInstance      string
	ExposeErrors         bool
	CORSOrigins          []string
	BaseHost             string
	BodyLimit            int
	PackageInstallMax    int
	PackageInstallWindow time.Duration
}

// NewApp builds the Fiber application with every route mounted.
func NewApp(deps Deps, opts Options) *fiber.App {
	log := deps.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	cfg := fiber.Config{
		ErrorHandler:          errorHandler(opts.ExposeErrors, log),
		DisableStartupMessage: true,
	}
	if opts.BodyLimit > 0 {
		cfg.BodyLimit = opts.BodyLimit
	}
	app := fiber.New(cfg)

	app.Use(RequestLogger(log))
	app.Use(RequestContext())
	app.Use(recover.New())
	origins := "*"
	if len(opts.CORSOrigins) > 0 {
		origins = strings.Join(opts.CORSOrigins, ",")
	}
	app.Use(cors.New(cors.Config{AllowOrigins: origins}))

	if deps.Runtime != nil && opts.BaseHost != "" {
		app.Use(NewProxyHandler(deps.Runtime, opts.BaseHost, log).ProxyRequest)
	}

	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	v1 := app.Group("/api/v1")
	wp := NewWPCLIHandler(deps.Dispatcher, opts.DefaultInstance)
	packageLimit := packageInstallLimiter(opts)

	if deps.Instances != nil {
		ih := NewInstanceHandler(deps.Instances, deps.Resolver)
		instances := v1.Group("/instances")
		instances.Post("/", ih.CreateInstance)
		instances.Get("/", ih.ListInstances)
		instances.Get("/:id", ih.GetInstance)
		instances.Delete("/:id", ih.DeleteInstance)
		instances.Get("/:id/logs", ih.GetInstanceLogs)
		wp.Register(instances.Group("/:id/wp-cli", ih.RequireInstance), packageLimit)
	}
	wp.Register(v1.Group("/wp-cli"), packageLimit)

	return app
}

// packageInstallLimiter bounds package installs per client IP. One
// limiter serves every mount so the budget is shared.
func packageInstallLimiter(opts Options) fiber.Handler {
	max, window := opts.PackageInstallMax, opts.PackageInstallWindow
	if max <= 0 {
		max = 5
	}
	if window <= 0 {
		window = time.Minute
	}
	return limiter.New(limiter.Config{
		Max:        max,
		Expiration: window,
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(ErrorResponse{Error: "too many package installs, try again later"})
		},
	})
}
