package web

import (
	"log/slog"
	"strconv"

	"github.com/dukex/hierarchy-killer/pkg/eventbus"
	"github.com/dukex/hierarchy-killer/pkg/persistence"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	fiberlogger "github.com/gofiber/fiber/v3/middleware/logger"
)

type API struct {
	handlers *APIHandlers
	app      *fiber.App
}

func NewAPI(logger *slog.Logger, controller Controller, ledger persistence.Ledger, publisher eventbus.EventPublisher) *API {
	return &API{
		handlers: NewAPIHandlers(
			controller,
			ledger,
			publisher,
			validator.New(validator.WithRequiredStructEnabled()),
			logger,
		),
	}
}

func (a *API) App() *fiber.App {
	if a.app != nil {
		return a.app
	}

	app := fiber.New()
	app.Use(fiberlogger.New(fiberlogger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())
	app.Get("/health", a.handlers.HealthCheck)

	admin := app.Group("/admin")
	admin.Get("/stats", a.handlers.GetStats)
	admin.Put("/active", a.handlers.SetActive)
	admin.Put("/log-level", a.handlers.SetLogLevel)

	aborts := app.Group("/aborts")
	aborts.Get("/", a.handlers.GetEntries)
	aborts.Get("/:id", a.handlers.GetEntry)

	app.Post("/runs/events", a.handlers.PushEvent)

	a.app = app

	return app
}

func (a *API) Start(port int) error {
	return a.App().Listen(":" + strconv.Itoa(port))
}

func (a *API) Shutdown() error {
	if a.app == nil {
		return nil
	}

	return a.app.Shutdown()
}
