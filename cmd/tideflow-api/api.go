// Package main provides the tideflow API server: workflow configuration,
// instance inspection and operator events over HTTP.
package main

import (
	"fmt"
	"log/slog"
	"strconv"

	"github.com/dukex/tideflow/pkg/dispatcher"
	"github.com/dukex/tideflow/pkg/eventbus"
	"github.com/dukex/tideflow/pkg/handlers"
	"github.com/dukex/tideflow/pkg/persistence"
	"github.com/dukex/tideflow/pkg/services"
	"github.com/dukex/tideflow/pkg/web"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel/metric"
)

type API struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	eventBus    eventbus.Publisher
	clock       clockwork.Clock
	meter       metric.Meter
}

func NewAPI(
	logger *slog.Logger,
	persistence persistence.Persistence,
	eventBus eventbus.Publisher,
	clock clockwork.Clock,
	meter metric.Meter,
) *API {
	return &API{
		logger:      logger,
		persistence: persistence,
		eventBus:    eventBus,
		clock:       clock,
		meter:       meter,
	}
}

// App builds the fiber application. Operator events are applied through a
// dispatcher without handlers, so they share the scheduler's transaction and
// notification path.
func (a *API) App() (*fiber.App, error) {
	receiver, err := dispatcher.New(a.persistence, handlers.Chain{}, a.eventBus, a.clock, a.logger, a.meter, dispatcher.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to create event receiver: %w", err)
	}

	apiHandlers := web.NewAPIHandlers(
		services.NewWorkflow(a.persistence),
		services.NewInstance(a.persistence, receiver),
		a.clock,
	)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker(healthcheck.Config{
		Probe: func(c fiber.Ctx) bool {
			return a.persistence.HealthCheck(c.Context()) == nil
		},
	}))

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Tideflow API")
	})

	apiHandlers.Register(app)

	return app, nil
}

func (a *API) Start(port int) error {
	app, err := a.App()
	if err != nil {
		return err
	}

	return app.Listen(":" + strconv.Itoa(port))
}
