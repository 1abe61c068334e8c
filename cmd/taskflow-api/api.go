package main

import (
	"log/slog"
	"strconv"

	"github.com/dukex/taskflow/pkg/persistence"
	"github.com/dukex/taskflow/pkg/services"
	"github.com/dukex/taskflow/pkg/web"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"
)

type API struct {
	logger       *slog.Logger
	persistence  persistence.Persistence
	orchestrator *services.Orchestrator
	validate     *validator.Validate
}

func NewAPI(
	logger *slog.Logger,
	persistence persistence.Persistence,
	orchestrator *services.Orchestrator,
) *API {
	return &API{
		logger:       logger,
		persistence:  persistence,
		orchestrator: orchestrator,
		validate:     validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (a *API) App() *fiber.App {
	handlers := web.NewAPIHandlers(
		services.NewTemplates(a.persistence.TemplateRepository(), a.logger),
		a.orchestrator,
		a.persistence.RoleRepository(),
		a.validate,
	)

	app := fiber.New(fiber.Config{Immutable: true})
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))
	app.Use(web.ActorMiddleware())

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Taskflow API")
	})

	handlers.Register(app)

	return app
}

func (a *API) Start(port int) error {
	app := a.App()

	return app.Listen(":" + strconv.Itoa(port))
}
