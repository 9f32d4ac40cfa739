// Package main provides the inbox API server.
package main

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"

	"github.com/dukex/inbox/pkg/cmd"
	"github.com/dukex/inbox/pkg/directory"
	"github.com/dukex/inbox/pkg/eventbus"
	"github.com/dukex/inbox/pkg/idempotency"
	"github.com/dukex/inbox/pkg/metrics"
	"github.com/dukex/inbox/pkg/models"
	"github.com/dukex/inbox/pkg/normalizer"
	"github.com/dukex/inbox/pkg/persistence"
	"github.com/dukex/inbox/pkg/services"
	"github.com/dukex/inbox/pkg/web"
)

const shutdownTimeout = 10 * time.Second

// ErrBusRequired is returned for bus dispatch without an event bus.
var ErrBusRequired = errors.New("dispatch mode bus requires an event bus")

type Config struct {
	DispatchMode services.DispatchMode
	// ConsumeActivities runs the dispatch worker in this process. Only
	// meaningful with an in-memory bus.
	ConsumeActivities bool
	Tokens            map[models.Platform]string

	ActionTimeout   time.Duration
	MaxConcurrency  int
	TriggerCacheTTL time.Duration
	StaleAfter      time.Duration
	ReaperInterval  time.Duration

	Tracer trace.Tracer
}

type API struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	eventBus    eventbus.EventBus
	engine      *cmd.Engine
	ingestion   *services.Ingestion
	handlers    *web.APIHandlers
	registry    *prometheus.Registry
	config      Config
}

// NewAPI wires the services behind the HTTP handlers. eventBus and guard
// may be nil.
func NewAPI(
	logger *slog.Logger,
	p persistence.Persistence,
	eventBus eventbus.EventBus,
	guard idempotency.Guard,
	config Config,
) (*API, error) {
	if config.DispatchMode == services.DispatchBus && eventBus == nil {
		return nil, ErrBusRequired
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := metrics.New(registry)

	engineConfig := cmd.EngineConfig{
		MaxConcurrency:  config.MaxConcurrency,
		ActionTimeout:   config.ActionTimeout,
		RequestTimeout:  config.ActionTimeout,
		TriggerCacheTTL: config.TriggerCacheTTL,
		StaleAfter:      config.StaleAfter,
		Metrics:         m,
		Tracer:          config.Tracer,
	}

	var publisher eventbus.EventPublisher
	if eventBus != nil {
		publisher = eventBus
		engineConfig.Publisher = eventBus
	} else {
		// nothing would invalidate the cache
		engineConfig.TriggerCacheTTL = 0
	}

	engine := cmd.NewEngine(p, engineConfig, logger)

	names, err := directory.New(directory.DefaultSize, logger)
	if err != nil {
		return nil, err
	}

	opts := []services.IngestionOption{
		services.WithMetrics(m),
		services.WithDirectory(names),
	}

	if guard != nil {
		opts = append(opts, services.WithGuard(guard))
	}

	if config.DispatchMode == services.DispatchBus {
		opts = append(opts, services.WithBus(eventBus))
	}

	ingestion := services.NewIngestion(
		normalizer.NewRegistry(logger),
		p.ActivityRepository(),
		engine.Dispatcher,
		logger,
		opts...,
	)

	triggers, err := services.NewTriggers(p.TriggerRepository(), engine.Actions, publisher, logger)
	if err != nil {
		return nil, err
	}

	handlers := web.NewAPIHandlers(web.Services{
		Ingestion:  ingestion,
		Triggers:   triggers,
		Activities: services.NewActivities(p.ActivityRepository()),
		Executions: services.NewExecutions(p.ExecutionRepository()),
		Health:     services.NewHealth(p),
	}, config.Tokens, logger)

	return &API{
		logger:      logger,
		persistence: p,
		eventBus:    eventBus,
		engine:      engine,
		ingestion:   ingestion,
		handlers:    handlers,
		registry:    registry,
		config:      config,
	}, nil
}

func (a *API) App() *fiber.App {
	handlers := a.handlers

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Inbox API")
	})

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{})))

	app.Post("/webhooks/:platform", handlers.ReceiveWebhook)
	app.Head("/webhooks/:platform", handlers.ProbeWebhook)

	act := app.Group("/activities")
	act.Get("/", handlers.GetActivities)
	act.Get("/stats", handlers.GetActivityStats)
	act.Get("/:id", handlers.GetActivity)

	t := app.Group("/triggers")
	t.Get("/", handlers.GetTriggers)
	t.Post("/", handlers.CreateTrigger)
	t.Get("/:id", handlers.GetTrigger)
	t.Patch("/:id", handlers.UpdateTrigger)
	t.Delete("/:id", handlers.DeleteTrigger)
	t.Post("/:id/toggle", handlers.ToggleTrigger)
	t.Post("/:id/test", handlers.TestTrigger)

	e := app.Group("/executions")
	e.Get("/", handlers.GetExecutions)
	e.Get("/stats", handlers.GetExecutionStats)
	e.Get("/:id", handlers.GetExecution)

	app.Get("/health", handlers.HealthCheck)

	return app
}

// Start serves until ctx is cancelled.
func (a *API) Start(ctx context.Context, port int) error {
	if a.eventBus != nil {
		var consumer *services.Ingestion
		if a.config.ConsumeActivities {
			consumer = a.ingestion
		}

		if err := a.engine.Listen(a.eventBus, consumer); err != nil {
			return err
		}

		if err := a.eventBus.Subscribe(ctx); err != nil {
			return err
		}
	}

	if a.config.ReaperInterval > 0 {
		if err := a.engine.Reaper.Start(ctx, a.config.ReaperInterval); err != nil {
			return err
		}

		defer a.engine.Reaper.Stop()
	}

	app := a.App()

	go func() {
		<-ctx.Done()

		if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
			a.logger.Error("Failed to shut down API", "error", err)
		}
	}()

	a.logger.InfoContext(ctx, "Starting API", "port", port, "dispatch_mode", a.ingestion.Mode())

	return app.Listen(":" + strconv.Itoa(port))
}
