// Package main provides the dispatcher worker, which consumes
// activity.received events and runs the matching triggers.
package main

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dukex/inbox/pkg/cmd"
	"github.com/dukex/inbox/pkg/eventbus"
	"github.com/dukex/inbox/pkg/services"
)

const shutdownTimeout = 10 * time.Second

type Worker struct {
	id             string
	logger         *slog.Logger
	eventBus       eventbus.EventBus
	engine         *cmd.Engine
	ingestion      *services.Ingestion
	registry       *prometheus.Registry
	reaperInterval time.Duration
}

func NewWorker(
	id string,
	eventBus eventbus.EventBus,
	engine *cmd.Engine,
	ingestion *services.Ingestion,
	registry *prometheus.Registry,
	reaperInterval time.Duration,
	logger *slog.Logger,
) *Worker {
	return &Worker{
		id:             id,
		logger:         logger.With("module", "inbox-dispatcher", "dispatcher_id", id),
		eventBus:       eventBus,
		engine:         engine,
		ingestion:      ingestion,
		registry:       registry,
		reaperInterval: reaperInterval,
	}
}

// Start consumes events until ctx is cancelled.
func (w *Worker) Start(ctx context.Context, metricsPort int) error {
	w.logger.InfoContext(ctx, "Starting dispatcher worker")

	if err := w.engine.Listen(w.eventBus, w.ingestion); err != nil {
		return err
	}

	if err := w.eventBus.Subscribe(ctx); err != nil {
		w.logger.ErrorContext(ctx, "Failed to subscribe to event bus", "error", err)

		return err
	}

	if w.reaperInterval > 0 {
		if err := w.engine.Reaper.Start(ctx, w.reaperInterval); err != nil {
			return err
		}

		defer w.engine.Reaper.Stop()
	}

	if metricsPort > 0 {
		go w.serveMetrics(ctx, metricsPort)
	}

	w.logger.InfoContext(ctx, "Dispatcher worker started successfully")

	<-ctx.Done()
	w.logger.InfoContext(ctx, "Shutting down dispatcher worker...")

	return nil
}

func (w *Worker) App() *fiber.App {
	app := fiber.New()

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(w.registry, promhttp.HandlerOpts{})))

	return app
}

func (w *Worker) serveMetrics(ctx context.Context, port int) {
	app := w.App()

	go func() {
		<-ctx.Done()

		if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
			w.logger.Error("Failed to shut down metrics server", "error", err)
		}
	}()

	if err := app.Listen(":" + strconv.Itoa(port)); err != nil {
		w.logger.ErrorContext(ctx, "Metrics server stopped", "error", err)
	}
}
