package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/urfave/cli/v3"

	"github.com/dukex/inbox/pkg/cmd"
	"github.com/dukex/inbox/pkg/dispatcher"
	"github.com/dukex/inbox/pkg/log"
	"github.com/dukex/inbox/pkg/metrics"
	"github.com/dukex/inbox/pkg/normalizer"
	"github.com/dukex/inbox/pkg/reaper"
	"github.com/dukex/inbox/pkg/services"
)

// ErrNoEventBus is returned when the worker has nothing to consume from.
var ErrNoEventBus = errors.New("the dispatcher needs an event bus (gochannel or kafka)")

func NewRunCommand() *cli.Command {
	return &cli.Command{
		Name:    "run",
		Aliases: []string{"r"},
		Usage:   "Start the dispatcher worker",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "dispatcher-id",
				Aliases: []string{"id"},
				Usage:   "Custom dispatcher ID (auto-generated if not provided)",
				Sources: cli.EnvVars("DISPATCHER_ID"),
			},
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence (postgres:// or a directory)",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:     "event-bus",
				Usage:    "Event bus type (gochannel, kafka)",
				Required: true,
				Sources:  cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.DurationFlag{
				Name:    "action-timeout",
				Usage:   "Default timeout of one agent action",
				Value:   dispatcher.DefaultActionTimeout,
				Sources: cli.EnvVars("ACTION_TIMEOUT"),
			},
			&cli.IntFlag{
				Name:    "max-concurrency",
				Usage:   "Actions run in parallel for one activity",
				Value:   dispatcher.DefaultMaxConcurrency,
				Sources: cli.EnvVars("MAX_CONCURRENCY"),
			},
			&cli.DurationFlag{
				Name:    "trigger-cache-ttl",
				Usage:   "How long trigger lists are cached (0 disables the cache)",
				Value:   5 * time.Minute,
				Sources: cli.EnvVars("TRIGGER_CACHE_TTL"),
			},
			&cli.DurationFlag{
				Name:    "reaper-interval",
				Usage:   "How often abandoned executions are failed (0 disables the reaper)",
				Value:   reaper.DefaultInterval,
				Sources: cli.EnvVars("REAPER_INTERVAL"),
			},
			&cli.DurationFlag{
				Name:    "stale-after",
				Usage:   "Age after which a pending or running execution is abandoned",
				Value:   reaper.DefaultStaleAfter,
				Sources: cli.EnvVars("STALE_AFTER"),
			},
			&cli.IntFlag{
				Name:    "metrics-port",
				Usage:   "Port serving /metrics (0 disables it)",
				Value:   9092,
				Sources: cli.EnvVars("METRICS_PORT"),
			},
			&cli.BoolFlag{
				Name:    "tracing",
				Usage:   "Export OpenTelemetry traces (configured by OTEL_EXPORTER_OTLP_* variables)",
				Sources: cli.EnvVars("TRACING_ENABLED"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
			&cli.StringFlag{
				Name:    "log-format",
				Usage:   "Log format (text, json)",
				Value:   "text",
				Sources: cli.EnvVars("LOG_FORMAT"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"), command.String("log-format"))

			dispatcherID := command.String("dispatcher-id")
			if dispatcherID == "" {
				dispatcherID = fmt.Sprintf("dispatcher-%s", uuid.New().String()[:8])
			}

			logger := log.WithModule("inbox-dispatcher").With("dispatcher_id", dispatcherID)

			logger.InfoContext(ctx, "Initializing Inbox Dispatcher")

			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			tracer, shutdownTracer := cmd.NewTracer(ctx, command.Bool("tracing"), "inbox-dispatcher", logger)
			defer func() {
				if err := shutdownTracer(context.WithoutCancel(ctx)); err != nil {
					logger.ErrorContext(ctx, "Failed to shut down tracer", "error", err)
				}
			}()

			eventBus, err := cmd.NewEventBus(command.String("event-bus"), "inbox-dispatcher", logger)
			if err != nil {
				return err
			}

			if eventBus == nil {
				return ErrNoEventBus
			}

			defer func() {
				if err := eventBus.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			persistence, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			if err != nil {
				return err
			}

			defer func() {
				if err := persistence.Close(context.WithoutCancel(ctx)); err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			registry := prometheus.NewRegistry()
			registry.MustRegister(
				collectors.NewGoCollector(),
				collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			)

			m := metrics.New(registry)

			engine := cmd.NewEngine(persistence, cmd.EngineConfig{
				MaxConcurrency:  command.Int("max-concurrency"),
				ActionTimeout:   command.Duration("action-timeout"),
				RequestTimeout:  command.Duration("action-timeout"),
				TriggerCacheTTL: command.Duration("trigger-cache-ttl"),
				StaleAfter:      command.Duration("stale-after"),
				Publisher:       eventBus,
				Metrics:         m,
				Tracer:          tracer,
			}, logger)

			ingestion := services.NewIngestion(
				normalizer.NewRegistry(logger),
				persistence.ActivityRepository(),
				engine.Dispatcher,
				logger,
				services.WithMetrics(m),
			)

			worker := NewWorker(
				dispatcherID,
				eventBus,
				engine,
				ingestion,
				registry,
				command.Duration("reaper-interval"),
				logger,
			)

			return worker.Start(ctx, command.Int("metrics-port"))
		},
	}
}
