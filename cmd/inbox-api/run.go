package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/dukex/inbox/pkg/cmd"
	"github.com/dukex/inbox/pkg/dispatcher"
	"github.com/dukex/inbox/pkg/log"
	"github.com/dukex/inbox/pkg/models"
	"github.com/dukex/inbox/pkg/reaper"
	"github.com/dukex/inbox/pkg/services"
)

const defaultPort = 9091

func RunAPICommand() *cli.Command {
	return &cli.Command{
		Name:    "run",
		Aliases: []string{"r"},
		Usage:   "Start api",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the API server on",
				Value:   defaultPort,
				Sources: cli.EnvVars("PORT"),
			},
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence (postgres:// or a directory)",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus type (none, gochannel, kafka)",
				Value:   cmd.EventBusNone,
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "dispatch-mode",
				Usage:   "Dispatch activities inline or through the event bus (inline, bus)",
				Value:   string(services.DispatchInline),
				Sources: cli.EnvVars("DISPATCH_MODE"),
			},
			&cli.StringFlag{
				Name:    "redis-url",
				Usage:   "Redis URL of the delivery guard (disabled when empty)",
				Sources: cli.EnvVars("REDIS_URL"),
			},
			&cli.StringFlag{
				Name:    "webhook-token-mattermost",
				Usage:   "Shared token Mattermost webhooks must present",
				Sources: cli.EnvVars("WEBHOOK_TOKEN_MATTERMOST"),
			},
			&cli.StringFlag{
				Name:    "webhook-token-trello",
				Usage:   "Shared token Trello webhooks must present",
				Sources: cli.EnvVars("WEBHOOK_TOKEN_TRELLO"),
			},
			&cli.StringFlag{
				Name:    "webhook-token-flock",
				Usage:   "Shared token Flock webhooks must present",
				Sources: cli.EnvVars("WEBHOOK_TOKEN_FLOCK"),
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
				Value:   30 * time.Second,
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

			logger := log.WithModule("inbox-api")

			logger.InfoContext(ctx, "Initializing Inbox API")

			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			mode, err := services.ParseDispatchMode(command.String("dispatch-mode"))
			if err != nil {
				return err
			}

			tracer, shutdownTracer := cmd.NewTracer(ctx, command.Bool("tracing"), "inbox-api", logger)
			defer func() {
				if err := shutdownTracer(context.WithoutCancel(ctx)); err != nil {
					logger.ErrorContext(ctx, "Failed to shut down tracer", "error", err)
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

			eventBusType := command.String("event-bus")

			eventBus, err := cmd.NewEventBus(eventBusType, "inbox-api", logger)
			if err != nil {
				return err
			}

			if eventBus != nil {
				defer func() {
					if err := eventBus.Close(); err != nil {
						logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
					}
				}()
			}

			guard, redisClient, err := cmd.NewGuard(ctx, command.String("redis-url"), logger)
			if err != nil {
				return err
			}

			if redisClient != nil {
				defer func() {
					if err := redisClient.Close(); err != nil {
						logger.ErrorContext(ctx, "Failed to close redis client", "error", err)
					}
				}()
			}

			api, err := NewAPI(logger, persistence, eventBus, guard, Config{
				DispatchMode:      mode,
				ConsumeActivities: eventBusType == cmd.EventBusGoChannel,
				Tokens: map[models.Platform]string{
					models.PlatformMattermost: command.String("webhook-token-mattermost"),
					models.PlatformTrello:     command.String("webhook-token-trello"),
					models.PlatformFlock:      command.String("webhook-token-flock"),
				},
				ActionTimeout:   command.Duration("action-timeout"),
				MaxConcurrency:  command.Int("max-concurrency"),
				TriggerCacheTTL: command.Duration("trigger-cache-ttl"),
				StaleAfter:      command.Duration("stale-after"),
				ReaperInterval:  command.Duration("reaper-interval"),
				Tracer:          tracer,
			})
			if err != nil {
				return err
			}

			return api.Start(ctx, command.Int("port"))
		},
	}
}
