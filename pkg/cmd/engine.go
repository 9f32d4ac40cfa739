package cmd

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/dukex/inbox/pkg/actions"
	"github.com/dukex/inbox/pkg/dispatcher"
	"github.com/dukex/inbox/pkg/eventbus"
	"github.com/dukex/inbox/pkg/events"
	"github.com/dukex/inbox/pkg/metrics"
	"github.com/dukex/inbox/pkg/models"
	"github.com/dukex/inbox/pkg/persistence"
	"github.com/dukex/inbox/pkg/reaper"
	"github.com/dukex/inbox/pkg/services"
	"github.com/dukex/inbox/pkg/tracker"
)

type EngineConfig struct {
	MaxConcurrency int
	ActionTimeout  time.Duration
	// RequestTimeout caps one outbound HTTP attempt of an action.
	RequestTimeout time.Duration
	// TriggerCacheTTL enables the trigger cache when positive.
	TriggerCacheTTL time.Duration
	StaleAfter      time.Duration

	Publisher eventbus.EventPublisher
	Metrics   *metrics.Metrics
	Tracer    trace.Tracer
}

// Engine is the dispatch pipeline shared by the API and the dispatcher
// worker.
type Engine struct {
	Actions    *actions.Registry
	Tracker    *tracker.Tracker
	Dispatcher *dispatcher.Dispatcher
	Reaper     *reaper.Reaper
	// Cache is nil when the trigger cache is disabled.
	Cache *dispatcher.CachedTriggers

	logger *slog.Logger
}

func NewEngine(p persistence.Persistence, config EngineConfig, logger *slog.Logger) *Engine {
	requestTimeout := config.RequestTimeout
	if requestTimeout <= 0 {
		requestTimeout = dispatcher.DefaultActionTimeout
	}

	e := &Engine{
		Actions: NewActionRegistry(requestTimeout),
		Tracker: tracker.New(p.ExecutionRepository(), logger),
		logger:  logger.With("module", "engine"),
	}

	var triggers dispatcher.TriggerLister = p.TriggerRepository()
	if config.TriggerCacheTTL > 0 {
		e.Cache = dispatcher.NewCachedTriggers(p.TriggerRepository(), config.TriggerCacheTTL)
		triggers = e.Cache
	}

	opts := []dispatcher.Option{
		dispatcher.WithConfig(dispatcher.Config{
			MaxConcurrency: config.MaxConcurrency,
			ActionTimeout:  config.ActionTimeout,
		}),
		dispatcher.WithMetrics(config.Metrics),
	}

	if config.Publisher != nil {
		opts = append(opts, dispatcher.WithEventPublisher(config.Publisher))
	}

	if config.Tracer != nil {
		opts = append(opts, dispatcher.WithTracer(config.Tracer))
	}

	e.Dispatcher = dispatcher.New(triggers, e.Tracker, actions.NewInvoker(e.Actions, logger), logger, opts...)

	reaperOpts := []reaper.Option{
		reaper.WithMetrics(config.Metrics),
		reaper.WithRunningGrace(max(config.ActionTimeout, models.MaxAgentTimeout) + reaper.RunningMargin),
	}
	if config.StaleAfter > 0 {
		reaperOpts = append(reaperOpts, reaper.WithStaleAfter(config.StaleAfter))
	}

	e.Reaper = reaper.New(p.ExecutionRepository(), e.Tracker, logger, reaperOpts...)

	return e
}

// HandleTriggerChanged drops the cached trigger lists.
func (e *Engine) HandleTriggerChanged(ctx context.Context, event any) error {
	if e.Cache == nil {
		return nil
	}

	e.Cache.Invalidate()

	if changed, ok := event.(*events.TriggerChanged); ok {
		e.logger.DebugContext(ctx, "Trigger cache invalidated", "trigger_id", changed.TriggerID, "event_type", changed.Type)
	}

	return nil
}

// Listen registers the engine's event handlers. With a non-nil ingestion
// the engine also consumes activity.received.
func (e *Engine) Listen(bus eventbus.EventSubscriber, ingestion *services.Ingestion) error {
	for _, eventType := range []events.EventType{
		events.TriggerCreatedEvent,
		events.TriggerUpdatedEvent,
		events.TriggerDeletedEvent,
	} {
		if err := bus.Handle(eventType, e.HandleTriggerChanged); err != nil {
			return err
		}
	}

	if ingestion == nil {
		return nil
	}

	return bus.Handle(events.ActivityReceivedEvent, ingestion.HandleActivityReceived)
}
