// Package dispatcher evaluates the enabled triggers of an activity and runs
// the agent action of every match, recording one execution per match.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/dukex/inbox/pkg/actions"
	"github.com/dukex/inbox/pkg/conditions"
	"github.com/dukex/inbox/pkg/eventbus"
	"github.com/dukex/inbox/pkg/events"
	"github.com/dukex/inbox/pkg/metrics"
	"github.com/dukex/inbox/pkg/models"
	"github.com/dukex/inbox/pkg/otelhelper"
	"github.com/dukex/inbox/pkg/persistence"
	"github.com/dukex/inbox/pkg/tracker"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultMaxConcurrency = 8
	DefaultActionTimeout  = 30 * time.Second
)

var (
	// ErrTriggersUnavailable means no trigger could be evaluated for the
	// activity. The delivery should be retried by the sender.
	ErrTriggersUnavailable = errors.New("triggers unavailable")
	// ErrActionPanicked is recorded when an action panics.
	ErrActionPanicked = errors.New("action panicked")
)

// TriggerLister is the read path of the trigger repository.
type TriggerLister interface {
	List(ctx context.Context, filter persistence.TriggerFilter) ([]*models.WorkflowTrigger, error)
}

type Config struct {
	MaxConcurrency int
	ActionTimeout  time.Duration
}

type Dispatcher struct {
	triggers  TriggerLister
	evaluator *conditions.Evaluator
	tracker   *tracker.Tracker
	invoker   actions.Invoker
	publisher eventbus.EventPublisher
	tracer    trace.Tracer
	metrics   *metrics.Metrics
	logger    *slog.Logger
	config    Config
}

type Option func(*Dispatcher)

func WithConfig(config Config) Option {
	return func(d *Dispatcher) {
		if config.MaxConcurrency > 0 {
			d.config.MaxConcurrency = config.MaxConcurrency
		}

		if config.ActionTimeout > 0 {
			d.config.ActionTimeout = config.ActionTimeout
		}
	}
}

// WithEventPublisher publishes execution.completed and execution.failed.
func WithEventPublisher(publisher eventbus.EventPublisher) Option {
	return func(d *Dispatcher) {
		d.publisher = publisher
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(d *Dispatcher) {
		d.tracer = tracer
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Dispatcher) {
		d.metrics = m
	}
}

func New(
	triggers TriggerLister,
	tracker *tracker.Tracker,
	invoker actions.Invoker,
	logger *slog.Logger,
	opts ...Option,
) *Dispatcher {
	d := &Dispatcher{
		triggers:  triggers,
		evaluator: conditions.NewEvaluator(logger),
		tracker:   tracker,
		invoker:   invoker,
		tracer:    otelhelper.NoopTracer(),
		logger:    logger.With("module", "dispatcher"),
		config: Config{
			MaxConcurrency: DefaultMaxConcurrency,
			ActionTimeout:  DefaultActionTimeout,
		},
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

// Match returns the enabled triggers whose conditions accept activity,
// in repository order.
func (d *Dispatcher) Match(ctx context.Context, activity *models.Activity) ([]*models.WorkflowTrigger, error) {
	candidates, err := d.triggers.List(ctx, persistence.TriggerFilter{
		Platform:    activity.Platform,
		EventType:   activity.EventType,
		EnabledOnly: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTriggersUnavailable, err)
	}

	matched := make([]*models.WorkflowTrigger, 0, len(candidates))

	for _, trigger := range candidates {
		if !trigger.Enabled || trigger.Platform != activity.Platform || trigger.EventType != activity.EventType {
			continue
		}

		if d.Evaluate(trigger, activity) {
			matched = append(matched, trigger)
		}
	}

	return matched, nil
}

// Evaluate runs trigger's condition tree against activity.
func (d *Dispatcher) Evaluate(trigger *models.WorkflowTrigger, activity *models.Activity) bool {
	return d.evaluator.With("trigger_id", trigger.ID).Matches(activity, conditions.Parse(trigger.Conditions))
}

// Dispatch runs every matching trigger for activity. Matches run
// concurrently and independently; the returned executions follow trigger
// order. Only a failure to list triggers is returned as an error.
func (d *Dispatcher) Dispatch(ctx context.Context, activity *models.Activity) ([]*models.WorkflowExecution, error) {
	started := time.Now()

	ctx, span := otelhelper.StartSpan(ctx, d.tracer, "dispatcher.dispatch",
		attribute.String(otelhelper.ActivityIDKey, activity.ID),
		attribute.String(otelhelper.PlatformKey, string(activity.Platform)),
		attribute.String(otelhelper.EventTypeKey, activity.EventType),
	)
	defer span.End()

	logger := d.logger.With("activity_id", activity.ID, "platform", activity.Platform, "event_type", activity.EventType)

	matched, err := d.Match(ctx, activity)
	if err != nil {
		otelhelper.SetError(span, err)
		logger.ErrorContext(ctx, "Failed to list triggers", "error", err)

		return nil, err
	}

	span.SetAttributes(attribute.Int(otelhelper.MatchCountKey, len(matched)))

	results := make([]*models.WorkflowExecution, len(matched))
	semaphore := make(chan struct{}, d.config.MaxConcurrency)

	var wg sync.WaitGroup

	for i, trigger := range matched {
		d.metrics.RecordMatch(string(activity.Platform))

		wg.Add(1)

		semaphore <- struct{}{}

		go func() {
			defer wg.Done()
			defer func() { <-semaphore }()

			results[i] = d.execute(ctx, trigger, activity, logger.With("trigger_id", trigger.ID))
		}()
	}

	wg.Wait()

	executions := make([]*models.WorkflowExecution, 0, len(results))
	for _, exec := range results {
		if exec != nil {
			executions = append(executions, exec)
		}
	}

	d.metrics.RecordDispatch(string(activity.Platform), time.Since(started))
	logger.InfoContext(ctx, "Activity dispatched", "matched", len(matched), "executions", len(executions))

	return executions, nil
}

// execute runs one match through pending -> running -> terminal. It returns
// nil only when the execution record could not be created.
func (d *Dispatcher) execute(
	ctx context.Context,
	trigger *models.WorkflowTrigger,
	activity *models.Activity,
	logger *slog.Logger,
) *models.WorkflowExecution {
	ctx, span := otelhelper.StartSpan(ctx, d.tracer, "dispatcher.execute",
		attribute.String(otelhelper.TriggerIDKey, trigger.ID),
		attribute.String(otelhelper.ActivityIDKey, activity.ID),
	)
	defer span.End()

	// Bookkeeping outlives a cancelled request so executions are closed.
	store := context.WithoutCancel(ctx)

	exec, err := d.tracker.Create(store, trigger.ID, activity.ID)
	if err != nil {
		otelhelper.SetError(span, err)
		logger.ErrorContext(ctx, "Failed to record execution", "error", err)

		return nil
	}

	span.SetAttributes(attribute.String(otelhelper.ExecutionIDKey, exec.ID))

	if err := d.tracker.Start(store, exec); err != nil {
		logger.ErrorContext(ctx, "Failed to start execution", "execution_id", exec.ID, "error", err)
		d.finish(store, span, exec, err, logger)

		return exec
	}

	started := time.Now()
	invokeErr := d.invoke(ctx, trigger, activity)

	d.finish(store, span, exec, invokeErr, logger)
	d.metrics.RecordExecution(string(exec.Status), time.Since(started))

	return exec
}

func (d *Dispatcher) finish(
	ctx context.Context,
	span trace.Span,
	exec *models.WorkflowExecution,
	invokeErr error,
	logger *slog.Logger,
) {
	logger = logger.With("execution_id", exec.ID)

	if invokeErr != nil {
		otelhelper.SetError(span, invokeErr)

		if err := d.tracker.Fail(ctx, exec, invokeErr); err != nil {
			logger.ErrorContext(ctx, "Failed to record execution failure", "error", err, "cause", invokeErr)

			return
		}

		d.publish(ctx, exec.ID, events.NewExecutionFailed(exec), logger)

		return
	}

	if err := d.tracker.Complete(ctx, exec); err != nil {
		logger.ErrorContext(ctx, "Failed to record execution completion", "error", err)

		return
	}

	d.publish(ctx, exec.ID, events.NewExecutionCompleted(exec), logger)
}

// invoke bounds the action by its timeout and converts panics into errors.
// An action that ignores cancellation is abandoned once the deadline passes.
func (d *Dispatcher) invoke(ctx context.Context, trigger *models.WorkflowTrigger, activity *models.Activity) error {
	ctx, cancel := context.WithTimeout(ctx, trigger.AgentConfig.Timeout(d.config.ActionTimeout))
	defer cancel()

	done := make(chan error, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				d.logger.ErrorContext(ctx, "Action panicked", "trigger_id", trigger.ID, "panic", r, "stack", string(debug.Stack()))
				done <- fmt.Errorf("%w: %v", ErrActionPanicked, r)
			}
		}()

		done <- d.invoker.Invoke(ctx, trigger, activity)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("action did not finish: %w", ctx.Err())
	}
}

func (d *Dispatcher) publish(ctx context.Context, key string, event eventbus.Event, logger *slog.Logger) {
	if d.publisher == nil {
		return
	}

	if err := d.publisher.Publish(ctx, key, event); err != nil {
		logger.WarnContext(ctx, "Failed to publish event", "event_type", event.GetType(), "error", err)
	}
}
