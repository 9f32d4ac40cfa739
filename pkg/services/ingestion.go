package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukex/inbox/pkg/directory"
	"github.com/dukex/inbox/pkg/eventbus"
	"github.com/dukex/inbox/pkg/events"
	"github.com/dukex/inbox/pkg/idempotency"
	"github.com/dukex/inbox/pkg/metrics"
	"github.com/dukex/inbox/pkg/models"
	"github.com/dukex/inbox/pkg/normalizer"
	"github.com/dukex/inbox/pkg/persistence"
)

// DispatchMode selects where matched triggers run.
type DispatchMode string

const (
	// DispatchInline runs triggers before the webhook is answered.
	DispatchInline DispatchMode = "inline"
	// DispatchBus publishes activity.received for a dispatcher worker.
	DispatchBus DispatchMode = "bus"
)

// ParseDispatchMode validates a dispatch mode name. Empty means inline.
func ParseDispatchMode(name string) (DispatchMode, error) {
	switch mode := DispatchMode(name); mode {
	case "", DispatchInline:
		return DispatchInline, nil
	case DispatchBus:
		return DispatchBus, nil
	default:
		return "", fmt.Errorf("%w: unknown dispatch mode %q", ErrInvalidRequest, name)
	}
}

// Dispatcher runs the matching triggers of an activity.
type Dispatcher interface {
	Dispatch(ctx context.Context, activity *models.Activity) ([]*models.WorkflowExecution, error)
}

// IngestResult describes what happened to one webhook delivery.
type IngestResult struct {
	Activity     *models.Activity            `json:"activity"`
	Duplicate    bool                        `json:"duplicate"`
	Redispatched bool                        `json:"redispatched,omitempty"`
	Queued       bool                        `json:"queued,omitempty"`
	Executions   []*models.WorkflowExecution `json:"executions"`
}

type Ingestion struct {
	normalizer *normalizer.Registry
	activities persistence.ActivityRepository
	dispatcher Dispatcher
	publisher  eventbus.EventPublisher
	guard      idempotency.Guard
	directory  *directory.Directory
	metrics    *metrics.Metrics
	mode       DispatchMode
	logger     *slog.Logger
}

type IngestionOption func(*Ingestion)

// WithBus publishes activity.received instead of dispatching inline.
func WithBus(publisher eventbus.EventPublisher) IngestionOption {
	return func(s *Ingestion) {
		s.publisher = publisher
		s.mode = DispatchBus
	}
}

func WithGuard(guard idempotency.Guard) IngestionOption {
	return func(s *Ingestion) {
		s.guard = guard
	}
}

func WithDirectory(d *directory.Directory) IngestionOption {
	return func(s *Ingestion) {
		s.directory = d
	}
}

func WithMetrics(m *metrics.Metrics) IngestionOption {
	return func(s *Ingestion) {
		s.metrics = m
	}
}

func NewIngestion(
	normalizer *normalizer.Registry,
	activities persistence.ActivityRepository,
	dispatcher Dispatcher,
	logger *slog.Logger,
	opts ...IngestionOption,
) *Ingestion {
	s := &Ingestion{
		normalizer: normalizer,
		activities: activities,
		dispatcher: dispatcher,
		mode:       DispatchInline,
		logger:     logger.With("module", "ingestion"),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

func (s *Ingestion) Mode() DispatchMode {
	return s.mode
}

// Ingest normalizes a decoded payload, stores it and dispatches it.
func (s *Ingestion) Ingest(
	ctx context.Context,
	platform models.Platform,
	payload map[string]any,
	receipt normalizer.Receipt,
) (*IngestResult, error) {
	activity, err := s.normalizer.Normalize(platform, payload, receipt)
	if err != nil {
		return nil, err
	}

	return s.ingest(ctx, activity)
}

// IngestBody is Ingest for a raw request body.
func (s *Ingestion) IngestBody(
	ctx context.Context,
	platform models.Platform,
	contentType string,
	body []byte,
	receipt normalizer.Receipt,
) (*IngestResult, error) {
	activity, err := s.normalizer.NormalizeBody(platform, contentType, body, receipt)
	if err != nil {
		return nil, err
	}

	return s.ingest(ctx, activity)
}

func (s *Ingestion) ingest(ctx context.Context, activity *models.Activity) (*IngestResult, error) {
	logger := s.logger.With("platform", activity.Platform, "event_type", activity.EventType, "source_key", activity.SourceKey)

	s.directory.Observe(activity)

	if result, ok := s.guarded(ctx, activity, logger); ok {
		return result, nil
	}

	stored, inserted, err := s.activities.Insert(ctx, activity)
	if err != nil {
		s.release(ctx, activity, logger)

		return nil, fmt.Errorf("failed to store activity: %w", err)
	}

	s.metrics.RecordActivity(string(stored.Platform), stored.EventType, !inserted)

	logger = logger.With("activity_id", stored.ID)
	result := &IngestResult{Activity: stored, Duplicate: !inserted, Executions: []*models.WorkflowExecution{}}

	if !inserted {
		if stored.DispatchStatus != models.DispatchStatusFailed {
			logger.InfoContext(ctx, "Duplicate delivery ignored", "dispatch_status", stored.DispatchStatus)
			s.remember(ctx, stored, logger)

			return result, nil
		}

		claimed, err := s.activities.ClaimRedispatch(ctx, stored.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to claim redispatch: %w", err)
		}

		if !claimed {
			logger.InfoContext(ctx, "Redispatch already claimed by another delivery")

			return result, nil
		}

		stored.DispatchStatus = models.DispatchStatusPending
		result.Redispatched = true

		logger.InfoContext(ctx, "Redispatching activity after failed dispatch")
	}

	s.remember(ctx, stored, logger)

	if s.mode == DispatchBus {
		if err := s.publisher.Publish(ctx, stored.ID, events.NewActivityReceived(stored)); err != nil {
			s.markFailed(ctx, stored, logger)

			return nil, fmt.Errorf("failed to queue activity: %w", err)
		}

		result.Queued = true

		logger.InfoContext(ctx, "Activity queued for dispatch")

		return result, nil
	}

	// The platform may hang up; the dispatch still has to be recorded.
	executions, err := s.DispatchActivity(context.WithoutCancel(ctx), stored)
	if err != nil {
		return nil, err
	}

	result.Executions = executions

	return result, nil
}

// DispatchActivity runs the triggers of a stored activity and records the
// outcome on it. A failed dispatch leaves the activity claimable by the next
// redelivery.
func (s *Ingestion) DispatchActivity(ctx context.Context, activity *models.Activity) ([]*models.WorkflowExecution, error) {
	logger := s.logger.With("activity_id", activity.ID, "platform", activity.Platform, "event_type", activity.EventType)

	executions, err := s.dispatcher.Dispatch(ctx, activity)
	if err != nil {
		s.markFailed(ctx, activity, logger)

		return nil, fmt.Errorf("failed to dispatch activity: %w", err)
	}

	if err := s.activities.SetDispatchStatus(ctx, activity.ID, models.DispatchStatusDispatched); err != nil {
		logger.ErrorContext(ctx, "Failed to record dispatch status", "error", err)
	} else {
		activity.DispatchStatus = models.DispatchStatusDispatched
	}

	return executions, nil
}

// HandleActivityReceived is the dispatcher worker's activity.received
// handler. Activities that were already dispatched are acknowledged without
// running their triggers again.
func (s *Ingestion) HandleActivityReceived(ctx context.Context, event any) error {
	received, ok := event.(*events.ActivityReceived)
	if !ok {
		return fmt.Errorf("%w: unexpected event %T", ErrInvalidRequest, event)
	}

	if err := received.Validate(); err != nil {
		s.logger.WarnContext(ctx, "Dropping invalid activity event", "error", err)

		return nil
	}

	activity, err := s.activities.ByID(ctx, received.Activity.ID)

	switch {
	case persistence.IsNotFound(err):
		s.logger.WarnContext(ctx, "Activity of event not found", "activity_id", received.Activity.ID)

		return nil
	case err != nil:
		return fmt.Errorf("failed to load activity: %w", err)
	}

	if activity.DispatchStatus == models.DispatchStatusDispatched {
		s.logger.DebugContext(ctx, "Activity already dispatched", "activity_id", activity.ID)

		return nil
	}

	_, err = s.DispatchActivity(ctx, activity)

	return err
}

// guarded consults the delivery guard. It returns a result when the delivery
// is a known duplicate that needs no further work.
func (s *Ingestion) guarded(ctx context.Context, activity *models.Activity, logger *slog.Logger) (*IngestResult, bool) {
	if s.guard == nil {
		return nil, false
	}

	claimed, activityID, err := s.guard.Claim(ctx, activity.Platform, activity.SourceKey)
	if err != nil {
		logger.WarnContext(ctx, "Delivery guard unavailable", "error", err)

		return nil, false
	}

	if claimed || activityID == "" {
		return nil, false
	}

	stored, err := s.activities.ByID(ctx, activityID)
	if err != nil || stored.DispatchStatus == models.DispatchStatusFailed {
		return nil, false
	}

	s.metrics.RecordActivity(string(stored.Platform), stored.EventType, true)
	logger.InfoContext(ctx, "Duplicate delivery ignored", "activity_id", stored.ID, "guard", true)

	return &IngestResult{Activity: stored, Duplicate: true, Executions: []*models.WorkflowExecution{}}, true
}

func (s *Ingestion) remember(ctx context.Context, activity *models.Activity, logger *slog.Logger) {
	if s.guard == nil {
		return
	}

	if err := s.guard.Remember(ctx, activity.Platform, activity.SourceKey, activity.ID); err != nil {
		logger.WarnContext(ctx, "Failed to record delivery", "error", err)
	}
}

func (s *Ingestion) release(ctx context.Context, activity *models.Activity, logger *slog.Logger) {
	if s.guard == nil {
		return
	}

	if err := s.guard.Release(ctx, activity.Platform, activity.SourceKey); err != nil {
		logger.WarnContext(ctx, "Failed to release delivery", "error", err)
	}
}

func (s *Ingestion) markFailed(ctx context.Context, activity *models.Activity, logger *slog.Logger) {
	s.release(ctx, activity, logger)

	err := s.activities.SetDispatchStatus(ctx, activity.ID, models.DispatchStatusFailed)
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.ErrorContext(ctx, "Failed to record dispatch failure", "error", err)

		return
	}

	activity.DispatchStatus = models.DispatchStatusFailed
}
