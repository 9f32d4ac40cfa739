package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/xeipuuv/gojsonschema"

	"github.com/dukex/inbox/pkg/actions"
	"github.com/dukex/inbox/pkg/conditions"
	"github.com/dukex/inbox/pkg/eventbus"
	"github.com/dukex/inbox/pkg/events"
	"github.com/dukex/inbox/pkg/models"
	"github.com/dukex/inbox/pkg/persistence"
)

// agentConfigSchema describes the accepted ai_agent_config documents.
const agentConfigSchema = `{
  "type": "object",
  "additionalProperties": false,
  "properties": {
    "agent_type": {"type": "string", "maxLength": 100},
    "prompt_template": {"type": "string", "maxLength": 20000},
    "timeout_seconds": {"type": "integer", "minimum": 0, "maximum": 3600},
    "settings": {"type": "object"},
    "actions": {
      "type": "array",
      "maxItems": 20,
      "items": {
        "type": "object",
        "additionalProperties": false,
        "required": ["type"],
        "properties": {
          "type": {"type": "string", "minLength": 1},
          "config": {"type": "object"}
        }
      }
    }
  }
}`

// TriggerRequest is the body of a trigger creation.
type TriggerRequest struct {
	Name        string          `json:"name"            validate:"required,min=3,max=200"`
	Description string          `json:"description"     validate:"max=2000"`
	Platform    models.Platform `json:"platform"        validate:"required,oneof=mattermost trello flock"`
	EventType   string          `json:"event_type"      validate:"required,max=100"`
	Conditions  json.RawMessage `json:"conditions"`
	AgentConfig json.RawMessage `json:"ai_agent_config"`
	Enabled     *bool           `json:"enabled"`
}

// TriggerPatch is a partial trigger update. Nil fields are left unchanged.
type TriggerPatch struct {
	Name        *string          `json:"name"            validate:"omitempty,min=3,max=200"`
	Description *string          `json:"description"     validate:"omitempty,max=2000"`
	Platform    *models.Platform `json:"platform"        validate:"omitempty,oneof=mattermost trello flock"`
	EventType   *string          `json:"event_type"      validate:"omitempty,min=1,max=100"`
	Conditions  json.RawMessage  `json:"conditions"`
	AgentConfig json.RawMessage  `json:"ai_agent_config"`
	Enabled     *bool            `json:"enabled"`
}

// TriggerTestResult is the outcome of a dry run.
type TriggerTestResult struct {
	Matched  bool                    `json:"matched"`
	Trigger  *models.WorkflowTrigger `json:"trigger"`
	Activity *models.Activity        `json:"activity"`
	Problems []string                `json:"problems,omitempty"`
}

type Triggers struct {
	repo      persistence.TriggerRepository
	actions   *actions.Registry
	evaluator *conditions.Evaluator
	publisher eventbus.EventPublisher
	validate  *validator.Validate
	schema    *gojsonschema.Schema
	logger    *slog.Logger
}

func NewTriggers(
	repo persistence.TriggerRepository,
	registry *actions.Registry,
	publisher eventbus.EventPublisher,
	logger *slog.Logger,
) (*Triggers, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(agentConfigSchema))
	if err != nil {
		return nil, fmt.Errorf("failed to compile agent config schema: %w", err)
	}

	return &Triggers{
		repo:      repo,
		actions:   registry,
		evaluator: conditions.NewEvaluator(logger),
		publisher: publisher,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
		schema:    schema,
		logger:    logger.With("module", "triggers"),
	}, nil
}

type TriggerQuery struct {
	Platform    string
	EventType   string
	EnabledOnly bool
}

func (s *Triggers) List(ctx context.Context, query TriggerQuery) ([]*models.WorkflowTrigger, error) {
	filter := persistence.TriggerFilter{EventType: query.EventType, EnabledOnly: query.EnabledOnly}

	if query.Platform != "" {
		platform, err := models.ParsePlatform(query.Platform)
		if err != nil {
			return nil, NewValidationError("ListTriggers", "invalid_platform", "", err)
		}

		filter.Platform = platform
	}

	triggers, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list triggers: %w", err)
	}

	return triggers, nil
}

func (s *Triggers) Get(ctx context.Context, id string) (*models.WorkflowTrigger, error) {
	return s.repo.ByID(ctx, id)
}

func (s *Triggers) Create(ctx context.Context, req TriggerRequest) (*models.WorkflowTrigger, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, NewValidationError("CreateTrigger", "invalid_request", "", fmt.Errorf("%w: %w", ErrInvalidRequest, err))
	}

	trigger := &models.WorkflowTrigger{
		Name:        strings.TrimSpace(req.Name),
		Description: req.Description,
		Platform:    req.Platform,
		EventType:   strings.TrimSpace(req.EventType),
		Enabled:     req.Enabled == nil || *req.Enabled,
	}

	if err := s.applyConditions(ctx, "CreateTrigger", trigger, req.Conditions); err != nil {
		return nil, err
	}

	if err := s.applyAgentConfig(ctx, "CreateTrigger", trigger, req.AgentConfig); err != nil {
		return nil, err
	}

	if err := s.repo.Create(ctx, trigger); err != nil {
		return nil, fmt.Errorf("failed to create trigger: %w", err)
	}

	s.logger.InfoContext(ctx, "Trigger created", "trigger_id", trigger.ID, "platform", trigger.Platform, "event_type", trigger.EventType)
	s.publish(ctx, events.TriggerCreatedEvent, trigger)

	return trigger, nil
}

func (s *Triggers) Update(ctx context.Context, id string, patch TriggerPatch) (*models.WorkflowTrigger, error) {
	if err := s.validate.Struct(patch); err != nil {
		return nil, NewValidationError("UpdateTrigger", "invalid_request", "", fmt.Errorf("%w: %w", ErrInvalidRequest, err))
	}

	trigger, err := s.repo.ByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if patch.Name != nil {
		trigger.Name = strings.TrimSpace(*patch.Name)
	}

	if patch.Description != nil {
		trigger.Description = *patch.Description
	}

	if patch.Platform != nil {
		trigger.Platform = *patch.Platform
	}

	if patch.EventType != nil {
		trigger.EventType = strings.TrimSpace(*patch.EventType)
	}

	if patch.Enabled != nil {
		trigger.Enabled = *patch.Enabled
	}

	if patch.Conditions != nil {
		if err := s.applyConditions(ctx, "UpdateTrigger", trigger, patch.Conditions); err != nil {
			return nil, err
		}
	}

	if patch.AgentConfig != nil {
		if err := s.applyAgentConfig(ctx, "UpdateTrigger", trigger, patch.AgentConfig); err != nil {
			return nil, err
		}
	}

	if err := s.repo.Update(ctx, trigger); err != nil {
		return nil, fmt.Errorf("failed to update trigger: %w", err)
	}

	s.logger.InfoContext(ctx, "Trigger updated", "trigger_id", trigger.ID)
	s.publish(ctx, events.TriggerUpdatedEvent, trigger)

	return trigger, nil
}

func (s *Triggers) Delete(ctx context.Context, id string) error {
	trigger, err := s.repo.ByID(ctx, id)
	if err != nil {
		return err
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "Trigger deleted", "trigger_id", id)
	s.publish(ctx, events.TriggerDeletedEvent, trigger)

	return nil
}

// Toggle sets the enabled flag, or flips it when enabled is nil.
func (s *Triggers) Toggle(ctx context.Context, id string, enabled *bool) (*models.WorkflowTrigger, error) {
	var next bool

	if enabled != nil {
		next = *enabled
	} else {
		current, err := s.repo.ByID(ctx, id)
		if err != nil {
			return nil, err
		}

		next = !current.Enabled
	}

	trigger, err := s.repo.SetEnabled(ctx, id, next)
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "Trigger toggled", "trigger_id", id, "enabled", trigger.Enabled)
	s.publish(ctx, events.TriggerUpdatedEvent, trigger)

	return trigger, nil
}

// Test evaluates a stored trigger against a sample activity without
// recording or running anything. Disabled triggers are evaluated too.
func (s *Triggers) Test(ctx context.Context, id string, activity *models.Activity) (*TriggerTestResult, error) {
	if activity == nil {
		return nil, NewValidationError("TestTrigger", "invalid_request", "activity is required", ErrInvalidRequest)
	}

	trigger, err := s.repo.ByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if activity.Platform == "" {
		activity.Platform = trigger.Platform
	}

	if activity.EventType == "" {
		activity.EventType = trigger.EventType
	}

	result := &TriggerTestResult{
		Trigger:  trigger,
		Activity: activity,
		Problems: conditions.Validate(trigger.Conditions),
	}

	if activity.Platform == trigger.Platform && activity.EventType == trigger.EventType {
		result.Matched = s.evaluator.With("trigger_id", trigger.ID).
			Matches(activity, conditions.Parse(trigger.Conditions))
	}

	return result, nil
}

func (s *Triggers) applyConditions(_ context.Context, op string, trigger *models.WorkflowTrigger, raw json.RawMessage) error {
	if len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		trigger.Conditions = json.RawMessage(`{}`)

		return nil
	}

	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return NewValidationError(op, "invalid_conditions", "conditions are not valid JSON", fmt.Errorf("%w: %w", ErrInvalidConditions, err))
	}

	if problems := conditions.Validate(decoded); len(problems) > 0 {
		return NewValidationError(op, "invalid_conditions", "conditions are malformed", ErrInvalidConditions, problems...)
	}

	trigger.Conditions = raw

	return nil
}

func (s *Triggers) applyAgentConfig(ctx context.Context, op string, trigger *models.WorkflowTrigger, raw json.RawMessage) error {
	if len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		trigger.AgentConfig = models.AgentConfig{}

		return nil
	}

	result, err := s.schema.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return NewValidationError(op, "invalid_agent_config", "ai_agent_config is not valid JSON", fmt.Errorf("%w: %w", ErrInvalidAgentConfig, err))
	}

	if !result.Valid() {
		problems := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			problems = append(problems, desc.String())
		}

		return NewValidationError(op, "invalid_agent_config", "ai_agent_config does not match the schema", ErrInvalidAgentConfig, problems...)
	}

	var config models.AgentConfig
	if err := json.Unmarshal(raw, &config); err != nil {
		return NewValidationError(op, "invalid_agent_config", "", fmt.Errorf("%w: %w", ErrInvalidAgentConfig, err))
	}

	if s.actions != nil {
		if err := s.actions.Validate(ctx, config); err != nil {
			return NewValidationError(op, "invalid_agent_config", "", fmt.Errorf("%w: %w", ErrInvalidAgentConfig, err))
		}
	}

	trigger.AgentConfig = config

	return nil
}

func (s *Triggers) publish(ctx context.Context, eventType events.EventType, trigger *models.WorkflowTrigger) {
	if s.publisher == nil {
		return
	}

	if err := s.publisher.Publish(ctx, trigger.ID, events.NewTriggerChanged(eventType, trigger)); err != nil {
		s.logger.WarnContext(ctx, "Failed to publish trigger event", "trigger_id", trigger.ID, "event_type", eventType, "error", err)
	}
}
