// Package actions runs the AI-agent actions configured on a trigger.
//
// Each action type is provided by a Factory registered in a Registry. The
// Invoker renders the trigger's prompt template, then creates and executes
// every configured action in order.
package actions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/dukex/inbox/pkg/conditions"
	"github.com/dukex/inbox/pkg/models"
	"github.com/dukex/inbox/pkg/template"
)

// DefaultActionType runs when a trigger configures neither actions nor an
// agent type.
const DefaultActionType = "log"

var (
	ErrUnknownAction = errors.New("unknown action type")
	ErrInvalidConfig = errors.New("invalid action configuration")
)

// Input is what an action sees of the match that fired it.
type Input struct {
	Trigger  *models.WorkflowTrigger
	Activity *models.Activity
	// Text is the human-readable content extracted from the activity.
	Text string
	// Prompt is the trigger's rendered prompt template.
	Prompt string
}

// TemplateData exposes the input to text templates.
func (in Input) TemplateData() map[string]any {
	data := map[string]any{
		"text":   in.Text,
		"prompt": in.Prompt,
	}

	if in.Trigger != nil {
		data["trigger"] = map[string]any{
			"id":          in.Trigger.ID,
			"name":        in.Trigger.Name,
			"description": in.Trigger.Description,
			"agent_type":  in.Trigger.AgentConfig.AgentType,
			"settings":    in.Trigger.AgentConfig.Settings,
		}
	}

	if in.Activity != nil {
		data["activity"] = map[string]any{
			"id":         in.Activity.ID,
			"platform":   string(in.Activity.Platform),
			"event_type": in.Activity.EventType,
			"user_id":    in.Activity.UserID,
			"channel_id": in.Activity.ChannelID,
			"timestamp":  in.Activity.Timestamp,
		}
		data["data"] = map[string]any(in.Activity.Data)
	}

	return data
}

// Action is one configured step.
type Action interface {
	Execute(ctx context.Context, input Input, logger *slog.Logger) error
}

// Factory builds actions of one type from their configuration.
type Factory interface {
	ID() string
	Description() string
	Schema() map[string]any
	Create(ctx context.Context, config map[string]any) (Action, error)
}

// Registry maps action types to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

func (r *Registry) Register(factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.factories[factory.ID()] = factory
}

func (r *Registry) Factory(actionType string) (Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	factory, ok := r.factories[actionType]

	return factory, ok
}

func (r *Registry) Create(ctx context.Context, actionType string, config map[string]any) (Action, error) {
	factory, ok := r.Factory(actionType)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, actionType)
	}

	if config == nil {
		config = map[string]any{}
	}

	return factory.Create(ctx, config)
}

// Types lists the registered action types in name order.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.factories))
	for id := range r.factories {
		types = append(types, id)
	}

	sort.Strings(types)

	return types
}

// Steps resolves the ordered list of actions a configuration runs.
func Steps(config models.AgentConfig) []models.AgentAction {
	if len(config.Actions) > 0 {
		return config.Actions
	}

	if config.AgentType != "" {
		return []models.AgentAction{{Type: config.AgentType, Config: config.Settings}}
	}

	return []models.AgentAction{{Type: DefaultActionType}}
}

// Invoker is the boundary between the dispatcher and the actions.
type Invoker interface {
	Invoke(ctx context.Context, trigger *models.WorkflowTrigger, activity *models.Activity) error
}

// RegistryInvoker resolves and runs actions through a Registry.
type RegistryInvoker struct {
	registry *Registry
	logger   *slog.Logger
}

func NewInvoker(registry *Registry, logger *slog.Logger) *RegistryInvoker {
	return &RegistryInvoker{
		registry: registry,
		logger:   logger.With("module", "action_invoker"),
	}
}

// Invoke runs the trigger's actions in order and stops at the first error.
func (i *RegistryInvoker) Invoke(ctx context.Context, trigger *models.WorkflowTrigger, activity *models.Activity) error {
	input := Input{
		Trigger:  trigger,
		Activity: activity,
		Text:     conditions.ExtractText(activity),
	}

	if prompt := trigger.AgentConfig.PromptTemplate; prompt != "" {
		rendered, err := template.RenderString(prompt, input.TemplateData())
		if err != nil {
			return fmt.Errorf("failed to render prompt: %w", err)
		}

		input.Prompt = rendered
	}

	logger := i.logger.With("trigger_id", trigger.ID, "activity_id", activity.ID)

	for index, step := range Steps(trigger.AgentConfig) {
		action, err := i.registry.Create(ctx, step.Type, step.Config)
		if err != nil {
			return fmt.Errorf("action %d (%s): %w", index, step.Type, err)
		}

		if err := action.Execute(ctx, input, logger.With("action_type", step.Type, "action_index", index)); err != nil {
			return fmt.Errorf("action %d (%s): %w", index, step.Type, err)
		}
	}

	return nil
}

// Validate checks that every configured action can be built.
func (r *Registry) Validate(ctx context.Context, config models.AgentConfig) error {
	for index, step := range Steps(config) {
		if _, err := r.Create(ctx, step.Type, step.Config); err != nil {
			return fmt.Errorf("action %d (%s): %w", index, step.Type, err)
		}
	}

	if config.PromptTemplate != "" {
		if _, err := template.Parse(config.PromptTemplate); err != nil {
			return fmt.Errorf("%w: prompt_template: %w", ErrInvalidConfig, err)
		}
	}

	return nil
}
