package models

import (
	"encoding/json"
	"time"
)

// WorkflowTrigger is a user-authored rule: when an activity of the given
// platform and event type satisfies Conditions, the agent described by
// AgentConfig is invoked.
type WorkflowTrigger struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"                  validate:"required,min=3"`
	Description string          `json:"description,omitempty"`
	Platform    Platform        `json:"platform"              validate:"required"`
	EventType   string          `json:"event_type"            validate:"required"`
	Conditions  json.RawMessage `json:"conditions"`
	AgentConfig AgentConfig     `json:"ai_agent_config"`
	Enabled     bool            `json:"enabled"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// AgentConfig describes the AI-agent action fired by a trigger. The core
// treats it as a pass-through value handed to the action invoker.
type AgentConfig struct {
	AgentType      string         `json:"agent_type,omitempty"`
	PromptTemplate string         `json:"prompt_template,omitempty"`
	Actions        []AgentAction  `json:"actions,omitempty"`
	TimeoutSeconds int            `json:"timeout_seconds,omitempty"`
	Settings       map[string]any `json:"settings,omitempty"`
}

// AgentAction is one step performed when a trigger fires.
type AgentAction struct {
	Type   string         `json:"type"`
	Config map[string]any `json:"config,omitempty"`
}

// MaxAgentTimeout caps timeout_seconds.
const MaxAgentTimeout = time.Hour

// Timeout returns the configured timeout, capped at MaxAgentTimeout, or
// fallback when none is set.
func (c AgentConfig) Timeout(fallback time.Duration) time.Duration {
	if c.TimeoutSeconds <= 0 {
		return fallback
	}

	return min(time.Duration(c.TimeoutSeconds)*time.Second, MaxAgentTimeout)
}
