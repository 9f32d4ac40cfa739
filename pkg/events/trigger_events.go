package events

import "github.com/dukex/inbox/pkg/models"

// TriggerChanged is published whenever a trigger is created, updated,
// toggled or deleted. Dispatchers use it to drop cached trigger lists.
type TriggerChanged struct {
	BaseEvent

	TriggerID string          `json:"trigger_id"`
	Platform  models.Platform `json:"platform"`
	EventType string          `json:"event_type"`
	Enabled   bool            `json:"enabled"`
}

func NewTriggerChanged(eventType EventType, trigger *models.WorkflowTrigger) *TriggerChanged {
	return &TriggerChanged{
		BaseEvent: NewBaseEvent(eventType),
		TriggerID: trigger.ID,
		Platform:  trigger.Platform,
		EventType: trigger.EventType,
		Enabled:   trigger.Enabled,
	}
}

func (t TriggerChanged) GetType() EventType {
	return t.Type
}

func (t TriggerChanged) Validate() error {
	if t.TriggerID == "" {
		return ErrMissingTriggerID
	}

	return nil
}
