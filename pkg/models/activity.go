package models

import "time"

// DispatchStatus tracks whether triggers have been evaluated for an activity.
type DispatchStatus string

const (
	DispatchStatusPending    DispatchStatus = "pending"
	DispatchStatusDispatched DispatchStatus = "dispatched"
	DispatchStatusFailed     DispatchStatus = "failed"
)

// Activity is the canonical record of one event received from a platform.
// It is immutable once stored, except for its dispatch bookkeeping.
type Activity struct {
	ID        string    `json:"id"`
	Platform  Platform  `json:"platform"             validate:"required"`
	EventType string    `json:"event_type"           validate:"required"`
	UserID    string    `json:"user_id,omitempty"`
	ChannelID string    `json:"channel_id,omitempty"`
	Data      Data      `json:"data"`
	Timestamp time.Time `json:"timestamp"`

	// SourceKey is the natural key used to de-duplicate webhook redeliveries.
	SourceKey      string         `json:"source_key"           validate:"required"`
	DispatchStatus DispatchStatus `json:"dispatch_status"`
	CreatedAt      time.Time      `json:"created_at"`
}

// ActivityStats aggregates activities over a time window.
type ActivityStats struct {
	Total       int64            `json:"total"`
	ByPlatform  map[string]int64 `json:"by_platform"`
	ByEventType map[string]int64 `json:"by_event_type"`
}
