// Package web provides the HTTP handlers of the inbox API.
package web

import (
	"strconv"

	"github.com/dukex/inbox/pkg/models"
)

// WebhookResponse is returned for every accepted delivery.
type WebhookResponse struct {
	Status       string                      `json:"status"`
	ActivityID   string                      `json:"activity_id"`
	Duplicate    bool                        `json:"duplicate"`
	Redispatched bool                        `json:"redispatched,omitempty"`
	Queued       bool                        `json:"queued,omitempty"`
	Executions   []*models.WorkflowExecution `json:"executions"`
}

// ToggleRequest is the optional body of a toggle. Without it the flag flips.
type ToggleRequest struct {
	Enabled *bool `json:"enabled"`
}

func queryInt(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}

	return strconv.Atoi(raw)
}
