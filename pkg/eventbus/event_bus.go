// Package eventbus carries inbox events between the API and the dispatcher.
//
// The API publishes activity.received for every stored activity and
// trigger.created/updated/deleted on trigger changes. The dispatcher worker
// consumes activity.received to run matching triggers; both processes use
// the trigger events to drop their cached trigger lists.
package eventbus

import (
	"context"

	"github.com/dukex/inbox/pkg/events"
)

// Event is anything carried on the bus; its type selects the handler.
type Event interface {
	GetType() events.EventType
}

// EventPublisher sends an event. The key, usually the activity or trigger
// id, travels in the message metadata.
type EventPublisher interface {
	Publish(ctx context.Context, key string, event Event) error
}

// EventSubscriber routes received events to the handler registered for
// their type. Handle must be called before Subscribe.
type EventSubscriber interface {
	Handle(eventType events.EventType, handler EventHandler) error
	Subscribe(ctx context.Context) error
}

// EventHandler receives the decoded event, e.g. *events.ActivityReceived.
// A returned error nacks the message for redelivery.
type EventHandler func(ctx context.Context, event any) error

type EventBus interface {
	EventPublisher
	EventSubscriber
	Close() error
	// GenerateID returns a fresh event id.
	GenerateID() string
}
