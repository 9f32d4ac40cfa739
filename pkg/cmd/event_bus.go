package cmd

import (
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/dukex/inbox/pkg/channels/gochannel"
	"github.com/dukex/inbox/pkg/channels/kafka"
	"github.com/dukex/inbox/pkg/eventbus"
)

// Event bus providers accepted by --event-bus.
const (
	EventBusNone      = "none"
	EventBusGoChannel = "gochannel"
	EventBusKafka     = "kafka"
)

// NewEventBus returns nil for the "none" provider.
func NewEventBus(provider string, serviceName string, logger *slog.Logger) (eventbus.EventBus, error) {
	wmLogger := watermill.NewSlogLogger(logger)

	switch provider {
	case EventBusNone, "":
		return nil, nil
	case EventBusGoChannel:
		pub, sub, err := gochannel.CreateChannel(wmLogger)
		if err != nil {
			return nil, fmt.Errorf("failed to create in-memory pub/sub: %w", err)
		}

		return eventbus.NewWatermillEventBus(pub, sub, logger), nil
	case EventBusKafka:
		pub, sub, err := kafka.CreateChannel(wmLogger, serviceName)
		if err != nil {
			return nil, fmt.Errorf("failed to create Kafka pub/sub: %w", err)
		}

		return eventbus.NewWatermillEventBus(pub, sub, logger), nil
	default:
		return nil, fmt.Errorf("unsupported event bus provider: %q", provider)
	}
}
