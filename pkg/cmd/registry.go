package cmd

import (
	"net/http"
	"time"

	"github.com/dukex/inbox/pkg/actions"
	"github.com/dukex/inbox/pkg/actions/card"
	"github.com/dukex/inbox/pkg/actions/httprequest"
	logaction "github.com/dukex/inbox/pkg/actions/log"
	"github.com/dukex/inbox/pkg/actions/message"
)

// NewActionRegistry registers the built-in agent actions. HTTP based
// actions share one client whose timeout caps a single attempt.
func NewActionRegistry(requestTimeout time.Duration) *actions.Registry {
	client := &http.Client{Timeout: requestTimeout}

	registry := actions.NewRegistry()
	registry.Register(logaction.NewActionFactory())
	registry.Register(httprequest.NewWebhookFactory(client))
	registry.Register(message.NewSendMessageFactory(client))
	registry.Register(message.NewNotifyUserFactory(client))
	registry.Register(card.NewFactory(client))

	return registry
}
