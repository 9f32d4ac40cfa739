package normalizer

import (
	"strings"
	"unicode"

	"github.com/dukex/inbox/pkg/models"
)

var flockEvents = map[string]string{
	"chat.receiveMessage": "message_posted",
}

// Flock normalizes event callbacks. Flock names events hierarchically
// (chat.receiveMessage); they are flattened to snake case so triggers can
// match them exactly.
type Flock struct{}

func (Flock) Platform() models.Platform {
	return models.PlatformFlock
}

func (Flock) Extract(data models.Data) Fields {
	eventType := flockEventType(first(data, "name"))
	if eventType == "" {
		if _, ok := data.Map("message"); ok {
			eventType = "message_posted"
		}
	}

	return Fields{
		EventType: eventType,
		UserID:    first(data, "message.from", "userId"),
		ChannelID: first(data, "message.to", "chat"),
		NativeID:  first(data, "message.uid", "message.id"),
		Timestamp: firstTime(data, "message.timestamp"),
	}
}

func flockEventType(name string) string {
	if name == "" {
		return ""
	}

	if mapped, ok := flockEvents[name]; ok {
		return mapped
	}

	return snakeCase(name)
}

// snakeCase turns "chat.memberJoined" into "chat_member_joined".
func snakeCase(name string) string {
	var b strings.Builder

	prevLower := false

	for _, r := range name {
		switch {
		case r == '.' || r == '-' || r == ' ':
			b.WriteByte('_')

			prevLower = false
		case unicode.IsUpper(r):
			if prevLower {
				b.WriteByte('_')
			}

			b.WriteRune(unicode.ToLower(r))

			prevLower = false
		default:
			b.WriteRune(r)

			prevLower = unicode.IsLower(r) || unicode.IsDigit(r)
		}
	}

	return b.String()
}
