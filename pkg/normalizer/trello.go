package normalizer

import "github.com/dukex/inbox/pkg/models"

// Trello normalizes board webhook payloads. Event types keep Trello's
// action names (createCard, commentCard, updateCard...).
type Trello struct{}

func (Trello) Platform() models.Platform {
	return models.PlatformTrello
}

func (Trello) Extract(data models.Data) Fields {
	eventType := first(data, "action.type")
	if eventType == "" {
		if _, ok := data.Map("card"); ok {
			eventType = "card_updated"
		}
	}

	return Fields{
		EventType: eventType,
		UserID:    first(data, "action.idMemberCreator", "action.memberCreator.id"),
		ChannelID: first(data, "action.data.board.id", "model.id"),
		NativeID:  first(data, "action.id"),
		Timestamp: firstTime(data, "action.date"),
	}
}
