package conditions

import (
	"strings"

	"github.com/dukex/inbox/pkg/models"
)

var primaryTextFields = []string{"message", "text", "content"}

var platformTextFields = map[models.Platform][]string{
	models.PlatformMattermost: {"post.message", "props.attachments.0.text"},
	models.PlatformTrello:     {"action.data.text", "action.data.card.desc", "action.data.card.name"},
	models.PlatformFlock:      {"message.text", "message.flockml"},
}

var userNameFields = []string{
	"user_name",
	"username",
	"post.user_name",
	"action.memberCreator.username",
	"action.memberCreator.fullName",
	"message.fromName",
	"userName",
}

// ExtractText returns the best-effort message text of an activity: an
// explicit message/text/content field, else a platform-specific field, else a
// synthesized system message for membership and rename events, else "".
func ExtractText(activity *models.Activity) string {
	if activity == nil {
		return ""
	}

	if text, ok := activity.Data.FirstString(primaryTextFields...); ok {
		return text
	}

	if text, ok := activity.Data.FirstString(platformTextFields[activity.Platform]...); ok {
		return text
	}

	return systemMessage(activity)
}

func systemMessage(activity *models.Activity) string {
	kind, _ := activity.Data.FirstString("post.type", "type")
	event := strings.ToLower(activity.EventType + " " + kind)

	switch {
	case containsAny(event, "joined", "join_channel", "join_team", "user_added", "member_added", "added_to"):
		return actorName(activity) + " joined the channel"
	case containsAny(event, "left", "leave_channel", "leave_team", "user_removed", "member_removed", "removed_from"):
		return actorName(activity) + " left the channel"
	case containsAny(event, "renamed", "rename", "display_name_change"):
		if name, ok := activity.Data.FirstString("new_name", "channel_name", "props.new_displayname"); ok {
			return actorName(activity) + " renamed the channel to " + name
		}

		return actorName(activity) + " renamed the channel"
	default:
		return ""
	}
}

func actorName(activity *models.Activity) string {
	if name, ok := activity.Data.FirstString(userNameFields...); ok {
		return name
	}

	if activity.UserID != "" {
		return activity.UserID
	}

	return "someone"
}

func containsAny(s string, needles ...string) bool {
	for _, needle := range needles {
		if strings.Contains(s, needle) {
			return true
		}
	}

	return false
}
