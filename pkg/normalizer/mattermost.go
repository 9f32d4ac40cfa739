package normalizer

import (
	"strings"

	"github.com/dukex/inbox/pkg/models"
)

// mattermostSystemEvents maps Mattermost system post types and websocket
// event names to inbox event types.
var mattermostSystemEvents = map[string]string{
	"posted":                     "message_posted",
	"post_edited":                "message_edited",
	"post_deleted":               "message_deleted",
	"system_join_channel":        "user_joined",
	"system_add_to_channel":      "user_joined",
	"system_join_team":           "user_joined",
	"user_added":                 "user_joined",
	"system_leave_channel":       "user_left",
	"system_remove_from_channel": "user_left",
	"system_leave_team":          "user_left",
	"user_removed":               "user_left",
	"system_displayname_change":  "channel_renamed",
	"channel_updated":            "channel_renamed",
}

// Mattermost normalizes outgoing webhook and event payloads.
type Mattermost struct{}

func (Mattermost) Platform() models.Platform {
	return models.PlatformMattermost
}

func (Mattermost) Extract(data models.Data) Fields {
	return Fields{
		EventType: mattermostEventType(data),
		UserID:    first(data, "post.user_id", "user_id"),
		ChannelID: first(data, "post.channel_id", "channel_id"),
		NativeID:  first(data, "post.id", "post_id"),
		Timestamp: firstTime(data, "timestamp", "post.create_at"),
	}
}

func mattermostEventType(data models.Data) string {
	if explicit := first(data, "event", "type"); explicit != "" {
		return mattermostEvent(explicit)
	}

	if post, ok := data.Map("post"); ok {
		if systemType := first(post, "type"); systemType != "" {
			if mapped, ok := mattermostSystemEvents[strings.ToLower(systemType)]; ok {
				return mapped
			}
		}

		if nonEmptyList(post.Lookup("file_ids")) {
			return "file_uploaded"
		}

		return "message_posted"
	}

	if nonEmptyList(data.Lookup("file_ids")) {
		return "file_uploaded"
	}

	if _, ok := data.String("text"); ok {
		return "message_posted"
	}

	return EventUnknown
}

func mattermostEvent(name string) string {
	if mapped, ok := mattermostSystemEvents[strings.ToLower(name)]; ok {
		return mapped
	}

	return name
}
