// Package directory remembers channel names seen in webhook payloads so that
// activities from platforms that only send channel IDs can still be matched
// by channel name.
package directory

import (
	"fmt"
	"log/slog"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/dukex/inbox/pkg/models"
)

const (
	DefaultSize = 4096
	// NameKey is the activity data key filled with the resolved name.
	NameKey = "channel_name"
)

var nameFields = []string{
	NameKey,
	"channel.name",
	"channel.display_name",
	"channel_display_name",
	"action.data.board.name",
	"chat.name",
}

type key struct {
	platform  models.Platform
	channelID string
}

// Directory is a bounded (platform, channel ID) -> name cache. A nil
// Directory is valid and does nothing.
type Directory struct {
	names  *lru.Cache[key, string]
	logger *slog.Logger
}

func New(size int, logger *slog.Logger) (*Directory, error) {
	if size <= 0 {
		size = DefaultSize
	}

	names, err := lru.New[key, string](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create channel directory: %w", err)
	}

	return &Directory{
		names:  names,
		logger: logger.With("module", "directory"),
	}, nil
}

// Lookup returns the last name learned for a channel.
func (d *Directory) Lookup(platform models.Platform, channelID string) (string, bool) {
	if d == nil || channelID == "" {
		return "", false
	}

	return d.names.Get(key{platform: platform, channelID: channelID})
}

// Observe learns the channel name carried by activity, or fills it in from
// earlier activities when the payload has none. It reports whether the
// activity data was changed.
func (d *Directory) Observe(activity *models.Activity) bool {
	if d == nil || activity.ChannelID == "" {
		return false
	}

	k := key{platform: activity.Platform, channelID: activity.ChannelID}

	if name, ok := payloadName(activity.Data); ok {
		if previous, found := d.names.Get(k); !found || previous != name {
			d.logger.Debug("Learned channel name", "platform", activity.Platform, "channel_id", activity.ChannelID, "name", name)
			d.names.Add(k, name)
		}

		return false
	}

	name, ok := d.names.Get(k)
	if !ok {
		return false
	}

	if activity.Data == nil {
		activity.Data = models.Data{}
	}

	activity.Data[NameKey] = name

	return true
}

func (d *Directory) Len() int {
	if d == nil {
		return 0
	}

	return d.names.Len()
}

func payloadName(data models.Data) (string, bool) {
	name, ok := data.FirstString(nameFields...)
	if !ok || strings.TrimSpace(name) == "" {
		return "", false
	}

	return strings.TrimSpace(name), true
}
