// Package normalizer converts raw webhook payloads from the supported
// platforms into canonical activities.
package normalizer

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"mime"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/dukex/inbox/pkg/models"
)

// ReceiptKey is the data key holding delivery metadata.
const ReceiptKey = "_receipt"

// EventUnknown is used when a payload carries no recognizable event hint.
const EventUnknown = "unknown"

// Receipt describes how a payload was delivered.
type Receipt struct {
	ReceivedAt time.Time
	Headers    map[string]string
	RemoteAddr string
}

func (r Receipt) empty() bool {
	return r.ReceivedAt.IsZero() && len(r.Headers) == 0 && r.RemoteAddr == ""
}

func (r Receipt) data() map[string]any {
	headers := make(map[string]any, len(r.Headers))
	for name, value := range r.Headers {
		headers[name] = value
	}

	return map[string]any{
		"received_at": r.ReceivedAt.UTC().Format(time.RFC3339Nano),
		"headers":     headers,
		"remote_addr": r.RemoteAddr,
	}
}

// Fields is the platform-specific part of an activity.
type Fields struct {
	EventType string
	UserID    string
	ChannelID string
	NativeID  string
	Timestamp time.Time
}

// Normalizer extracts the canonical fields of one platform's payloads.
type Normalizer interface {
	Platform() models.Platform
	Extract(payload models.Data) Fields
}

// Registry dispatches payloads to the normalizer of their platform.
type Registry struct {
	logger      *slog.Logger
	normalizers map[models.Platform]Normalizer
	now         func() time.Time
}

// NewRegistry creates a registry with the Mattermost, Trello and Flock
// normalizers registered.
func NewRegistry(logger *slog.Logger) *Registry {
	r := &Registry{
		logger:      logger.With("module", "normalizer"),
		normalizers: make(map[models.Platform]Normalizer),
		now:         time.Now,
	}

	r.Register(Mattermost{})
	r.Register(Trello{})
	r.Register(Flock{})

	return r
}

// Register adds or replaces the normalizer for its platform.
func (r *Registry) Register(n Normalizer) {
	r.normalizers[n.Platform()] = n
}

// Normalize converts payload into an activity. The activity has no ID yet;
// the store assigns one on insert.
func (r *Registry) Normalize(platform models.Platform, payload map[string]any, receipt Receipt) (*models.Activity, error) {
	n, ok := r.normalizers[platform]
	if !ok {
		return nil, newError(platform, "unsupported platform", models.ErrUnknownPlatform)
	}

	if len(payload) == 0 {
		return nil, newError(platform, "empty payload", nil)
	}

	data := make(models.Data, len(payload)+1)
	maps.Copy(data, payload)
	delete(data, ReceiptKey)

	f := n.Extract(data)

	sourceKey, err := sourceKey(platform, f.NativeID, data)
	if err != nil {
		return nil, newError(platform, "payload is not serializable", err)
	}

	if receipt.ReceivedAt.IsZero() {
		receipt.ReceivedAt = r.now()
	}

	if !receipt.empty() {
		data[ReceiptKey] = receipt.data()
	}

	timestamp := f.Timestamp
	if timestamp.IsZero() {
		timestamp = receipt.ReceivedAt
	}

	if f.EventType == "" {
		f.EventType = EventUnknown
	}

	activity := &models.Activity{
		Platform:       platform,
		EventType:      f.EventType,
		UserID:         f.UserID,
		ChannelID:      f.ChannelID,
		Data:           data,
		Timestamp:      timestamp.UTC(),
		SourceKey:      sourceKey,
		DispatchStatus: models.DispatchStatusPending,
	}

	r.logger.Debug("Normalized payload",
		"platform", string(platform),
		"event_type", activity.EventType,
		"source_key", activity.SourceKey)

	return activity, nil
}

// NormalizeBody decodes a raw request body and normalizes it. JSON bodies
// and form-encoded bodies (Mattermost outgoing webhooks) are accepted.
func (r *Registry) NormalizeBody(platform models.Platform, contentType string, body []byte, receipt Receipt) (*models.Activity, error) {
	payload, err := DecodePayload(platform, contentType, body)
	if err != nil {
		return nil, err
	}

	return r.Normalize(platform, payload, receipt)
}

// DecodePayload decodes a webhook body into a payload map.
func DecodePayload(platform models.Platform, contentType string, body []byte) (map[string]any, error) {
	if len(strings.TrimSpace(string(body))) == 0 {
		return nil, newError(platform, "empty body", nil)
	}

	mediaType, _, _ := mime.ParseMediaType(contentType)
	if mediaType == "application/x-www-form-urlencoded" {
		values, err := url.ParseQuery(string(body))
		if err != nil {
			return nil, newError(platform, "malformed form body", err)
		}

		payload := make(map[string]any, len(values))
		for key, value := range values {
			if len(value) > 0 {
				payload[key] = value[0]
			}
		}

		return payload, nil
	}

	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, newError(platform, "malformed JSON body", err)
	}

	return payload, nil
}

// sourceKey derives the natural key used for de-duplication. Payloads
// without a native id are keyed by a hash of their canonical JSON encoding.
func sourceKey(platform models.Platform, nativeID string, data models.Data) (string, error) {
	if nativeID != "" {
		return fmt.Sprintf("%s:%s", platform, nativeID), nil
	}

	// encoding/json sorts map keys, which makes the encoding canonical.
	encoded, err := json.Marshal(data)
	if err != nil {
		return "", err
	}

	sum := sha256.Sum256(encoded)

	return fmt.Sprintf("%s:sha256:%s", platform, hex.EncodeToString(sum[:])), nil
}

// parseTime accepts epoch milliseconds (number or numeric string) and
// RFC3339 strings.
func parseTime(value any) (time.Time, bool) {
	switch v := value.(type) {
	case float64:
		if v <= 0 {
			return time.Time{}, false
		}

		return time.UnixMilli(int64(v)).UTC(), true
	case int64:
		if v <= 0 {
			return time.Time{}, false
		}

		return time.UnixMilli(v).UTC(), true
	case string:
		if ms, err := strconv.ParseInt(v, 10, 64); err == nil && ms > 0 {
			return time.UnixMilli(ms).UTC(), true
		}

		if t, err := time.Parse(time.RFC3339, v); err == nil {
			return t.UTC(), true
		}
	}

	return time.Time{}, false
}

func firstTime(data models.Data, paths ...string) time.Time {
	for _, path := range paths {
		value, ok := data.Lookup(path)
		if !ok {
			continue
		}

		if t, ok := parseTime(value); ok {
			return t
		}
	}

	return time.Time{}
}

func first(data models.Data, paths ...string) string {
	value, _ := data.FirstString(paths...)

	return value
}

// nonEmptyList reports whether value is a non-empty list or a non-empty
// comma-separated string.
func nonEmptyList(value any, ok bool) bool {
	if !ok {
		return false
	}

	switch v := value.(type) {
	case []any:
		return len(v) > 0
	case string:
		return strings.Trim(v, ", ") != ""
	default:
		return false
	}
}
