package web

import (
	"crypto/subtle"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"

	"github.com/dukex/inbox/pkg/models"
	"github.com/dukex/inbox/pkg/normalizer"
)

const (
	// TokenHeader carries the shared webhook token.
	TokenHeader = "X-Inbox-Token"
	tokenQuery  = "token"
	// Mattermost outgoing webhooks send their token in the body.
	mattermostTokenField = "token"
)

var privateHeaders = map[string]bool{
	"authorization": true,
	"cookie":        true,
	"x-inbox-token": true,
}

// ReceiveWebhook ingests one platform delivery. Storage or dispatch failures
// answer 500 so the platform redelivers.
func (h *APIHandlers) ReceiveWebhook(c fiber.Ctx) error {
	platform, err := models.ParsePlatform(c.Params("platform"))
	if err != nil {
		return notFound(c, err.Error())
	}

	payload, err := normalizer.DecodePayload(platform, c.Get(fiber.HeaderContentType), c.Body())
	if err != nil {
		return handleServiceError(c, err)
	}

	if !h.authorized(c, platform, payload) {
		h.logger.WarnContext(c.Context(), "Rejected webhook with invalid token", "platform", platform, "remote_addr", c.IP())

		return unauthorized(c)
	}

	if platform == models.PlatformMattermost {
		delete(payload, mattermostTokenField)
	}

	result, err := h.ingestion.Ingest(c.Context(), platform, payload, h.receipt(c))
	if err != nil {
		h.logger.ErrorContext(c.Context(), "Failed to ingest webhook", "platform", platform, "error", err)

		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(WebhookResponse{
		Status:       "accepted",
		ActivityID:   result.Activity.ID,
		Duplicate:    result.Duplicate,
		Redispatched: result.Redispatched,
		Queued:       result.Queued,
		Executions:   result.Executions,
	})
}

// ProbeWebhook answers the HEAD request Trello sends when a webhook is
// registered.
func (h *APIHandlers) ProbeWebhook(c fiber.Ctx) error {
	if _, err := models.ParsePlatform(c.Params("platform")); err != nil {
		return c.SendStatus(fiber.StatusNotFound)
	}

	return c.SendStatus(fiber.StatusOK)
}

func (h *APIHandlers) authorized(c fiber.Ctx, platform models.Platform, payload map[string]any) bool {
	expected := h.tokens[platform]
	if expected == "" {
		return true
	}

	candidates := []string{c.Query(tokenQuery), c.Get(TokenHeader)}

	if platform == models.PlatformMattermost {
		if token, ok := payload[mattermostTokenField].(string); ok {
			candidates = append(candidates, token)
		}
	}

	for _, candidate := range candidates {
		if candidate != "" && subtle.ConstantTimeCompare([]byte(candidate), []byte(expected)) == 1 {
			return true
		}
	}

	return false
}

func (h *APIHandlers) receipt(c fiber.Ctx) normalizer.Receipt {
	headers := make(map[string]string)

	for name, values := range c.GetReqHeaders() {
		if privateHeaders[strings.ToLower(name)] || len(values) == 0 {
			continue
		}

		headers[name] = strings.Join(values, ", ")
	}

	return normalizer.Receipt{
		ReceivedAt: time.Now().UTC(),
		Headers:    headers,
		RemoteAddr: c.IP(),
	}
}
