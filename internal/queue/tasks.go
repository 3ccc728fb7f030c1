package queue

import "github.com/nikhilbhutani/docqa/internal/webhook"

const (
	TypeWebhookDeliver = "webhook:deliver"

	QueueDefault = "default"
)

// WebhookDeliverPayload carries a fully built, unsigned delivery. The worker
// signs it with its own secret at send time.
type WebhookDeliverPayload struct {
	Delivery webhook.Delivery `json:"delivery"`
}
