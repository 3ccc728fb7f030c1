package workers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/nikhilbhutani/docqa/internal/queue"
	"github.com/nikhilbhutani/docqa/internal/webhook"
)

type sender interface {
	Send(ctx context.Context, d webhook.Delivery) error
}

// WebhookWorker handles webhook:deliver tasks. Transient failures are
// returned so asynq retries them; rejected deliveries skip retry.
type WebhookWorker struct {
	sender sender
}

func NewWebhookWorker(s *webhook.Sender) *WebhookWorker {
	return &WebhookWorker{sender: s}
}

func (w *WebhookWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload queue.WebhookDeliverPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w: %w", err, asynq.SkipRetry)
	}
	del := payload.Delivery

	if err := w.sender.Send(ctx, del); err != nil {
		if errors.Is(err, webhook.ErrPermanent) {
			slog.Error("webhook rejected", "delivery_id", del.ID, "event", del.Event, "error", err)
			return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
		}
		slog.Warn("webhook delivery failed, will retry", "delivery_id", del.ID, "event", del.Event, "error", err)
		return err
	}

	slog.Info("webhook delivered", "delivery_id", del.ID, "event", del.Event)
	return nil
}
