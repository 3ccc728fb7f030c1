package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/nikhilbhutani/docqa/internal/config"
	"github.com/nikhilbhutani/docqa/internal/webhook"
)

func RedisOpt(cfg config.RedisConfig) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
}

type Client struct {
	client     *asynq.Client
	maxRetries int
	timeout    time.Duration
}

func NewClient(cfg config.RedisConfig, hooks config.WebhookConfig) *Client {
	return &Client{
		client:     asynq.NewClient(RedisOpt(cfg)),
		maxRetries: hooks.MaxRetries,
		timeout:    hooks.Timeout + 5*time.Second,
	}
}

func (c *Client) Close() error {
	return c.client.Close()
}

// Notify enqueues a webhook delivery of event to url. It satisfies the
// document service's notifier.
func (c *Client) Notify(ctx context.Context, url, event string, data any) error {
	del, err := webhook.NewDelivery(url, event, data)
	if err != nil {
		return err
	}
	return c.EnqueueWebhookDeliver(ctx, WebhookDeliverPayload{Delivery: del})
}

func (c *Client) EnqueueWebhookDeliver(ctx context.Context, payload WebhookDeliverPayload) error {
	return c.enqueue(ctx, TypeWebhookDeliver, payload,
		asynq.Queue(QueueDefault),
		asynq.MaxRetry(c.maxRetries),
		asynq.Timeout(c.timeout),
		asynq.TaskID(payload.Delivery.ID.String()),
	)
}

func (c *Client) enqueue(ctx context.Context, taskType string, payload any, opts ...asynq.Option) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	task := asynq.NewTask(taskType, data)
	if _, err := c.client.EnqueueContext(ctx, task, opts...); err != nil {
		return fmt.Errorf("enqueue %s: %w", taskType, err)
	}
	return nil
}
