package main

import (
	"log/slog"
	"os"

	"github.com/hibiken/asynq"

	"github.com/nikhilbhutani/docqa/internal/config"
	"github.com/nikhilbhutani/docqa/internal/queue"
	"github.com/nikhilbhutani/docqa/internal/queue/workers"
	"github.com/nikhilbhutani/docqa/internal/webhook"
)

const concurrency = 10

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	if cfg.Redis.Addr == "" {
		slog.Error("REDIS_ADDR is required for the worker")
		os.Exit(1)
	}

	srv := asynq.NewServer(
		queue.RedisOpt(cfg.Redis),
		asynq.Config{
			Concurrency: concurrency,
			Queues: map[string]int{
				queue.QueueDefault: 1,
			},
			ShutdownTimeout: cfg.Server.ShutdownTimeout,
		},
	)

	registry := queue.NewHandlersRegistry()

	webhookWorker := workers.NewWebhookWorker(webhook.NewSender(cfg.Webhook.Secret, cfg.Webhook.Timeout))
	registry.Register(queue.TypeWebhookDeliver, asynq.HandlerFunc(webhookWorker.ProcessTask))

	slog.Info("starting worker", "concurrency", concurrency)
	if err := srv.Run(registry.Mux()); err != nil {
		slog.Error("worker error", "error", err)
		os.Exit(1)
	}
}
