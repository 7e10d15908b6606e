package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"cloud.google.com/go/pubsub"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/qrtrail/scanhistory/pkg/config"
	"github.com/qrtrail/scanhistory/pkg/history"
	"github.com/qrtrail/scanhistory/pkg/metrics"
	"github.com/qrtrail/scanhistory/pkg/processing"
	"github.com/qrtrail/scanhistory/pkg/storage/backend"
)

func main() {
	cfg := config.FromEnv()
	logger := cfg.NewLogger(os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, cfg, logger)
	stop()
	if err != nil {
		logger.Error("processor exited", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	slot, closeSlot, err := backend.Open(ctx, cfg)
	if err != nil {
		return fmt.Errorf("store open (%s): %w", cfg.Backend, err)
	}
	defer closeSlot()

	store := history.New(slot,
		history.WithKey(cfg.Key),
		history.WithLogger(logger),
		history.WithMetrics(metrics.New(prometheus.DefaultRegisterer)),
	)

	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return fmt.Errorf("pubsub client: %w", err)
	}
	defer client.Close()

	var dlqPublisher processing.DLQPublisher
	if cfg.DLQTopicID != "" {
		dlqPublisher = processing.NewPubSubDLQPublisher(client.Topic(cfg.DLQTopicID))
	} else {
		dlqPublisher = &processing.NoopDLQPublisher{}
	}
	handler := processing.NewHandler(store, dlqPublisher, logger)

	sub := client.Subscription(cfg.SubscriptionID)
	sub.ReceiveSettings.NumGoroutines = cfg.WorkerCount
	sub.ReceiveSettings.MaxOutstandingMessages = cfg.MaxOutstanding

	logger.Info("processor started",
		"project", cfg.ProjectID, "subscription", cfg.SubscriptionID,
		"workers", cfg.WorkerCount, "backend", cfg.Backend)

	err = sub.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		if handler.HandleMessage(ctx, msg) {
			msg.Ack()
		} else {
			msg.Nack()
		}
	})
	if err != nil {
		return fmt.Errorf("subscription receive ended: %w", err)
	}
	return nil
}
