package main

import (
	"context"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/talemon/core/config"
	"github.com/talemon/core/internal/broker"
	"github.com/talemon/core/internal/extractor"
	"github.com/talemon/core/internal/logging"
	"github.com/talemon/core/internal/objectstore"
	"github.com/talemon/core/internal/store"
	"github.com/talemon/core/internal/telemetry"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := config.MustLoad()
	logging.Setup(cfg)

	metrics := telemetry.SetupMetrics(context.Background(), cfg)
	defer metrics.Close()

	st := store.MustOpen(cfg.Database)
	defer st.Close()

	objects := objectstore.NewS3ObjectStore(cfg.OSS, cfg.Env)
	dlq := broker.NewDeadLetterQueue(cfg.Kafka.Producer, metrics.KafkaMetrics)
	defer dlq.Close()

	wake := make(chan struct{}, 1)
	consumer := broker.NewNotifierConsumer(cfg.Kafka.Consumer, metrics.KafkaMetrics, wake)
	go consumer.Run(ctx)

	slog.Info("starting extractor.", slog.String("env", cfg.Env), slog.String("version", cfg.Extractor.Version))
	runner := extractor.New(st, objects, extractor.NewDefaultExtractor(), dlq, cfg.Extractor, metrics.ExtractorMetrics, wake)
	runner.Run(ctx)

	slog.Info("extractor stopped.")
}
