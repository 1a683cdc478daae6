package main

import (
	"context"
	"log/slog"
	"os/signal"
	"sync"
	"syscall"

	"github.com/google/uuid"

	"github.com/talemon/core/config"
	"github.com/talemon/core/internal/broker"
	"github.com/talemon/core/internal/browser"
	"github.com/talemon/core/internal/fingerprint"
	"github.com/talemon/core/internal/logging"
	"github.com/talemon/core/internal/objectstore"
	"github.com/talemon/core/internal/store"
	"github.com/talemon/core/internal/telemetry"
	"github.com/talemon/core/internal/worker"
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
	fp := fingerprint.New(cfg.Hasher)

	driver := browser.NewChromeDriver(cfg.Browser)
	defer driver.Close()

	notifier := broker.NewNotifier(cfg.Kafka.Producer, metrics.KafkaMetrics)
	defer notifier.Close()
	notify := worker.NotifierFunc(func(ctx context.Context, ev worker.ChangeEvent) {
		notifier.Publish(ctx, broker.ChangeEvent{PageID: ev.PageID, SnapshotID: ev.SnapshotID, OSSPath: ev.OSSPath})
	})

	slog.Info("starting worker pool.", slog.String("env", cfg.Env), slog.Int("workers_num", cfg.Worker.WorkersNum))

	var wg sync.WaitGroup
	for i := 0; i < cfg.Worker.WorkersNum; i++ {
		workerID := uuid.New().String()
		w := worker.New(st, driver, objects, fp, notify, cfg.Worker, metrics.WorkerMetrics, workerID)
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.Run(ctx)
		}()
	}

	wg.Wait()
	slog.Info("worker pool stopped.")
}
