package main

import (
	"context"
	"flag"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"syscall"

	"github.com/talemon/core/config"
	"github.com/talemon/core/internal/logging"
	"github.com/talemon/core/internal/ratelimit"
	"github.com/talemon/core/internal/scheduler"
	"github.com/talemon/core/internal/store"
	"github.com/talemon/core/internal/telemetry"
)

func main() {
	registerURL := flag.String("register", "", "register a new monitored URL and exit, instead of running the tick loop")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := config.MustLoad()
	logging.Setup(cfg)

	st := store.MustOpen(cfg.Database)
	defer st.Close()

	if *registerURL != "" {
		registerAndExit(ctx, st, cfg, *registerURL)
		return
	}

	metrics := telemetry.SetupMetrics(context.Background(), cfg)
	defer metrics.Close()

	limiter := ratelimit.New(cfg.Scheduler.RateLimit)

	slog.Info("starting scheduler.", slog.String("env", cfg.Env), slog.String("version", cfg.Version))
	sched := scheduler.New(st, limiter, cfg.Scheduler, metrics.SchedulerMetrics)
	sched.Run(ctx)

	slog.Info("scheduler stopped.")
}

// registerAndExit is the ingestion entry point the core still needs in
// order to populate the Page table at all, even though URL discovery
// itself is left to external tooling.
func registerAndExit(ctx context.Context, st *store.Store, cfg *config.Config, rawURL string) {
	u, err := url.Parse(rawURL)
	if err != nil {
		slog.Error("invalid url.", slog.String("url", rawURL), slog.String("err", err.Error()))
		os.Exit(1)
	}
	if err := st.RegisterPage(ctx, rawURL, u.Host, cfg.Scheduler.DefaultInterval); err != nil {
		slog.Error("failed to register page.", slog.String("url", rawURL), slog.String("err", err.Error()))
		os.Exit(1)
	}
	slog.Info("page registered.", slog.String("url", rawURL), slog.String("domain", u.Host))
}
