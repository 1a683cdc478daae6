// Package extractor implements the Extractor component: a
// poll-driven loop that finds unextracted snapshots, runs the external
// extraction collaborator, and records results exactly once per
// (snapshot, version).
package extractor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/talemon/core/config"
	"github.com/talemon/core/internal/model"
	"github.com/talemon/core/internal/objectstore"
	"github.com/talemon/core/internal/telemetry"
)

// SnapshotStore is the subset of the State Store the Extractor depends on.
type SnapshotStore interface {
	UnextractedSnapshots(ctx context.Context, extractorVersion string, limit int) ([]model.PageSnapshot, error)
	InsertInfo(ctx context.Context, info model.PageInfo) error
}

// Extractor is the pluggable extraction function. The Runner never
// inspects the returned data; it is opaque JSON.
type Extractor interface {
	Extract(ctx context.Context, snapshot model.PageSnapshot, artifacts objectstore.SnapshotArtifacts) (json.RawMessage, error)
}

// DeadLetterQueue records extraction failures.
type DeadLetterQueue interface {
	Send(snapshotID int64, extractorVersion string, cause error)
}

// Runner is the Extractor's poll loop, driven by a ticker/wake-signal
// select instead of a blocking fetch loop.
type Runner struct {
	store   SnapshotStore
	objects objectstore.ObjectStore
	extract Extractor
	dlq     DeadLetterQueue
	cfg     *config.ExtractorConfig
	metrics *telemetry.ExtractorMetrics
	wake    <-chan struct{}
}

func New(store SnapshotStore, objects objectstore.ObjectStore, extract Extractor, dlq DeadLetterQueue,
	cfg *config.ExtractorConfig, metrics *telemetry.ExtractorMetrics, wake <-chan struct{}) *Runner {
	return &Runner{store: store, objects: objects, extract: extract, dlq: dlq, cfg: cfg, metrics: metrics, wake: wake}
}

// Run ticks on cfg.PollInterval, or immediately when a Notifier wake-up
// arrives — strictly a latency optimization, since Tick always re-runs the
// anti-join query regardless of why it fired.
func (r *Runner) Run(ctx context.Context) {
	slog.Info("starting extractor.", slog.Duration("poll_interval", r.cfg.PollInterval))
	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("stopping extractor.")
			return
		case <-ticker.C:
			r.tickAndLog(ctx)
		case <-r.wake:
			r.tickAndLog(ctx)
			ticker.Reset(r.cfg.PollInterval)
		}
	}
}

func (r *Runner) tickAndLog(ctx context.Context) {
	n, err := r.Tick(ctx)
	if err != nil {
		slog.Error("extractor tick failed.", slog.String("err", err.Error()))
		return
	}
	if n > 0 {
		slog.Debug("extractor tick processed snapshots.", slog.Int("count", n))
	}
}

// Tick finds a bounded batch of unextracted snapshots and extracts each
// one. Sleeping on an empty batch lives in Run's ticker instead of inside
// Tick, so Tick stays a pure, independently testable unit.
func (r *Runner) Tick(ctx context.Context) (int, error) {
	snapshots, err := r.store.UnextractedSnapshots(ctx, r.cfg.Version, r.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("extractor: list unextracted: %w", err)
	}

	for _, sn := range snapshots {
		r.processOne(ctx, sn)
	}
	return len(snapshots), nil
}

func (r *Runner) processOne(ctx context.Context, sn model.PageSnapshot) {
	r.metrics.ExtractionsAttempted(1)
	logger := slog.With(slog.Int64("snapshot_id", sn.ID), slog.String("extractor_version", r.cfg.Version))

	artifacts, err := r.downloadArtifacts(ctx, sn.OSSPath)
	if err != nil {
		logger.Error("failed to download artifacts.", slog.String("err", err.Error()))
		r.dlq.Send(sn.ID, r.cfg.Version, err)
		r.metrics.ExtractionsFailed(1)
		return
	}

	data, err := r.extract.Extract(ctx, sn, artifacts)
	if err != nil {
		logger.Error("extraction failed.", slog.String("err", err.Error()))
		r.dlq.Send(sn.ID, r.cfg.Version, err)
		r.metrics.ExtractionsFailed(1)
		return
	}

	err = r.store.InsertInfo(ctx, model.PageInfo{
		SnapshotID:       sn.ID,
		ExtractorVersion: r.cfg.Version,
		Data:             data,
	})
	if err != nil {
		logger.Error("failed to insert extracted info.", slog.String("err", err.Error()))
		r.dlq.Send(sn.ID, r.cfg.Version, err)
		r.metrics.ExtractionsFailed(1)
		return
	}

	logger.Debug("extraction committed.")
	r.metrics.ExtractionsSucceeded(1)
}

func (r *Runner) downloadArtifacts(ctx context.Context, ossPath string) (objectstore.SnapshotArtifacts, error) {
	dom, err := r.objects.ReadArtifact(ctx, ossPath, model.ArtifactCleanedDOM)
	if err != nil {
		return objectstore.SnapshotArtifacts{}, err
	}
	source, err := r.objects.ReadArtifact(ctx, ossPath, model.ArtifactSourceHTML)
	if err != nil {
		return objectstore.SnapshotArtifacts{}, err
	}
	mhtml, err := r.objects.ReadArtifact(ctx, ossPath, model.ArtifactMHTML)
	if err != nil {
		return objectstore.SnapshotArtifacts{}, err
	}
	screenshot, err := r.objects.ReadArtifact(ctx, ossPath, model.ArtifactScreenshot)
	if err != nil {
		return objectstore.SnapshotArtifacts{}, err
	}
	return objectstore.SnapshotArtifacts{
		CleanedDOM: dom,
		SourceHTML: source,
		MHTML:      mhtml,
		Screenshot: screenshot,
	}, nil
}
