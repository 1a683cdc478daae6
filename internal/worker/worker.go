// Package worker implements the Worker component: given a
// leased Page, it drives the browser, fingerprints the response, decides
// whether anything changed, and commits the result atomically.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/talemon/core/config"
	"github.com/talemon/core/internal/browser"
	"github.com/talemon/core/internal/fingerprint"
	"github.com/talemon/core/internal/model"
	"github.com/talemon/core/internal/objectstore"
	"github.com/talemon/core/internal/store"
	"github.com/talemon/core/internal/telemetry"
)

// PageStore is the subset of the State Store the Worker depends on.
type PageStore interface {
	ClaimForCapture(ctx context.Context, limit int) ([]model.Page, error)
	Heartbeat(ctx context.Context, pageID int64) error
	CommitCapture(ctx context.Context, out store.CaptureOutcome) (int64, error)
}

// Notifier is the optional best-effort publish hook. A nil Notifier is a valid no-op configuration.
type Notifier interface {
	Publish(ctx context.Context, ev ChangeEvent)
}

// ChangeEvent mirrors broker.ChangeEvent without importing the broker
// package directly, so the Worker's tests can run without Kafka types.
type ChangeEvent struct {
	PageID     int64
	SnapshotID int64
	OSSPath    string
}

type notifierAdapter struct{ fn func(ctx context.Context, ev ChangeEvent) }

func (a notifierAdapter) Publish(ctx context.Context, ev ChangeEvent) { a.fn(ctx, ev) }

// NotifierFunc adapts a plain function to the Notifier interface.
func NotifierFunc(fn func(ctx context.Context, ev ChangeEvent)) Notifier {
	return notifierAdapter{fn: fn}
}

// Worker runs the capture protocol against one leased Page at a time:
// heartbeat, fetch, fingerprint, change-decision, commit.
type Worker struct {
	store       PageStore
	driver      browser.Driver
	objects     objectstore.ObjectStore
	fingerprint *fingerprint.Fingerprinter
	notifier    Notifier
	cfg         *config.WorkerConfig
	metrics     *telemetry.WorkerMetrics
	workerID    string
}

func New(st PageStore, driver browser.Driver, objects objectstore.ObjectStore, fp *fingerprint.Fingerprinter,
	notifier Notifier, cfg *config.WorkerConfig, metrics *telemetry.WorkerMetrics, workerID string) *Worker {
	return &Worker{
		store: st, driver: driver, objects: objects, fingerprint: fp,
		notifier: notifier, cfg: cfg, metrics: metrics, workerID: workerID,
	}
}

// Run polls for a lease every cfg.RetryDelay while ctx is live, capturing
// one Page at a time. Several Run calls (one per goroutine) give the
// configured worker pool concurrency (cfg.WorkersNum).
func (w *Worker) Run(ctx context.Context) {
	slog.Info("starting worker.", slog.String("worker_id", w.workerID))
	for {
		select {
		case <-ctx.Done():
			slog.Info("stopping worker.", slog.String("worker_id", w.workerID))
			return
		default:
		}

		pages, err := w.store.ClaimForCapture(ctx, 1)
		if err != nil {
			slog.Error("failed to claim a page for capture.", slog.String("worker_id", w.workerID),
				slog.String("err", err.Error()))
			sleepOrDone(ctx, w.cfg.RetryDelay)
			continue
		}
		if len(pages) == 0 {
			sleepOrDone(ctx, w.cfg.RetryDelay)
			continue
		}

		w.capture(ctx, pages[0])
	}
}

// capture runs the full heartbeat/fetch/fingerprint/decide/commit sequence
// for a single leased Page.
func (w *Worker) capture(parent context.Context, p model.Page) {
	w.metrics.CapturesAttempted(1)
	logger := slog.With(slog.Int64("page_id", p.ID), slog.String("url", p.URL), slog.String("worker_id", w.workerID))

	hbCtx, stopHeartbeat := context.WithCancel(parent)
	defer stopHeartbeat()
	go w.heartbeatLoop(hbCtx, p.ID, logger)

	ctx, cancel := context.WithTimeout(parent, w.cfg.PageTimeout)
	defer cancel()

	cap_, err := w.driver.Fetch(ctx, p.URL)
	if err != nil || cap_.HTTPStatus/100 != 2 {
		w.commitGateFailure(parent, p, cap_.HTTPStatus, err, logger)
		return
	}

	result, err := w.fingerprint.Fingerprint(cap_.SourceHTML)
	if err != nil {
		logger.Error("fingerprinting failed, lease left in place for zombie reclaim.", slog.String("err", err.Error()))
		w.metrics.CapturesFailed(1)
		return
	}

	unchanged := p.LastCleanHash != nil && *p.LastCleanHash == result.CleanHash
	if unchanged {
		w.commitUnchanged(parent, p, result, logger)
		return
	}

	w.commitChanged(parent, p, result, cap_, logger)
}

func (w *Worker) heartbeatLoop(ctx context.Context, pageID int64, logger *slog.Logger) {
	ticker := time.NewTicker(w.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.store.Heartbeat(ctx, pageID); err != nil {
				if errors.Is(err, store.ErrLeaseLost) {
					logger.Warn("lease lost while capturing, abandoning.")
					w.metrics.LeaseLost(1)
				} else {
					logger.Error("heartbeat write failed.", slog.String("err", err.Error()))
				}
				return
			}
		}
	}
}

// commitGateFailure records a failed fetch (network error or non-2xx
// status) as a monitor row with no content change, and reschedules.
func (w *Worker) commitGateFailure(ctx context.Context, p model.Page, httpStatus int, fetchErr error, logger *slog.Logger) {
	now := time.Now().UTC()
	monitor := model.PageMonitor{
		PageID:           p.ID,
		MonitorTimestamp: now,
		ChangeDetected:   false,
	}
	if httpStatus > 0 {
		monitor.HTTPStatus = &httpStatus
	}
	if fetchErr != nil {
		msg := fetchErr.Error()
		monitor.ErrorMessage = &msg
	}

	_, err := w.store.CommitCapture(ctx, store.CaptureOutcome{
		PageID:         p.ID,
		Monitor:        monitor,
		NextScheduleAt: now.Add(p.CheckInterval),
	})
	if err != nil {
		logger.Error("failed to commit gate-failure outcome.", slog.String("err", err.Error()))
		w.metrics.CapturesFailed(1)
		return
	}
	logger.Warn("http gate failed.", slog.Int("http_status", httpStatus))
	w.metrics.CapturesSucceeded(1)
}

// commitUnchanged records a successful fetch whose clean hash matches the
// page's last known clean hash: no snapshot is written, only the monitor
// row and the next schedule time.
func (w *Worker) commitUnchanged(ctx context.Context, p model.Page, result fingerprint.Result, logger *slog.Logger) {
	now := time.Now().UTC()
	monitor := model.PageMonitor{
		PageID:           p.ID,
		MonitorTimestamp: now,
		ContentHash:      &result.ContentHash,
		CleanHash:        &result.CleanHash,
		ChangeDetected:   false,
	}

	_, err := w.store.CommitCapture(ctx, store.CaptureOutcome{
		PageID:         p.ID,
		Monitor:        monitor,
		NewCleanHash:   &result.CleanHash,
		NextScheduleAt: now.Add(p.CheckInterval),
	})
	if err != nil {
		logger.Error("failed to commit unchanged outcome.", slog.String("err", err.Error()))
		w.metrics.CapturesFailed(1)
		return
	}
	logger.Debug("no content change detected.")
	w.metrics.CapturesSucceeded(1)
}

// commitChanged writes the four snapshot artifacts to the Object Store,
// then commits the snapshot and monitor rows in one State Store
// transaction and notifies downstream consumers. Object Store writes
// happen strictly before the transaction that references them, so a
// snapshot row is never committed without its blobs.
func (w *Worker) commitChanged(ctx context.Context, p model.Page, result fingerprint.Result, cap_ browser.Capture, logger *slog.Logger) {
	cleanedDOM, err := w.fingerprint.CleanedDOM(cap_.SourceHTML)
	if err != nil {
		logger.Error("failed to produce cleaned dom artifact.", slog.String("err", err.Error()))
		w.metrics.CapturesFailed(1)
		return
	}

	now := time.Now().UTC()
	ossPath, err := w.objects.WriteSnapshot(ctx, p.Hash, now, objectstore.SnapshotArtifacts{
		CleanedDOM: cleanedDOM,
		SourceHTML: cap_.SourceHTML,
		MHTML:      cap_.MHTML,
		Screenshot: cap_.Screenshot,
	})
	if err != nil {
		logger.Error("failed to write snapshot artifacts, lease left in place.", slog.String("err", err.Error()))
		w.metrics.CapturesFailed(1)
		return
	}

	monitor := model.PageMonitor{
		PageID:           p.ID,
		MonitorTimestamp: now,
		ContentHash:      &result.ContentHash,
		CleanHash:        &result.CleanHash,
		ChangeDetected:   true,
	}
	snapshot := &model.PageSnapshot{
		PageID:            p.ID,
		SnapshotTimestamp: now,
		OSSPath:           ossPath,
		ContentHash:       result.ContentHash,
		CleanHash:         result.CleanHash,
	}

	snapshotID, err := w.store.CommitCapture(ctx, store.CaptureOutcome{
		PageID:         p.ID,
		Monitor:        monitor,
		Snapshot:       snapshot,
		NewCleanHash:   &result.CleanHash,
		NextScheduleAt: now.Add(p.CheckInterval),
	})
	if err != nil {
		logger.Error("failed to commit snapshot, orphaned blobs remain under oss path.",
			slog.String("oss_path", ossPath), slog.String("err", err.Error()))
		w.metrics.CapturesFailed(1)
		return
	}

	logger.Info("content change detected and committed.", slog.Int64("snapshot_id", snapshotID))
	w.metrics.CapturesSucceeded(1)
	w.metrics.ChangesDetected(1)

	if w.notifier != nil {
		w.notifier.Publish(ctx, ChangeEvent{PageID: p.ID, SnapshotID: snapshotID, OSSPath: ossPath})
	}
}

func sleepOrDone(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
