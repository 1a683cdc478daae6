package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/talemon/core/internal/model"
)

// CaptureOutcome is what the Worker hands the State Store at the end of one
// capture attempt. Snapshot is nil for the
// unchanged and HTTP-gate-failure cases.
type CaptureOutcome struct {
	PageID         int64
	Monitor        model.PageMonitor
	Snapshot       *model.PageSnapshot // non-nil only on change/first-capture
	NewCleanHash   *string             // page.last_clean_hash after this attempt, nil to keep the stored value (HTTP-gate failure)
	NextScheduleAt time.Time
}

// CommitCapture records the outcome of one capture attempt, and, when
// Snapshot is set, upserts it, all inside a single State Store transaction:
//
//   - upsert PageSnapshot keyed by (page_id, clean_hash) ON CONFLICT DO NOTHING
//   - insert PageMonitor (always)
//   - update Page: last_check_at, last_clean_hash, next_schedule_at,
//     status back to PENDING, heartbeat_at cleared
//
// This is the single point where the lease is released; the transaction
// either commits all of it atomically or none of it, which is what makes
// "change_detected = true iff a PageSnapshot row exists" hold.
func (s *Store) CommitCapture(ctx context.Context, out CaptureOutcome) (snapshotID int64, err error) {
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		if out.Snapshot != nil {
			row := tx.QueryRowContext(ctx, `
				INSERT INTO main.page_snapshot (page_id, snapshot_timestamp, oss_path, content_hash, clean_hash)
				VALUES ($1, $2, $3, $4, $5)
				ON CONFLICT (page_id, clean_hash) DO NOTHING
				RETURNING id`,
				out.Snapshot.PageID, out.Snapshot.SnapshotTimestamp, out.Snapshot.OSSPath,
				out.Snapshot.ContentHash, out.Snapshot.CleanHash)
			if scanErr := row.Scan(&snapshotID); scanErr != nil {
				if scanErr == sql.ErrNoRows {
					// Another worker already wrote this (page_id, clean_hash);
					// look up its id so the monitor/info pipeline still has one.
					lookupErr := tx.QueryRowContext(ctx, `
						SELECT id FROM main.page_snapshot WHERE page_id = $1 AND clean_hash = $2`,
						out.Snapshot.PageID, out.Snapshot.CleanHash).Scan(&snapshotID)
					if lookupErr != nil {
						return fmt.Errorf("lookup existing snapshot: %w", lookupErr)
					}
				} else {
					return fmt.Errorf("upsert snapshot: %w", scanErr)
				}
			}
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO main.page_monitor
				(page_id, monitor_timestamp, content_hash, clean_hash, change_detected, http_status, error_message)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			out.Monitor.PageID, out.Monitor.MonitorTimestamp, out.Monitor.ContentHash, out.Monitor.CleanHash,
			out.Monitor.ChangeDetected, out.Monitor.HTTPStatus, out.Monitor.ErrorMessage); err != nil {
			return fmt.Errorf("insert monitor: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE main.page
			SET status = 'PENDING',
			    heartbeat_at = NULL,
			    last_check_at = now(),
			    last_clean_hash = COALESCE($2, last_clean_hash),
			    next_schedule_at = $3,
			    updated_at = now()
			WHERE id = $1 AND status = 'PROCESSING'`,
			out.PageID, out.NewCleanHash, out.NextScheduleAt); err != nil {
			return fmt.Errorf("release lease: %w", err)
		}

		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("store: commit capture: %w", err)
	}
	return snapshotID, nil
}
