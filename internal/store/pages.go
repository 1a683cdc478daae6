package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"

	"github.com/talemon/core/internal/model"
)

// ReclaimZombies returns every Page stuck in PROCESSING with a stale
// heartbeat back to PENDING with heartbeat_at cleared, in one statement. It
// is set-based and therefore idempotent — a crash mid-tick just means the
// next tick repeats the same UPDATE.
func (s *Store) ReclaimZombies(ctx context.Context, zombieTimeout time.Duration) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE main.page
		SET status = 'PENDING', heartbeat_at = NULL, updated_at = now()
		WHERE status = 'PROCESSING'
		  AND heartbeat_at < now() - ($1 * interval '1 second')`,
		zombieTimeout.Seconds(),
	)
	if err != nil {
		return 0, fmt.Errorf("store: reclaim zombies: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("store: reclaim zombies rows affected: %w", err)
	}
	return n, nil
}

// DispatchBatch runs entirely inside one transaction:
// select a random batch of due PENDING rows with FOR UPDATE SKIP LOCKED,
// apply the caller-supplied per-domain admission function, and transition
// only the admitted rows to PROCESSING before releasing the locks at commit.
// Rows that fail admission are simply never updated — the row lock is
// released at commit either way, and they remain PENDING for the next tick.
func (s *Store) DispatchBatch(ctx context.Context, batchSize int, admit func(domain string) bool) ([]model.Page, error) {
	var dispatched []model.Page

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `
			SELECT id, url, hash, domain, status, last_clean_hash, last_check_at,
			       next_schedule_at, heartbeat_at, check_interval, created_at, updated_at
			FROM main.page
			WHERE status = 'PENDING' AND next_schedule_at <= now()
			ORDER BY random()
			LIMIT $1
			FOR UPDATE SKIP LOCKED`, batchSize)
		if err != nil {
			return fmt.Errorf("select candidates: %w", err)
		}

		var candidates []model.Page
		for rows.Next() {
			p, err := scanPage(rows)
			if err != nil {
				rows.Close()
				return err
			}
			candidates = append(candidates, p)
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("scan candidates: %w", err)
		}
		if err := rows.Close(); err != nil {
			return err
		}

		var admittedIDs []int64
		for _, p := range candidates {
			if admit(p.Domain) {
				admittedIDs = append(admittedIDs, p.ID)
			}
		}
		if len(admittedIDs) == 0 {
			return nil
		}

		rows2, err := tx.QueryContext(ctx, `
			UPDATE main.page
			SET status = 'PROCESSING', heartbeat_at = now(), updated_at = now()
			WHERE id = ANY($1)
			RETURNING id, url, hash, domain, status, last_clean_hash, last_check_at,
			          next_schedule_at, heartbeat_at, check_interval, created_at, updated_at`,
			pq.Array(admittedIDs))
		if err != nil {
			return fmt.Errorf("dispatch admitted: %w", err)
		}
		defer rows2.Close()
		for rows2.Next() {
			p, err := scanPage(rows2)
			if err != nil {
				return err
			}
			dispatched = append(dispatched, p)
		}
		return rows2.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("store: dispatch batch: %w", err)
	}

	slog.Debug("scheduler dispatch batch complete.", slog.Int("dispatched", len(dispatched)))
	return dispatched, nil
}

// ClaimForCapture gives a Worker process race-free ownership of a Page the
// Scheduler already moved to PROCESSING. Since Scheduler and Worker run as
// separate processes with no RPC between them, a dispatched row becomes
// visible to exactly one Worker through this short claim transaction,
// where SKIP LOCKED keeps other Workers from racing for the same row. It
// never changes status (the row is already PROCESSING); it only refreshes
// heartbeat_at, marking the row as now owned by the caller's capture loop.
func (s *Store) ClaimForCapture(ctx context.Context, limit int) ([]model.Page, error) {
	var claimed []model.Page

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `
			SELECT id, url, hash, domain, status, last_clean_hash, last_check_at,
			       next_schedule_at, heartbeat_at, check_interval, created_at, updated_at
			FROM main.page
			WHERE status = 'PROCESSING'
			ORDER BY heartbeat_at NULLS FIRST
			LIMIT $1
			FOR UPDATE SKIP LOCKED`, limit)
		if err != nil {
			return fmt.Errorf("select leased candidates: %w", err)
		}

		var ids []int64
		for rows.Next() {
			p, err := scanPage(rows)
			if err != nil {
				rows.Close()
				return err
			}
			claimed = append(claimed, p)
			ids = append(ids, p.ID)
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("scan leased candidates: %w", err)
		}
		if err := rows.Close(); err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE main.page SET heartbeat_at = now(), updated_at = now()
			WHERE id = ANY($1)`, pq.Array(ids)); err != nil {
			return fmt.Errorf("claim leased candidates: %w", err)
		}
		for i := range claimed {
			claimed[i].HeartbeatAt = nil // caller's own heartbeat goroutine refreshes this going forward
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("store: claim for capture: %w", err)
	}
	return claimed, nil
}

// Heartbeat writes heartbeat_at = now(), conditional on the row still being
// held by a lease (status = PROCESSING), so a heartbeat write can never
// resurrect a lease the Scheduler already reclaimed.
func (s *Store) Heartbeat(ctx context.Context, pageID int64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE main.page SET heartbeat_at = now()
		WHERE id = $1 AND status = 'PROCESSING'`, pageID)
	if err != nil {
		return fmt.Errorf("store: heartbeat: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: heartbeat rows affected: %w", err)
	}
	if n == 0 {
		return ErrLeaseLost
	}
	return nil
}

// ErrLeaseLost is returned by Heartbeat when the lease has already been
// reclaimed (status is no longer PROCESSING) — the caller should abandon the
// in-flight capture.
var ErrLeaseLost = fmt.Errorf("store: lease no longer held")

func scanPage(rows *sql.Rows) (model.Page, error) {
	var p model.Page
	var checkInterval string
	if err := rows.Scan(&p.ID, &p.URL, &p.Hash, &p.Domain, &p.Status, &p.LastCleanHash,
		&p.LastCheckAt, &p.NextScheduleAt, &p.HeartbeatAt, &checkInterval, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return p, fmt.Errorf("scan page: %w", err)
	}
	d, ok := parsePGInterval(checkInterval)
	if !ok {
		// Fall back to the documented default rather than fail the whole row.
		d = model.DefaultCheckInterval
	}
	p.CheckInterval = d
	return p, nil
}
