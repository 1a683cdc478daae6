package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/talemon/core/internal/model"
)

// UnextractedSnapshots implements the Extractor's poll query:
// PageSnapshot rows that have no PageInfo row yet for extractorVersion. This
// is an anti-join, not a queue — it is re-run on every poll regardless of
// whether a Notifier wake-up fired, so a missed or duplicate notification
// never causes a snapshot to be skipped or double-counted.
func (s *Store) UnextractedSnapshots(ctx context.Context, extractorVersion string, limit int) ([]model.PageSnapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ps.id, ps.page_id, ps.snapshot_timestamp, ps.oss_path, ps.content_hash, ps.clean_hash, ps.created_at
		FROM main.page_snapshot ps
		WHERE NOT EXISTS (
			SELECT 1 FROM main.page_info pi
			WHERE pi.snapshot_id = ps.id AND pi.extractor_version = $1
		)
		ORDER BY ps.snapshot_timestamp
		LIMIT $2`, extractorVersion, limit)
	if err != nil {
		return nil, fmt.Errorf("store: unextracted snapshots: %w", err)
	}
	defer rows.Close()

	var out []model.PageSnapshot
	for rows.Next() {
		var sn model.PageSnapshot
		if err := rows.Scan(&sn.ID, &sn.PageID, &sn.SnapshotTimestamp, &sn.OSSPath,
			&sn.ContentHash, &sn.CleanHash, &sn.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scan snapshot: %w", err)
		}
		out = append(out, sn)
	}
	return out, rows.Err()
}

// InsertInfo records an extractor's output for a snapshot. The unique
// constraint on (snapshot_id, extractor_version) makes this idempotent: a
// snapshot reprocessed after a crash before the first insert committed just
// hits ON CONFLICT DO NOTHING the second time around.
func (s *Store) InsertInfo(ctx context.Context, info model.PageInfo) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO main.page_info (snapshot_id, extractor_version, data)
		VALUES ($1, $2, $3)
		ON CONFLICT (snapshot_id, extractor_version) DO NOTHING`,
		info.SnapshotID, info.ExtractorVersion, []byte(info.Data))
	if err != nil {
		return fmt.Errorf("store: insert info: %w", err)
	}
	return nil
}

// Snapshot looks up a single snapshot by id, returning ErrNotFound when no
// row has that id.
func (s *Store) Snapshot(ctx context.Context, id int64) (model.PageSnapshot, error) {
	var sn model.PageSnapshot
	err := s.db.QueryRowContext(ctx, `
		SELECT id, page_id, snapshot_timestamp, oss_path, content_hash, clean_hash, created_at
		FROM main.page_snapshot WHERE id = $1`, id).
		Scan(&sn.ID, &sn.PageID, &sn.SnapshotTimestamp, &sn.OSSPath, &sn.ContentHash, &sn.CleanHash, &sn.CreatedAt)
	if err == sql.ErrNoRows {
		return sn, fmt.Errorf("store: snapshot %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return sn, fmt.Errorf("store: snapshot %d: %w", id, err)
	}
	return sn, nil
}

// ErrNotFound is returned when a lookup by id finds no row.
var ErrNotFound = fmt.Errorf("store: not found")
