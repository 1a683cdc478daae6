package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talemon/core/internal/model"
	"github.com/talemon/core/internal/store"
)

// TestCommitCapture_SnapshotUpsertUsesOnConflictDoNothing verifies the
// snapshot insert is keyed by (page_id, clean_hash) with ON CONFLICT DO
// NOTHING, so two workers racing on the same content never produce two rows.
func TestCommitCapture_SnapshotUpsertUsesOnConflictDoNothing(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := store.New(db)
	cleanHash := "c" + "0123456789abcdef0123456789abcdef012345"[1:]

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO main\.page_snapshot.*ON CONFLICT \(page_id, clean_hash\) DO NOTHING.*RETURNING id`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(7)))
	mock.ExpectExec(`INSERT INTO main\.page_monitor`).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(`UPDATE main\.page\s+SET status = 'PENDING'`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	out := store.CaptureOutcome{
		PageID: 1,
		Monitor: model.PageMonitor{
			PageID:           1,
			MonitorTimestamp: time.Now(),
			ChangeDetected:   true,
		},
		Snapshot: &model.PageSnapshot{
			PageID:            1,
			SnapshotTimestamp: time.Now(),
			OSSPath:           "hash1/20260101T000000Z",
			ContentHash:       "a0123456789abcdef0123456789abcdef012345",
			CleanHash:         cleanHash,
		},
		NewCleanHash:   &cleanHash,
		NextScheduleAt: time.Now().Add(time.Hour),
	}

	snapshotID, err := s.CommitCapture(context.Background(), out)
	require.NoError(t, err)
	assert.Equal(t, int64(7), snapshotID)
	require.NoError(t, mock.ExpectationsWereMet())
}
