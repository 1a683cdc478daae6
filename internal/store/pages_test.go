package store_test

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talemon/core/internal/store"
)

func TestReclaimZombies_UsesIntervalArithmetic(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := store.New(db)

	query := `
		UPDATE main.page
		SET status = 'PENDING', heartbeat_at = NULL, updated_at = now()
		WHERE status = 'PROCESSING'
		  AND heartbeat_at < now() - ($1 * interval '1 second')`

	mock.ExpectExec(regexp.QuoteMeta(query)).
		WithArgs(300.0).
		WillReturnResult(sqlmock.NewResult(0, 2))

	n, err := s.ReclaimZombies(context.Background(), 5*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDispatchBatch_SkipsLockedRowsAndAppliesAdmission(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := store.New(db)

	mock.ExpectBegin()

	cols := []string{"id", "url", "hash", "domain", "status", "last_clean_hash", "last_check_at",
		"next_schedule_at", "heartbeat_at", "check_interval", "created_at", "updated_at"}
	now := time.Now()
	rows := sqlmock.NewRows(cols).
		AddRow(int64(1), "https://a.example/", "hasha", "a.example", "PENDING", nil, nil, now, nil, "01:00:00", now, now).
		AddRow(int64(2), "https://b.example/", "hashb", "b.example", "PENDING", nil, nil, now, nil, "01:00:00", now, now)

	mock.ExpectQuery(`SELECT id, url, hash, domain, status, last_clean_hash, last_check_at,.*FROM main\.page.*FOR UPDATE SKIP LOCKED`).
		WillReturnRows(rows)

	dispatchedRows := sqlmock.NewRows(cols).
		AddRow(int64(1), "https://a.example/", "hasha", "a.example", "PROCESSING", nil, nil, now, now, "01:00:00", now, now)
	mock.ExpectQuery(`UPDATE main\.page.*SET status = 'PROCESSING'.*RETURNING`).
		WillReturnRows(dispatchedRows)

	mock.ExpectCommit()

	admit := func(domain string) bool { return domain == "a.example" }
	pages, err := s.DispatchBatch(context.Background(), 10, admit)
	require.NoError(t, err)
	require.Len(t, pages, 1)
	assert.Equal(t, int64(1), pages[0].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestHeartbeat_ReturnsErrLeaseLostWhenNoRowsAffected(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := store.New(db)

	mock.ExpectExec(`UPDATE main\.page SET heartbeat_at = now\(\)`).
		WithArgs(int64(42)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err = s.Heartbeat(context.Background(), 42)
	assert.ErrorIs(t, err, store.ErrLeaseLost)
	require.NoError(t, mock.ExpectationsWereMet())
}
