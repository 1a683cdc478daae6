package extractor

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talemon/core/config"
	"github.com/talemon/core/internal/model"
	"github.com/talemon/core/internal/objectstore"
	"github.com/talemon/core/internal/telemetry"
)

type fakeSnapshotStore struct {
	snapshots   []model.PageSnapshot
	listErr     error
	inserted    []model.PageInfo
	insertErr   error
	listCallCnt int
}

func (f *fakeSnapshotStore) UnextractedSnapshots(context.Context, string, int) ([]model.PageSnapshot, error) {
	f.listCallCnt++
	return f.snapshots, f.listErr
}

func (f *fakeSnapshotStore) InsertInfo(_ context.Context, info model.PageInfo) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	f.inserted = append(f.inserted, info)
	return nil
}

type fakeObjects struct{}

func (fakeObjects) WriteSnapshot(context.Context, string, time.Time, objectstore.SnapshotArtifacts) (string, error) {
	return "", nil
}
func (fakeObjects) ReadArtifact(context.Context, string, string) ([]byte, error) { return []byte("x"), nil }

type fakeExtractorFn struct {
	data json.RawMessage
	err  error
}

func (f *fakeExtractorFn) Extract(context.Context, model.PageSnapshot, objectstore.SnapshotArtifacts) (json.RawMessage, error) {
	return f.data, f.err
}

type fakeDLQ struct {
	sent []int64
}

func (f *fakeDLQ) Send(snapshotID int64, _ string, _ error) {
	f.sent = append(f.sent, snapshotID)
}

func noopExtractorMetrics() *telemetry.ExtractorMetrics {
	return &telemetry.ExtractorMetrics{
		ExtractionsAttempted: func(int64) {},
		ExtractionsSucceeded: func(int64) {},
		ExtractionsFailed:    func(int64) {},
	}
}

func TestTick_ExtractsEachUnextractedSnapshotOnce(t *testing.T) {
	store := &fakeSnapshotStore{snapshots: []model.PageSnapshot{{ID: 1, OSSPath: "a/1"}, {ID: 2, OSSPath: "a/2"}}}
	extract := &fakeExtractorFn{data: json.RawMessage(`{"title":"x"}`)}
	dlq := &fakeDLQ{}
	r := New(store, fakeObjects{}, extract, dlq, &config.ExtractorConfig{BatchSize: 10, Version: "v1"}, noopExtractorMetrics(), nil)

	n, err := r.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.Len(t, store.inserted, 2)
	assert.Equal(t, "v1", store.inserted[0].ExtractorVersion)
	assert.Empty(t, dlq.sent)
}

func TestTick_RunTwiceOverSameBatchDoesNotDoubleInsertWhenStoreDrainsBacklog(t *testing.T) {
	store := &fakeSnapshotStore{snapshots: []model.PageSnapshot{{ID: 1, OSSPath: "a/1"}}}
	extract := &fakeExtractorFn{data: json.RawMessage(`{}`)}
	dlq := &fakeDLQ{}
	r := New(store, fakeObjects{}, extract, dlq, &config.ExtractorConfig{BatchSize: 10, Version: "v1"}, noopExtractorMetrics(), nil)

	_, err := r.Tick(context.Background())
	require.NoError(t, err)
	store.snapshots = nil // anti-join against page_info would now exclude the processed row
	n, err := r.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Len(t, store.inserted, 1)
}

func TestProcessOne_ExtractionFailureSendsToDeadLetterQueue(t *testing.T) {
	store := &fakeSnapshotStore{snapshots: []model.PageSnapshot{{ID: 9, OSSPath: "a/9"}}}
	extract := &fakeExtractorFn{err: errors.New("malformed dom")}
	dlq := &fakeDLQ{}
	r := New(store, fakeObjects{}, extract, dlq, &config.ExtractorConfig{BatchSize: 10, Version: "v1"}, noopExtractorMetrics(), nil)

	_, err := r.Tick(context.Background())
	require.NoError(t, err)
	assert.Empty(t, store.inserted)
	require.Len(t, dlq.sent, 1)
	assert.Equal(t, int64(9), dlq.sent[0])
}

func TestTick_ListErrorPropagatesWithoutProcessing(t *testing.T) {
	store := &fakeSnapshotStore{listErr: errors.New("db down")}
	r := New(store, fakeObjects{}, &fakeExtractorFn{}, &fakeDLQ{}, &config.ExtractorConfig{BatchSize: 10, Version: "v1"}, noopExtractorMetrics(), nil)

	_, err := r.Tick(context.Background())
	assert.Error(t, err)
}
