package worker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talemon/core/config"
	"github.com/talemon/core/internal/browser"
	"github.com/talemon/core/internal/fingerprint"
	"github.com/talemon/core/internal/model"
	"github.com/talemon/core/internal/objectstore"
	"github.com/talemon/core/internal/store"
	"github.com/talemon/core/internal/telemetry"
)

type fakeDriver struct {
	cap browser.Capture
	err error
}

func (f *fakeDriver) Fetch(context.Context, string) (browser.Capture, error) { return f.cap, f.err }
func (f *fakeDriver) Close()                                                 {}

type fakeObjects struct {
	path string
	err  error
}

func (f *fakeObjects) WriteSnapshot(context.Context, string, time.Time, objectstore.SnapshotArtifacts) (string, error) {
	return f.path, f.err
}
func (f *fakeObjects) ReadArtifact(context.Context, string, string) ([]byte, error) { return nil, nil }

type fakePageStore struct {
	heartbeatErr error
	commitOut    store.CaptureOutcome
	commitCalled bool
	commitID     int64
	commitErr    error
}

func (f *fakePageStore) ClaimForCapture(context.Context, int) ([]model.Page, error) { return nil, nil }
func (f *fakePageStore) Heartbeat(context.Context, int64) error                     { return f.heartbeatErr }
func (f *fakePageStore) CommitCapture(_ context.Context, out store.CaptureOutcome) (int64, error) {
	f.commitOut = out
	f.commitCalled = true
	return f.commitID, f.commitErr
}

func noopWorkerMetrics() *telemetry.WorkerMetrics {
	return &telemetry.WorkerMetrics{
		CapturesAttempted: func(int64) {},
		CapturesSucceeded: func(int64) {},
		CapturesFailed:    func(int64) {},
		ChangesDetected:   func(int64) {},
		LeaseLost:         func(int64) {},
	}
}

func testWorker(st PageStore, driver browser.Driver, objects objectstore.ObjectStore, notifier Notifier) *Worker {
	return New(st, driver, objects, fingerprint.New(&config.HasherConfig{}), notifier,
		&config.WorkerConfig{HeartbeatInterval: time.Hour, PageTimeout: time.Second}, noopWorkerMetrics(), "w1")
}

func TestCapture_Non2xxGateFailureCommitsNoSnapshot(t *testing.T) {
	ps := &fakePageStore{}
	driver := &fakeDriver{cap: browser.Capture{HTTPStatus: 503}}
	w := testWorker(ps, driver, &fakeObjects{}, nil)

	w.capture(context.Background(), model.Page{ID: 1, URL: "https://a.example", CheckInterval: time.Hour})

	require.Nil(t, ps.commitOut.Snapshot)
	assert.False(t, ps.commitOut.Monitor.ChangeDetected)
	require.NotNil(t, ps.commitOut.Monitor.HTTPStatus)
	assert.Equal(t, 503, *ps.commitOut.Monitor.HTTPStatus)
}

func TestCapture_UnchangedContentSkipsObjectStoreWrite(t *testing.T) {
	ps := &fakePageStore{}
	html := []byte("<html><body><p>hello</p></body></html>")
	fp := fingerprint.New(&config.HasherConfig{})
	result, err := fp.Fingerprint(html)
	require.NoError(t, err)

	driver := &fakeDriver{cap: browser.Capture{HTTPStatus: 200, SourceHTML: html}}
	objects := &fakeObjects{path: "should-not-be-used"}
	w := New(ps, driver, objects, fp, nil,
		&config.WorkerConfig{HeartbeatInterval: time.Hour, PageTimeout: time.Second}, noopWorkerMetrics(), "w1")

	cleanHash := result.CleanHash
	w.capture(context.Background(), model.Page{
		ID: 1, URL: "https://a.example", CheckInterval: time.Hour, LastCleanHash: &cleanHash,
	})

	assert.Nil(t, ps.commitOut.Snapshot)
	assert.False(t, ps.commitOut.Monitor.ChangeDetected)
}

func TestCapture_ChangedContentWritesArtifactsThenCommitsAndNotifies(t *testing.T) {
	ps := &fakePageStore{commitID: 42}
	html := []byte("<html><body><p>new content</p></body></html>")
	driver := &fakeDriver{cap: browser.Capture{HTTPStatus: 200, SourceHTML: html}}
	objects := &fakeObjects{path: "abc123/20260101T000000Z"}

	var notified ChangeEvent
	notifier := NotifierFunc(func(_ context.Context, ev ChangeEvent) { notified = ev })

	w := testWorker(ps, driver, objects, notifier)

	oldHash := "0123456789abcdef0123456789abcdef0123456"
	w.capture(context.Background(), model.Page{
		ID: 1, Hash: "abc123", URL: "https://a.example", CheckInterval: time.Hour, LastCleanHash: &oldHash,
	})

	require.NotNil(t, ps.commitOut.Snapshot)
	assert.True(t, ps.commitOut.Monitor.ChangeDetected)
	assert.Equal(t, "abc123/20260101T000000Z", ps.commitOut.Snapshot.OSSPath)
	assert.Equal(t, int64(42), notified.SnapshotID)
	assert.Equal(t, "abc123/20260101T000000Z", notified.OSSPath)
}

func TestCapture_ObjectStoreFailureLeavesLeaseInPlace(t *testing.T) {
	ps := &fakePageStore{}
	html := []byte("<html><body><p>new content</p></body></html>")
	driver := &fakeDriver{cap: browser.Capture{HTTPStatus: 200, SourceHTML: html}}
	objects := &fakeObjects{err: assertErr{}}
	w := testWorker(ps, driver, objects, nil)

	oldHash := "0123456789abcdef0123456789abcdef0123456"
	w.capture(context.Background(), model.Page{
		ID: 1, Hash: "abc123", URL: "https://a.example", CheckInterval: time.Hour, LastCleanHash: &oldHash,
	})

	assert.False(t, ps.commitCalled)
}

type assertErr struct{}

func (assertErr) Error() string { return "object store unavailable" }
