package uploader

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mixfold/mixfold/internal/config"
	"github.com/mixfold/mixfold/internal/models"
	"github.com/mixfold/mixfold/internal/objectstore"
)

type recorderStub struct {
	mu   sync.Mutex
	keys map[models.ULID]string
}

func newRecorderStub() *recorderStub {
	return &recorderStub{keys: make(map[models.ULID]string)}
}

func (r *recorderStub) SetObjectKey(ctx context.Context, id models.ULID, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.keys[id] = key
	return nil
}

func (r *recorderStub) get(id models.ULID) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.keys[id]
}

func testQueue(t *testing.T, store objectstore.Store, recorder SegmentKeyRecorder) (*Queue, string) {
	t.Helper()
	dlDir := filepath.Join(t.TempDir(), ".failed_uploads")
	cfg := config.UploaderConfig{
		Concurrency: 2,
		RetryDelay:  5 * time.Millisecond,
		MaxRetries:  2,
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	q, err := New(store, recorder, dlDir, cfg, logger)
	require.NoError(t, err)
	return q, dlDir
}

func writeBlob(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "blob.flac")
	require.NoError(t, os.WriteFile(path, []byte(content), 0640))
	return path
}

func TestQueue_UploadRecordsObjectKey(t *testing.T) {
	store := objectstore.NewMemoryStore()
	recorder := newRecorderStub()
	q, _ := testQueue(t, store, recorder)

	q.Start(context.Background())
	defer q.Stop()

	id := models.NewULID()
	q.Enqueue(&Item{
		LocalPath:   writeBlob(t, "flac bytes"),
		ObjectKey:   "segments/s1/a.flac",
		ContentType: "audio/flac",
		SegmentID:   &id,
	})

	require.Eventually(t, func() bool {
		return recorder.get(id) == "segments/s1/a.flac"
	}, 2*time.Second, 5*time.Millisecond)

	rc, err := store.Get(context.Background(), "segments/s1/a.flac")
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "flac bytes", string(data))
}

func TestQueue_RetriesThenSucceeds(t *testing.T) {
	store := objectstore.NewMemoryStore()
	store.SetPutErr(errors.New("endpoint down"))
	q, dlDir := testQueue(t, store, newRecorderStub())

	q.Start(context.Background())
	defer q.Stop()

	q.Enqueue(&Item{
		LocalPath:   writeBlob(t, "x"),
		ObjectKey:   "segments/s1/a.flac",
		ContentType: "audio/flac",
	})

	// Let the first attempt fail, then heal the store.
	require.Eventually(t, func() bool { return store.PutCalls() >= 1 }, time.Second, time.Millisecond)
	store.SetPutErr(nil)

	require.Eventually(t, func() bool { return store.Len() == 1 }, 2*time.Second, 5*time.Millisecond)

	entries, err := os.ReadDir(dlDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestQueue_DeadLettersAfterExhaustion(t *testing.T) {
	store := objectstore.NewMemoryStore()
	store.SetPutErr(errors.New("endpoint down"))
	q, dlDir := testQueue(t, store, newRecorderStub())

	q.Start(context.Background())
	defer q.Stop()

	q.Enqueue(&Item{
		LocalPath:   writeBlob(t, "x"),
		ObjectKey:   "segments/s1/a.flac",
		ContentType: "audio/flac",
	})

	// initial attempt + 2 retries, then the snapshot lands on disk
	require.Eventually(t, func() bool {
		entries, err := os.ReadDir(dlDir)
		return err == nil && len(entries) == 1
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, 3, store.PutCalls())
	assert.Zero(t, store.Len())
}

func TestQueue_RetryFailedDrainsDeadLetters(t *testing.T) {
	store := objectstore.NewMemoryStore()
	store.SetPutErr(errors.New("endpoint down"))
	q, dlDir := testQueue(t, store, newRecorderStub())

	q.Start(context.Background())
	defer q.Stop()

	q.Enqueue(&Item{
		LocalPath:   writeBlob(t, "x"),
		ObjectKey:   "segments/s1/a.flac",
		ContentType: "audio/flac",
	})
	require.Eventually(t, func() bool {
		entries, err := os.ReadDir(dlDir)
		return err == nil && len(entries) == 1
	}, 2*time.Second, 5*time.Millisecond)

	store.SetPutErr(nil)
	requeued, err := q.RetryFailed()
	require.NoError(t, err)
	assert.Equal(t, 1, requeued)

	require.Eventually(t, func() bool { return store.Len() == 1 }, 2*time.Second, 5*time.Millisecond)

	entries, err := os.ReadDir(dlDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestQueue_StopDeadLettersLateEnqueues(t *testing.T) {
	store := objectstore.NewMemoryStore()
	q, dlDir := testQueue(t, store, newRecorderStub())

	q.Start(context.Background())
	q.Stop()

	// A delayed re-enqueue landing after Stop must survive as a
	// dead-letter snapshot instead of vanishing.
	blob := filepath.Join(t.TempDir(), "late.flac")
	require.NoError(t, os.WriteFile(blob, []byte("audio"), 0640))
	q.Enqueue(&Item{LocalPath: blob, ObjectKey: "segments/s1/late.flac", ContentType: "audio/flac"})
	assert.Zero(t, q.Pending())

	entries, err := os.ReadDir(dlDir)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	// A fresh queue drains the snapshot on restart.
	q2, _ := testQueue(t, store, newRecorderStub())
	q2.deadLetterDir = dlDir
	q2.Start(context.Background())
	defer q2.Stop()

	requeued, err := q2.RetryFailed()
	require.NoError(t, err)
	assert.Equal(t, 1, requeued)
	assert.Eventually(t, func() bool { return store.Len() == 1 }, time.Second, 5*time.Millisecond)
}
