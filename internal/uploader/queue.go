// Package uploader replicates local blobs to the object store in the
// background. Ingest stays fast because replication is queued, retried
// with a fixed delay, and dead-lettered to disk when retries run out.
package uploader

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/mixfold/mixfold/internal/config"
	"github.com/mixfold/mixfold/internal/models"
	"github.com/mixfold/mixfold/internal/objectstore"
)

// Item is one pending replication. SegmentID is set when the upload backs
// a Segment row whose s3_key should be recorded on success.
type Item struct {
	LocalPath   string       `json:"local_path"`
	ObjectKey   string       `json:"object_key"`
	ContentType string       `json:"content_type"`
	SegmentID   *models.ULID `json:"segment_id,omitempty"`
	Retries     int          `json:"retries"`
}

// deadLetterEntry is the JSON snapshot written when an item is dropped.
type deadLetterEntry struct {
	Item
	FailedAt  models.Time `json:"failed_at"`
	LastError string      `json:"last_error"`
}

// SegmentKeyRecorder records the object key back on a Segment row.
// Satisfied by repository.SegmentRepository.
type SegmentKeyRecorder interface {
	SetObjectKey(ctx context.Context, id models.ULID, key string) error
}

// Queue is the process-wide upload queue. A single dispatcher loop feeds
// at most Concurrency workers; queue mutations are serialized by mu.
type Queue struct {
	store         objectstore.Store
	segments      SegmentKeyRecorder
	deadLetterDir string
	logger        *slog.Logger

	concurrency int
	retryDelay  time.Duration
	maxRetries  int

	mu      sync.Mutex
	cond    *sync.Cond
	items   []*Item
	stopped bool

	workers sync.WaitGroup
	done    chan struct{}
}

// New builds a Queue. The dead-letter directory is created eagerly so a
// failing disk surfaces at startup rather than at the first dropped item.
func New(store objectstore.Store, segments SegmentKeyRecorder, deadLetterDir string, cfg config.UploaderConfig, logger *slog.Logger) (*Queue, error) {
	if err := os.MkdirAll(deadLetterDir, 0750); err != nil {
		return nil, fmt.Errorf("creating dead-letter directory: %w", err)
	}
	q := &Queue{
		store:         store,
		segments:      segments,
		deadLetterDir: deadLetterDir,
		logger:        logger.With("component", "uploader"),
		concurrency:   cfg.Concurrency,
		retryDelay:    cfg.RetryDelay,
		maxRetries:    cfg.MaxRetries,
		done:          make(chan struct{}),
	}
	if q.concurrency < 1 {
		q.concurrency = 1
	}
	q.cond = sync.NewCond(&q.mu)
	return q, nil
}

// Start launches the dispatcher loop.
func (q *Queue) Start(ctx context.Context) {
	go q.dispatch(ctx)
}

// errQueueStopped is the dead-letter cause for items that arrive after
// shutdown, typically a delayed re-enqueue racing Stop.
var errQueueStopped = errors.New("upload queue stopped")

// Enqueue adds an item to the tail of the queue. Items enqueued after
// Stop are dead-lettered so a restart can pick them up via RetryFailed.
func (q *Queue) Enqueue(item *Item) {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		q.logger.Warn("queue stopped, dead-lettering upload", "key", item.ObjectKey)
		if err := q.deadLetter(item, errQueueStopped); err != nil {
			q.logger.Error("writing dead-letter snapshot failed", "key", item.ObjectKey, "error", err)
		}
		return
	}
	q.items = append(q.items, item)
	q.cond.Signal()
	q.mu.Unlock()
}

// Pending reports the number of queued items, not counting in-flight
// workers or delayed re-enqueues.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Stop prevents further dispatch, lets in-flight workers complete and
// returns. Queued items are abandoned; dead-letter items are untouched.
func (q *Queue) Stop() {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return
	}
	q.stopped = true
	q.cond.Broadcast()
	q.mu.Unlock()

	<-q.done
	q.workers.Wait()
	q.logger.Info("upload queue stopped")
}

func (q *Queue) dispatch(ctx context.Context) {
	defer close(q.done)
	slots := make(chan struct{}, q.concurrency)

	for {
		q.mu.Lock()
		for len(q.items) == 0 && !q.stopped {
			q.cond.Wait()
		}
		if q.stopped {
			q.mu.Unlock()
			return
		}
		item := q.items[0]
		q.items = q.items[1:]
		q.mu.Unlock()

		slots <- struct{}{}
		q.workers.Add(1)
		go func() {
			defer func() {
				<-slots
				q.workers.Done()
			}()
			q.process(ctx, item)
		}()
	}
}

func (q *Queue) process(ctx context.Context, item *Item) {
	err := q.upload(ctx, item)
	if err == nil {
		q.logger.Debug("uploaded", "key", item.ObjectKey, "retries", item.Retries)
		return
	}

	item.Retries++
	if item.Retries > q.maxRetries {
		q.logger.Error("upload exhausted retries, dead-lettering",
			"key", item.ObjectKey, "retries", item.Retries-1, "error", err)
		if dlErr := q.deadLetter(item, err); dlErr != nil {
			q.logger.Error("writing dead-letter snapshot failed", "key", item.ObjectKey, "error", dlErr)
		}
		return
	}

	q.logger.Warn("upload failed, re-enqueueing",
		"key", item.ObjectKey, "retry", item.Retries, "delay", q.retryDelay, "error", err)
	time.AfterFunc(q.retryDelay, func() {
		q.Enqueue(item)
	})
}

func (q *Queue) upload(ctx context.Context, item *Item) error {
	f, err := os.Open(item.LocalPath)
	if err != nil {
		return fmt.Errorf("opening local blob: %w", err)
	}
	defer f.Close()

	if err := q.store.Put(ctx, item.ObjectKey, f, item.ContentType); err != nil {
		return err
	}

	if item.SegmentID != nil {
		if err := q.segments.SetObjectKey(ctx, *item.SegmentID, item.ObjectKey); err != nil {
			// The object is uploaded; only the bookkeeping failed.
			q.logger.Error("recording object key on segment failed",
				"segment_id", item.SegmentID, "key", item.ObjectKey, "error", err)
		}
	}
	return nil
}

func (q *Queue) deadLetter(item *Item, cause error) error {
	entry := deadLetterEntry{
		Item:      *item,
		FailedAt:  models.Now(),
		LastError: cause.Error(),
	}
	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling dead-letter entry: %w", err)
	}

	name := fmt.Sprintf("%d_%s.json", time.Now().UnixNano(), filepath.Base(item.ObjectKey))
	path := filepath.Join(q.deadLetterDir, name)
	if err := os.WriteFile(path, data, 0640); err != nil {
		return fmt.Errorf("writing dead-letter file: %w", err)
	}
	return nil
}

// RetryFailed drains the dead-letter directory back into the queue with a
// fresh retry budget. Returns the number of items re-enqueued.
func (q *Queue) RetryFailed() (int, error) {
	entries, err := os.ReadDir(q.deadLetterDir)
	if err != nil {
		return 0, fmt.Errorf("reading dead-letter directory: %w", err)
	}

	requeued := 0
	for _, dirEntry := range entries {
		if dirEntry.IsDir() || filepath.Ext(dirEntry.Name()) != ".json" {
			continue
		}
		path := filepath.Join(q.deadLetterDir, dirEntry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			q.logger.Warn("skipping unreadable dead-letter file", "file", dirEntry.Name(), "error", err)
			continue
		}
		var entry deadLetterEntry
		if err := json.Unmarshal(data, &entry); err != nil {
			q.logger.Warn("skipping malformed dead-letter file", "file", dirEntry.Name(), "error", err)
			continue
		}

		item := entry.Item
		item.Retries = 0
		q.Enqueue(&item)
		requeued++

		if err := os.Remove(path); err != nil {
			q.logger.Warn("removing dead-letter file failed", "file", dirEntry.Name(), "error", err)
		}
	}

	if requeued > 0 {
		q.logger.Info("re-enqueued dead-letter items", "count", requeued)
	}
	return requeued, nil
}
