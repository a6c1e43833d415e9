// Package ingest holds the ingestion queue and the background processor that drains it: each
// document is chunked, run through entity discovery chunk by chunk, and merged into the graph.
package ingest

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"go.uber.org/zap"

	"github.com/hyperjump/tsunagu/internal/events"
	"github.com/hyperjump/tsunagu/internal/fileid"
	"github.com/hyperjump/tsunagu/internal/models"
	"github.com/hyperjump/tsunagu/internal/storage"
)

const queueIDSize = 12

// Queue tracks QueuedDocuments in enqueue order. At most one item is processing at a time:
// Next refuses to hand out work while another item is processing.
type Queue struct {
	mu         sync.RWMutex
	items      map[string]*models.QueuedDocument
	order      []string
	processing string

	backend   storage.Storage  // optional
	publisher events.Publisher // optional
	logger    *zap.Logger      // optional
	now       func() time.Time
	notify    chan struct{}
}

// QueueOption configures a Queue.
type QueueOption func(*Queue)

// WithQueueLogger sets a logger for persistence failures.
func WithQueueLogger(l *zap.Logger) QueueOption {
	return func(q *Queue) { q.logger = l }
}

// WithQueueBackend persists queue items so status survives a restart.
func WithQueueBackend(s storage.Storage) QueueOption {
	return func(q *Queue) { q.backend = s }
}

// WithPublisher publishes a progress event for every change to an item.
func WithPublisher(p events.Publisher) QueueOption {
	return func(q *Queue) { q.publisher = p }
}

// WithQueueClock overrides time.Now.
func WithQueueClock(now func() time.Time) QueueOption {
	return func(q *Queue) { q.now = now }
}

// NewQueue creates an empty queue.
func NewQueue(opts ...QueueOption) *Queue {
	q := &Queue{
		items:  make(map[string]*models.QueuedDocument),
		now:    time.Now,
		notify: make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Load restores items from the backend. An item found processing was interrupted by a
// restart and is marked failed so it can be retried.
func (q *Queue) Load(ctx context.Context) error {
	if q.backend == nil {
		return nil
	}
	items, err := q.backend.ListQueueItems(ctx)
	if err != nil {
		return models.NewError(models.KindIngestion, "load queue", err)
	}
	var interrupted []models.QueuedDocument
	q.mu.Lock()
	for _, it := range items {
		if _, ok := q.items[it.ID]; ok {
			continue
		}
		if it.Status == models.StatusProcessing {
			it.Status = models.StatusFailed
			it.Error = "interrupted by restart"
			it.CurrentStep = string(models.StatusFailed)
			interrupted = append(interrupted, *it)
		}
		q.items[it.ID] = it
		q.order = append(q.order, it.ID)
	}
	q.mu.Unlock()
	for i := range interrupted {
		q.persist(ctx, interrupted[i])
	}
	q.signal()
	return nil
}

// Enqueue adds a pending item for doc and returns its queue id. An empty DocumentID is
// derived from the path, or generated.
func (q *Queue) Enqueue(ctx context.Context, doc models.DocumentInput) (string, error) {
	if strings.TrimSpace(doc.Content) == "" {
		return "", models.NewValidationError("content", "document content cannot be empty")
	}
	id, err := gonanoid.New(queueIDSize)
	if err != nil {
		return "", fmt.Errorf("failed to generate queue id: %w", err)
	}
	docID := doc.ID
	switch {
	case docID != "":
	case doc.Path != "":
		docID = fileid.FileDocID(doc.Path)
	default:
		docID = "doc:" + id
	}
	title := doc.Title
	if title == "" {
		title = doc.Path
	}
	if title == "" {
		title = docID
	}
	item := &models.QueuedDocument{
		ID:          id,
		DocumentID:  docID,
		Title:       title,
		Path:        doc.Path,
		Content:     doc.Content,
		Status:      models.StatusPending,
		CurrentStep: string(models.StatusPending),
		EnqueuedAt:  q.now().UTC(),
	}

	q.mu.Lock()
	q.items[id] = item
	q.order = append(q.order, id)
	snapshot := *item
	q.mu.Unlock()

	q.persist(ctx, snapshot)
	q.publish(snapshot)
	q.signal()
	return id, nil
}

// Get returns a copy of the item.
func (q *Queue) Get(id string) (models.QueuedDocument, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	it, ok := q.items[id]
	if !ok {
		return models.QueuedDocument{}, false
	}
	return *it, true
}

// List returns copies of every item in enqueue order.
func (q *Queue) List() []models.QueuedDocument {
	q.mu.RLock()
	defer q.mu.RUnlock()
	out := make([]models.QueuedDocument, 0, len(q.order))
	for _, id := range q.order {
		out = append(out, *q.items[id])
	}
	return out
}

// Counts returns the number of items per status.
func (q *Queue) Counts() map[models.QueueStatus]int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	out := make(map[models.QueueStatus]int)
	for _, it := range q.items {
		out[it.Status]++
	}
	return out
}

// Next marks the oldest pending item processing and returns it. It returns false when the
// queue has no pending item or another item is already processing.
func (q *Queue) Next(ctx context.Context) (models.QueuedDocument, bool) {
	q.mu.Lock()
	if q.processing != "" {
		q.mu.Unlock()
		return models.QueuedDocument{}, false
	}
	var picked *models.QueuedDocument
	for _, id := range q.order {
		if it := q.items[id]; it.Status == models.StatusPending {
			picked = it
			break
		}
	}
	if picked == nil {
		q.mu.Unlock()
		return models.QueuedDocument{}, false
	}
	started := q.now().UTC()
	picked.Status = models.StatusProcessing
	picked.CurrentStep = string(models.StatusProcessing)
	picked.StartedAt = &started
	q.processing = picked.ID
	snapshot := *picked
	q.mu.Unlock()

	q.persist(ctx, snapshot)
	q.publish(snapshot)
	return snapshot, true
}

// Update applies fn to a processing item, for progress reporting.
func (q *Queue) Update(ctx context.Context, id string, fn func(*models.QueuedDocument)) error {
	q.mu.Lock()
	it, ok := q.items[id]
	if !ok {
		q.mu.Unlock()
		return models.NewError(models.KindIngestion, "update", fmt.Errorf("queue item %s: %w", id, models.ErrNotFound))
	}
	if it.Status != models.StatusProcessing {
		q.mu.Unlock()
		return models.NewError(models.KindIngestion, "update", fmt.Errorf("queue item %s is %s, not processing", id, it.Status))
	}
	fn(it)
	it.Status = models.StatusProcessing
	snapshot := *it
	q.mu.Unlock()

	q.persist(ctx, snapshot)
	q.publish(snapshot)
	return nil
}

// Complete moves a processing item to completed.
func (q *Queue) Complete(ctx context.Context, id string) error {
	return q.transition(ctx, id, models.StatusCompleted, func(it *models.QueuedDocument) {
		done := q.now().UTC()
		it.Progress = 100
		it.CurrentStep = string(models.StatusCompleted)
		it.CompletedAt = &done
		it.Error = ""
	})
}

// Fail moves a processing item to failed with cause as its error message.
func (q *Queue) Fail(ctx context.Context, id string, cause error) error {
	return q.transition(ctx, id, models.StatusFailed, func(it *models.QueuedDocument) {
		done := q.now().UTC()
		it.CurrentStep = string(models.StatusFailed)
		it.CompletedAt = &done
		if cause != nil {
			it.Error = cause.Error()
		} else {
			it.Error = "failed"
		}
	})
}

// Retry moves a failed item back to pending, resetting progress, counters and error.
func (q *Queue) Retry(ctx context.Context, id string) error {
	err := q.transition(ctx, id, models.StatusPending, func(it *models.QueuedDocument) {
		it.Reset()
		it.CurrentStep = string(models.StatusPending)
	})
	if err == nil {
		q.signal()
	}
	return err
}

func (q *Queue) transition(ctx context.Context, id string, to models.QueueStatus, fn func(*models.QueuedDocument)) error {
	q.mu.Lock()
	it, ok := q.items[id]
	if !ok {
		q.mu.Unlock()
		return models.NewError(models.KindIngestion, string(to), fmt.Errorf("queue item %s: %w", id, models.ErrNotFound))
	}
	if !models.CanTransition(it.Status, to) {
		q.mu.Unlock()
		return models.NewValidationError("status", "cannot move queue item %s from %s to %s", id, it.Status, to)
	}
	fn(it)
	it.Status = to
	if q.processing == id {
		q.processing = ""
	}
	snapshot := *it
	q.mu.Unlock()

	q.persist(ctx, snapshot)
	q.publish(snapshot)
	return nil
}

// ClearCompleted removes completed items and returns how many were removed.
func (q *Queue) ClearCompleted(ctx context.Context) int {
	q.mu.Lock()
	var removed []string
	kept := q.order[:0]
	for _, id := range q.order {
		if q.items[id].Status == models.StatusCompleted {
			removed = append(removed, id)
			delete(q.items, id)
			continue
		}
		kept = append(kept, id)
	}
	q.order = kept
	q.mu.Unlock()

	if len(removed) > 0 && q.backend != nil {
		if err := q.backend.DeleteQueueItems(ctx, removed); err != nil && q.logger != nil {
			q.logger.Warn("failed to delete cleared queue items", zap.Int("count", len(removed)), zap.Error(err))
		}
	}
	return len(removed)
}

// Notify is signalled whenever new work may be available.
func (q *Queue) Notify() <-chan struct{} {
	return q.notify
}

func (q *Queue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *Queue) persist(ctx context.Context, item models.QueuedDocument) {
	if q.backend == nil {
		return
	}
	if err := q.backend.SaveQueueItem(ctx, &item); err != nil && q.logger != nil {
		q.logger.Warn("failed to persist queue item", zap.String("queue_id", item.ID), zap.Error(err))
	}
}

func (q *Queue) publish(item models.QueuedDocument) {
	if q.publisher == nil {
		return
	}
	q.publisher.Publish(events.New(events.TypeProgress, item))
}
