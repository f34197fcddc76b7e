// Package queue provides the durable operation queue: an ordered log of
// mutations waiting to be replayed against the remote store.
package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kimhsiao/matchday/backend/internal/db"
	apperrors "github.com/kimhsiao/matchday/backend/internal/errors"
	"github.com/kimhsiao/matchday/backend/internal/logging"
	"github.com/kimhsiao/matchday/backend/internal/models"
)

// KV keys owned by the queue.
const (
	KeyQueue    = "sync_queue"
	KeySequence = "sync_queue_seq"
)

// DefaultMaxAttempts is the replay attempt cap after which an operation is
// dead-lettered.
const DefaultMaxAttempts = 10

// Stats summarizes the queue contents.
type Stats struct {
	Total   int `json:"total"`
	Pending int `json:"pending"`
	Dead    int `json:"dead"`
}

// SyncQueue is the durable FIFO of pending mutations. The whole queue is one
// snapshot in the KV store; every mutation rewrites it.
type SyncQueue struct {
	kv          db.KV
	maxAttempts int
	log         *logging.Logger
	now         func() time.Time

	mu sync.Mutex
}

// NewSyncQueue creates a queue over kv. maxAttempts <= 0 disables the attempt
// cap; permanent rejections still dead-letter.
func NewSyncQueue(kv db.KV, maxAttempts int) *SyncQueue {
	return &SyncQueue{
		kv:          kv,
		maxAttempts: maxAttempts,
		log:         logging.Component("sync_queue"),
		now:         time.Now,
	}
}

// MaxAttempts returns the configured attempt cap.
func (q *SyncQueue) MaxAttempts() int {
	return q.maxAttempts
}

// SetMaxAttempts changes the attempt cap, e.g. on config reload.
func (q *SyncQueue) SetMaxAttempts(n int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.maxAttempts = n
}

func (q *SyncQueue) load(ctx context.Context) ([]models.QueuedOperation, error) {
	var items []models.QueuedOperation
	if _, err := db.LoadValue(ctx, q.kv, KeyQueue, &items); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorage, "failed to read sync queue", err)
	}
	return items, nil
}

func (q *SyncQueue) save(ctx context.Context, items []models.QueuedOperation) error {
	if err := db.StoreValue(ctx, q.kv, KeyQueue, items); err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, "failed to write sync queue", err)
	}
	return nil
}

// nextID returns the next monotonic queue id. Ids are never reused, even after
// the queue empties.
func (q *SyncQueue) nextID(ctx context.Context, items []models.QueuedOperation) (int64, error) {
	var seq int64
	if _, err := db.LoadValue(ctx, q.kv, KeySequence, &seq); err != nil {
		return 0, apperrors.Wrap(apperrors.ErrStorage, "failed to read queue sequence", err)
	}
	for _, it := range items {
		if it.ID > seq {
			seq = it.ID
		}
	}
	seq++
	if err := db.StoreValue(ctx, q.kv, KeySequence, seq); err != nil {
		return 0, apperrors.Wrap(apperrors.ErrStorage, "failed to write queue sequence", err)
	}
	return seq, nil
}

// Enqueue appends an operation with attempts = 0 and returns its queue id.
func (q *SyncQueue) Enqueue(ctx context.Context, table models.TableKind, op models.Operation,
	recordID string, payload models.Record) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	items, err := q.load(ctx)
	if err != nil {
		return 0, err
	}
	id, err := q.nextID(ctx, items)
	if err != nil {
		return 0, err
	}

	item := models.QueuedOperation{
		ID:        id,
		TableName: table,
		Operation: op,
		RecordID:  recordID,
		Payload:   payload.Clone(),
		CreatedAt: q.now().UTC(),
		Status:    models.QueueStatusPending,
	}
	if err := q.save(ctx, append(items, item)); err != nil {
		return 0, err
	}

	q.log.Debug("enqueued operation", map[string]interface{}{
		"queue_id": id, "table": table, "operation": op, "record_id": recordID,
	})
	return id, nil
}

// DequeueAll returns every replayable operation in enqueue order without
// removing it. Dead-lettered operations are skipped.
func (q *SyncQueue) DequeueAll(ctx context.Context) ([]models.QueuedOperation, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	items, err := q.load(ctx)
	if err != nil {
		return nil, err
	}
	pending := make([]models.QueuedOperation, 0, len(items))
	for _, it := range items {
		if !it.Dead() {
			pending = append(pending, it)
		}
	}
	return pending, nil
}

// HasPendingFor reports whether a replayable operation targets any of ids.
func (q *SyncQueue) HasPendingFor(ctx context.Context, ids ...string) bool {
	items, err := q.DequeueAll(ctx)
	if err != nil {
		q.log.Error("failed to read queue", err)
		return false
	}
	for _, it := range items {
		for _, id := range ids {
			if id != "" && it.RecordID == id {
				return true
			}
		}
	}
	return false
}

// List returns every operation, dead ones included, in enqueue order.
func (q *SyncQueue) List(ctx context.Context) ([]models.QueuedOperation, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.load(ctx)
}

// DeadLetters returns the operations that need manual resolution.
func (q *SyncQueue) DeadLetters(ctx context.Context) ([]models.QueuedOperation, error) {
	items, err := q.List(ctx)
	if err != nil {
		return nil, err
	}
	var dead []models.QueuedOperation
	for _, it := range items {
		if it.Dead() {
			dead = append(dead, it)
		}
	}
	return dead, nil
}

// Get returns a single operation.
func (q *SyncQueue) Get(ctx context.Context, id int64) (models.QueuedOperation, error) {
	items, err := q.List(ctx)
	if err != nil {
		return models.QueuedOperation{}, err
	}
	for _, it := range items {
		if it.ID == id {
			return it, nil
		}
	}
	return models.QueuedOperation{}, notFound(id)
}

// Remove deletes an operation after a confirmed replay.
func (q *SyncQueue) Remove(ctx context.Context, id int64) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	items, err := q.load(ctx)
	if err != nil {
		return err
	}
	for i, it := range items {
		if it.ID == id {
			return q.save(ctx, append(items[:i], items[i+1:]...))
		}
	}
	return notFound(id)
}

// RecordFailure increments attempts and stores the error. The operation is
// dead-lettered when permanent is set or the attempt cap is reached; the
// return value reports whether that happened.
func (q *SyncQueue) RecordFailure(ctx context.Context, id int64, message string, permanent bool) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	items, err := q.load(ctx)
	if err != nil {
		return false, err
	}
	for i := range items {
		it := &items[i]
		if it.ID != id {
			continue
		}
		it.Attempts++
		it.LastError = message
		dead := permanent || (q.maxAttempts > 0 && it.Attempts >= q.maxAttempts)
		if dead {
			it.Status = models.QueueStatusDead
		}
		if err := q.save(ctx, items); err != nil {
			return false, err
		}
		if dead {
			q.log.Warn("operation dead-lettered", map[string]interface{}{
				"queue_id": id, "table": it.TableName, "attempts": it.Attempts, "error": message,
			})
		} else {
			q.log.Debug("operation failed, will retry", map[string]interface{}{
				"queue_id": id, "attempts": it.Attempts, "error": message,
			})
		}
		return dead, nil
	}
	return false, notFound(id)
}

// RetryAll moves every dead-lettered operation back to pending with a fresh
// attempt counter. It returns how many were revived.
func (q *SyncQueue) RetryAll(ctx context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	items, err := q.load(ctx)
	if err != nil {
		return 0, err
	}
	count := 0
	for i := range items {
		if items[i].Dead() {
			items[i].Status = models.QueueStatusPending
			items[i].Attempts = 0
			items[i].LastError = ""
			count++
		}
	}
	if count == 0 {
		return 0, nil
	}
	if err := q.save(ctx, items); err != nil {
		return 0, err
	}
	q.log.Info("reset dead-lettered operations for retry", map[string]interface{}{"count": count})
	return count, nil
}

// RewriteReferences replaces every occurrence of tempID, as the record id or
// as any payload value, with serverID. It returns the number of operations
// touched.
func (q *SyncQueue) RewriteReferences(ctx context.Context, tempID, serverID string) (int, error) {
	if tempID == serverID {
		return 0, nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	items, err := q.load(ctx)
	if err != nil {
		return 0, err
	}
	touched := 0
	for i := range items {
		it := &items[i]
		changed := false
		if it.RecordID == tempID {
			it.RecordID = serverID
			changed = true
		}
		for k, v := range it.Payload {
			if s, ok := v.(string); ok && s == tempID {
				it.Payload[k] = serverID
				changed = true
			}
		}
		if changed {
			touched++
		}
	}
	if touched == 0 {
		return 0, nil
	}
	if err := q.save(ctx, items); err != nil {
		return 0, err
	}
	return touched, nil
}

// Size returns the number of replayable operations.
func (q *SyncQueue) Size(ctx context.Context) int {
	stats, err := q.GetStats(ctx)
	if err != nil {
		q.log.Error("failed to count queue", err)
		return 0
	}
	return stats.Pending
}

// GetStats returns queue statistics.
func (q *SyncQueue) GetStats(ctx context.Context) (Stats, error) {
	items, err := q.List(ctx)
	if err != nil {
		return Stats{}, err
	}
	var stats Stats
	for _, it := range items {
		stats.Total++
		if it.Dead() {
			stats.Dead++
		} else {
			stats.Pending++
		}
	}
	return stats, nil
}

// Clear removes every operation. The id sequence is kept so ids stay unique
// across the device lifetime.
func (q *SyncQueue) Clear(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.kv.Delete(ctx, KeyQueue); err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, "failed to clear sync queue", err)
	}
	q.log.Info("queue cleared")
	return nil
}

func notFound(id int64) error {
	return apperrors.New(apperrors.ErrQueueItemNotFound, fmt.Sprintf("queue item %d not found", id))
}
