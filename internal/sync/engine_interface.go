// Package sync provides synchronization interfaces and implementations.
package sync

import (
	"context"
	"time"

	"github.com/kimhsiao/matchday/backend/internal/models"
)

// SyncEventType names a notification emitted by the engine.
type SyncEventType string

const (
	SyncEventStarted        SyncEventType = "sync.started"
	SyncEventCompleted      SyncEventType = "sync.completed"
	SyncEventFailed         SyncEventType = "sync.failed"
	SyncEventPendingChanged SyncEventType = "sync.pending_changed"
	SyncEventReconciled     SyncEventType = "sync.reconciled"
)

// SyncEvent is a notification delivered to the registered handler.
type SyncEvent struct {
	Type      SyncEventType          `json:"type"`
	Message   string                 `json:"message,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// SyncEventHandler receives engine notifications. Handlers run on the
// goroutine that emitted the event and must not block.
type SyncEventHandler interface {
	OnSyncEvent(event SyncEvent)
}

// SyncEventHandlerFunc adapts a function to SyncEventHandler.
type SyncEventHandlerFunc func(event SyncEvent)

// OnSyncEvent calls f(event).
func (f SyncEventHandlerFunc) OnSyncEvent(event SyncEvent) {
	f(event)
}

// SyncEngineInterface defines the interface for sync engine operations.
// This interface allows for mocking in tests and alternative implementations.
type SyncEngineInterface interface {
	// SaveData writes a record locally and then to the remote store, or
	// queues it when that is not possible.
	SaveData(ctx context.Context, table models.TableKind, record models.Record, op models.Operation) (models.SaveResult, error)

	// SyncPendingOperations drains the operation queue once.
	SyncPendingOperations(ctx context.Context) models.DrainResult

	// SyncAll drains the operation queue and then the offline match buffer.
	SyncAll(ctx context.Context) SyncReport

	// SetEventHandler sets the event handler for sync notifications.
	SetEventHandler(handler SyncEventHandler)

	// Status returns the current sync status.
	Status() SyncStatus

	// LastSync returns the timestamp of the last successful sync.
	LastSync() *time.Time

	// PendingChanges returns the number of pending changes to sync.
	PendingChanges() int

	// LastError returns the last error that occurred during sync.
	LastError() error
}
