// Package sync provides the offline-first sync engine: the single entry point
// for client mutations and the drains that replay them against the remote
// store.
package sync

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/kimhsiao/matchday/backend/internal/connectivity"
	"github.com/kimhsiao/matchday/backend/internal/db"
	apperrors "github.com/kimhsiao/matchday/backend/internal/errors"
	"github.com/kimhsiao/matchday/backend/internal/logging"
	"github.com/kimhsiao/matchday/backend/internal/models"
	"github.com/kimhsiao/matchday/backend/internal/remote"
	"github.com/kimhsiao/matchday/backend/internal/store"
	"github.com/kimhsiao/matchday/backend/internal/sync/offline"
	"github.com/kimhsiao/matchday/backend/internal/sync/queue"
	"github.com/kimhsiao/matchday/backend/internal/uuid"
)

// SyncStatus represents the current sync status.
type SyncStatus string

const (
	SyncStatusIdle    SyncStatus = "idle"
	SyncStatusSyncing SyncStatus = "syncing"
	SyncStatusFailed  SyncStatus = "failed"
)

// SyncReport is the outcome of SyncAll.
type SyncReport struct {
	Offline models.SyncResult  `json:"offline"`
	Queue   models.DrainResult `json:"queue"`
}

// SyncEngine provides synchronization capabilities.
type SyncEngine struct {
	store  *store.Store
	queue  *queue.SyncQueue
	buffer *offline.Buffer
	remote remote.Store
	kv     db.KV
	log    *logging.Logger

	mu       sync.Mutex
	monitor  *connectivity.Monitor
	handler  SyncEventHandler
	status   SyncStatus
	lastSync *time.Time
	lastErr  error

	// idMu serializes read-modify-write of the id map.
	idMu sync.Mutex
}

var _ SyncEngineInterface = (*SyncEngine)(nil)

// NewSyncEngine creates a new SyncEngine. kv holds the id reconciliation map.
// A nil buffer disables the live-match path.
func NewSyncEngine(st *store.Store, q *queue.SyncQueue, buf *offline.Buffer, rs remote.Store, kv db.KV) *SyncEngine {
	e := &SyncEngine{
		store:  st,
		queue:  q,
		buffer: buf,
		remote: rs,
		kv:     kv,
		log:    logging.Component("sync"),
		status: SyncStatusIdle,
	}
	if buf != nil {
		buf.SetResolver(e.ResolveID)
	}
	return e
}

// SetMonitor makes m the source of the online predicate.
func (e *SyncEngine) SetMonitor(m *connectivity.Monitor) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.monitor = m
}

// BindConnectivity makes m the source of the online predicate and drains
// everything on each offline to online edge. The returned func unbinds the
// drain trigger.
func (e *SyncEngine) BindConnectivity(ctx context.Context, m *connectivity.Monitor) func() {
	e.SetMonitor(m)
	return m.OnOnline(func() {
		e.log.Info("connectivity restored, draining pending data")
		e.SyncAll(ctx)
	})
}

// IsOnline reports the bound monitor's predicate. Without a monitor the
// engine assumes it is online and lets requests fail.
func (e *SyncEngine) IsOnline() bool {
	e.mu.Lock()
	m := e.monitor
	e.mu.Unlock()
	return m == nil || m.IsOnline()
}

// SetEventHandler sets the event handler for sync notifications.
func (e *SyncEngine) SetEventHandler(handler SyncEventHandler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handler = handler
}

func (e *SyncEngine) emitEvent(event SyncEvent) {
	e.mu.Lock()
	h := e.handler
	e.mu.Unlock()
	if h == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	h.OnSyncEvent(event)
}

func (e *SyncEngine) emitPending() {
	e.emitEvent(SyncEvent{
		Type: SyncEventPendingChanged,
		Data: map[string]interface{}{"pending": e.PendingChanges()},
	})
}

// Status returns the current sync status.
func (e *SyncEngine) Status() SyncStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// LastSync returns the timestamp of the last successful sync.
func (e *SyncEngine) LastSync() *time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastSync
}

// PendingChanges returns the queued operations plus the buffered match writes.
func (e *SyncEngine) PendingChanges() int {
	ctx := context.Background()
	n := e.queue.Size(ctx)
	if e.buffer != nil {
		n += e.buffer.GetPendingCount(ctx)
	}
	return n
}

// LastError returns the last sync error.
func (e *SyncEngine) LastError() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastErr
}

// =====================================================
// Writes
// =====================================================

// SaveData persists record locally, tagged tentative, and then tries the
// remote store when online. A write that cannot be confirmed is queued and
// still reported as accepted. INSERT without an id gets a temporary id.
func (e *SyncEngine) SaveData(ctx context.Context, table models.TableKind, record models.Record, op models.Operation) (models.SaveResult, error) {
	if !table.Valid() {
		return models.SaveResult{}, apperrors.New(apperrors.ErrUnknownTable, fmt.Sprintf("unknown table %q", table))
	}
	if _, err := models.ParseOperation(string(op)); err != nil {
		return models.SaveResult{}, err
	}

	rec := e.resolveRecord(ctx, record)
	id := rec.ID()
	if id == "" {
		if op != models.OperationInsert {
			return models.SaveResult{}, apperrors.New(apperrors.ErrInvalid, fmt.Sprintf("%s requires an id", op))
		}
		id = uuid.NewTemp()
		rec[models.FieldID] = id
	}

	payload, ok := e.saveLocal(ctx, table, op, rec)
	if !ok {
		return models.SaveResult{ID: id}, apperrors.New(apperrors.ErrStorage, fmt.Sprintf("failed to save %s/%s locally", table, id))
	}

	// Operations already queued for this record must replay first.
	if !e.IsOnline() || e.queue.HasPendingFor(ctx, id) {
		return e.enqueue(ctx, table, op, id, payload)
	}

	serverID, err := e.apply(ctx, table, op, id, payload)
	if err != nil {
		e.log.Warn("remote write failed, queued for retry", map[string]interface{}{
			"table": table, "op": op, "id": id, "error": err.Error(),
		})
		return e.enqueue(ctx, table, op, id, payload)
	}
	e.confirm(ctx, table, op, id, serverID)
	return models.SaveResult{ID: serverID, Synced: true}, nil
}

// saveLocal writes the tentative local state and returns the payload to
// replay. UPDATE merges into the stored record; DELETE keeps the removed
// record as payload so a rejected delete can be restored.
func (e *SyncEngine) saveLocal(ctx context.Context, table models.TableKind, op models.Operation, rec models.Record) (models.Record, bool) {
	id := rec.ID()
	existing := e.store.GetByID(ctx, table, id)

	if op == models.OperationDelete {
		payload := models.Record{models.FieldID: id}
		if existing != nil {
			payload = existing.Remote()
		}
		return payload, e.store.Delete(ctx, table, id)
	}

	merged := rec
	if existing != nil {
		merged = existing.Merge(rec)
	}
	local := merged.Clone()
	local[models.FieldSynced] = 0
	local[models.FieldPending] = 1
	delete(local, models.FieldSyncError)
	return merged.Remote(), e.store.Upsert(ctx, table, local)
}

func (e *SyncEngine) enqueue(ctx context.Context, table models.TableKind, op models.Operation,
	id string, payload models.Record) (models.SaveResult, error) {
	if _, err := e.queue.Enqueue(ctx, table, op, id, payload); err != nil {
		e.log.ErrorWithCode("failed to queue operation", string(apperrors.ErrStorage), err,
			map[string]interface{}{"table": table, "op": op, "id": id})
		return models.SaveResult{ID: id}, apperrors.Wrap(apperrors.ErrStorage, "failed to queue operation", err)
	}
	e.emitPending()
	return models.SaveResult{ID: id, Queued: true}, nil
}

// apply performs one mutation against the remote store and returns the id the
// remote store holds the record under. Temporary ids are sent as their stable
// UUID so a replay after an ambiguous failure upserts the same row.
func (e *SyncEngine) apply(ctx context.Context, table models.TableKind, op models.Operation,
	id string, payload models.Record) (string, error) {
	name := table.RemoteName()
	sendID := id
	if uuid.IsTemp(id) {
		sendID = uuid.Stable(id)
	}

	if op == models.OperationDelete {
		return id, e.remote.Delete(ctx, name, sendID)
	}

	body := e.resolveRecord(ctx, payload).Remote()
	body[models.FieldID] = sendID
	stored, err := e.remote.Upsert(ctx, name, body)
	if err != nil {
		return "", err
	}
	if sid := stored.ID(); sid != "" {
		return sid, nil
	}
	return sendID, nil
}

// confirm finalizes a write the remote store accepted. The local record stays
// tentative while any operation for it, earlier or later, is still queued.
func (e *SyncEngine) confirm(ctx context.Context, table models.TableKind, op models.Operation,
	localID, serverID string) {
	if op == models.OperationDelete {
		return
	}
	if serverID != localID {
		e.reconcile(ctx, table, localID, serverID)
	}
	if !e.queue.HasPendingFor(ctx, localID, serverID) {
		e.store.MarkSynced(ctx, table, serverID)
	}
}

// =====================================================
// Drains
// =====================================================

// begin claims the drain slot. A drain requested while another runs is
// dropped, not queued.
func (e *SyncEngine) begin() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.status == SyncStatusSyncing {
		return false
	}
	e.status = SyncStatusSyncing
	e.lastErr = nil
	return true
}

// abort releases the drain slot without recording an outcome.
func (e *SyncEngine) abort() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.status = SyncStatusIdle
}

func (e *SyncEngine) finish(err error, data map[string]interface{}) {
	e.mu.Lock()
	if err != nil {
		e.status = SyncStatusFailed
		e.lastErr = err
	} else {
		e.status = SyncStatusIdle
		now := time.Now()
		e.lastSync = &now
	}
	e.mu.Unlock()

	if err != nil {
		e.emitEvent(SyncEvent{Type: SyncEventFailed, Message: err.Error(), Data: data})
	} else {
		e.emitEvent(SyncEvent{Type: SyncEventCompleted, Data: data})
	}
	e.emitPending()
}

func inProgress() models.DrainResult {
	return models.DrainResult{InProgress: true, Message: "sync already in progress"}
}

func offlineResult() models.DrainResult {
	return models.DrainResult{Offline: true, Message: "offline"}
}

// SyncPendingOperations replays the operation queue once, in enqueue order.
// A failing item never stops the batch, but later operations on the same
// record wait for the next pass.
func (e *SyncEngine) SyncPendingOperations(ctx context.Context) models.DrainResult {
	if !e.begin() {
		return inProgress()
	}
	if !e.IsOnline() {
		e.abort()
		return offlineResult()
	}
	e.emitEvent(SyncEvent{Type: SyncEventStarted, Message: "queue"})

	res, err := e.drainQueue(ctx)
	e.finish(err, drainData(res))
	return res
}

// SyncAll replays the operation queue and then the offline match buffer
// (updates, then events). Queue first: buffered events may reference a match
// whose insert is still queued.
func (e *SyncEngine) SyncAll(ctx context.Context) SyncReport {
	if !e.begin() {
		return SyncReport{Offline: models.SyncResult{Skipped: true}, Queue: inProgress()}
	}
	if !e.IsOnline() {
		e.abort()
		return SyncReport{Offline: models.SyncResult{Skipped: true}, Queue: offlineResult()}
	}
	e.emitEvent(SyncEvent{Type: SyncEventStarted, Message: "all"})

	var report SyncReport
	res, err := e.drainQueue(ctx)
	report.Queue = res
	if e.buffer != nil && err == nil {
		report.Offline = e.buffer.SyncPendingData(ctx)
	}

	data := drainData(res)
	data["events_synced"] = report.Offline.EventsSync.Success
	data["events_failed"] = report.Offline.EventsSync.Failed
	data["match_updates_synced"] = report.Offline.MatchUpdatesSync.Success
	data["match_updates_failed"] = report.Offline.MatchUpdatesSync.Failed
	e.finish(err, data)
	return report
}

// ReportError maps a SyncAll report from e to the error a caller should
// surface, or nil when the run completed.
func ReportError(e SyncEngineInterface, report SyncReport) error {
	switch {
	case report.Queue.InProgress:
		return apperrors.New(apperrors.ErrSyncInProgress, "sync already in progress")
	case report.Queue.Offline:
		return apperrors.New(apperrors.ErrSyncOffline, "device is offline")
	case e.Status() == SyncStatusFailed:
		return apperrors.Wrap(apperrors.ErrSyncFailed, "sync failed", e.LastError())
	}
	return nil
}

func drainData(res models.DrainResult) map[string]interface{} {
	return map[string]interface{}{
		"synced":        res.Synced,
		"errors":        res.Errors,
		"dead_lettered": res.DeadLettered,
		"deferred":      res.Deferred,
	}
}

func (e *SyncEngine) drainQueue(ctx context.Context) (models.DrainResult, error) {
	items, err := e.queue.DequeueAll(ctx)
	if err != nil {
		return models.DrainResult{Message: err.Error()}, apperrors.Wrap(apperrors.ErrStorage, "failed to read operation queue", err)
	}

	res := models.DrainResult{Success: true}
	// Records with a failed operation in this pass; later writes on them must
	// not overtake the retry.
	held := map[string]bool{}
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			res.Success = false
			res.Message = err.Error()
			return res, apperrors.Wrap(apperrors.ErrSyncFailed, "drain interrupted", err)
		}
		if !item.TableName.Valid() {
			e.fail(ctx, item, apperrors.New(apperrors.ErrUnknownTable,
				fmt.Sprintf("table %q is not eligible for sync", item.TableName)), true, &res)
			continue
		}

		id := e.ResolveID(ctx, item.RecordID)
		if held[item.RecordID] || held[id] {
			res.Deferred++
			continue
		}
		serverID, err := e.apply(ctx, item.TableName, item.Operation, id, item.Payload)
		if err != nil {
			held[item.RecordID], held[id] = true, true
			e.fail(ctx, item, err, remote.IsPermanent(err), &res)
			continue
		}
		if err := e.queue.Remove(ctx, item.ID); err != nil {
			e.log.Error("failed to remove replayed operation", err, map[string]interface{}{"queue_id": item.ID})
		}
		res.Synced++
		e.confirm(ctx, item.TableName, item.Operation, id, serverID)
	}

	if res.Synced+res.Errors+res.Deferred > 0 {
		e.log.Info("operation queue drained", drainData(res))
	}
	return res, nil
}

func (e *SyncEngine) fail(ctx context.Context, item models.QueuedOperation, cause error, permanent bool, res *models.DrainResult) {
	res.Errors++
	dead, err := e.queue.RecordFailure(ctx, item.ID, cause.Error(), permanent)
	if err != nil {
		e.log.Error("failed to record operation failure", err, map[string]interface{}{"queue_id": item.ID})
		return
	}
	if dead {
		res.DeadLettered++
		e.rollback(ctx, item, cause)
	}
}

// rollback undoes the tentative local effect of an operation that will not be
// replayed again. A tentative insert disappears; an update or delete is
// flagged with the rejection so it can be resolved by hand.
func (e *SyncEngine) rollback(ctx context.Context, item models.QueuedOperation, cause error) {
	if !item.TableName.Valid() {
		return
	}
	id := e.ResolveID(ctx, item.RecordID)
	switch item.Operation {
	case models.OperationInsert:
		e.store.Delete(ctx, item.TableName, id)
	case models.OperationUpdate:
		e.store.Update(ctx, item.TableName, id, models.Record{
			models.FieldPending:   0,
			models.FieldSyncError: cause.Error(),
		})
	case models.OperationDelete:
		restored := e.resolveRecord(ctx, item.Payload)
		restored[models.FieldID] = id
		restored[models.FieldSynced] = 0
		restored[models.FieldSyncError] = cause.Error()
		e.store.Upsert(ctx, item.TableName, restored)
	}
	fields := map[string]interface{}{
		"table": item.TableName, "op": item.Operation, "id": id, "error": cause.Error(),
	}
	if created, ok := uuid.TempCreatedAt(item.RecordID); ok {
		fields["created_offline_at"] = created.UTC().Format(time.RFC3339)
	}
	e.log.Warn("rolled back rejected write", fields)
}

// RetryDeadLetters revives every dead-lettered operation.
func (e *SyncEngine) RetryDeadLetters(ctx context.Context) (int, error) {
	n, err := e.queue.RetryAll(ctx)
	if err != nil {
		return 0, apperrors.Wrap(apperrors.ErrStorage, "failed to reset dead letters", err)
	}
	if n > 0 {
		e.emitPending()
	}
	return n, nil
}

// =====================================================
// Live match
// =====================================================

// RecordMatchEvent applies a live-match event optimistically through the
// offline buffer and replays it right away when online.
func (e *SyncEngine) RecordMatchEvent(ctx context.Context, ev models.OfflineMatchEvent) (models.OfflineMatchEvent, error) {
	if e.buffer == nil {
		return ev, apperrors.New(apperrors.ErrInternal, "live match buffer not configured")
	}
	ev.MatchID = e.ResolveID(ctx, ev.MatchID)
	saved, err := e.buffer.RegisterEvent(ctx, ev)
	if err != nil {
		return saved, err
	}
	e.afterBuffered(ctx)
	return saved, nil
}

// UpdateMatchState records a match clock/state patch through the offline
// buffer and replays it right away when online.
func (e *SyncEngine) UpdateMatchState(ctx context.Context, matchID string, patch models.Record) (models.OfflineMatchUpdate, error) {
	if e.buffer == nil {
		return models.OfflineMatchUpdate{}, apperrors.New(apperrors.ErrInternal, "live match buffer not configured")
	}
	upd, err := e.buffer.SaveMatchUpdateOffline(ctx, e.ResolveID(ctx, matchID), patch)
	if err != nil {
		return upd, err
	}
	e.afterBuffered(ctx)
	return upd, nil
}

func (e *SyncEngine) afterBuffered(ctx context.Context) {
	if e.IsOnline() {
		e.SyncAll(ctx)
		return
	}
	e.emitPending()
}

// =====================================================
// Logout
// =====================================================

// Logout removes every piece of local state scoped to the signed-in user:
// records, queued operations, both offline buffers with their snapshot cache,
// and the id map.
func (e *SyncEngine) Logout(ctx context.Context) error {
	var failed []string
	if !e.store.ClearAll(ctx) {
		failed = append(failed, "records")
	}
	if err := e.queue.Clear(ctx); err != nil {
		e.log.Error("failed to clear operation queue", err)
		failed = append(failed, "queue")
	}
	if e.buffer != nil {
		if err := e.buffer.Clear(ctx); err != nil {
			e.log.Error("failed to clear offline buffer", err)
			failed = append(failed, "offline buffer")
		}
	}
	if err := e.clearIDMap(ctx); err != nil {
		e.log.Error("failed to clear id map", err)
		failed = append(failed, "id map")
	}

	e.mu.Lock()
	e.lastSync = nil
	e.lastErr = nil
	e.mu.Unlock()
	e.emitPending()

	if len(failed) > 0 {
		return apperrors.New(apperrors.ErrStorage, "logout left state behind: "+strings.Join(failed, ", "))
	}
	e.log.Info("local state cleared")
	return nil
}
