package sync

import (
	"context"
	"errors"

	"github.com/kimhsiao/matchday/backend/internal/db"
	"github.com/kimhsiao/matchday/backend/internal/models"
	"github.com/kimhsiao/matchday/backend/internal/uuid"
)

// KeyIDMap holds the temporary id to server id reconciliation table.
const KeyIDMap = "id_map"

func (e *SyncEngine) loadIDMap(ctx context.Context) map[string]string {
	ids := map[string]string{}
	if _, err := db.LoadValue(ctx, e.kv, KeyIDMap, &ids); err != nil {
		e.log.Error("failed to read id map", err)
	}
	if ids == nil {
		ids = map[string]string{}
	}
	return ids
}

// IDMap returns a copy of the reconciliation table.
func (e *SyncEngine) IDMap(ctx context.Context) map[string]string {
	e.idMu.Lock()
	defer e.idMu.Unlock()
	return e.loadIDMap(ctx)
}

// ResolveID maps a reconciled temporary id to its server id. Any other id is
// returned unchanged.
func (e *SyncEngine) ResolveID(ctx context.Context, id string) string {
	if !uuid.IsTemp(id) {
		return id
	}
	e.idMu.Lock()
	defer e.idMu.Unlock()
	if serverID, ok := e.loadIDMap(ctx)[id]; ok {
		return serverID
	}
	return id
}

// resolveRecord returns a copy of r with every reconciled temporary id, in
// any field, replaced by its server id.
func (e *SyncEngine) resolveRecord(ctx context.Context, r models.Record) models.Record {
	out := r.Clone()
	var ids map[string]string
	for k, v := range out {
		s, ok := v.(string)
		if !ok || !uuid.IsTemp(s) {
			continue
		}
		if ids == nil {
			ids = e.IDMap(ctx)
		}
		if serverID, ok := ids[s]; ok {
			out[k] = serverID
		}
	}
	return out
}

func (e *SyncEngine) recordMapping(ctx context.Context, tempID, serverID string) error {
	e.idMu.Lock()
	defer e.idMu.Unlock()
	ids := e.loadIDMap(ctx)
	ids[tempID] = serverID
	return db.StoreValue(ctx, e.kv, KeyIDMap, ids)
}

func (e *SyncEngine) clearIDMap(ctx context.Context) error {
	e.idMu.Lock()
	defer e.idMu.Unlock()
	if err := e.kv.Delete(ctx, KeyIDMap); err != nil && !errors.Is(err, db.ErrKeyNotFound) {
		return err
	}
	return nil
}

// reconcile propagates a server-assigned id through all dependent local
// state: the record itself, references held by other records, queued
// payloads, and buffered live-match writes.
func (e *SyncEngine) reconcile(ctx context.Context, table models.TableKind, tempID, serverID string) {
	if err := e.recordMapping(ctx, tempID, serverID); err != nil {
		e.log.Error("failed to record id mapping", err, map[string]interface{}{"temp_id": tempID, "server_id": serverID})
	}
	e.store.ReplaceID(ctx, table, tempID, serverID)
	refs := e.store.RewriteReferences(ctx, tempID, serverID)

	queued, err := e.queue.RewriteReferences(ctx, tempID, serverID)
	if err != nil {
		e.log.Error("failed to rewrite queued references", err, map[string]interface{}{"temp_id": tempID})
	}
	if table == models.TableMatches && e.buffer != nil {
		if err := e.buffer.RewriteMatchID(ctx, tempID, serverID); err != nil {
			e.log.Error("failed to rewrite buffered match id", err, map[string]interface{}{"temp_id": tempID})
		}
	}

	data := map[string]interface{}{
		"table": string(table), "temp_id": tempID, "server_id": serverID,
		"local_refs": refs, "queued_refs": queued,
	}
	e.log.Info("reconciled temporary id", data)
	e.emitEvent(SyncEvent{Type: SyncEventReconciled, Data: data})
}
