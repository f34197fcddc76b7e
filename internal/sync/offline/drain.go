package offline

import (
	"context"

	"github.com/kimhsiao/matchday/backend/internal/db"
	"github.com/kimhsiao/matchday/backend/internal/models"
	"github.com/kimhsiao/matchday/backend/internal/remote"
	"github.com/kimhsiao/matchday/backend/internal/uuid"
)

// SyncPendingData replays match updates and then events. Each item is tried
// independently; a failure leaves it buffered with its attempt counter bumped
// unless it is dead-lettered.
func (b *Buffer) SyncPendingData(ctx context.Context) models.SyncResult {
	var res models.SyncResult

	for _, upd := range b.PendingMatchUpdates(ctx) {
		if ctx.Err() != nil {
			return res
		}
		if err := b.replayUpdate(ctx, upd); err != nil {
			res.MatchUpdatesSync.Failed++
			b.failUpdate(ctx, upd, err)
			continue
		}
		res.MatchUpdatesSync.Success++
	}

	for _, ev := range b.PendingEvents(ctx, "") {
		if ctx.Err() != nil {
			return res
		}
		if err := b.replayEvent(ctx, ev); err != nil {
			res.EventsSync.Failed++
			b.failEvent(ctx, ev, err)
			continue
		}
		res.EventsSync.Success++
	}

	if res.Total() > 0 || res.EventsSync.Failed+res.MatchUpdatesSync.Failed > 0 {
		b.log.Info("offline buffer drained", map[string]interface{}{
			"updates_ok": res.MatchUpdatesSync.Success, "updates_failed": res.MatchUpdatesSync.Failed,
			"events_ok": res.EventsSync.Success, "events_failed": res.EventsSync.Failed,
		})
	}
	return res
}

func (b *Buffer) resolver() func(context.Context, string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.resolve
}

func (b *Buffer) replayUpdate(ctx context.Context, upd models.OfflineMatchUpdate) error {
	matchID := b.resolver()(ctx, upd.MatchID)
	payload := upd.Data.Remote()
	payload[models.FieldID] = matchID
	if _, err := b.remote.Upsert(ctx, models.TableMatches.RemoteName(), payload); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	updates, err := b.loadUpdates(ctx)
	if err != nil {
		b.log.Error("failed to read offline match updates", err)
		return nil
	}
	newer := false
	for i, u := range updates {
		if u.OfflineID == upd.OfflineID {
			updates = append(updates[:i], updates[i+1:]...)
			break
		}
	}
	for _, u := range updates {
		if u.MatchID == upd.MatchID {
			newer = true
		}
	}
	if err := b.saveUpdates(ctx, updates); err != nil {
		b.log.Error("failed to remove replayed match update", err)
	}
	if !newer {
		b.store.MarkSynced(ctx, models.TableMatches, matchID)
	}
	return nil
}

// replayEvent inserts the event under an id derived from its temporary id, so
// a replay after an ambiguous failure cannot create a duplicate.
func (b *Buffer) replayEvent(ctx context.Context, ev models.OfflineMatchEvent) error {
	serverID := uuid.Stable(ev.OfflineID)
	payload := ev.Record()
	payload[models.FieldID] = serverID
	payload["partido_id"] = b.resolver()(ctx, ev.MatchID)

	stored, err := b.remote.Upsert(ctx, models.TableMatchEvents.RemoteName(), payload)
	if err != nil {
		return err
	}
	if id := stored.ID(); id != "" {
		serverID = id
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.removeEventLocked(ctx, ev.OfflineID)
	b.store.ReplaceID(ctx, models.TableMatchEvents, ev.OfflineID, serverID)
	b.store.MarkSynced(ctx, models.TableMatchEvents, serverID)
	return nil
}

func (b *Buffer) removeEventLocked(ctx context.Context, offlineID string) {
	events, err := b.loadEvents(ctx)
	if err != nil {
		b.log.Error("failed to read offline events", err)
		return
	}
	for i, e := range events {
		if e.OfflineID == offlineID {
			if err := b.saveEvents(ctx, append(events[:i], events[i+1:]...)); err != nil {
				b.log.Error("failed to remove offline event", err)
			}
			return
		}
	}
}

func (b *Buffer) exhausted(attempts int, err error) bool {
	return remote.IsPermanent(err) || (b.maxAttempts > 0 && attempts >= b.maxAttempts)
}

func (b *Buffer) failUpdate(ctx context.Context, upd models.OfflineMatchUpdate, cause error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	updates, err := b.loadUpdates(ctx)
	if err != nil {
		b.log.Error("failed to read offline match updates", err)
		return
	}
	for i := range updates {
		u := &updates[i]
		if u.OfflineID != upd.OfflineID {
			continue
		}
		u.Attempts++
		u.LastError = cause.Error()
		if !b.exhausted(u.Attempts, cause) {
			break
		}
		dead := *u
		updates = append(updates[:i], updates[i+1:]...)
		b.deadLetterLocked(ctx, DeadLetter{Update: &dead, Reason: cause.Error()})
		b.store.Update(ctx, models.TableMatches, upd.MatchID, models.Record{models.FieldSyncError: cause.Error()})
		break
	}
	if err := b.saveUpdates(ctx, updates); err != nil {
		b.log.Error("failed to record match update failure", err)
	}
}

func (b *Buffer) failEvent(ctx context.Context, ev models.OfflineMatchEvent, cause error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	events, err := b.loadEvents(ctx)
	if err != nil {
		b.log.Error("failed to read offline events", err)
		return
	}
	for i := range events {
		e := &events[i]
		if e.OfflineID != ev.OfflineID {
			continue
		}
		e.Attempts++
		e.LastError = cause.Error()
		if !b.exhausted(e.Attempts, cause) {
			break
		}
		dead := *e
		events = append(events[:i], events[i+1:]...)
		b.deadLetterLocked(ctx, DeadLetter{Event: &dead, Reason: cause.Error()})
		b.rollbackEventLocked(ctx, dead)
		break
	}
	if err := b.saveEvents(ctx, events); err != nil {
		b.log.Error("failed to record event failure", err)
	}
}

// rollbackEventLocked undoes the optimistic effect of an event the remote
// store will never accept.
func (b *Buffer) rollbackEventLocked(ctx context.Context, ev models.OfflineMatchEvent) {
	b.store.Delete(ctx, models.TableMatchEvents, ev.OfflineID)
	if ev.EventType != models.EventGoal {
		return
	}
	field := scoreField(ev.Team)
	match := b.matchSnapshotLocked(ctx, ev.MatchID)
	score := match.Int(field) - 1
	if score < 0 {
		score = 0
	}
	b.applyLocalLocked(ctx, ev.MatchID, models.Record{field: score})
}

func (b *Buffer) deadLetterLocked(ctx context.Context, dl DeadLetter) {
	dl.FailedAt = b.now().UTC()
	var dead []DeadLetter
	if _, err := db.LoadValue(ctx, b.kv, KeyDeadLetters, &dead); err != nil {
		b.log.Error("failed to read offline dead letters", err)
	}
	if err := db.StoreValue(ctx, b.kv, KeyDeadLetters, append(dead, dl)); err != nil {
		b.log.Error("failed to write offline dead letter", err)
		return
	}
	b.log.Warn("offline item dead-lettered", map[string]interface{}{"reason": dl.Reason})
}
