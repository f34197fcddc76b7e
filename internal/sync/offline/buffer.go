// Package offline buffers live-match writes captured without connectivity:
// discrete events (append-only) and match state snapshots (one pending per
// match, newest wins). Both are replayed by SyncPendingData, match updates
// first.
package offline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kimhsiao/matchday/backend/internal/db"
	apperrors "github.com/kimhsiao/matchday/backend/internal/errors"
	"github.com/kimhsiao/matchday/backend/internal/logging"
	"github.com/kimhsiao/matchday/backend/internal/models"
	"github.com/kimhsiao/matchday/backend/internal/remote"
	"github.com/kimhsiao/matchday/backend/internal/store"
	"github.com/kimhsiao/matchday/backend/internal/uuid"
)

// KV keys owned by the buffer.
const (
	KeyEvents       = "offline_events"
	KeyMatchUpdates = "offline_match_updates"
	KeyMatchCache   = "offline_match_cache"
	KeyDeadLetters  = "offline_dead_letters"
)

// DeadLetter is a buffered item that will not be replayed again.
type DeadLetter struct {
	Event    *models.OfflineMatchEvent  `msgpack:"event,omitempty" json:"event,omitempty"`
	Update   *models.OfflineMatchUpdate `msgpack:"update,omitempty" json:"update,omitempty"`
	Reason   string                     `msgpack:"reason" json:"reason"`
	FailedAt time.Time                  `msgpack:"failed_at" json:"failedAt"`
}

// Buffer is the match-event offline buffer.
type Buffer struct {
	kv          db.KV
	store       *store.Store
	remote      remote.Store
	maxAttempts int
	resolve     func(ctx context.Context, id string) string
	log         *logging.Logger
	now         func() time.Time

	mu sync.Mutex
}

// NewBuffer creates a Buffer. Optimistic changes are mirrored into st; drains
// replay against rs.
func NewBuffer(kv db.KV, st *store.Store, rs remote.Store, maxAttempts int) *Buffer {
	return &Buffer{
		kv:          kv,
		store:       st,
		remote:      rs,
		maxAttempts: maxAttempts,
		resolve:     func(_ context.Context, id string) string { return id },
		log:         logging.Component("offline_buffer"),
		now:         time.Now,
	}
}

// SetResolver installs the temporary-to-server id mapping consulted when a
// buffered item is serialized for replay.
func (b *Buffer) SetResolver(fn func(ctx context.Context, id string) string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.resolve = fn
}

// SetMaxAttempts changes the attempt cap.
func (b *Buffer) SetMaxAttempts(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maxAttempts = n
}

// =====================================================
// Persistence
// =====================================================

func (b *Buffer) loadEvents(ctx context.Context) ([]models.OfflineMatchEvent, error) {
	var events []models.OfflineMatchEvent
	if _, err := db.LoadValue(ctx, b.kv, KeyEvents, &events); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorage, "failed to read offline events", err)
	}
	return events, nil
}

func (b *Buffer) saveEvents(ctx context.Context, events []models.OfflineMatchEvent) error {
	if err := db.StoreValue(ctx, b.kv, KeyEvents, events); err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, "failed to write offline events", err)
	}
	return nil
}

func (b *Buffer) loadUpdates(ctx context.Context) ([]models.OfflineMatchUpdate, error) {
	var updates []models.OfflineMatchUpdate
	if _, err := db.LoadValue(ctx, b.kv, KeyMatchUpdates, &updates); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorage, "failed to read offline match updates", err)
	}
	return updates, nil
}

func (b *Buffer) saveUpdates(ctx context.Context, updates []models.OfflineMatchUpdate) error {
	if err := db.StoreValue(ctx, b.kv, KeyMatchUpdates, updates); err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, "failed to write offline match updates", err)
	}
	return nil
}

func (b *Buffer) loadCache(ctx context.Context) (map[string]models.Record, error) {
	cache := make(map[string]models.Record)
	if _, err := db.LoadValue(ctx, b.kv, KeyMatchCache, &cache); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorage, "failed to read match cache", err)
	}
	return cache, nil
}

// =====================================================
// Capture
// =====================================================

// SaveEventOffline appends ev to the event buffer, assigning a temporary id
// and timestamp when missing.
func (b *Buffer) SaveEventOffline(ctx context.Context, ev models.OfflineMatchEvent) (models.OfflineMatchEvent, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.saveEventLocked(ctx, ev)
}

func (b *Buffer) saveEventLocked(ctx context.Context, ev models.OfflineMatchEvent) (models.OfflineMatchEvent, error) {
	if ev.MatchID == "" {
		return ev, apperrors.New(apperrors.ErrInvalid, "event requires a match id")
	}
	if !ev.EventType.Valid() {
		return ev, apperrors.New(apperrors.ErrInvalid, fmt.Sprintf("unknown event type %q", ev.EventType))
	}
	now := b.now()
	if ev.OfflineID == "" {
		ev.OfflineID = uuid.NewTempAt(now)
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = now.UTC()
	}
	ev.Synced = false

	events, err := b.loadEvents(ctx)
	if err != nil {
		return ev, err
	}
	if err := b.saveEvents(ctx, append(events, ev)); err != nil {
		return ev, err
	}
	b.log.Debug("event buffered", map[string]interface{}{
		"offline_id": ev.OfflineID, "match_id": ev.MatchID, "type": ev.EventType,
	})
	return ev, nil
}

// SaveMatchUpdateOffline records patch as the pending snapshot for matchID
// and merges it into the local match. A pending update for the same match is
// replaced; fields it carried that patch does not mention are kept.
func (b *Buffer) SaveMatchUpdateOffline(ctx context.Context, matchID string, patch models.Record) (models.OfflineMatchUpdate, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	upd, err := b.saveMatchUpdateLocked(ctx, matchID, patch)
	if err != nil {
		return upd, err
	}
	b.applyLocalLocked(ctx, matchID, upd.Data)
	return upd, nil
}

func (b *Buffer) saveMatchUpdateLocked(ctx context.Context, matchID string, patch models.Record) (models.OfflineMatchUpdate, error) {
	if matchID == "" {
		return models.OfflineMatchUpdate{}, apperrors.New(apperrors.ErrInvalid, "match update requires a match id")
	}
	updates, err := b.loadUpdates(ctx)
	if err != nil {
		return models.OfflineMatchUpdate{}, err
	}

	now := b.now()
	upd := models.OfflineMatchUpdate{
		MatchID:   matchID,
		Data:      patch.Clone(),
		OfflineID: uuid.NewTempAt(now),
		CreatedAt: now.UTC(),
	}
	delete(upd.Data, models.FieldID)

	replaced := false
	for i := range updates {
		if updates[i].MatchID == matchID {
			upd.Data = updates[i].Data.Merge(upd.Data)
			updates[i] = upd
			replaced = true
			break
		}
	}
	if !replaced {
		updates = append(updates, upd)
	}
	if err := b.saveUpdates(ctx, updates); err != nil {
		return models.OfflineMatchUpdate{}, err
	}
	return upd, nil
}

// =====================================================
// Match snapshot cache
// =====================================================

// CacheMatch stores the snapshot used to restore the live-match screen.
func (b *Buffer) CacheMatch(ctx context.Context, match models.Record) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cacheMatchLocked(ctx, match)
}

func (b *Buffer) cacheMatchLocked(ctx context.Context, match models.Record) error {
	id := match.ID()
	if id == "" {
		return apperrors.New(apperrors.ErrInvalid, "cached match requires an id")
	}
	cache, err := b.loadCache(ctx)
	if err != nil {
		return err
	}
	cache[id] = match.Flatten()
	if err := db.StoreValue(ctx, b.kv, KeyMatchCache, cache); err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, "failed to write match cache", err)
	}
	return nil
}

// GetCachedMatch returns the cached snapshot of matchID, or nil.
func (b *Buffer) GetCachedMatch(ctx context.Context, matchID string) models.Record {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cachedMatchLocked(ctx, matchID)
}

func (b *Buffer) cachedMatchLocked(ctx context.Context, matchID string) models.Record {
	cache, err := b.loadCache(ctx)
	if err != nil {
		b.log.Error("failed to read match cache", err)
		return nil
	}
	return cache[matchID]
}

// =====================================================
// Inspection
// =====================================================

// PendingEvents returns buffered events, optionally restricted to matchID.
func (b *Buffer) PendingEvents(ctx context.Context, matchID string) []models.OfflineMatchEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	events, err := b.loadEvents(ctx)
	if err != nil {
		b.log.Error("failed to read offline events", err)
		return nil
	}
	if matchID == "" {
		return events
	}
	var out []models.OfflineMatchEvent
	for _, ev := range events {
		if ev.MatchID == matchID {
			out = append(out, ev)
		}
	}
	return out
}

// PendingMatchUpdates returns buffered match updates.
func (b *Buffer) PendingMatchUpdates(ctx context.Context) []models.OfflineMatchUpdate {
	b.mu.Lock()
	defer b.mu.Unlock()
	updates, err := b.loadUpdates(ctx)
	if err != nil {
		b.log.Error("failed to read offline match updates", err)
		return nil
	}
	return updates
}

// GetPendingCount returns the number of buffered events and match updates.
func (b *Buffer) GetPendingCount(ctx context.Context) int {
	return len(b.PendingEvents(ctx, "")) + len(b.PendingMatchUpdates(ctx))
}

// DeadLetters returns the items dropped from replay.
func (b *Buffer) DeadLetters(ctx context.Context) []DeadLetter {
	b.mu.Lock()
	defer b.mu.Unlock()
	var dead []DeadLetter
	if _, err := db.LoadValue(ctx, b.kv, KeyDeadLetters, &dead); err != nil {
		b.log.Error("failed to read offline dead letters", err)
		return nil
	}
	return dead
}

// RewriteMatchID re-points buffered events, the pending update and the cached
// snapshot of a match created offline at its server id.
func (b *Buffer) RewriteMatchID(ctx context.Context, tempID, serverID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	events, err := b.loadEvents(ctx)
	if err != nil {
		return err
	}
	changed := false
	for i := range events {
		if events[i].MatchID == tempID {
			events[i].MatchID = serverID
			changed = true
		}
	}
	if changed {
		if err := b.saveEvents(ctx, events); err != nil {
			return err
		}
	}

	updates, err := b.loadUpdates(ctx)
	if err != nil {
		return err
	}
	changed = false
	for i := range updates {
		if updates[i].MatchID == tempID {
			updates[i].MatchID = serverID
			changed = true
		}
	}
	if changed {
		if err := b.saveUpdates(ctx, updates); err != nil {
			return err
		}
	}

	cache, err := b.loadCache(ctx)
	if err != nil {
		return err
	}
	if snap, ok := cache[tempID]; ok {
		delete(cache, tempID)
		snap[models.FieldID] = serverID
		cache[serverID] = snap
		if err := db.StoreValue(ctx, b.kv, KeyMatchCache, cache); err != nil {
			return apperrors.Wrap(apperrors.ErrStorage, "failed to write match cache", err)
		}
	}
	return nil
}

// Clear empties both buffers, the snapshot cache and the dead letters.
func (b *Buffer) Clear(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, key := range []string{KeyEvents, KeyMatchUpdates, KeyMatchCache, KeyDeadLetters} {
		if err := b.kv.Delete(ctx, key); err != nil {
			return apperrors.Wrap(apperrors.ErrStorage, "failed to clear "+key, err)
		}
	}
	return nil
}
