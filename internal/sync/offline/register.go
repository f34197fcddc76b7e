package offline

import (
	"context"

	"github.com/kimhsiao/matchday/backend/internal/models"
)

// stateChange returns the match-state fields an event moves, or nil.
func stateChange(t models.EventType) models.Record {
	switch t {
	case models.EventKickoff:
		return models.Record{models.FieldMatchState: models.MatchInProgress, models.FieldCurrentHalf: 1}
	case models.EventHalfTime:
		return models.Record{models.FieldMatchState: models.MatchHalfTime}
	case models.EventSecondHalfKickoff:
		return models.Record{models.FieldMatchState: models.MatchInProgress, models.FieldCurrentHalf: 2}
	case models.EventFullTime:
		return models.Record{models.FieldMatchState: models.MatchFinished}
	}
	return nil
}

func scoreField(team models.Side) string {
	if team == models.SideAway {
		return models.FieldAwayGoals
	}
	return models.FieldHomeGoals
}

// RegisterEvent is the live-scoring entry point while offline. It buffers the
// event and applies its effect to the local match immediately: a GOL bumps the
// team's score, kickoff and whistle events move the match state. State moves
// are also recorded as the match's pending update; scores are derived from
// events by the remote store and are only predicted locally.
func (b *Buffer) RegisterEvent(ctx context.Context, ev models.OfflineMatchEvent) (models.OfflineMatchEvent, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ev, err := b.saveEventLocked(ctx, ev)
	if err != nil {
		return ev, err
	}

	local := ev.Record()
	local[models.FieldID] = ev.OfflineID
	local[models.FieldSynced] = 0
	local[models.FieldPending] = 1
	if !b.store.Upsert(ctx, models.TableMatchEvents, local) {
		b.log.Warn("optimistic event not stored locally", map[string]interface{}{"offline_id": ev.OfflineID})
	}

	patch := models.Record{}
	if ev.EventType == models.EventGoal {
		match := b.matchSnapshotLocked(ctx, ev.MatchID)
		field := scoreField(ev.Team)
		patch[field] = match.Int(field) + 1
	}
	state := stateChange(ev.EventType)
	for k, v := range state {
		patch[k] = v
	}
	if len(patch) == 0 {
		return ev, nil
	}

	b.applyLocalLocked(ctx, ev.MatchID, patch)
	if state != nil {
		if _, err := b.saveMatchUpdateLocked(ctx, ev.MatchID, state); err != nil {
			return ev, err
		}
	}
	return ev, nil
}

// matchSnapshotLocked returns the stored match row overlaid on the cached
// live snapshot. The stored row wins on every field it holds, so a score
// confirmed or edited after kickoff is never replaced by a stale cached one.
func (b *Buffer) matchSnapshotLocked(ctx context.Context, matchID string) models.Record {
	cached := b.cachedMatchLocked(ctx, matchID)
	rec := b.store.GetByID(ctx, models.TableMatches, matchID)
	switch {
	case rec != nil && cached != nil:
		return cached.Merge(rec)
	case rec != nil:
		return rec
	case cached != nil:
		return cached
	}
	return models.Record{models.FieldID: matchID}
}

// applyLocalLocked merges patch into the stored match and its cached
// snapshot, tagging the stored row as tentative.
func (b *Buffer) applyLocalLocked(ctx context.Context, matchID string, patch models.Record) {
	snap := b.matchSnapshotLocked(ctx, matchID).Merge(patch)
	snap[models.FieldID] = matchID
	if err := b.cacheMatchLocked(ctx, snap); err != nil {
		b.log.Error("failed to cache match snapshot", err, map[string]interface{}{"match_id": matchID})
	}

	tentative := patch.Clone()
	tentative[models.FieldPending] = 1
	if !b.store.Update(ctx, models.TableMatches, matchID, tentative) {
		snap[models.FieldPending] = 1
		b.store.Upsert(ctx, models.TableMatches, snap)
	}
}
