// Package download seeds the local record store with the remote data a user
// needs offline: followed and administered tournaments with their teams,
// players, matches and match events.
package download

import (
	"context"
	"sync/atomic"

	apperrors "github.com/kimhsiao/matchday/backend/internal/errors"
	"github.com/kimhsiao/matchday/backend/internal/logging"
	"github.com/kimhsiao/matchday/backend/internal/models"
	"github.com/kimhsiao/matchday/backend/internal/remote"
	"github.com/kimhsiao/matchday/backend/internal/store"
	"github.com/kimhsiao/matchday/backend/internal/sync/conflict"
	"github.com/kimhsiao/matchday/backend/internal/sync/offline"
)

// Relation fields used to walk the remote data.
const (
	fieldUserID       = "usuario_id"
	fieldAdminID      = "admin_id"
	fieldTournamentID = "torneo_id"
	fieldTeamID       = "equipo_id"
	fieldMatchID      = "partido_id"

	nestedTeams = "equipos"
)

// User identifies whose data is downloaded.
type User struct {
	ID      string `json:"id"`
	IsAdmin bool   `json:"is_admin"`
}

// Summary reports what one download stored.
type Summary struct {
	Counts map[models.TableKind]int `json:"counts"`
	// CachedMatches counts in-progress matches copied to the live-match cache.
	CachedMatches int `json:"cached_matches"`
	// Skipped counts remote rows not stored because the local copy holds an
	// unconfirmed write.
	Skipped  int `json:"skipped"`
	Failures int `json:"failures"`
}

// Total returns the number of stored records.
func (s Summary) Total() int {
	n := 0
	for _, c := range s.Counts {
		n += c
	}
	return n
}

// Downloader pulls remote data into the local store.
type Downloader struct {
	remote   remote.Store
	store    *store.Store
	buffer   *offline.Buffer
	resolver atomic.Pointer[conflict.Resolver]
	log      *logging.Logger
}

// NewDownloader creates a Downloader. buf may be nil, in which case no match
// snapshots are cached.
func NewDownloader(rs remote.Store, st *store.Store, buf *offline.Buffer) *Downloader {
	d := &Downloader{
		remote: rs,
		store:  st,
		buffer: buf,
		log:    logging.Component("download"),
	}
	d.resolver.Store(conflict.NewResolver(conflict.ResolutionStrategyPendingWins))
	return d
}

// SetResolver replaces the policy applied when a remote row meets an
// unconfirmed local write. It is safe to call during a download.
func (d *Downloader) SetResolver(r *conflict.Resolver) {
	d.resolver.Store(r)
}

// DownloadAllUserData fetches the user's followed tournaments, and for admins
// the tournaments they administer, then every team, player, match and match
// event under them. Only a failure of the followed-tournament query is
// returned; any other failure is logged, counted and skipped.
func (d *Downloader) DownloadAllUserData(ctx context.Context, user User) (Summary, error) {
	sum := Summary{Counts: make(map[models.TableKind]int)}
	if user.ID == "" {
		return sum, apperrors.New(apperrors.ErrInvalid, "download requires a user id")
	}

	followed, err := d.remote.Select(ctx, models.TableFollowedTournaments.RemoteName(),
		remote.Query{remote.Eq(fieldUserID, user.ID)})
	if err != nil {
		d.log.Error("followed tournaments query failed", err, map[string]interface{}{"user_id": user.ID})
		return sum, apperrors.Wrap(apperrors.ErrRemote, "failed to fetch followed tournaments", err)
	}

	var tournamentIDs []string
	seen := make(map[string]bool)
	for _, f := range followed {
		d.save(ctx, models.TableFollowedTournaments, f, &sum)
		if id := f.String(fieldTournamentID); id != "" && !seen[id] {
			seen[id] = true
			tournamentIDs = append(tournamentIDs, id)
		}
	}

	var tournaments []models.Record
	if len(tournamentIDs) > 0 {
		rows, ok := d.fetch(ctx, models.TableTournaments, remote.Query{remote.In(models.FieldID, tournamentIDs...)}, &sum)
		if ok {
			tournaments = append(tournaments, rows...)
		}
	}
	if user.IsAdmin {
		rows, ok := d.fetch(ctx, models.TableTournaments, remote.Query{remote.Eq(fieldAdminID, user.ID)}, &sum)
		if ok {
			for _, r := range rows {
				if !seen[r.ID()] {
					seen[r.ID()] = true
					tournaments = append(tournaments, r)
				}
			}
		}
	}

	for _, t := range tournaments {
		if ctx.Err() != nil {
			break
		}
		d.save(ctx, models.TableTournaments, t, &sum)
		d.downloadTournament(ctx, t, &sum)
	}

	d.log.Info("download completed", map[string]interface{}{
		"user_id":     user.ID,
		"tournaments": sum.Counts[models.TableTournaments],
		"records":     sum.Total(),
		"cached":      sum.CachedMatches,
		"skipped":     sum.Skipped,
		"failures":    sum.Failures,
	})
	return sum, nil
}

func (d *Downloader) downloadTournament(ctx context.Context, t models.Record, sum *Summary) {
	tournamentID := t.ID()
	byTournament := remote.Query{remote.Eq(fieldTournamentID, tournamentID)}

	teams := t.Nested(nestedTeams)
	if len(teams) == 0 {
		teams, _ = d.fetch(ctx, models.TableTeams, byTournament, sum)
	}
	for _, team := range teams {
		d.save(ctx, models.TableTeams, team, sum)
		players, _ := d.fetch(ctx, models.TablePlayers, remote.Query{remote.Eq(fieldTeamID, team.ID())}, sum)
		for _, p := range players {
			d.save(ctx, models.TablePlayers, p, sum)
		}
	}

	matches, _ := d.fetch(ctx, models.TableMatches, byTournament, sum)
	for _, m := range matches {
		saved := d.save(ctx, models.TableMatches, m, sum)
		if saved && m.String(models.FieldMatchState) == models.MatchInProgress && d.buffer != nil {
			if err := d.buffer.CacheMatch(ctx, m); err != nil {
				d.log.Error("failed to cache match", err, map[string]interface{}{"match_id": m.ID()})
				sum.Failures++
			} else {
				sum.CachedMatches++
			}
		}
		events, _ := d.fetch(ctx, models.TableMatchEvents, remote.Query{remote.Eq(fieldMatchID, m.ID())}, sum)
		for _, ev := range events {
			d.save(ctx, models.TableMatchEvents, ev, sum)
		}
	}
}

// fetch runs one Select. A failure is counted and reported as ok = false.
func (d *Downloader) fetch(ctx context.Context, table models.TableKind, q remote.Query, sum *Summary) ([]models.Record, bool) {
	rows, err := d.remote.Select(ctx, table.RemoteName(), q)
	if err != nil {
		d.log.Warn("select failed", map[string]interface{}{"table": string(table), "error": err.Error()})
		sum.Failures++
		return nil, false
	}
	return rows, true
}

// save stores the flattened record as confirmed. A local copy with an
// unconfirmed write wins until the write is replayed.
func (d *Downloader) save(ctx context.Context, table models.TableKind, r models.Record, sum *Summary) bool {
	rec := r.Flatten()
	id := rec.ID()
	if id == "" {
		d.log.Warn("skipping remote row without id", map[string]interface{}{"table": string(table)})
		sum.Failures++
		return false
	}
	if local := d.store.GetByID(ctx, table, id); local != nil {
		res := d.resolver.Load().Resolve(conflict.Conflict{Table: table, Local: local, Remote: rec})
		if res.Winner == conflict.WinnerLocal {
			sum.Skipped++
			return false
		}
	}
	rec[models.FieldSynced] = 1
	if !d.store.Upsert(ctx, table, rec) {
		sum.Failures++
		return false
	}
	sum.Counts[table]++
	return true
}
