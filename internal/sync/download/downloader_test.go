package download

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kimhsiao/matchday/backend/internal/db"
	apperrors "github.com/kimhsiao/matchday/backend/internal/errors"
	"github.com/kimhsiao/matchday/backend/internal/models"
	"github.com/kimhsiao/matchday/backend/internal/remote"
	"github.com/kimhsiao/matchday/backend/internal/store"
	"github.com/kimhsiao/matchday/backend/internal/sync/conflict"
	"github.com/kimhsiao/matchday/backend/internal/sync/offline"
)

type fixture struct {
	remote *remote.Fake
	store  *store.Store
	buffer *offline.Buffer
	dl     *Downloader
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	kv := db.NewMemoryKV()
	st := store.New(kv)
	rs := remote.NewFake()
	buf := offline.NewBuffer(kv, st, rs, 3)
	return &fixture{remote: rs, store: st, buffer: buf, dl: NewDownloader(rs, st, buf)}
}

// seed builds two tournaments the user reaches (t1 followed, t2 administered)
// and one they do not (t3).
func (f *fixture) seed() {
	f.remote.Seed("torneos_seguidos",
		models.Record{"id": "f1", "usuario_id": "u1", "torneo_id": "t1"},
		models.Record{"id": "f2", "usuario_id": "u2", "torneo_id": "t3"},
	)
	f.remote.Seed("torneos",
		models.Record{"id": "t1", "nombre": "Apertura", "admin_id": "u9"},
		models.Record{"id": "t2", "nombre": "Clausura", "admin_id": "u1"},
		models.Record{"id": "t3", "nombre": "Copa", "admin_id": "u9"},
	)
	f.remote.Seed("equipos",
		models.Record{"id": "e1", "torneo_id": "t1"},
		models.Record{"id": "e2", "torneo_id": "t2"},
		models.Record{"id": "e3", "torneo_id": "t3"},
	)
	f.remote.Seed("jugadores",
		models.Record{"id": "j1", "equipo_id": "e1"},
		models.Record{"id": "j2", "equipo_id": "e3"},
	)
	f.remote.Seed("partidos",
		models.Record{
			"id": "p1", "torneo_id": "t1", "estado": models.MatchInProgress, "goles_local": 1,
			"equipo_local": map[string]any{"id": "e1", "nombre": "Rojos"},
		},
		models.Record{"id": "p2", "torneo_id": "t2", "estado": models.MatchScheduled},
		models.Record{"id": "p3", "torneo_id": "t3", "estado": models.MatchInProgress},
	)
	f.remote.Seed("eventos_partido",
		models.Record{"id": "ev1", "partido_id": "p1", "tipo_evento": "GOL"},
		models.Record{"id": "ev2", "partido_id": "p3", "tipo_evento": "GOL"},
	)
}

// =====================================================
// DownloadAllUserData
// =====================================================

func TestDownloadAllUserData_admin(t *testing.T) {
	f := newFixture(t)
	f.seed()
	ctx := context.Background()

	sum, err := f.dl.DownloadAllUserData(ctx, User{ID: "u1", IsAdmin: true})
	require.NoError(t, err)

	assert.Equal(t, 1, sum.Counts[models.TableFollowedTournaments])
	assert.Equal(t, 2, sum.Counts[models.TableTournaments])
	assert.Equal(t, 2, sum.Counts[models.TableTeams])
	assert.Equal(t, 1, sum.Counts[models.TablePlayers])
	assert.Equal(t, 2, sum.Counts[models.TableMatches])
	assert.Equal(t, 1, sum.Counts[models.TableMatchEvents])
	assert.Equal(t, 9, sum.Total())
	assert.Equal(t, 1, sum.CachedMatches)
	assert.Zero(t, sum.Failures)

	assert.Nil(t, f.store.GetByID(ctx, models.TableTournaments, "t3"), "unfollowed tournament must not be cached")
	assert.Nil(t, f.store.GetByID(ctx, models.TableMatches, "p3"))

	p1 := f.store.GetByID(ctx, models.TableMatches, "p1")
	require.NotNil(t, p1)
	assert.True(t, p1.Synced())
	_, nested := p1["equipo_local"]
	assert.False(t, nested, "nested objects are stripped")

	cached := f.buffer.GetCachedMatch(ctx, "p1")
	require.NotNil(t, cached)
	assert.Equal(t, int64(1), cached.Int("goles_local"))
	assert.Nil(t, f.buffer.GetCachedMatch(ctx, "p2"))
}

func TestDownloadAllUserData_followerOnly(t *testing.T) {
	f := newFixture(t)
	f.seed()
	ctx := context.Background()

	sum, err := f.dl.DownloadAllUserData(ctx, User{ID: "u1"})
	require.NoError(t, err)

	assert.Equal(t, 1, sum.Counts[models.TableTournaments])
	assert.NotNil(t, f.store.GetByID(ctx, models.TableTournaments, "t1"))
	assert.Nil(t, f.store.GetByID(ctx, models.TableTournaments, "t2"))
	assert.Len(t, f.remote.CallsFor("select", "torneos"), 1)
}

func TestDownloadAllUserData_nestedTeams(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.remote.Seed("torneos_seguidos", models.Record{"id": "f1", "usuario_id": "u1", "torneo_id": "t1"})
	f.remote.Seed("torneos", models.Record{
		"id": "t1",
		"equipos": []any{
			map[string]any{"id": "e1", "torneo_id": "t1"},
			map[string]any{"id": "e2", "torneo_id": "t1"},
		},
	})

	sum, err := f.dl.DownloadAllUserData(ctx, User{ID: "u1"})
	require.NoError(t, err)

	assert.Equal(t, 2, sum.Counts[models.TableTeams])
	assert.Empty(t, f.remote.CallsFor("select", "equipos"), "embedded teams are not fetched again")
	_, nested := f.store.GetByID(ctx, models.TableTournaments, "t1")["equipos"]
	assert.False(t, nested)
}

func TestDownloadAllUserData_followedQueryFails(t *testing.T) {
	f := newFixture(t)
	f.seed()
	f.remote.FailWhen(func(c remote.Call) error {
		if c.Table == "torneos_seguidos" {
			return remote.Unavailable("select", c.Table, errors.New("dial tcp: no route"))
		}
		return nil
	})

	_, err := f.dl.DownloadAllUserData(context.Background(), User{ID: "u1", IsAdmin: true})
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrRemote))
	assert.Zero(t, f.store.Count(context.Background(), models.TableTournaments))
}

func TestDownloadAllUserData_entityFailureContinues(t *testing.T) {
	f := newFixture(t)
	f.seed()
	f.remote.FailWhen(func(c remote.Call) error {
		if c.Table == "jugadores" {
			return &remote.Error{Op: "select", Table: c.Table, Status: 500}
		}
		return nil
	})

	sum, err := f.dl.DownloadAllUserData(context.Background(), User{ID: "u1", IsAdmin: true})
	require.NoError(t, err)

	assert.Equal(t, 2, sum.Failures, "one failure per team")
	assert.Zero(t, sum.Counts[models.TablePlayers])
	assert.Equal(t, 2, sum.Counts[models.TableMatches])
	assert.Equal(t, 1, sum.Counts[models.TableMatchEvents])
}

func TestDownloadAllUserData_keepsPendingLocalWrites(t *testing.T) {
	f := newFixture(t)
	f.seed()
	ctx := context.Background()
	require.True(t, f.store.Upsert(ctx, models.TableMatches, models.Record{
		"id": "p1", "torneo_id": "t1", "goles_local": 3, models.FieldPending: 1,
	}))

	sum, err := f.dl.DownloadAllUserData(ctx, User{ID: "u1"})
	require.NoError(t, err)

	assert.Equal(t, 1, sum.Skipped)
	p1 := f.store.GetByID(ctx, models.TableMatches, "p1")
	assert.Equal(t, int64(3), p1.Int("goles_local"))
	assert.True(t, p1.Pending())
	assert.Equal(t, 1, sum.Counts[models.TableMatchEvents], "events of a pending match are still downloaded")
	assert.Zero(t, sum.CachedMatches)
}

func TestDownloadAllUserData_overwritesConfirmedRecords(t *testing.T) {
	f := newFixture(t)
	f.seed()
	ctx := context.Background()
	require.True(t, f.store.Upsert(ctx, models.TableTournaments, models.Record{"id": "t1", "nombre": "viejo", "synced": 1}))

	_, err := f.dl.DownloadAllUserData(ctx, User{ID: "u1"})
	require.NoError(t, err)

	assert.Equal(t, "Apertura", f.store.GetByID(ctx, models.TableTournaments, "t1").String("nombre"))
	assert.Equal(t, 1, f.store.Count(ctx, models.TableTournaments))
}

func TestDownloadAllUserData_requiresUser(t *testing.T) {
	f := newFixture(t)

	_, err := f.dl.DownloadAllUserData(context.Background(), User{})
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrInvalid))
	assert.Empty(t, f.remote.Calls())
}

func TestDownloadAllUserData_withoutBuffer(t *testing.T) {
	f := newFixture(t)
	f.seed()
	dl := NewDownloader(f.remote, f.store, nil)

	sum, err := dl.DownloadAllUserData(context.Background(), User{ID: "u1"})
	require.NoError(t, err)
	assert.Zero(t, sum.CachedMatches)
	assert.Equal(t, 1, sum.Counts[models.TableMatches])
}

func TestDownloadAllUserData_lastWriteWinsResolver(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.remote.Seed("torneos_seguidos", models.Record{"id": "f1", "usuario_id": "u1", "torneo_id": "t1"})
	f.remote.Seed("torneos", models.Record{"id": "t1"})
	f.remote.Seed("partidos",
		models.Record{"id": "p1", "torneo_id": "t1", "goles_local": 2, "updated_at": "2999-01-01T00:00:00Z"},
		models.Record{"id": "p2", "torneo_id": "t1", "goles_local": 0, "updated_at": "2000-01-01T00:00:00Z"},
	)
	require.True(t, f.store.Upsert(ctx, models.TableMatches, models.Record{
		"id": "p1", "torneo_id": "t1", "goles_local": 1, models.FieldPending: 1,
	}))
	require.True(t, f.store.Upsert(ctx, models.TableMatches, models.Record{
		"id": "p2", "torneo_id": "t1", "goles_local": 5, models.FieldPending: 1,
	}))
	f.dl.SetResolver(conflict.NewResolver(conflict.ResolutionStrategyLastWriteWins))

	sum, err := f.dl.DownloadAllUserData(ctx, User{ID: "u1"})
	require.NoError(t, err)

	assert.Equal(t, 1, sum.Skipped)
	assert.Equal(t, int64(2), f.store.GetByID(ctx, models.TableMatches, "p1").Int("goles_local"), "newer remote row replaces the stale write")
	assert.Equal(t, int64(5), f.store.GetByID(ctx, models.TableMatches, "p2").Int("goles_local"))
}
