package remote

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kimhsiao/matchday/backend/internal/models"
)

// =====================================================
// IsPermanent
// =====================================================

func TestIsPermanent(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain error", errors.New("x"), false},
		{"transport", Unavailable("upsert", "equipos", errors.New("dial")), false},
		{"bad request", &Error{Status: 400}, true},
		{"conflict", Rejected("upsert", "equipos", "dup"), true},
		{"timeout", &Error{Status: 408}, false},
		{"rate limited", &Error{Status: 429}, false},
		{"server error", &Error{Status: 503}, false},
		{"wrapped", errors.Join(errors.New("ctx"), &Error{Status: 422}), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsPermanent(tt.err))
		})
	}
}

func TestError_message(t *testing.T) {
	err := &Error{Op: "upsert", Table: "partidos", Status: 409, Code: "23505", Message: "duplicate key"}
	assert.Equal(t, "remote upsert partidos: status 409 (23505): duplicate key", err.Error())
}

func TestQuery_Match(t *testing.T) {
	r := models.Record{"torneo_id": "t1", "estado": "en_curso", "minuto": float64(12)}
	assert.True(t, Query{Eq("torneo_id", "t1")}.Match(r))
	assert.True(t, Query{In("estado", "finalizado", "en_curso"), Eq("minuto", "12")}.Match(r))
	assert.False(t, Query{Eq("torneo_id", "t2")}.Match(r))
	assert.True(t, Query(nil).Match(r))
}

// =====================================================
// HTTPStore
// =====================================================

func newServer(t *testing.T, h http.HandlerFunc) *HTTPStore {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewHTTPStore(HTTPConfig{BaseURL: srv.URL + "/", APIKey: "anon-key", Timeout: 2 * time.Second})
}

func TestHTTPStore_Upsert(t *testing.T) {
	var gotPrefer, gotAPIKey, gotAuth, gotConflict string
	var gotBody map[string]any

	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/rest/v1/equipos", r.URL.Path)
		gotPrefer = r.Header.Get("Prefer")
		gotAPIKey = r.Header.Get("apikey")
		gotAuth = r.Header.Get("Authorization")
		gotConflict = r.URL.Query().Get("on_conflict")
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &gotBody)

		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`[{"id":"srv-1","nombre":"Rayos"}]`))
	})
	c.SetToken("user-jwt")

	got, err := c.Upsert(context.Background(), "equipos", models.Record{"id": "offline_1_aaaaaaaaaaaa", "nombre": "Rayos"})
	require.NoError(t, err)

	assert.Equal(t, "srv-1", got.ID())
	assert.Equal(t, "resolution=merge-duplicates,return=representation", gotPrefer)
	assert.Equal(t, "anon-key", gotAPIKey)
	assert.Equal(t, "Bearer user-jwt", gotAuth)
	assert.Equal(t, "id", gotConflict)
	assert.Equal(t, "Rayos", gotBody["nombre"])
}

func TestHTTPStore_UpsertEmptyRepresentation(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	got, err := c.Upsert(context.Background(), "equipos", models.Record{"id": "e1"})
	require.NoError(t, err)
	assert.Equal(t, "e1", got.ID())
}

func TestHTTPStore_UpsertRejected(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"code":"23505","message":"duplicate key value"}`))
	})

	_, err := c.Upsert(context.Background(), "equipos", models.Record{"id": "e1"})
	require.Error(t, err)
	assert.True(t, IsPermanent(err))

	var re *Error
	require.ErrorAs(t, err, &re)
	assert.Equal(t, "23505", re.Code)
	assert.Equal(t, "duplicate key value", re.Message)
}

func TestHTTPStore_ServerErrorIsTransient(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	})

	_, err := c.Upsert(context.Background(), "equipos", models.Record{"id": "e1"})
	require.Error(t, err)
	assert.False(t, IsPermanent(err))
}

func TestHTTPStore_Delete(t *testing.T) {
	var gotQuery string
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		gotQuery = r.URL.Query().Get("id")
		w.WriteHeader(http.StatusNoContent)
	})

	require.NoError(t, c.Delete(context.Background(), "jugadores", "p1"))
	assert.Equal(t, "eq.p1", gotQuery)
}

func TestHTTPStore_Select(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "eq.u1", r.URL.Query().Get("usuario_id"))
		assert.Equal(t, "in.(t1,t2)", r.URL.Query().Get("torneo_id"))
		assert.Equal(t, "*", r.URL.Query().Get("select"))
		_, _ = w.Write([]byte(`[{"id":"a"},{"id":"b","torneo":{"id":"t1"}}]`))
	})

	rows, err := c.Select(context.Background(), "torneos_seguidos",
		Query{Eq("usuario_id", "u1"), In("torneo_id", "t1", "t2")})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "b", rows[1].ID())
	assert.Len(t, rows[1].Nested("torneo"), 1)
}

func TestHTTPStore_PingUnreachable(t *testing.T) {
	c := NewHTTPStore(HTTPConfig{BaseURL: "http://127.0.0.1:1", Timeout: time.Second})
	err := c.Ping(context.Background())
	require.Error(t, err)
	assert.False(t, IsPermanent(err))
}

func TestHTTPStore_PingReachable(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	assert.NoError(t, c.Ping(context.Background()))
}

func TestHTTPStore_contextCancelled(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := c.Select(ctx, "torneos", nil)
	require.Error(t, err)
	assert.False(t, IsPermanent(err))
}

// =====================================================
// Fake
// =====================================================

func TestFake_assignsServerIDs(t *testing.T) {
	f := NewFake()
	f.AssignIDs = true
	ctx := context.Background()

	got, err := f.Upsert(ctx, "equipos", models.Record{"id": "offline_1_aaaaaaaaaaaa", "nombre": "Rayos"})
	require.NoError(t, err)
	assert.Equal(t, "srv-1", got.ID())

	got, err = f.Upsert(ctx, "equipos", models.Record{"id": "e2"})
	require.NoError(t, err)
	assert.Equal(t, "e2", got.ID())

	assert.Len(t, f.Records("equipos"), 2)
	assert.Len(t, f.CallsFor("upsert", "equipos"), 2)
}

func TestFake_failWhen(t *testing.T) {
	f := NewFake()
	f.FailWhen(func(c Call) error {
		if c.ID == "bad" {
			return Rejected(c.Method, c.Table, "nope")
		}
		return nil
	})
	ctx := context.Background()

	_, err := f.Upsert(ctx, "equipos", models.Record{"id": "bad"})
	assert.True(t, IsPermanent(err))
	_, err = f.Upsert(ctx, "equipos", models.Record{"id": "good"})
	assert.NoError(t, err)
	assert.Len(t, f.Records("equipos"), 1)
}

func TestFake_selectAndDelete(t *testing.T) {
	f := NewFake()
	f.Seed("partidos", models.Record{"id": "m1", "torneo_id": "t1"}, models.Record{"id": "m2", "torneo_id": "t2"})
	ctx := context.Background()

	rows, err := f.Select(ctx, "partidos", Query{Eq("torneo_id", "t1")})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "m1", rows[0].ID())

	require.NoError(t, f.Delete(ctx, "partidos", "m1"))
	require.NoError(t, f.Delete(ctx, "partidos", "m1"))
	assert.Len(t, f.Records("partidos"), 1)
}
