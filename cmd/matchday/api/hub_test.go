package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dialWS(t *testing.T, f *fixture) *websocket.Conn {
	t.Helper()
	ts := httptest.NewServer(f.server.Handler())
	t.Cleanup(ts.Close)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	require.Eventually(t, func() bool { return f.server.Hub().ClientCount() == 1 },
		2*time.Second, 10*time.Millisecond)
	return conn
}

func readJSON(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg map[string]any
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

// =====================================================
// Hub
// =====================================================

func TestHub_broadcastsEngineEvents(t *testing.T) {
	f := newFixture(t, true)
	conn := dialWS(t, f)

	f.engine.SyncAll(context.Background())

	var types []string
	for i := 0; i < 3; i++ {
		types = append(types, readJSON(t, conn)["type"].(string))
	}
	assert.Equal(t, []string{"sync.started", "sync.completed", "sync.pending_changed"}, types)
}

func TestHub_subscriptionFilters(t *testing.T) {
	f := newFixture(t, true)
	conn := dialWS(t, f)

	require.NoError(t, conn.WriteJSON(map[string]any{"action": "subscribe", "events": []string{"sync.completed"}}))
	ack := readJSON(t, conn)
	assert.Equal(t, "subscribe_ack", ack["action"])

	f.engine.SyncAll(context.Background())

	msg := readJSON(t, conn)
	assert.Equal(t, "sync.completed", msg["type"])
	data, _ := msg["data"].(map[string]any)
	assert.EqualValues(t, 0, data["synced"])
}

func TestHub_ping(t *testing.T) {
	f := newFixture(t, true)
	conn := dialWS(t, f)

	require.NoError(t, conn.WriteJSON(map[string]any{"action": "ping"}))
	assert.Equal(t, "pong", readJSON(t, conn)["action"])
}

func TestHub_disconnectUnregisters(t *testing.T) {
	f := newFixture(t, true)
	conn := dialWS(t, f)

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return f.server.Hub().ClientCount() == 0 },
		2*time.Second, 10*time.Millisecond)
}

func TestHub_closeIsIdempotent(t *testing.T) {
	h := NewHub()
	h.Close()
	h.Close()
	h.Broadcast("sync.started", nil)
	assert.Zero(t, h.ClientCount())
}

func TestEnvelope_shape(t *testing.T) {
	raw, err := json.Marshal(Envelope{Type: "sync.failed", Data: map[string]interface{}{"errors": 1}, Timestamp: 42})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"sync.failed","data":{"errors":1},"timestamp":42}`, string(raw))
}

func TestLocalOrigin(t *testing.T) {
	tests := []struct {
		origin string
		want   bool
	}{
		{"", true},
		{"http://localhost:3000", true},
		{"http://127.0.0.1:8090", true},
		{"http://[::1]:8090", true},
		{"https://example.com", false},
		{"http://localhost.example.com", false},
	}
	for _, tt := range tests {
		t.Run(tt.origin, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/ws", nil)
			if tt.origin != "" {
				r.Header.Set("Origin", tt.origin)
			}
			assert.Equal(t, tt.want, localOrigin(r))
		})
	}
}
