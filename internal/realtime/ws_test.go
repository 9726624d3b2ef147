package realtime

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"studio-schedule/internal/auth"
	"studio-schedule/internal/models"
	"studio-schedule/pkg/response"
)

type stubAuth map[string]auth.Identity

func (s stubAuth) Authenticate(token string) (auth.Identity, error) {
	id, ok := s[token]
	if !ok {
		return auth.Identity{}, response.ErrUnauthorized
	}
	return id, nil
}

type stubViewer struct {
	allowed map[string]bool
}

func (v stubViewer) Get(_ context.Context, _ models.Actor, id string) (*models.Session, error) {
	if !v.allowed[id] {
		return nil, response.ErrForbidden
	}
	return &models.Session{ID: id}, nil
}

func startServer(t *testing.T) (*Registry, string) {
	t.Helper()

	registry := newTestRegistry(8)
	authn := stubAuth{"good": {UserID: "c1", Role: models.RoleClient}}
	viewer := stubViewer{allowed: map[string]bool{"s1": true}}

	h := NewHandler(registry.log, registry, authn, viewer, Options{})
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	return registry, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var frame map[string]any
	require.NoError(t, conn.ReadJSON(&frame))
	return frame
}

func TestWebsocketRejectsBadToken(t *testing.T) {
	_, url := startServer(t)

	_, resp, err := websocket.DefaultDialer.Dial(url+"?token=bad", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, 401, resp.StatusCode)
}

func TestWebsocketSessionRooms(t *testing.T) {
	registry, url := startServer(t)

	conn, _, err := websocket.DefaultDialer.Dial(url+"?token=good", nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(map[string]string{"action": "ping"}))
	assert.Equal(t, "pong", readFrame(t, conn)["type"])

	require.NoError(t, conn.WriteJSON(map[string]string{"action": "join_session", "session_id": "s2"}))
	frame := readFrame(t, conn)
	assert.Equal(t, "error", frame["type"])
	assert.Equal(t, "FORBIDDEN", frame["error"])

	require.NoError(t, conn.WriteJSON(map[string]string{"action": "join_session", "session_id": "s1"}))
	frame = readFrame(t, conn)
	assert.Equal(t, "ack", frame["type"])
	assert.Equal(t, "s1", frame["session_id"])

	require.Len(t, registry.Members("session:s1"), 1)

	registry.Broadcast("session:s1", []byte(`{"type":"session_confirmed"}`))
	assert.Equal(t, "session_confirmed", readFrame(t, conn)["type"])

	registry.Broadcast("user:c1", []byte(`{"type":"session_booked"}`))
	assert.Equal(t, "session_booked", readFrame(t, conn)["type"])

	require.NoError(t, conn.WriteJSON(map[string]string{"action": "leave_session", "session_id": "s1"}))
	assert.Equal(t, "ack", readFrame(t, conn)["type"])
	assert.Empty(t, registry.Members("session:s1"))

	require.NoError(t, conn.WriteJSON(map[string]string{"action": "dance"}))
	assert.Equal(t, "unknown action", readFrame(t, conn)["error"])

	conn.Close()
	require.Eventually(t, func() bool { return registry.Stats().Connections == 0 }, 2*time.Second, 10*time.Millisecond)
}
