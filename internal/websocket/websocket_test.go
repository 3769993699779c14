package websocket

import (
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

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func read(t *testing.T, conn *websocket.Conn) WSMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var msg WSMessage
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func TestManager_BroadcastAndPing(t *testing.T) {
	m := NewManager()
	srv := httptest.NewServer(http.HandlerFunc(m.HandleConnection))
	defer srv.Close()
	defer m.Close()

	conn := dial(t, srv)
	require.Eventually(t, func() bool { return m.ConnectionCount() == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "ping"}))
	assert.Equal(t, TypePong, read(t, conn).Type)

	m.Broadcast(TypeFileEvent, map[string]string{"path": "app.py"})
	msg := read(t, conn)
	assert.Equal(t, TypeFileEvent, msg.Type)
	assert.Equal(t, "app.py", msg.Data.(map[string]interface{})["path"])

	conn.Close()
	require.Eventually(t, func() bool { return m.ConnectionCount() == 0 }, time.Second, 10*time.Millisecond)
}

func TestLogWriter_BuffersUntilReady(t *testing.T) {
	m := NewManager()
	lw := NewLogWriter(m, 2)
	srv := httptest.NewServer(http.HandlerFunc(m.HandleConnection))
	defer srv.Close()
	defer m.Close()

	lw.Write([]byte("✅ started\n"))
	lw.Write([]byte("⚠️ no API key\n"))
	lw.Write([]byte("dropped, buffer is full\n"))
	assert.Equal(t, 2, lw.Buffered())

	conn := dial(t, srv)
	require.NoError(t, conn.WriteJSON(map[string]string{"type": "client_ready"}))

	first := read(t, conn)
	assert.Equal(t, TypeLog, first.Type)
	assert.Equal(t, "✅ started", first.Data.(map[string]interface{})["message"])
	assert.Equal(t, "info", first.Data.(map[string]interface{})["level"])
	second := read(t, conn)
	assert.Equal(t, "warn", second.Data.(map[string]interface{})["level"])
	assert.Zero(t, lw.Buffered())

	lw.Write([]byte("❌ live line\n"))
	live := read(t, conn)
	assert.Equal(t, "❌ live line", live.Data.(map[string]interface{})["message"])
	assert.Equal(t, "error", live.Data.(map[string]interface{})["level"])
}
