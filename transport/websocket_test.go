package transport

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"presencecore/collab"
	"presencecore/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testWebSocketConfig() config.WebSocketConfig {
	return config.WebSocketConfig{
		WriteTimeout:    time.Second,
		PongTimeout:     time.Second,
		PingPeriod:      500 * time.Millisecond,
		MaxMessageSize:  65536,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}
}

func dialSink(t *testing.T, sink *WebSocketSink, presence collab.PresenceID) *websocket.Conn {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, sink.ServeWS(presence, w, r))
	}))
	t.Cleanup(server.Close)

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestSendHealthDeliversEnvelopeToConnectedClient(t *testing.T) {
	sink := NewWebSocketSink(testWebSocketConfig())
	conn := dialSink(t, sink, "avatar-1")

	require.Eventually(t, func() bool {
		sink.mu.RLock()
		_, ok := sink.conns["avatar-1"]
		sink.mu.RUnlock()
		return ok
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, sink.SendHealth(nil, "avatar-1", 87.5))

	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, body, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(body), `"type":"health"`)
	assert.Contains(t, string(body), "87.5")
}

func TestSendToUnknownPresenceReturnsError(t *testing.T) {
	sink := NewWebSocketSink(testWebSocketConfig())
	err := sink.SendAlertMessage(nil, "ghost", "hello")
	require.Error(t, err)
}

func TestCloseUnregistersConnection(t *testing.T) {
	sink := NewWebSocketSink(testWebSocketConfig())
	dialSink(t, sink, "avatar-1")

	require.Eventually(t, func() bool {
		sink.mu.RLock()
		_, ok := sink.conns["avatar-1"]
		sink.mu.RUnlock()
		return ok
	}, time.Second, 10*time.Millisecond)

	sink.Close("avatar-1")

	sink.mu.RLock()
	_, ok := sink.conns["avatar-1"]
	sink.mu.RUnlock()
	assert.False(t, ok)
}
