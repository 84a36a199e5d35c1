package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/caelum/internal/common"
	"github.com/ternarybob/caelum/internal/interfaces"
	"github.com/ternarybob/caelum/internal/services/events"
)

func dialWebSocket(t *testing.T, h *WebSocketHandler) *websocket.Conn {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", h.HandleWebSocket)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	require.Eventually(t, func() bool { return h.ClientCount() == 1 },
		2*time.Second, 10*time.Millisecond)
	return conn
}

func TestWebSocketStreamsJobEvents(t *testing.T) {
	eventService := events.NewService(arbor.NewLogger())
	defer eventService.Close()

	h := NewWebSocketHandler(eventService, &common.WebSocketConfig{Enabled: true}, arbor.NewLogger())
	conn := dialWebSocket(t, h)

	require.NoError(t, eventService.PublishSync(context.Background(), interfaces.Event{
		Type: interfaces.EventJobStateChanged,
		Payload: interfaces.JobEventPayload{
			User:  "alice",
			JobID: "j-1",
			State: "SUCCESS",
		},
	}))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg wsMessage
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, string(interfaces.EventJobStateChanged), msg.Event)

	payload, ok := msg.Payload.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "j-1", payload["job_id"])
	assert.Equal(t, "SUCCESS", payload["state"])
}

func TestWebSocketEventWhitelist(t *testing.T) {
	eventService := events.NewService(arbor.NewLogger())
	defer eventService.Close()

	h := NewWebSocketHandler(eventService, &common.WebSocketConfig{
		Enabled:       true,
		AllowedEvents: []string{string(interfaces.EventJobStateChanged)},
	}, arbor.NewLogger())
	conn := dialWebSocket(t, h)

	// Filtered event first, allowed event second: only the second arrives.
	require.NoError(t, eventService.PublishSync(context.Background(), interfaces.Event{
		Type:    interfaces.EventJobSubmitted,
		Payload: interfaces.JobEventPayload{JobID: "filtered"},
	}))
	require.NoError(t, eventService.PublishSync(context.Background(), interfaces.Event{
		Type:    interfaces.EventJobStateChanged,
		Payload: interfaces.JobEventPayload{JobID: "allowed"},
	}))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg wsMessage
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, string(interfaces.EventJobStateChanged), msg.Event)

	payload := msg.Payload.(map[string]interface{})
	assert.Equal(t, "allowed", payload["job_id"])
}

func TestWebSocketClientCleanup(t *testing.T) {
	eventService := events.NewService(arbor.NewLogger())
	defer eventService.Close()

	h := NewWebSocketHandler(eventService, &common.WebSocketConfig{Enabled: true}, arbor.NewLogger())
	conn := dialWebSocket(t, h)

	conn.Close()
	require.Eventually(t, func() bool { return h.ClientCount() == 0 },
		2*time.Second, 10*time.Millisecond)
}
