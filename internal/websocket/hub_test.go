package websocket

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/lingtin/lingtin/server/domain/entities"
)

func setupTestHub(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()
	logger := zap.NewNop()
	hub := NewHub(logger)

	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	e := echo.New()
	e.GET("/ws", func(c echo.Context) error {
		return HandleWebSocket(hub, c, "test", logger)
	})
	server := httptest.NewServer(e)

	t.Cleanup(func() {
		server.Close()
		cancel()
	})
	return hub, server
}

func dial(t *testing.T, server *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Failed to dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitForClients(t *testing.T, hub *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if hub.ClientCount() == n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Expected %d clients, got %d", n, hub.ClientCount())
}

func readJSON(t *testing.T, conn *websocket.Conn, v interface{}) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("Failed to read message: %v", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("Failed to decode message %s: %v", data, err)
	}
}

func TestHub_BroadcastsStatus(t *testing.T) {
	hub, server := setupTestHub(t)
	conn := dial(t, server, "")
	waitForClients(t, hub, 1)

	hub.PublishStatus("rec-1", "r1", entities.RecordingStatusProcessing, "")

	var msg StatusMessage
	readJSON(t, conn, &msg)
	if msg.Type != MessageTypeStatus {
		t.Errorf("Expected type %s, got %s", MessageTypeStatus, msg.Type)
	}
	if msg.RecordingID != "rec-1" || msg.Status != entities.RecordingStatusProcessing {
		t.Errorf("Unexpected status message: %+v", msg)
	}
}

func TestHub_RestaurantFilterFromQuery(t *testing.T) {
	hub, server := setupTestHub(t)
	conn := dial(t, server, "?restaurant_id=r2")
	waitForClients(t, hub, 1)

	hub.PublishStatus("rec-1", "r1", entities.RecordingStatusProcessed, "")
	hub.PublishStatus("rec-2", "r2", entities.RecordingStatusProcessed, "")

	var msg StatusMessage
	readJSON(t, conn, &msg)
	if msg.RecordingID != "rec-2" {
		t.Errorf("Expected only rec-2 to be delivered, got %s", msg.RecordingID)
	}
}

func TestHub_SubscribeAndPing(t *testing.T) {
	hub, server := setupTestHub(t)
	conn := dial(t, server, "")
	waitForClients(t, hub, 1)

	if err := conn.WriteJSON(map[string]string{"type": "subscribe", "recording_id": "rec-9"}); err != nil {
		t.Fatalf("Failed to subscribe: %v", err)
	}
	// The ping reply proves the subscription above was processed first
	if err := conn.WriteJSON(map[string]string{"type": "ping", "data": "hello"}); err != nil {
		t.Fatalf("Failed to ping: %v", err)
	}

	var pong PongMessage
	readJSON(t, conn, &pong)
	if pong.Type != MessageTypePong || pong.Data != "hello" {
		t.Errorf("Unexpected pong: %+v", pong)
	}

	hub.PublishStatus("rec-1", "r1", entities.RecordingStatusProcessed, "")
	hub.PublishStatus("rec-9", "r1", entities.RecordingStatusError, "transcode failed")

	var msg StatusMessage
	readJSON(t, conn, &msg)
	if msg.RecordingID != "rec-9" || msg.Message != "transcode failed" {
		t.Errorf("Expected rec-9 error status, got %+v", msg)
	}
}

func TestHub_InvalidMessageGetsError(t *testing.T) {
	hub, server := setupTestHub(t)
	conn := dial(t, server, "")
	waitForClients(t, hub, 1)

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"audio_chunk"}`)); err != nil {
		t.Fatalf("Failed to write: %v", err)
	}

	var msg ErrorMessage
	readJSON(t, conn, &msg)
	if msg.Type != MessageTypeError || msg.Code != "invalid_message" {
		t.Errorf("Unexpected error message: %+v", msg)
	}
}

func TestHub_UnregistersOnClose(t *testing.T) {
	hub, server := setupTestHub(t)
	conn := dial(t, server, "")
	waitForClients(t, hub, 1)

	conn.Close()
	waitForClients(t, hub, 0)
}
