package ws

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func newRunningHub(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()
	hub := NewHub(slog.New(slog.NewJSONHandler(io.Discard, nil)))
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	t.Cleanup(srv.Close)
	return hub, srv
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) envelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal %q: %v", data, err)
	}
	return env
}

func TestHubBroadcastsPublishedEvents(t *testing.T) {
	hub, srv := newRunningHub(t)
	conn := dial(t, srv)

	first := readEnvelope(t, conn)
	if first.Type != "connected" {
		t.Fatalf("first frame type = %q, want connected", first.Type)
	}

	hub.Publish("snapshot_refreshed", map[string]any{"symbols": 12})
	env := readEnvelope(t, conn)
	if env.Type != "snapshot_refreshed" {
		t.Errorf("type = %q", env.Type)
	}
	payload, ok := env.Payload.(map[string]any)
	if !ok {
		t.Fatalf("payload = %T", env.Payload)
	}
	if payload["symbols"] != 12.0 {
		t.Errorf("payload = %v", payload)
	}
	if env.Timestamp.IsZero() {
		t.Error("timestamp not set")
	}
}

func TestHubFansOutToAllClients(t *testing.T) {
	hub, srv := newRunningHub(t)

	a := dial(t, srv)
	b := dial(t, srv)
	readEnvelope(t, a)
	readEnvelope(t, b)

	hub.Publish("trade_executed", map[string]any{"symbol": "BTC/USDT"})

	for _, conn := range []*websocket.Conn{a, b} {
		env := readEnvelope(t, conn)
		if env.Type != "trade_executed" {
			t.Errorf("type = %q", env.Type)
		}
	}
}

func TestPublishNeverBlocksWithoutRun(t *testing.T) {
	hub := NewHub(slog.New(slog.NewJSONHandler(io.Discard, nil)))

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 1000; i++ {
			hub.Publish("snapshot_refreshed", nil)
		}
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked with a full queue")
	}
}
