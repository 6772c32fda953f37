package api

import (
	"context"
	"encoding/json"
	"net"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/feedsim/feedsim/internal/sink"
)

// dialStream upgrades a client connection to the event stream endpoint.
func dialStream(t *testing.T, ts *httptest.Server) net.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/events/stream"
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, _, _, err := ws.Dial(ctx, wsURL)
	if err != nil {
		t.Fatalf("dialing %s: %v", wsURL, err)
	}
	return conn
}

func TestStreamDeliversEvents(t *testing.T) {
	s, ts := newTestServer(t, nil)

	conn := dialStream(t, ts)
	defer func() { _ = conn.Close() }()

	// The subscription is registered during the upgrade handshake, but give
	// the handler a moment to enter its select loop.
	time.Sleep(50 * time.Millisecond)
	s.hub.Record(sink.NewTick("ws-prod", 7, map[string]any{"zone": "eu"}))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	data, err := wsutil.ReadServerText(conn)
	if err != nil {
		t.Fatalf("reading stream frame: %v", err)
	}

	var ev sink.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		t.Fatalf("unmarshaling frame: %v", err)
	}
	if ev.ProducerID != "ws-prod" {
		t.Errorf("producer_id = %q, want ws-prod", ev.ProducerID)
	}
	if ev.Sequence != 7 {
		t.Errorf("sequence = %d, want 7", ev.Sequence)
	}
	if ev.Payload["zone"] != "eu" {
		t.Errorf("payload zone = %v, want eu", ev.Payload["zone"])
	}
}

func TestStreamClosesOnHubClose(t *testing.T) {
	s, ts := newTestServer(t, nil)

	conn := dialStream(t, ts)
	defer func() { _ = conn.Close() }()
	time.Sleep(50 * time.Millisecond)

	s.hub.Close()

	// The server should answer with a close frame; the client read fails
	// with a closed-connection error rather than hanging.
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := wsutil.ReadServerText(conn); err == nil {
		t.Error("expected read to fail after hub close")
	}
}

func TestStreamClientDisconnect(t *testing.T) {
	s, ts := newTestServer(t, nil)

	conn := dialStream(t, ts)
	time.Sleep(50 * time.Millisecond)
	_ = conn.Close()

	// Events recorded after the disconnect must not block the hub: the
	// handler's reader goroutine notices the dead conn and unsubscribes.
	for i := range 50 {
		s.hub.Record(sink.NewTick("after-close", uint64(i+1), nil)) //nolint:gosec // small loop index
	}
}
