package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	fswsutil "github.com/feedsim/feedsim/internal/wsutil"
)

// wsWriteTimeout bounds each frame write so one stalled subscriber cannot
// pin the handler goroutine.
const wsWriteTimeout = 10 * time.Second

// handleStream upgrades GET /api/events/stream to a WebSocket and pushes
// every event the hub records as one JSON text frame. The stream is
// push-only; client data frames are drained solely to service pings and
// detect disconnection.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		// UpgradeHTTP has already written the error response.
		return
	}
	defer func() { _ = conn.Close() }()

	events, cancel := s.hub.Subscribe()
	defer cancel()

	// Drain client frames in the background. ReadClientData answers pings
	// internally and fails on a close frame or dead connection, which is the
	// only signal we get that the subscriber went away.
	clientGone := make(chan struct{})
	go func() {
		defer close(clientGone)
		for {
			if _, _, err := wsutil.ReadClientData(conn); err != nil {
				return
			}
		}
	}()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			fswsutil.WriteCloseFrame(conn, ws.StatusGoingAway, "server shutting down")
			return
		case <-clientGone:
			return
		case ev, ok := <-events:
			if !ok {
				// Hub closed: process teardown.
				fswsutil.WriteCloseFrame(conn, ws.StatusGoingAway, "stream closed")
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := wsutil.WriteServerText(conn, data); err != nil {
				if !fswsutil.IsExpectedCloseErr(err) {
					s.log.LogStreamError(r.RemoteAddr, err)
				}
				return
			}
		}
	}
}
