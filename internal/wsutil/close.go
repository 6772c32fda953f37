// Package wsutil carries small WebSocket helpers for the event stream
// endpoint, built on gobwas/ws.
package wsutil

import (
	"bytes"
	"net"
	"time"
	"unicode/utf8"

	"github.com/gobwas/ws"
)

// MaxControlPayload is the RFC 6455 §5.5 limit for control frame payloads.
const MaxControlPayload = 125

// WriteCloseFrame sends a server-side WebSocket close frame with the given
// status code and reason.
func WriteCloseFrame(conn net.Conn, code ws.StatusCode, reason string) {
	// Close frame payload: 2-byte status code + optional UTF-8 reason.
	// Truncate the reason to fit in a control frame (125 bytes max payload).
	reasonBytes := []byte(reason)
	if len(reasonBytes) > 123 { // 125 - 2 bytes for status code
		reasonBytes = reasonBytes[:123]
		// Back up to a valid UTF-8 boundary so we don't split a multi-byte
		// codepoint (RFC 6455 requires close reasons to be valid UTF-8).
		for len(reasonBytes) > 0 && !utf8.Valid(reasonBytes) {
			reasonBytes = reasonBytes[:len(reasonBytes)-1]
		}
	}
	payload := make([]byte, 2+len(reasonBytes))
	payload[0] = byte(code >> 8) //nolint:gosec // StatusCode is uint16, high byte extraction is safe
	payload[1] = byte(code & 0xFF)
	copy(payload[2:], reasonBytes)

	// Build the complete frame (header + payload) in one buffer so the
	// conn.Write is a single syscall. The stream handler's event writer and
	// its client-reader goroutine may both finalize the same conn; a single
	// write prevents interleaved bytes.
	var buf bytes.Buffer
	_ = ws.WriteHeader(&buf, ws.Header{
		Fin:    true,
		OpCode: ws.OpClose,
		Length: int64(len(payload)),
	})
	buf.Write(payload)

	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	_, _ = conn.Write(buf.Bytes())
}
