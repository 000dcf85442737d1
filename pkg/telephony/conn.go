package telephony

import (
	"encoding/base64"
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/harunnryd/voxbridge/pkg/errorsx"
)

// Socket is the surface of *websocket.Conn the media writer needs;
// narrowed so tests can run against an in-memory fake.
type Socket interface {
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// MediaConn owns the write side of one provider media-stream socket.
// All writes funnel through a single goroutine so the relay loop and
// the provider acknowledgement path never interleave frames.
type MediaConn struct {
	conn      Socket
	streamSID string
	sendCh    chan []byte

	// closeMu serializes enqueue against Close: the check and the
	// channel send must be one step, or Close can close sendCh in
	// between and the send panics.
	closeMu sync.Mutex
	closed  bool
}

func NewMediaConn(conn Socket, streamSID string) *MediaConn {
	mc := &MediaConn{
		conn:      conn,
		streamSID: streamSID,
		sendCh:    make(chan []byte, 256),
	}
	go mc.loop()
	return mc
}

func (mc *MediaConn) loop() {
	for msg := range mc.sendCh {
		_ = mc.conn.WriteMessage(websocket.TextMessage, msg)
	}
}

func (mc *MediaConn) enqueue(msg map[string]any) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return errorsx.Wrap(err, errorsx.ReasonTransportSend)
	}
	mc.closeMu.Lock()
	defer mc.closeMu.Unlock()
	if mc.closed {
		return nil
	}
	select {
	case mc.sendCh <- b:
	default:
	}
	return nil
}

// SendAudio encodes raw audio bytes back into provider framing.
func (mc *MediaConn) SendAudio(payload []byte) error {
	return mc.enqueue(map[string]any{
		"event":     "media",
		"streamSid": mc.streamSID,
		"media": map[string]any{
			"payload": base64.StdEncoding.EncodeToString(payload),
		},
	})
}

// SendMark echoes a mark acknowledgement for flow control.
func (mc *MediaConn) SendMark(name string) error {
	return mc.enqueue(map[string]any{
		"event":     "mark",
		"streamSid": mc.streamSID,
		"mark": map[string]any{
			"name": name,
		},
	})
}

// Clear asks the provider to drop buffered outbound audio.
func (mc *MediaConn) Clear() error {
	return mc.enqueue(map[string]any{
		"event":     "clear",
		"streamSid": mc.streamSID,
	})
}

// Close is idempotent.
func (mc *MediaConn) Close() error {
	mc.closeMu.Lock()
	if !mc.closed {
		mc.closed = true
		close(mc.sendCh)
	}
	mc.closeMu.Unlock()
	return mc.conn.Close()
}
