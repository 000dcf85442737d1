package engine

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"
	"github.com/harunnryd/voxbridge/pkg/errorsx"
)

// Socket is the surface of *websocket.Conn the adapter needs; narrowed
// so tests can run against an in-memory fake.
type Socket interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

type outFrame struct {
	messageType int
	data        []byte
}

// Conn owns one engine socket. Audio relay and control writes go through
// a single writer goroutine so a tool result can never be interleaved
// into the middle of an audio frame. Control writes after Deactivate are
// silently skipped: the engine side is assumed gone.
type Conn struct {
	sock   Socket
	sendCh chan outFrame
	active atomic.Bool

	// closeMu serializes enqueue against Close: the check and the
	// channel send must be one step, or Close can close sendCh in
	// between and the send panics.
	closeMu sync.Mutex
	closed  bool
}

func NewConn(sock Socket) *Conn {
	c := &Conn{
		sock:   sock,
		sendCh: make(chan outFrame, 256),
	}
	c.active.Store(true)
	go c.loop()
	return c
}

func (c *Conn) loop() {
	for f := range c.sendCh {
		_ = c.sock.WriteMessage(f.messageType, f.data)
	}
}

func (c *Conn) enqueue(f outFrame) {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.sendCh <- f:
	default:
	}
}

// Read blocks for the next frame. Exactly one of audio/msg is set on a
// nil error.
func (c *Conn) Read() (audio []byte, msg *Message, err error) {
	messageType, data, err := c.sock.ReadMessage()
	if err != nil {
		return nil, nil, err
	}
	if messageType == websocket.BinaryMessage {
		return data, nil, nil
	}
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, nil, fmt.Errorf("decode engine frame: %w", err)
	}
	return nil, &m, nil
}

// SendAudio relays caller audio to the engine.
func (c *Conn) SendAudio(payload []byte) error {
	if !c.active.Load() {
		return nil
	}
	c.enqueue(outFrame{messageType: websocket.BinaryMessage, data: payload})
	return nil
}

func (c *Conn) sendJSON(v any) error {
	if !c.active.Load() {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return errorsx.Wrap(err, errorsx.ReasonEngineSend)
	}
	c.enqueue(outFrame{messageType: websocket.TextMessage, data: b})
	return nil
}

// SendToolResult replies to one tool invocation.
func (c *Conn) SendToolResult(invocationID, result string) error {
	return c.sendJSON(toolResult{
		Type:         typeClientToolResult,
		InvocationID: invocationID,
		Result:       result,
		ResponseType: ResponseTool,
	})
}

// SendToolError reports a failed tool invocation.
func (c *Conn) SendToolError(invocationID, errType, errMessage string) error {
	return c.sendJSON(toolResult{
		Type:         typeClientToolResult,
		InvocationID: invocationID,
		ErrorType:    errType,
		ErrorMessage: errMessage,
	})
}

// SendStageChange rebinds the engine's prompt, voice, and tool set in a
// single new-stage frame. The telephony socket is untouched.
func (c *Conn) SendStageChange(invocationID string, change StageChange) error {
	payload, err := json.Marshal(change)
	if err != nil {
		return err
	}
	return c.sendJSON(toolResult{
		Type:         typeClientToolResult,
		InvocationID: invocationID,
		Result:       string(payload),
		ResponseType: ResponseNewStage,
	})
}

// Active reports whether the socket is usable for sending.
func (c *Conn) Active() bool { return c.active.Load() }

// Deactivate latches the socket as unusable for control writes.
func (c *Conn) Deactivate() { c.active.Store(false) }

// Close is idempotent.
func (c *Conn) Close() error {
	c.active.Store(false)
	c.closeMu.Lock()
	if !c.closed {
		c.closed = true
		close(c.sendCh)
	}
	c.closeMu.Unlock()
	return c.sock.Close()
}
