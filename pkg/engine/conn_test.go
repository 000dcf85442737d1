package engine

import (
	"encoding/json"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

type wsFrame struct {
	messageType int
	data        []byte
}

type fakeSocket struct {
	in        chan wsFrame
	out       chan wsFrame
	closeOnce sync.Once
}

func newFakeSocket() *fakeSocket {
	return &fakeSocket{
		in:  make(chan wsFrame, 16),
		out: make(chan wsFrame, 16),
	}
}

func (f *fakeSocket) ReadMessage() (int, []byte, error) {
	frame, ok := <-f.in
	if !ok {
		return 0, nil, io.EOF
	}
	return frame.messageType, frame.data, nil
}

func (f *fakeSocket) WriteMessage(messageType int, data []byte) error {
	f.out <- wsFrame{messageType: messageType, data: data}
	return nil
}

func (f *fakeSocket) Close() error {
	f.closeOnce.Do(func() { close(f.in) })
	return nil
}

func (f *fakeSocket) nextWrite(t *testing.T) wsFrame {
	t.Helper()
	select {
	case frame := <-f.out:
		return frame
	case <-time.After(1 * time.Second):
		t.Fatalf("expected a frame to be written")
		return wsFrame{}
	}
}

func (f *fakeSocket) expectNoWrite(t *testing.T) {
	t.Helper()
	select {
	case frame := <-f.out:
		t.Fatalf("expected no write, got %s", frame.data)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestConnReadClassifiesFrames(t *testing.T) {
	sock := newFakeSocket()
	c := NewConn(sock)
	defer c.Close()

	sock.in <- wsFrame{messageType: websocket.BinaryMessage, data: []byte{0x01, 0x02}}
	audio, msg, err := c.Read()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if msg != nil || len(audio) != 2 {
		t.Fatalf("expected audio frame, got audio=%v msg=%v", audio, msg)
	}

	sock.in <- wsFrame{messageType: websocket.TextMessage, data: []byte(`{"type":"transcript","role":"agent","text":"Hi","final":true}`)}
	audio, msg, err = c.Read()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if audio != nil || msg == nil || msg.Type != MessageTranscript || !msg.Final {
		t.Fatalf("expected transcript message, got audio=%v msg=%+v", audio, msg)
	}

	sock.in <- wsFrame{messageType: websocket.TextMessage, data: []byte(`{broken`)}
	if _, _, err := c.Read(); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestConnSendToolResult(t *testing.T) {
	sock := newFakeSocket()
	c := NewConn(sock)
	defer c.Close()

	if err := c.SendToolResult("inv-1", "Confirmed"); err != nil {
		t.Fatalf("send tool result: %v", err)
	}
	frame := sock.nextWrite(t)
	if frame.messageType != websocket.TextMessage {
		t.Fatalf("expected text frame, got %d", frame.messageType)
	}
	var payload map[string]any
	if err := json.Unmarshal(frame.data, &payload); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if payload["type"] != "client_tool_result" || payload["invocationId"] != "inv-1" {
		t.Fatalf("unexpected payload: %v", payload)
	}
	if payload["result"] != "Confirmed" || payload["response_type"] != ResponseTool {
		t.Fatalf("unexpected payload: %v", payload)
	}
}

func TestConnSendToolError(t *testing.T) {
	sock := newFakeSocket()
	c := NewConn(sock)
	defer c.Close()

	if err := c.SendToolError("inv-1", "implementation-error", "sorry"); err != nil {
		t.Fatalf("send tool error: %v", err)
	}
	var payload map[string]any
	if err := json.Unmarshal(sock.nextWrite(t).data, &payload); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if payload["error_type"] != "implementation-error" || payload["error_message"] != "sorry" {
		t.Fatalf("unexpected payload: %v", payload)
	}
}

func TestConnSendStageChange(t *testing.T) {
	sock := newFakeSocket()
	c := NewConn(sock)
	defer c.Close()

	change := StageChange{
		SystemPrompt:   "You are Alex.",
		Voice:          "Mark",
		ToolResultText: "Transferring you now.",
	}
	if err := c.SendStageChange("inv-2", change); err != nil {
		t.Fatalf("send stage change: %v", err)
	}
	var payload map[string]any
	if err := json.Unmarshal(sock.nextWrite(t).data, &payload); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if payload["response_type"] != ResponseNewStage {
		t.Fatalf("expected new-stage response type, got %v", payload)
	}
	var embedded StageChange
	result, _ := payload["result"].(string)
	if err := json.Unmarshal([]byte(result), &embedded); err != nil {
		t.Fatalf("unmarshal embedded change: %v", err)
	}
	if embedded.Voice != "Mark" || embedded.ToolResultText != "Transferring you now." {
		t.Fatalf("unexpected embedded change: %+v", embedded)
	}
}

func TestConnDeactivateSkipsControlWrites(t *testing.T) {
	sock := newFakeSocket()
	c := NewConn(sock)
	defer c.Close()

	c.Deactivate()
	if c.Active() {
		t.Fatalf("expected inactive after deactivate")
	}
	if err := c.SendToolResult("inv-1", "Confirmed"); err != nil {
		t.Fatalf("send after deactivate: %v", err)
	}
	if err := c.SendAudio([]byte{0x01}); err != nil {
		t.Fatalf("audio after deactivate: %v", err)
	}
	sock.expectNoWrite(t)
}

type discardSocket struct{}

func (discardSocket) ReadMessage() (int, []byte, error) { return 0, nil, io.EOF }
func (discardSocket) WriteMessage(int, []byte) error    { return nil }
func (discardSocket) Close() error                      { return nil }

func TestConnConcurrentSendAndClose(t *testing.T) {
	for i := 0; i < 50; i++ {
		c := NewConn(discardSocket{})
		var wg sync.WaitGroup
		for g := 0; g < 4; g++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < 100; j++ {
					_ = c.SendAudio([]byte{0x01})
					_ = c.SendToolResult("inv-1", "Confirmed")
				}
			}()
		}
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = c.Close()
		}()
		go func() {
			defer wg.Done()
			_ = c.Close()
		}()
		wg.Wait()
	}
}

func TestConnCloseIdempotent(t *testing.T) {
	sock := newFakeSocket()
	c := NewConn(sock)

	if err := c.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if c.Active() {
		t.Fatalf("expected inactive after close")
	}
	if _, _, err := c.Read(); err == nil {
		t.Fatalf("expected read error after close")
	}
}
