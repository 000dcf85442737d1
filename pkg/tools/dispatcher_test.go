package tools

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/harunnryd/voxbridge/pkg/automation"
	"github.com/harunnryd/voxbridge/pkg/engine"
	"github.com/harunnryd/voxbridge/pkg/errorsx"
	"github.com/harunnryd/voxbridge/pkg/metrics"
	"github.com/harunnryd/voxbridge/pkg/resilience"
	"github.com/harunnryd/voxbridge/pkg/session"
	"github.com/harunnryd/voxbridge/pkg/stages"
)

type captureSocket struct {
	frames    chan []byte
	closeOnce sync.Once
	done      chan struct{}
}

func newCaptureSocket() *captureSocket {
	return &captureSocket{
		frames: make(chan []byte, 16),
		done:   make(chan struct{}),
	}
}

func (c *captureSocket) ReadMessage() (int, []byte, error) {
	<-c.done
	return 0, nil, io.EOF
}

func (c *captureSocket) WriteMessage(messageType int, data []byte) error {
	c.frames <- data
	return nil
}

func (c *captureSocket) Close() error {
	c.closeOnce.Do(func() { close(c.done) })
	return nil
}

func (c *captureSocket) next(t *testing.T) map[string]any {
	t.Helper()
	select {
	case data := <-c.frames:
		var payload map[string]any
		if err := json.Unmarshal(data, &payload); err != nil {
			t.Fatalf("unmarshal frame: %v", err)
		}
		return payload
	case <-time.After(1 * time.Second):
		t.Fatalf("expected a frame to be written")
		return nil
	}
}

func (c *captureSocket) expectSilence(t *testing.T) {
	t.Helper()
	select {
	case data := <-c.frames:
		t.Fatalf("expected no reply, got %s", data)
	case <-time.After(50 * time.Millisecond):
	}
}

type fakeTerminator struct {
	mu      sync.Mutex
	reasons []string
}

func (f *fakeTerminator) Terminate(ctx context.Context, sess *session.Session, reason string) {
	f.mu.Lock()
	f.reasons = append(f.reasons, reason)
	f.mu.Unlock()
}

func (f *fakeTerminator) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.reasons)
}

type fixture struct {
	dispatcher *Dispatcher
	terminator *fakeTerminator
	sock       *captureSocket
	sess       *session.Session
	webhookHit *atomic.Int32
	observer   *metrics.MemoryObserver
}

func newFixture(t *testing.T, webhookHandler http.HandlerFunc) *fixture {
	t.Helper()
	hits := &atomic.Int32{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if webhookHandler != nil {
			webhookHandler(w, r)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"message": "OK"})
	}))
	t.Cleanup(srv.Close)

	retry := resilience.NewRetryPolicy(0, 1)
	set := stages.NewSet(stages.Params{})
	terminator := &fakeTerminator{}
	observer := metrics.NewMemoryObserver()
	dispatcher := NewDispatcher(
		stages.NewOrchestrator(set, nil),
		automation.NewClient(srv.URL, retry),
		terminator,
		map[string]string{"Downtown Clinic": "cal-downtown"},
		nil,
		observer,
	)

	sock := newCaptureSocket()
	sess := session.New("CA12345678901234567890123456789012", "MZ1", "trace-1", "+15550001111", string(stages.StageIntake))
	sess.Engine = engine.NewConn(sock)
	sess.Activate()
	t.Cleanup(func() { _ = sess.Engine.Close() })

	return &fixture{
		dispatcher: dispatcher,
		terminator: terminator,
		sock:       sock,
		sess:       sess,
		webhookHit: hits,
		observer:   observer,
	}
}

func TestVerifyConfirmed(t *testing.T) {
	f := newFixture(t, nil)
	f.dispatcher.Dispatch(context.Background(), f.sess, Invocation{
		ToolName:     stages.ToolVerify,
		InvocationID: "inv-1",
		Parameters: map[string]any{
			"full_name":     "Pat Doe",
			"date_of_birth": "1990-01-02",
			"policy_number": "P-12345",
		},
	})
	payload := f.sock.next(t)
	if payload["result"] != "Confirmed" {
		t.Fatalf("expected Confirmed, got %v", payload)
	}
	if payload["invocationId"] != "inv-1" {
		t.Fatalf("expected invocation id echoed, got %v", payload)
	}
}

func TestVerifyNotConfirmed(t *testing.T) {
	f := newFixture(t, nil)
	f.dispatcher.Dispatch(context.Background(), f.sess, Invocation{
		ToolName:     stages.ToolVerify,
		InvocationID: "inv-1",
		Parameters: map[string]any{
			"full_name":     "Pat Doe",
			"date_of_birth": "  ",
			"policy_number": "P-12345",
		},
	})
	payload := f.sock.next(t)
	if payload["result"] != "Not Confirmed" {
		t.Fatalf("expected Not Confirmed, got %v", payload)
	}
}

func TestScheduleMeetingMissingParams(t *testing.T) {
	f := newFixture(t, nil)
	f.sess.SetStage(string(stages.StageMainConvo))
	f.dispatcher.Dispatch(context.Background(), f.sess, Invocation{
		ToolName:     stages.ToolScheduleMeeting,
		InvocationID: "inv-2",
		Parameters: map[string]any{
			"name":     "Pat Doe",
			"purpose":  "follow-up",
			"datetime": "2026-09-01 10:00",
		},
	})
	payload := f.sock.next(t)
	result, _ := payload["result"].(string)
	if result != "Please provide the following information to schedule your meeting: email, location." {
		t.Fatalf("unexpected clarification: %q", result)
	}
	if f.webhookHit.Load() != 0 {
		t.Fatalf("expected webhook untouched on missing params")
	}
}

func TestScheduleMeetingUnknownLocation(t *testing.T) {
	f := newFixture(t, nil)
	f.sess.SetStage(string(stages.StageMainConvo))
	f.dispatcher.Dispatch(context.Background(), f.sess, Invocation{
		ToolName:     stages.ToolScheduleMeeting,
		InvocationID: "inv-2",
		Parameters: map[string]any{
			"name":     "Pat Doe",
			"email":    "pat@example.com",
			"purpose":  "follow-up",
			"datetime": "2026-09-01 10:00",
			"location": "Uptown Clinic",
		},
	})
	payload := f.sock.next(t)
	if payload["error_type"] != "implementation-error" {
		t.Fatalf("expected implementation error, got %v", payload)
	}
	msg, _ := payload["error_message"].(string)
	if strings.Contains(msg, "Uptown") {
		t.Fatalf("error message must not leak internals: %q", msg)
	}
	if f.webhookHit.Load() != 0 {
		t.Fatalf("expected webhook untouched for unknown location")
	}
}

func TestScheduleMeetingSuccess(t *testing.T) {
	var got struct {
		Route  string `json:"route"`
		Number string `json:"number"`
		Data   string `json:"data"`
	}
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		_ = json.NewEncoder(w).Encode(map[string]string{"message": "Booked for Tuesday 10am."})
	})
	f.sess.SetStage(string(stages.StageMainConvo))
	f.dispatcher.Dispatch(context.Background(), f.sess, Invocation{
		ToolName:     stages.ToolScheduleMeeting,
		InvocationID: "inv-2",
		Parameters: map[string]any{
			"name":     "Pat Doe",
			"email":    "pat@example.com",
			"purpose":  "follow-up",
			"datetime": "2026-09-01 10:00",
			"location": "Downtown Clinic",
		},
	})
	payload := f.sock.next(t)
	if payload["result"] != "Booked for Tuesday 10am." {
		t.Fatalf("expected webhook message relayed, got %v", payload)
	}
	if got.Route != automation.RouteScheduling || got.Number != "+15550001111" {
		t.Fatalf("unexpected webhook request: %+v", got)
	}
	var data map[string]any
	if err := json.Unmarshal([]byte(got.Data), &data); err != nil {
		t.Fatalf("unmarshal data: %v", err)
	}
	if data["calendar_id"] != "cal-downtown" {
		t.Fatalf("expected calendar id resolved, got %v", data)
	}
}

func TestScheduleMeetingWebhookFailure(t *testing.T) {
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	})
	f.sess.SetStage(string(stages.StageMainConvo))
	f.dispatcher.Dispatch(context.Background(), f.sess, Invocation{
		ToolName:     stages.ToolScheduleMeeting,
		InvocationID: "inv-2",
		Parameters: map[string]any{
			"name":     "Pat Doe",
			"email":    "pat@example.com",
			"purpose":  "follow-up",
			"datetime": "2026-09-01 10:00",
			"location": "Downtown Clinic",
		},
	})
	payload := f.sock.next(t)
	if payload["error_type"] != "implementation-error" {
		t.Fatalf("expected implementation error, got %v", payload)
	}
	msg, _ := payload["error_message"].(string)
	if strings.Contains(msg, "503") || strings.Contains(msg, "down") {
		t.Fatalf("error message must not leak internals: %q", msg)
	}
}

func TestHandlerErrorReasons(t *testing.T) {
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	})
	f.sess.SetStage(string(stages.StageMainConvo))

	params := map[string]any{
		"name":     "Pat Doe",
		"email":    "pat@example.com",
		"purpose":  "follow-up",
		"datetime": "2026-09-01 10:00",
		"location": "Uptown Clinic",
	}
	err := f.dispatcher.handleScheduleMeeting(context.Background(), f.sess, Invocation{
		ToolName:     stages.ToolScheduleMeeting,
		InvocationID: "inv-2",
		Parameters:   params,
	})
	if !errors.Is(err, ErrUnknownLocation) {
		t.Fatalf("expected ErrUnknownLocation, got %v", err)
	}
	if !errorsx.HasReason(err, errorsx.ReasonToolValidation) {
		t.Fatalf("expected tool_validation reason, got %s", errorsx.Reason(err))
	}
	f.sock.next(t)

	params["location"] = "Downtown Clinic"
	err = f.dispatcher.handleScheduleMeeting(context.Background(), f.sess, Invocation{
		ToolName:     stages.ToolScheduleMeeting,
		InvocationID: "inv-2",
		Parameters:   params,
	})
	if !errorsx.HasReason(err, errorsx.ReasonToolExecution) {
		t.Fatalf("expected tool_execution reason, got %s", errorsx.Reason(err))
	}
	f.sock.next(t)

	f.sess.SetStage(string(stages.StageCallSummary))
	err = f.dispatcher.handleMoveToMain(context.Background(), f.sess, Invocation{
		ToolName:     stages.ToolMoveToMain,
		InvocationID: "inv-3",
		Parameters:   map[string]any{"issue_type": "general_QnA"},
	})
	if !errorsx.HasReason(err, errorsx.ReasonToolValidation) {
		t.Fatalf("expected tool_validation reason on rejected move, got %s", errorsx.Reason(err))
	}
	f.sock.next(t)
}

func TestMoveToMainPersonalizedAnnouncement(t *testing.T) {
	f := newFixture(t, nil)
	f.dispatcher.Dispatch(context.Background(), f.sess, Invocation{
		ToolName:     stages.ToolMoveToMain,
		InvocationID: "inv-3",
		Parameters: map[string]any{
			"issue_type":    "billing_questions",
			"issue_details": "double charge on last invoice",
			"customer_name": "Pat",
		},
	})
	payload := f.sock.next(t)
	if payload["response_type"] != engine.ResponseNewStage {
		t.Fatalf("expected new-stage frame, got %v", payload)
	}
	result, _ := payload["result"].(string)
	var change engine.StageChange
	if err := json.Unmarshal([]byte(result), &change); err != nil {
		t.Fatalf("unmarshal stage change: %v", err)
	}
	if !strings.Contains(change.ToolResultText, "Pat") || !strings.Contains(change.ToolResultText, "billing_questions") {
		t.Fatalf("expected personalized announcement, got %q", change.ToolResultText)
	}
	if f.sess.Stage() != string(stages.StageMainConvo) {
		t.Fatalf("expected stage main_convo, got %q", f.sess.Stage())
	}
}

func TestMoveRejectedFromSummary(t *testing.T) {
	f := newFixture(t, nil)
	f.sess.SetStage(string(stages.StageCallSummary))
	f.dispatcher.Dispatch(context.Background(), f.sess, Invocation{
		ToolName:     stages.ToolMoveToMain,
		InvocationID: "inv-3",
		Parameters:   map[string]any{"issue_type": "general_QnA", "issue_details": "n/a"},
	})
	payload := f.sock.next(t)
	if payload["error_type"] != "implementation-error" {
		t.Fatalf("expected implementation error, got %v", payload)
	}
	if f.sess.Stage() != string(stages.StageCallSummary) {
		t.Fatalf("expected stage unchanged, got %q", f.sess.Stage())
	}
}

func TestHangUp(t *testing.T) {
	f := newFixture(t, nil)
	f.dispatcher.Dispatch(context.Background(), f.sess, Invocation{
		ToolName:     stages.ToolHangUp,
		InvocationID: "inv-4",
	})
	payload := f.sock.next(t)
	if payload["result"] != "Call ended successfully" {
		t.Fatalf("expected hang-up acknowledgement, got %v", payload)
	}
	if !f.sess.HangingUp() {
		t.Fatalf("expected hanging-up latch set")
	}
	if f.sess.EngineActive() {
		t.Fatalf("expected engine deactivated after acknowledgement")
	}
	if f.terminator.count() != 1 {
		t.Fatalf("expected one terminate call, got %d", f.terminator.count())
	}
}

func TestUnknownToolProducesNoReply(t *testing.T) {
	f := newFixture(t, nil)
	f.dispatcher.Dispatch(context.Background(), f.sess, Invocation{
		ToolName:     "definitely_not_a_tool",
		InvocationID: "inv-5",
	})
	f.sock.expectSilence(t)
	if f.terminator.count() != 0 {
		t.Fatalf("expected no termination for unknown tool")
	}
	if len(f.observer.Named(metrics.EventToolDispatch)) != 0 {
		t.Fatalf("expected no dispatch metric for unknown tool")
	}
}

func TestDispatchRecordsMetric(t *testing.T) {
	f := newFixture(t, nil)
	f.dispatcher.Dispatch(context.Background(), f.sess, Invocation{
		ToolName:     stages.ToolVerify,
		InvocationID: "inv-1",
		Parameters:   map[string]any{},
	})
	f.sock.next(t)
	events := f.observer.Named(metrics.EventToolDispatch)
	if len(events) != 1 {
		t.Fatalf("expected one dispatch event, got %d", len(events))
	}
	if events[0].Tags["tool_name"] != stages.ToolVerify {
		t.Fatalf("unexpected metric event: %+v", events[0])
	}
}

func TestKnown(t *testing.T) {
	f := newFixture(t, nil)
	for _, name := range []string{stages.ToolVerify, stages.ToolScheduleMeeting, stages.ToolMoveToMain, stages.ToolMoveToSummary, stages.ToolHangUp} {
		if !f.dispatcher.Known(name) {
			t.Fatalf("expected %q known", name)
		}
	}
	if f.dispatcher.Known(stages.ToolQueryCorpus) {
		t.Fatalf("queryCorpus is engine-side, not dispatched locally")
	}
	if f.dispatcher.Known("bogus") {
		t.Fatalf("expected bogus unknown")
	}
}
