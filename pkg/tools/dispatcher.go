package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/harunnryd/voxbridge/pkg/automation"
	"github.com/harunnryd/voxbridge/pkg/errorsx"
	"github.com/harunnryd/voxbridge/pkg/metrics"
	"github.com/harunnryd/voxbridge/pkg/session"
	"github.com/harunnryd/voxbridge/pkg/stages"
)

// ErrUnknownLocation is returned when a meeting location is not in the
// calendar lookup table.
var ErrUnknownLocation = errors.New("unknown location")

const (
	errTypeImplementation = "implementation-error"

	genericScheduleFailure = "I'm sorry, I couldn't schedule the meeting at this time."
)

// Invocation is one tool request from the engine. Ephemeral; exactly one
// result is produced per invocation id.
type Invocation struct {
	ToolName     string
	InvocationID string
	Parameters   map[string]any
}

// Terminator begins the idempotent call-teardown sequence.
type Terminator interface {
	Terminate(ctx context.Context, sess *session.Session, reason string)
}

type handlerFunc func(ctx context.Context, sess *session.Session, inv Invocation) error

// Dispatcher routes tool invocations to a closed set of handlers. An
// unrecognized name is logged and produces no reply.
type Dispatcher struct {
	orchestrator *stages.Orchestrator
	webhook      *automation.Client
	terminator   Terminator
	calendars    map[string]string
	logger       *slog.Logger
	observer     metrics.Observer

	handlers map[string]handlerFunc
}

func NewDispatcher(
	orchestrator *stages.Orchestrator,
	webhook *automation.Client,
	terminator Terminator,
	calendars map[string]string,
	logger *slog.Logger,
	observer metrics.Observer,
) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if observer == nil {
		observer = metrics.NoopObserver{}
	}
	d := &Dispatcher{
		orchestrator: orchestrator,
		webhook:      webhook,
		terminator:   terminator,
		calendars:    calendars,
		logger:       logger,
		observer:     observer,
	}
	d.handlers = map[string]handlerFunc{
		stages.ToolVerify:          d.handleVerify,
		stages.ToolScheduleMeeting: d.handleScheduleMeeting,
		stages.ToolMoveToMain:      d.handleMoveToMain,
		stages.ToolMoveToSummary:   d.handleMoveToSummary,
		stages.ToolHangUp:          d.handleHangUp,
	}
	return d
}

// Dispatch runs the handler for one invocation inline with the engine
// read loop; tool handling is sequential per call, parallel across calls.
func (d *Dispatcher) Dispatch(ctx context.Context, sess *session.Session, inv Invocation) {
	handler, ok := d.handlers[inv.ToolName]
	if !ok {
		d.logger.Warn("unknown_tool", "tool_name", inv.ToolName, "call_sid", sess.CallID)
		return
	}
	start := time.Now()
	if err := handler(ctx, sess, inv); err != nil {
		d.logger.Warn("tool_failed",
			"tool_name", inv.ToolName,
			"call_sid", sess.CallID,
			"reason", string(errorsx.Reason(err)),
			"error", err.Error(),
		)
	}
	d.observer.RecordEvent(metrics.MetricsEvent{
		Name:  metrics.EventToolDispatch,
		Time:  time.Now(),
		Value: float64(time.Since(start).Milliseconds()),
		Tags: map[string]string{
			"tool_name": inv.ToolName,
			"call_sid":  sess.CallID,
			"stage":     sess.Stage(),
		},
	})
}

// Known reports whether a tool name is in the closed dispatch set.
func (d *Dispatcher) Known(toolName string) bool {
	_, ok := d.handlers[toolName]
	return ok
}

// handleVerify is a local synchronous check: Confirmed iff every
// required field is non-empty. It never fails with an error.
func (d *Dispatcher) handleVerify(_ context.Context, sess *session.Session, inv Invocation) error {
	required := []string{"full_name", "date_of_birth", "policy_number"}
	confirmed := true
	for _, field := range required {
		if stringParam(inv.Parameters, field) == "" {
			confirmed = false
			break
		}
	}
	result := "Not Confirmed"
	if confirmed {
		result = "Confirmed"
	}
	d.logger.Info("verify_result", "call_sid", sess.CallID, "result", result)
	_ = sess.Engine.SendToolResult(inv.InvocationID, result)
	return nil
}

func (d *Dispatcher) handleScheduleMeeting(ctx context.Context, sess *session.Session, inv Invocation) error {
	required := []string{"name", "email", "purpose", "datetime", "location"}
	var missing []string
	for _, field := range required {
		if stringParam(inv.Parameters, field) == "" {
			missing = append(missing, field)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		d.logger.Info("schedule_meeting_missing_params", "call_sid", sess.CallID, "missing", missing)
		prompt := "Please provide the following information to schedule your meeting: " + strings.Join(missing, ", ") + "."
		_ = sess.Engine.SendToolResult(inv.InvocationID, prompt)
		return nil
	}

	location := stringParam(inv.Parameters, "location")
	calendarID, ok := d.calendars[location]
	if !ok {
		_ = sess.Engine.SendToolError(inv.InvocationID, errTypeImplementation, genericScheduleFailure)
		return errorsx.Wrap(fmt.Errorf("%w: %s", ErrUnknownLocation, location), errorsx.ReasonToolValidation)
	}

	data := map[string]any{
		"name":        stringParam(inv.Parameters, "name"),
		"email":       stringParam(inv.Parameters, "email"),
		"purpose":     stringParam(inv.Parameters, "purpose"),
		"datetime":    stringParam(inv.Parameters, "datetime"),
		"calendar_id": calendarID,
	}

	// The webhook call blocks; run it off the relay hot path and join
	// before replying so the result ordering guarantee holds.
	type outcome struct {
		message string
		err     error
	}
	ch := make(chan outcome, 1)
	go func() {
		message, err := d.webhook.Invoke(ctx, automation.RouteScheduling, sess.CallerNumber, data)
		ch <- outcome{message: message, err: err}
	}()

	select {
	case out := <-ch:
		if out.err != nil {
			_ = sess.Engine.SendToolError(inv.InvocationID, errTypeImplementation, genericScheduleFailure)
			return errorsx.Wrap(fmt.Errorf("schedule webhook: %v", out.err), errorsx.ReasonToolExecution)
		}
		message := out.message
		if message == "" {
			message = genericScheduleFailure
		}
		_ = sess.Engine.SendToolResult(inv.InvocationID, message)
		return nil
	case <-ctx.Done():
		_ = sess.Engine.SendToolError(inv.InvocationID, errTypeImplementation, genericScheduleFailure)
		return errorsx.Wrap(fmt.Errorf("schedule webhook: %v", ctx.Err()), errorsx.ReasonToolExecution)
	}
}

func (d *Dispatcher) handleMoveToMain(_ context.Context, sess *session.Session, inv Invocation) error {
	issueType := stringParam(inv.Parameters, "issue_type")
	customerName := stringParam(inv.Parameters, "customer_name")

	announcement := "You're now speaking with Alex, our senior manager. I've been briefed on your situation"
	if customerName != "" {
		announcement += ", " + customerName
	}
	announcement += "."
	if issueType != "" {
		announcement += " You're concerned about " + issueType + "."
	}
	announcement += " How can I help you today?"

	return d.transition(sess, inv, stages.StageMainConvo, announcement)
}

func (d *Dispatcher) handleMoveToSummary(_ context.Context, sess *session.Session, inv Invocation) error {
	return d.transition(sess, inv, stages.StageCallSummary, "")
}

func (d *Dispatcher) transition(sess *session.Session, inv Invocation, to stages.Name, announcement string) error {
	if err := d.orchestrator.Transition(sess, inv.InvocationID, to, announcement); err != nil {
		_ = sess.Engine.SendToolError(inv.InvocationID, errTypeImplementation, "I'm sorry, I can't transfer you right now.")
		return errorsx.Wrap(err, errorsx.ReasonToolValidation)
	}
	return nil
}

// handleHangUp acknowledges the hang-up while the engine socket is still
// usable, then unconditionally starts teardown.
func (d *Dispatcher) handleHangUp(ctx context.Context, sess *session.Session, inv Invocation) error {
	d.logger.Info("hangup_tool_invoked", "call_sid", sess.CallID)
	sess.BeginTermination()
	if sess.EngineActive() {
		_ = sess.Engine.SendToolResult(inv.InvocationID, "Call ended successfully")
		sess.DeactivateEngine()
	}
	d.terminator.Terminate(ctx, sess, "hangup_tool")
	return nil
}

func stringParam(params map[string]any, key string) string {
	v, ok := params[key]
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return strings.TrimSpace(s)
}
