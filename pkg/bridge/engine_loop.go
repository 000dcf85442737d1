package bridge

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/harunnryd/voxbridge/pkg/engine"
	"github.com/harunnryd/voxbridge/pkg/session"
	"github.com/harunnryd/voxbridge/pkg/tools"
)

// engineLoop owns the engine-side relay for one call: engine audio back
// to the caller, control frames intercepted inline. Tool dispatch runs
// sequentially with this loop, so a tool result is always written before
// any later control frame that depends on it.
func (s *Server) engineLoop(sess *session.Session) {
	ctx := context.Background()
	for {
		audio, msg, err := sess.Engine.Read()
		if err != nil {
			break
		}
		if audio != nil {
			_ = sess.Telephony.SendAudio(audio)
			continue
		}
		if msg == nil {
			continue
		}
		switch msg.Type {
		case engine.MessageTranscript:
			s.handleTranscript(ctx, sess, msg)
		case engine.MessageToolInvocation:
			if !sess.ClaimInvocation(msg.InvocationID) {
				continue
			}
			s.dispatcher.Dispatch(ctx, sess, tools.Invocation{
				ToolName:     msg.ToolName,
				InvocationID: msg.InvocationID,
				Parameters:   msg.ParamMap(),
			})
		case engine.MessageClearBuffer:
			_ = sess.Telephony.Clear()
		case engine.MessageError:
			s.logger.Warn("engine_error_frame",
				"call_sid", sess.CallID,
				"detail", msg.Detail,
				"text", msg.Text,
			)
		case engine.MessageState:
			s.logger.Debug("engine_state", "call_sid", sess.CallID, "state", msg.State)
		}
	}
	s.Terminate(context.Background(), sess, "engine_socket_closed")
}

// handleTranscript records finalized utterances and runs the fallback
// scan for tool invocations leaked into agent text. Structured
// invocations win: a fallback hit only dispatches when its invocation id
// has not already been claimed.
func (s *Server) handleTranscript(ctx context.Context, sess *session.Session, msg *engine.Message) {
	text := msg.Text
	if text == "" {
		text = msg.Delta
	}
	if msg.Final {
		sess.AppendTranscript(transcriptRole(msg.Role), msg.Text)
	}
	if transcriptRole(msg.Role) != "agent" {
		return
	}
	inv, ok := engine.ScanTranscript(text)
	if !ok || !s.dispatcher.Known(inv.ToolName) {
		return
	}
	invocationID := inv.InvocationID
	if invocationID == "" {
		invocationID = uuid.NewString()
	}
	if !sess.ClaimInvocation(invocationID) {
		return
	}
	s.logger.Info("transcript_scan_invocation",
		"call_sid", sess.CallID,
		"tool_name", inv.ToolName,
		"invocation_id", invocationID,
	)
	params := map[string]any{}
	if len(inv.Parameters) > 0 {
		_ = json.Unmarshal(inv.Parameters, &params)
	}
	s.dispatcher.Dispatch(ctx, sess, tools.Invocation{
		ToolName:     inv.ToolName,
		InvocationID: invocationID,
		Parameters:   params,
	})
}

func transcriptRole(raw string) string {
	switch raw {
	case "MESSAGE_ROLE_AGENT", "agent":
		return "agent"
	case "MESSAGE_ROLE_USER", "user":
		return "user"
	default:
		return raw
	}
}
