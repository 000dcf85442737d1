package bridge

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/harunnryd/voxbridge/pkg/engine"
	"github.com/harunnryd/voxbridge/pkg/metrics"
	"github.com/harunnryd/voxbridge/pkg/session"
	"github.com/harunnryd/voxbridge/pkg/stages"
	"github.com/harunnryd/voxbridge/pkg/telephony"
)

// handleMediaStream owns the provider-side relay loop for one call:
// decode provider frames, push caller audio to the engine, and hand
// control events to the lifecycle paths.
func (s *Server) handleMediaStream(w http.ResponseWriter, r *http.Request) {
	if s.draining.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	var sess *session.Session
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			break
		}
		evt, err := telephony.Decode(raw)
		if err != nil {
			s.logger.Warn("malformed_media_frame", "error", err.Error())
			continue
		}
		switch evt.Event {
		case telephony.EventConnected:
			s.logger.Debug("media_stream_connected")
		case telephony.EventStart:
			if evt.Start == nil || sess != nil {
				continue
			}
			sess, err = s.startSession(r.Context(), conn, evt.Start)
			if err != nil {
				s.logger.Error("session_setup_failed",
					"call_sid", evt.Start.CallSID,
					"error", err.Error(),
				)
				return
			}
		case telephony.EventMedia:
			if sess == nil {
				continue
			}
			payload, err := evt.AudioPayload()
			if err != nil {
				s.logger.Warn("malformed_media_payload", "call_sid", sess.CallID, "error", err.Error())
				continue
			}
			_ = sess.Engine.SendAudio(payload)
		case telephony.EventMark:
			if sess == nil || evt.Mark == nil {
				continue
			}
			_ = sess.Telephony.SendMark(evt.Mark.Name)
		case telephony.EventStop:
			if sess == nil {
				return
			}
			s.Terminate(context.Background(), sess, "provider_stop")
			return
		}
	}
	if sess != nil {
		s.Terminate(context.Background(), sess, "transport_closed")
	}
}

// startSession creates the session and runs the engine handshake. A
// handshake failure is fatal to the call: the caller never reaches a
// half-configured agent.
func (s *Server) startSession(ctx context.Context, conn *websocket.Conn, start *telephony.StartInfo) (*session.Session, error) {
	initial := s.stageSet.Initial()
	traceID := uuid.NewString()

	sess := session.New(start.CallSID, start.StreamSID, traceID, start.From, string(initial.Name))
	sess.Telephony = telephony.NewMediaConn(conn, start.StreamSID)
	if err := s.registry.Create(sess); err != nil {
		_ = sess.Telephony.Close()
		return nil, err
	}

	resp, err := s.engineClient.CreateCall(ctx, s.handshakeRequest(initial))
	if err != nil {
		s.registry.Remove(sess.CallID)
		_ = sess.Telephony.Close()
		return nil, err
	}
	engineConn, err := s.engineClient.Join(ctx, resp.JoinURL)
	if err != nil {
		s.registry.Remove(sess.CallID)
		_ = sess.Telephony.Close()
		return nil, err
	}
	sess.Engine = engineConn
	sess.Activate()

	s.logger.Info("call_started",
		"call_sid", sess.CallID,
		"stream_sid", sess.StreamID,
		"trace_id", sess.TraceID,
		"from", sess.CallerNumber,
		"stage", sess.Stage(),
	)
	s.observer.RecordEvent(metrics.MetricsEvent{
		Name: metrics.EventCallStart,
		Time: sess.CreatedAt,
		Tags: map[string]string{"call_sid": sess.CallID, "trace_id": sess.TraceID},
	})

	go s.engineLoop(sess)
	return sess, nil
}

// handshakeRequest builds the session-creation body for the initial
// stage: prompt, voice, sample rates, buffering, turn detection, and the
// stage's declared tool set.
func (s *Server) handshakeRequest(initial stages.Stage) engine.CallRequest {
	cfg := s.cfg.Engine
	req := engine.CallRequest{
		SystemPrompt: initial.Prompt(),
		Model:        cfg.Model,
		Voice:        initial.Voice,
		Temperature:  cfg.Temperature,
		Medium: engine.Medium{
			ServerWebSocket: engine.ServerWebSocket{
				InputSampleRate:  cfg.SampleRate,
				OutputSampleRate: cfg.SampleRate,
				ClientBufferSize: cfg.BufferSizeMS,
			},
		},
		VADSettings: &engine.VADSettings{
			TurnEndpointDelay:           cfg.VAD.TurnEndpointDelay,
			MinimumTurnDuration:         cfg.VAD.MinimumTurnDuration,
			MinimumInterruptionDuration: cfg.VAD.MinimumInterruptionDuration,
		},
		SelectedTools: initial.Tools,
	}
	if cfg.FirstMessage != "" {
		req.InitialMessages = []engine.InitialMessage{
			{Role: engine.RoleUser, Text: cfg.FirstMessage},
		}
	}
	return req
}

// recordCallEnd emits the lifecycle accounting event once teardown ran.
func (s *Server) recordCallEnd(sess *session.Session, reason string) {
	duration := time.Duration(0)
	if !sess.EndedAt.IsZero() {
		duration = sess.EndedAt.Sub(sess.CreatedAt)
	}
	s.observer.RecordEvent(metrics.MetricsEvent{
		Name:  metrics.EventCallEnd,
		Time:  time.Now(),
		Value: duration.Seconds(),
		Tags: map[string]string{
			"call_sid": sess.CallID,
			"trace_id": sess.TraceID,
			"reason":   reason,
		},
	})
}
