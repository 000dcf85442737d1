package bridge

import (
	"context"

	"github.com/harunnryd/voxbridge/pkg/session"
)

// Terminate drives the single, idempotent teardown sequence for a call.
// Every entry path (hangUp tool, provider stop, either socket closing,
// server drain) funnels here; the sequence body runs exactly once.
// Steps tolerate failure independently; registry removal always runs.
func (s *Server) Terminate(ctx context.Context, sess *session.Session, reason string) {
	sess.BeginTermination()
	sess.RunTermination(func() {
		s.logger.Info("call_terminating", "call_sid", sess.CallID, "reason", reason)

		if sess.EngineActive() {
			sess.DeactivateEngine()
		}

		if sess.CallID != "" {
			if err := s.callControl.EndCall(ctx, sess.CallID); err != nil {
				s.logger.Warn("provider_end_call_failed", "call_sid", sess.CallID, "error", err.Error())
			} else if status, err := s.callControl.FetchStatus(ctx, sess.CallID); err != nil {
				s.logger.Warn("provider_fetch_call_failed", "call_sid", sess.CallID, "error", err.Error())
			} else {
				s.logger.Info("provider_call_ended", "call_sid", sess.CallID, "status", status)
			}
		}

		if sess.MarkTranscriptSent() {
			if err := s.webhook.SendTranscript(ctx, sess.CallID, sess.CallerNumber, sess.Transcript()); err != nil {
				s.logger.Warn("transcript_export_failed", "call_sid", sess.CallID, "error", err.Error())
			}
		}

		if sess.Engine != nil {
			_ = sess.Engine.Close()
		}
		if sess.Telephony != nil {
			_ = sess.Telephony.Close()
		}

		sess.Close()
		s.registry.Remove(sess.CallID)
		s.orchestrator.Release(sess.CallID)
		s.recordCallEnd(sess, reason)
		s.logger.Info("call_terminated", "call_sid", sess.CallID, "reason", reason)
	})
}
