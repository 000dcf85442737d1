package session

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/harunnryd/voxbridge/pkg/engine"
	"github.com/harunnryd/voxbridge/pkg/telephony"
)

// State is the lifecycle of one call session.
type State int32

const (
	StateCreated State = iota
	StateActive
	StateHangingUp
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateActive:
		return "active"
	case StateHangingUp:
		return "hanging_up"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// TranscriptLine is one finalized utterance captured from the engine.
type TranscriptLine struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

// Session holds the per-call state shared between the two relay loops,
// the tool dispatcher, and the termination coordinator. The boolean
// latches are monotonic: once set they are never cleared.
type Session struct {
	CallID       string
	StreamID     string
	TraceID      string
	CallerNumber string

	Telephony *telephony.MediaConn
	Engine    *engine.Conn

	CreatedAt time.Time
	EndedAt   time.Time

	state          atomic.Int32
	stage          atomic.Value // string
	hangingUp      atomic.Bool
	transcriptSent atomic.Bool

	termOnce sync.Once

	mu         sync.Mutex
	transcript []TranscriptLine
	dispatched map[string]struct{}
}

// New creates a session in the created state with the given stage name.
func New(callID, streamID, traceID, callerNumber, stage string) *Session {
	s := &Session{
		CallID:       callID,
		StreamID:     streamID,
		TraceID:      traceID,
		CallerNumber: callerNumber,
		CreatedAt:    time.Now(),
		dispatched:   make(map[string]struct{}),
	}
	s.stage.Store(stage)
	return s
}

func (s *Session) State() State { return State(s.state.Load()) }

// Activate marks the session active once the engine handshake succeeded.
func (s *Session) Activate() {
	s.state.CompareAndSwap(int32(StateCreated), int32(StateActive))
}

// Stage returns the current conversation stage name.
func (s *Session) Stage() string {
	v, _ := s.stage.Load().(string)
	return v
}

// SetStage is called by the stage orchestrator only.
func (s *Session) SetStage(stage string) { s.stage.Store(stage) }

// EngineActive reports whether the engine socket is usable for sending.
// The latch lives on the connection; writes after it flips are silently
// skipped by the adapter.
func (s *Session) EngineActive() bool { return s.Engine != nil && s.Engine.Active() }

// DeactivateEngine latches the engine socket as unusable.
func (s *Session) DeactivateEngine() {
	if s.Engine != nil {
		s.Engine.Deactivate()
	}
}

// BeginTermination flips the hanging-up latch. It returns true for the
// caller that won the race and false for every later attempt.
func (s *Session) BeginTermination() bool {
	won := s.hangingUp.CompareAndSwap(false, true)
	if won {
		s.state.Store(int32(StateHangingUp))
	}
	return won
}

func (s *Session) HangingUp() bool { return s.hangingUp.Load() }

// RunTermination executes the teardown sequence exactly once, no matter
// how many paths (tool call, socket error, provider stop) race into it.
func (s *Session) RunTermination(fn func()) { s.termOnce.Do(fn) }

// MarkTranscriptSent latches the transcript-export guard. It returns true
// exactly once.
func (s *Session) MarkTranscriptSent() bool {
	return s.transcriptSent.CompareAndSwap(false, true)
}

func (s *Session) TranscriptSent() bool { return s.transcriptSent.Load() }

// Close marks the session closed and stamps EndedAt.
func (s *Session) Close() {
	if s.state.Swap(int32(StateClosed)) != int32(StateClosed) {
		s.EndedAt = time.Now()
	}
}

// AppendTranscript records a finalized utterance.
func (s *Session) AppendTranscript(role, text string) {
	if text == "" {
		return
	}
	s.mu.Lock()
	s.transcript = append(s.transcript, TranscriptLine{Role: role, Text: text})
	s.mu.Unlock()
}

// Transcript returns a copy of the accumulated transcript.
func (s *Session) Transcript() []TranscriptLine {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]TranscriptLine, len(s.transcript))
	copy(out, s.transcript)
	return out
}

// ClaimInvocation reserves an invocation id for dispatch. The structured
// tool-invocation path and the transcript-scan fallback can both observe
// the same logical call; only the first claim dispatches.
func (s *Session) ClaimInvocation(invocationID string) bool {
	if invocationID == "" {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, seen := s.dispatched[invocationID]; seen {
		return false
	}
	s.dispatched[invocationID] = struct{}{}
	return true
}
