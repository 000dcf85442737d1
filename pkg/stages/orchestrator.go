package stages

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/harunnryd/voxbridge/pkg/engine"
	"github.com/harunnryd/voxbridge/pkg/session"
)

// Orchestrator executes stage transitions. Transitions are serialized
// per session; the engine always sees one complete new-stage frame at a
// time, and the telephony socket is never touched.
type Orchestrator struct {
	set    *Set
	logger *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewOrchestrator(set *Set, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		set:    set,
		logger: logger,
		locks:  make(map[string]*sync.Mutex),
	}
}

// Transition moves the session to the target stage by sending a single
// new-stage directive carrying the full new configuration. The session's
// stage field changes only here, and only when the graph allows the move.
func (o *Orchestrator) Transition(sess *session.Session, invocationID string, to Name, announcement string) error {
	lock := o.sessionLock(sess.CallID)
	lock.Lock()
	defer lock.Unlock()

	from := Name(sess.Stage())
	if !TransitionValid(from, to) {
		return &InvalidTransitionError{From: from, To: to}
	}
	target, ok := o.set.Get(to)
	if !ok {
		return fmt.Errorf("unknown stage %q", to)
	}
	if announcement == "" {
		announcement = target.Announcement
	}
	change := engine.StageChange{
		SystemPrompt:   target.Prompt(),
		Voice:          target.Voice,
		ToolResultText: announcement,
		SelectedTools:  target.Tools,
	}
	if err := sess.Engine.SendStageChange(invocationID, change); err != nil {
		return err
	}
	sess.SetStage(string(to))
	o.logger.Info("stage_transition",
		"call_sid", sess.CallID,
		"from", string(from),
		"to", string(to),
		"voice", target.Voice,
	)
	return nil
}

// Release drops the per-session transition lock at teardown.
func (o *Orchestrator) Release(callID string) {
	o.mu.Lock()
	delete(o.locks, callID)
	o.mu.Unlock()
}

func (o *Orchestrator) sessionLock(callID string) *sync.Mutex {
	o.mu.Lock()
	defer o.mu.Unlock()
	lock, ok := o.locks[callID]
	if !ok {
		lock = &sync.Mutex{}
		o.locks[callID] = lock
	}
	return lock
}
