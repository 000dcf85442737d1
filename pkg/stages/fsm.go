package stages

// validTransitions is the stage graph. Re-entering intake models a
// verification retry as a self-loop, not a new stage. The closing
// summary has no outgoing edges; only termination leaves it.
var validTransitions = map[Name][]Name{
	StageIntake:      {StageIntake, StageMainConvo, StageCallSummary},
	StageMainConvo:   {StageCallSummary},
	StageCallSummary: {},
}

// TransitionValid reports whether the stage graph allows from → to.
func TransitionValid(from, to Name) bool {
	allowed, exists := validTransitions[from]
	if !exists {
		return false
	}
	for _, candidate := range allowed {
		if candidate == to {
			return true
		}
	}
	return false
}

// InvalidTransitionError is returned for a stage change the graph does
// not allow.
type InvalidTransitionError struct {
	From Name
	To   Name
}

func (e *InvalidTransitionError) Error() string {
	return "invalid stage transition from " + string(e.From) + " to " + string(e.To)
}
