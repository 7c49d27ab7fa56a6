package pipeline

// State is a pipeline run state.
type State string

const (
	StateStart         State = "start"
	StateFetched       State = "fetched"
	StateFetchFailed   State = "fetch_failed"
	StateExtracted     State = "extracted"
	StateExtractFailed State = "extract_failed"
	StatePublishing    State = "publishing"
	StateDone          State = "done"
)

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	switch s {
	case StateFetchFailed, StateExtractFailed, StateDone:
		return true
	}
	return false
}

// Failed reports whether the run stopped before publishing.
func (s State) Failed() bool {
	return s == StateFetchFailed || s == StateExtractFailed
}

var transitions = map[State][]State{
	StateStart:      {StateFetched, StateFetchFailed, StateExtracted},
	StateFetched:    {StateExtracted, StateExtractFailed},
	StateExtracted:  {StatePublishing},
	StatePublishing: {StateDone},
}

// CanTransition reports whether moving from s to next is allowed.
// StateStart may jump to StateExtracted when a snapshot is supplied
// directly rather than fetched.
func (s State) CanTransition(next State) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}
