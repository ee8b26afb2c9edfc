package orchestrator

// State is a step of one conversation turn.
type State string

const (
	StateReceived             State = "RECEIVED"
	StateRetrieving           State = "RETRIEVING"
	StateAugmentingWithSearch State = "AUGMENTING_WITH_SEARCH"
	StateComposing            State = "COMPOSING"
	StateGenerating           State = "GENERATING"
	StateCollectingLead       State = "COLLECTING_LEAD"
	StateScheduling           State = "SCHEDULING"
	StateReplied              State = "REPLIED"
	StateFailed               State = "FAILED"
)

func (s State) Terminal() bool {
	return s == StateReplied || s == StateFailed
}

var transitions = map[State][]State{
	StateReceived:             {StateRetrieving, StateCollectingLead, StateReplied},
	StateCollectingLead:       {StateScheduling, StateReplied},
	StateRetrieving:           {StateAugmentingWithSearch, StateComposing},
	StateAugmentingWithSearch: {StateComposing},
	StateComposing:            {StateGenerating},
	StateGenerating:           {StateScheduling, StateReplied},
	StateScheduling:           {StateReplied},
}

// CanTransition reports whether to may follow from. FAILED may follow any
// non-terminal state.
func CanTransition(from, to State) bool {
	if from.Terminal() {
		return false
	}
	if to == StateFailed {
		return true
	}
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
