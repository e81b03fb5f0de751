package pipeline

// State is a stage of a generation run.
type State string

const (
	StateIdle                State = "idle"
	StateValidating          State = "validating"
	StateCheckingEntitlement State = "checking_entitlement"
	StateAggregatingPricing  State = "aggregating_pricing"
	StateGeneratingContent   State = "generating_content"
	StateNormalizing         State = "normalizing"
	StateCommittingUsage     State = "committing_usage"
	StateCompleted           State = "completed"
	StateErrored             State = "errored"
)

// transitions lists the legal next states. Errored is reachable from every
// non-terminal state and is added by CanTransitionTo.
var transitions = map[State][]State{
	StateIdle:                {StateValidating},
	StateValidating:          {StateCheckingEntitlement},
	StateCheckingEntitlement: {StateAggregatingPricing},
	StateAggregatingPricing:  {StateGeneratingContent},
	StateGeneratingContent:   {StateNormalizing},
	StateNormalizing:         {StateCommittingUsage},
	StateCommittingUsage:     {StateCompleted},
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateErrored
}

// CanTransitionTo checks if the state can transition to the target state.
func (s State) CanTransitionTo(target State) bool {
	if s.Terminal() {
		return false
	}
	if target == StateErrored {
		return true
	}
	for _, next := range transitions[s] {
		if next == target {
			return true
		}
	}
	return false
}
