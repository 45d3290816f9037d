package job

type Transition struct {
	From State
	To   State
}

// ValidTransitions is the complete job state machine. Terminal states have no
// outgoing edges; an operator Requeue is the only way out of failed.
var ValidTransitions = []Transition{
	{From: StatePending, To: StateRunning},
	{From: StateRunning, To: StateDone},
	{From: StateRunning, To: StatePending},
	{From: StateRunning, To: StateFailed},
}

func IsValidTransition(from, to State) bool {
	for _, t := range ValidTransitions {
		if t.From == from && t.To == to {
			return true
		}
	}
	return false
}

// Next returns the state a running job moves to for the given outcome.
// j.Attempts already includes the claim that produced the outcome.
func Next(j *Job, o Outcome) State {
	switch {
	case o.Err == nil:
		return StateDone
	case IsPermanent(o.Err), j.Attempts >= j.MaxAttempts:
		return StateFailed
	default:
		return StatePending
	}
}
