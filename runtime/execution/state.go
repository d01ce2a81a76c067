package execution

// State represents the lifecycle state of a run, a job run or a step run
type State string

const (
	StatePending   State = "pending"
	StateScheduled State = "scheduled"
	StateRunning   State = "running"
	// StateWaitForApproval indicates work held until the policy/approval
	// mechanism records an explicit decision.
	StateWaitForApproval State = "waitForApproval"
	StateCompleted       State = "completed"
	StateFailed          State = "failed"

	StateSkipped State = "skipped"
)

// IsTerminal reports whether no further transition can happen.
func (s State) IsTerminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateSkipped:
		return true
	}
	return false
}

func (s State) IsWaitForApproval() bool {
	return s == StateWaitForApproval
}

// Succeeded reports whether the state unblocks dependent jobs.
func (s State) Succeeded() bool {
	return s == StateCompleted
}
