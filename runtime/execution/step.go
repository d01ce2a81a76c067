package execution

import (
	"fmt"
	"time"
)

// StepRun records a single step execution within a job run. Steps execute
// sequentially, so at most one step of a job run is in a non-terminal state
// beyond pending at any moment.
type StepRun struct {
	Index          int                    `json:"index"`
	ID             string                 `json:"id,omitempty"`
	Name           string                 `json:"name,omitempty"`
	Uses           string                 `json:"uses,omitempty"`
	Command        string                 `json:"command,omitempty"`
	State          State                  `json:"state"`
	Attempts       int                    `json:"attempts,omitempty"`
	ExitCode       int                    `json:"exitCode"`
	Output         map[string]interface{} `json:"output,omitempty"`
	Error          string                 `json:"error,omitempty"`
	SkipReason     string                 `json:"skipReason,omitempty"`
	StartedAt      *time.Time             `json:"startedAt,omitempty"`
	CompletedAt    *time.Time             `json:"completedAt,omitempty"`
	Approved       *bool                  `json:"approved,omitempty"`
	ApprovalReason string                 `json:"approvalReason,omitempty"`
}

// Label returns the most specific identifier available for diagnostics.
func (s *StepRun) Label() string {
	if s.ID != "" {
		return s.ID
	}
	if s.Name != "" {
		return s.Name
	}
	return fmt.Sprintf("#%d", s.Index+1)
}

// Start marks the step run as started
func (s *StepRun) Start() {
	now := time.Now()
	s.StartedAt = &now
	s.State = StateRunning
}

// Complete marks the step run as completed
func (s *StepRun) Complete() {
	now := time.Now()
	s.CompletedAt = &now
	s.State = StateCompleted
}

// Fail marks the step run as failed
func (s *StepRun) Fail(err error) {
	now := time.Now()
	s.CompletedAt = &now
	if err != nil {
		s.Error = err.Error()
	}
	s.State = StateFailed
}

// Skip marks the step run as skipped with the reason it never ran.
func (s *StepRun) Skip(reason string) {
	s.SkipReason = reason
	s.State = StateSkipped
}

// Elapsed returns the wall time of the step run, zero until started.
func (s *StepRun) Elapsed() time.Duration {
	if s.StartedAt == nil {
		return 0
	}
	if s.CompletedAt == nil {
		return time.Since(*s.StartedAt)
	}
	return s.CompletedAt.Sub(*s.StartedAt)
}

// Outcome exposes the step result to condition and output expressions.
func (s *StepRun) Outcome() map[string]interface{} {
	outcome := map[string]interface{}{
		"outcome":  string(s.State),
		"exitCode": s.ExitCode,
		"attempts": s.Attempts,
	}
	outputs := map[string]interface{}{}
	for k, v := range s.Output {
		outputs[k] = v
	}
	outcome["outputs"] = outputs
	return outcome
}

// Clone creates a deep copy of the step run.
func (s *StepRun) Clone() *StepRun {
	if s == nil {
		return nil
	}
	clone := *s
	if s.Output != nil {
		clone.Output = make(map[string]interface{}, len(s.Output))
		for k, v := range s.Output {
			clone.Output[k] = v
		}
	}
	if s.StartedAt != nil {
		t := *s.StartedAt
		clone.StartedAt = &t
	}
	if s.CompletedAt != nil {
		t := *s.CompletedAt
		clone.CompletedAt = &t
	}
	if s.Approved != nil {
		b := *s.Approved
		clone.Approved = &b
	}
	return &clone
}
