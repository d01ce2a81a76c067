package execution

import (
	"context"
	"sync"
	"time"

	"github.com/modal-labs/conveyor/model"
	"github.com/modal-labs/conveyor/policy"
	"github.com/modal-labs/conveyor/tracing"
)

// Run represents a single execution of a workflow, holding one job run per
// workflow job. It is the aggregate persisted by the run DAO; job and step
// progress is recorded inside it.
type Run struct {
	ID         string             `json:"id"`
	SCN        int                `json:"scn"`
	Name       string             `json:"name"`
	State      State              `json:"state"`
	Workflow   *model.Workflow    `json:"workflow"`
	Event      *model.Event       `json:"event,omitempty"`
	Env        map[string]string  `json:"env,omitempty"`
	CreatedAt  time.Time          `json:"createdAt"`
	UpdatedAt  time.Time          `json:"updatedAt"`
	FinishedAt *time.Time         `json:"finishedAt"`
	Jobs       map[string]*JobRun `json:"jobs"`
	Errors     map[string]string  `json:"errors,omitempty"`
	Span       *tracing.Span      `json:"-"`
	Policy     *policy.Config     `json:"policy,omitempty"`
	mu         sync.RWMutex
}

// NewRun creates a pending run for a workflow triggered by an event
func NewRun(id string, workflow *model.Workflow, event *model.Event, options ...Option) *Run {
	now := time.Now()
	ret := &Run{
		ID:        id,
		Name:      workflow.Name,
		State:     StatePending,
		Workflow:  workflow,
		Event:     event,
		CreatedAt: now,
		UpdatedAt: now,
		Jobs:      make(map[string]*JobRun, len(workflow.Jobs)),
		Errors:    make(map[string]string),
	}
	for _, job := range workflow.AllJobs() {
		ret.Jobs[job.Name] = NewJobRun(id, job)
	}
	for _, option := range options {
		option(ret)
	}
	return ret
}

// Job returns the job run for the named workflow job or nil.
func (r *Run) Job(name string) *JobRun {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.Jobs[name]
}

// JobRuns returns the job runs in workflow declaration order.
func (r *Run) JobRuns() []*JobRun {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ret := make([]*JobRun, 0, len(r.Jobs))
	if r.Workflow != nil {
		for _, job := range r.Workflow.AllJobs() {
			if jobRun, ok := r.Jobs[job.Name]; ok {
				ret = append(ret, jobRun)
			}
		}
	}
	if len(ret) < len(r.Jobs) {
		seen := make(map[string]bool, len(ret))
		for _, jobRun := range ret {
			seen[jobRun.Name] = true
		}
		for name, jobRun := range r.Jobs {
			if !seen[name] {
				ret = append(ret, jobRun)
			}
		}
	}
	return ret
}

// GetState returns the run state
func (r *Run) GetState() State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.State
}

// SetState updates the run state, stamping FinishedAt on terminal states.
func (r *Run) SetState(state State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.State = state
	switch state {
	case StateCompleted, StateFailed:
		now := time.Now()
		r.FinishedAt = &now
	}
	r.UpdatedAt = time.Now()
}

// Revision returns the save counter of the run record. DAOs bump it on every
// save and use it to reject writes based on an outdated load.
func (r *Run) Revision() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.SCN
}

// BumpRevision increments the save counter and returns the new value.
func (r *Run) BumpRevision() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.SCN++
	return r.SCN
}

// RecordError notes a job failure on the run record.
func (r *Run) RecordError(job, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Errors == nil {
		r.Errors = make(map[string]string)
	}
	r.Errors[job] = message
}

// AllJobsTerminal reports whether every job run reached a terminal state.
func (r *Run) AllJobsTerminal() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, jobRun := range r.Jobs {
		if !jobRun.GetState().IsTerminal() {
			return false
		}
	}
	return true
}

// Failed reports whether any job failure should fail the run. Failures of
// jobs declared continue-on-error are tolerated.
func (r *Run) Failed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for name, jobRun := range r.Jobs {
		if jobRun.GetState() != StateFailed {
			continue
		}
		if r.Workflow != nil {
			if job := r.Workflow.Job(name); job != nil && job.ContinueOnError {
				continue
			}
		}
		return true
	}
	return false
}

// CopyFrom updates exported, mutex-independent fields from src. It
// intentionally skips the mutex as copying it would corrupt internal state.
func (r *Run) CopyFrom(src any) {
	other, ok := src.(*Run)
	if !ok || other == nil || r == other {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.SCN = other.SCN
	r.State = other.State
	r.UpdatedAt = other.UpdatedAt
	r.FinishedAt = other.FinishedAt
	r.Jobs = other.Jobs
	r.Errors = other.Errors
	// Fields like Workflow and Event are immutable references - no copy.
}

// Clone creates a deep copy of the Run suitable for safe concurrent
// reads/mutations outside the original store. The Workflow pointer is not
// cloned because workflows are immutable after initial load.
func (r *Run) Clone() *Run {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := &Run{
		ID:         r.ID,
		SCN:        r.SCN,
		Name:       r.Name,
		State:      r.State,
		Workflow:   r.Workflow, // immutable - safe to share
		Event:      r.Event,
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
		FinishedAt: r.FinishedAt,
		Span:       r.Span,
		Policy:     r.Policy,
	}

	if r.Env != nil {
		out.Env = make(map[string]string, len(r.Env))
		for k, v := range r.Env {
			out.Env[k] = v
		}
	}
	if r.Jobs != nil {
		out.Jobs = make(map[string]*JobRun, len(r.Jobs))
		for k, v := range r.Jobs {
			out.Jobs[k] = v.Clone()
		}
	}
	if r.Errors != nil {
		out.Errors = make(map[string]string, len(r.Errors))
		for k, v := range r.Errors {
			out.Errors[k] = v
		}
	}
	return out
}

// Output summarises the run for callers waiting on completion.
func (r *Run) Output() *RunOutput {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := &RunOutput{
		RunID:  r.ID,
		State:  r.State,
		Jobs:   make(map[string]State, len(r.Jobs)),
		Errors: make(map[string]string, len(r.Errors)),
	}
	for name, jobRun := range r.Jobs {
		out.Jobs[name] = jobRun.GetState()
	}
	for name, message := range r.Errors {
		out.Errors[name] = message
	}
	if r.FinishedAt != nil {
		out.TimeTaken = r.FinishedAt.Sub(r.CreatedAt)
	}
	return out
}

// Wait blocks until a started run reaches a terminal state or the timeout
// elapses.
type Wait func(ctx context.Context, timeout time.Duration) (*RunOutput, error)

// RunOutput summarises a finished (or timed-out) run.
type RunOutput struct {
	RunID     string
	State     State
	Jobs      map[string]State
	Errors    map[string]string
	TimeTaken time.Duration
	Timeout   bool
}
