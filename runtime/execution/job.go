package execution

import (
	"fmt"
	"sync"
	"time"

	"github.com/modal-labs/conveyor/internal/idgen"
	"github.com/modal-labs/conveyor/model"
	"github.com/modal-labs/conveyor/service/event"
)

// JobRun represents a single job execution within a run. It is also the unit
// of work published to the job queue: workers own a job run from start to its
// terminal state.
type JobRun struct {
	ID          string           `json:"id"`
	RunID       string           `json:"runId"`
	Name        string           `json:"name"`
	State       State            `json:"state"`
	RunsOn      string           `json:"runsOn,omitempty"`
	Needs       []string         `json:"needs,omitempty"`
	NeedsState  map[string]State `json:"needsState,omitempty"`
	Steps       []*StepRun       `json:"steps,omitempty"`
	Error       string           `json:"error,omitempty"`
	SkipReason  string           `json:"skipReason,omitempty"`
	ScheduledAt time.Time        `json:"scheduledAt"`
	StartedAt   *time.Time       `json:"startedAt,omitempty"`
	CompletedAt *time.Time       `json:"completedAt,omitempty"`
	mux         sync.RWMutex
}

// NewJobRun creates a pending job run for a workflow job, with one step run
// slot per declared step.
func NewJobRun(runID string, job *model.Job) *JobRun {
	ret := &JobRun{
		ID:         generateJobRunID(runID, job.Name),
		RunID:      runID,
		Name:       job.Name,
		State:      StatePending,
		RunsOn:     job.RunsOn,
		Needs:      job.Needs,
		NeedsState: make(map[string]State),
	}
	for _, need := range job.Needs {
		ret.NeedsState[need] = StatePending
	}
	for i, step := range job.Steps {
		ret.Steps = append(ret.Steps, &StepRun{
			Index:   i,
			ID:      step.ID,
			Name:    step.Name,
			Uses:    step.Uses,
			Command: step.Run,
			State:   StatePending,
		})
	}
	return ret
}

// Context builds an event context describing this job run.
func (j *JobRun) Context(eventType string) *event.Context {
	return &event.Context{
		EventType: eventType,
		RunID:     j.RunID,
		Job:       j.Name,
	}
}

// StepContext builds an event context describing a step of this job run.
func (j *JobRun) StepContext(eventType string, step *StepRun) *event.Context {
	ret := j.Context(eventType)
	if step != nil {
		ret.Step = step.Label()
		ret.Service = step.Uses
	}
	return ret
}

// SetNeed records the observed state of a needed job.
func (j *JobRun) SetNeed(name string, state State) {
	j.mux.Lock()
	if j.NeedsState == nil {
		j.NeedsState = make(map[string]State)
	}
	j.NeedsState[name] = state
	j.mux.Unlock()
}

// Need reads a recorded dependency state; the second value indicates presence.
func (j *JobRun) Need(name string) (State, bool) {
	j.mux.RLock()
	val, ok := j.NeedsState[name]
	j.mux.RUnlock()
	return val, ok
}

// Step returns the step run at the given index or nil.
func (j *JobRun) Step(index int) *StepRun {
	if index < 0 || index >= len(j.Steps) {
		return nil
	}
	return j.Steps[index]
}

// LookupStep returns the step run with the given id or name.
func (j *JobRun) LookupStep(id string) *StepRun {
	for _, step := range j.Steps {
		if step.ID == id || step.Name == id {
			return step
		}
	}
	return nil
}

// GetState returns the job run state. Stored job runs are read by the
// allocator while workers merge progress in, so every cross-goroutine state
// access goes through the mutex.
func (j *JobRun) GetState() State {
	j.mux.RLock()
	defer j.mux.RUnlock()
	return j.State
}

// SetState updates the job run state.
func (j *JobRun) SetState(state State) {
	j.mux.Lock()
	j.State = state
	j.mux.Unlock()
}

// Schedule stamps the time the job run was handed to the queue.
func (j *JobRun) Schedule() {
	j.mux.Lock()
	defer j.mux.Unlock()
	j.ScheduledAt = time.Now()
	j.State = StateScheduled
}

// Start marks the job run as started
func (j *JobRun) Start() {
	j.mux.Lock()
	defer j.mux.Unlock()
	now := time.Now()
	j.StartedAt = &now
	j.State = StateRunning
}

// Complete marks the job run as completed
func (j *JobRun) Complete() {
	j.mux.Lock()
	defer j.mux.Unlock()
	now := time.Now()
	j.CompletedAt = &now
	j.State = StateCompleted
}

// Fail marks the job run as failed
func (j *JobRun) Fail(err error) {
	j.mux.Lock()
	defer j.mux.Unlock()
	now := time.Now()
	j.CompletedAt = &now
	if err != nil {
		j.Error = err.Error()
	}
	j.State = StateFailed
}

// Skip marks the job run as skipped, recording why it never ran. Remaining
// pending steps are skipped with the same reason.
func (j *JobRun) Skip(reason string) {
	j.mux.Lock()
	defer j.mux.Unlock()
	now := time.Now()
	j.CompletedAt = &now
	j.SkipReason = reason
	j.State = StateSkipped
	for _, step := range j.Steps {
		if !step.State.IsTerminal() {
			step.Skip(reason)
		}
	}
}

// SkipRemainingSteps marks every non-terminal step after the given index as
// skipped. Used when an earlier step fails and the job aborts.
func (j *JobRun) SkipRemainingSteps(after int, reason string) {
	for _, step := range j.Steps {
		if step.Index > after && !step.State.IsTerminal() {
			step.Skip(reason)
		}
	}
}

// Merge copies progress recorded on another instance of the same job run,
// typically a clone mutated by a worker before saving.
func (j *JobRun) Merge(jobRun *JobRun) {
	if jobRun == nil || jobRun == j {
		return
	}
	j.mux.Lock()
	jobRun.mux.RLock()
	defer jobRun.mux.RUnlock()
	defer j.mux.Unlock()

	if jobRun.State != "" {
		j.State = jobRun.State
	}
	if jobRun.Error != "" {
		j.Error = jobRun.Error
	}
	if jobRun.SkipReason != "" {
		j.SkipReason = jobRun.SkipReason
	}
	if jobRun.StartedAt != nil {
		j.StartedAt = jobRun.StartedAt
	}
	if jobRun.CompletedAt != nil {
		j.CompletedAt = jobRun.CompletedAt
	}
	if j.NeedsState == nil {
		j.NeedsState = make(map[string]State)
	}
	for key, value := range jobRun.NeedsState {
		j.NeedsState[key] = value
	}
	for i, step := range jobRun.Steps {
		if i < len(j.Steps) {
			j.Steps[i] = step
		}
	}
}

// Elapsed returns the wall time of the job run, zero until started.
func (j *JobRun) Elapsed() time.Duration {
	if j.StartedAt == nil {
		return 0
	}
	if j.CompletedAt == nil {
		return time.Since(*j.StartedAt)
	}
	return j.CompletedAt.Sub(*j.StartedAt)
}

// generateJobRunID creates a unique ID for a job run
func generateJobRunID(runID, job string) string {
	return fmt.Sprintf("%s-%s-%s", runID, job, idgen.New())
}

// Clone creates a deep copy of the job run so that workers can mutate it
// without affecting the stored instance. Fields are copied one by one; a
// whole-value copy would carry the mutex along.
func (j *JobRun) Clone() *JobRun {
	if j == nil {
		return nil
	}
	j.mux.RLock()
	defer j.mux.RUnlock()

	clone := &JobRun{
		ID:          j.ID,
		RunID:       j.RunID,
		Name:        j.Name,
		State:       j.State,
		RunsOn:      j.RunsOn,
		Error:       j.Error,
		SkipReason:  j.SkipReason,
		ScheduledAt: j.ScheduledAt,
		StartedAt:   j.StartedAt,
		CompletedAt: j.CompletedAt,
	}
	if j.NeedsState != nil {
		clone.NeedsState = make(map[string]State, len(j.NeedsState))
		for k, v := range j.NeedsState {
			clone.NeedsState[k] = v
		}
	}
	if len(j.Needs) > 0 {
		clone.Needs = append([]string(nil), j.Needs...)
	}
	if len(j.Steps) > 0 {
		clone.Steps = make([]*StepRun, len(j.Steps))
		for i, step := range j.Steps {
			clone.Steps[i] = step.Clone()
		}
	}
	return clone
}
