package model

import (
	"fmt"
)

// Workflow represents a workflow definition
type Workflow struct {

	// Source provides information about the origin of the workflow
	Source *Source `json:"source,omitempty" yaml:"source,omitempty"`

	// Name is the unique identifier for the workflow
	Name string `json:"name" yaml:"name"`

	// Description provides a human-readable description of the workflow
	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	// On declares the events that start the workflow; nil matches any push
	On *Trigger `json:"on,omitempty" yaml:"on,omitempty"`

	// Env holds workflow-level environment variables inherited by every job
	Env map[string]string `json:"env,omitempty" yaml:"env,omitempty"`

	// Jobs define the execution graph, keyed by job name
	Jobs map[string]*Job `json:"jobs,omitempty" yaml:"jobs,omitempty"`

	// JobOrder preserves the declaration order of jobs in the source document
	JobOrder []string `json:"jobOrder,omitempty" yaml:"-"`
}

// Source identifies where a workflow document was loaded from.
type Source struct {
	URL string `json:"url,omitempty" yaml:"url,omitempty"`
}

// NewWorkflow creates a new workflow with the given name
func NewWorkflow(name string) *Workflow {
	return &Workflow{
		Name: name,
		Jobs: make(map[string]*Job),
	}
}

// WithDescription sets the description of the workflow
func (w *Workflow) WithDescription(description string) *Workflow {
	w.Description = description
	return w
}

// WithEnv adds a workflow-level environment variable
func (w *Workflow) WithEnv(name, value string) *Workflow {
	if w.Env == nil {
		w.Env = make(map[string]string)
	}
	w.Env[name] = value
	return w
}

// WithTrigger sets the workflow trigger
func (w *Workflow) WithTrigger(trigger *Trigger) *Workflow {
	w.On = trigger
	return w
}

// NewJob creates a new job with the given name and adds it to the workflow
func (w *Workflow) NewJob(name string) *Job {
	if w.Jobs == nil {
		w.Jobs = make(map[string]*Job)
	}
	job := &Job{Name: name}
	w.Jobs[name] = job
	w.JobOrder = append(w.JobOrder, name)
	return job
}

// Job returns the named job or nil.
func (w *Workflow) Job(name string) *Job {
	if w.Jobs == nil {
		return nil
	}
	return w.Jobs[name]
}

// AllJobs returns the workflow jobs in declaration order. Jobs missing from
// JobOrder (programmatically added) are appended after the ordered ones.
func (w *Workflow) AllJobs() []*Job {
	jobs := make([]*Job, 0, len(w.Jobs))
	seen := make(map[string]bool, len(w.Jobs))
	for _, name := range w.JobOrder {
		if job, ok := w.Jobs[name]; ok && !seen[name] {
			jobs = append(jobs, job)
			seen[name] = true
		}
	}
	if len(jobs) < len(w.Jobs) {
		for name, job := range w.Jobs {
			if !seen[name] {
				jobs = append(jobs, job)
			}
		}
	}
	return jobs
}

// Roots returns jobs with no needs, the entry points of the job graph.
func (w *Workflow) Roots() []*Job {
	var roots []*Job
	for _, job := range w.AllJobs() {
		if len(job.Needs) == 0 {
			roots = append(roots, job)
		}
	}
	return roots
}

// Validate performs a best-effort structural validation of the workflow.  The
// returned slice is empty when the workflow is sound; otherwise it contains
// human-readable error descriptions.  The function does NOT attempt to execute
// any expressions – it only verifies static properties.
func (w *Workflow) Validate() []error {
	var issues []error

	if len(w.Jobs) == 0 {
		issues = append(issues, fmt.Errorf("workflow has no jobs"))
		return issues
	}

	for _, job := range w.AllJobs() {
		if len(job.Steps) == 0 {
			issues = append(issues, fmt.Errorf("job %s has no steps", job.Name))
		}
		for _, need := range job.Needs {
			if need == job.Name {
				issues = append(issues, fmt.Errorf("job %s needs itself", job.Name))
				continue
			}
			if _, ok := w.Jobs[need]; !ok {
				issues = append(issues, fmt.Errorf("job %s needs unknown job %s", job.Name, need))
			}
		}
		for i, step := range job.Steps {
			label := step.Label(i)
			switch {
			case step.Uses == "" && step.Run == "":
				issues = append(issues, fmt.Errorf("job %s step %s declares neither uses nor run", job.Name, label))
			case step.Uses != "" && step.Run != "":
				issues = append(issues, fmt.Errorf("job %s step %s declares both uses and run", job.Name, label))
			}
			if step.Timeout != "" {
				if _, err := step.TimeoutDuration(); err != nil {
					issues = append(issues, fmt.Errorf("job %s step %s has invalid timeout: %v", job.Name, label, err))
				}
			}
			if step.Retry != nil {
				if err := step.Retry.Validate(); err != nil {
					issues = append(issues, fmt.Errorf("job %s step %s has invalid retry: %v", job.Name, label, err))
				}
			}
		}
	}

	// DFS with colour set (white/grey/black) to detect back-edge cycles in
	// the needs graph
	const (
		white = 0
		grey  = 1
		black = 2
	)
	state := map[string]int{}

	var dfs func(string) bool // returns true if cycle found
	dfs = func(n string) bool {
		st := state[n]
		if st == grey {
			return true // back-edge → cycle
		}
		if st == black {
			return false
		}
		state[n] = grey
		if job, ok := w.Jobs[n]; ok {
			for _, next := range job.Needs {
				if next == n {
					// self-needs are reported above, not as a cycle
					continue
				}
				if dfs(next) {
					return true
				}
			}
		}
		state[n] = black
		return false
	}

	for name := range w.Jobs {
		if dfs(name) {
			issues = append(issues, fmt.Errorf("workflow contains cyclic job dependencies"))
			break
		}
	}

	return issues
}

// Clone creates a deep copy of the workflow
func (w *Workflow) Clone() *Workflow {
	if w == nil {
		return nil
	}

	clone := &Workflow{
		Name:        w.Name,
		Description: w.Description,
	}
	if w.Source != nil {
		clone.Source = &Source{URL: w.Source.URL}
	}
	if w.On != nil {
		clone.On = w.On.Clone()
	}
	if w.Env != nil {
		clone.Env = make(map[string]string, len(w.Env))
		for k, v := range w.Env {
			clone.Env[k] = v
		}
	}
	if w.Jobs != nil {
		clone.Jobs = make(map[string]*Job, len(w.Jobs))
		for name, job := range w.Jobs {
			clone.Jobs[name] = job.Clone()
		}
	}
	if w.JobOrder != nil {
		clone.JobOrder = make([]string, len(w.JobOrder))
		copy(clone.JobOrder, w.JobOrder)
	}
	return clone
}
