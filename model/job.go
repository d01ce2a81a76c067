package model

// Job represents a named group of steps executed sequentially on a runner.
// Jobs without needs edges between them are independent and run in parallel.
type Job struct {
	// Name is the job key from the jobs mapping
	Name string `json:"name,omitempty" yaml:"name,omitempty"`

	// RunsOn selects the runner, e.g. bash://localhost/ or ssh://host/
	RunsOn string `json:"runsOn,omitempty" yaml:"runs-on,omitempty"`

	// Needs lists jobs that must complete successfully before this one starts
	Needs []string `json:"needs,omitempty" yaml:"needs,omitempty"`

	// If guards the job; a false expression skips it
	If string `json:"if,omitempty" yaml:"if,omitempty"`

	// Env holds job-level environment variables inherited by every step
	Env map[string]string `json:"env,omitempty" yaml:"env,omitempty"`

	// ContinueOnError lets the run succeed even when this job fails
	ContinueOnError bool `json:"continueOnError,omitempty" yaml:"continue-on-error,omitempty"`

	// Steps form a fixed, linear sequence
	Steps []*Step `json:"steps,omitempty" yaml:"steps,omitempty"`
}

// WithRunsOn sets the runner location for the job
func (j *Job) WithRunsOn(runsOn string) *Job {
	j.RunsOn = runsOn
	return j
}

// WithNeeds adds job dependencies
func (j *Job) WithNeeds(names ...string) *Job {
	j.Needs = append(j.Needs, names...)
	return j
}

// WithIf sets the job condition expression
func (j *Job) WithIf(expr string) *Job {
	j.If = expr
	return j
}

// WithEnv adds a job-level environment variable
func (j *Job) WithEnv(name, value string) *Job {
	if j.Env == nil {
		j.Env = make(map[string]string)
	}
	j.Env[name] = value
	return j
}

// WithContinueOnError lets the run tolerate this job failing
func (j *Job) WithContinueOnError(continueOnError bool) *Job {
	j.ContinueOnError = continueOnError
	return j
}

// AddStep appends a step to the job
func (j *Job) AddStep(step *Step) *Job {
	j.Steps = append(j.Steps, step)
	return j
}

// NewStep creates a named step, appends it and returns it for chaining
func (j *Job) NewStep(name string) *Step {
	step := &Step{Name: name}
	j.Steps = append(j.Steps, step)
	return step
}

// Clone creates a deep copy of the job
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	clone := &Job{
		Name:            j.Name,
		RunsOn:          j.RunsOn,
		If:              j.If,
		ContinueOnError: j.ContinueOnError,
	}
	if j.Needs != nil {
		clone.Needs = make([]string, len(j.Needs))
		copy(clone.Needs, j.Needs)
	}
	if j.Env != nil {
		clone.Env = make(map[string]string, len(j.Env))
		for k, v := range j.Env {
			clone.Env[k] = v
		}
	}
	if j.Steps != nil {
		clone.Steps = make([]*Step, len(j.Steps))
		for i, step := range j.Steps {
			clone.Steps[i] = step.Clone()
		}
	}
	return clone
}
