package model

import (
	"fmt"
	"time"
)

// StepKind discriminates between action steps and shell command steps.
type StepKind string

const (
	// StepKindUses dispatches to a registered action service
	StepKindUses = StepKind("uses")
	// StepKindRun executes a shell command on the job runner
	StepKindRun = StepKind("run")
)

// Step is a single unit of work inside a job. Exactly one of Uses or Run
// must be set.
type Step struct {
	// ID is an optional identifier other steps can reference outputs by
	ID string `json:"id,omitempty" yaml:"id,omitempty"`

	// Name is a human-readable label
	Name string `json:"name,omitempty" yaml:"name,omitempty"`

	// Uses names an action service, optionally with a method: "cache/restore"
	Uses string `json:"uses,omitempty" yaml:"uses,omitempty"`

	// Run holds a shell command executed on the job runner
	Run string `json:"run,omitempty" yaml:"run,omitempty"`

	// With supplies action input parameters
	With map[string]interface{} `json:"with,omitempty" yaml:"with,omitempty"`

	// Env holds step-level environment variables
	Env map[string]string `json:"env,omitempty" yaml:"env,omitempty"`

	// Shell overrides the default shell for run steps
	Shell string `json:"shell,omitempty" yaml:"shell,omitempty"`

	// WorkingDir sets the directory run commands execute in
	WorkingDir string `json:"workingDir,omitempty" yaml:"working-directory,omitempty"`

	// If guards the step; a false expression skips it
	If string `json:"if,omitempty" yaml:"if,omitempty"`

	// Timeout bounds a single attempt, as a duration string
	Timeout string `json:"timeout,omitempty" yaml:"timeout,omitempty"`

	// ContinueOnError keeps the job going when this step fails
	ContinueOnError bool `json:"continueOnError,omitempty" yaml:"continue-on-error,omitempty"`

	// Retry re-attempts a failing step with a growing delay
	Retry *Retry `json:"retry,omitempty" yaml:"retry,omitempty"`
}

// Kind reports whether the step is an action dispatch or a shell command.
func (s *Step) Kind() StepKind {
	if s.Uses != "" {
		return StepKindUses
	}
	return StepKindRun
}

// Label returns the most specific identifier available for diagnostics:
// id, then name, then the positional index.
func (s *Step) Label(index int) string {
	if s.ID != "" {
		return s.ID
	}
	if s.Name != "" {
		return s.Name
	}
	return fmt.Sprintf("#%d", index+1)
}

// TimeoutDuration parses the step timeout; zero means no limit.
func (s *Step) TimeoutDuration() (time.Duration, error) {
	if s.Timeout == "" {
		return 0, nil
	}
	return time.ParseDuration(s.Timeout)
}

// WithUses sets the action the step dispatches to
func (s *Step) WithUses(uses string) *Step {
	s.Uses = uses
	return s
}

// WithRun sets the shell command the step executes
func (s *Step) WithRun(command string) *Step {
	s.Run = command
	return s
}

// WithInput adds an action input parameter
func (s *Step) WithInput(name string, value interface{}) *Step {
	if s.With == nil {
		s.With = make(map[string]interface{})
	}
	s.With[name] = value
	return s
}

// WithEnv adds a step-level environment variable
func (s *Step) WithEnv(name, value string) *Step {
	if s.Env == nil {
		s.Env = make(map[string]string)
	}
	s.Env[name] = value
	return s
}

// WithIf sets the step condition expression
func (s *Step) WithIf(expr string) *Step {
	s.If = expr
	return s
}

// WithTimeout bounds a single attempt of the step
func (s *Step) WithTimeout(timeout string) *Step {
	s.Timeout = timeout
	return s
}

// WithContinueOnError keeps the job going when the step fails
func (s *Step) WithContinueOnError(continueOnError bool) *Step {
	s.ContinueOnError = continueOnError
	return s
}

// WithRetry sets the step retry policy
func (s *Step) WithRetry(retry *Retry) *Step {
	s.Retry = retry
	return s
}

// Clone creates a deep copy of the step
func (s *Step) Clone() *Step {
	if s == nil {
		return nil
	}
	clone := &Step{
		ID:              s.ID,
		Name:            s.Name,
		Uses:            s.Uses,
		Run:             s.Run,
		Shell:           s.Shell,
		WorkingDir:      s.WorkingDir,
		If:              s.If,
		Timeout:         s.Timeout,
		ContinueOnError: s.ContinueOnError,
	}
	if s.With != nil {
		clone.With = make(map[string]interface{}, len(s.With))
		for k, v := range s.With {
			clone.With[k] = v
		}
	}
	if s.Env != nil {
		clone.Env = make(map[string]string, len(s.Env))
		for k, v := range s.Env {
			clone.Env[k] = v
		}
	}
	if s.Retry != nil {
		retry := *s.Retry
		clone.Retry = &retry
	}
	return clone
}
