package execution

import (
	"strings"
	"sync"

	"github.com/modal-labs/conveyor/runtime/evaluator"
	"github.com/modal-labs/conveyor/runtime/expander"
)

// Scope is the expression state visible to ${{ ... }} tokens while a job run
// executes. Its keys mirror the workflow document vocabulary: workflow,
// event, env, run, job, needs and steps.
type Scope struct {
	mu    sync.RWMutex
	state map[string]interface{}
	funcs evaluator.Funcs
}

// NewScope builds the expression scope of a job run within its run. The env
// entry layers run overrides over workflow-level variables over job-level
// ones; step env is applied later by the step executor.
func NewScope(run *Run, job *JobRun) *Scope {
	scope := &Scope{
		state: make(map[string]interface{}),
		funcs: make(evaluator.Funcs),
	}
	env := map[string]string{}
	if run != nil {
		if run.Workflow != nil {
			scope.state["workflow"] = map[string]interface{}{
				"name": run.Workflow.Name,
			}
			for k, v := range run.Workflow.Env {
				env[k] = v
			}
		}
		if run.Event != nil {
			scope.state["event"] = map[string]interface{}{
				"kind":   string(run.Event.Kind),
				"ref":    run.Event.Ref,
				"branch": run.Event.Branch,
				"tag":    run.Event.Tag,
				"commit": run.Event.Commit,
			}
		}
		scope.state["run"] = map[string]interface{}{
			"id":    run.ID,
			"state": string(run.GetState()),
		}
	}
	if job != nil {
		if run != nil && run.Workflow != nil {
			if workflowJob := run.Workflow.Job(job.Name); workflowJob != nil {
				for k, v := range workflowJob.Env {
					env[k] = v
				}
			}
		}
		scope.state["job"] = map[string]interface{}{
			"name":  job.Name,
			"state": string(job.GetState()),
		}
		needs := map[string]interface{}{}
		for _, need := range job.Needs {
			result := ""
			if run != nil {
				if needed := run.Job(need); needed != nil {
					result = string(needed.GetState())
				}
			}
			needs[need] = map[string]interface{}{"result": result}
		}
		scope.state["needs"] = needs
		steps := map[string]interface{}{}
		for _, step := range job.Steps {
			if step.ID == "" {
				continue
			}
			steps[step.ID] = step.Outcome()
		}
		scope.state["steps"] = steps
	}
	if run != nil {
		for k, v := range run.Env {
			env[k] = v
		}
	}
	scope.state["env"] = env
	return scope
}

// Set adds or replaces a top-level scope entry.
func (s *Scope) Set(key string, value interface{}) {
	s.mu.Lock()
	s.state[key] = value
	s.mu.Unlock()
}

// Get retrieves a top-level scope entry.
func (s *Scope) Get(key string) (interface{}, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	value, exists := s.state[key]
	return value, exists
}

// SetStep refreshes the steps entry for a finished step so later steps can
// reference its outcome and outputs.
func (s *Scope) SetStep(step *StepRun) {
	if step == nil || step.ID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	steps, ok := s.state["steps"].(map[string]interface{})
	if !ok {
		steps = map[string]interface{}{}
		s.state["steps"] = steps
	}
	steps[step.ID] = step.Outcome()
}

// Env returns a copy of the merged environment of the scope.
func (s *Scope) Env() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ret := map[string]string{}
	if env, ok := s.state["env"].(map[string]string); ok {
		for k, v := range env {
			ret[k] = v
		}
	}
	return ret
}

// SetEnv adds an environment variable to the scope.
func (s *Scope) SetEnv(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	env, ok := s.state["env"].(map[string]string)
	if !ok {
		env = map[string]string{}
		s.state["env"] = env
	}
	env[key] = value
}

// RegisterFuncs adds expression functions such as success() or hashFiles().
func (s *Scope) RegisterFuncs(funcs evaluator.Funcs) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for name, fn := range funcs {
		s.funcs[name] = fn
	}
}

// Snapshot returns a shallow copy of the scope state.
func (s *Scope) Snapshot() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ret := make(map[string]interface{}, len(s.state))
	for k, v := range s.state {
		ret[k] = v
	}
	return ret
}

// Expand expands ${{ ... }} tokens in a value using the scope state.
func (s *Scope) Expand(value interface{}) (interface{}, error) {
	s.mu.RLock()
	funcs := s.funcs
	s.mu.RUnlock()
	return expander.ExpandWith(value, s.Snapshot(), funcs)
}

// ExpandText expands tokens in a string, returning text.
func (s *Scope) ExpandText(text string) string {
	s.mu.RLock()
	funcs := s.funcs
	s.mu.RUnlock()
	return expander.ExpandText(text, s.Snapshot(), funcs)
}

// EvaluateBool evaluates a condition expression. The ${{ }} wrapper is
// optional, matching workflow document usage.
func (s *Scope) EvaluateBool(expr string) bool {
	expr = strings.TrimSpace(expr)
	if strings.HasPrefix(expr, "${{") && strings.HasSuffix(expr, "}}") {
		expr = strings.TrimSpace(expr[3 : len(expr)-2])
	}
	if expr == "" {
		return true
	}
	s.mu.RLock()
	funcs := s.funcs
	s.mu.RUnlock()
	return evaluator.Bool(evaluator.EvaluateWith(expr, s.Snapshot(), funcs))
}
