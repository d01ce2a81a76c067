package execution

import "github.com/modal-labs/conveyor/policy"

type Option func(*Run)

// WithEnv layers extra environment variables over the workflow env.
func WithEnv(env map[string]string) Option {
	return func(run *Run) {
		if len(env) == 0 {
			return
		}
		if run.Env == nil {
			run.Env = make(map[string]string, len(env))
		}
		for k, v := range env {
			run.Env[k] = v
		}
	}
}

// WithPolicy attaches the command policy consulted before run steps execute.
func WithPolicy(p *policy.Config) Option {
	return func(run *Run) {
		run.Policy = p
	}
}
