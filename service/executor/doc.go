// Package executor bridges workflow steps with the backing implementation of
// actions. It is effectively a glue layer between the high-level workflow
// model and low-level service implementations: it resolves the action and
// method a step addresses, expands and converts the declared input, consults
// the run policy and finally invokes the action.
package executor
