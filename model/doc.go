// Package model contains the in-memory representation of workflow
// definitions and supporting types used by the conveyor engine.
//
// A workflow is typically loaded from a YAML document into a Workflow with
// ordered Jobs, each holding a fixed sequence of Steps.  The `types`
// sub-package defines the action service contract that `uses:` steps
// dispatch to.
package model
