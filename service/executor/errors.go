package executor

import "errors"

var (
	// ErrDenied marks a step rejected by the run policy or an approver.
	ErrDenied = errors.New("step denied by policy")
	// ErrNoApprover is returned in ask mode when no approval channel exists.
	ErrNoApprover = errors.New("policy mode ask requires an approver or approval service")
)
