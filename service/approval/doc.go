// Package approval implements the optional human-in-the-loop approval layer.
// It allows selected steps to be paused until an explicit approve or reject
// decision is recorded.
package approval
