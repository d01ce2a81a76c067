// Package retry provides utilities for retrying fallible operations with a
// named, exponentially growing delay schedule and optional jitter. It is the
// policy behind per-step retries in workflow execution, and is equally usable
// standalone.
package retry
