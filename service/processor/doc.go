// Package processor hosts the workers that execute scheduled job runs.
// Every worker consumes job messages from the queue fed by the allocator,
// runs the job's steps strictly in order and records the outcome so that the
// allocator can decide what to schedule next.
package processor
