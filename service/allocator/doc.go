// Package allocator turns run records into scheduled job work. It polls
// active runs, skips jobs whose dependencies failed, publishes job runs whose
// needs are satisfied to the job queue and finalises runs once every job
// reached a terminal state.
package allocator
