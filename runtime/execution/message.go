package execution

import "time"

// JobMessage identifies a scheduled job run on the job queue. Workers load
// the run record by ID rather than trusting a serialised snapshot, so the
// payload carries coordinates only.
type JobMessage struct {
	RunID       string    `json:"runId"`
	Job         string    `json:"job"`
	ScheduledAt time.Time `json:"scheduledAt"`
}

// NewJobMessage builds the queue payload for a scheduled job run.
func NewJobMessage(jobRun *JobRun) *JobMessage {
	return &JobMessage{
		RunID:       jobRun.RunID,
		Job:         jobRun.Name,
		ScheduledAt: jobRun.ScheduledAt,
	}
}
