package approval

import (
	"encoding/json"
	"time"
)

// Event is the envelope published on the service queue for every request and
// decision mutation.
type Event struct {
	Topic   string            // see topic constants below
	Data    interface{}       // *Request | *Decision
	Headers map[string]string `json:"headers,omitempty"` // optional: tenant, correlation-id etc.
}

// Standard event topics.
const (
	TopicRequestCreated  = "request.created"
	TopicRequestUpdated  = "request.updated"
	TopicRequestExpired  = "request.expired"
	TopicDecisionCreated = "decision.created"
)

// Request represents a request for approval of a specific step before its
// action or command can be carried out.
type Request struct {
	ID        string                 `json:"id"`                  // Globally unique, primary key
	RunID     string                 `json:"runId"`               // Refers to Run.ID
	Job       string                 `json:"job,omitempty"`       // Workflow job name
	Step      string                 `json:"step,omitempty"`      // Step label within the job
	Action    string                 `json:"action"`              // "service.method" or the program token of a run command
	Args      json.RawMessage        `json:"args,omitempty"`      // JSON-encoded expanded input, may be null
	CreatedAt time.Time              `json:"createdAt"`           // RFC-3339 timestamp
	ExpiresAt *time.Time             `json:"expiresAt,omitempty"` // Optional deadline
	Meta      map[string]interface{} `json:"meta,omitempty"`      // Free-form map: tenant, user, environment, etc.
}

// Decision represents approval decision
type Decision struct {
	ID        string    `json:"id"` // same as request.ID
	Approved  bool      `json:"approved"`
	Reason    string    `json:"reason,omitempty"`
	DecidedAt time.Time `json:"decidedAt"`
}
