package domain

import "time"

// JobStatus is the lifecycle state of a report job.
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// Stage names in pipeline order.
const (
	StageClaims    = "claims"
	StageDedup     = "dedup"
	StageSummaries = "summaries"
)

// Job is a report-generation request. Workers receive the full job payload,
// so processing never needs to re-read inputs from the shared store.
type Job struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Model     string    `json:"model"`
	Comments  []Comment `json:"comments"`
	Taxonomy  Taxonomy  `json:"taxonomy"`
	CreatedAt time.Time `json:"created_at"`

	// Concurrency caps simultaneous LLM calls per stage. Zero means the
	// worker default applies.
	Concurrency int `json:"concurrency,omitempty"`
	// FailureThreshold overrides the stage abort threshold. Zero means the
	// worker default applies.
	FailureThreshold float64 `json:"failure_threshold,omitempty"`
	// SortBy selects report ordering. Empty means distinct-speaker count.
	SortBy SortKey `json:"sort_by,omitempty"`
}

// Validate checks that the job carries everything a worker needs.
func (j *Job) Validate() error {
	if j.ID == "" {
		return NewValidationError("id", "must not be empty")
	}
	if j.Model == "" {
		return NewValidationError("model", "must not be empty")
	}
	if len(j.Comments) == 0 {
		return NewValidationError("comments", "must contain at least one comment")
	}
	return j.Taxonomy.Validate()
}

// Progress is the checkpointed view of a job's state, written atomically by
// the worker after each stage and read by the API server.
type Progress struct {
	JobID     string    `json:"job_id"`
	Status    JobStatus `json:"status"`
	Stage     string    `json:"stage,omitempty"`
	Processed int       `json:"processed"`
	Filtered  int       `json:"filtered"`
	Failed    int       `json:"failed"`
	Usage     Usage     `json:"usage"`
	Cost      float64   `json:"cost"`
	Error     string    `json:"error,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Report is the final job output.
type Report struct {
	JobID     string         `json:"job_id"`
	Tree      *ResultTree    `json:"tree"`
	Summaries []TopicSummary `json:"summaries"`
	Usage     Usage          `json:"usage"`
	Cost      float64        `json:"cost"`
	SortBy    SortKey        `json:"sort_by"`
	Topics    []string       `json:"topic_order"`
}
