// Package crawl defines core types shared across subsystems.
package crawl

import "time"

// JobStatus represents the lifecycle state of a crawl job.
type JobStatus string

// Job status values persisted in the job store. Transitions are strictly
// forward: pending -> running -> (completed | failed).
const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// Terminal reports whether the status admits no further transitions.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Job is the metadata persisted for each submitted (url, keyword) request.
type Job struct {
	ID            string     `json:"id"`
	InputURL      string     `json:"input_url"`
	Keyword       string     `json:"keyword"`
	Status        JobStatus  `json:"status"`
	EngineJobRef  string     `json:"engine_job_ref,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	FailureReason string     `json:"failure_reason,omitempty"`
}

// Result is one page-level keyword match persisted for a job. Rows are
// insert-only and unique per (JobID, PageURL).
type Result struct {
	ID        int64     `json:"id"`
	JobID     string    `json:"job_id"`
	PageURL   string    `json:"page_url"`
	PageTitle string    `json:"page_title,omitempty"`
	Snippet   string    `json:"snippet"`
	CreatedAt time.Time `json:"created_at"`
}

// JobView is returned by the status read interface.
type JobView struct {
	Job     Job      `json:"job"`
	Results []Result `json:"results,omitempty"`
}

// OutcomeState classifies one engine poll.
type OutcomeState string

// Normalized engine outcome states.
const (
	OutcomePending   OutcomeState = "pending"
	OutcomePageBatch OutcomeState = "page_batch"
	OutcomeDone      OutcomeState = "done"
	OutcomeFailed    OutcomeState = "failed"
)

// Page is one crawled page as delivered by the engine.
type Page struct {
	URL   string
	Title string
	Text  string
}

// Outcome is the normalized result of asking the engine for a job's state.
// Pages carries the batch for OutcomePageBatch and any final batch for
// OutcomeDone; Reason is set for OutcomeFailed.
type Outcome struct {
	State  OutcomeState
	Pages  []Page
	Reason string
}

// CompletionEvent is published when a job reaches a terminal state.
type CompletionEvent struct {
	JobID         string    `json:"job_id"`
	Status        JobStatus `json:"status"`
	ResultCount   int       `json:"result_count"`
	FailureReason string    `json:"failure_reason,omitempty"`
	CompletedAt   time.Time `json:"completed_at"`
}
