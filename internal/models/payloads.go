package models

import "time"

// These structs define the JSON payloads exchanged with the presentation layer.

// SubmitResponse is returned after a document has been accepted.
type SubmitResponse struct {
	Status    string `json:"status"`
	JobID     string `json:"jobId"`
	Filename  string `json:"filename"`
	PageCount int    `json:"pageCount"`
	Duplicate bool   `json:"duplicate,omitempty"`
}

// ProgressResponse carries a percentage in [0,100], or -1 for a failed job.
type ProgressResponse struct {
	JobID      string    `json:"jobId"`
	Percentage int       `json:"percentage"`
	Status     JobStatus `json:"status,omitempty"`
}

// OutputResponse carries the compiled document.
type OutputResponse struct {
	JobID       string        `json:"jobId"`
	Content     string        `json:"content"`
	FailedPages []PageFailure `json:"failedPages,omitempty"`
}

// JobListItem is one row of the job listing.
type JobListItem struct {
	JobID     string    `json:"jobId"`
	Filename  string    `json:"name"`
	Status    JobStatus `json:"status"`
	PageCount int       `json:"pageCount"`
	CreatedAt time.Time `json:"timestamp"`
}

// DeleteResponse confirms removal of a job's persisted state.
type DeleteResponse struct {
	Status string `json:"status"`
	JobID  string `json:"jobId"`
}

// WorkflowCompletionPayload is the argument passed to a downstream workflow
// once a job reaches a terminal state.
type WorkflowCompletionPayload struct {
	JobID       string        `json:"jobId"`
	Status      JobStatus     `json:"status"`
	PageCount   int           `json:"pageCount"`
	FailedPages []PageFailure `json:"failedPages,omitempty"`
	OutputKey   string        `json:"outputKey,omitempty"`
}
