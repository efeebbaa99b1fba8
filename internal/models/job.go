package models

import "time"

// JobStatus is the lifecycle state of a Document Job.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// IsTerminal reports whether no further transitions are expected.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// StageState is the per-page position in the two-stage transform.
type StageState string

const (
	StageNotStarted   StageState = "not_started"
	StageTranscribing StageState = "transcribing"
	StageTranscribed  StageState = "transcribed"
	StageTranslating  StageState = "translating"
	StageTranslated   StageState = "translated"
	StageFailed       StageState = "failed"
)

// IsTerminal reports whether the page has finished, successfully or not.
func (s StageState) IsTerminal() bool {
	return s == StageTranslated || s == StageFailed
}

var stageOrder = map[StageState]int{
	StageNotStarted:   0,
	StageTranscribing: 1,
	StageTranscribed:  2,
	StageTranslating:  3,
	StageTranslated:   4,
}

// CanAdvance reports whether a page may move from one stage state to another.
// Forward moves are allowed one step at a time; failure is reachable from any
// non-terminal state and is itself terminal.
func CanAdvance(from, to StageState) bool {
	if from.IsTerminal() {
		return false
	}
	if to == StageFailed {
		return true
	}
	f, okFrom := stageOrder[from]
	t, okTo := stageOrder[to]
	return okFrom && okTo && t == f+1
}

// Page is one unit of a document moving through transcription and translation.
type Page struct {
	Index         int        `json:"index" firestore:"index"`
	Unit          []byte     `json:"-" firestore:"-"`
	MIMEType      string     `json:"-" firestore:"-"`
	Blank         bool       `json:"-" firestore:"-"`
	Transcription *string    `json:"transcription,omitempty" firestore:"-"`
	Translation   *string    `json:"translation,omitempty" firestore:"-"`
	StageState    StageState `json:"stageState" firestore:"stageState"`
	ErrorKind     string     `json:"errorKind,omitempty" firestore:"errorKind,omitempty"`
	ErrorDetails  string     `json:"errorDetails,omitempty" firestore:"errorDetails,omitempty"`
}

// Number is the one-based page number used in logs and artifact names.
func (p *Page) Number() int {
	return p.Index + 1
}

// PageFailure describes one terminally failed page.
type PageFailure struct {
	Index     int    `json:"index" firestore:"index"`
	ErrorKind string `json:"errorKind" firestore:"errorKind"`
	Message   string `json:"message,omitempty" firestore:"message,omitempty"`
}

// Job is the in-flight Document Job owned by the scheduler.
type Job struct {
	ID        string
	Filename  string
	FileHash  string
	Pages     []*Page
	Status    JobStatus
	CreatedAt time.Time
}

// JobRecord is the persisted view of a job, stored in Firestore.
type JobRecord struct {
	ID               string        `firestore:"-" json:"jobId"`
	FileHash         string        `firestore:"fileHash,omitempty" json:"fileHash,omitempty"`
	OriginalFilename string        `firestore:"originalFilename,omitempty" json:"filename,omitempty"`
	Status           JobStatus     `firestore:"status" json:"status"`
	ErrorDetails     string        `firestore:"errorDetails,omitempty" json:"errorDetails,omitempty"`
	PageCount        int           `firestore:"pageCount" json:"pageCount"`
	FailedPages      []PageFailure `firestore:"failedPages,omitempty" json:"failedPages,omitempty"`
	OutputKey        string        `firestore:"outputKey,omitempty" json:"outputKey,omitempty"`
	CreatedAt        time.Time     `firestore:"createdAt" json:"createdAt"`
	UpdatedAt        time.Time     `firestore:"updatedAt" json:"updatedAt"`
}

// JobResult is what a caller receives once a job is terminal.
type JobResult struct {
	JobID        string        `json:"jobId"`
	Status       JobStatus     `json:"status"`
	Translations []string      `json:"translations,omitempty"`
	FailedPages  []PageFailure `json:"failedPages,omitempty"`
	Output       string        `json:"-"`
	OutputKey    string        `json:"outputKey,omitempty"`
}
