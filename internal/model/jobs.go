package model

import (
	"encoding/json"
	"time"
)

// ImportJobStatus represents the current state of an import job
type ImportJobStatus string

const (
	ImportRunning   ImportJobStatus = "running"
	ImportPaused    ImportJobStatus = "paused"
	ImportCompleted ImportJobStatus = "completed"
	ImportCancelled ImportJobStatus = "cancelled"
)

// ImportOutcome represents the outcome of one imported contact
type ImportOutcome string

const (
	OutcomeSuccess ImportOutcome = "success"
	OutcomeFailure ImportOutcome = "failure"
)

// ImportResult records what happened to a single contact. Index is the
// 1-based position of the contact in the parsed input.
type ImportResult struct {
	Index     int             `json:"index"`
	Email     string          `json:"email"`
	Outcome   ImportOutcome   `json:"outcome"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// ImportJob is a point-in-time snapshot of a bulk import.
// Results are ordered most recent first.
type ImportJob struct {
	ID              string          `json:"id"`
	AccountID       string          `json:"account_id"`
	ListID          string          `json:"list_id"`
	ListName        string          `json:"list_name"`
	Status          ImportJobStatus `json:"status"`
	CancelRequested bool            `json:"cancel_requested,omitempty"`
	Progress        float64         `json:"progress"`
	Results         []ImportResult  `json:"results"`
	TotalContacts   int             `json:"total_contacts"`
	ElapsedSeconds  int             `json:"elapsed_seconds"`
	DelaySeconds    float64         `json:"delay_seconds"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty"`
}

func (j *ImportJob) SuccessCount() int {
	return j.countOutcome(OutcomeSuccess)
}

func (j *ImportJob) FailureCount() int {
	return j.countOutcome(OutcomeFailure)
}

func (j *ImportJob) countOutcome(outcome ImportOutcome) int {
	n := 0
	for _, r := range j.Results {
		if r.Outcome == outcome {
			n++
		}
	}
	return n
}

// IsActive reports whether the job still holds the account's import slot
func (j *ImportJob) IsActive() bool {
	return j.Status == ImportRunning || j.Status == ImportPaused
}

func (j *ImportJob) IsTerminal() bool {
	return j.Status == ImportCompleted || j.Status == ImportCancelled
}

// DeletionJobStatus represents the current phase of a delete-all run
type DeletionJobStatus string

const (
	DeletionStarted   DeletionJobStatus = "started"
	DeletionFetching  DeletionJobStatus = "fetching"
	DeletionDeleting  DeletionJobStatus = "deleting"
	DeletionCompleted DeletionJobStatus = "completed"
	DeletionFailed    DeletionJobStatus = "failed"
)

// DeletionJob is a snapshot of a background delete-all run
type DeletionJob struct {
	ID         string            `json:"id"`
	AccountID  string            `json:"account_id"`
	ListID     string            `json:"list_id"`
	Status     DeletionJobStatus `json:"status"`
	Progress   float64           `json:"progress"`
	TotalCount int               `json:"total_count"`
	Message    string            `json:"message"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

func (j *DeletionJob) IsTerminal() bool {
	return j.Status == DeletionCompleted || j.Status == DeletionFailed
}
