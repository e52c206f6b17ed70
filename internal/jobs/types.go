package jobs

import "time"

// Status is the lifecycle state of an analysis job.
type Status string

const (
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Stage names, in pipeline order.
const (
	StageExtract = "extract"
	StageScan    = "scan"
	StagePoll    = "poll"
	StageFetch   = "fetch"
	StageDone    = "done"
)

// Job is one row of analysis history.
type Job struct {
	ID            string     `json:"job_id"`
	Status        Status     `json:"status"`
	Stage         string     `json:"stage"`
	ArchiveName   string     `json:"archive_name,omitempty"`
	ArchiveSize   int64      `json:"archive_size"`
	ArchiveDigest string     `json:"archive_blake3,omitempty"`
	IssueCount    int        `json:"issue_count"`
	PollAttempts  int        `json:"poll_attempts"`
	ErrorKind     string     `json:"error_kind,omitempty"`
	ErrorMessage  string     `json:"error_message,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

// Completion is the final outcome recorded when a job ends.
type Completion struct {
	Status       Status
	Stage        string
	IssueCount   int
	PollAttempts int
	ErrorKind    string
	ErrorMessage string
}
