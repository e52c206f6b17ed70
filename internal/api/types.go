package api

import (
	"github.com/mattjoyce/sonargate/internal/jobs"
	"github.com/mattjoyce/sonargate/internal/sonar"
)

// jobIDHeader carries the job token on /analyze responses.
const jobIDHeader = "X-Sonargate-Job-Id"

// AnalyzeResponse is returned by a successful POST /analyze.
type AnalyzeResponse struct {
	Vulnerabilities []sonar.Issue `json:"vulnerabilities"`
	TotalCount      int           `json:"total_count"`
}

// ErrorResponse is returned on errors
type ErrorResponse struct {
	Error string `json:"error"`
}

// ReadyResponse is returned by GET /readyz.
type ReadyResponse struct {
	Status        string `json:"status"`
	Engine        string `json:"engine,omitempty"`
	Error         string `json:"error,omitempty"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

// JobListResponse is returned by GET /jobs.
type JobListResponse struct {
	Jobs []*jobs.Job `json:"jobs"`
}
