package analysis

import (
	"context"

	"github.com/mattjoyce/sonargate/internal/jobs"
	"github.com/mattjoyce/sonargate/internal/poller"
	"github.com/mattjoyce/sonargate/internal/scanner"
	"github.com/mattjoyce/sonargate/internal/sonar"
	"github.com/mattjoyce/sonargate/internal/workspace"
)

//go:generate mockgen -destination=mocks/mock_stages.go -package=mocks github.com/mattjoyce/sonargate/internal/analysis Workspaces,Extractor,Scanner,Waiter,IssueSearcher,JobRecorder

// Workspaces creates and releases per-job directories.
type Workspaces interface {
	Create(ctx context.Context, id string) (workspace.Workspace, error)
	Remove(ctx context.Context, id string) error
}

// Extractor unpacks the uploaded archive inside a workspace and returns the
// project directory.
type Extractor interface {
	ExtractFile(ctx context.Context, archivePath, workspaceDir string) (string, error)
}

// Scanner runs sonar-scanner to completion.
type Scanner interface {
	Scan(ctx context.Context, req scanner.Request) (scanner.Result, error)
}

// Waiter blocks until the compute engine has processed the report.
type Waiter interface {
	Wait(ctx context.Context, token string) (poller.Outcome, error)
}

// IssueSearcher fetches findings for a project key.
type IssueSearcher interface {
	SearchIssues(ctx context.Context, component string, pageSize int) ([]sonar.Issue, error)
}

// JobRecorder keeps job history.
type JobRecorder interface {
	Create(ctx context.Context, j jobs.Job) error
	SetStage(ctx context.Context, id, stage string) error
	Complete(ctx context.Context, id string, c jobs.Completion) error
}

// Publisher fans out lifecycle events.
type Publisher interface {
	Publish(eventType string, data any)
}
