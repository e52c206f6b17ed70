package workspace

import (
	"context"
	"time"
)

// Workspace is the directory exclusively owned by one analysis job. It holds
// the extracted project and anything the scanner writes next to it.
type Workspace struct {
	ID  string
	Dir string
}

// CleanupReport summarizes a cleanup run.
type CleanupReport struct {
	DeletedDirs int
}

// Manager governs workspace lifecycle.
type Manager interface {
	// Create initializes a new, empty workspace for id. It fails if one
	// already exists so two jobs can never share a directory.
	Create(ctx context.Context, id string) (Workspace, error)

	// Remove deletes the workspace for id recursively. Removing a missing
	// workspace is not an error.
	Remove(ctx context.Context, id string) error

	// Cleanup removes stale workspaces older than olderThan.
	Cleanup(ctx context.Context, olderThan time.Duration) (CleanupReport, error)
}
