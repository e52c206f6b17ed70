package workspace

import (
	"context"
	"log/slog"
	"time"
)

// RunSweeper removes workspaces older than staleAfter once immediately and
// then every interval until ctx is cancelled. Workspaces normally vanish when
// their job ends; the sweeper only catches leftovers from crashes. onSwept,
// if set, receives the count of each non-empty sweep.
func RunSweeper(ctx context.Context, m Manager, interval, staleAfter time.Duration, logger *slog.Logger, onSwept func(n int)) {
	sweep := func() {
		report, err := m.Cleanup(ctx, staleAfter)
		if err != nil {
			if ctx.Err() == nil {
				logger.Error("workspace sweep failed", "error", err)
			}
			return
		}
		if report.DeletedDirs > 0 {
			logger.Info("removed stale workspaces", "count", report.DeletedDirs)
			if onSwept != nil {
				onSwept(report.DeletedDirs)
			}
		}
	}

	sweep()
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sweep()
		}
	}
}
