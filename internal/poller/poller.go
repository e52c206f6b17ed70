// Package poller waits for the SonarQube compute engine to finish
// processing an analysis report.
package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mattjoyce/sonargate/internal/sonar"
)

// Defaults used when a Poller field is left zero.
const (
	DefaultMaxAttempts = 60
	DefaultInterval    = 5 * time.Second
)

// ErrTimeout is returned when the attempt budget runs out before the task
// reaches a terminal status.
var ErrTimeout = errors.New("timed out waiting for analysis to complete")

// TerminalError reports that the compute engine finished without success.
type TerminalError struct {
	Status string
}

func (e *TerminalError) Error() string {
	return fmt.Sprintf("analysis task ended with status %s", e.Status)
}

// StatusSource reports the latest compute engine task status for a project
// key. An empty status means no task has been registered yet.
type StatusSource interface {
	TaskStatus(ctx context.Context, component string) (string, error)
}

// Clock supplies the wait between attempts.
type Clock interface {
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// RealClock returns a Clock backed by the time package.
func RealClock() Clock { return realClock{} }

// Outcome summarises a successful wait.
type Outcome struct {
	Attempts int
	Status   string
}

// Poller checks task status at a fixed interval for a bounded number of
// attempts. It is the only stage of the pipeline that retries.
type Poller struct {
	Source      StatusSource
	Clock       Clock
	MaxAttempts int
	Interval    time.Duration
	Logger      *slog.Logger

	// Signals, when set, lets a completion webhook trigger the next query
	// before the interval elapses.
	Signals *Signals
}

// Wait blocks until the task for token succeeds, fails, the attempt budget
// runs out, or ctx is done. Every attempt waits one interval (or a wake-up
// from Signals) before querying, so the engine has time to register the
// task.
func (p *Poller) Wait(ctx context.Context, token string) (Outcome, error) {
	maxAttempts := p.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	interval := p.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	clock := p.Clock
	if clock == nil {
		clock = realClock{}
	}
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("job_id", token)

	var wake <-chan struct{}
	if p.Signals != nil {
		var cancel func()
		wake, cancel = p.Signals.Subscribe(token)
		defer cancel()
	}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return Outcome{Attempts: attempt - 1}, ctx.Err()
		case <-clock.After(interval):
		case <-wake:
			logger.Debug("woken by completion notification", "attempt", attempt)
		}

		status, err := p.Source.TaskStatus(ctx, token)
		if err != nil {
			if ctx.Err() != nil {
				return Outcome{Attempts: attempt}, ctx.Err()
			}
			logger.Warn("task status query failed", "attempt", attempt, "error", err)
			continue
		}

		switch status {
		case sonar.StatusSuccess:
			logger.Info("analysis task succeeded", "attempt", attempt)
			return Outcome{Attempts: attempt, Status: status}, nil
		case sonar.StatusFailed, sonar.StatusCanceled:
			return Outcome{Attempts: attempt, Status: status}, &TerminalError{Status: status}
		default:
			logger.Debug("analysis task not finished", "attempt", attempt, "status", status)
		}
	}

	return Outcome{Attempts: maxAttempts}, fmt.Errorf("%w after %d attempts", ErrTimeout, maxAttempts)
}
