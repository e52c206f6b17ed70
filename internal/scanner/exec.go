package scanner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"syscall"
	"time"
)

// ExecInvoker runs a local sonar-scanner binary.
type ExecInvoker struct {
	Binary    string
	ExtraArgs []string
	// Timeout bounds a single scan. Zero means no limit beyond ctx.
	Timeout time.Duration
	// Grace is the wait between SIGTERM and SIGKILL. Zero uses 5s.
	Grace  time.Duration
	Logger *slog.Logger
}

// Scan runs the scanner in req.ProjectDir and waits for it to exit. When
// ctx is cancelled or the timeout passes, the scanner's process group gets
// SIGTERM and then SIGKILL after the grace period.
func (e *ExecInvoker) Scan(ctx context.Context, req Request) (Result, error) {
	logger := e.logger().With("job_id", req.ProjectKey)
	args := Args(req, e.ExtraArgs)

	scanCtx := ctx
	if e.Timeout > 0 {
		var cancel context.CancelFunc
		scanCtx, cancel = context.WithTimeout(ctx, e.Timeout)
		defer cancel()
	}

	// Not CommandContext: termination is escalated by hand below.
	cmd := exec.Command(e.Binary, args...)
	cmd.Dir = req.ProjectDir
	startInOwnGroup(cmd)
	// Orphaned grandchildren holding the output pipes must not stall Wait.
	cmd.WaitDelay = e.grace()

	stdout := &cappedBuffer{limit: maxStdoutBytes}
	stderr := &cappedBuffer{limit: maxStderrBytes}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	logger.Info("starting scanner", "binary", e.Binary, "args", redactArgs(args), "dir", req.ProjectDir)
	start := time.Now()

	if err := cmd.Start(); err != nil {
		return Result{ExitCode: -1}, &Error{ExitCode: -1, Err: fmt.Errorf("start %s: %w", e.Binary, err)}
	}

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
	}()

	select {
	case <-scanCtx.Done():
		e.terminate(cmd, waitErr, logger)
		res := Result{ExitCode: -1, Duration: time.Since(start)}
		logOutput(logger, stdout, stderr)
		if err := ctx.Err(); err != nil {
			return res, err
		}
		return res, &Error{
			ExitCode: -1,
			Stderr:   stderr.String(),
			Err:      fmt.Errorf("sonar-scanner timed out after %s", e.Timeout),
		}

	case err := <-waitErr:
		res := Result{Duration: time.Since(start)}
		logOutput(logger, stdout, stderr)
		if errors.Is(err, exec.ErrWaitDelay) {
			logger.Debug("scanner exited but left output pipes open")
			err = nil
		}
		if err != nil {
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				res.ExitCode = exitErr.ExitCode()
				logger.Warn("scanner exited with non-zero status", "exit_code", res.ExitCode, "duration", res.Duration)
				return res, &Error{ExitCode: res.ExitCode, Stderr: stderr.String()}
			}
			res.ExitCode = -1
			return res, &Error{ExitCode: -1, Stderr: stderr.String(), Err: fmt.Errorf("wait for scanner: %w", err)}
		}
		logger.Info("scanner finished", "duration", res.Duration)
		return res, nil
	}
}

func (e *ExecInvoker) terminate(cmd *exec.Cmd, waitErr <-chan error, logger *slog.Logger) {
	logger.Warn("stopping scanner, sending SIGTERM")
	if err := signalGroup(cmd, syscall.SIGTERM); err != nil {
		logger.Error("failed to send SIGTERM", "error", err)
	}

	timer := time.NewTimer(e.grace())
	defer timer.Stop()

	select {
	case <-waitErr:
		logger.Info("scanner exited after SIGTERM")
	case <-timer.C:
		logger.Warn("scanner did not exit after SIGTERM, sending SIGKILL")
		if err := signalGroup(cmd, syscall.SIGKILL); err != nil {
			logger.Error("failed to send SIGKILL", "error", err)
		}
		<-waitErr
	}
}

func (e *ExecInvoker) grace() time.Duration {
	if e.Grace > 0 {
		return e.Grace
	}
	return terminationGracePeriod
}

func (e *ExecInvoker) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

func logOutput(logger *slog.Logger, stdout, stderr *cappedBuffer) {
	if s := stdout.String(); s != "" {
		logger.Debug("scanner stdout", "output", s)
	}
	if s := stderr.String(); s != "" {
		logger.Debug("scanner stderr", "output", s)
	}
}
