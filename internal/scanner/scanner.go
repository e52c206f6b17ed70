// Package scanner launches sonar-scanner against an extracted project.
//
// Two invokers share one contract: ExecInvoker runs a local binary and
// DockerInvoker runs the scanner image with the project bind-mounted. Pool
// bounds how many scans run at once and moves them off the caller's
// goroutine.
package scanner

import (
	"context"
	"fmt"
	"strings"
	"time"
)

const (
	// maxStderrBytes caps the amount of stderr kept from a scan.
	maxStderrBytes = 64 * 1024
	// maxStdoutBytes caps the amount of stdout kept for logging.
	maxStdoutBytes = 256 * 1024
	// terminationGracePeriod is the time we wait after SIGTERM before sending SIGKILL.
	terminationGracePeriod = 5 * time.Second
)

// Request describes one scan.
type Request struct {
	// ProjectDir is the extracted source tree; the scanner runs inside it.
	ProjectDir string
	// ProjectKey is the job token, used as the SonarQube project key.
	ProjectKey string
	HostURL    string
	// Token authenticates the scanner against the server.
	Token string
}

// Result describes a completed scan.
type Result struct {
	ExitCode int
	Duration time.Duration
}

// Invoker runs a scan to completion.
type Invoker interface {
	Scan(ctx context.Context, req Request) (Result, error)
}

// Error reports a scanner that could not be launched, exited non-zero or
// ran past its deadline. Stderr is kept for logs and never returned to
// API callers.
type Error struct {
	ExitCode int
	Stderr   string
	Err      error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("sonar-scanner exited with status %d", e.ExitCode)
}

func (e *Error) Unwrap() error { return e.Err }

// Args builds the scanner command line for req. Extra arguments follow the
// required properties.
func Args(req Request, extra []string) []string {
	args := []string{
		"-Dsonar.projectKey=" + req.ProjectKey,
		"-Dsonar.host.url=" + req.HostURL,
		"-Dsonar.login=" + req.Token,
		"-Dsonar.sources=.",
	}
	return append(args, extra...)
}

// redactArgs hides credentials before a command line is logged.
func redactArgs(args []string) []string {
	out := make([]string, len(args))
	for i, a := range args {
		if strings.HasPrefix(a, "-Dsonar.login=") || strings.HasPrefix(a, "-Dsonar.token=") {
			k, _, _ := strings.Cut(a, "=")
			a = k + "=***"
		}
		out[i] = a
	}
	return out
}

// cappedBuffer keeps the first limit bytes written and silently drops the
// rest so a chatty scanner cannot grow memory without bound.
type cappedBuffer struct {
	buf   []byte
	limit int
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	if room := b.limit - len(b.buf); room > 0 {
		if len(p) > room {
			b.buf = append(b.buf, p[:room]...)
		} else {
			b.buf = append(b.buf, p...)
		}
	}
	return len(p), nil
}

func (b *cappedBuffer) String() string { return string(b.buf) }
