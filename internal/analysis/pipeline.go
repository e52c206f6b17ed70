// Package analysis runs one uploaded archive through the scan pipeline:
// workspace, extraction, job token, scanner, completion poll and issue
// fetch. Stages run strictly in that order and the first failure aborts the
// run. The workspace is released on every path.
package analysis

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/zeebo/blake3"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/mattjoyce/sonargate/internal/events"
	"github.com/mattjoyce/sonargate/internal/jobid"
	"github.com/mattjoyce/sonargate/internal/jobs"
	"github.com/mattjoyce/sonargate/internal/metrics"
	"github.com/mattjoyce/sonargate/internal/scanner"
	"github.com/mattjoyce/sonargate/internal/sonar"
	"github.com/mattjoyce/sonargate/internal/telemetry"
)

// Stage names used in spans, metrics and error classification.
const (
	stageWorkspace = "workspace"
	stageUpload    = "upload"
	stageExtract   = jobs.StageExtract
	stageRecord    = "record"
	stageScan      = jobs.StageScan
	stagePoll      = jobs.StagePoll
	stageFetch     = jobs.StageFetch
)

// uploadFileName is the archive's name inside the workspace.
const uploadFileName = "upload.zip"

// Engine holds the SonarQube location and credential handed to the scanner.
type Engine struct {
	URL   string
	Token string
}

// Upload is the archive received from a caller.
type Upload struct {
	Filename string
	Body     io.Reader
}

// Result is a successful analysis.
type Result struct {
	JobID         string
	Issues        []sonar.Issue
	TotalCount    int
	ArchiveSize   int64
	ArchiveDigest string
}

// Pipeline wires the stages together. Jobs, Events and Metrics are
// optional.
type Pipeline struct {
	Workspaces Workspaces
	Extractor  Extractor
	Scanner    Scanner
	Waiter     Waiter
	Issues     IssueSearcher
	Jobs       JobRecorder
	Events     Publisher
	Metrics    *metrics.Metrics
	Engine     Engine
	PageSize   int
	Logger     *slog.Logger

	// NewToken mints job tokens. Defaults to jobid.New.
	NewToken func() string
	// NewWorkspaceID names workspaces. Defaults to a random UUID.
	NewWorkspaceID func() string
}

// run is the per-request state threaded through the stages.
type run struct {
	jobID        string
	start        time.Time
	logger       *slog.Logger
	span         trace.Span
	pollAttempts int
}

// Run executes the pipeline for one upload.
func (p *Pipeline) Run(ctx context.Context, up Upload) (*Result, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "analysis.run")
	defer span.End()

	r := &run{start: time.Now(), logger: p.logger(), span: span}
	if p.Metrics != nil {
		p.Metrics.AnalysesActive.Inc()
		defer p.Metrics.AnalysesActive.Dec()
	}

	wsID := p.newWorkspaceID()
	ws, err := p.Workspaces.Create(ctx, wsID)
	if err != nil {
		return nil, p.fail(ctx, r, stageWorkspace, NewError(KindInternal, fmt.Errorf("create workspace: %w", err)))
	}
	defer func() {
		// Cleanup must survive a cancelled request.
		if err := p.Workspaces.Remove(context.WithoutCancel(ctx), ws.ID); err != nil {
			r.logger.Error("failed to remove workspace", "workspace", ws.Dir, "error", err)
		}
	}()

	var (
		size   int64
		digest string
	)
	if err := p.stage(ctx, r, stageUpload, func(ctx context.Context) (err error) {
		size, digest, err = saveUpload(filepath.Join(ws.Dir, uploadFileName), up.Body)
		return err
	}); err != nil {
		return nil, p.fail(ctx, r, stageUpload, err)
	}
	if p.Metrics != nil {
		p.Metrics.ArchiveBytes.Observe(float64(size))
	}

	var projectDir string
	if err := p.stage(ctx, r, stageExtract, func(ctx context.Context) (err error) {
		projectDir, err = p.Extractor.ExtractFile(ctx, filepath.Join(ws.Dir, uploadFileName), ws.Dir)
		return err
	}); err != nil {
		return nil, p.fail(ctx, r, stageExtract, err)
	}

	r.jobID = p.newToken()
	r.logger = r.logger.With("job_id", r.jobID)
	span.SetAttributes(
		attribute.String("sonargate.job_id", r.jobID),
		attribute.Int64("sonargate.archive_bytes", size),
	)
	if p.Jobs != nil {
		if err := p.Jobs.Create(ctx, jobs.Job{
			ID:            r.jobID,
			Stage:         stageScan,
			ArchiveName:   up.Filename,
			ArchiveSize:   size,
			ArchiveDigest: digest,
		}); err != nil {
			jobID := r.jobID
			r.jobID = "" // nothing to complete
			return nil, p.fail(ctx, r, stageRecord, NewError(KindInternal, fmt.Errorf("record job %s: %w", jobID, err)))
		}
	}
	p.publish(events.TypeAnalysisStarted, events.AnalysisPayload{JobID: r.jobID, Stage: stageScan})
	r.logger.Info("analysis started", "archive", up.Filename, "archive_bytes", size, "archive_blake3", digest)

	if err := p.stage(ctx, r, stageScan, func(ctx context.Context) error {
		_, err := p.Scanner.Scan(ctx, scanner.Request{
			ProjectDir: projectDir,
			ProjectKey: r.jobID,
			HostURL:    p.Engine.URL,
			Token:      p.Engine.Token,
		})
		return err
	}); err != nil {
		return nil, p.fail(ctx, r, stageScan, err)
	}

	if err := p.stage(ctx, r, stagePoll, func(ctx context.Context) error {
		out, err := p.Waiter.Wait(ctx, r.jobID)
		r.pollAttempts = out.Attempts
		return err
	}); err != nil {
		return nil, p.fail(ctx, r, stagePoll, err)
	}
	if p.Metrics != nil {
		p.Metrics.PollAttempts.Observe(float64(r.pollAttempts))
	}

	var issues []sonar.Issue
	if err := p.stage(ctx, r, stageFetch, func(ctx context.Context) (err error) {
		issues, err = p.Issues.SearchIssues(ctx, r.jobID, p.PageSize)
		return err
	}); err != nil {
		return nil, p.fail(ctx, r, stageFetch, err)
	}
	if issues == nil {
		issues = []sonar.Issue{}
	}

	res := &Result{
		JobID:         r.jobID,
		Issues:        issues,
		TotalCount:    len(issues),
		ArchiveSize:   size,
		ArchiveDigest: digest,
	}
	p.succeed(ctx, r, res)
	return res, nil
}

// stage runs fn inside a child span, records its duration and, once a job
// token exists, the stage reached.
func (p *Pipeline) stage(ctx context.Context, r *run, name string, fn func(context.Context) error) error {
	ctx, span := telemetry.Tracer().Start(ctx, "analysis."+name)
	defer span.End()

	if r.jobID != "" {
		if p.Jobs != nil {
			if err := p.Jobs.SetStage(context.WithoutCancel(ctx), r.jobID, name); err != nil {
				r.logger.Warn("failed to record job stage", "stage", name, "error", err)
			}
		}
		p.publish(events.TypeAnalysisStage, events.AnalysisPayload{JobID: r.jobID, Stage: name})
	}

	start := time.Now()
	err := fn(ctx)
	d := time.Since(start)
	p.Metrics.ObserveStage(name, d)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, name+" failed")
		return err
	}
	r.logger.Debug("stage finished", "stage", name, "duration", d)
	return nil
}

func (p *Pipeline) fail(ctx context.Context, r *run, stage string, err error) error {
	var classified *Error
	if errors.Is(ctx.Err(), context.Canceled) && !errors.As(err, &classified) {
		classified = NewError(KindInternal, fmt.Errorf("request cancelled during %s: %w", stage, err))
	} else {
		classified = classify(stage, err)
	}
	classified.JobID = r.jobID

	r.span.RecordError(classified)
	r.span.SetStatus(codes.Error, classified.Kind.String())

	attrs := []any{"stage", stage, "kind", classified.Kind.String(), "error", err}
	var scanErr *scanner.Error
	if errors.As(err, &scanErr) {
		attrs = append(attrs, "exit_code", scanErr.ExitCode, "stderr", scanErr.Stderr)
	}
	r.logger.Error("analysis failed", attrs...)

	if p.Metrics != nil {
		p.Metrics.AnalysesTotal.WithLabelValues(classified.Kind.String()).Inc()
	}

	if r.jobID != "" {
		if p.Jobs != nil {
			if cerr := p.Jobs.Complete(context.WithoutCancel(ctx), r.jobID, jobs.Completion{
				Status:       jobs.StatusFailed,
				Stage:        stage,
				PollAttempts: r.pollAttempts,
				ErrorKind:    classified.Kind.String(),
				ErrorMessage: classified.Error(),
			}); cerr != nil {
				r.logger.Warn("failed to record job failure", "error", cerr)
			}
		}
		p.publish(events.TypeAnalysisFailed, events.AnalysisPayload{
			JobID:      r.jobID,
			Stage:      stage,
			ErrorKind:  classified.Kind.String(),
			Error:      classified.Error(),
			DurationMS: time.Since(r.start).Milliseconds(),
		})
	}
	return classified
}

func (p *Pipeline) succeed(ctx context.Context, r *run, res *Result) {
	d := time.Since(r.start)
	r.logger.Info("analysis succeeded", "issues", res.TotalCount, "poll_attempts", r.pollAttempts, "duration", d)
	r.span.SetAttributes(attribute.Int("sonargate.issue_count", res.TotalCount))

	if p.Metrics != nil {
		p.Metrics.AnalysesTotal.WithLabelValues("success").Inc()
		p.Metrics.IssuesReported.Add(float64(res.TotalCount))
	}
	if p.Jobs != nil {
		if err := p.Jobs.Complete(context.WithoutCancel(ctx), r.jobID, jobs.Completion{
			Status:       jobs.StatusSucceeded,
			Stage:        jobs.StageDone,
			IssueCount:   res.TotalCount,
			PollAttempts: r.pollAttempts,
		}); err != nil {
			r.logger.Warn("failed to record job success", "error", err)
		}
	}
	p.publish(events.TypeAnalysisSucceeded, events.AnalysisPayload{
		JobID:      r.jobID,
		Stage:      jobs.StageDone,
		IssueCount: res.TotalCount,
		DurationMS: d.Milliseconds(),
	})
}

func (p *Pipeline) publish(eventType string, payload events.AnalysisPayload) {
	if p.Events != nil {
		p.Events.Publish(eventType, payload)
	}
}

func (p *Pipeline) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}

func (p *Pipeline) newToken() string {
	if p.NewToken != nil {
		return p.NewToken()
	}
	return jobid.New()
}

func (p *Pipeline) newWorkspaceID() string {
	if p.NewWorkspaceID != nil {
		return p.NewWorkspaceID()
	}
	return "ws_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// saveUpload streams body to path and returns its size and BLAKE3 digest.
func saveUpload(path string, body io.Reader) (int64, string, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return 0, "", NewError(KindInternal, fmt.Errorf("create upload file: %w", err))
	}

	h := blake3.New()
	n, err := io.Copy(io.MultiWriter(f, h), body)
	if cerr := f.Close(); err == nil && cerr != nil {
		return n, "", NewError(KindInternal, fmt.Errorf("close upload file: %w", cerr))
	}
	if err != nil {
		return n, "", fmt.Errorf("read upload: %w", err)
	}
	return n, hex.EncodeToString(h.Sum(nil)), nil
}
