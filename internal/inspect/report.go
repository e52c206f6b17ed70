// Package inspect renders analysis job history for the CLI.
package inspect

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/mattjoyce/sonargate/internal/jobs"
)

// JobReader is the slice of the job store the reports need.
type JobReader interface {
	Get(ctx context.Context, id string) (*jobs.Job, error)
	List(ctx context.Context, limit int) ([]*jobs.Job, error)
}

// Report is the structured JSON representation of one job.
type Report struct {
	*jobs.Job
	DurationMS   int64  `json:"duration_ms,omitempty"`
	DashboardURL string `json:"dashboard_url,omitempty"`
}

// BuildReport renders a terminal-friendly report for a job.
func BuildReport(ctx context.Context, store JobReader, engineURL, jobID string) (string, error) {
	report, err := gatherReportData(ctx, store, engineURL, jobID)
	if err != nil {
		return "", err
	}
	j := report.Job

	var out strings.Builder
	fmt.Fprintf(&out, "Analysis Job\n")
	fmt.Fprintf(&out, "Job ID      : %s\n", j.ID)
	fmt.Fprintf(&out, "Status      : %s\n", j.Status)
	fmt.Fprintf(&out, "Stage       : %s\n", j.Stage)
	fmt.Fprintf(&out, "Created     : %s\n", j.CreatedAt.Format(time.RFC3339))
	if j.CompletedAt != nil {
		fmt.Fprintf(&out, "Completed   : %s (%s)\n", j.CompletedAt.Format(time.RFC3339), time.Duration(report.DurationMS)*time.Millisecond)
	} else {
		fmt.Fprintf(&out, "Completed   : <running>\n")
	}
	fmt.Fprintf(&out, "\n")

	name := j.ArchiveName
	if name == "" {
		name = "<unnamed>"
	}
	fmt.Fprintf(&out, "Archive     : %s (%d bytes)\n", name, j.ArchiveSize)
	if j.ArchiveDigest != "" {
		fmt.Fprintf(&out, "BLAKE3      : %s\n", j.ArchiveDigest)
	}
	fmt.Fprintf(&out, "Poll tries  : %d\n", j.PollAttempts)
	fmt.Fprintf(&out, "Issues      : %d\n", j.IssueCount)
	if j.ErrorKind != "" {
		fmt.Fprintf(&out, "\n")
		fmt.Fprintf(&out, "Error kind  : %s\n", j.ErrorKind)
		fmt.Fprintf(&out, "Error       :\n")
		for _, line := range strings.Split(strings.TrimSpace(j.ErrorMessage), "\n") {
			fmt.Fprintf(&out, "  %s\n", line)
		}
	}
	if report.DashboardURL != "" {
		fmt.Fprintf(&out, "\n")
		fmt.Fprintf(&out, "Dashboard   : %s\n", report.DashboardURL)
	}

	return out.String(), nil
}

// BuildJSONReport returns the machine-readable report for a job.
func BuildJSONReport(ctx context.Context, store JobReader, engineURL, jobID string) (string, error) {
	report, err := gatherReportData(ctx, store, engineURL, jobID)
	if err != nil {
		return "", err
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal json report: %w", err)
	}
	return string(data), nil
}

// BuildList renders recent jobs as an aligned table.
func BuildList(ctx context.Context, store JobReader, limit int) (string, error) {
	list, err := store.List(ctx, limit)
	if err != nil {
		return "", fmt.Errorf("list jobs: %w", err)
	}
	if len(list) == 0 {
		return "No jobs recorded.\n", nil
	}

	var out strings.Builder
	tw := tabwriter.NewWriter(&out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "JOB ID\tSTATUS\tSTAGE\tISSUES\tCREATED\tERROR")
	for _, j := range list {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\n",
			j.ID, j.Status, j.Stage, j.IssueCount,
			j.CreatedAt.Local().Format("2006-01-02 15:04:05"), j.ErrorKind)
	}
	if err := tw.Flush(); err != nil {
		return "", err
	}
	return out.String(), nil
}

func gatherReportData(ctx context.Context, store JobReader, engineURL, jobID string) (*Report, error) {
	j, err := store.Get(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("load job %s: %w", jobID, err)
	}

	report := &Report{Job: j}
	if j.CompletedAt != nil {
		report.DurationMS = j.CompletedAt.Sub(j.CreatedAt).Milliseconds()
	}
	// Only jobs that got as far as a scan have a SonarQube project.
	if engineURL != "" && j.Stage != jobs.StageExtract {
		report.DashboardURL = strings.TrimRight(engineURL, "/") + "/dashboard?id=" + url.QueryEscape(j.ID)
	}
	return report, nil
}
