package watch

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/sonargate/internal/events"
	"github.com/mattjoyce/sonargate/internal/jobs"
)

// maxTracked bounds how many analyses the watch keeps in memory.
const maxTracked = 200

// AnalysisState tracks one analysis job seen in history or on the stream.
type AnalysisState struct {
	ID         string
	Status     string
	Stage      string
	IssueCount int
	ErrorKind  string
	StartTime  time.Time
	EndTime    time.Time
}

// Duration is the elapsed time, running analyses counting up to now.
func (a *AnalysisState) Duration(now time.Time) time.Duration {
	if a.StartTime.IsZero() {
		return 0
	}
	if a.EndTime.IsZero() {
		return now.Sub(a.StartTime)
	}
	return a.EndTime.Sub(a.StartTime)
}

// seedFromHistory merges /jobs rows without overwriting fresher stream state.
func seedFromHistory(analyses map[string]*AnalysisState, list []*jobs.Job) {
	for _, j := range list {
		if _, ok := analyses[j.ID]; ok {
			continue
		}
		a := &AnalysisState{
			ID:         j.ID,
			Status:     string(j.Status),
			Stage:      j.Stage,
			IssueCount: j.IssueCount,
			ErrorKind:  j.ErrorKind,
			StartTime:  j.CreatedAt,
		}
		if j.CompletedAt != nil {
			a.EndTime = *j.CompletedAt
		}
		analyses[j.ID] = a
	}
	trim(analyses)
}

// updateAnalysisState applies one analysis.* event.
func updateAnalysisState(analyses map[string]*AnalysisState, e events.Event) {
	var p events.AnalysisPayload
	if err := json.Unmarshal(e.Data, &p); err != nil || p.JobID == "" {
		return
	}

	a, ok := analyses[p.JobID]
	if !ok {
		a = &AnalysisState{ID: p.JobID, StartTime: e.At, Status: string(jobs.StatusRunning)}
		analyses[p.JobID] = a
	}
	if p.Stage != "" {
		a.Stage = p.Stage
	}

	switch e.Type {
	case events.TypeAnalysisStarted:
		a.Status = string(jobs.StatusRunning)
		a.StartTime = e.At
	case events.TypeAnalysisSucceeded:
		a.Status = string(jobs.StatusSucceeded)
		a.IssueCount = p.IssueCount
		a.EndTime = e.At
	case events.TypeAnalysisFailed:
		a.Status = string(jobs.StatusFailed)
		a.ErrorKind = p.ErrorKind
		a.EndTime = e.At
	}
	trim(analyses)
}

// trim drops the oldest finished analyses beyond maxTracked.
func trim(analyses map[string]*AnalysisState) {
	if len(analyses) <= maxTracked {
		return
	}
	sorted := sortedAnalyses(analyses)
	for _, a := range sorted[maxTracked:] {
		if a.Status != string(jobs.StatusRunning) {
			delete(analyses, a.ID)
		}
	}
}

// sortedAnalyses returns running analyses first, then newest first.
func sortedAnalyses(analyses map[string]*AnalysisState) []*AnalysisState {
	out := make([]*AnalysisState, 0, len(analyses))
	for _, a := range analyses {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		ri := out[i].Status == string(jobs.StatusRunning)
		rj := out[j].Status == string(jobs.StatusRunning)
		if ri != rj {
			return ri
		}
		if !out[i].StartTime.Equal(out[j].StartTime) {
			return out[i].StartTime.After(out[j].StartTime)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func newAnalysisTable() table.Model {
	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "ST", Width: 2},
			{Title: "Job", Width: 36},
			{Title: "Stage", Width: 8},
			{Title: "Issues", Width: 6},
			{Title: "Duration", Width: 9},
			{Title: "Error", Width: 18},
		}),
		table.WithFocused(true),
		table.WithHeight(10),
	)

	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(false)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57")).
		Bold(false)
	t.SetStyles(s)
	return t
}

// analysisRows renders the table rows. Table cells are plain text; the
// status column uses a glyph instead of color.
func analysisRows(analyses map[string]*AnalysisState, now time.Time) []table.Row {
	sorted := sortedAnalyses(analyses)
	rows := make([]table.Row, 0, len(sorted))
	for _, a := range sorted {
		issues := "-"
		if a.Status == string(jobs.StatusSucceeded) {
			issues = fmt.Sprintf("%d", a.IssueCount)
		}
		rows = append(rows, table.Row{
			statusGlyph(a.Status),
			a.ID,
			a.Stage,
			issues,
			formatDuration(a.Duration(now)),
			a.ErrorKind,
		})
	}
	return rows
}

func statusGlyph(status string) string {
	switch status {
	case string(jobs.StatusSucceeded):
		return "✓"
	case string(jobs.StatusFailed):
		return "✗"
	default:
		return "…"
	}
}

func renderAnalyses(t table.Model, analyses map[string]*AnalysisState, theme Theme, width int) string {
	innerWidth := width - 4

	running := 0
	for _, a := range analyses {
		if a.Status == string(jobs.StatusRunning) {
			running++
		}
	}
	title := theme.Title.Render(fmt.Sprintf("ANALYSES (%d running, %d tracked)", running, len(analyses)))

	if len(analyses) == 0 {
		content := lipgloss.JoinVertical(lipgloss.Left,
			title,
			theme.Dim.Render("  No analyses yet..."),
		)
		return theme.Border.Width(innerWidth).Render(content)
	}

	content := lipgloss.JoinVertical(lipgloss.Left, title, t.View())
	return theme.Border.Width(innerWidth).Render(content)
}
