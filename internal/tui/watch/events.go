package watch

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/sonargate/internal/events"
)

func renderEventStream(eventLog []events.Event, theme Theme, width int) string {
	innerWidth := width - 4

	if len(eventLog) == 0 {
		content := lipgloss.JoinVertical(lipgloss.Left,
			theme.Title.Render("EVENT STREAM"),
			theme.Dim.Render("  Waiting for events..."),
		)
		return theme.Border.Width(innerWidth).Render(content)
	}

	var lines []string
	for i, e := range eventLog {
		if i >= 10 {
			break
		}
		lines = append(lines, formatEvent(e, theme))
	}

	eventsText := lipgloss.NewStyle().Padding(0, 1).Render(strings.Join(lines, "\n"))
	content := lipgloss.JoinVertical(lipgloss.Left,
		theme.Title.Render("EVENT STREAM"),
		eventsText,
	)

	return theme.Border.Width(innerWidth).Render(content)
}

func formatEvent(e events.Event, theme Theme) string {
	ts := theme.Dim.Render(e.At.Format("15:04:05"))

	var typeStyle lipgloss.Style
	switch e.Type {
	case events.TypeAnalysisSucceeded:
		typeStyle = theme.StatusOK
	case events.TypeAnalysisFailed:
		typeStyle = theme.StatusFailed
	case events.TypeAnalysisStarted:
		typeStyle = theme.StatusRunning
	case events.TypeAnalysisStage:
		typeStyle = theme.Highlight
	default:
		typeStyle = theme.Dim
	}

	typeName := typeStyle.Render(fmt.Sprintf("%-20s", e.Type))
	return fmt.Sprintf("%s %s %s", ts, typeName, extractEventDesc(e))
}

// extractEventDesc summarizes an analysis payload on one line.
func extractEventDesc(e events.Event) string {
	var p events.AnalysisPayload
	if err := json.Unmarshal(e.Data, &p); err != nil || p.JobID == "" {
		raw := string(e.Data)
		if len(raw) > 60 {
			raw = raw[:60] + "..."
		}
		return raw
	}

	parts := []string{fmt.Sprintf("[%s]", shortID(p.JobID))}
	switch e.Type {
	case events.TypeAnalysisStage:
		parts = append(parts, "→ "+p.Stage)
	case events.TypeAnalysisSucceeded:
		parts = append(parts, fmt.Sprintf("%d issue(s)", p.IssueCount))
	case events.TypeAnalysisFailed:
		msg := p.Error
		if len(msg) > 60 {
			msg = msg[:60] + "..."
		}
		parts = append(parts, p.ErrorKind, msg)
	case events.TypeEngineNotified:
		parts = append(parts, "webhook "+p.Status)
	}
	if p.DurationMS > 0 {
		parts = append(parts, fmt.Sprintf("(%dms)", p.DurationMS))
	}
	return strings.Join(parts, " ")
}

// shortID trims the job_ prefix and keeps enough hex to tell jobs apart.
func shortID(id string) string {
	id = strings.TrimPrefix(id, "job_")
	if len(id) > 8 {
		id = id[:8]
	}
	return id
}
