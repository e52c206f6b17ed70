package watch

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/lipgloss"
)

// HealthState tracks gateway readiness from /readyz polling.
type HealthState struct {
	Status        string
	Engine        string
	Error         string
	UptimeSeconds int64
	Connected     bool
	LastCheck     time.Time
	LastEvent     time.Time
}

// activeWindow is how long after an event the activity spinner keeps turning.
const activeWindow = 10 * time.Second

func renderHeader(health HealthState, spin spinner.Model, theme Theme, width int, now time.Time) string {
	innerWidth := width - 4

	statusText := theme.StatusOK.Render("READY")
	statusIcon := "✅"
	switch {
	case !health.Connected:
		statusText = theme.StatusFailed.Render("CONNECTING")
		statusIcon = "🔌"
	case health.Status != "ok" && health.Status != "":
		statusText = theme.StatusFailed.Render("ENGINE UNAVAILABLE")
		statusIcon = "⚠️"
	}

	engine := health.Engine
	if engine == "" {
		engine = "?"
	}

	lastEventStr := "never"
	activity := theme.TickerInactive.Render("idle")
	if !health.LastEvent.IsZero() {
		ago := now.Sub(health.LastEvent).Round(time.Second)
		lastEventStr = fmt.Sprintf("%s ago", ago)
		if ago < activeWindow {
			activity = spin.View()
		}
	}

	clock := theme.Dim.Render(now.Format("15:04:05"))
	titleText := " SONARGATE WATCH"
	pad := innerWidth - lipgloss.Width(titleText) - lipgloss.Width(clock) - 4
	if pad < 1 {
		pad = 1
	}
	titleLine := titleText + strings.Repeat(" ", pad) + clock + " "

	statsLine := fmt.Sprintf(" %s %s  ⏱ %s  SonarQube: %s",
		statusIcon, statusText,
		formatDuration(time.Duration(health.UptimeSeconds)*time.Second),
		engineStyle(engine, theme).Render(engine),
	)

	activityLine := fmt.Sprintf(" Last event: %s %s", lastEventStr, activity)

	lines := []string{titleLine, statsLine, activityLine}
	if health.Error != "" {
		lines = append(lines, theme.Dim.Render(" "+health.Error))
	}
	content := lipgloss.JoinVertical(lipgloss.Left, lines...)

	return theme.Border.Width(innerWidth).Render(content)
}

func engineStyle(health string, theme Theme) lipgloss.Style {
	switch health {
	case "GREEN":
		return theme.StatusOK
	case "YELLOW":
		return theme.StatusRunning
	case "RED":
		return theme.StatusFailed
	default:
		return theme.Dim
	}
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
}
