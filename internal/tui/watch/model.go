package watch

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/sonargate/internal/events"
)

// historyLimit is how many past jobs seed the table on start.
const historyLimit = 50

// Model is the main BubbleTea model for the watch console.
type Model struct {
	apiURL string
	apiKey string

	width  int
	height int

	health      HealthState
	analyses    map[string]*AnalysisState
	eventLog    []events.Event
	lastEventID int64

	table table.Model
	spin  spinner.Model
	theme Theme

	hubEvents chan events.Event

	lastError string
	now       func() time.Time
}

// New creates a new watch model.
func New(apiURL, apiKey string) *Model {
	theme := NewDefaultTheme()
	return &Model{
		apiURL:    apiURL,
		apiKey:    apiKey,
		analyses:  make(map[string]*AnalysisState),
		eventLog:  make([]events.Event, 0),
		hubEvents: make(chan events.Event, 100),
		table:     newAnalysisTable(),
		spin:      spinner.New(spinner.WithSpinner(spinner.Dot), spinner.WithStyle(theme.Spinner)),
		theme:     theme,
		now:       time.Now,
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		subscribeToEvents(m.apiURL, m.apiKey, 0, m.hubEvents),
		receiveNextEvent(m.hubEvents),
		func() tea.Msg { return fetchReady(m.apiURL, m.apiKey) },
		func() tea.Msg { return fetchJobs(m.apiURL, m.apiKey, historyLimit) },
		tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) }),
		m.spin.Tick,
		tea.EnterAltScreen,
	)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		}
		var cmd tea.Cmd
		m.table, cmd = m.table.Update(msg)
		return m, cmd

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		// Header and event stream take roughly 20 rows.
		if h := msg.Height - 22; h > 3 {
			m.table.SetHeight(h)
		}

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd

	case tickMsg:
		// Running rows show a live duration.
		m.table.SetRows(analysisRows(m.analyses, m.now()))
		return m, tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })

	case eventMsg:
		e := events.Event(msg)

		// Newest first.
		m.eventLog = append([]events.Event{e}, m.eventLog...)
		if len(m.eventLog) > 50 {
			m.eventLog = m.eventLog[:50]
		}
		if e.ID > m.lastEventID {
			m.lastEventID = e.ID
		}

		updateAnalysisState(m.analyses, e)
		m.table.SetRows(analysisRows(m.analyses, m.now()))

		m.health.LastEvent = m.now()
		m.health.Connected = true
		m.lastError = ""

		return m, receiveNextEvent(m.hubEvents)

	case jobsMsg:
		seedFromHistory(m.analyses, msg)
		m.table.SetRows(analysisRows(m.analyses, m.now()))

	case readyMsg:
		m.health.Status = msg.Status
		m.health.Engine = msg.Engine
		m.health.Error = msg.Error
		m.health.UptimeSeconds = msg.UptimeSeconds
		m.health.Connected = true
		m.health.LastCheck = m.now()
		m.lastError = ""

		return m, tea.Tick(5*time.Second, func(t time.Time) tea.Msg {
			return fetchReady(m.apiURL, m.apiKey)
		})

	case sseDisconnectedMsg:
		m.health.Connected = false
		m.lastError = "event stream disconnected, reconnecting..."
		// The pending receiveNextEvent keeps reading the same channel, so
		// the new subscription feeds it directly.
		return m, tea.Tick(3*time.Second, func(t time.Time) tea.Msg {
			return reconnectMsg{lastID: msg.lastID}
		})

	case reconnectMsg:
		lastID := msg.lastID
		if m.lastEventID > lastID {
			lastID = m.lastEventID
		}
		return m, subscribeToEvents(m.apiURL, m.apiKey, lastID, m.hubEvents)

	case errMsg:
		m.lastError = msg.Error()
		return m, tea.Tick(5*time.Second, func(t time.Time) tea.Msg {
			return fetchReady(m.apiURL, m.apiKey)
		})
	}

	return m, nil
}

func (m Model) View() string {
	if m.width == 0 {
		return "Connecting to sonargate..."
	}
	now := m.now()

	header := renderHeader(m.health, m.spin, m.theme, m.width, now)
	analyses := renderAnalyses(m.table, m.analyses, m.theme, m.width)
	eventStream := renderEventStream(m.eventLog, m.theme, m.width)

	var errBar string
	if m.lastError != "" {
		errBar = m.theme.StatusFailed.Render(fmt.Sprintf(" ⚠ %s", m.lastError))
	}

	help := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241")).
		Render(" [q] Quit • [↑/↓] Scroll analyses")

	parts := []string{header, analyses, eventStream}
	if errBar != "" {
		parts = append(parts, errBar)
	}
	parts = append(parts, help)

	return lipgloss.NewStyle().Margin(1, 2).Render(
		lipgloss.JoinVertical(lipgloss.Left, parts...),
	)
}
