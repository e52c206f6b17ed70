package watch

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/mattjoyce/sonargate/internal/events"
	"github.com/mattjoyce/sonargate/internal/jobs"
)

// --- Message types ---

type eventMsg events.Event

type readyMsg struct {
	Status        string `json:"status"`
	Engine        string `json:"engine"`
	Error         string `json:"error"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

type jobsMsg []*jobs.Job

type tickMsg time.Time

type errMsg error

type sseDisconnectedMsg struct{ lastID int64 }
type reconnectMsg struct{ lastID int64 }

// --- Commands ---

func newRequest(apiURL, apiKey, path string) (*http.Request, error) {
	req, err := http.NewRequest(http.MethodGet, strings.TrimRight(apiURL, "/")+path, nil)
	if err != nil {
		return nil, err
	}
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}
	return req, nil
}

// subscribeToEvents connects to the SSE /events endpoint and feeds events
// into ch. It resumes after lastID and returns sseDisconnectedMsg when the
// connection drops.
func subscribeToEvents(apiURL, apiKey string, lastID int64, ch chan<- events.Event) tea.Cmd {
	return func() tea.Msg {
		req, err := newRequest(apiURL, apiKey, "/events")
		if err != nil {
			return errMsg(err)
		}
		if lastID > 0 {
			req.Header.Set("Last-Event-ID", strconv.FormatInt(lastID, 10))
		}

		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return sseDisconnectedMsg{lastID: lastID}
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return errMsg(fmt.Errorf("/events returned HTTP %d", resp.StatusCode))
		}

		last := readSSE(resp.Body, func(e events.Event) { ch <- e })
		if last > lastID {
			lastID = last
		}
		return sseDisconnectedMsg{lastID: lastID}
	}
}

// readSSE parses an event stream until EOF and returns the last event ID
// seen. Comment lines (keep-alives) are skipped.
func readSSE(r io.Reader, emit func(events.Event)) int64 {
	scanner := bufio.NewScanner(r)
	var (
		last    int64
		current events.Event
		data    string
	)

	for scanner.Scan() {
		line := scanner.Text()

		switch {
		case line == "":
			if data != "" {
				current.At = time.Now()
				current.Data = []byte(data)
				emit(current)
				if current.ID > last {
					last = current.ID
				}
			}
			current, data = events.Event{}, ""
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "id: "):
			if id, err := strconv.ParseInt(line[4:], 10, 64); err == nil {
				current.ID = id
			}
		case strings.HasPrefix(line, "event: "):
			current.Type = line[7:]
		case strings.HasPrefix(line, "data: "):
			data = line[6:]
		}
	}
	return last
}

// receiveNextEvent waits for the next event from the channel.
func receiveNextEvent(ch <-chan events.Event) tea.Cmd {
	return func() tea.Msg {
		return eventMsg(<-ch)
	}
}

// fetchReady queries /readyz. A 503 still carries a decodable body.
func fetchReady(apiURL, apiKey string) tea.Msg {
	client := &http.Client{Timeout: 5 * time.Second}
	req, err := newRequest(apiURL, apiKey, "/readyz")
	if err != nil {
		return errMsg(err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return errMsg(err)
	}
	defer resp.Body.Close()

	var r readyMsg
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return errMsg(fmt.Errorf("decode /readyz: %w", err))
	}
	return r
}

// fetchJobs seeds the table with recent history.
func fetchJobs(apiURL, apiKey string, limit int) tea.Msg {
	client := &http.Client{Timeout: 5 * time.Second}
	req, err := newRequest(apiURL, apiKey, "/jobs?limit="+strconv.Itoa(limit))
	if err != nil {
		return errMsg(err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return errMsg(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return errMsg(fmt.Errorf("/jobs returned HTTP %d", resp.StatusCode))
	}

	var body struct {
		Jobs []*jobs.Job `json:"jobs"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return errMsg(fmt.Errorf("decode /jobs: %w", err))
	}
	return jobsMsg(body.Jobs)
}
