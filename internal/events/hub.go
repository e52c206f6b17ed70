// Package events fans analysis lifecycle events out to SSE subscribers.
package events

import (
	"encoding/json"
	"sort"
	"sync"
	"time"
)

// Analysis lifecycle event types.
const (
	TypeAnalysisStarted   = "analysis.started"
	TypeAnalysisStage     = "analysis.stage"
	TypeAnalysisSucceeded = "analysis.succeeded"
	TypeAnalysisFailed    = "analysis.failed"

	// TypeEngineNotified marks a verified SonarQube completion webhook for
	// a running analysis.
	TypeEngineNotified = "engine.notified"
)

// Event is one published message. Data holds the JSON payload.
type Event struct {
	ID   int64     `json:"id"`
	Type string    `json:"type"`
	At   time.Time `json:"at"`
	Data []byte    `json:"data"`
}

// AnalysisPayload is the data carried by analysis.* events.
type AnalysisPayload struct {
	JobID      string `json:"job_id"`
	Stage      string `json:"stage,omitempty"`
	Status     string `json:"status,omitempty"`
	IssueCount int    `json:"issue_count,omitempty"`
	ErrorKind  string `json:"error_kind,omitempty"`
	Error      string `json:"error,omitempty"`
	DurationMS int64  `json:"duration_ms,omitempty"`
}

// subscriberBuffer is how far a stream may fall behind before it is cut
// off. The client then reconnects with Last-Event-ID and catches up from
// the replay window.
const subscriberBuffer = 128

type subscriber struct {
	ch chan Event
}

// Hub keeps a bounded replay window of recent analysis events and pushes
// new ones to attached streams. Publishing never blocks on a stream.
type Hub struct {
	mu     sync.Mutex
	lastID int64
	// window holds the most recent events in ID order, at most limit long.
	window []Event
	limit  int
	subs   map[*subscriber]struct{}
}

// NewHub returns a Hub that replays up to capacity recent events.
func NewHub(capacity int) *Hub {
	if capacity <= 0 {
		capacity = 100
	}
	return &Hub{
		window: make([]Event, 0, capacity),
		limit:  capacity,
		subs:   make(map[*subscriber]struct{}),
	}
}

// Publish stamps data as the next event and hands it to every attached
// stream. A stream whose buffer is full is detached and its channel closed.
func (h *Hub) Publish(eventType string, data any) {
	payload := []byte("{}")
	if data != nil {
		if b, err := json.Marshal(data); err == nil {
			payload = b
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.lastID++
	ev := Event{ID: h.lastID, Type: eventType, At: time.Now().UTC(), Data: payload}

	if len(h.window) == h.limit {
		copy(h.window, h.window[1:])
		h.window = h.window[:h.limit-1]
	}
	h.window = append(h.window, ev)

	for s := range h.subs {
		select {
		case s.ch <- ev:
		default:
			delete(h.subs, s)
			close(s.ch)
		}
	}
}

// Subscribe attaches a stream. backlog holds the buffered events after
// lastID (all of them when lastID is 0); ch carries everything published
// afterwards, with no gap or overlap between the two. cancel detaches the
// stream and is safe to call more than once.
func (h *Hub) Subscribe(lastID int64) (backlog []Event, ch <-chan Event, cancel func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	s := &subscriber{ch: make(chan Event, subscriberBuffer)}
	h.subs[s] = struct{}{}

	cancel = func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if _, ok := h.subs[s]; ok {
			delete(h.subs, s)
			close(s.ch)
		}
	}
	return h.sinceLocked(lastID), s.ch, cancel
}

// Subscribers reports how many streams are attached.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// SnapshotSince returns buffered events with ID > lastID, oldest first.
// lastID 0 returns the whole replay window.
func (h *Hub) SnapshotSince(lastID int64) []Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sinceLocked(lastID)
}

func (h *Hub) sinceLocked(lastID int64) []Event {
	// IDs in the window are strictly increasing.
	i := sort.Search(len(h.window), func(i int) bool { return h.window[i].ID > lastID })
	out := make([]Event, len(h.window)-i)
	copy(out, h.window[i:])
	return out
}
