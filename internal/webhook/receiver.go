// Package webhook receives SonarQube's "analysis finished" notifications.
// A verified delivery wakes the poller waiting on that project key so the
// next status query happens immediately. Polling remains the source of
// truth: a lost or rejected delivery only costs latency.
package webhook

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/mattjoyce/sonargate/internal/events"
	"github.com/mattjoyce/sonargate/internal/jobid"
	"github.com/mattjoyce/sonargate/internal/jobs"
)

// SignatureHeader carries SonarQube's HMAC-SHA256 of the request body.
const SignatureHeader = "X-Sonar-Webhook-HMAC-SHA256"

// DefaultMaxBodySize bounds a delivery. SonarQube payloads are a few KB.
const DefaultMaxBodySize int64 = 1 << 20

// Payload is the subset of SonarQube's webhook body we read.
type Payload struct {
	TaskID     string `json:"taskId"`
	Status     string `json:"status"`
	AnalysedAt string `json:"analysedAt,omitempty"`
	Project    struct {
		Key  string `json:"key"`
		Name string `json:"name,omitempty"`
	} `json:"project"`
}

// Response acknowledges a delivery.
type Response struct {
	ProjectKey string `json:"project_key"`
	Waiting    bool   `json:"waiting"`
}

// Notifier wakes whoever is waiting on a project key.
type Notifier interface {
	Notify(token string) bool
}

// Receiver is the http.Handler for webhook deliveries.
type Receiver struct {
	Secret      string
	Notifier    Notifier
	Events      *events.Hub
	MaxBodySize int64
	Logger      *slog.Logger
}

func (rc *Receiver) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	logger := rc.logger()

	limit := rc.MaxBodySize
	if limit <= 0 {
		limit = DefaultMaxBodySize
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		respondError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	if int64(len(body)) > limit {
		respondError(w, http.StatusRequestEntityTooLarge, "payload too large")
		return
	}

	if err := verifyHMACSignature(body, r.Header.Get(SignatureHeader), rc.Secret); err != nil {
		logger.Warn("webhook signature verification failed", "remote_addr", r.RemoteAddr)
		respondError(w, http.StatusForbidden, "forbidden")
		return
	}

	var p Payload
	if err := json.Unmarshal(body, &p); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	if p.Project.Key == "" {
		respondError(w, http.StatusBadRequest, "project.key is required")
		return
	}

	// Projects not minted here (other pipelines sharing the server) are
	// acknowledged and ignored.
	waiting := false
	if jobid.Valid(p.Project.Key) && rc.Notifier != nil {
		waiting = rc.Notifier.Notify(p.Project.Key)
	}
	logger.Info("webhook received", "job_id", p.Project.Key, "task_id", p.TaskID, "status", p.Status, "waiting", waiting)

	if rc.Events != nil && waiting {
		rc.Events.Publish(events.TypeEngineNotified, events.AnalysisPayload{
			JobID:  p.Project.Key,
			Stage:  jobs.StagePoll,
			Status: p.Status,
		})
	}

	respondJSON(w, http.StatusOK, Response{ProjectKey: p.Project.Key, Waiting: waiting})
}

func (rc *Receiver) logger() *slog.Logger {
	if rc.Logger != nil {
		return rc.Logger
	}
	return slog.Default()
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
