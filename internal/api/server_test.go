package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/sonargate/internal/analysis"
	"github.com/mattjoyce/sonargate/internal/events"
	"github.com/mattjoyce/sonargate/internal/jobid"
	"github.com/mattjoyce/sonargate/internal/jobs"
	"github.com/mattjoyce/sonargate/internal/sonar"
)

type fakeAnalyzer struct {
	calls    int
	filename string
	body     []byte
	result   *analysis.Result
	err      error
}

func (f *fakeAnalyzer) Run(_ context.Context, up analysis.Upload) (*analysis.Result, error) {
	f.calls++
	f.filename = up.Filename
	b, err := io.ReadAll(up.Body)
	if err != nil {
		return nil, analysis.NewError(analysis.KindArchive, err)
	}
	f.body = b
	return f.result, f.err
}

type fakeJobs struct {
	jobs      map[string]*jobs.Job
	lastLimit int
}

func (f *fakeJobs) Get(_ context.Context, id string) (*jobs.Job, error) {
	if j, ok := f.jobs[id]; ok {
		return j, nil
	}
	return nil, jobs.ErrNotFound
}

func (f *fakeJobs) List(_ context.Context, limit int) ([]*jobs.Job, error) {
	f.lastLimit = limit
	out := make([]*jobs.Job, 0, len(f.jobs))
	for _, j := range f.jobs {
		out = append(out, j)
	}
	return out, nil
}

type fakeEngine struct {
	health string
	err    error
}

func (f fakeEngine) Health(context.Context) (string, error) { return f.health, f.err }

func newTestServer(t *testing.T, cfg Config, deps Deps) http.Handler {
	t.Helper()
	if deps.Analyzer == nil {
		deps.Analyzer = &fakeAnalyzer{result: &analysis.Result{Issues: []sonar.Issue{}}}
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(cfg, deps, logger).Handler()
}

func multipartBody(t *testing.T, field, filename string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("note", "ignored"))
	fw, err := mw.CreateFormFile(field, filename)
	require.NoError(t, err)
	_, err = fw.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Error
}

func TestHealth(t *testing.T) {
	h := newTestServer(t, Config{APIKey: "secret"}, Deps{})

	for _, path := range []string{"/", "/health"} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rec.Code, path)
		assert.Equal(t, "ok", rec.Body.String(), path)
	}
}

func TestAnalyzeSuccess(t *testing.T) {
	line := 12
	fa := &fakeAnalyzer{result: &analysis.Result{
		JobID: "job_0123456789abcdef0123456789abcdef",
		Issues: []sonar.Issue{{
			Key: "AX1", Rule: "java:S2068", Severity: "BLOCKER",
			Component: "job_x:src/Main.java", Line: &line,
			Message: "Remove this hard-coded password.", Type: "VULNERABILITY",
		}},
		TotalCount: 1,
	}}
	h := newTestServer(t, Config{}, Deps{Analyzer: fa})

	body, ctype := multipartBody(t, "file", "src.zip", []byte("PK-zip-bytes"))
	req := httptest.NewRequest(http.MethodPost, "/analyze", body)
	req.Header.Set("Content-Type", ctype)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "job_0123456789abcdef0123456789abcdef", rec.Header().Get(jobIDHeader))
	assert.Equal(t, 1, fa.calls)
	assert.Equal(t, "src.zip", fa.filename)
	assert.Equal(t, []byte("PK-zip-bytes"), fa.body)

	var got map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.EqualValues(t, 1, got["total_count"])
	vulns, ok := got["vulnerabilities"].([]any)
	require.True(t, ok)
	require.Len(t, vulns, 1)
	issue := vulns[0].(map[string]any)
	assert.Equal(t, "java:S2068", issue["rule"])
	assert.EqualValues(t, 12, issue["line"])
}

func TestAnalyzeAcceptsZipField(t *testing.T) {
	fa := &fakeAnalyzer{result: &analysis.Result{Issues: []sonar.Issue{}}}
	h := newTestServer(t, Config{}, Deps{Analyzer: fa})

	body, ctype := multipartBody(t, "zip", "src.zip", []byte("data"))
	req := httptest.NewRequest(http.MethodPost, "/analyze", body)
	req.Header.Set("Content-Type", ctype)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"vulnerabilities":[],"total_count":0}`, rec.Body.String())
}

func TestAnalyzeMissingField(t *testing.T) {
	fa := &fakeAnalyzer{}
	h := newTestServer(t, Config{}, Deps{Analyzer: fa})

	body, ctype := multipartBody(t, "archive", "src.zip", []byte("data"))
	req := httptest.NewRequest(http.MethodPost, "/analyze", body)
	req.Header.Set("Content-Type", ctype)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Missing Field: file", decodeError(t, rec))
	assert.Zero(t, fa.calls)
}

func TestAnalyzeNotMultipart(t *testing.T) {
	fa := &fakeAnalyzer{}
	h := newTestServer(t, Config{}, Deps{Analyzer: fa})

	req := httptest.NewRequest(http.MethodPost, "/analyze", strings.NewReader(`{"file":"x"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Missing Field: file", decodeError(t, rec))
	assert.Zero(t, fa.calls)
}

func TestAnalyzeErrorEnvelope(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantMsg    string
	}{
		{
			name:       "archive",
			err:        analysis.NewError(analysis.KindArchive, errors.New("zip: not a valid zip file")),
			wantStatus: http.StatusBadRequest,
			wantMsg:    "Zip Error: zip: not a valid zip file",
		},
		{
			name:       "scanner",
			err:        analysis.NewError(analysis.KindScanner, errors.New("sonar-scanner exited with status 1")),
			wantStatus: http.StatusInternalServerError,
			wantMsg:    "Scanner Error: sonar-scanner exited with status 1",
		},
		{
			name:       "sonarqube api",
			err:        analysis.NewError(analysis.KindAPI, errors.New("analysis task FAILED")),
			wantStatus: http.StatusBadGateway,
			wantMsg:    "SonarQube API Error: analysis task FAILED",
		},
		{
			name:       "unclassified",
			err:        errors.New("boom"),
			wantStatus: http.StatusInternalServerError,
			wantMsg:    "Internal Error: boom",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestServer(t, Config{}, Deps{Analyzer: &fakeAnalyzer{err: tt.err}})

			body, ctype := multipartBody(t, "file", "src.zip", []byte("data"))
			req := httptest.NewRequest(http.MethodPost, "/analyze", body)
			req.Header.Set("Content-Type", ctype)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantMsg, decodeError(t, rec))
		})
	}
}

func TestAnalyzeFailureCarriesJobID(t *testing.T) {
	err := analysis.NewError(analysis.KindScanner, errors.New("exit 2"))
	err.JobID = "job_0123456789abcdef0123456789abcdef"
	h := newTestServer(t, Config{}, Deps{Analyzer: &fakeAnalyzer{err: err}})

	body, ctype := multipartBody(t, "file", "src.zip", []byte("data"))
	req := httptest.NewRequest(http.MethodPost, "/analyze", body)
	req.Header.Set("Content-Type", ctype)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, err.JobID, rec.Header().Get(jobIDHeader))
}

func TestAnalyzeUploadTooLarge(t *testing.T) {
	h := newTestServer(t, Config{MaxUploadBytes: 1024}, Deps{Analyzer: &fakeAnalyzer{}})

	body, ctype := multipartBody(t, "file", "src.zip", bytes.Repeat([]byte("a"), 64<<10))
	req := httptest.NewRequest(http.MethodPost, "/analyze", body)
	req.Header.Set("Content-Type", ctype)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.True(t, strings.HasPrefix(decodeError(t, rec), "Zip Error: "), rec.Body.String())
}

func TestAuthRequiredWhenConfigured(t *testing.T) {
	fa := &fakeAnalyzer{result: &analysis.Result{Issues: []sonar.Issue{}}}
	h := newTestServer(t, Config{APIKey: "secret"}, Deps{Analyzer: fa})

	send := func(auth string) *httptest.ResponseRecorder {
		body, ctype := multipartBody(t, "file", "src.zip", []byte("data"))
		req := httptest.NewRequest(http.MethodPost, "/analyze", body)
		req.Header.Set("Content-Type", ctype)
		if auth != "" {
			req.Header.Set("Authorization", auth)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusUnauthorized, send("").Code)
	assert.Equal(t, http.StatusUnauthorized, send("Bearer wrong").Code)
	assert.Zero(t, fa.calls)
	assert.Equal(t, http.StatusOK, send("Bearer secret").Code)
	assert.Equal(t, 1, fa.calls)
}

func TestAnalyzeRateLimited(t *testing.T) {
	h := newTestServer(t, Config{RateLimit: 1}, Deps{})

	send := func() int {
		body, ctype := multipartBody(t, "file", "src.zip", []byte("data"))
		req := httptest.NewRequest(http.MethodPost, "/analyze", body)
		req.Header.Set("Content-Type", ctype)
		req.RemoteAddr = "10.1.2.3:5555"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, send())
	assert.Equal(t, http.StatusTooManyRequests, send())
}

func TestReadyz(t *testing.T) {
	tests := []struct {
		name       string
		engine     HealthChecker
		wantStatus int
	}{
		{name: "no engine", wantStatus: http.StatusOK},
		{name: "green", engine: fakeEngine{health: sonar.HealthGreen}, wantStatus: http.StatusOK},
		{name: "yellow", engine: fakeEngine{health: sonar.HealthYellow}, wantStatus: http.StatusOK},
		{name: "red", engine: fakeEngine{health: sonar.HealthRed}, wantStatus: http.StatusServiceUnavailable},
		{name: "unreachable", engine: fakeEngine{err: errors.New("dial tcp: refused")}, wantStatus: http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestServer(t, Config{}, Deps{Engine: tt.engine})
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
			assert.Equal(t, tt.wantStatus, rec.Code)

			var resp ReadyResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			if tt.wantStatus == http.StatusOK {
				assert.Equal(t, "ok", resp.Status)
			} else {
				assert.Equal(t, "unavailable", resp.Status)
			}
		})
	}
}

func TestJobsEndpoints(t *testing.T) {
	id := jobid.New()
	store := &fakeJobs{jobs: map[string]*jobs.Job{
		id: {ID: id, Status: jobs.StatusSucceeded, Stage: jobs.StageDone, IssueCount: 3},
	}}
	h := newTestServer(t, Config{}, Deps{Jobs: store})

	get := func(path string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		return rec
	}

	rec := get("/jobs")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, jobs.DefaultListLimit, store.lastLimit)
	var list JobListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Jobs, 1)
	assert.Equal(t, id, list.Jobs[0].ID)

	rec = get("/jobs?limit=5")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 5, store.lastLimit)

	assert.Equal(t, http.StatusBadRequest, get("/jobs?limit=-1").Code)
	assert.Equal(t, http.StatusBadRequest, get("/jobs?limit=abc").Code)

	rec = get("/jobs/" + id)
	require.Equal(t, http.StatusOK, rec.Code)
	var job jobs.Job
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))
	assert.Equal(t, 3, job.IssueCount)

	assert.Equal(t, http.StatusNotFound, get("/jobs/"+jobid.New()).Code)
	assert.Equal(t, http.StatusBadRequest, get("/jobs/not-a-job").Code)
}

func TestJobsDisabled(t *testing.T) {
	h := newTestServer(t, Config{}, Deps{})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jobs", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestEventsReplaysBufferedEvents(t *testing.T) {
	hub := events.NewHub(10)
	hub.Publish(events.TypeAnalysisStarted, events.AnalysisPayload{JobID: "job_a"})
	hub.Publish(events.TypeAnalysisSucceeded, events.AnalysisPayload{JobID: "job_a", IssueCount: 2})

	h := newTestServer(t, Config{}, Deps{Events: hub})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/events", nil).WithContext(ctx)
	req.Header.Set("Last-Event-ID", "1")
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		h.ServeHTTP(rec, req)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("event stream did not end with the request context")
	}

	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	out := rec.Body.String()
	assert.NotContains(t, out, "event: analysis.started")
	assert.Contains(t, out, "id: 2\nevent: analysis.succeeded\n")
	assert.Contains(t, out, `"issue_count":2`)
}

func TestOpenAPIAndMetrics(t *testing.T) {
	metricsHit := false
	h := newTestServer(t, Config{}, Deps{Metrics: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		metricsHit = true
		_, _ = io.WriteString(w, "# HELP x\n")
	})})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/openapi.json", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	paths := doc["paths"].(map[string]any)
	assert.Contains(t, paths, "/analyze")
	assert.Contains(t, paths, "/jobs/{jobID}")

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, metricsHit)
}

func TestCORSPreflight(t *testing.T) {
	h := newTestServer(t, Config{}, Deps{})
	req := httptest.NewRequest(http.MethodOptions, "/analyze", nil)
	req.Header.Set("Origin", "https://ui.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestWebhookRouteBypassesAPIKey(t *testing.T) {
	hits := 0
	hook := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusOK)
	})
	h := newTestServer(t, Config{APIKey: "secret"}, Deps{Webhook: hook})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhooks/sonarqube", strings.NewReader("{}")))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, hits)
}

func TestWebhookRouteAbsentWithoutHandler(t *testing.T) {
	h := newTestServer(t, Config{}, Deps{})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhooks/sonarqube", strings.NewReader("{}")))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
