// Package sonar is a small client for the SonarQube web API endpoints the
// analysis pipeline depends on.
package sonar

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Compute engine task statuses.
const (
	StatusPending    = "PENDING"
	StatusInProgress = "IN_PROGRESS"
	StatusSuccess    = "SUCCESS"
	StatusFailed     = "FAILED"
	StatusCanceled   = "CANCELED"
)

// Server health values from /api/system/health.
const (
	HealthGreen  = "GREEN"
	HealthYellow = "YELLOW"
	HealthRed    = "RED"
)

// IssueTypes is the filter applied to every issue search.
const IssueTypes = "VULNERABILITY,SECURITY_HOTSPOT"

// DefaultPageSize is the SonarQube maximum for /api/issues/search.
const DefaultPageSize = 500

// maxErrorBody caps how much of a failed response is kept on APIError.
const maxErrorBody = 4 << 10

// APIError is returned when SonarQube answers with a non-2xx status.
type APIError struct {
	Endpoint   string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	body := strings.TrimSpace(e.Body)
	if body == "" {
		return fmt.Sprintf("%s returned HTTP %d", e.Endpoint, e.StatusCode)
	}
	return fmt.Sprintf("%s returned HTTP %d: %s", e.Endpoint, e.StatusCode, body)
}

// Issue is a single finding as returned to API callers. Field names match
// the SonarQube wire format.
type Issue struct {
	Key       string `json:"key"`
	Rule      string `json:"rule"`
	Severity  string `json:"severity"`
	Component string `json:"component"`
	Line      *int   `json:"line,omitempty"`
	Message   string `json:"message"`
	Type      string `json:"type"`
}

// Client talks to one SonarQube server using basic auth with the token as
// password.
type Client struct {
	BaseURL    string
	Username   string
	Token      string
	HTTPClient *http.Client
}

// NewClient returns a Client whose transport is traced with otelhttp.
func NewClient(baseURL, username, token string, timeout time.Duration) *Client {
	return &Client{
		BaseURL:  strings.TrimRight(baseURL, "/"),
		Username: username,
		Token:    token,
		HTTPClient: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

type activityResponse struct {
	Tasks []struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	} `json:"tasks"`
}

// TaskStatus returns the status of the most recent compute engine task for
// component, or "" when the engine has not registered one yet.
func (c *Client) TaskStatus(ctx context.Context, component string) (string, error) {
	q := url.Values{}
	q.Set("component", component)

	var out activityResponse
	if err := c.get(ctx, "/api/ce/activity", q, &out); err != nil {
		return "", err
	}
	if len(out.Tasks) == 0 {
		return "", nil
	}
	return out.Tasks[0].Status, nil
}

type issuesResponse struct {
	Total  int     `json:"total"`
	Issues []Issue `json:"issues"`
}

// SearchIssues returns the vulnerabilities and security hotspots recorded for
// component. Only the first page is requested.
func (c *Client) SearchIssues(ctx context.Context, component string, pageSize int) ([]Issue, error) {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	q := url.Values{}
	q.Set("componentKeys", component)
	q.Set("types", IssueTypes)
	q.Set("ps", strconv.Itoa(pageSize))

	var out issuesResponse
	if err := c.get(ctx, "/api/issues/search", q, &out); err != nil {
		return nil, err
	}
	if out.Issues == nil {
		return []Issue{}, nil
	}
	return out.Issues, nil
}

// Health returns the server health: GREEN, YELLOW or RED.
func (c *Client) Health(ctx context.Context) (string, error) {
	var out struct {
		Health string `json:"health"`
	}
	if err := c.get(ctx, "/api/system/health", nil, &out); err != nil {
		return "", err
	}
	if out.Health == "" {
		return "", errors.New("decode /api/system/health: missing health field")
	}
	return out.Health, nil
}

func (c *Client) get(ctx context.Context, endpoint string, query url.Values, dst any) error {
	u := c.BaseURL + endpoint
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("build %s request: %w", endpoint, err)
	}
	req.SetBasicAuth(c.Username, c.Token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &APIError{Endpoint: endpoint, StatusCode: resp.StatusCode, Body: string(body)}
	}

	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("decode %s response: %w", endpoint, err)
	}
	return nil
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}
