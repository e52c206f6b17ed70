// Package doctor validates sonargate configuration and, optionally, the
// runtime it depends on: the scanner, the workspace root and SonarQube.
package doctor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/mattjoyce/sonargate/internal/config"
	"github.com/mattjoyce/sonargate/internal/sonar"
	"github.com/mattjoyce/sonargate/internal/storage"
)

// Result holds the outcome of a validation run.
type Result struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// Issue describes a single validation error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

// HealthChecker reports SonarQube health.
type HealthChecker interface {
	Health(ctx context.Context) (string, error)
}

// Pinger reports whether the Docker daemon answers.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Probes are the live checks run by Probe. Nil fields are skipped.
type Probes struct {
	// LookPath resolves the scanner binary. Defaults to exec.LookPath.
	LookPath func(file string) (string, error)
	Engine   HealthChecker
	Docker   Pinger
	// Locality identifies network filesystems under the state and
	// workspace paths.
	Locality func(path string) (storage.Locality, error)
}

// Doctor validates a loaded configuration.
type Doctor struct {
	cfg    *config.Config
	probes Probes
}

// New creates a Doctor from a loaded config.
func New(cfg *config.Config, probes Probes) *Doctor {
	if probes.LookPath == nil {
		probes.LookPath = exec.LookPath
	}
	return &Doctor{cfg: cfg, probes: probes}
}

// Validate runs the static checks and returns a result.
func (d *Doctor) Validate() *Result {
	r := &Result{Valid: true}

	d.validateConfig(r)
	d.warnOpenAPI(r)
	d.warnDefaultCredentials(r)
	d.warnMissingEnvVars(r)
	d.warnTimeBudget(r)

	r.Valid = len(r.Errors) == 0
	return r
}

// Probe runs the static checks plus the live ones.
func (d *Doctor) Probe(ctx context.Context) *Result {
	r := d.Validate()

	d.probeScanner(ctx, r)
	d.probeWorkspace(r)
	d.probeLocality(r)
	d.probeEngine(ctx, r)

	r.Valid = len(r.Errors) == 0
	return r
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

// validateConfig reports every config.Validate failure as its own issue.
func (d *Doctor) validateConfig(r *Result) {
	err := config.Validate(d.cfg)
	if err == nil {
		return
	}

	errs := []error{err}
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		errs = joined.Unwrap()
	}
	for _, e := range errs {
		msg := e.Error()
		field, _, _ := strings.Cut(msg, " ")
		d.addError(r, "config", field, msg)
	}
}

func (d *Doctor) warnOpenAPI(r *Result) {
	if d.cfg.API.Auth.APIKey == "" {
		d.addWarning(r, "api", "api.auth.api_key", "no API key configured; /analyze is open to anyone who can reach api.listen")
	}
	if d.cfg.API.Auth.APIKey == "" && d.cfg.API.RateLimit == 0 {
		d.addWarning(r, "api", "api.rate_limit", "unauthenticated API without a rate limit")
	}
}

func (d *Doctor) warnDefaultCredentials(r *Result) {
	if d.cfg.Engine.Token == "admin" {
		d.addWarning(r, "engine", "engine.token", "engine token is the SonarQube default \"admin\"")
	}
	if u, err := url.Parse(d.cfg.Engine.URL); err == nil && u.Scheme == "http" && !isLocalHost(u.Hostname()) {
		d.addWarning(r, "engine", "engine.url", fmt.Sprintf("engine credentials are sent in clear text to %s", u.Host))
	}
}

func isLocalHost(host string) bool {
	if host == "localhost" || host == "127.0.0.1" || host == "::1" {
		return true
	}
	// Compose service names carry no dot.
	return !strings.Contains(host, ".")
}

var envVarRe = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// warnMissingEnvVars warns about ${VAR} references the loader left unresolved.
func (d *Doctor) warnMissingEnvVars(r *Result) {
	fields := map[string]string{
		"engine.url":       d.cfg.Engine.URL,
		"engine.username":  d.cfg.Engine.Username,
		"engine.token":     d.cfg.Engine.Token,
		"api.auth.api_key": d.cfg.API.Auth.APIKey,
	}
	for _, field := range []string{"engine.url", "engine.username", "engine.token", "api.auth.api_key"} {
		for _, m := range envVarRe.FindAllStringSubmatch(fields[field], -1) {
			d.addWarning(r, "env_vars", field, fmt.Sprintf("environment variable ${%s} not set", m[1]))
		}
	}
}

// warnTimeBudget flags settings where the HTTP response would be cut off
// before the pipeline can finish.
func (d *Doctor) warnTimeBudget(r *Result) {
	write := d.cfg.API.WriteTimeout
	if write <= 0 {
		return
	}
	poll := time.Duration(d.cfg.Poll.MaxAttempts) * d.cfg.Poll.Interval
	if poll >= write {
		d.addWarning(r, "timing", "poll",
			fmt.Sprintf("poll budget %s (max_attempts x interval) is not below api.write_timeout %s", poll, write))
	}
	if d.cfg.Scanner.Timeout > 0 && d.cfg.Scanner.Timeout+poll >= write {
		d.addWarning(r, "timing", "scanner.timeout",
			fmt.Sprintf("scanner.timeout %s plus poll budget %s exceeds api.write_timeout %s", d.cfg.Scanner.Timeout, poll, write))
	}
}

func (d *Doctor) probeScanner(ctx context.Context, r *Result) {
	switch d.cfg.Scanner.Mode {
	case config.ScannerModeExec:
		if _, err := d.probes.LookPath(d.cfg.Scanner.Binary); err != nil {
			d.addError(r, "scanner", "scanner.binary",
				fmt.Sprintf("sonar-scanner binary %q not found: %v", d.cfg.Scanner.Binary, err))
		}
	case config.ScannerModeDocker:
		if d.probes.Docker == nil {
			return
		}
		if err := d.probes.Docker.Ping(ctx); err != nil {
			d.addError(r, "scanner", "scanner.mode", fmt.Sprintf("docker daemon unreachable: %v", err))
		}
	}
}

// probeWorkspace checks the workspace root can hold a scratch file.
func (d *Doctor) probeWorkspace(r *Result) {
	root := d.cfg.Workspace.Root
	if root == "" {
		return
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		d.addError(r, "workspace", "workspace.root", fmt.Sprintf("cannot create %s: %v", root, err))
		return
	}
	f, err := os.CreateTemp(root, ".doctor-*")
	if err != nil {
		d.addError(r, "workspace", "workspace.root", fmt.Sprintf("%s is not writable: %v", root, err))
		return
	}
	name := f.Name()
	_ = f.Close()
	_ = os.Remove(name)

	if abs, err := filepath.Abs(root); err == nil && abs == "/" {
		d.addError(r, "workspace", "workspace.root", "workspace.root must not be the filesystem root")
	}
}

// probeLocality flags network shares. SQLite locking is unreliable there,
// and scanner workspaces see heavy small-file I/O.
func (d *Doctor) probeLocality(r *Result) {
	if d.probes.Locality == nil {
		return
	}
	if path := d.cfg.State.Path; path != "" {
		if loc, err := d.probes.Locality(path); err == nil && loc.Network {
			d.addError(r, "state", "state.path", fmt.Sprintf("%s is on network filesystem %s; use a local disk", path, loc.FSType))
		}
	}
	if root := d.cfg.Workspace.Root; root != "" {
		if loc, err := d.probes.Locality(root); err == nil && loc.Network {
			d.addWarning(r, "workspace", "workspace.root", fmt.Sprintf("%s is on network filesystem %s; scans will be slow", root, loc.FSType))
		}
	}
}

func (d *Doctor) probeEngine(ctx context.Context, r *Result) {
	if d.probes.Engine == nil {
		return
	}
	health, err := d.probes.Engine.Health(ctx)
	var apiErr *sonar.APIError
	switch {
	case errors.As(err, &apiErr) && apiErr.StatusCode == 401:
		d.addError(r, "engine", "engine.token", "SonarQube rejected the configured credentials")
	case err != nil:
		d.addError(r, "engine", "engine.url", fmt.Sprintf("SonarQube unreachable: %v", err))
	case health == sonar.HealthRed:
		d.addError(r, "engine", "engine.url", "SonarQube reports health RED")
	case health == sonar.HealthYellow:
		d.addWarning(r, "engine", "engine.url", "SonarQube reports health YELLOW")
	}
}

// FormatHuman returns a human-readable validation report.
func FormatHuman(r *Result) string {
	var b strings.Builder

	if r.Valid && len(r.Warnings) == 0 {
		b.WriteString("Configuration valid.\n")
		return b.String()
	}

	if r.Valid && len(r.Warnings) > 0 {
		b.WriteString("Configuration valid")
		fmt.Fprintf(&b, " (%d warning(s))\n", len(r.Warnings))
	}

	if !r.Valid {
		fmt.Fprintf(&b, "Configuration invalid (%d error(s), %d warning(s))\n", len(r.Errors), len(r.Warnings))
	}

	for _, e := range r.Errors {
		if e.Field != "" {
			fmt.Fprintf(&b, "  ERROR [%s] %s: %s\n", e.Category, e.Field, e.Message)
		} else {
			fmt.Fprintf(&b, "  ERROR [%s] %s\n", e.Category, e.Message)
		}
	}
	for _, w := range r.Warnings {
		if w.Field != "" {
			fmt.Fprintf(&b, "  WARN  [%s] %s: %s\n", w.Category, w.Field, w.Message)
		} else {
			fmt.Fprintf(&b, "  WARN  [%s] %s\n", w.Category, w.Message)
		}
	}

	return b.String()
}

// FormatJSON returns the result as indented JSON.
func FormatJSON(r *Result) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
