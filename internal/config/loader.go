package config

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/sethvargo/go-envconfig"
	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// envOverrides are applied after the YAML file. Empty values leave the file
// (or default) value untouched.
type envOverrides struct {
	EngineURL      string        `env:"SONARQUBE_URL"`
	EngineToken    string        `env:"SONARQUBE_TOKEN"`
	EngineUsername string        `env:"SONARQUBE_USERNAME"`
	Listen         string        `env:"SONARGATE_LISTEN"`
	LogLevel       string        `env:"SONARGATE_LOG_LEVEL"`
	APIKey         string        `env:"SONARGATE_API_KEY"`
	WebhookSecret  string        `env:"SONARGATE_WEBHOOK_SECRET"`
	ScannerMode    string        `env:"SONARGATE_SCANNER_MODE"`
	ScannerBinary  string        `env:"SONARGATE_SCANNER_BINARY"`
	WorkspaceRoot  string        `env:"SONARGATE_WORKSPACE_ROOT"`
	StatePath      string        `env:"SONARGATE_STATE_PATH"`
	PollAttempts   int           `env:"SONARGATE_POLL_MAX_ATTEMPTS"`
	PollInterval   time.Duration `env:"SONARGATE_POLL_INTERVAL"`
	OTLPEndpoint   string        `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
}

// Load reads configuration from path (optional), applies environment
// overrides from the process environment, and validates the result.
func Load(ctx context.Context, path string) (*Config, error) {
	return LoadWithLookuper(ctx, path, envconfig.OsLookuper())
}

// LoadUnchecked assembles the configuration like Load but skips
// validation, so a caller can report every problem at once.
func LoadUnchecked(ctx context.Context, path string) (*Config, error) {
	return assemble(ctx, path, envconfig.OsLookuper())
}

// LoadWithLookuper is Load with an explicit environment source.
func LoadWithLookuper(ctx context.Context, path string, lookuper envconfig.Lookuper) (*Config, error) {
	cfg, err := assemble(ctx, path, lookuper)
	if err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func assemble(ctx context.Context, path string, lookuper envconfig.Lookuper) (*Config, error) {
	cfg := Defaults()

	if strings.TrimSpace(path) != "" {
		if err := loadFile(cfg, path); err != nil {
			return nil, err
		}
	}

	if err := applyEnv(ctx, cfg, lookuper); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFile(cfg *Config, path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve config path %q: %w", path, err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}
	if info.IsDir() {
		absPath = filepath.Join(absPath, "config.yaml")
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return fmt.Errorf("read config %s: %w", absPath, err)
	}

	// Decoding onto the defaults keeps every field the file leaves out.
	if err := yaml.Unmarshal([]byte(interpolateEnv(string(data))), cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", absPath, err)
	}
	return nil
}

func applyEnv(ctx context.Context, cfg *Config, lookuper envconfig.Lookuper) error {
	var o envOverrides
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &o,
		Lookuper: lookuper,
	}); err != nil {
		return fmt.Errorf("read environment overrides: %w", err)
	}

	setString(&cfg.Engine.URL, o.EngineURL)
	setString(&cfg.Engine.Token, o.EngineToken)
	setString(&cfg.Engine.Username, o.EngineUsername)
	setString(&cfg.API.Listen, o.Listen)
	setString(&cfg.Service.LogLevel, o.LogLevel)
	setString(&cfg.API.Auth.APIKey, o.APIKey)
	setString(&cfg.API.Webhook.Secret, o.WebhookSecret)
	setString(&cfg.Scanner.Mode, o.ScannerMode)
	setString(&cfg.Scanner.Binary, o.ScannerBinary)
	setString(&cfg.Workspace.Root, o.WorkspaceRoot)
	setString(&cfg.State.Path, o.StatePath)
	if o.PollAttempts > 0 {
		cfg.Poll.MaxAttempts = o.PollAttempts
	}
	if o.PollInterval > 0 {
		cfg.Poll.Interval = o.PollInterval
	}
	if o.OTLPEndpoint != "" {
		cfg.Telemetry.OTLPEndpoint = o.OTLPEndpoint
		if cfg.Telemetry.Exporter == "" || cfg.Telemetry.Exporter == "none" {
			cfg.Telemetry.Exporter = "otlp"
		}
	}
	return nil
}

func setString(dst *string, v string) {
	if v = strings.TrimSpace(v); v != "" {
		*dst = v
	}
}

// interpolateEnv replaces ${VAR} with environment variable values.
// Undefined variables are left as-is.
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match
	})
}

// Validate checks a fully assembled configuration.
func Validate(cfg *Config) error {
	var errs []error

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[strings.ToLower(cfg.Service.LogLevel)] {
		errs = append(errs, fmt.Errorf("service.log_level must be one of: debug, info, warn, error (got %q)", cfg.Service.LogLevel))
	}
	if f := strings.ToLower(cfg.Service.LogFormat); f != "json" && f != "text" {
		errs = append(errs, fmt.Errorf("service.log_format must be json or text (got %q)", cfg.Service.LogFormat))
	}

	if cfg.API.Listen == "" {
		errs = append(errs, errors.New("api.listen is required"))
	}
	if cfg.API.MaxUploadBytes <= 0 {
		errs = append(errs, errors.New("api.max_upload_bytes must be positive"))
	}
	if cfg.API.RateLimit < 0 {
		errs = append(errs, errors.New("api.rate_limit must not be negative"))
	}

	if u, err := url.Parse(cfg.Engine.URL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("engine.url must be an absolute URL (got %q)", cfg.Engine.URL))
	}
	if cfg.Engine.Username == "" {
		errs = append(errs, errors.New("engine.username is required"))
	}
	if cfg.Engine.PageSize <= 0 || cfg.Engine.PageSize > 500 {
		errs = append(errs, fmt.Errorf("engine.page_size must be between 1 and 500 (got %d)", cfg.Engine.PageSize))
	}

	switch cfg.Scanner.Mode {
	case ScannerModeExec:
		if cfg.Scanner.Binary == "" {
			errs = append(errs, errors.New("scanner.binary is required in exec mode"))
		}
	case ScannerModeDocker:
		if cfg.Scanner.Image == "" {
			errs = append(errs, errors.New("scanner.image is required in docker mode"))
		}
	default:
		errs = append(errs, fmt.Errorf("scanner.mode must be %q or %q (got %q)", ScannerModeExec, ScannerModeDocker, cfg.Scanner.Mode))
	}
	if cfg.Scanner.MaxConcurrent <= 0 {
		errs = append(errs, errors.New("scanner.max_concurrent must be positive"))
	}

	if cfg.Poll.MaxAttempts <= 0 {
		errs = append(errs, errors.New("poll.max_attempts must be positive"))
	}
	if cfg.Poll.Interval <= 0 {
		errs = append(errs, errors.New("poll.interval must be positive"))
	}

	if cfg.Workspace.Root == "" {
		errs = append(errs, errors.New("workspace.root is required"))
	}
	if cfg.Workspace.StaleAfter <= 0 {
		errs = append(errs, errors.New("workspace.stale_after must be positive"))
	} else if budget := cfg.Scanner.Timeout + time.Duration(cfg.Poll.MaxAttempts)*cfg.Poll.Interval; cfg.Scanner.Timeout > 0 && cfg.Workspace.StaleAfter <= budget {
		errs = append(errs, fmt.Errorf("workspace.stale_after %s must exceed scanner.timeout plus poll budget (%s)", cfg.Workspace.StaleAfter, budget))
	}
	if cfg.State.Path == "" {
		errs = append(errs, errors.New("state.path is required"))
	}

	switch cfg.Telemetry.Exporter {
	case "", "none", "stdout":
	case "otlp":
		if cfg.Telemetry.OTLPEndpoint == "" {
			errs = append(errs, errors.New("telemetry.otlp_endpoint is required for the otlp exporter"))
		}
	default:
		errs = append(errs, fmt.Errorf("telemetry.exporter must be none, stdout or otlp (got %q)", cfg.Telemetry.Exporter))
	}

	return errors.Join(errs...)
}
