package config

import "time"

// Config represents the complete sonargate configuration.
type Config struct {
	Service   ServiceConfig   `yaml:"service"`
	API       APIConfig       `yaml:"api"`
	Engine    EngineConfig    `yaml:"engine"`
	Scanner   ScannerConfig   `yaml:"scanner"`
	Poll      PollConfig      `yaml:"poll"`
	Archive   ArchiveConfig   `yaml:"archive"`
	Workspace WorkspaceConfig `yaml:"workspace"`
	State     StateConfig     `yaml:"state"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name      string `yaml:"name"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// APIConfig defines HTTP API server settings.
type APIConfig struct {
	Listen         string        `yaml:"listen"`
	MaxUploadBytes int64         `yaml:"max_upload_bytes"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	// RateLimit is the number of /analyze requests allowed per client IP per
	// minute. Zero disables limiting.
	RateLimit      int           `yaml:"rate_limit"`
	AllowedOrigins []string      `yaml:"allowed_origins,omitempty"`
	Auth           APIAuthConfig `yaml:"auth"`
	Webhook        WebhookConfig `yaml:"webhook"`
}

// WebhookConfig enables the SonarQube completion webhook receiver.
type WebhookConfig struct {
	// Secret is the HMAC secret configured on the SonarQube webhook. Empty
	// disables the receiver and analyses rely on polling alone.
	Secret string `yaml:"secret"`
}

// APIAuthConfig defines API authentication settings.
type APIAuthConfig struct {
	// APIKey is an optional bearer token. Empty leaves the API open.
	APIKey string `yaml:"api_key"`
}

// EngineConfig locates the SonarQube server.
type EngineConfig struct {
	URL            string        `yaml:"url"`
	Username       string        `yaml:"username"`
	Token          string        `yaml:"token"`
	PageSize       int           `yaml:"page_size"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// Scanner modes.
const (
	ScannerModeExec   = "exec"
	ScannerModeDocker = "docker"
)

// ScannerConfig controls how sonar-scanner is launched.
type ScannerConfig struct {
	Mode          string        `yaml:"mode"`
	Binary        string        `yaml:"binary"`
	ExtraArgs     []string      `yaml:"extra_args,omitempty"`
	Timeout       time.Duration `yaml:"timeout"`
	MaxConcurrent int           `yaml:"max_concurrent"`
	Image         string        `yaml:"image"`
	DockerNetwork string        `yaml:"docker_network,omitempty"`
}

// PollConfig bounds the wait for the compute engine.
type PollConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	Interval    time.Duration `yaml:"interval"`
}

// ArchiveConfig bounds what an uploaded archive may expand to.
type ArchiveConfig struct {
	MaxEntries           int   `yaml:"max_entries"`
	MaxUncompressedBytes int64 `yaml:"max_uncompressed_bytes"`
}

// WorkspaceConfig defines where per-job directories live.
type WorkspaceConfig struct {
	Root          string        `yaml:"root"`
	StaleAfter    time.Duration `yaml:"stale_after"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// StateConfig defines job history storage settings.
type StateConfig struct {
	Path         string        `yaml:"path"`
	JobRetention time.Duration `yaml:"job_retention"`
}

// TelemetryConfig selects the trace exporter: "none", "stdout" or "otlp".
type TelemetryConfig struct {
	Exporter     string `yaml:"exporter"`
	OTLPEndpoint string `yaml:"otlp_endpoint,omitempty"`
}

// Defaults returns a Config with the documented fallback values.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:      "sonargate",
			LogLevel:  "info",
			LogFormat: "json",
		},
		API: APIConfig{
			Listen:         "0.0.0.0:8000",
			MaxUploadBytes: 50 << 20,
			WriteTimeout:   20 * time.Minute,
			RateLimit:      0,
		},
		Engine: EngineConfig{
			URL:            "http://sonarqube:9000",
			Username:       "admin",
			Token:          "admin",
			PageSize:       500,
			RequestTimeout: 30 * time.Second,
		},
		Scanner: ScannerConfig{
			Mode:          ScannerModeExec,
			Binary:        "sonar-scanner",
			Timeout:       10 * time.Minute,
			MaxConcurrent: 4,
			Image:         "sonarsource/sonar-scanner-cli:latest",
		},
		Poll: PollConfig{
			MaxAttempts: 60,
			Interval:    5 * time.Second,
		},
		Archive: ArchiveConfig{
			MaxEntries:           100_000,
			MaxUncompressedBytes: 2 << 30,
		},
		Workspace: WorkspaceConfig{
			Root:          "./data/workspaces",
			StaleAfter:    time.Hour,
			SweepInterval: 10 * time.Minute,
		},
		State: StateConfig{
			Path:         "./data/sonargate.db",
			JobRetention: 30 * 24 * time.Hour,
		},
		Telemetry: TelemetryConfig{
			Exporter: "none",
		},
	}
}
