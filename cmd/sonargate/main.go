package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/sonargate/internal/analysis"
	"github.com/mattjoyce/sonargate/internal/api"
	"github.com/mattjoyce/sonargate/internal/archive"
	"github.com/mattjoyce/sonargate/internal/config"
	"github.com/mattjoyce/sonargate/internal/doctor"
	"github.com/mattjoyce/sonargate/internal/events"
	"github.com/mattjoyce/sonargate/internal/inspect"
	"github.com/mattjoyce/sonargate/internal/jobid"
	"github.com/mattjoyce/sonargate/internal/jobs"
	"github.com/mattjoyce/sonargate/internal/lock"
	"github.com/mattjoyce/sonargate/internal/log"
	"github.com/mattjoyce/sonargate/internal/metrics"
	"github.com/mattjoyce/sonargate/internal/poller"
	"github.com/mattjoyce/sonargate/internal/scanner"
	"github.com/mattjoyce/sonargate/internal/sonar"
	"github.com/mattjoyce/sonargate/internal/storage"
	"github.com/mattjoyce/sonargate/internal/telemetry"
	"github.com/mattjoyce/sonargate/internal/tui/watch"
	"github.com/mattjoyce/sonargate/internal/webhook"
	"github.com/mattjoyce/sonargate/internal/workspace"
)

var (
	version   = "0.1.0-dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	os.Exit(runCLI(os.Args[1:]))
}

func runCLI(cliArgs []string) int {
	loadDotEnv()

	if len(cliArgs) < 1 {
		printUsage()
		return 1
	}

	cmd := cliArgs[0]
	args := cliArgs[1:]

	switch cmd {
	// --- NOUNS ---
	case "system":
		return runSystemNoun(args)
	case "config":
		return runConfigNoun(args)
	case "job":
		return runJobNoun(args)

	// --- ROOT ALIASES ---
	case "start", "serve":
		return runStart(args)
	case "watch":
		return runWatch(args)
	case "doctor":
		return runConfigCheck(args)
	case "version", "--version":
		return runVersion(args)
	case "help", "--help", "-h":
		printUsage()
		return 0

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		return 1
	}
}

// loadDotEnv reads ./.env when present. Real environment variables win.
func loadDotEnv() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Warning: failed to read .env: %v\n", err)
	}
}

type versionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

func runVersion(args []string) int {
	fs := flag.NewFlagSet("version", flag.ContinueOnError)
	jsonOut := fs.Bool("json", false, "Output version metadata as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(os.Stderr, "Usage: sonargate version [--json]")
		return 1
	}

	info := currentVersionInfo()

	if *jsonOut {
		data, err := json.MarshalIndent(info, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render version JSON: %v\n", err)
			return 1
		}
		fmt.Println(string(data))
		return 0
	}

	fmt.Printf("sonargate %s\n", info.Version)
	fmt.Printf("commit: %s\n", info.Commit)
	fmt.Printf("built_at: %s\n", info.BuildTime)
	return 0
}

func currentVersionInfo() versionInfo {
	info := versionInfo{
		Version:   strings.TrimSpace(version),
		Commit:    "unknown",
		BuildTime: "unknown",
	}
	if info.Version == "" {
		info.Version = "0.0.0-dev"
	}

	commit := strings.TrimSpace(gitCommit)
	if commit == "" || commit == "unknown" {
		commit = strings.TrimSpace(readBuildSetting("vcs.revision"))
	}
	if commit != "" {
		if len(commit) > 12 {
			commit = commit[:12]
		}
		info.Commit = commit
	}

	built := strings.TrimSpace(buildDate)
	if built == "" || built == "unknown" {
		built = strings.TrimSpace(readBuildSetting("vcs.time"))
	}
	if t, err := time.Parse(time.RFC3339Nano, built); err == nil {
		info.BuildTime = t.UTC().Format(time.RFC3339)
	}

	return info
}

func readBuildSetting(key string) string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, setting := range info.Settings {
		if setting.Key == key {
			return setting.Value
		}
	}
	return ""
}

func printUsage() {
	fmt.Print(`sonargate - HTTP facade over a SonarQube analysis pipeline

Usage:
  sonargate <noun> <action> [flags]

System Commands:
  system start      Start the HTTP service in the foreground
  system status     Probe the scanner, workspace root and SonarQube
  system watch      Live console of analyses and events

Config Commands:
  config check      Validate configuration (add --probe for live checks)
  config show       Print the effective configuration

Job Commands:
  job list          Show recent analysis jobs
  job inspect <id>  Show one job's outcome and archive details

General:
  version           Show version information
  help              Show this help message

Configuration is read from --config (or SONARGATE_CONFIG) and then
overridden by environment variables such as SONARQUBE_URL and
SONARQUBE_TOKEN. A .env file in the working directory is loaded first.
`)
}

// --- NOUN DISPATCHERS ---

func runSystemNoun(args []string) int {
	if len(args) < 1 {
		printSystemNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printSystemNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "start":
		if hasHelpFlag(actionArgs) {
			fmt.Println("Usage: sonargate system start [--config PATH]")
			fmt.Println("Start the HTTP service in the foreground.")
			return 0
		}
		return runStart(actionArgs)
	case "status":
		if hasHelpFlag(actionArgs) {
			fmt.Println("Usage: sonargate system status [--config PATH] [--json]")
			fmt.Println("Run every configuration check plus live probes of the scanner, workspace root and SonarQube.")
			fmt.Println("")
			fmt.Println("Exit codes:")
			fmt.Println("  0  All checks passed")
			fmt.Println("  1  One or more checks failed")
			return 0
		}
		return runSystemStatus(actionArgs)
	case "watch":
		if hasHelpFlag(actionArgs) {
			printSystemWatchHelp()
			return 0
		}
		return runWatch(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown system action: %s\n", action)
		return 1
	}
}

func runConfigNoun(args []string) int {
	if len(args) < 1 {
		printConfigNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printConfigNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "check":
		if hasHelpFlag(actionArgs) {
			fmt.Println("Usage: sonargate config check [--config PATH] [--json] [--probe]")
			fmt.Println("Validate configuration. --probe also checks the scanner, workspace root and SonarQube.")
			return 0
		}
		return runConfigCheck(actionArgs)
	case "show":
		if hasHelpFlag(actionArgs) {
			fmt.Println("Usage: sonargate config show [--config PATH]")
			fmt.Println("Print the effective configuration as YAML with secrets masked.")
			return 0
		}
		return runConfigShow(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown config action: %s\n", action)
		return 1
	}
}

func runJobNoun(args []string) int {
	if len(args) < 1 {
		printJobNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printJobNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "list":
		if hasHelpFlag(actionArgs) {
			fmt.Println("Usage: sonargate job list [--config PATH] [--limit N]")
			return 0
		}
		return runJobList(actionArgs)
	case "inspect":
		if hasHelpFlag(actionArgs) {
			fmt.Println("Usage: sonargate job inspect <job_id> [--config PATH] [--json]")
			return 0
		}
		return runJobInspect(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown job action: %s\n", action)
		return 1
	}
}

func isHelpToken(token string) bool {
	return token == "help" || token == "--help" || token == "-h"
}

func hasHelpFlag(args []string) bool {
	for _, arg := range args {
		if arg == "--help" || arg == "-h" {
			return true
		}
	}
	return false
}

func printSystemNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: sonargate system <action>")
	fmt.Fprintln(w, "Actions: start, status, watch")
}

func printConfigNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: sonargate config <action> [flags]")
	fmt.Fprintln(w, "Actions: check, show")
}

func printJobNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: sonargate job <action>")
	fmt.Fprintln(w, "Actions: list, inspect")
}

func printSystemWatchHelp() {
	fmt.Println("Usage: sonargate system watch [flags]")
	fmt.Println()
	fmt.Println("Live console of running and recent analyses plus the event stream.")
	fmt.Println()
	fmt.Println("Flags:")
	fmt.Println("  --api-url URL    sonargate API URL (default: http://localhost:8000)")
	fmt.Println("  --api-key KEY    API bearer token (or SONARGATE_API_KEY env var)")
	fmt.Println()
	fmt.Println("Keybindings:")
	fmt.Println("  q, Ctrl+C        Quit")
	fmt.Println("  ↑/↓, k/j         Scroll analyses")
}

// configFlag registers the shared --config flag.
func configFlag(fs *flag.FlagSet) *string {
	return fs.String("config", os.Getenv("SONARGATE_CONFIG"), "Path to configuration file")
}

// --- ACTIONS ---

func runStart(args []string) int {
	fs := flag.NewFlagSet("start", flag.ContinueOnError)
	configPath := configFlag(fs)
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(ctx, *configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	log.Setup(cfg.Service.LogLevel, cfg.Service.LogFormat)
	logger := log.WithComponent("main")
	logger.Info("sonargate starting", "version", version, "config", *configPath, "engine", cfg.Engine.URL)

	shutdownTracing, err := telemetry.Init(ctx, telemetry.Options{
		ServiceName: cfg.Service.Name,
		Version:     version,
		Exporter:    cfg.Telemetry.Exporter,
		Endpoint:    cfg.Telemetry.OTLPEndpoint,
	})
	if err != nil {
		logger.Error("failed to initialize tracing", "error", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Warn("tracing shutdown failed", "error", err)
		}
	}()

	pidLockPath := lock.PathFor(cfg.State.Path)
	pidLock, err := lock.AcquirePIDLock(pidLockPath)
	if err != nil {
		logger.Error("failed to acquire PID lock (another instance may be running)", "path", pidLockPath, "error", err)
		return 1
	}
	defer pidLock.Release()
	logger.Info("acquired PID lock", "path", pidLockPath)

	db, err := storage.OpenSQLite(ctx, cfg.State.Path)
	if err != nil {
		logger.Error("failed to open database", "path", cfg.State.Path, "error", err)
		return 1
	}
	defer db.Close()
	logger.Info("database opened", "path", cfg.State.Path)

	store := jobs.New(db)
	if n, err := store.FailRunning(ctx, "interrupted by service restart"); err != nil {
		logger.Error("failed to close out interrupted jobs", "error", err)
		return 1
	} else if n > 0 {
		logger.Warn("marked interrupted jobs as failed", "count", n)
	}
	if cfg.State.JobRetention > 0 {
		if n, err := store.Prune(ctx, cfg.State.JobRetention); err != nil {
			logger.Warn("failed to prune job history", "error", err)
		} else if n > 0 {
			logger.Info("pruned job history", "count", n, "retention", cfg.State.JobRetention)
		}
	}

	wsManager, err := workspace.NewFSManager(cfg.Workspace.Root)
	if err != nil {
		logger.Error("failed to initialize workspace manager", "root", cfg.Workspace.Root, "error", err)
		return 1
	}

	invoker, err := buildScanner(cfg)
	if err != nil {
		logger.Error("failed to initialize scanner", "mode", cfg.Scanner.Mode, "error", err)
		return 1
	}

	m := metrics.New(prometheus.DefaultRegisterer)
	hub := events.NewHub(256)
	signals := poller.NewSignals()
	engine := sonar.NewClient(cfg.Engine.URL, cfg.Engine.Username, cfg.Engine.Token, cfg.Engine.RequestTimeout)

	pipeline := &analysis.Pipeline{
		Workspaces: wsManager,
		Extractor: archive.New(archive.Limits{
			MaxEntries:           cfg.Archive.MaxEntries,
			MaxUncompressedBytes: cfg.Archive.MaxUncompressedBytes,
		}),
		Scanner: scanner.NewPool(invoker, cfg.Scanner.MaxConcurrent),
		Waiter: &poller.Poller{
			Source:      engine,
			Clock:       poller.RealClock(),
			MaxAttempts: cfg.Poll.MaxAttempts,
			Interval:    cfg.Poll.Interval,
			Logger:      log.WithComponent("poller"),
			Signals:     signals,
		},
		Issues:   engine,
		Jobs:     store,
		Events:   hub,
		Metrics:  m,
		Engine:   analysis.Engine{URL: cfg.Engine.URL, Token: cfg.Engine.Token},
		PageSize: cfg.Engine.PageSize,
		Logger:   log.WithComponent("analysis"),
		NewToken: jobid.New,
	}

	go workspace.RunSweeper(ctx, wsManager, cfg.Workspace.SweepInterval, cfg.Workspace.StaleAfter,
		log.WithComponent("workspace"), func(n int) { m.WorkspacesSwept.Add(float64(n)) })

	deps := api.Deps{
		Analyzer: pipeline,
		Jobs:     store,
		Engine:   engine,
		Events:   hub,
	}
	if cfg.API.Webhook.Secret != "" {
		deps.Webhook = &webhook.Receiver{
			Secret:   cfg.API.Webhook.Secret,
			Notifier: signals,
			Events:   hub,
			Logger:   log.WithComponent("webhook"),
		}
		logger.Info("sonarqube webhook receiver enabled", "path", "/webhooks/sonarqube")
	}

	apiServer := api.New(api.Config{
		Listen:         cfg.API.Listen,
		APIKey:         cfg.API.Auth.APIKey,
		MaxUploadBytes: cfg.API.MaxUploadBytes,
		WriteTimeout:   cfg.API.WriteTimeout,
		RateLimit:      cfg.API.RateLimit,
		AllowedOrigins: cfg.API.AllowedOrigins,
		ServiceName:    cfg.Service.Name,
	}, deps, log.WithComponent("api"))

	logger.Info("sonargate running (press Ctrl+C to stop)",
		"scanner_mode", cfg.Scanner.Mode,
		"max_concurrent_scans", cfg.Scanner.MaxConcurrent,
		"workspace_root", wsManager.BaseDir(),
	)

	if err := apiServer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("api server failed", "error", err)
		return 1
	}

	logger.Info("sonargate stopped")
	return 0
}

// buildScanner returns the invoker for the configured scanner mode.
func buildScanner(cfg *config.Config) (scanner.Invoker, error) {
	switch cfg.Scanner.Mode {
	case config.ScannerModeDocker:
		cli, err := scanner.NewDockerClient()
		if err != nil {
			return nil, err
		}
		return &scanner.DockerInvoker{
			Client:    cli,
			Image:     cfg.Scanner.Image,
			Network:   cfg.Scanner.DockerNetwork,
			ExtraArgs: cfg.Scanner.ExtraArgs,
			Timeout:   cfg.Scanner.Timeout,
			Logger:    log.WithComponent("scanner"),
		}, nil
	default:
		return &scanner.ExecInvoker{
			Binary:    cfg.Scanner.Binary,
			ExtraArgs: cfg.Scanner.ExtraArgs,
			Timeout:   cfg.Scanner.Timeout,
			Logger:    log.WithComponent("scanner"),
		}, nil
	}
}

// doctorProbes wires the live checks for cfg. Docker is only dialled in
// docker mode.
func doctorProbes(cfg *config.Config) doctor.Probes {
	probes := doctor.Probes{
		Engine:   sonar.NewClient(cfg.Engine.URL, cfg.Engine.Username, cfg.Engine.Token, 10*time.Second),
		Locality: storage.CheckLocality,
	}
	if cfg.Scanner.Mode == config.ScannerModeDocker {
		if cli, err := scanner.NewDockerClient(); err == nil {
			probes.Docker = &scanner.DockerInvoker{Client: cli}
		}
	}
	return probes
}

func runConfigCheck(args []string) int {
	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	configPath := configFlag(fs)
	jsonOut := fs.Bool("json", false, "Output results as JSON")
	probe := fs.Bool("probe", false, "Also check the scanner, workspace root and SonarQube")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	ctx := context.Background()
	cfg, err := config.LoadUnchecked(ctx, *configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	var result *doctor.Result
	if *probe {
		probeCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		result = doctor.New(cfg, doctorProbes(cfg)).Probe(probeCtx)
	} else {
		result = doctor.New(cfg, doctor.Probes{}).Validate()
	}

	return printDoctorResult(result, *jsonOut)
}

func runSystemStatus(args []string) int {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	configPath := configFlag(fs)
	jsonOut := fs.Bool("json", false, "Output results as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cfg, err := config.LoadUnchecked(ctx, *configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	result := doctor.New(cfg, doctorProbes(cfg)).Probe(ctx)
	if !*jsonOut {
		lockPath := lock.PathFor(cfg.State.Path)
		if pid, ok := lock.ReadPID(lockPath); ok {
			fmt.Printf("PID lock: %s (pid %d)\n", lockPath, pid)
		} else {
			fmt.Printf("PID lock: %s (not held)\n", lockPath)
		}
	}
	return printDoctorResult(result, *jsonOut)
}

func printDoctorResult(result *doctor.Result, jsonOut bool) int {
	if jsonOut {
		out, err := doctor.FormatJSON(result)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render JSON: %v\n", err)
			return 1
		}
		fmt.Println(out)
	} else {
		fmt.Print(doctor.FormatHuman(result))
	}

	if !result.Valid {
		return 1
	}
	return 0
}

func runConfigShow(args []string) int {
	fs := flag.NewFlagSet("show", flag.ContinueOnError)
	configPath := configFlag(fs)
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	cfg, err := config.LoadUnchecked(context.Background(), *configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	masked := *cfg
	masked.Engine.Token = maskSecret(cfg.Engine.Token)
	masked.API.Auth.APIKey = maskSecret(cfg.API.Auth.APIKey)

	data, err := yaml.Marshal(&masked)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to render config: %v\n", err)
		return 1
	}
	fmt.Print(string(data))
	return 0
}

func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 4 {
		return "****"
	}
	return s[:2] + strings.Repeat("*", len(s)-4) + s[len(s)-2:]
}

// openJobStore opens the state database read-side for CLI inspection.
func openJobStore(ctx context.Context, configPath string) (*jobs.Store, *config.Config, func(), error) {
	cfg, err := config.Load(ctx, configPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load config: %w", err)
	}
	if _, err := os.Stat(cfg.State.Path); err != nil {
		return nil, nil, nil, fmt.Errorf("state database %s: %w", cfg.State.Path, err)
	}
	db, err := storage.OpenSQLite(ctx, cfg.State.Path)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open database: %w", err)
	}
	return jobs.New(db), cfg, func() { _ = db.Close() }, nil
}

func runJobList(args []string) int {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	configPath := configFlag(fs)
	limit := fs.Int("limit", jobs.DefaultListLimit, "Maximum number of jobs to show")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if *limit <= 0 {
		fmt.Fprintln(os.Stderr, "--limit must be positive")
		return 1
	}

	ctx := context.Background()
	store, _, closeDB, err := openJobStore(ctx, *configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	defer closeDB()

	out, err := inspect.BuildList(ctx, store, *limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	fmt.Print(out)
	return 0
}

func runJobInspect(args []string) int {
	// Allow "job inspect <id> --json" as well as flags first.
	var id string
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		id, args = args[0], args[1:]
	}

	fs := flag.NewFlagSet("inspect", flag.ContinueOnError)
	configPath := configFlag(fs)
	jsonOut := fs.Bool("json", false, "Output the report as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if id == "" && fs.NArg() > 0 {
		id = fs.Arg(0)
	}
	if id == "" {
		fmt.Fprintln(os.Stderr, "Usage: sonargate job inspect <job_id> [--config PATH] [--json]")
		return 1
	}
	if !jobid.Valid(id) {
		fmt.Fprintf(os.Stderr, "Invalid job ID %q (expected job_ followed by 32 hex characters)\n", id)
		return 1
	}

	ctx := context.Background()
	store, cfg, closeDB, err := openJobStore(ctx, *configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	defer closeDB()

	var out string
	if *jsonOut {
		out, err = inspect.BuildJSONReport(ctx, store, cfg.Engine.URL, id)
	} else {
		out, err = inspect.BuildReport(ctx, store, cfg.Engine.URL, id)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	fmt.Println(strings.TrimRight(out, "\n"))
	return 0
}

func runWatch(args []string) int {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	apiURL := fs.String("api-url", "http://localhost:8000", "sonargate API URL")
	apiKey := fs.String("api-key", os.Getenv("SONARGATE_API_KEY"), "API bearer token")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	m := watch.New(*apiURL, *apiKey)
	p := tea.NewProgram(m)
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "TUI error: %v\n", err)
		return 1
	}
	return 0
}
