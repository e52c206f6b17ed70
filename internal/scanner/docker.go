package scanner

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
)

// containerSourceDir is where the scanner image expects the project.
const containerSourceDir = "/usr/src"

// DockerInvoker runs the scanner inside a container with the project
// bind-mounted at /usr/src.
type DockerInvoker struct {
	Client    *client.Client
	Image     string
	Network   string
	ExtraArgs []string
	Timeout   time.Duration
	Grace     time.Duration
	Logger    *slog.Logger
}

// NewDockerClient connects using the standard DOCKER_* environment.
func NewDockerClient() (*client.Client, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	return cli, nil
}

// containerSpec builds the container and host configuration for req.
func (d *DockerInvoker) containerSpec(req Request) (*container.Config, *container.HostConfig) {
	env := []string{
		"SONAR_HOST_URL=" + req.HostURL,
		"SONAR_TOKEN=" + req.Token,
	}
	labels := map[string]string{"sonargate.job": req.ProjectKey}
	// Files the scanner writes into the mount must stay removable.
	user := fmt.Sprintf("%d:%d", os.Getuid(), os.Getgid())

	cfg := &container.Config{
		Image:      d.Image,
		Cmd:        Args(req, d.ExtraArgs),
		WorkingDir: containerSourceDir,
		Env:        env,
		User:       user,
		Labels:     labels,
	}
	host := &container.HostConfig{
		Binds: []string{req.ProjectDir + ":" + containerSourceDir},
	}
	if d.Network != "" {
		host.NetworkMode = container.NetworkMode(d.Network)
	}
	return cfg, host
}

// Scan creates, starts and waits for a scanner container, then removes it.
func (d *DockerInvoker) Scan(ctx context.Context, req Request) (Result, error) {
	logger := d.logger().With("job_id", req.ProjectKey)

	scanCtx := ctx
	if d.Timeout > 0 {
		var cancel context.CancelFunc
		scanCtx, cancel = context.WithTimeout(ctx, d.Timeout)
		defer cancel()
	}

	cfg, host := d.containerSpec(req)
	logger.Info("starting scanner container", "image", d.Image, "args", redactArgs(cfg.Cmd))
	start := time.Now()

	created, err := d.Client.ContainerCreate(scanCtx, cfg, host, nil, nil, "")
	if err != nil {
		return Result{ExitCode: -1}, &Error{ExitCode: -1, Err: fmt.Errorf("create scanner container: %w", err)}
	}
	id := created.ID
	defer func() {
		rmCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := d.Client.ContainerRemove(rmCtx, id, container.RemoveOptions{Force: true}); err != nil {
			logger.Warn("failed to remove scanner container", "container_id", id, "error", err)
		}
	}()

	if err := d.Client.ContainerStart(scanCtx, id, container.StartOptions{}); err != nil {
		return Result{ExitCode: -1}, &Error{ExitCode: -1, Err: fmt.Errorf("start scanner container: %w", err)}
	}

	statusCh, errCh := d.Client.ContainerWait(scanCtx, id, container.WaitConditionNotRunning)

	var exitCode int64
	select {
	case st := <-statusCh:
		if st.Error != nil {
			return Result{ExitCode: -1}, &Error{ExitCode: -1, Err: fmt.Errorf("wait for scanner container: %s", st.Error.Message)}
		}
		exitCode = st.StatusCode
	case err := <-errCh:
		if scanCtx.Err() == nil {
			return Result{ExitCode: -1}, &Error{ExitCode: -1, Err: fmt.Errorf("wait for scanner container: %w", err)}
		}
		d.stop(id, logger)
		if ctx.Err() != nil {
			return Result{ExitCode: -1, Duration: time.Since(start)}, ctx.Err()
		}
		return Result{ExitCode: -1, Duration: time.Since(start)}, &Error{
			ExitCode: -1,
			Err:      fmt.Errorf("sonar-scanner timed out after %s", d.Timeout),
		}
	}

	res := Result{ExitCode: int(exitCode), Duration: time.Since(start)}
	stderr := d.collectLogs(id, logger)
	if exitCode != 0 {
		logger.Warn("scanner container exited with non-zero status", "exit_code", exitCode, "duration", res.Duration)
		return res, &Error{ExitCode: res.ExitCode, Stderr: stderr}
	}
	logger.Info("scanner container finished", "duration", res.Duration)
	return res, nil
}

// stop sends SIGTERM and lets the daemon escalate to SIGKILL after the
// grace period.
func (d *DockerInvoker) stop(id string, logger *slog.Logger) {
	grace := d.Grace
	if grace <= 0 {
		grace = terminationGracePeriod
	}
	secs := int(grace / time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), grace+10*time.Second)
	defer cancel()

	logger.Warn("stopping scanner container", "container_id", id)
	if err := d.Client.ContainerStop(ctx, id, container.StopOptions{Timeout: &secs}); err != nil {
		logger.Error("failed to stop scanner container", "container_id", id, "error", err)
	}
}

func (d *DockerInvoker) collectLogs(id string, logger *slog.Logger) string {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	rc, err := d.Client.ContainerLogs(ctx, id, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		logger.Warn("failed to read scanner container logs", "error", err)
		return ""
	}
	defer rc.Close()

	stdout := &cappedBuffer{limit: maxStdoutBytes}
	stderr := &cappedBuffer{limit: maxStderrBytes}
	if _, err := stdcopy.StdCopy(stdout, stderr, rc); err != nil && err != io.EOF {
		logger.Warn("failed to demultiplex scanner container logs", "error", err)
	}
	logOutput(logger, stdout, stderr)
	return stderr.String()
}

func (d *DockerInvoker) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

// Ping checks that the docker daemon is reachable.
func (d *DockerInvoker) Ping(ctx context.Context) error {
	if _, err := d.Client.Ping(ctx); err != nil {
		return fmt.Errorf("ping docker daemon: %w", err)
	}
	return nil
}

