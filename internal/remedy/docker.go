package remedy

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
)

const restartTimeoutSecs = 10

// DockerRunner executes remedy operations against local Docker containers.
// Only restart-category operations touch the daemon; everything else is
// out of its reach and reported as unsupported.
type DockerRunner struct {
	cli *client.Client
}

// NewDockerRunner creates a Docker-backed remedy runner.
func NewDockerRunner() (*DockerRunner, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	slog.Info("Docker remedy runner initialized")
	return &DockerRunner{cli: cli}, nil
}

// Execute implements Runner.
func (r *DockerRunner) Execute(ctx context.Context, op Operation) (Result, error) {
	start := time.Now()

	switch op.Category {
	case CategoryRestart:
		if op.Target == "" {
			return Result{OK: false, Detail: "no target container named", Duration: time.Since(start)}, nil
		}
		timeout := restartTimeoutSecs
		err := r.cli.ContainerRestart(ctx, op.Target, container.StopOptions{Timeout: &timeout})
		if err != nil {
			if errdefs.IsNotFound(err) {
				return Result{
					OK:       false,
					Detail:   fmt.Sprintf("container %q not found", op.Target),
					Duration: time.Since(start),
				}, nil
			}
			return Result{}, fmt.Errorf("restart container %s: %w", op.Target, err)
		}
		slog.Info("Container restarted", "target", op.Target)
		return Result{OK: true, Detail: "container restarted", Duration: time.Since(start)}, nil

	case CategoryInspect:
		detail, err := r.inspectDetail(ctx, op.Target)
		if err != nil {
			return Result{}, err
		}
		return Result{OK: true, Detail: detail, Duration: time.Since(start)}, nil

	default:
		return Result{
			OK:       false,
			Detail:   fmt.Sprintf("category %q not supported by docker runner", op.Category),
			Duration: time.Since(start),
		}, nil
	}
}

// Verify implements Runner. For restarts it confirms the container is
// running again.
func (r *DockerRunner) Verify(ctx context.Context, op Operation) error {
	if op.Category != CategoryRestart || op.Target == "" {
		return nil
	}
	inspect, err := r.cli.ContainerInspect(ctx, op.Target)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return fmt.Errorf("container %q disappeared after restart", op.Target)
		}
		return fmt.Errorf("inspect container %s: %w", op.Target, err)
	}
	if !inspect.State.Running {
		return fmt.Errorf("container %q not running after restart", op.Target)
	}
	return nil
}

func (r *DockerRunner) inspectDetail(ctx context.Context, target string) (string, error) {
	if target == "" {
		return "nothing to inspect", nil
	}
	inspect, err := r.cli.ContainerInspect(ctx, target)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return fmt.Sprintf("container %q not found", target), nil
		}
		return "", fmt.Errorf("inspect container %s: %w", target, err)
	}
	return fmt.Sprintf("container %q status=%s", target, inspect.State.Status), nil
}

var _ Runner = (*DockerRunner)(nil)
