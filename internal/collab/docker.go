package collab

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
)

// DockerFabrication runs each queued print job in its own slicer
// container rather than in-process, so a bad job spec (or a slicer
// that hangs) can't take the executor down with it. It implements only
// FabricationCollaborator: research/KB collaborators have no sandboxing
// need and stay on InProcess (or a future HTTP-backed implementation).
type DockerFabrication struct {
	cli   *client.Client
	image string
	log   *slog.Logger

	mu   sync.Mutex
	jobs map[string]string // job id -> container id
}

func NewDockerFabrication(image string, log *slog.Logger) (*DockerFabrication, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("collab: docker client: %w", err)
	}
	if log == nil {
		log = slog.Default()
	}
	if image == "" {
		image = "autonomy-core-slicer:latest"
	}
	return &DockerFabrication{cli: cli, image: image, log: log, jobs: make(map[string]string)}, nil
}

func (d *DockerFabrication) QueuePrint(ctx context.Context, spec map[string]any) (string, error) {
	payload, err := json.Marshal(spec)
	if err != nil {
		return "", fmt.Errorf("collab: marshal print spec: %w", err)
	}

	name := fmt.Sprintf("autonomy-print-%d", time.Now().UnixNano())
	cfg := &container.Config{
		Image: d.image,
		Cmd:   []string{"slice-and-print", string(payload)},
		Tty:   false,
	}
	resp, err := d.cli.ContainerCreate(ctx, cfg, &container.HostConfig{AutoRemove: false}, nil, nil, name)
	if err != nil {
		return "", fmt.Errorf("collab: create print container: %w", err)
	}
	if err := d.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return "", fmt.Errorf("collab: start print container: %w", err)
	}

	d.mu.Lock()
	d.jobs[resp.ID] = resp.ID
	d.mu.Unlock()

	d.log.Info("collab.docker.queue_print", "job_id", resp.ID)
	return resp.ID, nil
}

func (d *DockerFabrication) PrintOutcome(ctx context.Context, jobID string) (PrintOutcome, error) {
	d.mu.Lock()
	containerID, ok := d.jobs[jobID]
	d.mu.Unlock()
	if !ok {
		return PrintOutcome{}, fmt.Errorf("collab: unknown print job %q", jobID)
	}

	inspect, err := d.cli.ContainerInspect(ctx, containerID)
	if err != nil {
		return PrintOutcome{}, fmt.Errorf("collab: inspect print container: %w", err)
	}
	if inspect.State.Running {
		return PrintOutcome{}, fmt.Errorf("collab: print job %q still running", jobID)
	}

	outcome := PrintOutcome{Success: inspect.State.ExitCode == 0}
	if !outcome.Success {
		outcome.FailureReason = fmt.Sprintf("slicer exited %d", inspect.State.ExitCode)
	}
	if startedAt, err := time.Parse(time.RFC3339Nano, inspect.State.StartedAt); err == nil {
		if finishedAt, err := time.Parse(time.RFC3339Nano, inspect.State.FinishedAt); err == nil {
			outcome.DurationHours = finishedAt.Sub(startedAt).Hours()
		}
	}

	d.cli.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true})
	d.mu.Lock()
	delete(d.jobs, jobID)
	d.mu.Unlock()

	return outcome, nil
}
