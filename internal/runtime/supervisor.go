package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	cerrdefs "github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/google/uuid"
)

// ErrRuntimeUnavailable means the Docker daemon could not be reached.
var ErrRuntimeUnavailable = errors.New("container runtime unavailable")

// Observed container states reported by InspectState.
const (
	StatusRunning = "running"
	StatusExited  = "exited"
	StatusMissing = "missing"
)

// State is the observed state of a managed container.
type State struct {
	Status   string
	ExitCode int
}

// ContainerInfo describes one managed container for status reporting.
type ContainerInfo struct {
	Name   string `json:"name"`
	Image  string `json:"image"`
	Status string `json:"status"`
}

// SupervisorConfig wires the Supervisor to the host layout.
type SupervisorConfig struct {
	WorkerImage      string
	PlotterImage     string
	Network          string
	IdatDirectory    string
	ResultsDirectory string
	StopTimeout      time.Duration
}

// Supervisor starts, stops and inspects the containers this service owns.
type Supervisor struct {
	docker DockerAPI
	cfg    SupervisorConfig
}

func NewSupervisor(docker DockerAPI, cfg SupervisorConfig) *Supervisor {
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = 10 * time.Second
	}
	return &Supervisor{docker: docker, cfg: cfg}
}

// Ping reports whether the Docker daemon is reachable.
func (s *Supervisor) Ping(ctx context.Context) error {
	if _, err := s.docker.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrRuntimeUnavailable, err)
	}
	return nil
}

// StartWorker creates and starts one analysis worker container.
func (s *Supervisor) StartWorker(ctx context.Context, name string, cmd []string) (string, error) {
	return s.startEphemeral(ctx, s.cfg.WorkerImage, name, cmd)
}

// StartPlotter creates and starts one summary plotting container with a
// generated name. Returns the container name and id.
func (s *Supervisor) StartPlotter(ctx context.Context, cmd []string) (string, string, error) {
	name := PlotterNamePrefix + uuid.New().String()
	id, err := s.startEphemeral(ctx, s.cfg.PlotterImage, name, cmd)
	if err != nil {
		return "", "", err
	}
	return name, id, nil
}

// startEphemeral creates and starts a labelled one-shot container with the
// data directories mounted. The idat directory is read only.
func (s *Supervisor) startEphemeral(ctx context.Context, imageRef, name string, cmd []string) (string, error) {
	created, err := s.docker.ContainerCreate(ctx,
		&container.Config{
			Image:  imageRef,
			Cmd:    cmd,
			Labels: map[string]string{labelKey: labelValue},
		},
		&container.HostConfig{
			Binds: []string{
				s.cfg.IdatDirectory + ":/data/idat:ro",
				s.cfg.ResultsDirectory + ":/data/results",
			},
			NetworkMode: container.NetworkMode(s.cfg.Network),
		},
		nil, nil, name)
	if err != nil {
		return "", fmt.Errorf("creating container %s: %w", name, err)
	}

	if err := s.docker.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		// Do not leave a created-but-never-started container behind.
		if rmErr := s.docker.ContainerRemove(ctx, created.ID, container.RemoveOptions{Force: true}); rmErr != nil {
			slog.Error("failed to remove unstartable container", "container", name, "error", rmErr)
		}
		return "", fmt.Errorf("starting container %s: %w", name, err)
	}

	slog.Info("container started", "container", name, "image", imageRef)
	return created.ID, nil
}

// WaitExit blocks until the container stops running and returns its exit code.
func (s *Supervisor) WaitExit(ctx context.Context, containerID string) (int, error) {
	waitCh, errCh := s.docker.ContainerWait(ctx, containerID, container.WaitConditionNotRunning)
	select {
	case resp := <-waitCh:
		if resp.Error != nil {
			return 0, fmt.Errorf("waiting for container %s: %s", containerID, resp.Error.Message)
		}
		return int(resp.StatusCode), nil
	case err := <-errCh:
		return 0, fmt.Errorf("waiting for container %s: %w", containerID, err)
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// InspectState reports the observed state of a container. A container the
// daemon no longer knows about is reported as StatusMissing, not an error;
// daemon failures are errors so callers can tell the two apart.
func (s *Supervisor) InspectState(ctx context.Context, containerID string) (State, error) {
	resp, err := s.docker.ContainerInspect(ctx, containerID)
	if err != nil {
		if cerrdefs.IsNotFound(err) {
			return State{Status: StatusMissing}, nil
		}
		return State{}, fmt.Errorf("inspecting container %s: %w", containerID, err)
	}
	if resp.State != nil && resp.State.Running {
		return State{Status: StatusRunning}, nil
	}
	state := State{Status: StatusExited}
	if resp.State != nil {
		state.ExitCode = resp.State.ExitCode
	}
	return state, nil
}

// StopAndRemove stops a container and removes it. A container that is
// already gone is not an error.
func (s *Supervisor) StopAndRemove(ctx context.Context, containerID string) error {
	timeout := int(s.cfg.StopTimeout.Seconds())
	if err := s.docker.ContainerStop(ctx, containerID, container.StopOptions{Timeout: &timeout}); err != nil && !cerrdefs.IsNotFound(err) {
		return fmt.Errorf("stopping container %s: %w", containerID, err)
	}
	if err := s.docker.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true}); err != nil && !cerrdefs.IsNotFound(err) {
		return fmt.Errorf("removing container %s: %w", containerID, err)
	}
	return nil
}

// StopByPrefix stops and removes every managed container whose name starts
// with prefix. Returns how many were stopped.
func (s *Supervisor) StopByPrefix(ctx context.Context, prefix string) (int, error) {
	summaries, err := s.listManaged(ctx, true)
	if err != nil {
		return 0, err
	}
	stopped := 0
	for _, summary := range summaries {
		if !nameHasPrefix(summary, prefix) {
			continue
		}
		if err := s.StopAndRemove(ctx, summary.ID); err != nil {
			return stopped, err
		}
		stopped++
	}
	return stopped, nil
}

// Cleanup removes every managed container that is not running. Stale exited
// workers and plotters accumulate otherwise, since names must stay unique.
func (s *Supervisor) Cleanup(ctx context.Context) (int, error) {
	summaries, err := s.listManaged(ctx, true)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, summary := range summaries {
		if summary.State == container.StateRunning {
			continue
		}
		if err := s.docker.ContainerRemove(ctx, summary.ID, container.RemoveOptions{Force: true}); err != nil {
			if cerrdefs.IsNotFound(err) {
				continue
			}
			return removed, fmt.Errorf("removing container %s: %w", summary.ID, err)
		}
		removed++
	}
	slog.Info("container cleanup finished", "removed", removed)
	return removed, nil
}

// ListContainers reports all managed containers, running or not.
func (s *Supervisor) ListContainers(ctx context.Context) ([]ContainerInfo, error) {
	summaries, err := s.listManaged(ctx, true)
	if err != nil {
		return nil, err
	}
	infos := make([]ContainerInfo, 0, len(summaries))
	for _, summary := range summaries {
		infos = append(infos, ContainerInfo{
			Name:   primaryName(summary),
			Image:  summary.Image,
			Status: summary.Status,
		})
	}
	return infos, nil
}

func (s *Supervisor) listManaged(ctx context.Context, all bool) ([]container.Summary, error) {
	summaries, err := s.docker.ContainerList(ctx, container.ListOptions{
		All:     all,
		Filters: filters.NewArgs(filters.Arg("label", labelKey+"="+labelValue)),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: listing containers: %v", ErrRuntimeUnavailable, err)
	}
	return summaries, nil
}

func nameHasPrefix(summary container.Summary, prefix string) bool {
	for _, name := range summary.Names {
		if strings.HasPrefix(strings.TrimPrefix(name, "/"), prefix) {
			return true
		}
	}
	return false
}

func primaryName(summary container.Summary) string {
	if len(summary.Names) == 0 {
		return summary.ID
	}
	return strings.TrimPrefix(summary.Names[0], "/")
}
