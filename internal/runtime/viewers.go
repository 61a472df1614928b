package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	cerrdefs "github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/go-connections/nat"
	"github.com/redis/go-redis/v9"
)

// ViewersConfig wires the viewer stack: the result browsers (cqcase, cqall)
// and the Redis instance cqall uses as its cache.
type ViewersConfig struct {
	Network          string
	RedisImage       string
	CQcaseImage      string
	CQallImage       string
	CQcasePort       int
	CQallPort        int
	RedisAddr        string
	ResultsDirectory string
	StopTimeout      time.Duration
}

// Viewers manages the long-lived viewer containers. Unlike workers these
// have fixed names and survive across analysis runs.
type Viewers struct {
	docker      DockerAPI
	provisioner *Provisioner
	cfg         ViewersConfig
	redis       *redis.Client
}

func NewViewers(docker DockerAPI, provisioner *Provisioner, cfg ViewersConfig) *Viewers {
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = 10 * time.Second
	}
	return &Viewers{
		docker:      docker,
		provisioner: provisioner,
		cfg:         cfg,
		redis:       redis.NewClient(&redis.Options{Addr: cfg.RedisAddr}),
	}
}

type viewerSpec struct {
	name  string
	image string
	ports nat.PortMap
	env   []string
}

// specs returns the viewer containers in start order. Redis comes first
// because cqall connects to it on startup.
func (v *Viewers) specs() []viewerSpec {
	return []viewerSpec{
		{
			name:  ViewerRedisName,
			image: v.cfg.RedisImage,
			ports: hostBinding(6379, 6379),
		},
		{
			name:  ViewerAllName,
			image: v.cfg.CQallImage,
			ports: hostBinding(v.cfg.CQallPort, v.cfg.CQallPort),
			env:   []string{"REDIS_HOST=" + ViewerRedisName},
		},
		{
			name:  ViewerCaseName,
			image: v.cfg.CQcaseImage,
			ports: hostBinding(v.cfg.CQcasePort, v.cfg.CQcasePort),
		},
	}
}

// Start brings up the whole viewer stack. Already running viewers are left
// alone; stopped containers squatting a viewer name are replaced.
func (v *Viewers) Start(ctx context.Context) error {
	if err := v.ensureNetwork(ctx); err != nil {
		return err
	}
	for _, spec := range v.specs() {
		if err := v.startViewer(ctx, spec); err != nil {
			return err
		}
	}
	return nil
}

// Stop gracefully stops every viewer container. Missing viewers are skipped.
func (v *Viewers) Stop(ctx context.Context) error {
	timeout := int(v.cfg.StopTimeout.Seconds())
	for _, spec := range v.specs() {
		err := v.docker.ContainerStop(ctx, spec.name, container.StopOptions{Timeout: &timeout})
		if err != nil && !cerrdefs.IsNotFound(err) {
			return fmt.Errorf("stopping viewer %s: %w", spec.name, err)
		}
	}
	slog.Info("viewer stack stopped")
	return nil
}

// Health reports per-viewer container status plus a Redis round trip.
func (v *Viewers) Health(ctx context.Context) map[string]string {
	health := make(map[string]string, 4)
	for _, spec := range v.specs() {
		resp, err := v.docker.ContainerInspect(ctx, spec.name)
		switch {
		case cerrdefs.IsNotFound(err):
			health[spec.name] = StatusMissing
		case err != nil:
			health[spec.name] = "unknown"
		case resp.State != nil && resp.State.Running:
			health[spec.name] = StatusRunning
		default:
			health[spec.name] = StatusExited
		}
	}
	if err := v.redis.Ping(ctx).Err(); err != nil {
		health["redis_ping"] = "unreachable"
	} else {
		health["redis_ping"] = "ok"
	}
	return health
}

// Close releases the Redis health client.
func (v *Viewers) Close() error {
	return v.redis.Close()
}

func (v *Viewers) ensureNetwork(ctx context.Context) error {
	_, err := v.docker.NetworkInspect(ctx, v.cfg.Network, network.InspectOptions{})
	if err == nil {
		return nil
	}
	if !cerrdefs.IsNotFound(err) {
		return fmt.Errorf("inspecting network %s: %w", v.cfg.Network, err)
	}
	if _, err := v.docker.NetworkCreate(ctx, v.cfg.Network, network.CreateOptions{Driver: "bridge"}); err != nil {
		return fmt.Errorf("creating network %s: %w", v.cfg.Network, err)
	}
	slog.Info("network created", "network", v.cfg.Network)
	return nil
}

func (v *Viewers) startViewer(ctx context.Context, spec viewerSpec) error {
	resp, err := v.docker.ContainerInspect(ctx, spec.name)
	if err == nil {
		if resp.State != nil && resp.State.Running {
			slog.Debug("viewer already running", "viewer", spec.name)
			return nil
		}
		// A stopped container holds the name; replace it.
		if err := v.docker.ContainerRemove(ctx, spec.name, container.RemoveOptions{Force: true}); err != nil && !cerrdefs.IsNotFound(err) {
			return fmt.Errorf("removing stopped viewer %s: %w", spec.name, err)
		}
	} else if !cerrdefs.IsNotFound(err) {
		return fmt.Errorf("inspecting viewer %s: %w", spec.name, err)
	}

	if err := v.provisioner.Ensure(ctx, spec.image); err != nil {
		return err
	}

	exposed := nat.PortSet{}
	for port := range spec.ports {
		exposed[port] = struct{}{}
	}
	created, err := v.docker.ContainerCreate(ctx,
		&container.Config{
			Image:        spec.image,
			Env:          spec.env,
			Labels:       map[string]string{labelKey: labelValue},
			ExposedPorts: exposed,
		},
		&container.HostConfig{
			Binds:         []string{v.cfg.ResultsDirectory + ":/data/results:ro"},
			PortBindings:  spec.ports,
			NetworkMode:   container.NetworkMode(v.cfg.Network),
			RestartPolicy: container.RestartPolicy{Name: container.RestartPolicyUnlessStopped},
		},
		nil, nil, spec.name)
	if err != nil {
		return fmt.Errorf("creating viewer %s: %w", spec.name, err)
	}
	if err := v.docker.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		return fmt.Errorf("starting viewer %s: %w", spec.name, err)
	}
	slog.Info("viewer started", "viewer", spec.name, "image", spec.image)
	return nil
}

func hostBinding(hostPort, containerPort int) nat.PortMap {
	port := nat.Port(fmt.Sprintf("%d/tcp", containerPort))
	return nat.PortMap{
		port: []nat.PortBinding{{
			HostIP:   "0.0.0.0",
			HostPort: fmt.Sprintf("%d", hostPort),
		}},
	}
}
