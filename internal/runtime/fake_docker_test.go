package runtime_test

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	cerrdefs "github.com/containerd/errdefs"
	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

// fakeDocker is an in-memory stand-in for the Docker daemon.
type fakeDocker struct {
	mu sync.Mutex

	pingErr error

	images       map[string]bool
	pullCount    map[string]int
	pullFailures map[string]int // remaining pulls that fail per image
	pullGate     chan struct{}  // if set, pulls block until the gate closes

	nextID     int
	containers map[string]*fakeContainer
	networks   map[string]bool

	createOrder []string
	removed     []string
}

type fakeContainer struct {
	id       string
	name     string
	image    string
	cmd      []string
	env      []string
	labels   map[string]string
	binds    []string
	running  bool
	exitCode int
	waitCh   chan container.WaitResponse
}

func newFakeDocker() *fakeDocker {
	return &fakeDocker{
		images:       make(map[string]bool),
		pullCount:    make(map[string]int),
		pullFailures: make(map[string]int),
		containers:   make(map[string]*fakeContainer),
		networks:     make(map[string]bool),
	}
}

func notFoundErr(what string) error {
	return fmt.Errorf("%s: %w", what, cerrdefs.ErrNotFound)
}

func (f *fakeDocker) Ping(_ context.Context) (types.Ping, error) {
	return types.Ping{}, f.pingErr
}

func (f *fakeDocker) ImageList(_ context.Context, options image.ListOptions) ([]image.Summary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	refs := options.Filters.Get("reference")
	var out []image.Summary
	for _, ref := range refs {
		if f.images[ref] {
			out = append(out, image.Summary{ID: "sha256:" + ref})
		}
	}
	return out, nil
}

func (f *fakeDocker) ImagePull(ctx context.Context, refStr string, _ image.PullOptions) (io.ReadCloser, error) {
	f.mu.Lock()
	f.pullCount[refStr]++
	gate := f.pullGate
	if f.pullFailures[refStr] > 0 {
		f.pullFailures[refStr]--
		f.mu.Unlock()
		return nil, fmt.Errorf("pull access denied for %s", refStr)
	}
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	f.images[refStr] = true
	f.mu.Unlock()
	return io.NopCloser(strings.NewReader(`{"status":"Pull complete"}`)), nil
}

func (f *fakeDocker) ContainerCreate(_ context.Context, config *container.Config, hostConfig *container.HostConfig,
	_ *network.NetworkingConfig, _ *ocispec.Platform, containerName string) (container.CreateResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ctr := range f.containers {
		if ctr.name == containerName {
			return container.CreateResponse{}, fmt.Errorf("container name %q already in use", containerName)
		}
	}
	f.nextID++
	ctr := &fakeContainer{
		id:     fmt.Sprintf("fake-%d", f.nextID),
		name:   containerName,
		image:  config.Image,
		cmd:    config.Cmd,
		env:    config.Env,
		labels: config.Labels,
		waitCh: make(chan container.WaitResponse, 1),
	}
	if hostConfig != nil {
		ctr.binds = hostConfig.Binds
	}
	f.containers[ctr.id] = ctr
	f.createOrder = append(f.createOrder, containerName)
	return container.CreateResponse{ID: ctr.id}, nil
}

func (f *fakeDocker) ContainerStart(_ context.Context, containerID string, _ container.StartOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	ctr, ok := f.lookup(containerID)
	if !ok {
		return notFoundErr("no such container " + containerID)
	}
	ctr.running = true
	return nil
}

func (f *fakeDocker) ContainerStop(_ context.Context, containerID string, _ container.StopOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	ctr, ok := f.lookup(containerID)
	if !ok {
		return notFoundErr("no such container " + containerID)
	}
	ctr.running = false
	return nil
}

func (f *fakeDocker) ContainerRemove(_ context.Context, containerID string, _ container.RemoveOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	ctr, ok := f.lookup(containerID)
	if !ok {
		return notFoundErr("no such container " + containerID)
	}
	delete(f.containers, ctr.id)
	f.removed = append(f.removed, ctr.name)
	return nil
}

func (f *fakeDocker) ContainerInspect(_ context.Context, containerID string) (container.InspectResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ctr, ok := f.lookup(containerID)
	if !ok {
		return container.InspectResponse{}, notFoundErr("no such container " + containerID)
	}
	return container.InspectResponse{
		ContainerJSONBase: &container.ContainerJSONBase{
			ID:   ctr.id,
			Name: "/" + ctr.name,
			State: &container.State{
				Running:  ctr.running,
				ExitCode: ctr.exitCode,
			},
		},
		Config: &container.Config{Image: ctr.image, Labels: ctr.labels},
	}, nil
}

func (f *fakeDocker) ContainerList(_ context.Context, options container.ListOptions) ([]container.Summary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	labelFilters := options.Filters.Get("label")
	var out []container.Summary
	for _, ctr := range f.containers {
		if !options.All && !ctr.running {
			continue
		}
		if !matchesLabels(ctr.labels, labelFilters) {
			continue
		}
		state := container.StateExited
		if ctr.running {
			state = container.StateRunning
		}
		out = append(out, container.Summary{
			ID:     ctr.id,
			Names:  []string{"/" + ctr.name},
			Image:  ctr.image,
			Labels: ctr.labels,
			State:  state,
			Status: string(state),
		})
	}
	return out, nil
}

func (f *fakeDocker) ContainerWait(_ context.Context, containerID string, _ container.WaitCondition) (<-chan container.WaitResponse, <-chan error) {
	errCh := make(chan error, 1)
	f.mu.Lock()
	ctr, ok := f.lookup(containerID)
	f.mu.Unlock()
	if !ok {
		errCh <- notFoundErr("no such container " + containerID)
		return make(chan container.WaitResponse), errCh
	}
	return ctr.waitCh, errCh
}

func (f *fakeDocker) NetworkInspect(_ context.Context, networkID string, _ network.InspectOptions) (network.Inspect, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.networks[networkID] {
		return network.Inspect{}, notFoundErr("no such network " + networkID)
	}
	return network.Inspect{Name: networkID}, nil
}

func (f *fakeDocker) NetworkCreate(_ context.Context, name string, _ network.CreateOptions) (network.CreateResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.networks[name] = true
	return network.CreateResponse{ID: "net-" + name}, nil
}

// lookup resolves either a container id or name. Caller holds the lock.
func (f *fakeDocker) lookup(ref string) (*fakeContainer, bool) {
	if ctr, ok := f.containers[ref]; ok {
		return ctr, true
	}
	for _, ctr := range f.containers {
		if ctr.name == ref {
			return ctr, true
		}
	}
	return nil, false
}

// exit marks a running container as exited and releases its waiters.
func (f *fakeDocker) exit(ref string, code int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ctr, ok := f.lookup(ref)
	if !ok {
		return
	}
	ctr.running = false
	ctr.exitCode = code
	ctr.waitCh <- container.WaitResponse{StatusCode: int64(code)}
}

// addContainer seeds a container without going through create/start.
func (f *fakeDocker) addContainer(name, imageRef string, running bool, labels map[string]string) *fakeContainer {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	ctr := &fakeContainer{
		id:      fmt.Sprintf("fake-%d", f.nextID),
		name:    name,
		image:   imageRef,
		labels:  labels,
		running: running,
		waitCh:  make(chan container.WaitResponse, 1),
	}
	f.containers[ctr.id] = ctr
	return ctr
}

func (f *fakeDocker) container(name string) *fakeContainer {
	f.mu.Lock()
	defer f.mu.Unlock()
	ctr, _ := f.lookup(name)
	return ctr
}

func matchesLabels(labels map[string]string, wanted []string) bool {
	for _, filter := range wanted {
		key, value, hasValue := strings.Cut(filter, "=")
		got, ok := labels[key]
		if !ok || (hasValue && got != value) {
			return false
		}
	}
	return true
}
