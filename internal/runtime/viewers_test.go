package runtime_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/neuropathbasel/cqmanager/internal/runtime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func testViewers(docker *fakeDocker) *runtime.Viewers {
	return testViewersAddr(docker, "127.0.0.1:1")
}

func testViewersAddr(docker *fakeDocker, redisAddr string) *runtime.Viewers {
	return runtime.NewViewers(docker, runtime.NewProvisioner(docker, 1), runtime.ViewersConfig{
		Network:          "cnquant_network",
		RedisImage:       "redis:7-alpine",
		CQcaseImage:      "neuropathologiebasel/cqcase:latest",
		CQallImage:       "neuropathologiebasel/cqall:latest",
		CQcasePort:       8052,
		CQallPort:        8050,
		RedisAddr:        redisAddr,
		ResultsDirectory: "/srv/results",
	})
}

func TestViewersStart_CreatesNetworkAndStackInOrder(t *testing.T) {
	docker := newFakeDocker()
	viewers := testViewers(docker)
	t.Cleanup(func() { viewers.Close() })

	require.NoError(t, viewers.Start(context.Background()))

	assert.True(t, docker.networks["cnquant_network"])
	assert.Equal(t, []string{runtime.ViewerRedisName, runtime.ViewerAllName, runtime.ViewerCaseName}, docker.createOrder,
		"redis must come up before the viewers that depend on it")
	for _, name := range []string{runtime.ViewerRedisName, runtime.ViewerAllName, runtime.ViewerCaseName} {
		ctr := docker.container(name)
		require.NotNil(t, ctr, name)
		assert.True(t, ctr.running, name)
		assert.Equal(t, "cqmanager", ctr.labels["app"], name)
	}
}

func TestViewersStart_IsIdempotentWhileRunning(t *testing.T) {
	docker := newFakeDocker()
	viewers := testViewers(docker)
	t.Cleanup(func() { viewers.Close() })

	require.NoError(t, viewers.Start(context.Background()))
	firstRedisID := docker.container(runtime.ViewerRedisName).id

	require.NoError(t, viewers.Start(context.Background()))
	assert.Equal(t, firstRedisID, docker.container(runtime.ViewerRedisName).id,
		"running viewers must not be recreated")
}

func TestViewersStart_ReplacesStoppedNameSquatter(t *testing.T) {
	docker := newFakeDocker()
	squatter := docker.addContainer(runtime.ViewerRedisName, "redis:old", false, nil)
	viewers := testViewers(docker)
	t.Cleanup(func() { viewers.Close() })

	require.NoError(t, viewers.Start(context.Background()))

	ctr := docker.container(runtime.ViewerRedisName)
	require.NotNil(t, ctr)
	assert.NotEqual(t, squatter.id, ctr.id)
	assert.True(t, ctr.running)
	assert.Equal(t, "redis:7-alpine", ctr.image)
}

func TestViewersStop_ToleratesMissingContainers(t *testing.T) {
	docker := newFakeDocker()
	viewers := testViewers(docker)
	t.Cleanup(func() { viewers.Close() })

	require.NoError(t, viewers.Stop(context.Background()))

	require.NoError(t, viewers.Start(context.Background()))
	require.NoError(t, viewers.Stop(context.Background()))
	assert.False(t, docker.container(runtime.ViewerRedisName).running)
	assert.False(t, docker.container(runtime.ViewerCaseName).running)
}

func TestViewersHealth_ReportsPerViewerStatus(t *testing.T) {
	docker := newFakeDocker()
	docker.addContainer(runtime.ViewerRedisName, "redis:7-alpine", true, nil)
	docker.addContainer(runtime.ViewerCaseName, "cqcase", false, nil)
	viewers := testViewers(docker)
	t.Cleanup(func() { viewers.Close() })

	health := viewers.Health(context.Background())
	assert.Equal(t, runtime.StatusRunning, health[runtime.ViewerRedisName])
	assert.Equal(t, runtime.StatusExited, health[runtime.ViewerCaseName])
	assert.Equal(t, runtime.StatusMissing, health[runtime.ViewerAllName])
	assert.Equal(t, "unreachable", health["redis_ping"])
}

func TestViewersHealth_RedisRoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	redisC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForListeningPort("6379/tcp").WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = redisC.Terminate(ctx) })

	host, err := redisC.Host(ctx)
	require.NoError(t, err)
	port, err := redisC.MappedPort(ctx, "6379")
	require.NoError(t, err)

	docker := newFakeDocker()
	viewers := testViewersAddr(docker, fmt.Sprintf("%s:%s", host, port.Port()))
	t.Cleanup(func() { viewers.Close() })

	health := viewers.Health(ctx)
	assert.Equal(t, "ok", health["redis_ping"])
}
