package handler_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/neuropathbasel/cqmanager/internal/api/handler"
	"github.com/neuropathbasel/cqmanager/internal/runtime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- stubs ---

type stubPlotter struct {
	startErr    error
	stopErr     error
	started     [][]string
	stopPrefix  string
	stopCount   int
	cleanupErr  error
	cleanupN    int
	cleanupRuns int
}

func (s *stubPlotter) StartPlotter(_ context.Context, cmd []string) (string, string, error) {
	if s.startErr != nil {
		return "", "", s.startErr
	}
	s.started = append(s.started, cmd)
	return runtime.PlotterNamePrefix + "abc", "ctr-1", nil
}

func (s *stubPlotter) StopByPrefix(_ context.Context, prefix string) (int, error) {
	if s.stopErr != nil {
		return 0, s.stopErr
	}
	s.stopPrefix = prefix
	return s.stopCount, nil
}

func (s *stubPlotter) Cleanup(_ context.Context) (int, error) {
	s.cleanupRuns++
	return s.cleanupN, s.cleanupErr
}

type stubCancel struct {
	cancelled int
}

func (s *stubCancel) CancelAll(context.Context) int { return s.cancelled }

type stubViewers struct {
	startErr error
	stopErr  error
	health   map[string]string
	started  bool
	stopped  bool
}

func (s *stubViewers) Start(context.Context) error {
	s.started = true
	return s.startErr
}

func (s *stubViewers) Stop(context.Context) error {
	s.stopped = true
	return s.stopErr
}

func (s *stubViewers) Health(context.Context) map[string]string { return s.health }

// --- POST /make_summary_plots/ ---

func TestMakeSummaryPlots_StartsPlotterContainer(t *testing.T) {
	plotter := &stubPlotter{}
	h := handler.NewMakeSummaryPlotsHandler(plotter, testLimits())

	rec, env := doJSON(t, h, http.MethodPost, "/CQmanager/make_summary_plots/",
		map[string]any{"methylation_classes": []string{"GBM", "PA"}})
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Nil(t, env.Error)

	require.Len(t, plotter.started, 1)
	cmd := plotter.started[0]
	assert.Contains(t, cmd, "--preprocessing_method")
	assert.Contains(t, cmd, "illumina")
	assert.Contains(t, cmd, "GBM")
	assert.Contains(t, cmd, "PA")

	var data map[string]string
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.Equal(t, runtime.PlotterNamePrefix+"abc", data["container_name"])
}

func TestMakeSummaryPlots_RejectsUnknownMethod(t *testing.T) {
	h := handler.NewMakeSummaryPlotsHandler(&stubPlotter{}, testLimits())

	rec, env := doJSON(t, h, http.MethodPost, "/CQmanager/make_summary_plots/",
		map[string]any{"preprocessing_method": "noob"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "INVALID_REQUEST", env.Error.Code)
}

func TestMakeSummaryPlots_RuntimeUnavailable(t *testing.T) {
	plotter := &stubPlotter{startErr: runtime.ErrRuntimeUnavailable}
	h := handler.NewMakeSummaryPlotsHandler(plotter, testLimits())

	rec, env := doJSON(t, h, http.MethodPost, "/CQmanager/make_summary_plots/", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "RUNTIME_UNAVAILABLE", env.Error.Code)
}

func TestMakeSummaryPlots_ProvisioningFailed(t *testing.T) {
	plotter := &stubPlotter{startErr: runtime.ErrProvisioning}
	h := handler.NewMakeSummaryPlotsHandler(plotter, testLimits())

	rec, env := doJSON(t, h, http.MethodPost, "/CQmanager/make_summary_plots/", nil)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "PROVISIONING_FAILED", env.Error.Code)
}

// --- GET /stop_summary_plotting_container/ ---

func TestStopPlotters_ReportsStoppedCount(t *testing.T) {
	plotter := &stubPlotter{stopCount: 2}
	h := handler.NewStopPlottersHandler(plotter)

	rec, env := doJSON(t, h, http.MethodGet, "/CQmanager/stop_summary_plotting_container/", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Nil(t, env.Error)
	assert.Equal(t, runtime.PlotterNamePrefix, plotter.stopPrefix)

	var data map[string]int
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.Equal(t, 2, data["stopped"])
}

// --- GET /stop_all.../ and /containers_cleanup/ ---

func TestStopAll_CancelsQueueAndStopsPlotters(t *testing.T) {
	queue := &stubCancel{cancelled: 4}
	plotter := &stubPlotter{stopCount: 1}
	h := handler.NewStopAllHandler(queue, plotter)

	rec, env := doJSON(t, h, http.MethodGet, "/CQmanager/stop_all_cqmanager_analysis_and_plotting_containers/", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Nil(t, env.Error)

	var data map[string]int
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.Equal(t, 4, data["jobs_cancelled"])
	assert.Equal(t, 1, data["plotters_stopped"])
}

func TestCleanup_ReportsRemovedCount(t *testing.T) {
	plotter := &stubPlotter{cleanupN: 3}
	h := handler.NewCleanupHandler(plotter)

	rec, env := doJSON(t, h, http.MethodGet, "/CQmanager/containers_cleanup/", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Nil(t, env.Error)

	var data map[string]int
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.Equal(t, 3, data["removed"])
	assert.Equal(t, 1, plotter.cleanupRuns)
}

func TestCleanup_RuntimeUnavailable(t *testing.T) {
	plotter := &stubPlotter{cleanupErr: runtime.ErrRuntimeUnavailable}
	h := handler.NewCleanupHandler(plotter)

	rec, env := doJSON(t, h, http.MethodGet, "/CQmanager/containers_cleanup/", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "RUNTIME_UNAVAILABLE", env.Error.Code)
}

// --- POST /remove_permission_denied_analyses/ ---

type stubFileCleaner struct {
	tempRemoved int
	tempErr     error
	removed     []string
	removeErr   error
}

func (s *stubFileCleaner) RemoveTemporaryFiles() (int, error) {
	return s.tempRemoved, s.tempErr
}

func (s *stubFileCleaner) RemovePermissionDeniedAnalyses() ([]string, error) {
	return s.removed, s.removeErr
}

func TestRemovePermissionDenied_ReportsRemovedAnalyses(t *testing.T) {
	cleaner := &stubFileCleaner{tempRemoved: 2, removed: []string{"207513420001_R01C01"}}
	h := handler.NewRemovePermissionDeniedHandler(cleaner)

	rec, env := doJSON(t, h, http.MethodPost, "/CQmanager/remove_permission_denied_analyses/", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Nil(t, env.Error)

	var data struct {
		RemovedResults   []string `json:"removed_results"`
		RemovedCount     int      `json:"removed_count"`
		TempFilesRemoved int      `json:"temp_files_removed"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.Equal(t, []string{"207513420001_R01C01"}, data.RemovedResults)
	assert.Equal(t, 1, data.RemovedCount)
	assert.Equal(t, 2, data.TempFilesRemoved)
}

func TestRemovePermissionDenied_SweepFailure(t *testing.T) {
	cleaner := &stubFileCleaner{removeErr: errors.New("walk failed")}
	h := handler.NewRemovePermissionDeniedHandler(cleaner)

	rec, env := doJSON(t, h, http.MethodPost, "/CQmanager/remove_permission_denied_analyses/", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "CLEANUP_FAILED", env.Error.Code)
}

// --- viewer lifecycle ---

func TestStartViewers(t *testing.T) {
	viewers := &stubViewers{}
	h := handler.NewStartViewersHandler(viewers)

	rec, env := doJSON(t, h, http.MethodGet, "/CQmanager/start_cqviewers/", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Nil(t, env.Error)
	assert.True(t, viewers.started)
}

func TestStopViewers(t *testing.T) {
	viewers := &stubViewers{}
	h := handler.NewStopViewersHandler(viewers)

	rec, env := doJSON(t, h, http.MethodGet, "/CQmanager/stop_cqviewers/", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Nil(t, env.Error)
	assert.True(t, viewers.stopped)
}

func TestCheckViewers_ReturnsHealthMap(t *testing.T) {
	viewers := &stubViewers{health: map[string]string{
		"cqcase": "running", "cnquant_redis": "missing", "redis_ping": "unreachable",
	}}
	h := handler.NewCheckViewersHandler(viewers)

	rec, env := doJSON(t, h, http.MethodGet, "/CQmanager/check_cqviewers_containers/", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Nil(t, env.Error)

	var data map[string]string
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.Equal(t, "running", data["cqcase"])
	assert.Equal(t, "missing", data["cnquant_redis"])
}

func TestStartViewers_RuntimeUnavailable(t *testing.T) {
	viewers := &stubViewers{startErr: runtime.ErrRuntimeUnavailable}
	h := handler.NewStartViewersHandler(viewers)

	rec, env := doJSON(t, h, http.MethodGet, "/CQmanager/start_cqviewers/", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "RUNTIME_UNAVAILABLE", env.Error.Code)
}
