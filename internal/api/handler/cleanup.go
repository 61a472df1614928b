package handler

import (
	"context"
	"net/http"

	"github.com/neuropathbasel/cqmanager/internal/api/response"
	"github.com/neuropathbasel/cqmanager/internal/runtime"
)

// CancelService cancels every queued and in-flight job.
type CancelService interface {
	CancelAll(ctx context.Context) int
}

// CleanupService garbage-collects stopped managed containers.
type CleanupService interface {
	Cleanup(ctx context.Context) (int, error)
	StopByPrefix(ctx context.Context, prefix string) (int, error)
}

// NewStopAllHandler returns the handler for
// GET /CQmanager/stop_all_cqmanager_analysis_and_plotting_containers/.
// It cancels the whole queue (stopping worker containers) and then stops any
// plotting containers that are still running.
func NewStopAllHandler(queue CancelService, containers CleanupService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cancelled := queue.CancelAll(r.Context())
		plottersStopped, err := containers.StopByPrefix(r.Context(), runtime.PlotterNamePrefix)
		if err != nil {
			writeRuntimeError(w, err, "Queue cancelled but plotting containers could not be stopped")
			return
		}
		response.JSON(w, map[string]int{
			"jobs_cancelled":   cancelled,
			"plotters_stopped": plottersStopped,
		})
	}
}

// NewCleanupHandler returns the handler for GET /CQmanager/containers_cleanup/.
func NewCleanupHandler(containers CleanupService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		removed, err := containers.Cleanup(r.Context())
		if err != nil {
			writeRuntimeError(w, err, "Container cleanup failed")
			return
		}
		response.JSON(w, map[string]int{"removed": removed})
	}
}

// FileCleaner removes analysis leftovers from the data directories.
type FileCleaner interface {
	RemoveTemporaryFiles() (int, error)
	RemovePermissionDeniedAnalyses() ([]string, error)
}

// NewRemovePermissionDeniedHandler returns the handler for
// POST /CQmanager/remove_permission_denied_analyses/. It sweeps stale
// temporary files and removes result directories whose analysis failed on a
// permission error, so those samples can be re-analysed.
func NewRemovePermissionDeniedHandler(cleaner FileCleaner) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tempRemoved, err := cleaner.RemoveTemporaryFiles()
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "CLEANUP_FAILED",
				"Failed to remove temporary files", map[string]string{"error": err.Error()})
			return
		}
		removed, err := cleaner.RemovePermissionDeniedAnalyses()
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "CLEANUP_FAILED",
				"Failed to remove permission-denied analyses", map[string]string{"error": err.Error()})
			return
		}
		response.JSON(w, map[string]any{
			"removed_results":    removed,
			"removed_count":      len(removed),
			"temp_files_removed": tempRemoved,
		})
	}
}
