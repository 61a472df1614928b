package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/neuropathbasel/cqmanager/internal/api/response"
	"github.com/neuropathbasel/cqmanager/internal/config"
	"github.com/neuropathbasel/cqmanager/internal/runtime"
)

// PlotterService starts and stops summary plotting containers.
type PlotterService interface {
	StartPlotter(ctx context.Context, cmd []string) (name string, containerID string, err error)
	StopByPrefix(ctx context.Context, prefix string) (int, error)
}

// NewMakeSummaryPlotsHandler returns the handler for POST /CQmanager/make_summary_plots/.
func NewMakeSummaryPlotsHandler(plotter PlotterService, limits Limits) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			PreprocessingMethod  string   `json:"preprocessing_method"`
			MethylationClasses   []string `json:"methylation_classes"`
			BinSize              int      `json:"bin_size"`
			MinSentrixIDsPerPlot int      `json:"min_sentrix_ids_per_plot"`
		}
		if r.Body != nil && r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
				return
			}
		}

		if req.PreprocessingMethod == "" {
			req.PreprocessingMethod = "illumina"
		}
		if !config.PreprocessingMethodValid(req.PreprocessingMethod) {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
				"preprocessing_method "+strconv.Quote(req.PreprocessingMethod)+" is not supported", nil)
			return
		}
		if req.BinSize == 0 {
			req.BinSize = limits.DefaultBinSize
		}
		if req.BinSize < limits.MinBinSize || req.BinSize > limits.MaxBinSize {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
				"bin_size is out of range", nil)
			return
		}
		if req.MinSentrixIDsPerPlot < 0 {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
				"min_sentrix_ids_per_plot must not be negative", nil)
			return
		}
		if req.MinSentrixIDsPerPlot == 0 {
			req.MinSentrixIDsPerPlot = 5
		}

		cmd := []string{
			"cqall_plotter",
			"--preprocessing_method", req.PreprocessingMethod,
			"--bin_size", strconv.Itoa(req.BinSize),
			"--min_sentrix_ids_per_plot", strconv.Itoa(req.MinSentrixIDsPerPlot),
		}
		for _, class := range req.MethylationClasses {
			cmd = append(cmd, "--methylation_class", class)
		}

		name, containerID, err := plotter.StartPlotter(r.Context(), cmd)
		if err != nil {
			writeRuntimeError(w, err, "Could not start the plotting container")
			return
		}

		response.Accepted(w, map[string]string{
			"container_name": name,
			"container_id":   containerID,
		})
	}
}

// NewStopPlottersHandler returns the handler for GET /CQmanager/stop_summary_plotting_container/.
func NewStopPlottersHandler(plotter PlotterService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stopped, err := plotter.StopByPrefix(r.Context(), runtime.PlotterNamePrefix)
		if err != nil {
			writeRuntimeError(w, err, "Could not stop the plotting containers")
			return
		}
		response.JSON(w, map[string]int{"stopped": stopped})
	}
}

// writeRuntimeError maps container-runtime failures onto the error envelope.
func writeRuntimeError(w http.ResponseWriter, err error, message string) {
	switch {
	case errors.Is(err, runtime.ErrRuntimeUnavailable):
		response.Error(w, http.StatusServiceUnavailable, "RUNTIME_UNAVAILABLE",
			"The container runtime is not reachable", nil)
	case errors.Is(err, runtime.ErrProvisioning):
		response.Error(w, http.StatusBadGateway, "PROVISIONING_FAILED",
			"The container image could not be provisioned", nil)
	default:
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", message, nil)
	}
}
