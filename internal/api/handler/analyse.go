package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/neuropathbasel/cqmanager/internal/api/response"
	"github.com/neuropathbasel/cqmanager/internal/config"
	"github.com/neuropathbasel/cqmanager/internal/scheduler"
)

// QueueService is the slice of the scheduler the analysis handlers use.
type QueueService interface {
	Enqueue(req scheduler.AnalysisRequest) (uuid.UUID, error)
	EnqueueAll(reqs []scheduler.AnalysisRequest) ([]uuid.UUID, int, error)
}

// Inventory answers which samples exist on disk and which analyses are missing.
type Inventory interface {
	IdatPairExists(sentrixID string) (bool, error)
	MissingAnalyses(method string, binSize, minProbes int) ([]string, error)
	MissingDownsized(method string, binSize, minProbes int, downsizeTo string) ([]string, error)
}

// AnnotationSource lists the sentrix ids present in the local annotation sheet.
type AnnotationSource interface {
	AnnotatedSentrixIDs() ([]string, error)
}

// Limits are the accepted bounds and defaults for analysis parameters.
type Limits struct {
	MinBinSize          int
	MaxBinSize          int
	DefaultBinSize      int
	MinProbesPerBin     int
	MaxProbesPerBin     int
	DefaultProbesPerBin int
}

// analyseParams is the shared request body of the analysis endpoints.
type analyseParams struct {
	SentrixID           string `json:"sentrix_id"`
	PreprocessingMethod string `json:"preprocessing_method"`
	BinSize             int    `json:"bin_size"`
	MinProbesPerBin     int    `json:"min_probes_per_bin"`
	DownsizeTo          string `json:"downsize_to"`
}

// normalize applies defaults and bounds. Returns a non-empty message when the
// parameters are invalid.
func (l Limits) normalize(params *analyseParams) string {
	if params.PreprocessingMethod == "" {
		params.PreprocessingMethod = "illumina"
	}
	if !config.PreprocessingMethodValid(params.PreprocessingMethod) {
		return fmt.Sprintf("preprocessing_method %q is not supported", params.PreprocessingMethod)
	}
	if params.BinSize == 0 {
		params.BinSize = l.DefaultBinSize
	}
	if params.BinSize < l.MinBinSize || params.BinSize > l.MaxBinSize {
		return fmt.Sprintf("bin_size must be between %d and %d", l.MinBinSize, l.MaxBinSize)
	}
	if params.MinProbesPerBin == 0 {
		params.MinProbesPerBin = l.DefaultProbesPerBin
	}
	if params.MinProbesPerBin < l.MinProbesPerBin || params.MinProbesPerBin > l.MaxProbesPerBin {
		return fmt.Sprintf("min_probes_per_bin must be between %d and %d", l.MinProbesPerBin, l.MaxProbesPerBin)
	}
	return ""
}

func decodeAnalyseParams(w http.ResponseWriter, r *http.Request, limits Limits) (analyseParams, bool) {
	var params analyseParams
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return params, false
		}
	}
	if msg := limits.normalize(&params); msg != "" {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", msg, nil)
		return params, false
	}
	return params, true
}

// NewAnalyseHandler returns the handler for POST /CQmanager/analyse/.
func NewAnalyseHandler(queue QueueService, inv Inventory, limits Limits) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		params, ok := decodeAnalyseParams(w, r, limits)
		if !ok {
			return
		}
		if params.SentrixID == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "sentrix_id is required", nil)
			return
		}

		pairExists, err := inv.IdatPairExists(params.SentrixID)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Could not scan the IDAT directory", nil)
			return
		}
		if !pairExists {
			response.Error(w, http.StatusBadRequest, "IDAT_PAIR_NOT_FOUND",
				fmt.Sprintf("No Grn/Red IDAT pair found for sentrix_id %s", params.SentrixID), nil)
			return
		}

		jobID, err := queue.Enqueue(scheduler.AnalysisRequest{
			SentrixID:           params.SentrixID,
			PreprocessingMethod: params.PreprocessingMethod,
			BinSize:             params.BinSize,
			MinProbesPerBin:     params.MinProbesPerBin,
		})
		if err != nil {
			switch {
			case errors.Is(err, scheduler.ErrDuplicateActive):
				response.Error(w, http.StatusConflict, "DUPLICATE_ACTIVE",
					fmt.Sprintf("sentrix_id %s already has an active job", params.SentrixID), nil)
			default:
				response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
					"Could not enqueue the analysis", nil)
			}
			return
		}

		response.Accepted(w, enqueueResponse{JobIDs: []uuid.UUID{jobID}, Enqueued: 1})
	}
}

// NewAnalyseMissingHandler returns the handler for POST /CQmanager/analyse_missing/.
// The endpoint is cooled down because a full scan plus bulk enqueue is expensive.
func NewAnalyseMissingHandler(queue QueueService, inv Inventory, limits Limits, cooldown *Cooldown) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !tryCooldown(w, cooldown, "analyse_missing") {
			return
		}
		params, ok := decodeAnalyseParams(w, r, limits)
		if !ok {
			return
		}

		missing, err := inv.MissingAnalyses(params.PreprocessingMethod, params.BinSize, params.MinProbesPerBin)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Could not determine missing analyses", nil)
			return
		}

		enqueueBulk(w, queue, buildRequests(missing, params, ""))
	}
}

// NewDownsizeHandler returns the handler for
// POST /CQmanager/downsize_annotated_samples_for_summary_plots/.
func NewDownsizeHandler(queue QueueService, inv Inventory, annotations AnnotationSource, limits Limits, cooldown *Cooldown) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !tryCooldown(w, cooldown, "downsize_annotated") {
			return
		}
		params, ok := decodeAnalyseParams(w, r, limits)
		if !ok {
			return
		}
		if params.DownsizeTo == "" {
			params.DownsizeTo = "450k"
		}

		annotated, err := annotations.AnnotatedSentrixIDs()
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Could not read the annotation sheet", nil)
			return
		}
		missing, err := inv.MissingDownsized(params.PreprocessingMethod, params.BinSize, params.MinProbesPerBin, params.DownsizeTo)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Could not determine missing downsized analyses", nil)
			return
		}

		annotatedSet := make(map[string]bool, len(annotated))
		for _, id := range annotated {
			annotatedSet[id] = true
		}
		var targets []string
		for _, id := range missing {
			if annotatedSet[id] {
				targets = append(targets, id)
			}
		}

		enqueueBulk(w, queue, buildRequests(targets, params, params.DownsizeTo))
	}
}

type enqueueResponse struct {
	JobIDs   []uuid.UUID `json:"job_ids"`
	Enqueued int         `json:"enqueued"`
	Skipped  int         `json:"skipped,omitempty"`
}

func buildRequests(sentrixIDs []string, params analyseParams, downsizeTo string) []scheduler.AnalysisRequest {
	reqs := make([]scheduler.AnalysisRequest, 0, len(sentrixIDs))
	for _, id := range sentrixIDs {
		reqs = append(reqs, scheduler.AnalysisRequest{
			SentrixID:           id,
			PreprocessingMethod: params.PreprocessingMethod,
			BinSize:             params.BinSize,
			MinProbesPerBin:     params.MinProbesPerBin,
			DownsizeTo:          downsizeTo,
		})
	}
	return reqs
}

func enqueueBulk(w http.ResponseWriter, queue QueueService, reqs []scheduler.AnalysisRequest) {
	ids, skipped, err := queue.EnqueueAll(reqs)
	if err != nil {
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
			"Could not enqueue the analyses", nil)
		return
	}
	response.Accepted(w, enqueueResponse{JobIDs: ids, Enqueued: len(ids), Skipped: skipped})
}

func tryCooldown(w http.ResponseWriter, cooldown *Cooldown, key string) bool {
	if cooldown == nil {
		return true
	}
	remaining, ok := cooldown.Try(key)
	if !ok {
		response.Error(w, http.StatusTooManyRequests, "COOLDOWN_ACTIVE",
			fmt.Sprintf("Endpoint is cooling down, retry in %d seconds", int(remaining.Seconds())+1), nil)
		return false
	}
	return true
}
