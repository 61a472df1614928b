package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	mw "github.com/neuropathbasel/cqmanager/internal/api/middleware"
	"github.com/neuropathbasel/cqmanager/internal/api/response"
)

// Dependencies holds all handler dependencies for the router.
type Dependencies struct {
	HealthHandler http.HandlerFunc

	AnalyseHandler        http.HandlerFunc
	AnalyseMissingHandler http.HandlerFunc
	DownsizeHandler       http.HandlerFunc

	MakeSummaryPlotsHandler http.HandlerFunc
	StopPlottersHandler     http.HandlerFunc

	AppStatusHandler   http.HandlerFunc
	QueueStatusHandler http.HandlerFunc

	StopAllHandler                http.HandlerFunc
	CleanupHandler                http.HandlerFunc
	RemovePermissionDeniedHandler http.HandlerFunc

	StartViewersHandler http.HandlerFunc
	StopViewersHandler  http.HandlerFunc
	CheckViewersHandler http.HandlerFunc

	UpdateSampleAnnotationsHandler    http.HandlerFunc
	UpdateReferenceAnnotationsHandler http.HandlerFunc

	SimulateCrashHandler    http.HandlerFunc
	AcknowledgeCrashHandler http.HandlerFunc
}

// NewRouter builds the Chi router with the middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(mw.Logger)
	r.Use(mw.Recovery)

	// Public health check
	r.Get("/api/v1/health", orNotImplemented(deps.HealthHandler))

	r.Route("/CQmanager", func(r chi.Router) {
		r.Post("/analyse/", orNotImplemented(deps.AnalyseHandler))
		r.Post("/analyse_missing/", orNotImplemented(deps.AnalyseMissingHandler))
		r.Post("/downsize_annotated_samples_for_summary_plots/", orNotImplemented(deps.DownsizeHandler))

		r.Post("/make_summary_plots/", orNotImplemented(deps.MakeSummaryPlotsHandler))
		r.Get("/stop_summary_plotting_container/", orNotImplemented(deps.StopPlottersHandler))

		r.Get("/app_status/", orNotImplemented(deps.AppStatusHandler))
		r.Get("/queue_status/", orNotImplemented(deps.QueueStatusHandler))

		r.Get("/stop_all_cqmanager_analysis_and_plotting_containers/", orNotImplemented(deps.StopAllHandler))
		r.Get("/containers_cleanup/", orNotImplemented(deps.CleanupHandler))
		r.Post("/remove_permission_denied_analyses/", orNotImplemented(deps.RemovePermissionDeniedHandler))

		r.Get("/start_cqviewers/", orNotImplemented(deps.StartViewersHandler))
		r.Get("/stop_cqviewers/", orNotImplemented(deps.StopViewersHandler))
		r.Get("/check_cqviewers_containers/", orNotImplemented(deps.CheckViewersHandler))

		r.Get("/update_sample_annotations/", orNotImplemented(deps.UpdateSampleAnnotationsHandler))
		r.Get("/update_reference_annotations/", orNotImplemented(deps.UpdateReferenceAnnotationsHandler))

		r.Get("/simulate_crash/", orNotImplemented(deps.SimulateCrashHandler))
		r.Get("/acknowledge_crash/", orNotImplemented(deps.AcknowledgeCrashHandler))
	})

	return r
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Endpoint not yet implemented", nil)
	}
}
