package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/neuropathbasel/cqmanager/internal/annotations"
	"github.com/neuropathbasel/cqmanager/internal/api/response"
)

// AnnotationUpdater refreshes local annotation sheets from their sources.
type AnnotationUpdater interface {
	UpdateAll(ctx context.Context) ([]annotations.Update, error)
}

// NewUpdateAnnotationsHandler returns the handler shared by
// GET /CQmanager/update_sample_annotations/ and
// GET /CQmanager/update_reference_annotations/; each route gets its own
// updater instance.
func NewUpdateAnnotationsHandler(updater AnnotationUpdater) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		updates, err := updater.UpdateAll(r.Context())
		if err != nil {
			if errors.Is(err, annotations.ErrNoSheets) {
				response.Error(w, http.StatusNotImplemented, "NOT_CONFIGURED",
					"No annotation sheet source is configured", nil)
				return
			}
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Annotation update failed", nil)
			return
		}
		response.JSON(w, updates)
	}
}
