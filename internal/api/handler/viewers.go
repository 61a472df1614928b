package handler

import (
	"context"
	"net/http"

	"github.com/neuropathbasel/cqmanager/internal/api/response"
)

// ViewerService manages the long-lived viewer container stack.
type ViewerService interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Health(ctx context.Context) map[string]string
}

// NewStartViewersHandler returns the handler for GET /CQmanager/start_cqviewers/.
func NewStartViewersHandler(viewers ViewerService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := viewers.Start(r.Context()); err != nil {
			writeRuntimeError(w, err, "Could not start the viewer containers")
			return
		}
		response.JSON(w, map[string]string{"viewers": "started"})
	}
}

// NewStopViewersHandler returns the handler for GET /CQmanager/stop_cqviewers/.
func NewStopViewersHandler(viewers ViewerService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := viewers.Stop(r.Context()); err != nil {
			writeRuntimeError(w, err, "Could not stop the viewer containers")
			return
		}
		response.JSON(w, map[string]string{"viewers": "stopped"})
	}
}

// NewCheckViewersHandler returns the handler for GET /CQmanager/check_cqviewers_containers/.
func NewCheckViewersHandler(viewers ViewerService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		response.JSON(w, viewers.Health(r.Context()))
	}
}
