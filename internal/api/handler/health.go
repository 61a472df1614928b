package handler

import (
	"context"
	"net/http"

	"github.com/neuropathbasel/cqmanager/internal/api/response"
)

// Pinger checks that the container runtime is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// NewHealthHandler returns the handler for GET /api/v1/health.
func NewHealthHandler(runtime Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := runtime.Ping(r.Context()); err != nil {
			response.Error(w, http.StatusServiceUnavailable, "RUNTIME_UNAVAILABLE",
				"The container runtime is not reachable", nil)
			return
		}
		response.JSON(w, map[string]string{"status": "ok"})
	}
}
