package handler

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/neuropathbasel/cqmanager/internal/api/response"
)

// CrashService exposes the watchdog test hooks of the scheduler.
type CrashService interface {
	SimulateCrash() (uuid.UUID, error)
	AcknowledgeCrash() bool
}

// NewSimulateCrashHandler returns the handler for GET /CQmanager/simulate_crash/.
func NewSimulateCrashHandler(crash CrashService) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		jobID, err := crash.SimulateCrash()
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Could not inject the crash simulation job", nil)
			return
		}
		response.Accepted(w, map[string]uuid.UUID{"job_id": jobID})
	}
}

// NewAcknowledgeCrashHandler returns the handler for GET /CQmanager/acknowledge_crash/.
func NewAcknowledgeCrashHandler(crash CrashService) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		response.JSON(w, map[string]bool{"acknowledged": crash.AcknowledgeCrash()})
	}
}
