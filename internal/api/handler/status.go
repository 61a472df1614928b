package handler

import (
	"context"
	"net/http"

	"github.com/neuropathbasel/cqmanager/internal/api/response"
	"github.com/neuropathbasel/cqmanager/internal/runtime"
	"github.com/neuropathbasel/cqmanager/internal/scheduler"
)

// StatusService reads consistent snapshots from the scheduler.
type StatusService interface {
	Snapshot() scheduler.AppStatus
	QueueSnapshot() scheduler.QueueStatus
}

// ContainerLister reports the containers this service manages.
type ContainerLister interface {
	ListContainers(ctx context.Context) ([]runtime.ContainerInfo, error)
}

type appStatusResponse struct {
	scheduler.AppStatus
	Viewers    map[string]string       `json:"viewers"`
	Containers []runtime.ContainerInfo `json:"containers,omitempty"`
}

// NewAppStatusHandler returns the handler for GET /CQmanager/app_status/.
func NewAppStatusHandler(status StatusService, viewers ViewerService, containers ContainerLister) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := appStatusResponse{
			AppStatus: status.Snapshot(),
			Viewers:   viewers.Health(r.Context()),
		}
		// Container listing is best effort: an unreachable daemon must not
		// hide the queue state.
		if infos, err := containers.ListContainers(r.Context()); err == nil {
			resp.Containers = infos
		}
		response.JSON(w, resp)
	}
}

// NewQueueStatusHandler returns the handler for GET /CQmanager/queue_status/.
func NewQueueStatusHandler(status StatusService) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		response.JSON(w, status.QueueSnapshot())
	}
}
