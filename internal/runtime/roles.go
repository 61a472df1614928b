// Package runtime talks to the Docker daemon: it provisions images, starts
// and supervises worker containers and manages the long-lived viewer stack.
package runtime

// Container naming. Ephemeral containers get a per-job suffix appended to
// their prefix; viewer containers use fixed names so restarts are idempotent.
const (
	WorkerNamePrefix  = "cqmanager_cqcalc_"
	PlotterNamePrefix = "cqmanager_cqall_plotter_"

	ViewerCaseName  = "cqcase"
	ViewerAllName   = "cqall"
	ViewerRedisName = "cnquant_redis"
)

// Every container this service creates carries this label, so cleanup and
// listing never touch containers owned by anything else on the host.
const (
	labelKey   = "app"
	labelValue = "cqmanager"
)
