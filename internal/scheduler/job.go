// Package scheduler implements the CQmanager job queue: an admission loop that
// turns analysis requests into worker containers, bounded by a concurrency
// limit, with crash detection and an in-memory status registry.
package scheduler

import (
	"time"

	"github.com/google/uuid"
)

// State is the lifecycle state of a Job. Transitions follow a fixed total
// order: Queued, Admitted, Provisioning, Running, then one of Succeeded,
// Failed or Crashed, and finally Retired when evicted from history.
type State string

const (
	StateQueued       State = "queued"
	StateAdmitted     State = "admitted"
	StateProvisioning State = "provisioning"
	StateRunning      State = "running"
	StateSucceeded    State = "succeeded"
	StateFailed       State = "failed"
	StateCrashed      State = "crashed"
	StateRetired      State = "retired"
)

// Terminal reports whether s is an end state.
func (s State) Terminal() bool {
	switch s {
	case StateSucceeded, StateFailed, StateCrashed, StateRetired:
		return true
	}
	return false
}

// AnalysisRequest describes one unit of CNV analysis. Immutable once enqueued.
type AnalysisRequest struct {
	SentrixID           string `json:"sentrix_id"`
	PreprocessingMethod string `json:"preprocessing_method"`
	BinSize             int    `json:"bin_size"`
	MinProbesPerBin     int    `json:"min_probes_per_bin"`
	DownsizeTo          string `json:"downsize_to,omitempty"`
}

// Job wraps an AnalysisRequest with its lifecycle state. All fields are owned
// by the Manager run loop; callers only ever see copies.
type Job struct {
	ID            uuid.UUID       `json:"id"`
	Seq           uint64          `json:"seq"`
	Request       AnalysisRequest `json:"request"`
	State         State           `json:"state"`
	Reason        string          `json:"reason,omitempty"`
	ExitCode      *int            `json:"exit_code,omitempty"`
	ContainerID   string          `json:"container_id,omitempty"`
	ContainerName string          `json:"container_name,omitempty"`
	EnqueuedAt    time.Time       `json:"enqueued_at"`
	StartedAt     *time.Time      `json:"started_at,omitempty"`
	EndedAt       *time.Time      `json:"ended_at,omitempty"`
}

// CrashRecord is appended whenever the watchdog finds a running container gone
// without a recorded exit code.
type CrashRecord struct {
	JobID         uuid.UUID `json:"job_id"`
	SentrixID     string    `json:"sentrix_id"`
	ContainerName string    `json:"container_name"`
	DetectedAt    time.Time `json:"detected_at"`
	Acknowledged  bool      `json:"acknowledged"`
}

// AppStatus is a consistent point-in-time snapshot of the queue and registry.
type AppStatus struct {
	QueueDepth  int           `json:"queue_depth"`
	InFlight    int           `json:"in_flight"`
	StateCounts map[State]int `json:"state_counts"`
	LastCrash   *CrashRecord  `json:"last_crash,omitempty"`
}

// QueueStatus lists the jobs themselves, pending first.
type QueueStatus struct {
	Pending   []Job `json:"pending"`
	InFlight  []Job `json:"in_flight"`
	Completed []Job `json:"completed"`
}
