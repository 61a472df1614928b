package scheduler

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

type watchCandidate struct {
	jobID       uuid.UUID
	containerID string
}

// startSweep collects the Running jobs and inspects their containers off the
// run loop. Only one sweep runs at a time. Loop-owned.
func (m *Manager) startSweep(ctx context.Context) {
	if m.sweeping {
		return
	}
	var candidates []watchCandidate
	for _, job := range m.active {
		if job.State == StateRunning && job.ExitCode == nil && job.ContainerID != "" {
			candidates = append(candidates, watchCandidate{jobID: job.ID, containerID: job.ContainerID})
		}
	}
	if len(candidates) == 0 {
		return
	}
	m.sweeping = true
	go m.sweep(ctx, candidates)
}

// sweep inspects each candidate container. A job is flagged as crashed only
// when the runtime affirmatively reports its container gone; inspection
// errors are treated as transient and never produce a false crash. A
// container reported as cleanly exited is completed here as well, so a job
// whose exit wait failed mid-flight still retires and frees its slot.
func (m *Manager) sweep(ctx context.Context, candidates []watchCandidate) {
	defer m.do(func() { m.sweeping = false })

	for _, c := range candidates {
		state, err := m.runner.ContainerState(ctx, c.containerID)
		if err != nil {
			slog.Debug("watchdog inspection failed, will retry next interval",
				"job_id", c.jobID, "container_id", c.containerID, "error", err)
			continue
		}
		switch state.Status {
		case ContainerExited:
			m.Complete(c.jobID, state.ExitCode)
		case ContainerMissing:
			m.markCrashed(c.jobID)
		}
	}
}
