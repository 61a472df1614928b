package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Sentinel errors returned by Manager operations.
var (
	// ErrDuplicateActive means the sentrix id already has a non-terminal job.
	ErrDuplicateActive = errors.New("sentrix id already has an active job")
	// ErrStopped means the manager run loop has shut down.
	ErrStopped = errors.New("scheduler stopped")
)

// Provisioner ensures a container image is locally available before use.
type Provisioner interface {
	Ensure(ctx context.Context, imageRef string) error
}

// Container observed-state values reported by a Runner.
const (
	ContainerRunning = "running"
	ContainerExited  = "exited"
	ContainerMissing = "missing"
)

// ContainerState is the observed state of a worker container.
type ContainerState struct {
	Status   string
	ExitCode int
}

// Runner starts and controls worker containers on behalf of the scheduler.
type Runner interface {
	StartWorker(ctx context.Context, name string, args []string) (containerID string, err error)
	WaitExit(ctx context.Context, containerID string) (int, error)
	ContainerState(ctx context.Context, containerID string) (ContainerState, error)
	StopAndRemove(ctx context.Context, containerID string) error
}

// Config tunes the Manager. Zero values fall back to sensible defaults.
type Config struct {
	WorkerImage       string
	Concurrency       int
	HistoryLimit      int
	CrashHistoryLimit int
	ProvisionTimeout  time.Duration
	AdmissionInterval time.Duration
	WatchdogInterval  time.Duration
}

// Manager owns all queue and registry state. Every mutation runs on the
// single Run loop goroutine; public methods post closures to it and wait,
// so there is exactly one writer and snapshots are always consistent.
type Manager struct {
	cfg         Config
	provisioner Provisioner
	runner      Runner

	ops     chan func()
	stopped chan struct{}

	// All fields below are owned by the Run loop.
	nextSeq   uint64
	pending   []*Job
	active    map[uuid.UUID]*Job
	history   []*Job
	bySentrix map[string]uuid.UUID
	crashes   []CrashRecord
	sweeping  bool
}

// New creates a Manager. Run must be started before any other method is used.
func New(cfg Config, provisioner Provisioner, runner Runner) *Manager {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.HistoryLimit < 1 {
		cfg.HistoryLimit = 200
	}
	if cfg.CrashHistoryLimit < 1 {
		cfg.CrashHistoryLimit = 50
	}
	if cfg.ProvisionTimeout <= 0 {
		cfg.ProvisionTimeout = 10 * time.Minute
	}
	if cfg.AdmissionInterval <= 0 {
		cfg.AdmissionInterval = time.Second
	}
	if cfg.WatchdogInterval <= 0 {
		cfg.WatchdogInterval = 5 * time.Second
	}
	return &Manager{
		cfg:         cfg,
		provisioner: provisioner,
		runner:      runner,
		ops:         make(chan func()),
		stopped:     make(chan struct{}),
		active:      make(map[uuid.UUID]*Job),
		bySentrix:   make(map[string]uuid.UUID),
	}
}

// Run executes the admission loop until ctx is cancelled. Slow work
// (image pulls, container starts, runtime inspection) never runs on this
// goroutine, so the loop stays responsive to enqueue and status calls.
func (m *Manager) Run(ctx context.Context) {
	admission := time.NewTicker(m.cfg.AdmissionInterval)
	defer admission.Stop()
	watchdog := time.NewTicker(m.cfg.WatchdogInterval)
	defer watchdog.Stop()

	slog.Info("scheduler started",
		"concurrency", m.cfg.Concurrency,
		"watchdog_interval", m.cfg.WatchdogInterval,
	)

	for {
		select {
		case <-ctx.Done():
			close(m.stopped)
			slog.Info("scheduler stopped")
			return
		case op := <-m.ops:
			op()
		case <-admission.C:
			m.admit()
		case <-watchdog.C:
			m.startSweep(ctx)
		}
	}
}

// do posts fn to the run loop and blocks until it has executed.
// Returns false if the manager has shut down.
func (m *Manager) do(fn func()) bool {
	done := make(chan struct{})
	select {
	case m.ops <- func() { fn(); close(done) }:
	case <-m.stopped:
		return false
	}
	select {
	case <-done:
		return true
	case <-m.stopped:
		return false
	}
}

// Enqueue adds one analysis request to the backlog. Returns
// ErrDuplicateActive if the sentrix id already has a non-terminal job.
func (m *Manager) Enqueue(req AnalysisRequest) (uuid.UUID, error) {
	var id uuid.UUID
	var err error
	if !m.do(func() { id, err = m.enqueue(req) }) {
		return uuid.Nil, ErrStopped
	}
	return id, err
}

// EnqueueAll bulk-enqueues requests, skipping duplicates instead of failing.
// Returns the created job ids and the number of skipped duplicates.
func (m *Manager) EnqueueAll(reqs []AnalysisRequest) ([]uuid.UUID, int, error) {
	var ids []uuid.UUID
	skipped := 0
	ok := m.do(func() {
		for _, req := range reqs {
			id, err := m.enqueue(req)
			if errors.Is(err, ErrDuplicateActive) {
				skipped++
				continue
			}
			ids = append(ids, id)
		}
	})
	if !ok {
		return nil, 0, ErrStopped
	}
	return ids, skipped, nil
}

func (m *Manager) enqueue(req AnalysisRequest) (uuid.UUID, error) {
	if _, exists := m.bySentrix[req.SentrixID]; exists {
		return uuid.Nil, fmt.Errorf("%w: %s", ErrDuplicateActive, req.SentrixID)
	}
	job := &Job{
		ID:         uuid.New(),
		Seq:        m.nextSeq,
		Request:    req,
		State:      StateQueued,
		EnqueuedAt: time.Now().UTC(),
	}
	m.nextSeq++
	m.pending = append(m.pending, job)
	m.bySentrix[req.SentrixID] = job.ID
	slog.Info("job enqueued", "job_id", job.ID, "seq", job.Seq, "sentrix_id", req.SentrixID)
	m.admit()
	return job.ID, nil
}

// admit moves pending jobs into flight, oldest sequence number first, while
// a concurrency slot is free. Loop-owned.
func (m *Manager) admit() {
	for len(m.active) < m.cfg.Concurrency && len(m.pending) > 0 {
		job := m.pending[0]
		m.pending = m.pending[1:]
		job.State = StateAdmitted
		m.active[job.ID] = job
		slog.Info("job admitted", "job_id", job.ID, "seq", job.Seq)
		go m.launch(job.ID, job.Request)
	}
}

// launch provisions the worker image and starts the container for one
// admitted job. Runs on its own goroutine; all state changes go back
// through the run loop.
func (m *Manager) launch(id uuid.UUID, req AnalysisRequest) {
	if !m.transition(id, StateProvisioning) {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.ProvisionTimeout)
	err := m.provisioner.Ensure(ctx, m.cfg.WorkerImage)
	cancel()
	if err != nil {
		m.finish(id, StateFailed, "provisioning failed: "+err.Error(), nil)
		return
	}

	name := workerContainerName(id)
	containerID, err := m.runner.StartWorker(context.Background(), name, workerArgs(req))
	if err != nil {
		m.finish(id, StateFailed, "container start failed: "+err.Error(), nil)
		return
	}

	if !m.bindContainer(id, containerID, name) {
		// Cancelled while the container was starting. The start call was
		// allowed to finish; tear the container down now so nothing is
		// orphaned.
		if stopErr := m.runner.StopAndRemove(context.Background(), containerID); stopErr != nil {
			slog.Error("failed to tear down container of cancelled job",
				"job_id", id, "container_id", containerID, "error", stopErr)
		}
		return
	}

	code, err := m.runner.WaitExit(context.Background(), containerID)
	if err != nil {
		// The watchdog takes over: if the container truly vanished it will
		// flag the job as crashed on its next pass.
		slog.Warn("wait for container exit failed", "job_id", id, "container_id", containerID, "error", err)
		return
	}
	m.Complete(id, code)
}

// transition advances a non-terminal in-flight job to the given state.
// Returns false if the job is gone or already terminal (e.g. cancelled).
func (m *Manager) transition(id uuid.UUID, to State) bool {
	applied := false
	m.do(func() {
		job, ok := m.active[id]
		if !ok || job.State.Terminal() {
			return
		}
		job.State = to
		applied = true
	})
	return applied
}

// bindContainer records the started container and moves the job to Running.
func (m *Manager) bindContainer(id uuid.UUID, containerID, name string) bool {
	applied := false
	m.do(func() {
		job, ok := m.active[id]
		if !ok || job.State.Terminal() {
			return
		}
		now := time.Now().UTC()
		job.ContainerID = containerID
		job.ContainerName = name
		job.State = StateRunning
		job.StartedAt = &now
		applied = true
		slog.Info("job running", "job_id", id, "container", name)
	})
	return applied
}

// Complete records a container exit observed by the supervisor. Exit code 0
// is Succeeded, anything else Failed.
func (m *Manager) Complete(id uuid.UUID, exitCode int) {
	state := StateSucceeded
	reason := ""
	if exitCode != 0 {
		state = StateFailed
		reason = fmt.Sprintf("container exited with code %d", exitCode)
	}
	m.finish(id, state, reason, &exitCode)
}

// finish retires an in-flight job to a terminal state and frees its slot.
func (m *Manager) finish(id uuid.UUID, state State, reason string, exitCode *int) {
	m.do(func() {
		job, ok := m.active[id]
		if !ok || job.State.Terminal() {
			return
		}
		m.terminalize(job, state, reason, exitCode)
		delete(m.active, id)
		m.admit()
	})
}

// terminalize applies a terminal state and moves the job into history.
// Loop-owned; the caller removes the job from pending or active.
func (m *Manager) terminalize(job *Job, state State, reason string, exitCode *int) {
	now := time.Now().UTC()
	job.State = state
	job.Reason = reason
	job.ExitCode = exitCode
	job.EndedAt = &now
	delete(m.bySentrix, job.Request.SentrixID)
	m.history = append(m.history, job)
	for len(m.history) > m.cfg.HistoryLimit {
		evicted := m.history[0]
		evicted.State = StateRetired
		m.history = m.history[1:]
	}
	slog.Info("job finished", "job_id", job.ID, "state", state, "reason", reason)
}

// CancelAll fails every queued and in-flight job with reason "cancelled" and
// stops their containers. Idempotent: with nothing in flight it is a no-op.
func (m *Manager) CancelAll(ctx context.Context) int {
	cancelled := 0
	var containerIDs []string
	ok := m.do(func() {
		for _, job := range m.pending {
			m.terminalize(job, StateFailed, "cancelled", nil)
			cancelled++
		}
		m.pending = nil
		for id, job := range m.active {
			if job.ContainerID != "" {
				containerIDs = append(containerIDs, job.ContainerID)
			}
			m.terminalize(job, StateFailed, "cancelled", nil)
			delete(m.active, id)
			cancelled++
		}
	})
	if !ok {
		return 0
	}
	for _, containerID := range containerIDs {
		if err := m.runner.StopAndRemove(ctx, containerID); err != nil {
			slog.Error("failed to stop container of cancelled job",
				"container_id", containerID, "error", err)
		}
	}
	return cancelled
}

// markCrashed transitions a Running job whose container vanished without an
// exit code. Idempotent: repeated watchdog polls of an already handled crash
// do not duplicate alerts.
func (m *Manager) markCrashed(id uuid.UUID) {
	m.do(func() {
		job, ok := m.active[id]
		if !ok || job.State != StateRunning || job.ExitCode != nil {
			return
		}
		m.terminalize(job, StateCrashed, "container disappeared without exit code", nil)
		delete(m.active, id)
		m.crashes = append(m.crashes, CrashRecord{
			JobID:         job.ID,
			SentrixID:     job.Request.SentrixID,
			ContainerName: job.ContainerName,
			DetectedAt:    time.Now().UTC(),
		})
		for len(m.crashes) > m.cfg.CrashHistoryLimit {
			m.crashes = m.crashes[1:]
		}
		slog.Error("job crashed", "job_id", job.ID, "container", job.ContainerName)
		m.admit()
	})
}

// SimulateCrash injects a Running job bound to a container that does not
// exist, so the watchdog crash path can be exercised deterministically.
func (m *Manager) SimulateCrash() (uuid.UUID, error) {
	var id uuid.UUID
	ok := m.do(func() {
		now := time.Now().UTC()
		job := &Job{
			ID:  uuid.New(),
			Seq: m.nextSeq,
			Request: AnalysisRequest{
				SentrixID:           "simulated_crash_" + strconv.FormatUint(m.nextSeq, 10),
				PreprocessingMethod: "illumina",
			},
			State:      StateRunning,
			EnqueuedAt: now,
			StartedAt:  &now,
		}
		m.nextSeq++
		job.ContainerID = "simulated-" + job.ID.String()
		job.ContainerName = workerContainerName(job.ID)
		m.active[job.ID] = job
		m.bySentrix[job.Request.SentrixID] = job.ID
		id = job.ID
		slog.Warn("crash simulation job injected", "job_id", id)
	})
	if !ok {
		return uuid.Nil, ErrStopped
	}
	return id, nil
}

// AcknowledgeCrash clears the surfaced crash record from app status.
func (m *Manager) AcknowledgeCrash() bool {
	acked := false
	m.do(func() {
		for i := range m.crashes {
			if !m.crashes[i].Acknowledged {
				m.crashes[i].Acknowledged = true
				acked = true
			}
		}
	})
	return acked
}

// Snapshot returns a consistent point-in-time view of the registry.
func (m *Manager) Snapshot() AppStatus {
	status := AppStatus{StateCounts: map[State]int{}}
	m.do(func() {
		status.QueueDepth = len(m.pending)
		status.InFlight = len(m.active)
		for _, job := range m.pending {
			status.StateCounts[job.State]++
		}
		for _, job := range m.active {
			status.StateCounts[job.State]++
		}
		for _, job := range m.history {
			status.StateCounts[job.State]++
		}
		for i := len(m.crashes) - 1; i >= 0; i-- {
			if !m.crashes[i].Acknowledged {
				crash := m.crashes[i]
				status.LastCrash = &crash
				break
			}
		}
	})
	return status
}

// QueueSnapshot lists pending, in-flight and retained completed jobs.
func (m *Manager) QueueSnapshot() QueueStatus {
	var status QueueStatus
	m.do(func() {
		for _, job := range m.pending {
			status.Pending = append(status.Pending, *job)
		}
		for _, job := range m.active {
			status.InFlight = append(status.InFlight, *job)
		}
		for _, job := range m.history {
			status.Completed = append(status.Completed, *job)
		}
	})
	return status
}

func workerContainerName(id uuid.UUID) string {
	return "cqmanager_cqcalc_" + id.String()
}

func workerArgs(req AnalysisRequest) []string {
	args := []string{
		"cqcalc",
		"--sentrix_id", req.SentrixID,
		"--preprocessing_method", req.PreprocessingMethod,
		"--bin_size", strconv.Itoa(req.BinSize),
		"--min_probes_per_bin", strconv.Itoa(req.MinProbesPerBin),
	}
	if req.DownsizeTo != "" {
		args = append(args, "--downsize_to", req.DownsizeTo)
	}
	return args
}
