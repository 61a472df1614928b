// Package main is the entrypoint for the CQmanager server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/neuropathbasel/cqmanager/internal/annotations"
	"github.com/neuropathbasel/cqmanager/internal/api"
	"github.com/neuropathbasel/cqmanager/internal/api/handler"
	"github.com/neuropathbasel/cqmanager/internal/config"
	"github.com/neuropathbasel/cqmanager/internal/inventory"
	"github.com/neuropathbasel/cqmanager/internal/runtime"
	"github.com/neuropathbasel/cqmanager/internal/scheduler"
)

const shutdownTimeout = 30 * time.Second

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load config — fail fast on invalid config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded", "env", cfg.Server.Env, "max_workers", cfg.Scheduler.MaxWorkerContainers)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Connect to the Docker daemon
	docker, err := runtime.NewClient()
	if err != nil {
		return fmt.Errorf("create docker client: %w", err)
	}
	defer docker.Close()

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if _, err := docker.Ping(pingCtx); err != nil {
		return fmt.Errorf("ping docker daemon: %w", err)
	}
	slog.Info("docker daemon connected")

	// 3. Runtime layer: provisioner, supervisor, viewer stack
	provisioner := runtime.NewProvisioner(docker, cfg.Scheduler.ImagePullAttempts)
	supervisor := runtime.NewSupervisor(docker, runtime.SupervisorConfig{
		WorkerImage:      cfg.Images.CQcalc,
		PlotterImage:     cfg.Images.CQallPlotter,
		Network:          cfg.Viewers.NetworkName,
		IdatDirectory:    cfg.Paths.IdatDirectory,
		ResultsDirectory: cfg.Paths.ResultsDirectory,
	})
	viewers := runtime.NewViewers(docker, provisioner, runtime.ViewersConfig{
		Network:          cfg.Viewers.NetworkName,
		RedisImage:       cfg.Images.Redis,
		CQcaseImage:      cfg.Images.CQcase,
		CQallImage:       cfg.Images.CQall,
		CQcasePort:       cfg.Viewers.CQcasePort,
		CQallPort:        cfg.Viewers.CQallPort,
		RedisAddr:        cfg.Viewers.RedisAddr,
		ResultsDirectory: cfg.Paths.ResultsDirectory,
	})
	defer viewers.Close()

	// 4. Scheduler
	manager := scheduler.New(scheduler.Config{
		WorkerImage:       cfg.Images.CQcalc,
		Concurrency:       cfg.Scheduler.MaxWorkerContainers,
		HistoryLimit:      cfg.Scheduler.JobHistoryLimit,
		CrashHistoryLimit: cfg.Scheduler.CrashHistoryLimit,
		ProvisionTimeout:  cfg.Scheduler.ProvisionTimeout,
		AdmissionInterval: cfg.Scheduler.AdmissionInterval,
		WatchdogInterval:  cfg.Scheduler.WatchdogInterval,
	}, provisioner, workerRunner{supervisor})
	go manager.Run(ctx)

	// 5. Inventory and annotations
	scanner := inventory.NewScanner(cfg.Paths.IdatDirectory, cfg.Paths.ResultsDirectory)
	cleaner := inventory.NewCleaner(cfg.Paths.ResultsDirectory, cfg.Paths.TempDirectory)
	sampleUpdater := annotations.NewUpdater(cfg.Annotations.FetchTimeout,
		sheetsFor("samples", cfg.Annotations.SampleSheetURL, cfg.Annotations.SampleFilePath)...)
	referenceUpdater := annotations.NewUpdater(cfg.Annotations.FetchTimeout,
		sheetsFor("references", cfg.Annotations.ReferenceSheetURL, cfg.Annotations.ReferenceFilePath)...)

	// 6. Build router with dependencies
	limits := handler.Limits{
		MinBinSize:          cfg.Bins.MinBinSize,
		MaxBinSize:          cfg.Bins.MaxBinSize,
		DefaultBinSize:      cfg.Bins.DefaultBinSize,
		MinProbesPerBin:     cfg.Bins.MinProbesPerBin,
		MaxProbesPerBin:     cfg.Bins.MaxProbesPerBin,
		DefaultProbesPerBin: cfg.Bins.DefaultProbesPerBin,
	}
	cooldown := handler.NewCooldown(cfg.Scheduler.EndpointCooldown)
	annotated := annotationSheet{path: cfg.Annotations.SampleFilePath}

	deps := api.Dependencies{
		HealthHandler: handler.NewHealthHandler(supervisor),

		AnalyseHandler:        handler.NewAnalyseHandler(manager, scanner, limits),
		AnalyseMissingHandler: handler.NewAnalyseMissingHandler(manager, scanner, limits, cooldown),
		DownsizeHandler:       handler.NewDownsizeHandler(manager, scanner, annotated, limits, cooldown),

		MakeSummaryPlotsHandler: handler.NewMakeSummaryPlotsHandler(supervisor, limits),
		StopPlottersHandler:     handler.NewStopPlottersHandler(supervisor),

		AppStatusHandler:   handler.NewAppStatusHandler(manager, viewers, supervisor),
		QueueStatusHandler: handler.NewQueueStatusHandler(manager),

		StopAllHandler:                handler.NewStopAllHandler(manager, supervisor),
		CleanupHandler:                handler.NewCleanupHandler(supervisor),
		RemovePermissionDeniedHandler: handler.NewRemovePermissionDeniedHandler(cleaner),

		StartViewersHandler: handler.NewStartViewersHandler(viewers),
		StopViewersHandler:  handler.NewStopViewersHandler(viewers),
		CheckViewersHandler: handler.NewCheckViewersHandler(viewers),

		UpdateSampleAnnotationsHandler:    handler.NewUpdateAnnotationsHandler(sampleUpdater),
		UpdateReferenceAnnotationsHandler: handler.NewUpdateAnnotationsHandler(referenceUpdater),

		SimulateCrashHandler:    handler.NewSimulateCrashHandler(manager),
		AcknowledgeCrashHandler: handler.NewAcknowledgeCrashHandler(manager),
	}

	router := api.NewRouter(deps)

	// 7. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}

// workerRunner adapts the Supervisor to the scheduler's Runner interface.
type workerRunner struct {
	sup *runtime.Supervisor
}

func (r workerRunner) StartWorker(ctx context.Context, name string, args []string) (string, error) {
	return r.sup.StartWorker(ctx, name, args)
}

func (r workerRunner) WaitExit(ctx context.Context, containerID string) (int, error) {
	return r.sup.WaitExit(ctx, containerID)
}

func (r workerRunner) ContainerState(ctx context.Context, containerID string) (scheduler.ContainerState, error) {
	state, err := r.sup.InspectState(ctx, containerID)
	if err != nil {
		return scheduler.ContainerState{}, err
	}
	return scheduler.ContainerState{Status: state.Status, ExitCode: state.ExitCode}, nil
}

func (r workerRunner) StopAndRemove(ctx context.Context, containerID string) error {
	return r.sup.StopAndRemove(ctx, containerID)
}

// annotationSheet lists sentrix ids from the local sample annotation sheet.
type annotationSheet struct {
	path string
}

func (a annotationSheet) AnnotatedSentrixIDs() ([]string, error) {
	return inventory.AnnotatedSentrixIDs(a.path)
}

// sheetsFor returns the sheet config when both source URL and local path are
// set, and nothing otherwise, so unconfigured updaters report NOT_CONFIGURED.
func sheetsFor(name, url, path string) []annotations.Sheet {
	if url == "" || path == "" {
		return nil
	}
	return []annotations.Sheet{{Name: name, URL: url, Path: path}}
}
