package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the CQmanager server.
type Config struct {
	Server      ServerConfig
	Paths       PathsConfig
	Images      ImagesConfig
	Scheduler   SchedulerConfig
	Viewers     ViewersConfig
	Annotations AnnotationsConfig
	Bins        BinsConfig
}

type ServerConfig struct {
	Port int
	Env  string
}

type PathsConfig struct {
	IdatDirectory         string
	ResultsDirectory      string
	SummaryPlotsDirectory string
	TempDirectory         string
}

type ImagesConfig struct {
	CQcalc       string
	CQcase       string
	CQall        string
	CQallPlotter string
	Redis        string
}

type SchedulerConfig struct {
	MaxWorkerContainers int
	AdmissionInterval   time.Duration
	WatchdogInterval    time.Duration
	ProvisionTimeout    time.Duration
	ImagePullAttempts   int
	JobHistoryLimit     int
	CrashHistoryLimit   int
	EndpointCooldown    time.Duration
}

type ViewersConfig struct {
	NetworkName string
	CQcasePort  int
	CQallPort   int
	RedisAddr   string
}

type AnnotationsConfig struct {
	SampleSheetURL    string
	ReferenceSheetURL string
	SampleFilePath    string
	ReferenceFilePath string
	FetchTimeout      time.Duration
}

type BinsConfig struct {
	MinBinSize          int
	MaxBinSize          int
	DefaultBinSize      int
	MinProbesPerBin     int
	MaxProbesPerBin     int
	DefaultProbesPerBin int
}

var validPreprocessingMethods = map[string]bool{
	"illumina": true,
	"swan":     true,
}

// PreprocessingMethodValid reports whether method is an accepted preprocessing method.
func PreprocessingMethodValid(method string) bool {
	return validPreprocessingMethods[method]
}

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port: envInt("CQMANAGER_PORT", 8002),
			Env:  envString("CQMANAGER_ENV", "development"),
		},
		Paths: PathsConfig{
			IdatDirectory:         os.Getenv("IDAT_DIRECTORY"),
			ResultsDirectory:      os.Getenv("RESULTS_DIRECTORY"),
			SummaryPlotsDirectory: os.Getenv("SUMMARY_PLOTS_DIRECTORY"),
			TempDirectory:         os.Getenv("TEMP_DIRECTORY"),
		},
		Images: ImagesConfig{
			CQcalc:       envString("CQCALC_IMAGE", "neuropathologiebasel/cqcalc:latest"),
			CQcase:       envString("CQCASE_IMAGE", "neuropathologiebasel/cqcase:latest"),
			CQall:        envString("CQALL_IMAGE", "neuropathologiebasel/cqall:latest"),
			CQallPlotter: envString("CQALL_PLOTTER_IMAGE", "neuropathologiebasel/cqall_plotter:latest"),
			Redis:        envString("REDIS_IMAGE", "redis:7-alpine"),
		},
		Scheduler: SchedulerConfig{
			MaxWorkerContainers: envInt("MAX_WORKER_CONTAINERS", 9),
			AdmissionInterval:   envDuration("ADMISSION_INTERVAL", time.Second),
			WatchdogInterval:    envDuration("WATCHDOG_INTERVAL", 5*time.Second),
			ProvisionTimeout:    envDuration("PROVISION_TIMEOUT", 10*time.Minute),
			ImagePullAttempts:   envInt("IMAGE_PULL_ATTEMPTS", 3),
			JobHistoryLimit:     envInt("JOB_HISTORY_LIMIT", 200),
			CrashHistoryLimit:   envInt("CRASH_HISTORY_LIMIT", 50),
			EndpointCooldown:    envDuration("ENDPOINT_COOLDOWN", time.Minute),
		},
		Viewers: ViewersConfig{
			NetworkName: envString("CQVIEWERS_NETWORK", "cnquant_network"),
			CQcasePort:  envInt("CQCASE_PORT", 8052),
			CQallPort:   envInt("CQALL_PORT", 8050),
			RedisAddr:   envString("VIEWER_REDIS_ADDR", "localhost:6379"),
		},
		Annotations: AnnotationsConfig{
			SampleSheetURL:    os.Getenv("DATA_ANNOTATION_SHEET_URL"),
			ReferenceSheetURL: os.Getenv("REFERENCE_ANNOTATION_SHEET_URL"),
			SampleFilePath:    os.Getenv("ANNOTATION_FILE"),
			ReferenceFilePath: os.Getenv("REFERENCE_ANNOTATION_FILE"),
			FetchTimeout:      envDuration("ANNOTATION_FETCH_TIMEOUT", 30*time.Second),
		},
		Bins: BinsConfig{
			MinBinSize:          envInt("MIN_BIN_SIZE", 1000),
			MaxBinSize:          envInt("MAX_BIN_SIZE", 200000),
			DefaultBinSize:      envInt("DEFAULT_BIN_SIZE", 50000),
			MinProbesPerBin:     envInt("MIN_PROBES_PER_BIN", 10),
			MaxProbesPerBin:     envInt("MAX_PROBES_PER_BIN", 50),
			DefaultProbesPerBin: envInt("DEFAULT_PROBES_PER_BIN", 20),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Paths.IdatDirectory == "" {
		return fmt.Errorf("IDAT_DIRECTORY is required")
	}
	if c.Paths.ResultsDirectory == "" {
		return fmt.Errorf("RESULTS_DIRECTORY is required")
	}
	for _, dir := range []string{c.Paths.IdatDirectory, c.Paths.ResultsDirectory} {
		info, err := os.Stat(dir)
		if err != nil {
			return fmt.Errorf("directory %q is not accessible: %w", dir, err)
		}
		if !info.IsDir() {
			return fmt.Errorf("%q is not a directory", dir)
		}
	}

	if c.Scheduler.MaxWorkerContainers < 1 {
		return fmt.Errorf("MAX_WORKER_CONTAINERS must be at least 1, got %d", c.Scheduler.MaxWorkerContainers)
	}
	if c.Scheduler.ImagePullAttempts < 1 {
		return fmt.Errorf("IMAGE_PULL_ATTEMPTS must be at least 1, got %d", c.Scheduler.ImagePullAttempts)
	}
	if c.Scheduler.JobHistoryLimit < 1 {
		return fmt.Errorf("JOB_HISTORY_LIMIT must be at least 1, got %d", c.Scheduler.JobHistoryLimit)
	}

	if c.Bins.MinBinSize > c.Bins.MaxBinSize {
		return fmt.Errorf("MIN_BIN_SIZE %d exceeds MAX_BIN_SIZE %d", c.Bins.MinBinSize, c.Bins.MaxBinSize)
	}
	if c.Bins.DefaultBinSize < c.Bins.MinBinSize || c.Bins.DefaultBinSize > c.Bins.MaxBinSize {
		return fmt.Errorf("DEFAULT_BIN_SIZE %d outside [%d, %d]", c.Bins.DefaultBinSize, c.Bins.MinBinSize, c.Bins.MaxBinSize)
	}
	if c.Bins.DefaultProbesPerBin < c.Bins.MinProbesPerBin || c.Bins.DefaultProbesPerBin > c.Bins.MaxProbesPerBin {
		return fmt.Errorf("DEFAULT_PROBES_PER_BIN %d outside [%d, %d]", c.Bins.DefaultProbesPerBin, c.Bins.MinProbesPerBin, c.Bins.MaxProbesPerBin)
	}

	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
