package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config represents the application configuration
type Config struct {
	Environment string           `toml:"environment"` // "development" or "production"
	Server      ServerConfig     `toml:"server"`
	Logging     LoggingConfig    `toml:"logging"`
	Storage     StorageConfig    `toml:"storage"`
	Uploads     UploadsConfig    `toml:"uploads"`
	Jobs        JobsConfig       `toml:"jobs"`
	Schedulers  SchedulersConfig `toml:"schedulers"`
	Reconciler  ReconcilerConfig `toml:"reconciler"`
	Accounting  AccountingConfig `toml:"accounting"`
	Auth        AuthConfig       `toml:"auth"`
	WebSocket   WebSocketConfig  `toml:"websocket"`
	Reports     ReportsConfig    `toml:"reports"`
}

type ServerConfig struct {
	Port int    `toml:"port"`
	Host string `toml:"host"`
}

type LoggingConfig struct {
	Level  string   `toml:"level"`  // "debug", "info", "warn", "error"
	Output []string `toml:"output"` // "stdout", "file"
	Dir    string   `toml:"dir"`    // Log file directory (default: <exe-dir>/logs)
}

type StorageConfig struct {
	Badger BadgerConfig `toml:"badger"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path"`             // Database directory path
	ResetOnStartup bool   `toml:"reset_on_startup"` // Delete database on startup for clean test runs
	GCPeriod       string `toml:"gc_period"`        // Value log garbage collection interval
}

// UploadsConfig governs the per-user data store for input images.
type UploadsConfig struct {
	DataRoot       string   `toml:"data_root"`       // Root directory for per-user uploads
	AllowedFormats []string `toml:"allowed_formats"` // Extension allowlist, case-insensitive
	MaxUploadBytes int64    `toml:"max_upload_bytes"`
}

// JobsConfig governs job directories and validator runtime clamps.
type JobsConfig struct {
	JobRoot         string `toml:"job_root"`         // Root directory for per-user job dirs
	Scheduler       string `toml:"scheduler"`        // "local", "kube" or "slurm"
	AppCatalogDir   string `toml:"app_catalog_dir"`  // Optional dir of YAML app descriptors
	MaskRCNNWeights string `toml:"maskrcnn_weights"` // Weights file for the mrcnn detector
	MaxNProc        int    `toml:"max_nproc"`        // Clamp for --nproc runtime hint
	MaxNThreads     int    `toml:"max_nthreads"`     // Clamp for --nthreads runtime hint
}

type SchedulersConfig struct {
	Local LocalSchedulerConfig `toml:"local"`
	Kube  KubeSchedulerConfig  `toml:"kube"`
	Slurm SlurmSchedulerConfig `toml:"slurm"`
}

// LocalSchedulerConfig configures the in-process worker pool.
type LocalSchedulerConfig struct {
	Workers       int    `toml:"workers"`
	QueueSize     int    `toml:"queue_size"`
	MonitorPeriod string `toml:"monitor_period"`  // e.g. "5s"
	SoftTimeLimit string `toml:"soft_time_limit"` // e.g. "2h", empty = none
}

// KubeSchedulerConfig configures the Kubernetes batch backend.
type KubeSchedulerConfig struct {
	InCluster         bool              `toml:"in_cluster"`
	ConfigPath        string            `toml:"config_path"` // kubeconfig when not in cluster
	CertPath          string            `toml:"cert_path"`
	KeyPath           string            `toml:"key_path"`
	CAPath            string            `toml:"ca_path"`
	Namespace         string            `toml:"namespace"`
	AppImages         map[string]string `toml:"app_images"` // app name -> container image
	RcloneSecret      string            `toml:"rclone_secret"`
	RemoteStorageName string            `toml:"remote_storage_name"`
	RemoteStoragePath string            `toml:"remote_storage_path"`
	MountPath         string            `toml:"mount_path"`
	MountWaitTime     int               `toml:"mount_wait_time"` // seconds
}

// SlurmSchedulerConfig configures the HPC REST backend.
type SlurmSchedulerConfig struct {
	Host           string            `toml:"host"`
	Port           int               `toml:"port"`
	TLS            bool              `toml:"tls"` // https to slurmrestd
	User           string            `toml:"user"`
	KeyPath        string            `toml:"key_path"` // symmetric JWT signing key
	Queue          string            `toml:"queue"`
	BatchWorkDir   string            `toml:"batch_workdir"` // cluster-side working dir
	APIVersion     string            `toml:"api_version"`
	AppImages      map[string]string `toml:"app_images"` // app name -> singularity image
	JobDirServer   string            `toml:"job_dir_server"`
	JobDirCluster  string            `toml:"job_dir_cluster"`
	DataDirServer  string            `toml:"data_dir_server"`
	DataDirCluster string            `toml:"data_dir_cluster"`
	MaxCores       int               `toml:"max_cores"`
	TokenTTL       string            `toml:"token_ttl"`       // e.g. "1h"
	TokenHeadroom  string            `toml:"token_headroom"`  // e.g. "30s"
	RequestTimeout string            `toml:"request_timeout"` // e.g. "10s"
	RateLimit      int               `toml:"rate_limit"`      // requests per second
	StartupSleep   int               `toml:"startup_sleep"`   // seconds before the entrypoint runs
}

// ReconcilerConfig drives the periodic scheduler-state merge.
type ReconcilerConfig struct {
	Period     string `toml:"period"` // e.g. "5s"
	WorkerPool int    `toml:"worker_pool"`
}

// AccountingConfig drives the periodic usage aggregation.
type AccountingConfig struct {
	Period string `toml:"period"` // e.g. "60s"
}

// AuthConfig configures bearer verification against an OpenID provider.
type AuthConfig struct {
	Enabled     bool   `toml:"enabled"`
	UserinfoURL string `toml:"userinfo_url"`
	Realm       string `toml:"realm"`
}

// WebSocketConfig configures the job-event stream.
type WebSocketConfig struct {
	Enabled       bool     `toml:"enabled"`
	AllowedEvents []string `toml:"allowed_events"` // empty = all
}

// ReportsConfig toggles PDF run-report generation during packaging.
type ReportsConfig struct {
	Enabled bool `toml:"enabled"`
}

// NewDefaultConfig creates a configuration with default values.
// Only user-facing settings are exposed in caelum.toml; technical
// parameters are fixed here.
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Port: 8080,
			Host: "localhost",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: []string{"stdout"},
		},
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Path:           "./data/caelum.db",
				ResetOnStartup: false,
				GCPeriod:       "10m",
			},
		},
		Uploads: UploadsConfig{
			DataRoot:       "./data/uploads",
			AllowedFormats: []string{"png", "jpg", "jpeg", "gif", "fits"},
			MaxUploadBytes: 256 * 1024 * 1024,
		},
		Jobs: JobsConfig{
			JobRoot:     "./data/jobs",
			Scheduler:   "local",
			MaxNProc:    8,
			MaxNThreads: 8,
		},
		Schedulers: SchedulersConfig{
			Local: LocalSchedulerConfig{
				Workers:       2,
				QueueSize:     100,
				MonitorPeriod: "5s",
				SoftTimeLimit: "48h",
			},
			Kube: KubeSchedulerConfig{
				Namespace:     "default",
				RcloneSecret:  "rclone-secret",
				MountPath:     "/mnt/storage",
				MountWaitTime: 10,
			},
			Slurm: SlurmSchedulerConfig{
				Port:           6820,
				Queue:          "normal",
				APIVersion:     "v0.0.36",
				MaxCores:       4,
				TokenTTL:       "1h",
				TokenHeadroom:  "30s",
				RequestTimeout: "10s",
				RateLimit:      10,
				StartupSleep:   3,
			},
		},
		Reconciler: ReconcilerConfig{
			Period:     "5s",
			WorkerPool: 4,
		},
		Accounting: AccountingConfig{
			Period: "60s",
		},
		Auth: AuthConfig{
			Enabled: false,
		},
		WebSocket: WebSocketConfig{
			Enabled: true,
		},
		Reports: ReportsConfig{
			Enabled: false,
		},
	}
}

// LoadFromFiles loads configuration from multiple files with priority:
// default -> file1 -> file2 -> ... -> env. Later files override earlier ones.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("CAELUM_ENV"); env != "" {
		config.Environment = env
	} else if env := os.Getenv("GO_ENV"); env != "" {
		config.Environment = env
	}

	if port := os.Getenv("CAELUM_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("CAELUM_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}
	if level := os.Getenv("CAELUM_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if path := os.Getenv("CAELUM_BADGER_PATH"); path != "" {
		config.Storage.Badger.Path = path
	}
	if root := os.Getenv("CAELUM_DATA_ROOT"); root != "" {
		config.Uploads.DataRoot = root
	}
	if root := os.Getenv("CAELUM_JOB_ROOT"); root != "" {
		config.Jobs.JobRoot = root
	}
	if sched := os.Getenv("CAELUM_JOB_SCHEDULER"); sched != "" {
		config.Jobs.Scheduler = sched
	}
	if host := os.Getenv("CAELUM_SLURM_HOST"); host != "" {
		config.Schedulers.Slurm.Host = host
	}
	if port := os.Getenv("CAELUM_SLURM_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Schedulers.Slurm.Port = p
		}
	}
	if user := os.Getenv("CAELUM_SLURM_USER"); user != "" {
		config.Schedulers.Slurm.User = user
	}
	if key := os.Getenv("CAELUM_SLURM_KEY_PATH"); key != "" {
		config.Schedulers.Slurm.KeyPath = key
	}
	if enabled := os.Getenv("CAELUM_AUTH_ENABLED"); enabled != "" {
		config.Auth.Enabled = strings.EqualFold(enabled, "true") || enabled == "1"
	}
}

// ApplyFlagOverrides applies command-line flag overrides to config
func ApplyFlagOverrides(config *Config, port int, host string) {
	if port != 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
}

// Validate rejects configurations the service cannot start with.
func (c *Config) Validate() error {
	switch c.Jobs.Scheduler {
	case "local", "kube", "slurm":
	default:
		return fmt.Errorf("unknown job scheduler %q (want local, kube or slurm)", c.Jobs.Scheduler)
	}

	if c.Jobs.Scheduler == "slurm" {
		if c.Schedulers.Slurm.Host == "" {
			return fmt.Errorf("slurm scheduler selected but schedulers.slurm.host is empty")
		}
		if c.Schedulers.Slurm.KeyPath == "" {
			return fmt.Errorf("slurm scheduler selected but schedulers.slurm.key_path is empty")
		}
	}

	if _, err := time.ParseDuration(c.Reconciler.Period); err != nil {
		return fmt.Errorf("invalid reconciler period %q: %w", c.Reconciler.Period, err)
	}
	if _, err := time.ParseDuration(c.Accounting.Period); err != nil {
		return fmt.Errorf("invalid accounting period %q: %w", c.Accounting.Period, err)
	}

	return nil
}

// IsProduction returns true if the environment is set to production
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

// Duration parses a duration string falling back to a default when empty
// or malformed.
func Duration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
