package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete herd configuration
type Config struct {
	Coordination CoordinationConfig `mapstructure:"coordination"`
	Registry     RegistryConfig     `mapstructure:"registry"`
	Scheduler    SchedulerConfig    `mapstructure:"scheduler"`
	Anomaly      AnomalyConfig      `mapstructure:"anomaly"`
	Daemon       DaemonConfig       `mapstructure:"daemon"`
	Redis        RedisConfig        `mapstructure:"redis"`
	Logging      LoggingConfig      `mapstructure:"logging"`
}

// CoordinationConfig controls fleet membership and presence publication
type CoordinationConfig struct {
	// Dir is the shared coordination directory holding presence records,
	// the lease registry, and logs.
	// If empty, defaults to ".herd" relative to the repository root.
	// Can be an absolute path (e.g., on a shared volume mounted by every
	// workstation in the fleet). Supports ~ for home directory expansion.
	Dir string `mapstructure:"dir"`

	// PresenceBackend selects how presence records are shared.
	// Options: "file" (one JSON file per instance under the coordination
	// directory) or "redis" (records stored with TTL in a shared Redis).
	PresenceBackend string `mapstructure:"presence_backend"`

	// PresenceTTLSeconds is how long a presence record counts as live
	// without a refresh (default: 300 = 5 minutes)
	PresenceTTLSeconds int `mapstructure:"presence_ttl_seconds"`

	// HeartbeatIntervalSeconds is how often this instance republishes its
	// presence and renews held leases (default: 60)
	HeartbeatIntervalSeconds int `mapstructure:"heartbeat_interval_seconds"`

	// Capabilities advertises what kinds of tasks this workstation can
	// take (e.g., ["ios", "backend"]). Tasks with a matching scope are
	// routed here preferentially. Empty means "anything".
	Capabilities []string `mapstructure:"capabilities"`

	// MaxParallel is the number of agent processes this workstation will
	// run concurrently; the fleet sums these into total slot capacity
	// (default: 3)
	MaxParallel int `mapstructure:"max_parallel"`
}

// RegistryConfig controls the shared task-lease registry
type RegistryConfig struct {
	// FileName is the registry file name inside the coordination directory
	// (default: "registry.json")
	FileName string `mapstructure:"file_name"`

	// LeaseTTLSeconds is how long a claimed lease stays protected without
	// a heartbeat renewal before challengers may take it over
	// (default: 900 = 15 minutes)
	LeaseTTLSeconds int `mapstructure:"lease_ttl_seconds"`

	// MaxRetries is the retry-count ceiling consulted by shouldRetry
	// before a task stops being re-claimed (default: 3)
	MaxRetries int `mapstructure:"max_retries"`
}

// SchedulerConfig controls wave construction and backlog management
type SchedulerConfig struct {
	// BufferMultiplier scales total fleet slots into the target backlog
	// depth (default: 3.0)
	BufferMultiplier float64 `mapstructure:"buffer_multiplier"`

	// MinBacklog is the floor for the target backlog depth (default: 6)
	MinBacklog int `mapstructure:"min_backlog"`

	// MaxBacklog is the ceiling for the target backlog depth (default: 100)
	MaxBacklog int `mapstructure:"max_backlog"`
}

// AnomalyConfig controls the output anomaly detector
type AnomalyConfig struct {
	// DedupWindowSeconds suppresses duplicate events for the same
	// (process, type, severity) key within this window (default: 30)
	DedupWindowSeconds int `mapstructure:"dedup_window_seconds"`

	// CircuitBreakerThreshold is the number of re-triggers past the dedup
	// window before a warn-only category escalates to kill (default: 3)
	CircuitBreakerThreshold int `mapstructure:"circuit_breaker_threshold"`

	// ModelErrorKillCount is the number of model-not-supported errors
	// tolerated before the process is killed (default: 3)
	ModelErrorKillCount int `mapstructure:"model_error_kill_count"`
}

// DaemonConfig controls the long-running coordination daemon
type DaemonConfig struct {
	// RefreshIntervalSeconds is how often the daemon recomputes the fleet
	// view and republishes presence (default: 60)
	RefreshIntervalSeconds int `mapstructure:"refresh_interval_seconds"`

	// SweepIntervalSeconds is how often the daemon sweeps stale leases
	// from the registry (default: 120)
	SweepIntervalSeconds int `mapstructure:"sweep_interval_seconds"`

	// WatchDebounceMs coalesces bursts of registry file-change
	// notifications into a single reload (default: 500)
	WatchDebounceMs int `mapstructure:"watch_debounce_ms"`

	// CrashWindowMs is the instant-crash window: a supervised process
	// exiting within this many milliseconds of starting counts as an
	// instant crash (default: 15000)
	CrashWindowMs int64 `mapstructure:"crash_window_ms"`

	// MaxInstantCrashes is how many consecutive instant crashes are
	// tolerated before auto-restart is suspended (default: 2)
	MaxInstantCrashes int `mapstructure:"max_instant_crashes"`
}

// RedisConfig controls the optional Redis presence backend
type RedisConfig struct {
	// Addr is the Redis server address (default: "localhost:6379")
	Addr string `mapstructure:"addr"`

	// Password authenticates against the Redis server (default: "")
	Password string `mapstructure:"password"`

	// DB is the Redis database number (default: 0)
	DB int `mapstructure:"db"`

	// KeyPrefix namespaces herd keys in a shared Redis (default: "herd")
	KeyPrefix string `mapstructure:"key_prefix"`
}

// LoggingConfig controls debug logging behavior
type LoggingConfig struct {
	// Enabled controls whether debug logging is enabled (default: true)
	Enabled bool `mapstructure:"enabled"`
	// Level is the log level: "debug", "info", "warn", "error" (default: "info")
	Level string `mapstructure:"level"`
	// MaxSizeMB is the maximum log file size in megabytes before rotation (default: 10)
	MaxSizeMB int `mapstructure:"max_size_mb"`
	// MaxBackups is the number of backup log files to keep (default: 3)
	MaxBackups int `mapstructure:"max_backups"`
}

// ResolveDir returns the resolved coordination directory path.
// If Dir is empty, it returns the default ".herd" relative to baseDir.
// If Dir starts with ~, it expands to the user's home directory.
// If Dir is a relative path, it's resolved relative to baseDir.
func (c *CoordinationConfig) ResolveDir(baseDir string) string {
	if c.Dir == "" {
		return filepath.Join(baseDir, ".herd")
	}

	path := c.Dir

	// Expand ~ to home directory
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(home, path[2:])
		}
	} else if path == "~" {
		home, err := os.UserHomeDir()
		if err == nil {
			path = home
		}
	}

	// If relative path, resolve relative to baseDir
	if !filepath.IsAbs(path) {
		path = filepath.Join(baseDir, path)
	}

	return path
}

// PresenceTTL returns the presence TTL as a time.Duration
func (c *CoordinationConfig) PresenceTTL() time.Duration {
	return time.Duration(c.PresenceTTLSeconds) * time.Second
}

// HeartbeatInterval returns the heartbeat interval as a time.Duration
func (c *CoordinationConfig) HeartbeatInterval() time.Duration {
	return time.Duration(c.HeartbeatIntervalSeconds) * time.Second
}

// LeaseTTL returns the lease TTL as a time.Duration
func (c *RegistryConfig) LeaseTTL() time.Duration {
	return time.Duration(c.LeaseTTLSeconds) * time.Second
}

// RefreshInterval returns the fleet refresh interval as a time.Duration
func (c *DaemonConfig) RefreshInterval() time.Duration {
	return time.Duration(c.RefreshIntervalSeconds) * time.Second
}

// SweepInterval returns the stale-lease sweep interval as a time.Duration
func (c *DaemonConfig) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalSeconds) * time.Second
}

// WatchDebounce returns the registry watch debounce as a time.Duration
func (c *DaemonConfig) WatchDebounce() time.Duration {
	return time.Duration(c.WatchDebounceMs) * time.Millisecond
}

// CrashWindow returns the instant-crash window as a time.Duration
func (c *DaemonConfig) CrashWindow() time.Duration {
	return time.Duration(c.CrashWindowMs) * time.Millisecond
}

// DedupWindow returns the anomaly dedup window as a time.Duration
func (c *AnomalyConfig) DedupWindow() time.Duration {
	return time.Duration(c.DedupWindowSeconds) * time.Second
}

// Default returns a Config with sensible default values
func Default() *Config {
	return &Config{
		Coordination: CoordinationConfig{
			Dir:                      "", // Empty means use default: <repo>/.herd
			PresenceBackend:          "file",
			PresenceTTLSeconds:       300, // 5 minutes
			HeartbeatIntervalSeconds: 60,
			Capabilities:             []string{},
			MaxParallel:              3,
		},
		Registry: RegistryConfig{
			FileName:        "registry.json",
			LeaseTTLSeconds: 900, // 15 minutes
			MaxRetries:      3,
		},
		Scheduler: SchedulerConfig{
			BufferMultiplier: 3.0,
			MinBacklog:       6,
			MaxBacklog:       100,
		},
		Anomaly: AnomalyConfig{
			DedupWindowSeconds:      30,
			CircuitBreakerThreshold: 3,
			ModelErrorKillCount:     3,
		},
		Daemon: DaemonConfig{
			RefreshIntervalSeconds: 60,
			SweepIntervalSeconds:   120,
			WatchDebounceMs:        500,
			CrashWindowMs:          15000,
			MaxInstantCrashes:      2,
		},
		Redis: RedisConfig{
			Addr:      "localhost:6379",
			Password:  "",
			DB:        0,
			KeyPrefix: "herd",
		},
		Logging: LoggingConfig{
			Enabled:    true,
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
	}
}

// SetDefaults registers default values with viper
func SetDefaults() {
	defaults := Default()

	// Coordination defaults
	viper.SetDefault("coordination.dir", defaults.Coordination.Dir)
	viper.SetDefault("coordination.presence_backend", defaults.Coordination.PresenceBackend)
	viper.SetDefault("coordination.presence_ttl_seconds", defaults.Coordination.PresenceTTLSeconds)
	viper.SetDefault("coordination.heartbeat_interval_seconds", defaults.Coordination.HeartbeatIntervalSeconds)
	viper.SetDefault("coordination.capabilities", defaults.Coordination.Capabilities)
	viper.SetDefault("coordination.max_parallel", defaults.Coordination.MaxParallel)

	// Registry defaults
	viper.SetDefault("registry.file_name", defaults.Registry.FileName)
	viper.SetDefault("registry.lease_ttl_seconds", defaults.Registry.LeaseTTLSeconds)
	viper.SetDefault("registry.max_retries", defaults.Registry.MaxRetries)

	// Scheduler defaults
	viper.SetDefault("scheduler.buffer_multiplier", defaults.Scheduler.BufferMultiplier)
	viper.SetDefault("scheduler.min_backlog", defaults.Scheduler.MinBacklog)
	viper.SetDefault("scheduler.max_backlog", defaults.Scheduler.MaxBacklog)

	// Anomaly defaults
	viper.SetDefault("anomaly.dedup_window_seconds", defaults.Anomaly.DedupWindowSeconds)
	viper.SetDefault("anomaly.circuit_breaker_threshold", defaults.Anomaly.CircuitBreakerThreshold)
	viper.SetDefault("anomaly.model_error_kill_count", defaults.Anomaly.ModelErrorKillCount)

	// Daemon defaults
	viper.SetDefault("daemon.refresh_interval_seconds", defaults.Daemon.RefreshIntervalSeconds)
	viper.SetDefault("daemon.sweep_interval_seconds", defaults.Daemon.SweepIntervalSeconds)
	viper.SetDefault("daemon.watch_debounce_ms", defaults.Daemon.WatchDebounceMs)
	viper.SetDefault("daemon.crash_window_ms", defaults.Daemon.CrashWindowMs)
	viper.SetDefault("daemon.max_instant_crashes", defaults.Daemon.MaxInstantCrashes)

	// Redis defaults
	viper.SetDefault("redis.addr", defaults.Redis.Addr)
	viper.SetDefault("redis.password", defaults.Redis.Password)
	viper.SetDefault("redis.db", defaults.Redis.DB)
	viper.SetDefault("redis.key_prefix", defaults.Redis.KeyPrefix)

	// Logging defaults
	viper.SetDefault("logging.enabled", defaults.Logging.Enabled)
	viper.SetDefault("logging.level", defaults.Logging.Level)
	viper.SetDefault("logging.max_size_mb", defaults.Logging.MaxSizeMB)
	viper.SetDefault("logging.max_backups", defaults.Logging.MaxBackups)
}

// Load reads the configuration from viper into a Config struct and validates it
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	// Validate the configuration
	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// Get returns the current configuration (convenience function)
func Get() *Config {
	cfg, err := Load()
	if err != nil {
		// Fall back to defaults if unmarshaling fails
		return Default()
	}
	return cfg
}

// ConfigDir returns the path to the user's config directory
func ConfigDir() string {
	// Check XDG_CONFIG_HOME first
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "herd")
	}
	// Fall back to ~/.config/herd
	home, err := os.UserHomeDir()
	if err != nil {
		return ".herd"
	}
	return filepath.Join(home, ".config", "herd")
}

// ConfigFile returns the path to the config file
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// ValidPresenceBackends returns the list of valid presence backend values
func ValidPresenceBackends() []string {
	return []string{"file", "redis"}
}

// IsValidPresenceBackend checks if the given backend is valid
func IsValidPresenceBackend(backend string) bool {
	for _, valid := range ValidPresenceBackends() {
		if backend == valid {
			return true
		}
	}
	return false
}
