package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/Iron-Ham/herd/internal/config"
	"github.com/Iron-Ham/herd/internal/logging"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "View or modify herd configuration",
	Long: `View or modify herd configuration.

Without arguments, displays the current configuration.
Use subcommands to modify settings or create a config file.`,
	RunE: runConfigShow,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE:  runConfigShow,
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: `Set a configuration value in the user's config file.

Keys use dot notation, e.g.:
  herd config set coordination.max_parallel 5
  herd config set coordination.presence_backend redis
  herd config set logging.level debug

Valid keys:
  coordination.dir                        - Coordination directory (default: <repo>/.herd)
  coordination.presence_backend           - Presence channel: file or redis
  coordination.presence_ttl_seconds       - Seconds a presence record counts as live
  coordination.heartbeat_interval_seconds - Seconds between presence refreshes
  coordination.max_parallel               - Agent processes this workstation runs at once
  registry.lease_ttl_seconds              - Seconds a lease survives without renewal
  registry.max_retries                    - Failed attempts before a task stops being retried
  scheduler.buffer_multiplier             - Backlog target as a multiple of fleet slots
  scheduler.min_backlog                   - Backlog target floor
  scheduler.max_backlog                   - Backlog target ceiling
  daemon.refresh_interval_seconds         - Seconds between fleet refresh cycles
  daemon.sweep_interval_seconds           - Seconds between stale-lease sweeps
  redis.addr                              - Redis address for the redis backend
  logging.enabled                         - Whether the daemon writes a log (true/false)
  logging.level                           - Log level: debug, info, warn, error

Capabilities are a list and must be edited in the config file directly.`,
	Args: cobra.ExactArgs(2),
	RunE: runConfigSet,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a default config file",
	Long:  `Create a default config file at ~/.config/herd/config.yaml with all available options.`,
	RunE:  runConfigInit,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show the config file path",
	RunE:  runConfigPath,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configPathCmd)
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg := config.Get()

	fmt.Println("Current configuration:")
	fmt.Println()

	// Show where config is being read from
	if viper.ConfigFileUsed() != "" {
		fmt.Printf("Config file: %s\n", viper.ConfigFileUsed())
	} else {
		fmt.Printf("Config file: (none - using defaults)\n")
	}
	fmt.Println()

	fmt.Println("coordination:")
	if cfg.Coordination.Dir == "" {
		fmt.Printf("  dir: (default: <repo>/.herd)\n")
	} else {
		fmt.Printf("  dir: %s\n", cfg.Coordination.Dir)
	}
	fmt.Printf("  presence_backend: %s\n", cfg.Coordination.PresenceBackend)
	fmt.Printf("  presence_ttl_seconds: %d\n", cfg.Coordination.PresenceTTLSeconds)
	fmt.Printf("  heartbeat_interval_seconds: %d\n", cfg.Coordination.HeartbeatIntervalSeconds)
	fmt.Printf("  capabilities: %v\n", cfg.Coordination.Capabilities)
	fmt.Printf("  max_parallel: %d\n", cfg.Coordination.MaxParallel)

	fmt.Println("registry:")
	fmt.Printf("  file_name: %s\n", cfg.Registry.FileName)
	fmt.Printf("  lease_ttl_seconds: %d\n", cfg.Registry.LeaseTTLSeconds)
	fmt.Printf("  max_retries: %d\n", cfg.Registry.MaxRetries)

	fmt.Println("scheduler:")
	fmt.Printf("  buffer_multiplier: %g\n", cfg.Scheduler.BufferMultiplier)
	fmt.Printf("  min_backlog: %d\n", cfg.Scheduler.MinBacklog)
	fmt.Printf("  max_backlog: %d\n", cfg.Scheduler.MaxBacklog)

	fmt.Println("anomaly:")
	fmt.Printf("  dedup_window_seconds: %d\n", cfg.Anomaly.DedupWindowSeconds)
	fmt.Printf("  circuit_breaker_threshold: %d\n", cfg.Anomaly.CircuitBreakerThreshold)
	fmt.Printf("  model_error_kill_count: %d\n", cfg.Anomaly.ModelErrorKillCount)

	fmt.Println("daemon:")
	fmt.Printf("  refresh_interval_seconds: %d\n", cfg.Daemon.RefreshIntervalSeconds)
	fmt.Printf("  sweep_interval_seconds: %d\n", cfg.Daemon.SweepIntervalSeconds)
	fmt.Printf("  watch_debounce_ms: %d\n", cfg.Daemon.WatchDebounceMs)
	fmt.Printf("  crash_window_ms: %d\n", cfg.Daemon.CrashWindowMs)
	fmt.Printf("  max_instant_crashes: %d\n", cfg.Daemon.MaxInstantCrashes)

	fmt.Println("redis:")
	fmt.Printf("  addr: %s\n", cfg.Redis.Addr)
	fmt.Printf("  db: %d\n", cfg.Redis.DB)
	fmt.Printf("  key_prefix: %s\n", cfg.Redis.KeyPrefix)

	fmt.Println("logging:")
	fmt.Printf("  enabled: %v\n", cfg.Logging.Enabled)
	fmt.Printf("  level: %s\n", cfg.Logging.Level)
	fmt.Printf("  max_size_mb: %d\n", cfg.Logging.MaxSizeMB)
	fmt.Printf("  max_backups: %d\n", cfg.Logging.MaxBackups)

	return nil
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	key := args[0]
	value := args[1]

	// Validate the key exists
	validKeys := map[string]string{
		"coordination.dir":                        "path",
		"coordination.presence_backend":           "string",
		"coordination.presence_ttl_seconds":       "int",
		"coordination.heartbeat_interval_seconds": "int",
		"coordination.max_parallel":               "int",
		"registry.lease_ttl_seconds":              "int",
		"registry.max_retries":                    "int",
		"scheduler.buffer_multiplier":             "float",
		"scheduler.min_backlog":                   "int",
		"scheduler.max_backlog":                   "int",
		"daemon.refresh_interval_seconds":         "int",
		"daemon.sweep_interval_seconds":           "int",
		"daemon.max_instant_crashes":              "int",
		"redis.addr":                              "string",
		"logging.enabled":                         "bool",
		"logging.level":                           "string",
	}

	keyType, ok := validKeys[key]
	if !ok {
		return fmt.Errorf("unknown configuration key: %s\nRun 'herd config set --help' to see valid keys", key)
	}

	// Validate the value based on type
	var typedValue interface{}
	switch keyType {
	case "path":
		typedValue = value
	case "string":
		if key == "coordination.presence_backend" && !config.IsValidPresenceBackend(value) {
			return fmt.Errorf("invalid value for %s: %s\nValid options: %s",
				key, value, strings.Join(config.ValidPresenceBackends(), ", "))
		}
		if key == "logging.level" {
			normalized := strings.ToUpper(value)
			if logging.ParseLevel(value) != normalized {
				return fmt.Errorf("invalid value for %s: %s\nValid options: %s",
					key, value, strings.ToLower(strings.Join(logging.ValidLevels(), ", ")))
			}
			value = strings.ToLower(value)
		}
		typedValue = value
	case "bool":
		if value != "true" && value != "false" {
			return fmt.Errorf("invalid value for %s: expected true or false", key)
		}
		typedValue = value == "true"
	case "int":
		intVal, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid value for %s: expected integer", key)
		}
		if intVal < 0 {
			return fmt.Errorf("invalid value for %s: must be non-negative", key)
		}
		typedValue = intVal
	case "float":
		floatVal, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid value for %s: expected number", key)
		}
		if floatVal < 0 {
			return fmt.Errorf("invalid value for %s: must be non-negative", key)
		}
		typedValue = floatVal
	}

	// Ensure config directory exists
	configDir := config.ConfigDir()
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// Set the value in viper
	viper.Set(key, typedValue)

	// Write to config file
	configFile := config.ConfigFile()
	if err := viper.WriteConfigAs(configFile); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	fmt.Printf("Set %s = %v\n", key, typedValue)
	fmt.Printf("Config saved to %s\n", configFile)

	return nil
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	configDir := config.ConfigDir()
	configFile := config.ConfigFile()

	// Check if config file already exists
	if _, err := os.Stat(configFile); err == nil {
		return fmt.Errorf("config file already exists at %s\nUse 'herd config set' to modify values", configFile)
	}

	// Create config directory
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// Generate a commented config file
	configContent := `# Herd Configuration
# See: https://github.com/Iron-Ham/herd

# Fleet membership and presence
coordination:
  # Coordination directory; empty means <repo>/.herd.
  # Point every workstation at the same shared volume, or switch
  # presence_backend to redis for fleets without shared storage.
  dir: ""
  # Presence channel: file or redis
  presence_backend: file
  # How long a presence record counts as live without a refresh
  presence_ttl_seconds: 300
  # How often this workstation republishes presence and renews leases
  heartbeat_interval_seconds: 60
  # What kinds of tasks this workstation takes (empty: anything)
  capabilities: []
  # Agent processes this workstation runs concurrently
  max_parallel: 3

# Shared task-lease registry
registry:
  file_name: registry.json
  # How long a claimed lease survives without a heartbeat renewal
  lease_ttl_seconds: 900
  # Failed attempts before a task stops being re-claimed
  max_retries: 3

# Backlog depth and wave planning
scheduler:
  # Backlog target as a multiple of total fleet slots
  buffer_multiplier: 3.0
  min_backlog: 6
  max_backlog: 100

# Agent output anomaly detection
anomaly:
  dedup_window_seconds: 30
  circuit_breaker_threshold: 3
  model_error_kill_count: 3

# Coordination daemon
daemon:
  refresh_interval_seconds: 60
  sweep_interval_seconds: 120
  watch_debounce_ms: 500
  crash_window_ms: 15000
  max_instant_crashes: 2

# Redis presence backend (only used when presence_backend is redis)
redis:
  addr: localhost:6379
  password: ""
  db: 0
  key_prefix: herd

# Daemon logging
logging:
  enabled: true
  # debug, info, warn, error
  level: info
  max_size_mb: 10
  max_backups: 3
`

	if err := os.WriteFile(configFile, []byte(configContent), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	fmt.Printf("Created config file at %s\n", configFile)
	fmt.Println("Edit this file to customize herd's behavior.")

	return nil
}

func runConfigPath(cmd *cobra.Command, args []string) error {
	configFile := config.ConfigFile()

	if viper.ConfigFileUsed() != "" {
		fmt.Printf("Active config: %s\n", viper.ConfigFileUsed())
	} else {
		fmt.Printf("Default path: %s (not created)\n", configFile)
	}

	// Also show config search paths
	fmt.Println("\nSearch paths:")
	fmt.Printf("  1. %s\n", filepath.Join(config.ConfigDir(), "config.yaml"))
	fmt.Printf("  2. $HOME/.config/herd/config.yaml\n")
	fmt.Printf("  3. ./config.yaml (current directory)\n")
	fmt.Println("\nEnvironment variables: HERD_* (e.g., HERD_COORDINATION_MAX_PARALLEL)")

	return nil
}
