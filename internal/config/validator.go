package config

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
)

// ValidationError represents a single configuration validation error
type ValidationError struct {
	Field   string
	Value   any
	Message string
}

// Error implements the error interface
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for multiple validation errors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("\n  %d. %s", i+1, err.Error()))
	}
	return sb.String()
}

// Validation bounds
const (
	minPresenceTTLSeconds = 30
	maxPresenceTTLSeconds = 86400 // 24 hours

	minHeartbeatIntervalSeconds = 5

	minMaxParallel = 1
	maxMaxParallel = 20

	maxCapabilityLength = 64

	minLeaseTTLSeconds = 30
	maxLeaseTTLSeconds = 86400 // 24 hours

	maxMaxRetries = 100

	maxBufferMultiplier = 100.0

	maxBacklogCeiling = 10000

	minDedupWindowSeconds = 1
	maxDedupWindowSeconds = 3600 // 1 hour

	minCircuitBreakerThreshold = 1
	maxCircuitBreakerThreshold = 100

	minModelErrorKillCount = 1
	maxModelErrorKillCount = 100

	minRefreshIntervalSeconds = 1
	maxRefreshIntervalSeconds = 3600 // 1 hour

	minSweepIntervalSeconds = 1
	maxSweepIntervalSeconds = 86400 // 24 hours

	maxWatchDebounceMs = 60000 // 1 minute

	minCrashWindowMs = 1
	maxCrashWindowMs = 600000 // 10 minutes

	minMaxInstantCrashes = 1
	maxMaxInstantCrashes = 100

	minRedisDB = 0
	maxRedisDB = 15

	minLogSizeMB = 1
	maxLogSizeMB = 1000 // 1GB

	maxLogBackups = 100
)

// capabilityRegex validates capability names: must start with a letter,
// followed by letters, digits, hyphens, or underscores
var capabilityRegex = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_-]*$`)

// keyPrefixRegex validates Redis key prefixes: must start with a letter,
// followed by letters, digits, hyphens, underscores, or colons
var keyPrefixRegex = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_:-]*$`)

// ValidLogLevels returns the list of valid log level values
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// Validate checks the configuration for invalid values and returns
// all validation errors found
func (c *Config) Validate() ValidationErrors {
	var errs ValidationErrors

	errs = append(errs, c.validateCoordination()...)
	errs = append(errs, c.validateRegistry()...)
	errs = append(errs, c.validateScheduler()...)
	errs = append(errs, c.validateAnomaly()...)
	errs = append(errs, c.validateDaemon()...)
	errs = append(errs, c.validateRedis()...)
	errs = append(errs, c.validateLogging()...)

	return errs
}

// validateCoordination checks coordination section values
func (c *Config) validateCoordination() ValidationErrors {
	var errs ValidationErrors

	if c.Coordination.PresenceBackend != "" && !IsValidPresenceBackend(c.Coordination.PresenceBackend) {
		errs = append(errs, ValidationError{
			Field:   "coordination.presence_backend",
			Value:   c.Coordination.PresenceBackend,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidPresenceBackends(), ", ")),
		})
	}

	if c.Coordination.PresenceTTLSeconds < minPresenceTTLSeconds || c.Coordination.PresenceTTLSeconds > maxPresenceTTLSeconds {
		errs = append(errs, ValidationError{
			Field:   "coordination.presence_ttl_seconds",
			Value:   c.Coordination.PresenceTTLSeconds,
			Message: fmt.Sprintf("must be between %d and %d", minPresenceTTLSeconds, maxPresenceTTLSeconds),
		})
	}

	if c.Coordination.HeartbeatIntervalSeconds < minHeartbeatIntervalSeconds {
		errs = append(errs, ValidationError{
			Field:   "coordination.heartbeat_interval_seconds",
			Value:   c.Coordination.HeartbeatIntervalSeconds,
			Message: fmt.Sprintf("must be at least %d", minHeartbeatIntervalSeconds),
		})
	} else if c.Coordination.HeartbeatIntervalSeconds >= c.Coordination.PresenceTTLSeconds {
		errs = append(errs, ValidationError{
			Field:   "coordination.heartbeat_interval_seconds",
			Value:   c.Coordination.HeartbeatIntervalSeconds,
			Message: fmt.Sprintf("must be less than presence_ttl_seconds (%d)", c.Coordination.PresenceTTLSeconds),
		})
	}

	if c.Coordination.MaxParallel < minMaxParallel || c.Coordination.MaxParallel > maxMaxParallel {
		errs = append(errs, ValidationError{
			Field:   "coordination.max_parallel",
			Value:   c.Coordination.MaxParallel,
			Message: fmt.Sprintf("must be between %d and %d", minMaxParallel, maxMaxParallel),
		})
	}

	errs = append(errs, c.validateCapabilities()...)

	return errs
}

// validateCapabilities checks the capabilities list for invalid or
// duplicate entries
func (c *Config) validateCapabilities() ValidationErrors {
	var errs ValidationErrors

	seen := make(map[string]bool)
	for i, capability := range c.Coordination.Capabilities {
		field := fmt.Sprintf("coordination.capabilities[%d]", i)

		if capability == "" {
			errs = append(errs, ValidationError{
				Field:   field,
				Value:   capability,
				Message: "must not be empty",
			})
			continue
		}

		if len(capability) > maxCapabilityLength {
			errs = append(errs, ValidationError{
				Field:   field,
				Value:   capability,
				Message: fmt.Sprintf("must be at most %d characters", maxCapabilityLength),
			})
			continue
		}

		if !capabilityRegex.MatchString(capability) {
			errs = append(errs, ValidationError{
				Field:   field,
				Value:   capability,
				Message: "must start with a letter and contain only letters, digits, hyphens, and underscores",
			})
			continue
		}

		if seen[capability] {
			errs = append(errs, ValidationError{
				Field:   field,
				Value:   capability,
				Message: "duplicate capability",
			})
			continue
		}
		seen[capability] = true
	}

	return errs
}

// validateRegistry checks registry section values
func (c *Config) validateRegistry() ValidationErrors {
	var errs ValidationErrors

	if c.Registry.FileName == "" {
		errs = append(errs, ValidationError{
			Field:   "registry.file_name",
			Value:   c.Registry.FileName,
			Message: "must not be empty",
		})
	} else if strings.ContainsAny(c.Registry.FileName, `/\`) {
		errs = append(errs, ValidationError{
			Field:   "registry.file_name",
			Value:   c.Registry.FileName,
			Message: "must not contain path separators",
		})
	}

	if c.Registry.LeaseTTLSeconds < minLeaseTTLSeconds || c.Registry.LeaseTTLSeconds > maxLeaseTTLSeconds {
		errs = append(errs, ValidationError{
			Field:   "registry.lease_ttl_seconds",
			Value:   c.Registry.LeaseTTLSeconds,
			Message: fmt.Sprintf("must be between %d and %d", minLeaseTTLSeconds, maxLeaseTTLSeconds),
		})
	}

	if c.Registry.MaxRetries < 0 || c.Registry.MaxRetries > maxMaxRetries {
		errs = append(errs, ValidationError{
			Field:   "registry.max_retries",
			Value:   c.Registry.MaxRetries,
			Message: fmt.Sprintf("must be between 0 and %d", maxMaxRetries),
		})
	}

	return errs
}

// validateScheduler checks scheduler section values
func (c *Config) validateScheduler() ValidationErrors {
	var errs ValidationErrors

	if c.Scheduler.BufferMultiplier <= 0 || c.Scheduler.BufferMultiplier > maxBufferMultiplier {
		errs = append(errs, ValidationError{
			Field:   "scheduler.buffer_multiplier",
			Value:   c.Scheduler.BufferMultiplier,
			Message: fmt.Sprintf("must be greater than 0 and at most %v", maxBufferMultiplier),
		})
	}

	if c.Scheduler.MinBacklog < 0 {
		errs = append(errs, ValidationError{
			Field:   "scheduler.min_backlog",
			Value:   c.Scheduler.MinBacklog,
			Message: "must be non-negative",
		})
	}

	if c.Scheduler.MaxBacklog < 1 || c.Scheduler.MaxBacklog > maxBacklogCeiling {
		errs = append(errs, ValidationError{
			Field:   "scheduler.max_backlog",
			Value:   c.Scheduler.MaxBacklog,
			Message: fmt.Sprintf("must be between 1 and %d", maxBacklogCeiling),
		})
	}

	if c.Scheduler.MinBacklog >= 0 && c.Scheduler.MaxBacklog >= 1 && c.Scheduler.MinBacklog > c.Scheduler.MaxBacklog {
		errs = append(errs, ValidationError{
			Field:   "scheduler.min_backlog",
			Value:   c.Scheduler.MinBacklog,
			Message: fmt.Sprintf("must not exceed max_backlog (%d)", c.Scheduler.MaxBacklog),
		})
	}

	return errs
}

// validateAnomaly checks anomaly section values
func (c *Config) validateAnomaly() ValidationErrors {
	var errs ValidationErrors

	if c.Anomaly.DedupWindowSeconds < minDedupWindowSeconds || c.Anomaly.DedupWindowSeconds > maxDedupWindowSeconds {
		errs = append(errs, ValidationError{
			Field:   "anomaly.dedup_window_seconds",
			Value:   c.Anomaly.DedupWindowSeconds,
			Message: fmt.Sprintf("must be between %d and %d", minDedupWindowSeconds, maxDedupWindowSeconds),
		})
	}

	if c.Anomaly.CircuitBreakerThreshold < minCircuitBreakerThreshold || c.Anomaly.CircuitBreakerThreshold > maxCircuitBreakerThreshold {
		errs = append(errs, ValidationError{
			Field:   "anomaly.circuit_breaker_threshold",
			Value:   c.Anomaly.CircuitBreakerThreshold,
			Message: fmt.Sprintf("must be between %d and %d", minCircuitBreakerThreshold, maxCircuitBreakerThreshold),
		})
	}

	if c.Anomaly.ModelErrorKillCount < minModelErrorKillCount || c.Anomaly.ModelErrorKillCount > maxModelErrorKillCount {
		errs = append(errs, ValidationError{
			Field:   "anomaly.model_error_kill_count",
			Value:   c.Anomaly.ModelErrorKillCount,
			Message: fmt.Sprintf("must be between %d and %d", minModelErrorKillCount, maxModelErrorKillCount),
		})
	}

	return errs
}

// validateDaemon checks daemon section values
func (c *Config) validateDaemon() ValidationErrors {
	var errs ValidationErrors

	if c.Daemon.RefreshIntervalSeconds < minRefreshIntervalSeconds || c.Daemon.RefreshIntervalSeconds > maxRefreshIntervalSeconds {
		errs = append(errs, ValidationError{
			Field:   "daemon.refresh_interval_seconds",
			Value:   c.Daemon.RefreshIntervalSeconds,
			Message: fmt.Sprintf("must be between %d and %d", minRefreshIntervalSeconds, maxRefreshIntervalSeconds),
		})
	}

	if c.Daemon.SweepIntervalSeconds < minSweepIntervalSeconds || c.Daemon.SweepIntervalSeconds > maxSweepIntervalSeconds {
		errs = append(errs, ValidationError{
			Field:   "daemon.sweep_interval_seconds",
			Value:   c.Daemon.SweepIntervalSeconds,
			Message: fmt.Sprintf("must be between %d and %d", minSweepIntervalSeconds, maxSweepIntervalSeconds),
		})
	}

	if c.Daemon.WatchDebounceMs < 0 || c.Daemon.WatchDebounceMs > maxWatchDebounceMs {
		errs = append(errs, ValidationError{
			Field:   "daemon.watch_debounce_ms",
			Value:   c.Daemon.WatchDebounceMs,
			Message: fmt.Sprintf("must be between 0 and %d", maxWatchDebounceMs),
		})
	}

	if c.Daemon.CrashWindowMs < minCrashWindowMs || c.Daemon.CrashWindowMs > maxCrashWindowMs {
		errs = append(errs, ValidationError{
			Field:   "daemon.crash_window_ms",
			Value:   c.Daemon.CrashWindowMs,
			Message: fmt.Sprintf("must be between %d and %d", minCrashWindowMs, maxCrashWindowMs),
		})
	}

	if c.Daemon.MaxInstantCrashes < minMaxInstantCrashes || c.Daemon.MaxInstantCrashes > maxMaxInstantCrashes {
		errs = append(errs, ValidationError{
			Field:   "daemon.max_instant_crashes",
			Value:   c.Daemon.MaxInstantCrashes,
			Message: fmt.Sprintf("must be between %d and %d", minMaxInstantCrashes, maxMaxInstantCrashes),
		})
	}

	return errs
}

// validateRedis checks redis section values.
// Address and key prefix are only required when the redis presence
// backend is selected.
func (c *Config) validateRedis() ValidationErrors {
	var errs ValidationErrors

	if c.Redis.DB < minRedisDB || c.Redis.DB > maxRedisDB {
		errs = append(errs, ValidationError{
			Field:   "redis.db",
			Value:   c.Redis.DB,
			Message: fmt.Sprintf("must be between %d and %d", minRedisDB, maxRedisDB),
		})
	}

	if c.Coordination.PresenceBackend != "redis" {
		return errs
	}

	if c.Redis.Addr == "" {
		errs = append(errs, ValidationError{
			Field:   "redis.addr",
			Value:   c.Redis.Addr,
			Message: "must not be empty when presence_backend is redis",
		})
	}

	if c.Redis.KeyPrefix == "" {
		errs = append(errs, ValidationError{
			Field:   "redis.key_prefix",
			Value:   c.Redis.KeyPrefix,
			Message: "must not be empty when presence_backend is redis",
		})
	} else if !keyPrefixRegex.MatchString(c.Redis.KeyPrefix) {
		errs = append(errs, ValidationError{
			Field:   "redis.key_prefix",
			Value:   c.Redis.KeyPrefix,
			Message: "must start with a letter and contain only letters, digits, hyphens, underscores, and colons",
		})
	}

	return errs
}

// validateLogging checks logging section values
func (c *Config) validateLogging() ValidationErrors {
	var errs ValidationErrors

	if c.Logging.Level != "" && !slices.Contains(ValidLogLevels(), c.Logging.Level) {
		errs = append(errs, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
		})
	}

	if c.Logging.MaxSizeMB < minLogSizeMB || c.Logging.MaxSizeMB > maxLogSizeMB {
		errs = append(errs, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: fmt.Sprintf("must be between %d and %d", minLogSizeMB, maxLogSizeMB),
		})
	}

	if c.Logging.MaxBackups < 0 || c.Logging.MaxBackups > maxLogBackups {
		errs = append(errs, ValidationError{
			Field:   "logging.max_backups",
			Value:   c.Logging.MaxBackups,
			Message: fmt.Sprintf("must be between 0 and %d", maxLogBackups),
		})
	}

	return errs
}
