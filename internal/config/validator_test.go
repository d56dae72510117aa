package config

import (
	"strings"
	"testing"
)

func TestValidationError_Error(t *testing.T) {
	err := ValidationError{
		Field:   "test.field",
		Value:   123,
		Message: "must be greater than zero",
	}

	expected := "test.field: must be greater than zero (got: 123)"
	if err.Error() != expected {
		t.Errorf("Error() = %q, want %q", err.Error(), expected)
	}
}

func TestValidationErrors_Error(t *testing.T) {
	t.Run("empty errors", func(t *testing.T) {
		var errs ValidationErrors
		if errs.Error() != "" {
			t.Errorf("Error() for empty = %q, want empty string", errs.Error())
		}
	})

	t.Run("single error", func(t *testing.T) {
		errs := ValidationErrors{
			{Field: "test.field", Value: 123, Message: "is invalid"},
		}
		expected := "test.field: is invalid (got: 123)"
		if errs.Error() != expected {
			t.Errorf("Error() = %q, want %q", errs.Error(), expected)
		}
	})

	t.Run("multiple errors", func(t *testing.T) {
		errs := ValidationErrors{
			{Field: "field1", Value: "bad", Message: "is invalid"},
			{Field: "field2", Value: -1, Message: "must be positive"},
		}
		result := errs.Error()
		if !strings.Contains(result, "2 validation errors") {
			t.Errorf("Error() should mention 2 errors: %s", result)
		}
		if !strings.Contains(result, "field1") || !strings.Contains(result, "field2") {
			t.Errorf("Error() should mention both fields: %s", result)
		}
	})
}

func TestConfig_Validate_DefaultConfig(t *testing.T) {
	cfg := Default()
	errs := cfg.Validate()
	if len(errs) != 0 {
		t.Errorf("Default config should be valid, got %d errors: %v", len(errs), errs)
	}
}

func TestConfig_Validate_PresenceBackend(t *testing.T) {
	tests := []struct {
		name     string
		backend  string
		hasError bool
	}{
		{"valid file", "file", false},
		{"valid redis", "redis", false},
		{"empty is valid", "", false},
		{"invalid backend", "etcd", true},
		{"case sensitive", "FILE", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Coordination.PresenceBackend = tt.backend
			if tt.backend == "redis" {
				// Redis backend requires an address; keep defaults intact
				cfg.Redis.Addr = "localhost:6379"
			}
			errs := cfg.Validate()

			hasError := false
			for _, err := range errs {
				if err.Field == "coordination.presence_backend" {
					hasError = true
					break
				}
			}

			if hasError != tt.hasError {
				t.Errorf("Validate() for backend=%q: hasError=%v, want %v", tt.backend, hasError, tt.hasError)
			}
		})
	}
}

func TestConfig_Validate_Coordination(t *testing.T) {
	t.Run("presence ttl too small", func(t *testing.T) {
		cfg := Default()
		cfg.Coordination.PresenceTTLSeconds = 5
		errs := cfg.Validate()

		found := false
		for _, err := range errs {
			if err.Field == "coordination.presence_ttl_seconds" {
				found = true
				break
			}
		}
		if !found {
			t.Error("expected error for tiny presence ttl")
		}
	})

	t.Run("presence ttl too large", func(t *testing.T) {
		cfg := Default()
		cfg.Coordination.PresenceTTLSeconds = 100000
		errs := cfg.Validate()

		found := false
		for _, err := range errs {
			if err.Field == "coordination.presence_ttl_seconds" {
				found = true
				break
			}
		}
		if !found {
			t.Error("expected error for excessive presence ttl")
		}
	})

	t.Run("heartbeat must not exceed presence ttl", func(t *testing.T) {
		cfg := Default()
		cfg.Coordination.PresenceTTLSeconds = 60
		cfg.Coordination.HeartbeatIntervalSeconds = 60
		errs := cfg.Validate()

		found := false
		for _, err := range errs {
			if err.Field == "coordination.heartbeat_interval_seconds" {
				found = true
				break
			}
		}
		if !found {
			t.Error("expected error when heartbeat interval equals presence ttl")
		}
	})

	t.Run("heartbeat too small", func(t *testing.T) {
		cfg := Default()
		cfg.Coordination.HeartbeatIntervalSeconds = 1
		errs := cfg.Validate()

		found := false
		for _, err := range errs {
			if err.Field == "coordination.heartbeat_interval_seconds" {
				found = true
				break
			}
		}
		if !found {
			t.Error("expected error for tiny heartbeat interval")
		}
	})

	t.Run("max_parallel bounds", func(t *testing.T) {
		for _, parallel := range []int{0, -1, 21, 100} {
			cfg := Default()
			cfg.Coordination.MaxParallel = parallel
			errs := cfg.Validate()

			found := false
			for _, err := range errs {
				if err.Field == "coordination.max_parallel" {
					found = true
					break
				}
			}
			if !found {
				t.Errorf("expected error for max_parallel=%d", parallel)
			}
		}
	})

	t.Run("valid max_parallel values", func(t *testing.T) {
		for _, parallel := range []int{1, 3, 10, 20} {
			cfg := Default()
			cfg.Coordination.MaxParallel = parallel
			errs := cfg.Validate()

			for _, err := range errs {
				if err.Field == "coordination.max_parallel" {
					t.Errorf("max_parallel=%d should be valid, got error: %v", parallel, err)
				}
			}
		}
	})
}

func TestConfig_Validate_Capabilities(t *testing.T) {
	tests := []struct {
		name         string
		capabilities []string
		wantField    string
	}{
		{"empty list is valid", []string{}, ""},
		{"valid names", []string{"ios", "backend", "infra-tools"}, ""},
		{"underscores allowed", []string{"gpu_large"}, ""},
		{"empty entry", []string{"ios", ""}, "coordination.capabilities[1]"},
		{"starts with digit", []string{"9lives"}, "coordination.capabilities[0]"},
		{"contains space", []string{"mac os"}, "coordination.capabilities[0]"},
		{"contains slash", []string{"ios/swift"}, "coordination.capabilities[0]"},
		{"duplicate entry", []string{"ios", "ios"}, "coordination.capabilities[1]"},
		{"too long", []string{strings.Repeat("a", 65)}, "coordination.capabilities[0]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Coordination.Capabilities = tt.capabilities
			errs := cfg.Validate()

			var got string
			for _, err := range errs {
				if strings.HasPrefix(err.Field, "coordination.capabilities") {
					got = err.Field
					break
				}
			}

			if got != tt.wantField {
				t.Errorf("Validate() capability error field = %q, want %q (errs: %v)", got, tt.wantField, errs)
			}
		})
	}
}

func TestConfig_Validate_Registry(t *testing.T) {
	t.Run("empty file name", func(t *testing.T) {
		cfg := Default()
		cfg.Registry.FileName = ""
		errs := cfg.Validate()

		found := false
		for _, err := range errs {
			if err.Field == "registry.file_name" {
				found = true
				break
			}
		}
		if !found {
			t.Error("expected error for empty registry file name")
		}
	})

	t.Run("file name with path separator", func(t *testing.T) {
		cfg := Default()
		cfg.Registry.FileName = "../registry.json"
		errs := cfg.Validate()

		found := false
		for _, err := range errs {
			if err.Field == "registry.file_name" {
				found = true
				break
			}
		}
		if !found {
			t.Error("expected error for file name containing path separator")
		}
	})

	t.Run("lease ttl too small", func(t *testing.T) {
		cfg := Default()
		cfg.Registry.LeaseTTLSeconds = 10
		errs := cfg.Validate()

		found := false
		for _, err := range errs {
			if err.Field == "registry.lease_ttl_seconds" {
				found = true
				break
			}
		}
		if !found {
			t.Error("expected error for tiny lease ttl")
		}
	})

	t.Run("negative max retries", func(t *testing.T) {
		cfg := Default()
		cfg.Registry.MaxRetries = -1
		errs := cfg.Validate()

		found := false
		for _, err := range errs {
			if err.Field == "registry.max_retries" {
				found = true
				break
			}
		}
		if !found {
			t.Error("expected error for negative max retries")
		}
	})

	t.Run("zero max retries is valid", func(t *testing.T) {
		cfg := Default()
		cfg.Registry.MaxRetries = 0
		errs := cfg.Validate()

		for _, err := range errs {
			if err.Field == "registry.max_retries" {
				t.Errorf("zero max retries should be valid: %v", err)
			}
		}
	})
}

func TestConfig_Validate_Scheduler(t *testing.T) {
	t.Run("zero buffer multiplier", func(t *testing.T) {
		cfg := Default()
		cfg.Scheduler.BufferMultiplier = 0
		errs := cfg.Validate()

		found := false
		for _, err := range errs {
			if err.Field == "scheduler.buffer_multiplier" {
				found = true
				break
			}
		}
		if !found {
			t.Error("expected error for zero buffer multiplier")
		}
	})

	t.Run("negative buffer multiplier", func(t *testing.T) {
		cfg := Default()
		cfg.Scheduler.BufferMultiplier = -1.5
		errs := cfg.Validate()

		found := false
		for _, err := range errs {
			if err.Field == "scheduler.buffer_multiplier" {
				found = true
				break
			}
		}
		if !found {
			t.Error("expected error for negative buffer multiplier")
		}
	})

	t.Run("fractional buffer multiplier is valid", func(t *testing.T) {
		cfg := Default()
		cfg.Scheduler.BufferMultiplier = 1.5
		errs := cfg.Validate()

		for _, err := range errs {
			if err.Field == "scheduler.buffer_multiplier" {
				t.Errorf("1.5 should be valid, got error: %v", err)
			}
		}
	})

	t.Run("min exceeds max", func(t *testing.T) {
		cfg := Default()
		cfg.Scheduler.MinBacklog = 50
		cfg.Scheduler.MaxBacklog = 10
		errs := cfg.Validate()

		found := false
		for _, err := range errs {
			if err.Field == "scheduler.min_backlog" {
				found = true
				break
			}
		}
		if !found {
			t.Error("expected error when min_backlog exceeds max_backlog")
		}
	})

	t.Run("negative min backlog", func(t *testing.T) {
		cfg := Default()
		cfg.Scheduler.MinBacklog = -1
		errs := cfg.Validate()

		found := false
		for _, err := range errs {
			if err.Field == "scheduler.min_backlog" {
				found = true
				break
			}
		}
		if !found {
			t.Error("expected error for negative min backlog")
		}
	})

	t.Run("zero max backlog", func(t *testing.T) {
		cfg := Default()
		cfg.Scheduler.MaxBacklog = 0
		errs := cfg.Validate()

		found := false
		for _, err := range errs {
			if err.Field == "scheduler.max_backlog" {
				found = true
				break
			}
		}
		if !found {
			t.Error("expected error for zero max backlog")
		}
	})
}

func TestConfig_Validate_Anomaly(t *testing.T) {
	t.Run("zero dedup window", func(t *testing.T) {
		cfg := Default()
		cfg.Anomaly.DedupWindowSeconds = 0
		errs := cfg.Validate()

		found := false
		for _, err := range errs {
			if err.Field == "anomaly.dedup_window_seconds" {
				found = true
				break
			}
		}
		if !found {
			t.Error("expected error for zero dedup window")
		}
	})

	t.Run("zero circuit breaker threshold", func(t *testing.T) {
		cfg := Default()
		cfg.Anomaly.CircuitBreakerThreshold = 0
		errs := cfg.Validate()

		found := false
		for _, err := range errs {
			if err.Field == "anomaly.circuit_breaker_threshold" {
				found = true
				break
			}
		}
		if !found {
			t.Error("expected error for zero circuit breaker threshold")
		}
	})

	t.Run("zero model error kill count", func(t *testing.T) {
		cfg := Default()
		cfg.Anomaly.ModelErrorKillCount = 0
		errs := cfg.Validate()

		found := false
		for _, err := range errs {
			if err.Field == "anomaly.model_error_kill_count" {
				found = true
				break
			}
		}
		if !found {
			t.Error("expected error for zero model error kill count")
		}
	})
}

func TestConfig_Validate_Daemon(t *testing.T) {
	t.Run("zero crash window", func(t *testing.T) {
		cfg := Default()
		cfg.Daemon.CrashWindowMs = 0
		errs := cfg.Validate()

		found := false
		for _, err := range errs {
			if err.Field == "daemon.crash_window_ms" {
				found = true
				break
			}
		}
		if !found {
			t.Error("expected error for zero crash window")
		}
	})

	t.Run("excessive crash window", func(t *testing.T) {
		cfg := Default()
		cfg.Daemon.CrashWindowMs = 1000000
		errs := cfg.Validate()

		found := false
		for _, err := range errs {
			if err.Field == "daemon.crash_window_ms" {
				found = true
				break
			}
		}
		if !found {
			t.Error("expected error for excessive crash window")
		}
	})

	t.Run("zero max instant crashes", func(t *testing.T) {
		cfg := Default()
		cfg.Daemon.MaxInstantCrashes = 0
		errs := cfg.Validate()

		found := false
		for _, err := range errs {
			if err.Field == "daemon.max_instant_crashes" {
				found = true
				break
			}
		}
		if !found {
			t.Error("expected error for zero max instant crashes")
		}
	})

	t.Run("zero watch debounce is valid", func(t *testing.T) {
		cfg := Default()
		cfg.Daemon.WatchDebounceMs = 0
		errs := cfg.Validate()

		for _, err := range errs {
			if err.Field == "daemon.watch_debounce_ms" {
				t.Errorf("zero debounce should be valid: %v", err)
			}
		}
	})

	t.Run("zero refresh interval", func(t *testing.T) {
		cfg := Default()
		cfg.Daemon.RefreshIntervalSeconds = 0
		errs := cfg.Validate()

		found := false
		for _, err := range errs {
			if err.Field == "daemon.refresh_interval_seconds" {
				found = true
				break
			}
		}
		if !found {
			t.Error("expected error for zero refresh interval")
		}
	})

	t.Run("zero sweep interval", func(t *testing.T) {
		cfg := Default()
		cfg.Daemon.SweepIntervalSeconds = 0
		errs := cfg.Validate()

		found := false
		for _, err := range errs {
			if err.Field == "daemon.sweep_interval_seconds" {
				found = true
				break
			}
		}
		if !found {
			t.Error("expected error for zero sweep interval")
		}
	})
}

func TestConfig_Validate_Redis(t *testing.T) {
	t.Run("db out of range", func(t *testing.T) {
		cfg := Default()
		cfg.Redis.DB = 16
		errs := cfg.Validate()

		found := false
		for _, err := range errs {
			if err.Field == "redis.db" {
				found = true
				break
			}
		}
		if !found {
			t.Error("expected error for redis db out of range")
		}
	})

	t.Run("empty addr allowed with file backend", func(t *testing.T) {
		cfg := Default()
		cfg.Redis.Addr = ""
		errs := cfg.Validate()

		for _, err := range errs {
			if err.Field == "redis.addr" {
				t.Errorf("empty addr should be valid with file backend: %v", err)
			}
		}
	})

	t.Run("empty addr rejected with redis backend", func(t *testing.T) {
		cfg := Default()
		cfg.Coordination.PresenceBackend = "redis"
		cfg.Redis.Addr = ""
		errs := cfg.Validate()

		found := false
		for _, err := range errs {
			if err.Field == "redis.addr" {
				found = true
				break
			}
		}
		if !found {
			t.Error("expected error for empty addr with redis backend")
		}
	})

	t.Run("invalid key prefix with redis backend", func(t *testing.T) {
		cfg := Default()
		cfg.Coordination.PresenceBackend = "redis"
		cfg.Redis.KeyPrefix = "9herd!"
		errs := cfg.Validate()

		found := false
		for _, err := range errs {
			if err.Field == "redis.key_prefix" {
				found = true
				break
			}
		}
		if !found {
			t.Error("expected error for invalid key prefix")
		}
	})

	t.Run("namespaced key prefix is valid", func(t *testing.T) {
		cfg := Default()
		cfg.Coordination.PresenceBackend = "redis"
		cfg.Redis.KeyPrefix = "herd:fleet-a"
		errs := cfg.Validate()

		for _, err := range errs {
			if err.Field == "redis.key_prefix" {
				t.Errorf("namespaced prefix should be valid: %v", err)
			}
		}
	})
}

func TestConfig_Validate_Logging(t *testing.T) {
	t.Run("valid log levels", func(t *testing.T) {
		for _, level := range []string{"debug", "info", "warn", "error", ""} {
			cfg := Default()
			cfg.Logging.Level = level
			errs := cfg.Validate()

			for _, err := range errs {
				if err.Field == "logging.level" {
					t.Errorf("level %q should be valid, got error: %v", level, err)
				}
			}
		}
	})

	t.Run("invalid log level", func(t *testing.T) {
		cfg := Default()
		cfg.Logging.Level = "invalid"
		errs := cfg.Validate()

		found := false
		for _, err := range errs {
			if err.Field == "logging.level" {
				found = true
				break
			}
		}
		if !found {
			t.Error("expected error for invalid log level")
		}
	})

	t.Run("case sensitive log level", func(t *testing.T) {
		cfg := Default()
		cfg.Logging.Level = "INFO"
		errs := cfg.Validate()

		found := false
		for _, err := range errs {
			if err.Field == "logging.level" {
				found = true
				break
			}
		}
		if !found {
			t.Error("expected error for uppercase log level")
		}
	})

	t.Run("max size must be positive", func(t *testing.T) {
		cfg := Default()
		cfg.Logging.MaxSizeMB = 0
		errs := cfg.Validate()

		found := false
		for _, err := range errs {
			if err.Field == "logging.max_size_mb" {
				found = true
				break
			}
		}
		if !found {
			t.Error("expected error for zero max size")
		}
	})

	t.Run("max size too large", func(t *testing.T) {
		cfg := Default()
		cfg.Logging.MaxSizeMB = 2000
		errs := cfg.Validate()

		found := false
		for _, err := range errs {
			if err.Field == "logging.max_size_mb" {
				found = true
				break
			}
		}
		if !found {
			t.Error("expected error for excessive max size")
		}
	})

	t.Run("negative max backups", func(t *testing.T) {
		cfg := Default()
		cfg.Logging.MaxBackups = -1
		errs := cfg.Validate()

		found := false
		for _, err := range errs {
			if err.Field == "logging.max_backups" {
				found = true
				break
			}
		}
		if !found {
			t.Error("expected error for negative max backups")
		}
	})

	t.Run("zero max backups is valid", func(t *testing.T) {
		cfg := Default()
		cfg.Logging.MaxBackups = 0
		errs := cfg.Validate()

		for _, err := range errs {
			if err.Field == "logging.max_backups" {
				t.Errorf("zero max backups should be valid: %v", err)
			}
		}
	})
}

func TestValidLogLevels(t *testing.T) {
	levels := ValidLogLevels()
	expected := []string{"debug", "info", "warn", "error"}

	if len(levels) != len(expected) {
		t.Errorf("ValidLogLevels() length = %d, want %d", len(levels), len(expected))
	}

	for i, level := range expected {
		if levels[i] != level {
			t.Errorf("ValidLogLevels()[%d] = %q, want %q", i, levels[i], level)
		}
	}
}

func TestConfig_Validate_MultipleErrors(t *testing.T) {
	cfg := Default()
	// Set multiple invalid values
	cfg.Coordination.MaxParallel = 0
	cfg.Registry.FileName = ""
	cfg.Scheduler.BufferMultiplier = -1
	cfg.Logging.Level = "invalid"

	errs := cfg.Validate()
	if len(errs) < 4 {
		t.Errorf("expected at least 4 errors, got %d: %v", len(errs), errs)
	}
}
