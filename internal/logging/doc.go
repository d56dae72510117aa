// Package logging provides structured logging for herd instances.
//
// This package wraps Go's log/slog to produce JSON-formatted logs with
// context propagation support. Every instance in a fleet writes to its own
// herd.log, and because entries carry the instance ID, task ID, and
// component, logs from several machines can be merged and filtered when
// reconstructing a coordination incident after the fact.
//
// # Features
//
//   - JSON-formatted structured logging via slog
//   - Configurable log levels (DEBUG, INFO, WARN, ERROR)
//   - Context propagation (instance ID, task ID, component)
//   - Log rotation with configurable size limits
//   - Optional gzip compression for rotated logs
//   - Log aggregation and filtering utilities
//   - Export to JSON, text, or CSV formats
//
// # Thread Safety
//
// All types in this package are safe for concurrent use. The [Logger] type
// uses Go's slog internally which is designed for concurrent access. The
// [RotatingWriter] type uses a mutex to protect file operations during
// rotation. Child loggers created via With* methods share the underlying
// writer safely.
//
// # Basic Usage
//
// Create a logger for a coordination directory:
//
//	logger, err := logging.NewLogger("/path/to/.herd", "INFO")
//	if err != nil {
//	    return err
//	}
//	defer logger.Close()
//
//	logger.Debug("detailed info", "key", "value")
//	logger.Info("lease claimed", "task_id", "implement-auth")
//	logger.Warn("heartbeat stale", "age_seconds", 312)
//	logger.Error("registry write failed", "error", err.Error())
//
// # Context Propagation
//
// Create child loggers with persistent context attributes:
//
//	// Identify this fleet member
//	instLogger := logger.WithInstance("alpha-9f2c41aa")
//
//	// Scope to the task being worked on
//	taskLogger := instLogger.WithTask("refactor-parser")
//
//	// Name the subsystem emitting the entry
//	regLogger := taskLogger.WithComponent("registry")
//
//	// All logs from regLogger include instance_id, task_id, and component
//	regLogger.Info("lease renewed", "attempt", 2)
//
// Output:
//
//	{"time":"...","level":"INFO","msg":"lease renewed","instance_id":"alpha-9f2c41aa","task_id":"refactor-parser","component":"registry","attempt":2}
//
// # Log Rotation
//
// Long-lived daemons should enable rotation to bound disk usage:
//
//	config := logging.RotationConfig{
//	    MaxSizeMB:  10,    // Rotate when file exceeds 10MB
//	    MaxBackups: 3,     // Keep 3 backup files
//	    Compress:   true,  // Gzip compress rotated files
//	}
//
//	logger, err := logging.NewLoggerWithRotation("/path/to/.herd", "INFO", config)
//	if err != nil {
//	    return err
//	}
//	defer logger.Close()
//
// Rotated files are named herd.log.1, herd.log.2, etc., where .1 is the
// most recent backup. When compression is enabled, rotated files become
// herd.log.1.gz, etc.
//
// # Testing
//
// For testing, use [NopLogger] to discard all log output:
//
//	func TestSomething(t *testing.T) {
//	    logger := logging.NopLogger()
//	    // Use logger in tests without creating files
//	}
//
// # Log Aggregation and Filtering
//
// Read and analyze logs after a run:
//
//	entries, err := logging.AggregateLogs("/path/to/.herd")
//	if err != nil {
//	    return err
//	}
//
//	filter := logging.LogFilter{
//	    Level:      "WARN",             // Minimum level
//	    InstanceID: "alpha-9f2c41aa",   // Specific instance
//	    Component:  "registry",         // Specific subsystem
//	    StartTime:  time.Now().Add(-1 * time.Hour),
//	}
//	filtered := logging.FilterLogs(entries, filter)
//
//	logging.ExportLogEntries(filtered, "errors.json", "json")
//	logging.ExportLogEntries(filtered, "errors.txt", "text")
//	logging.ExportLogEntries(filtered, "errors.csv", "csv")
//
// # Log Levels
//
// The package defines four log levels:
//
//   - [LevelDebug]: Detailed information for debugging
//   - [LevelInfo]: General operational information (default)
//   - [LevelWarn]: Warning conditions that may need attention
//   - [LevelError]: Error conditions that affect functionality
//
// Use [ValidLevels] to get the list of valid level strings, and [ParseLevel]
// to normalize user-provided level strings.
//
// # Configuration
//
// The logging system is typically configured via herd's config file:
//
//	logging:
//	  enabled: true
//	  level: info
//	  max_size_mb: 10
//	  max_backups: 3
//
// See the herd README for complete configuration documentation.
package logging
