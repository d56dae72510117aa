package cmd

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/Iron-Ham/herd/internal/logging"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "View daemon logs for this repository",
	Long: `View and filter the daemon log in the coordination directory.

By default, shows the last 50 entries. Use flags to filter and format
the output, or to export the filtered entries to a file.

Examples:
  # Show the last 50 entries
  herd logs

  # Show everything at warn or above
  herd logs --level warn -n 0

  # Follow new entries in real time
  herd logs -f

  # Entries about one task from the last hour
  herd logs --task feat-search --since 1h

  # Entries from a specific fleet member
  herd logs --instance mach-a-1f2e3d4c

  # Export everything matching a filter as CSV
  herd logs --level error --export errors.csv --format csv`,
	RunE: runLogs,
}

var (
	logsLevel     string
	logsSince     string
	logsInstance  string
	logsTask      string
	logsComponent string
	logsGrep      string
	logsTail      int
	logsFollow    bool
	logsExport    string
	logsFormat    string
)

func init() {
	rootCmd.AddCommand(logsCmd)

	logsCmd.Flags().StringVar(&logsLevel, "level", "", "Filter by minimum level (debug/info/warn/error)")
	logsCmd.Flags().StringVar(&logsSince, "since", "", "Show entries since duration ago (e.g., 1h, 30m)")
	logsCmd.Flags().StringVar(&logsInstance, "instance", "", "Filter by fleet member instance id")
	logsCmd.Flags().StringVar(&logsTask, "task", "", "Filter by task id")
	logsCmd.Flags().StringVar(&logsComponent, "component", "", "Filter by component")
	logsCmd.Flags().StringVar(&logsGrep, "grep", "", "Filter entries whose message contains this text")
	logsCmd.Flags().IntVarP(&logsTail, "tail", "n", 50, "Number of entries to show (0 for all)")
	logsCmd.Flags().BoolVarP(&logsFollow, "follow", "f", false, "Follow log output (like tail -f)")
	logsCmd.Flags().StringVar(&logsExport, "export", "", "Export filtered entries to this file instead of displaying")
	logsCmd.Flags().StringVar(&logsFormat, "format", "text", "Export format: json, text, or csv")
}

func runLogs(cmd *cobra.Command, args []string) error {
	ws, err := openWorkspace()
	if err != nil {
		return err
	}

	filter, err := buildLogFilter()
	if err != nil {
		return err
	}

	logPath := filepath.Join(ws.coordDir, logging.LogFileName)
	if _, err := os.Stat(logPath); os.IsNotExist(err) {
		fmt.Printf("No logs found at %s\n", logPath)
		fmt.Println("Start 'herd daemon' to begin logging.")
		return nil
	}

	if logsFollow {
		if logsExport != "" {
			return fmt.Errorf("--follow and --export cannot be combined")
		}
		return followLogs(logPath, filter)
	}

	entries, err := logging.AggregateLogs(ws.coordDir)
	if err != nil {
		return err
	}
	entries = logging.FilterLogs(entries, filter)

	if logsExport != "" {
		if err := logging.ExportLogEntries(entries, logsExport, logsFormat); err != nil {
			return fmt.Errorf("failed to export logs: %w", err)
		}
		fmt.Printf("Exported %d entries to %s\n", len(entries), logsExport)
		return nil
	}

	if logsTail > 0 && len(entries) > logsTail {
		entries = entries[len(entries)-logsTail:]
	}

	if len(entries) == 0 {
		fmt.Println("No matching log entries found.")
		return nil
	}
	for _, entry := range entries {
		fmt.Println(formatLogEntry(entry))
	}
	return nil
}

// buildLogFilter converts the command flags into a log filter
func buildLogFilter() (logging.LogFilter, error) {
	filter := logging.LogFilter{
		InstanceID:      logsInstance,
		TaskID:          logsTask,
		Component:       logsComponent,
		MessageContains: logsGrep,
	}

	if logsLevel != "" {
		level := strings.ToUpper(logsLevel)
		valid := false
		for _, known := range logging.ValidLevels() {
			if level == known {
				valid = true
				break
			}
		}
		if !valid {
			return filter, fmt.Errorf("invalid level %q; valid levels: %s",
				logsLevel, strings.ToLower(strings.Join(logging.ValidLevels(), ", ")))
		}
		filter.Level = level
	}

	if logsSince != "" {
		duration, err := time.ParseDuration(logsSince)
		if err != nil {
			return filter, fmt.Errorf("invalid duration format: %w", err)
		}
		filter.StartTime = time.Now().Add(-duration)
	}

	return filter, nil
}

// followLogs implements tail -f behavior for the daemon log
func followLogs(logPath string, filter logging.LogFilter) error {
	file, err := os.Open(logPath)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer func() { _ = file.Close() }()

	// Only new entries; the backlog is what non-follow mode is for
	if _, err := file.Seek(0, io.SeekEnd); err != nil {
		return fmt.Errorf("failed to seek to end: %w", err)
	}

	fmt.Printf("Following logs... (Ctrl+C to stop)\n\n")

	reader := bufio.NewReader(file)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				// No new data, wait briefly and try again
				time.Sleep(100 * time.Millisecond)
				continue
			}
			return fmt.Errorf("error reading log file: %w", err)
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		entry, err := logging.ParseLogLine(line)
		if err != nil {
			// Not JSON; show the raw line rather than hiding it
			fmt.Println(line)
			continue
		}

		if len(logging.FilterLogs([]logging.LogEntry{entry}, filter)) == 0 {
			continue
		}
		fmt.Println(formatLogEntry(entry))
	}
}

// formatLogEntry formats a log entry for terminal output
func formatLogEntry(entry logging.LogEntry) string {
	var sb strings.Builder

	sb.WriteString(gray.Sprintf("[%s]", entry.Timestamp.Format("15:04:05.000")))
	sb.WriteString(" ")
	sb.WriteString(levelColor(entry.Level).Sprintf("[%s]", strings.ToUpper(entry.Level)))
	sb.WriteString(" ")
	sb.WriteString(entry.Message)

	if entry.InstanceID != "" {
		sb.WriteString(" ")
		sb.WriteString(cyan.Sprint("instance_id="))
		sb.WriteString(entry.InstanceID)
	}
	if entry.TaskID != "" {
		sb.WriteString(" ")
		sb.WriteString(cyan.Sprint("task_id="))
		sb.WriteString(entry.TaskID)
	}
	if entry.Component != "" {
		sb.WriteString(" ")
		sb.WriteString(cyan.Sprint("component="))
		sb.WriteString(entry.Component)
	}

	// Sorted so repeated runs render attrs in a stable order
	keys := make([]string, 0, len(entry.Attrs))
	for key := range entry.Attrs {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		sb.WriteString(" ")
		sb.WriteString(cyan.Sprint(key + "="))
		sb.WriteString(fmt.Sprintf("%v", entry.Attrs[key]))
	}

	return sb.String()
}

// levelColor returns the display color for a log level
func levelColor(level string) *color.Color {
	switch strings.ToUpper(level) {
	case logging.LevelDebug:
		return gray
	case logging.LevelInfo:
		return blue
	case logging.LevelWarn:
		return yellow
	case logging.LevelError:
		return red
	default:
		return gray
	}
}
