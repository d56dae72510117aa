package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/Iron-Ham/herd/internal/daemon"
	"github.com/Iron-Ham/herd/internal/logging"
	"github.com/spf13/cobra"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the coordination daemon in the foreground",
	Long: `Run the coordination daemon for the current repository.

The daemon publishes this workstation's presence on a heartbeat, derives
the fleet view from peer presence records, and sweeps stale task leases.
When this instance wins the coordinator election it also pulls the shared
board's backlog, builds conflict-free execution waves, and writes the
assignment sheet the rest of the fleet claims from.

The daemon runs in the foreground until interrupted. Use your service
manager (launchd, systemd) to keep it running in the background.`,
	RunE: runDaemon,
}

func init() {
	rootCmd.AddCommand(daemonCmd)
}

func runDaemon(cmd *cobra.Command, args []string) error {
	ws, err := openWorkspace()
	if err != nil {
		return err
	}

	log, err := daemonLogger(ws)
	if err != nil {
		return fmt.Errorf("failed to open log: %w", err)
	}
	defer func() { _ = log.Close() }()

	d, err := daemon.New(ws.cfg, ws.repoRoot, daemon.WithLogger(log))
	if err != nil {
		return fmt.Errorf("failed to build daemon: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	green.Printf("✓ herd daemon running\n")
	fmt.Printf("  Instance: %s\n", d.InstanceID())
	fmt.Printf("  Coordination directory: %s\n", d.CoordinationDir())
	fmt.Println("  Press Ctrl+C to stop.")

	return d.Start(ctx)
}

// daemonLogger builds the rotating file logger for the coordination
// directory, or a no-op logger when logging is disabled.
func daemonLogger(ws *workspace) (*logging.Logger, error) {
	if !ws.cfg.Logging.Enabled {
		return logging.NopLogger(), nil
	}
	return logging.NewLoggerWithRotation(ws.coordDir, ws.cfg.Logging.Level, logging.RotationConfig{
		MaxSizeMB:  ws.cfg.Logging.MaxSizeMB,
		MaxBackups: ws.cfg.Logging.MaxBackups,
	})
}
