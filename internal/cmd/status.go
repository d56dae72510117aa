package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/Iron-Ham/herd/internal/daemon"
	"github.com/Iron-Ham/herd/internal/fingerprint"
	"github.com/Iron-Ham/herd/internal/presence"
	"github.com/Iron-Ham/herd/internal/registry"
	"github.com/Iron-Ham/herd/internal/scheduler"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show fleet, board, and lease status for this repository",
	Long: `Display a snapshot of the fleet coordinating on this repository:
live members and the elected coordinator, the shared board's queue
counts, task leases in the registry, and the current assignment sheet.`,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	ws, err := openWorkspace()
	if err != nil {
		return err
	}
	ctx := context.Background()
	now := time.Now().UTC()

	fp, err := fingerprint.Compute(ws.repoRoot)
	if err != nil {
		return fmt.Errorf("failed to fingerprint repository: %w", err)
	}
	fmt.Printf("Repository: %s (fingerprint %s)\n", fp.Normalized, fp.Hash)
	fmt.Printf("Coordination: %s (%s backend)\n\n", ws.coordDir, ws.cfg.Coordination.PresenceBackend)

	if err := printFleetSummary(ctx, ws, fp.Hash, now); err != nil {
		return err
	}
	printBoardSummary(ws)
	if err := printLeaseSummary(ws, now); err != nil {
		return err
	}
	printSheetSummary(ws, now)

	return nil
}

// printFleetSummary lists the live members sharing this repository's
// fingerprint, computed the same way the daemon computes them: records
// within the presence TTL, coordinator elected by smallest instance id.
func printFleetSummary(ctx context.Context, ws *workspace, fpHash string, now time.Time) error {
	store, err := ws.openPresenceStore()
	if err != nil {
		return fmt.Errorf("failed to open presence store: %w", err)
	}
	defer func() { _ = store.Close() }()

	records, err := store.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list presence records: %w", err)
	}

	var live []*presence.Record
	for _, rec := range presence.FilterLive(records, ws.cfg.Coordination.PresenceTTL(), now) {
		if rec.RepoFingerprint == fpHash {
			live = append(live, rec)
		}
	}
	sort.Slice(live, func(i, j int) bool { return live[i].InstanceID < live[j].InstanceID })

	if len(live) == 0 {
		yellow.Printf("⚠ No live fleet members. Run 'herd daemon' to join the fleet.\n\n")
		return nil
	}

	totalSlots := 0
	for _, rec := range live {
		totalSlots += rec.MaxParallel
	}
	// The smallest id wins the election, so the first sorted record is
	// the coordinator every member agrees on.
	coordinatorID := live[0].InstanceID

	fmt.Printf("Fleet: %d live member(s), %d slot(s)\n", len(live), totalSlots)
	for i, rec := range live {
		marker := " "
		if rec.InstanceID == coordinatorID {
			marker = green.Sprint("*")
		}
		fmt.Printf("%s [%d] %s (%s)\n", marker, i+1, rec.InstanceID, rec.Host)
		fmt.Printf("      Slots: %d\n", rec.MaxParallel)
		if len(rec.Capabilities) > 0 {
			fmt.Printf("      Capabilities: %v\n", rec.Capabilities)
		}
		fmt.Printf("      Heartbeat: %s ago\n", formatAge(rec.Age(now)))
	}
	fmt.Printf("  %s = coordinator\n\n", green.Sprint("*"))
	return nil
}

// printBoardSummary shows the shared board's queue counts, if a bridge
// has written a board file.
func printBoardSummary(ws *workspace) {
	boardPath := filepath.Join(ws.coordDir, daemon.BoardFileName)
	if _, err := os.Stat(boardPath); os.IsNotExist(err) {
		gray.Printf("Board: no board file (no bridge installed)\n\n")
		return
	}

	source := daemon.NewFileSource(boardPath)
	status, err := source.Status(context.Background())
	if err != nil {
		yellow.Printf("⚠ Board: %v\n\n", err)
		return
	}

	if drained, _ := scheduler.DetectMaintenanceMode(status); drained {
		fmt.Printf("Board: drained (fleet in maintenance mode)\n\n")
		return
	}
	fmt.Printf("Board: %d backlog, %d todo, %d running, %d review\n\n",
		status.Backlog, status.Todo, status.Running, status.Review)
}

// printLeaseSummary shows the registry's task leases grouped by status.
func printLeaseSummary(ws *workspace, now time.Time) error {
	reg, err := ws.openRegistry()
	if err != nil {
		return err
	}

	doc, err := reg.Snapshot()
	if err != nil {
		return fmt.Errorf("failed to read registry: %w", err)
	}

	if len(doc.Tasks) == 0 {
		fmt.Printf("Leases: none\n\n")
		return nil
	}

	counts := make(map[registry.AttemptStatus]int)
	stale := 0
	for _, task := range doc.Tasks {
		counts[task.AttemptStatus]++
		if !task.AttemptStatus.IsTerminal() && task.IsStale(now) {
			stale++
		}
	}

	fmt.Printf("Leases: %d task(s) tracked\n", len(doc.Tasks))
	order := []registry.AttemptStatus{
		registry.StatusClaimed,
		registry.StatusWorking,
		registry.StatusComplete,
		registry.StatusFailed,
		registry.StatusAbandoned,
		registry.StatusIgnored,
	}
	for _, status := range order {
		if counts[status] == 0 {
			continue
		}
		fmt.Printf("    %s: %d\n", statusColor(status).Sprint(string(status)), counts[status])
	}
	if stale > 0 {
		yellow.Printf("    %d active lease(s) past TTL, pending sweep\n", stale)
	}
	fmt.Println()
	return nil
}

// printSheetSummary shows the coordinator's current assignment sheet.
func printSheetSummary(ws *workspace, now time.Time) {
	sheet, err := daemon.ReadSheet(ws.coordDir)
	if err != nil {
		yellow.Printf("⚠ Assignments: %v\n", err)
		return
	}
	if sheet.GeneratedBy == "" {
		gray.Printf("Assignments: no sheet written yet\n")
		return
	}

	byInstance := make(map[string]int)
	for _, a := range sheet.Assignments {
		byInstance[a.InstanceID]++
	}
	fmt.Printf("Assignments: %d task(s), generated by %s %s ago\n",
		len(sheet.Assignments), sheet.GeneratedBy, formatAge(now.Sub(sheet.GeneratedAt)))

	ids := make([]string, 0, len(byInstance))
	for id := range byInstance {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		fmt.Printf("    %s: %d task(s)\n", id, byInstance[id])
	}
}

// statusColor maps a lease status to its display color
func statusColor(status registry.AttemptStatus) *color.Color {
	switch status {
	case registry.StatusClaimed, registry.StatusWorking:
		return cyan
	case registry.StatusComplete:
		return green
	case registry.StatusFailed:
		return red
	case registry.StatusAbandoned, registry.StatusIgnored:
		return yellow
	default:
		return gray
	}
}

// formatAge renders a duration the way a human reads heartbeat ages:
// seconds under a minute, minutes under an hour, hours beyond.
func formatAge(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	default:
		return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
	}
}
