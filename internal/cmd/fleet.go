package cmd

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/Iron-Ham/herd/internal/fingerprint"
	"github.com/Iron-Ham/herd/internal/presence"
	"github.com/spf13/cobra"
)

var fleetCmd = &cobra.Command{
	Use:   "fleet",
	Short: "List every workstation on the presence channel",
	Long: `List every presence record on the coordination channel, including
stale members that dropped off and workstations coordinating on other
repositories. 'herd status' shows the live fleet; this command shows
everything the presence backend knows, which is what you want when a
workstation that should be in the fleet is not.`,
	RunE: runFleet,
}

var fleetAll bool

func init() {
	rootCmd.AddCommand(fleetCmd)

	fleetCmd.Flags().BoolVarP(&fleetAll, "all", "a", false, "Include records for other repository fingerprints")
}

func runFleet(cmd *cobra.Command, args []string) error {
	ws, err := openWorkspace()
	if err != nil {
		return err
	}
	ctx := context.Background()
	now := time.Now().UTC()
	ttl := ws.cfg.Coordination.PresenceTTL()

	fp, err := fingerprint.Compute(ws.repoRoot)
	if err != nil {
		return fmt.Errorf("failed to fingerprint repository: %w", err)
	}

	store, err := ws.openPresenceStore()
	if err != nil {
		return fmt.Errorf("failed to open presence store: %w", err)
	}
	defer func() { _ = store.Close() }()

	records, err := store.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list presence records: %w", err)
	}

	if !fleetAll {
		filtered := records[:0]
		for _, rec := range records {
			if rec.RepoFingerprint == fp.Hash {
				filtered = append(filtered, rec)
			}
		}
		records = filtered
	}

	if len(records) == 0 {
		fmt.Println("No presence records found.")
		fmt.Println("Run 'herd daemon' to publish this workstation's presence.")
		return nil
	}

	sort.Slice(records, func(i, j int) bool { return records[i].InstanceID < records[j].InstanceID })

	// Election preview: the smallest live instance id on this repository's
	// fingerprint coordinates. Computing it here shows what every daemon
	// will conclude from the same records.
	coordinatorID := ""
	for _, rec := range records {
		if rec.RepoFingerprint == fp.Hash && rec.IsLive(ttl, now) {
			coordinatorID = rec.InstanceID
			break
		}
	}

	fmt.Printf("%d record(s) on the presence channel (ttl %s)\n\n", len(records), ttl)
	for _, rec := range records {
		printFleetMember(rec, fp.Hash, coordinatorID, ttl, now)
	}
	return nil
}

func printFleetMember(rec *presence.Record, localHash, coordinatorID string, ttl time.Duration, now time.Time) {
	age := rec.Age(now)

	switch {
	case !rec.IsLive(ttl, now):
		red.Printf("✗ %s", rec.InstanceID)
		gray.Printf("  stale, last heartbeat %s ago\n", formatAge(age))
	case rec.InstanceID == coordinatorID:
		green.Printf("✓ %s", rec.InstanceID)
		cyan.Printf("  coordinator\n")
	default:
		green.Printf("✓ %s\n", rec.InstanceID)
	}

	if rec.PID > 0 {
		fmt.Printf("    Host: %s (pid %d)\n", rec.Host, rec.PID)
	} else {
		fmt.Printf("    Host: %s\n", rec.Host)
	}
	fmt.Printf("    Slots: %d\n", rec.MaxParallel)
	if len(rec.Capabilities) > 0 {
		fmt.Printf("    Capabilities: %s\n", strings.Join(rec.Capabilities, ", "))
	}
	fmt.Printf("    Heartbeat: %s ago\n", formatAge(age))
	if rec.RepoFingerprint != localHash {
		yellow.Printf("    Fingerprint: %s (different repository)\n", rec.RepoFingerprint)
	}
	fmt.Println()
}
