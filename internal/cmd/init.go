package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	herderrors "github.com/Iron-Ham/herd/internal/errors"
	"github.com/Iron-Ham/herd/internal/fingerprint"
	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize herd in the current repository",
	Long: `Initialize herd in the current git repository.
This creates the coordination directory that holds presence records, the
task-lease registry, the assignment sheet, and the daemon log.`,
	RunE: runInit,
}

func init() {
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	ws, err := openWorkspace()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(ws.coordDir, 0755); err != nil {
		return fmt.Errorf("failed to create coordination directory: %w", err)
	}

	// Keep coordination churn (presence records, leases, logs) out of
	// version control when the directory lives inside the repository.
	ignorePath := filepath.Join(ws.coordDir, ".gitignore")
	if _, err := os.Stat(ignorePath); os.IsNotExist(err) {
		if err := os.WriteFile(ignorePath, []byte("*\n"), 0644); err != nil {
			return fmt.Errorf("failed to write %s: %w", ignorePath, err)
		}
	}

	green.Printf("✓ Herd initialized\n")
	fmt.Printf("Coordination directory: %s\n", ws.coordDir)

	fp, err := fingerprint.Compute(ws.repoRoot)
	if err != nil {
		if herderrors.Is(err, herderrors.ErrNoFingerprint) {
			yellow.Printf("⚠ Repository has no remote and no commits yet; fleet identity will be derived once either exists.\n")
			return nil
		}
		return fmt.Errorf("failed to fingerprint repository: %w", err)
	}

	fmt.Printf("Repository fingerprint: %s (%s %s)\n", fp.Hash, fp.Method, fp.Normalized)
	if fp.Method == fingerprint.MethodRootCommit {
		yellow.Printf("⚠ No origin remote; identity is keyed on the root commit, so independent clones must share history to form a fleet.\n")
	}

	fmt.Println("\nRun 'herd daemon' here and on other clones of the same repository to form a fleet.")
	return nil
}
