package internal

import (
	"os"
	"os/exec"
	"testing"

	"github.com/Iron-Ham/herd/internal/testutil"
)

// TestGolangciLintCompliance runs golangci-lint over the whole module.
//
// If this test fails, run: golangci-lint run
//
// Skipped when golangci-lint is not installed.
func TestGolangciLintCompliance(t *testing.T) {
	testutil.SkipIfNoGolangciLint(t)

	root := projectRoot(t)

	// A per-test build cache keeps the run working on sandboxed runners
	// with a read-only default cache
	goCacheDir := t.TempDir()

	cmd := exec.Command("golangci-lint", "run", "--allow-parallel-runners", "./...")
	cmd.Dir = root
	cmd.Env = append(os.Environ(), "GOCACHE="+goCacheDir)
	output, err := cmd.CombinedOutput()

	if err != nil {
		t.Errorf("golangci-lint found issues:\n%s", output)
		t.Errorf("\nRun 'golangci-lint run' to see all issues and fix them.")
	}
}
