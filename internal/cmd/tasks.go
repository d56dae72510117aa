package cmd

import (
	"fmt"
	"sort"
	"time"

	"github.com/Iron-Ham/herd/internal/registry"
	"github.com/spf13/cobra"
)

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "Inspect and manage task leases",
	Long: `Inspect the shared task-lease registry and manage which tasks the
fleet is allowed to work on.

Without a subcommand, lists every tracked task.`,
	RunE: runTasksList,
}

var tasksListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all tracked task leases",
	RunE:  runTasksList,
}

var tasksShowCmd = &cobra.Command{
	Use:   "show <task-id>",
	Short: "Show a task's lease record and transition history",
	Args:  cobra.ExactArgs(1),
	RunE:  runTasksShow,
}

var tasksIgnoreCmd = &cobra.Command{
	Use:   "ignore <task-id>",
	Short: "Veto a task so no workstation claims it",
	Long: `Veto a task so no workstation claims it, even if it reappears in the
board backlog. The veto persists until lifted with 'herd tasks unignore'.
A reason is required; it is stored on the record and shown to anyone
wondering why the task is parked.`,
	Args: cobra.ExactArgs(1),
	RunE: runTasksIgnore,
}

var tasksUnignoreCmd = &cobra.Command{
	Use:   "unignore <task-id>",
	Short: "Lift a task's ignore veto",
	Args:  cobra.ExactArgs(1),
	RunE:  runTasksUnignore,
}

var tasksIgnoreReason string

func init() {
	rootCmd.AddCommand(tasksCmd)
	tasksCmd.AddCommand(tasksListCmd)
	tasksCmd.AddCommand(tasksShowCmd)
	tasksCmd.AddCommand(tasksIgnoreCmd)
	tasksCmd.AddCommand(tasksUnignoreCmd)

	tasksIgnoreCmd.Flags().StringVarP(&tasksIgnoreReason, "reason", "r", "", "Why the task is being vetoed (required)")
}

func runTasksList(cmd *cobra.Command, args []string) error {
	ws, err := openWorkspace()
	if err != nil {
		return err
	}

	reg, err := ws.openRegistry()
	if err != nil {
		return err
	}

	doc, err := reg.Snapshot()
	if err != nil {
		return fmt.Errorf("failed to read registry: %w", err)
	}

	if len(doc.Tasks) == 0 {
		fmt.Println("No tasks tracked yet.")
		return nil
	}

	ids := make([]string, 0, len(doc.Tasks))
	for id := range doc.Tasks {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	now := time.Now().UTC()
	for _, id := range ids {
		printTaskLine(doc.Tasks[id], now)
	}
	return nil
}

func printTaskLine(task *registry.TaskState, now time.Time) {
	fmt.Printf("%s  %s", statusColor(task.AttemptStatus).Sprintf("%-9s", string(task.AttemptStatus)), task.TaskID)
	if task.OwnerID != "" && !task.AttemptStatus.IsTerminal() {
		fmt.Printf("  owner=%s heartbeat=%s ago", task.OwnerID, formatAge(task.HeartbeatAge(now)))
		if task.IsStale(now) {
			yellow.Printf(" (stale)")
		}
	}
	if task.RetryCount > 0 {
		fmt.Printf("  retries=%d", task.RetryCount)
	}
	if task.IgnoreReason != "" {
		yellow.Printf("  ignored: %s", task.IgnoreReason)
	}
	fmt.Println()
}

func runTasksShow(cmd *cobra.Command, args []string) error {
	ws, err := openWorkspace()
	if err != nil {
		return err
	}

	reg, err := ws.openRegistry()
	if err != nil {
		return err
	}

	task, err := reg.Get(args[0])
	if err != nil {
		return fmt.Errorf("failed to look up task: %w", err)
	}

	now := time.Now().UTC()
	fmt.Printf("Task: %s\n", task.TaskID)
	fmt.Printf("Status: %s\n", statusColor(task.AttemptStatus).Sprint(string(task.AttemptStatus)))
	if task.OwnerID != "" {
		fmt.Printf("Owner: %s (heartbeat %s ago, lease ttl %s)\n",
			task.OwnerID, formatAge(task.HeartbeatAge(now)), task.TTL())
	}
	fmt.Printf("Retries: %d\n", task.RetryCount)
	if task.LastError != "" {
		red.Printf("Last error: %s\n", task.LastError)
	}
	if task.IgnoreReason != "" {
		yellow.Printf("Ignored: %s\n", task.IgnoreReason)
	}

	if len(task.EventLog) > 0 {
		fmt.Printf("\nHistory (%d event(s)):\n", len(task.EventLog))
		for _, ev := range task.EventLog {
			fmt.Printf("  %s  %-10s %s", gray.Sprint(ev.Timestamp.Format("2006-01-02 15:04:05")), ev.Action, ev.Actor)
			if ev.Detail != "" {
				fmt.Printf("  %s", ev.Detail)
			}
			fmt.Println()
		}
	}
	return nil
}

func runTasksIgnore(cmd *cobra.Command, args []string) error {
	if tasksIgnoreReason == "" {
		return fmt.Errorf("an ignore reason is required; pass one with --reason")
	}

	ws, err := openWorkspace()
	if err != nil {
		return err
	}

	reg, err := ws.openRegistry()
	if err != nil {
		return err
	}

	if err := reg.Ignore(args[0], tasksIgnoreReason); err != nil {
		return fmt.Errorf("failed to ignore task: %w", err)
	}

	green.Printf("✓ Task %s ignored: %s\n", args[0], tasksIgnoreReason)
	return nil
}

func runTasksUnignore(cmd *cobra.Command, args []string) error {
	ws, err := openWorkspace()
	if err != nil {
		return err
	}

	reg, err := ws.openRegistry()
	if err != nil {
		return err
	}

	if err := reg.Unignore(args[0]); err != nil {
		return fmt.Errorf("failed to unignore task: %w", err)
	}

	green.Printf("✓ Task %s is claimable again\n", args[0])
	return nil
}
