package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/vietddude/taskgraph/internal/core/dependency"
	"github.com/vietddude/taskgraph/internal/core/domain"
	"github.com/vietddude/taskgraph/internal/core/graph"
)

const queryTimeout = 30 * time.Second

var blockedCmd = &cobra.Command{
	Use:   "blocked",
	Short: "List tasks waiting on incomplete dependencies",
	Args:  cobra.NoArgs,
	RunE: withManager(func(ctx context.Context, m *dependency.Manager, out io.Writer, args []string) error {
		blocked, err := m.BlockedTasks(ctx)
		if err != nil {
			return err
		}
		return printBlocked(out, blocked)
	}),
}

var availableCmd = &cobra.Command{
	Use:   "available",
	Short: "List tasks that can be started now",
	Args:  cobra.NoArgs,
	RunE: withManager(func(ctx context.Context, m *dependency.Manager, out io.Writer, args []string) error {
		tasks, err := m.AvailableTasks(ctx)
		if err != nil {
			return err
		}
		return printTasks(out, tasks)
	}),
}

var rankedCmd = &cobra.Command{
	Use:   "ranked",
	Short: "List available tasks by dynamic priority",
	Args:  cobra.NoArgs,
	RunE: withManager(func(ctx context.Context, m *dependency.Manager, out io.Writer, args []string) error {
		scores, err := m.RankedTasks(ctx)
		if err != nil {
			return err
		}
		return printScores(out, scores)
	}),
}

var priorityCmd = &cobra.Command{
	Use:   "priority <task-id>",
	Short: "Show the dynamic priority breakdown of a task",
	Args:  cobra.ExactArgs(1),
	RunE: withManager(func(ctx context.Context, m *dependency.Manager, out io.Writer, args []string) error {
		score, err := m.DynamicPriority(ctx, args[0])
		if err != nil {
			return err
		}
		return printScores(out, []graph.PriorityScore{score})
	}),
}

var graphCmd = &cobra.Command{
	Use:   "graph",
	Short: "Print the dependency graph as JSON",
	Args:  cobra.NoArgs,
	RunE: withManager(func(ctx context.Context, m *dependency.Manager, out io.Writer, args []string) error {
		view, err := m.Graph(ctx)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(view)
	}),
}

var orderCmd = &cobra.Command{
	Use:   "order",
	Short: "Print task ids with dependencies first",
	Args:  cobra.NoArgs,
	RunE: withManager(func(ctx context.Context, m *dependency.Manager, out io.Writer, args []string) error {
		order, err := m.TopologicalOrder(ctx)
		if err != nil {
			return err
		}
		for _, id := range order {
			fmt.Fprintln(out, id)
		}
		return nil
	}),
}

var danglingCmd = &cobra.Command{
	Use:   "dangling",
	Short: "List dependency ids that point at no task",
	Args:  cobra.NoArgs,
	RunE: withManager(func(ctx context.Context, m *dependency.Manager, out io.Writer, args []string) error {
		refs, err := m.DanglingReferences(ctx)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "TASK\tMISSING DEPENDENCY")
		for _, r := range refs {
			fmt.Fprintf(w, "%s\t%s\n", r.TaskID, r.DependencyID)
		}
		return w.Flush()
	}),
}

func init() {
	rootCmd.AddCommand(blockedCmd, availableCmd, rankedCmd, priorityCmd, graphCmd, orderCmd, danglingCmd)
}

type managerFunc func(ctx context.Context, m *dependency.Manager, out io.Writer, args []string) error

// withManager opens the app for the duration of one command.
func withManager(fn managerFunc) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), queryTimeout)
		defer cancel()

		app, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer app.Close()

		return fn(ctx, app.Manager(), cmd.OutOrStdout(), args)
	}
}

func printBlocked(out io.Writer, blocked []graph.BlockedTask) error {
	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "ID\tTITLE\tBLOCKED BY")
	for _, b := range blocked {
		names := make([]string, 0, len(b.Blockers))
		for _, blocker := range b.Blockers {
			switch {
			case blocker.Missing:
				names = append(names, blocker.ID+" (missing)")
			case blocker.Title != "":
				names = append(names, blocker.Title)
			default:
				names = append(names, blocker.ID)
			}
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", b.Task.ID, b.Task.Title, strings.Join(names, ", "))
	}
	return w.Flush()
}

func printTasks(out io.Writer, tasks []domain.Task) error {
	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "ID\tTITLE\tSTATUS\tPRIORITY\tDUE")
	for _, t := range tasks {
		due := "-"
		if t.DueDate != nil {
			due = t.DueDate.Format(time.DateOnly)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", t.ID, t.Title, t.Status, t.Priority, due)
	}
	return w.Flush()
}

func printScores(out io.Writer, scores []graph.PriorityScore) error {
	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "ID\tTITLE\tSCORE\tBASE\tDEADLINE\tDEPENDENTS\tEFFORT")
	for _, s := range scores {
		fmt.Fprintf(w, "%s\t%s\t%.0f\t%.0f\t%.0f\t%.0f\t%.0f\n",
			s.TaskID, s.Title, s.Score, s.Base, s.Deadline, s.Dependents, s.Effort)
	}
	return w.Flush()
}
