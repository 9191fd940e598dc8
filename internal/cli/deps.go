package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/vietddude/taskgraph/internal/core/dependency"
)

var depsCmd = &cobra.Command{
	Use:   "deps",
	Short: "Add or remove task dependencies",
}

var depsAddCmd = &cobra.Command{
	Use:   "add <task-id> <dependency-id>",
	Short: "Make a task depend on another",
	Args:  cobra.ExactArgs(2),
	RunE: withManager(func(ctx context.Context, m *dependency.Manager, out io.Writer, args []string) error {
		task, err := m.AddDependency(ctx, args[0], args[1])
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%s now depends on %v\n", task.ID, task.Dependencies)
		return nil
	}),
}

var depsRemoveCmd = &cobra.Command{
	Use:   "remove <task-id> <dependency-id>",
	Short: "Drop a dependency from a task",
	Args:  cobra.ExactArgs(2),
	RunE: withManager(func(ctx context.Context, m *dependency.Manager, out io.Writer, args []string) error {
		task, err := m.RemoveDependency(ctx, args[0], args[1])
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%s now depends on %v\n", task.ID, task.Dependencies)
		return nil
	}),
}

func init() {
	depsCmd.AddCommand(depsAddCmd, depsRemoveCmd)
	rootCmd.AddCommand(depsCmd)
}
