// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/jllopis/crewkernel/pkg/core"
	"github.com/jllopis/crewkernel/pkg/errors"
)

var runOpts struct {
	CrewID  string
	Title   string
	Creator string
}

var runCmd = &cobra.Command{
	Use:   "run [flags] DESCRIPTION",
	Short: "Execute one task and print its message log",
	Long: `Execute one task synchronously with a crew from the store or manifest and
print every message the task produced.`,
	Example: `  crewkernel run -c crewkernel.yaml --set store.manifest=crews.yaml \
    --crew research --title "Market scan" "Summarize the EV charger market in Spain"`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func init() {
	f := runCmd.Flags()
	f.StringVar(&runOpts.CrewID, "crew", "", "crew that executes the task (required)")
	f.StringVar(&runOpts.Title, "title", "", "task title (default: the description)")
	f.StringVar(&runOpts.Creator, "creator", "", "creator recorded on the task")
	_ = runCmd.MarkFlagRequired("crew")
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer a.close(context.WithoutCancel(ctx))

	description := strings.TrimSpace(args[0])
	if description == "" {
		return newArgumentError("DESCRIPTION", "the task description is empty")
	}
	title := runOpts.Title
	if title == "" {
		title = description
	}
	return runTask(ctx, a, cmd.OutOrStdout(), core.NewTask(title, description, runOpts.CrewID, runOpts.Creator))
}

// runTask stores task, executes it and prints the outcome. A task that ends
// FAILED is reported as an error after its log is printed.
func runTask(ctx context.Context, a *app, out io.Writer, task *core.Task) error {
	if err := a.store.CreateTask(ctx, task); err != nil {
		return err
	}
	final, execErr := a.orchestrator.Execute(ctx, task.ID)
	if final == nil {
		return execErr
	}
	messages, err := a.store.ListMessages(context.WithoutCancel(ctx), task.ID)
	if err != nil {
		return err
	}

	if flags.JSON {
		if err := writeJSON(out, struct {
			Task     *core.Task         `json:"task"`
			Messages []core.TaskMessage `json:"messages"`
		}{final, messages}); err != nil {
			return err
		}
	} else {
		printMessages(out, messages)
		printStatus(out, final)
	}

	if execErr != nil {
		return execErr
	}
	if final.Status == core.TaskStatusFailed {
		return errors.New(errors.CodeToolFailure, final.Error, nil).WithContext("task_id", final.ID)
	}
	return nil
}

func printMessages(out io.Writer, messages []core.TaskMessage) {
	system := color.New(color.FgCyan)
	agent := color.New(color.FgGreen, color.Bold)
	for _, m := range messages {
		if m.IsSystem {
			system.Fprintln(out, m.Content)
			continue
		}
		agent.Fprintf(out, "[%s] ", m.AgentID)
		fmt.Fprintln(out, m.Content)
	}
}

func printStatus(out io.Writer, task *core.Task) {
	mark := color.GreenString("✓")
	if task.Status != core.TaskStatusCompleted {
		mark = color.RedString("✗")
	}
	fmt.Fprintf(out, "\n%s %s %s\n", mark, task.Status, task.Title)
	if task.Result != nil {
		fmt.Fprintf(out, "  %d agent replies\n", len(task.Result.Details))
	}
}
