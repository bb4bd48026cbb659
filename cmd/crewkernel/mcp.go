// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/jllopis/crewkernel/pkg/kernel"
	"github.com/jllopis/crewkernel/pkg/mcp"
)

var mcpOpts struct {
	TaskID string
}

var mcpCmd = &cobra.Command{
	Use:   "mcp CREW_ID",
	Short: "Expose a crew's agents as MCP tools over stdio",
	Long: `Expose every active agent of a crew as an MCP tool named ask_<agent>.

Logs go to stderr; stdout carries the MCP protocol only.`,
	Args: cobra.ExactArgs(1),
	RunE: runMCP,
}

func init() {
	mcpCmd.Flags().StringVar(&mcpOpts.TaskID, "task-id", "", "task the conversations of calls without conversation_id belong to")
}

func runMCP(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer a.close(context.WithoutCancel(ctx))

	ec, err := a.registry.Get(ctx, args[0])
	if err != nil {
		return err
	}
	srv := mcp.NewServer(kernel.PluginName(ec.CrewID), version, ec.Tools,
		mcp.WithTaskID(mcpOpts.TaskID),
		mcp.WithLogger(a.logger),
	)
	return srv.Serve(ctx, os.Stdin, os.Stdout)
}
