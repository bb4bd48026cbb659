// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/jllopis/crewkernel/pkg/kernel"
)

var describeCmd = &cobra.Command{
	Use:   "describe CREW_ID",
	Short: "Build a crew's execution context and list its agent tools",
	Args:  cobra.ExactArgs(1),
	RunE:  runDescribe,
}

var describeSchema bool

func init() {
	describeCmd.Flags().BoolVar(&describeSchema, "schema", false, "print the tools as function-calling definitions")
}

func runDescribe(cmd *cobra.Command, args []string) error {
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
	if describeSchema {
		return writeJSON(cmd.OutOrStdout(), ec.Tools.Definitions())
	}
	return printDescription(cmd.OutOrStdout(), a.registry.Describe(args[0]), flags.JSON)
}

func printDescription(out io.Writer, d kernel.Description, asJSON bool) error {
	if asJSON {
		return writeJSON(out, d)
	}
	bold := color.New(color.Bold)
	bold.Fprintln(out, d.PluginName)
	for _, fn := range d.Functions {
		fmt.Fprintf(out, "  %s\n", color.GreenString(fn.Name))
		for _, line := range strings.Split(fn.Description, "\n") {
			fmt.Fprintf(out, "      %s\n", line)
		}
		for _, p := range fn.Parameters {
			req := ""
			if p.Required {
				req = color.YellowString(" (required)")
			}
			fmt.Fprintf(out, "      - %s %s%s: %s\n", p.Name, p.Type, req, p.Description)
		}
	}
	return nil
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
