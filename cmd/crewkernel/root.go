// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/jllopis/crewkernel/pkg/config"
)

type globalFlags struct {
	ConfigPath string
	Overrides  []string
	LogLevel   string
	LogFormat  string
	JSON       bool
}

var flags globalFlags

var rootCmd = &cobra.Command{
	Use:   "crewkernel",
	Short: "Plan tasks and dispatch them to crews of remote agents",
	Long: `crewkernel executes tasks with crews of remote agents.

A language model splits each task into subtasks, every subtask is sent to a
crew member over Direct Line and the replies are aggregated into one result.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&flags.ConfigPath, "config", "c", "", "path to the YAML configuration file")
	pf.StringArrayVar(&flags.Overrides, "set", nil, "override a configuration key (key=value), repeatable")
	pf.StringVar(&flags.LogLevel, "log-level", "", "log level (debug, info, warn, error)")
	pf.StringVar(&flags.LogFormat, "log-format", "", "log format (text, json)")
	pf.BoolVar(&flags.JSON, "json", false, "print errors and results as JSON")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(describeCmd)
	rootCmd.AddCommand(mcpCmd)
	rootCmd.AddCommand(versionCmd)
}

func execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

// overrides folds the logging flags into the --set list so they follow the
// same precedence as any other key.
func (f globalFlags) overrides() []string {
	out := append([]string(nil), f.Overrides...)
	if f.LogLevel != "" {
		out = append(out, "log.level="+f.LogLevel)
	}
	if f.LogFormat != "" {
		out = append(out, "log.format="+f.LogFormat)
	}
	return out
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadWithOverrides(flags.ConfigPath, flags.overrides())
	if err != nil {
		return nil, newConfigError(err, flags.ConfigPath)
	}
	return cfg, nil
}

// bootstrap loads the configuration and wires the application.
func bootstrap(ctx context.Context, opts ...appOption) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return newApp(ctx, cfg, newLogger(cfg.Log), opts...)
}
