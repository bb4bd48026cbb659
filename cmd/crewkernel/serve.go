// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/jllopis/crewkernel/pkg/config"
	"github.com/jllopis/crewkernel/pkg/orchestrator"
	"github.com/jllopis/crewkernel/pkg/server"
)

var serveOpts struct {
	Addr          string
	Watch         bool
	ShutdownGrace time.Duration
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the task HTTP API",
	Long: `Serve the task HTTP API.

Tasks are created with POST /tasks and executed in the background with
POST /tasks/{id}/execute. With --watch the configuration file is reloaded on
change and cached crew contexts are dropped when the llm or directline
sections change.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	f := serveCmd.Flags()
	f.StringVar(&serveOpts.Addr, "addr", "", "listen address (default server.addr)")
	f.BoolVar(&serveOpts.Watch, "watch", false, "reload the configuration file on change")
	f.DurationVar(&serveOpts.ShutdownGrace, "shutdown-grace", 30*time.Second, "time running tasks get to finish on shutdown")
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer a.close(context.WithoutCancel(ctx))

	if serveOpts.Watch {
		if flags.ConfigPath == "" {
			return newArgumentError("watch", "--watch requires --config")
		}
		watcher, err := config.NewWatcher(flags.ConfigPath,
			config.WithOverrides(flags.overrides()),
			config.WithWatchLogger(a.logger),
		)
		if err != nil {
			return newConfigError(err, flags.ConfigPath)
		}
		watcher.OnChange(a.reload)
		watcher.Start(ctx)
		defer watcher.Stop()
	}

	runner := orchestrator.NewRunner(a.orchestrator, a.logger)
	srv := server.New(a.store, a.registry, runner, a.health, a.logger)

	addr := serveOpts.Addr
	if addr == "" {
		addr = a.config().Server.Addr
	}
	serveErr := srv.ListenAndServe(ctx, addr)

	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), serveOpts.ShutdownGrace)
	defer cancel()
	if err := runner.Stop(stopCtx); err != nil {
		a.logger.Warn("tasks canceled on shutdown", "error", err)
	}
	return serveErr
}
