// SPDX-License-Identifier: Apache-2.0

// Command crewkernel serves and runs crew tasks: it plans a task with a
// language model, dispatches the steps to remote agents over Direct Line and
// aggregates their replies.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := execute(ctx); err != nil {
		printError(os.Stderr, err, flags.JSON)
		stop()
		os.Exit(1)
	}
}
