// File: cmd/hioload-sync/main.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// hioload-sync drives the executor and the lock-free queues under load.

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand(newApp()).ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
