// Command stylectl is the operator CLI for the product search backend:
// ingesting products, running queries and preparing the vector collection.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd(defaultEnv()).ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}
