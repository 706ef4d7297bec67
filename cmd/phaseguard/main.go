// Package main provides the phaseguard command line.
//
// phaseguard scores requirements, plans and tracks phased missions in a
// workspace, and drives a browser with validated navigation and login
// handling.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	// Create context with signal handling for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Fprintln(os.Stderr, "\nShutting down gracefully...")
		cancel()
	}()

	if err := Execute(ctx); err != nil {
		os.Exit(1)
	}
}
