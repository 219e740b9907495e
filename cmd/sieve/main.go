package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	// Cancelling the context stops a run between rows; completed chunks
	// stay on disk and the next invocation resumes from them.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
