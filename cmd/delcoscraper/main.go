package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// syncLogger flushes the logger once the command has finished, failed or not
var syncLogger = func() error { return logger.Sync() }

func execute(ctx context.Context) error {
	err := rootCmd.ExecuteContext(ctx)
	_ = syncLogger()
	return err
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := execute(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
