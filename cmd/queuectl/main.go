package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/hackgods/govease-queue/internal/cli"
	"github.com/hackgods/govease-queue/internal/config"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	root := cli.NewRootCommand(cli.StoreOpener(config.Load, os.Stderr))
	if err := root.ExecuteContext(ctx); err != nil {
		// Refused operations were already written by the formatter.
		var exitErr *cli.ExitError
		if !errors.As(err, &exitErr) || exitErr.Code != cli.ExitFailure {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(cli.GetExitCode(err))
	}
}
