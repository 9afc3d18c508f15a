package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"cligate/cmd"
)

func main() {
	cmd.InitVersion()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := cmd.Execute(ctx, os.Args[1:]); err != nil {
		if errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, "cligate: shutdown requested, exiting")
			return
		}
		fmt.Fprintf(os.Stderr, "cligate %s: %v\n", cmd.Version, err)
		os.Exit(1)
	}
}
