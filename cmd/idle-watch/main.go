package main

import (
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/Veraticus/idle-watch/pkg/config"
)

func main() {
	os.Exit(int(run(os.Args[1:], os.Stdout, os.Stderr, dialWayland)))
}

// run parses args, wires the application and runs it until it exits.
// SIGINT and SIGTERM cancel the run; teardown happens before returning.
func run(args []string, stdout, stderr io.Writer, dial Dialer) ExitCode {
	cfg, err := config.Parse(args)
	if errors.Is(err, config.ErrHelp) {
		config.Usage(stdout, "idle-watch")
		return ExitOK
	}
	if err != nil {
		printError(stderr, err)
		config.Usage(stderr, "idle-watch")
		return ExitUsage
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps := NewDependencies(cfg, dial, stdout, stderr)
	return NewApplication(deps).Run(ctx)
}
