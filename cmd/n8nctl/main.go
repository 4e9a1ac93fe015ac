package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/danmuck/n8nctl/internal/envschema"
	"github.com/danmuck/n8nctl/internal/observability"
)

const exitInterrupted = 130

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], &cli{stdout: os.Stdout, stderr: os.Stderr, environ: envschema.Environ})
	stop()
	os.Exit(code)
}

// cli holds the process surfaces a command run touches.
type cli struct {
	stdout  io.Writer
	stderr  io.Writer
	environ func() map[string]string
}

func run(ctx context.Context, args []string, c *cli) int {
	root, opts := newRootCmd(c)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)

	if opts.metricsFile != "" {
		if merr := observability.WriteTextfile(opts.metricsFile); merr != nil {
			fmt.Fprintf(c.stderr, "n8nctl: write metrics: %v\n", merr)
		}
	}
	switch {
	case err == nil:
		return 0
	case ctx.Err() != nil || errors.Is(err, context.Canceled):
		fmt.Fprintln(c.stderr, "n8nctl: interrupted")
		return exitInterrupted
	default:
		fmt.Fprintf(c.stderr, "n8nctl: %v\n", err)
		return 1
	}
}
