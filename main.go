package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"tomgalvin.uk/lasergrave/internal/cli"
)

func main() {
	// minimal logger until the flags are parsed
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, os.Stdout, os.Stderr, os.Args[1:])
	stop()

	if err != nil {
		var exitErr *cli.ExitError
		if errors.As(err, &exitErr) {
			fmt.Fprintln(os.Stderr, exitErr.Message)
			os.Exit(exitErr.Code)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, stdout, stderr io.Writer, args []string) error {
	inv, exit, err := cli.Parse(args, stdout)
	if err != nil || exit {
		return err
	}

	logger := cli.NewLogger(inv.LogLevel, inv.LogFormat, stderr)
	slog.SetDefault(logger)
	return cli.NewApp(stdout, logger).Execute(ctx, inv)
}
