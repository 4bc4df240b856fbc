package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/vk/modeldeploy/internal/app"
	"github.com/vk/modeldeploy/internal/ctxlog"
	"github.com/vk/modeldeploy/internal/task"
)

// workerMain is the entrypoint for the hidden worker mode. It rebuilds a
// logger from the settings the driver forwarded, then runs exactly one
// stage request from stdin. Logs go to stderr; stdout carries only the
// stage result.
func workerMain(args []string) int {
	flagSet := flag.NewFlagSet("deploy-worker", flag.ContinueOnError)
	flagSet.SetOutput(os.Stderr)
	stage := flagSet.String("stage", "", "Stage name, for log attribution.")
	logLevel := flagSet.String("log-level", "info", "Logging level forwarded by the driver.")
	logFormat := flagSet.String("log-format", "text", "Log format forwarded by the driver.")

	if err := flagSet.Parse(args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	logger := app.NewWorkerLogger(*logLevel, *logFormat, os.Stderr).With("worker_stage", *stage)
	slog.SetDefault(logger)

	ctx := ctxlog.WithLogger(context.Background(), logger)
	return task.WorkerMain(ctx, app.NewRegistry(), os.Stdin, os.Stdout)
}
