package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/vk/modeldeploy/internal/app"
	"github.com/vk/modeldeploy/internal/cli"
	"github.com/vk/modeldeploy/internal/config"
	"github.com/vk/modeldeploy/internal/task"
)

// main is the entrypoint for the deploy driver.
func main() {
	// Use a minimal logger until the full one is configured.
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	// Worker mode bypasses the CLI entirely; the driver spawns workers with
	// a fixed argument layout.
	if len(os.Args) > 1 && os.Args[1] == task.WorkerCommand {
		os.Exit(workerMain(os.Args[2:]))
	}

	// The real main function handles errors and exit codes.
	if err := run(os.Stdout, os.Args[1:]); err != nil {
		if exitErr, ok := err.(*cli.ExitError); ok {
			fmt.Fprintln(os.Stderr, exitErr.Message)
			os.Exit(exitErr.Code)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// run encapsulates the main application logic for easier testing and error handling.
func run(outW io.Writer, args []string) (err error) {
	appConfig, shouldExit, err := cli.Parse(args, outW)
	if err != nil {
		return err
	}
	if shouldExit {
		return nil
	}

	// The app panics on critical config errors, so we recover here to provide
	// a clean exit message to the user.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("application startup panicked: %v", r)
		}
	}()

	loader := config.NewLoader()
	deployApp := app.NewApp(outW, appConfig, loader)

	return deployApp.Run(context.Background())
}
