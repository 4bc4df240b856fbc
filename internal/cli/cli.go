// Package cli parses the deploy driver's command line.
package cli

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/vk/modeldeploy/internal/app"
)

// ExitError is a custom error type that includes a specific exit code.
type ExitError struct {
	Code    int
	Message string
}

// Error implements the error interface for ExitError.
func (e *ExitError) Error() string {
	return e.Message
}

// Parse processes command-line arguments. It returns a populated app.Config,
// a boolean indicating if the program should exit cleanly, or an ExitError.
func Parse(args []string, output io.Writer) (*app.Config, bool, error) {
	slog.Debug("CLI parser started.")
	flagSet := flag.NewFlagSet("deploy", flag.ContinueOnError)
	flagSet.SetOutput(output)

	// Custom usage/help text function
	flagSet.Usage = func() {
		fmt.Fprint(output, `
modeldeploy - export a trained model to a deployment backend and compare outputs.

Usage:
  deploy [options] DEPLOY_CFG MODEL_CFG CHECKPOINT IMG

Arguments:
  DEPLOY_CFG
    Path to the deploy config (.hcl).
  MODEL_CFG
    Path to the model config consumed by the export and inference tools.
  CHECKPOINT
    Path to the trained model checkpoint.
  IMG
    Image used to convert the model and to test the converted model.

Options:
`)
		flagSet.PrintDefaults()
	}

	workDirFlag := flagSet.String("work-dir", "", "Directory to save logs, models, and visualizations.")
	deviceFlag := flagSet.String("device", "cpu", "Device used for conversion and inference, e.g. 'cpu' or 'cuda:0'.")
	logLevelFlag := flagSet.String("log-level", "info", "Set the logging level. Options: 'debug', 'info', 'warn', 'error'.")
	logFormatFlag := flagSet.String("log-format", "text", "Log output format. Options: 'text' or 'json'.")
	showFlag := flagSet.Bool("show", false, "Show inference results in a window as well as writing them to file.")

	if err := flagSet.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return nil, true, nil
		}
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}
	slog.Debug("Arguments parsed successfully.")

	if flagSet.NArg() != 4 {
		flagSet.Usage()
		return nil, false, &ExitError{
			Code:    2,
			Message: fmt.Sprintf("expected 4 positional arguments (DEPLOY_CFG MODEL_CFG CHECKPOINT IMG), got %d", flagSet.NArg()),
		}
	}

	logFormat := strings.ToLower(*logFormatFlag)
	if logFormat != "text" && logFormat != "json" {
		return nil, false, &ExitError{Code: 2, Message: "invalid log-format: must be 'text' or 'json'"}
	}

	logLevel := strings.ToLower(*logLevelFlag)
	switch logLevel {
	case "debug", "info", "warn", "error":
		// valid
	default:
		return nil, false, &ExitError{Code: 2, Message: "invalid log-level: must be 'debug', 'info', 'warn', or 'error'"}
	}
	slog.Debug("CLI parameter validation complete.")

	return &app.Config{
		DeployCfgPath:  flagSet.Arg(0),
		ModelCfgPath:   flagSet.Arg(1),
		CheckpointPath: flagSet.Arg(2),
		ImgPath:        flagSet.Arg(3),
		WorkDir:        *workDirFlag,
		Device:         *deviceFlag,
		LogLevel:       logLevel,
		LogFormat:      logFormat,
		Show:           *showFlag,
	}, false, nil
}
