package task

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
)

// ProcessExecutor runs each stage by re-execing the current binary in
// worker mode. One fresh process per stage, never reused.
type ProcessExecutor struct {
	logger    *slog.Logger
	binary    string
	logLevel  string
	logFormat string
}

// NewProcessExecutor creates an executor that spawns binary as its worker.
// logLevel and logFormat are forwarded to every worker so that a freshly
// spawned process logs with the driver's verbosity.
func NewProcessExecutor(logger *slog.Logger, binary, logLevel, logFormat string) *ProcessExecutor {
	return &ProcessExecutor{
		logger:    logger,
		binary:    binary,
		logLevel:  logLevel,
		logFormat: logFormat,
	}
}

// Run executes one stage in a fresh worker process and blocks until it has
// fully finished. Worker logs pass through on stderr; the worker's stdout
// carries only its Result.
func (e *ProcessExecutor) Run(ctx context.Context, stage string, payload any) error {
	e.logger.Info("Stage started.", "stage", stage)

	raw, err := json.Marshal(payload)
	if err != nil {
		return &StageError{Stage: stage, Reason: fmt.Sprintf("failed to encode payload: %v", err)}
	}
	body, err := json.Marshal(Request{Stage: stage, Payload: raw})
	if err != nil {
		return &StageError{Stage: stage, Reason: fmt.Sprintf("failed to encode request: %v", err)}
	}

	cmd := exec.CommandContext(ctx, e.binary,
		WorkerCommand,
		"--stage", stage,
		"--log-level", e.logLevel,
		"--log-format", e.logFormat,
	)
	cmd.Stdin = bytes.NewReader(body)
	cmd.Stderr = os.Stderr
	var out bytes.Buffer
	cmd.Stdout = &out

	runErr := cmd.Run()

	var result Result
	if err := json.Unmarshal(bytes.TrimSpace(out.Bytes()), &result); err != nil {
		// The worker died without reporting back. Silence is failure.
		reason := "worker exited without reporting a result"
		if runErr != nil {
			reason = fmt.Sprintf("%s: %v", reason, runErr)
		}
		e.logger.Error("Stage failed.", "stage", stage, "reason", reason)
		return &StageError{Stage: stage, Reason: reason}
	}

	if !result.OK {
		reason := result.Error
		if reason == "" {
			reason = "unknown error"
		}
		e.logger.Error("Stage failed.", "stage", stage, "reason", reason)
		return &StageError{Stage: stage, Reason: reason}
	}

	e.logger.Info("Stage succeeded.", "stage", stage)
	return nil
}
