package task

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/vk/modeldeploy/internal/ctxlog"
	"github.com/vk/modeldeploy/internal/registry"
)

// WorkerMain is the worker-side entrypoint. It decodes one Request from in,
// runs the matching registered stage, writes the Result to out, and returns
// the process exit code.
func WorkerMain(ctx context.Context, reg *registry.Registry, in io.Reader, out io.Writer) int {
	result := runStage(ctx, reg, in)
	if err := json.NewEncoder(out).Encode(result); err != nil {
		// Without a result on stdout the driver treats this run as failed,
		// which is the right reading.
		ctxlog.FromContext(ctx).Error("Failed to write stage result.", "error", err)
		return 1
	}
	if result.OK {
		return 0
	}
	return 1
}

func runStage(ctx context.Context, reg *registry.Registry, in io.Reader) Result {
	logger := ctxlog.FromContext(ctx)

	var req Request
	if err := json.NewDecoder(in).Decode(&req); err != nil {
		return failure(fmt.Errorf("failed to decode stage request: %w", err))
	}

	stage, ok := reg.Lookup(req.Stage)
	if !ok {
		return failure(fmt.Errorf("no stage handler registered for '%s'", req.Stage))
	}

	input := stage.NewInput()
	if err := json.Unmarshal(req.Payload, input); err != nil {
		return failure(fmt.Errorf("failed to decode payload for stage '%s': %w", req.Stage, err))
	}

	logger.Debug("Worker running stage.", "stage", req.Stage)
	if err := stage.Run(ctx, input); err != nil {
		logger.Error("Stage handler failed.", "stage", req.Stage, "error", err)
		return failure(err)
	}
	return Result{OK: true}
}

func failure(err error) Result {
	return Result{OK: false, Error: err.Error()}
}
