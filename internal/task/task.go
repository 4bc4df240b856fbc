package task

import (
	"context"
	"encoding/json"
	"fmt"
)

// WorkerCommand is the hidden first argument that switches the binary into
// worker mode.
const WorkerCommand = "__worker"

// Request is the unit of work handed to a worker process over stdin.
type Request struct {
	Stage   string          `json:"stage"`
	Payload json.RawMessage `json:"payload"`
}

// Result is the worker's one-shot completion report, written to stdout.
type Result struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// StageError reports the failure of a single pipeline stage.
type StageError struct {
	Stage  string
	Reason string
}

// Error implements the error interface for StageError.
func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s failed: %s", e.Stage, e.Reason)
}

// Executor runs one named stage to completion and reports its outcome.
// Implementations block until the stage has fully finished; stages never
// overlap.
type Executor interface {
	Run(ctx context.Context, stage string, payload any) error
}
