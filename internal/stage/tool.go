// Package stage holds helpers shared by the pipeline stage handlers.
package stage

import (
	"context"
	"fmt"
	"os"
	"os/exec"
)

// RunTool executes an external toolchain command to completion, streaming
// its output to the worker's stderr. argv[0] is the command, the rest are
// its arguments.
func RunTool(ctx context.Context, argv []string) error {
	if len(argv) == 0 {
		return fmt.Errorf("empty tool command")
	}
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Stdout = os.Stderr
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("tool %s failed: %w", argv[0], err)
	}
	return nil
}
