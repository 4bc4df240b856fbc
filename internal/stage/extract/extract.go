// Package extract implements the sub-graph extraction stage: it cuts one
// sub-graph out of an exported ONNX file between two named boundary marks.
package extract

import (
	"context"
	"fmt"
	"os"

	"github.com/vk/modeldeploy/internal/ctxlog"
	"github.com/vk/modeldeploy/internal/stage"
)

// StageName identifies this stage in worker requests.
const StageName = "extract"

// Input describes one sub-graph extraction.
type Input struct {
	OnnxPath  string   `json:"onnx_path"`
	Start     string   `json:"start"`
	End       string   `json:"end"`
	SavePath  string   `json:"save_path"`
	Extractor []string `json:"extractor"`
}

// Stage is the sub-graph extraction stage handler.
type Stage struct{}

func (Stage) Name() string  { return StageName }
func (Stage) NewInput() any { return &Input{} }

// Run invokes the extractor and verifies the sub-graph file was produced.
func (Stage) Run(ctx context.Context, input any) error {
	in := input.(*Input)
	ctxlog.FromContext(ctx).Info("Extracting sub-graph.",
		"source", in.OnnxPath,
		"start", in.Start,
		"end", in.End,
		"save_path", in.SavePath,
	)

	if err := stage.RunTool(ctx, BuildArgs(in)); err != nil {
		return err
	}
	if _, err := os.Stat(in.SavePath); err != nil {
		return fmt.Errorf("extractor finished but %s was not produced: %w", in.SavePath, err)
	}
	return nil
}

// BuildArgs assembles the extractor command line.
func BuildArgs(in *Input) []string {
	argv := append([]string{}, in.Extractor...)
	return append(argv,
		in.OnnxPath,
		"--start", in.Start,
		"--end", in.End,
		"--output", in.SavePath,
	)
}
