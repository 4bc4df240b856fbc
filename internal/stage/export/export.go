// Package export implements the torch2onnx stage: it exports a trained
// checkpoint to the intermediate ONNX exchange format by invoking the
// configured exporter command.
package export

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/vk/modeldeploy/internal/ctxlog"
	"github.com/vk/modeldeploy/internal/stage"
)

// StageName identifies this stage in worker requests.
const StageName = "torch2onnx"

// Input carries everything the exporter needs across the worker boundary.
type Input struct {
	Img        string   `json:"img"`
	WorkDir    string   `json:"work_dir"`
	SaveFile   string   `json:"save_file"`
	DeployCfg  string   `json:"deploy_cfg"`
	ModelCfg   string   `json:"model_cfg"`
	Checkpoint string   `json:"checkpoint"`
	Device     string   `json:"device"`
	Opset      int      `json:"opset,omitempty"`
	Exporter   []string `json:"exporter"`
}

// Stage is the torch2onnx stage handler.
type Stage struct{}

func (Stage) Name() string  { return StageName }
func (Stage) NewInput() any { return &Input{} }

// Run invokes the exporter and verifies that the ONNX file was produced.
func (Stage) Run(ctx context.Context, input any) error {
	in := input.(*Input)
	logger := ctxlog.FromContext(ctx)

	savePath := filepath.Join(in.WorkDir, in.SaveFile)
	argv := BuildArgs(in)
	logger.Info("Exporting checkpoint to ONNX.",
		"checkpoint", in.Checkpoint,
		"save_path", savePath,
		"device", in.Device,
	)

	if err := stage.RunTool(ctx, argv); err != nil {
		return err
	}
	if _, err := os.Stat(savePath); err != nil {
		return fmt.Errorf("exporter finished but %s was not produced: %w", savePath, err)
	}
	return nil
}

// BuildArgs assembles the exporter command line. The exporter receives the
// model config and checkpoint as positionals and everything else as flags.
func BuildArgs(in *Input) []string {
	argv := append([]string{}, in.Exporter...)
	argv = append(argv,
		in.ModelCfg,
		in.Checkpoint,
		"--img", in.Img,
		"--output", filepath.Join(in.WorkDir, in.SaveFile),
		"--deploy-cfg", in.DeployCfg,
		"--device", in.Device,
	)
	if in.Opset > 0 {
		argv = append(argv, "--opset", strconv.Itoa(in.Opset))
	}
	return argv
}
