// Package pipeline sequences the model-export pipeline: ONNX export,
// optional sub-graph extraction, optional backend compilation, and the two
// comparison visualizations. Each stage runs through a task.Executor and
// the first failure aborts the run.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/vk/modeldeploy/internal/config"
	"github.com/vk/modeldeploy/internal/stage/export"
	"github.com/vk/modeldeploy/internal/stage/extract"
	"github.com/vk/modeldeploy/internal/stage/infer"
	"github.com/vk/modeldeploy/internal/stage/trt"
	"github.com/vk/modeldeploy/internal/task"
)

// StageNames lists every stage a pipeline can dispatch, for registry
// validation at startup.
var StageNames = []string{
	export.StageName,
	extract.StageName,
	trt.StageName,
	infer.StageName,
}

// Options gathers the run-scoped inputs that are not part of the deploy
// config.
type Options struct {
	DeployCfgPath  string
	ModelCfgPath   string
	CheckpointPath string
	ImgPath        string
	WorkDir        string
	Device         string
	Show           bool
}

// Pipeline drives one deployment run.
type Pipeline struct {
	cfg    *config.Deploy
	exec   task.Executor
	logger *slog.Logger
	opts   Options
}

// New creates a Pipeline for the given deploy config and run options.
func New(cfg *config.Deploy, exec task.Executor, logger *slog.Logger, opts Options) *Pipeline {
	return &Pipeline{cfg: cfg, exec: exec, logger: logger, opts: opts}
}

// Run executes the pipeline stages strictly in order, stopping at the
// first failure. Artifacts already written by completed stages are left in
// place.
func (p *Pipeline) Run(ctx context.Context) error {
	onnxFiles, err := p.exportONNX(ctx)
	if err != nil {
		return err
	}

	if p.cfg.ApplyMarks {
		if onnxFiles, err = p.extractSubgraphs(ctx, onnxFiles[0]); err != nil {
			return err
		}
	}

	backendFiles := onnxFiles
	if p.cfg.Backend == config.BackendTensorRT {
		if backendFiles, err = p.buildEngines(ctx, onnxFiles); err != nil {
			return err
		}
	}

	if err := p.visualize(ctx, p.cfg.Backend, backendFiles, nil); err != nil {
		return err
	}
	// The reference run goes through the external inference tool: the raw
	// checkpoint cannot be loaded by the DNN importers.
	if err := p.visualize(ctx, config.BackendPyTorch, []string{p.opts.CheckpointPath}, p.cfg.Tools.Inference); err != nil {
		return err
	}

	p.logger.Info("All stages succeeded.")
	return nil
}

func (p *Pipeline) exportONNX(ctx context.Context) ([]string, error) {
	savePath := filepath.Join(p.opts.WorkDir, p.cfg.ONNX.SaveFile)
	err := p.exec.Run(ctx, export.StageName, &export.Input{
		Img:        p.opts.ImgPath,
		WorkDir:    p.opts.WorkDir,
		SaveFile:   p.cfg.ONNX.SaveFile,
		DeployCfg:  p.opts.DeployCfgPath,
		ModelCfg:   p.opts.ModelCfgPath,
		Checkpoint: p.opts.CheckpointPath,
		Device:     p.opts.Device,
		Opset:      p.cfg.ONNX.Opset,
		Exporter:   p.cfg.Tools.Exporter,
	})
	if err != nil {
		return nil, err
	}
	return []string{savePath}, nil
}

// extractSubgraphs cuts the exported graph into one file per split block,
// replacing the single post-export file with the split outputs.
func (p *Pipeline) extractSubgraphs(ctx context.Context, originFile string) ([]string, error) {
	files := make([]string, 0, len(p.cfg.Splits))
	for _, split := range p.cfg.Splits {
		savePath := filepath.Join(p.opts.WorkDir, split.SaveFile)
		p.logger.Info("Splitting model.",
			"split", split.Name,
			"start", split.Start,
			"end", split.End,
			"save_file", split.SaveFile,
		)
		err := p.exec.Run(ctx, extract.StageName, &extract.Input{
			OnnxPath:  originFile,
			Start:     split.Start,
			End:       split.End,
			SavePath:  savePath,
			Extractor: p.cfg.Tools.Extractor,
		})
		if err != nil {
			return nil, err
		}
		files = append(files, savePath)
	}
	return files, nil
}

// buildEngines compiles each intermediate file with its positionally
// matched model block. The count mismatch check runs before any build.
func (p *Pipeline) buildEngines(ctx context.Context, onnxFiles []string) ([]string, error) {
	models := p.cfg.TensorRT.Models
	if len(models) != len(onnxFiles) {
		return nil, fmt.Errorf(
			"tensorrt config declares %d model blocks but the pipeline produced %d intermediate files",
			len(models), len(onnxFiles),
		)
	}

	engineFiles := make([]string, 0, len(onnxFiles))
	for i, onnxPath := range onnxFiles {
		model := models[i]
		saveFile := model.SaveFile
		if saveFile == "" {
			saveFile = trt.EngineFileName(onnxPath)
		}
		savePath := filepath.Join(p.opts.WorkDir, saveFile)
		err := p.exec.Run(ctx, trt.StageName, &trt.Input{
			OnnxPath:         onnxPath,
			SavePath:         savePath,
			Device:           p.opts.Device,
			FP16:             model.FP16,
			MaxWorkspaceSize: model.MaxWorkspaceSize,
			MinShape:         model.MinShape,
			OptShape:         model.OptShape,
			MaxShape:         model.MaxShape,
			Builder:          p.cfg.Tools.Builder,
		})
		if err != nil {
			return nil, err
		}
		engineFiles = append(engineFiles, savePath)
	}
	return engineFiles, nil
}

func (p *Pipeline) visualize(ctx context.Context, backend string, modelFiles []string, tool []string) error {
	inf := p.cfg.Inference
	return p.exec.Run(ctx, infer.StageName, &infer.Input{
		ModelFiles: modelFiles,
		ModelCfg:   p.opts.ModelCfgPath,
		Img:        p.opts.ImgPath,
		Codebase:   p.cfg.Codebase,
		Backend:    backend,
		Device:     p.opts.Device,
		OutputFile: filepath.Join(p.opts.WorkDir, fmt.Sprintf("output_%s.jpg", backend)),
		Show:       p.opts.Show,
		Tool:       tool,
		Settings: infer.Settings{
			LabelsFile:     inf.LabelsFile,
			ScoreThreshold: *inf.ScoreThreshold,
			InputWidth:     inf.InputWidth,
			InputHeight:    inf.InputHeight,
			Mean:           inf.Mean,
			Std:            inf.Std,
		},
	})
}
