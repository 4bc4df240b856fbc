package pipeline

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/modeldeploy/internal/config"
	"github.com/vk/modeldeploy/internal/stage/export"
	"github.com/vk/modeldeploy/internal/stage/extract"
	"github.com/vk/modeldeploy/internal/stage/infer"
	"github.com/vk/modeldeploy/internal/stage/trt"
	"github.com/vk/modeldeploy/internal/task"
)

// spyExecutor records every dispatched stage and can be scripted to fail
// at a given call index.
type spyExecutor struct {
	stages   []string
	payloads []any
	failAt   int // call index to fail at, -1 for never
}

func newSpy() *spyExecutor {
	return &spyExecutor{failAt: -1}
}

func (s *spyExecutor) Run(_ context.Context, stage string, payload any) error {
	idx := len(s.stages)
	s.stages = append(s.stages, stage)
	s.payloads = append(s.payloads, payload)
	if idx == s.failAt {
		return &task.StageError{Stage: stage, Reason: "scripted failure"}
	}
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testOptions() Options {
	return Options{
		DeployCfgPath:  "deploy.hcl",
		ModelCfgPath:   "retinanet_r50.py",
		CheckpointPath: "retinanet_r50.pth",
		ImgPath:        "demo.jpg",
		WorkDir:        "/work",
		Device:         "cuda:0",
	}
}

func scoreThreshold(v float64) *float64 {
	return &v
}

func baseConfig() *config.Deploy {
	return &config.Deploy{
		Codebase: "mmdet",
		Backend:  config.BackendDefault,
		ONNX:     &config.ONNX{SaveFile: "end2end.onnx"},
		Tools: &config.Tools{
			Exporter:  []string{"exporter"},
			Extractor: []string{"extractor"},
			Builder:   []string{"trtexec"},
			Inference: []string{"python3", "tools/infer.py"},
		},
		Inference: &config.Inference{
			ScoreThreshold: scoreThreshold(0.3),
			InputWidth:     640,
			InputHeight:    640,
			Mean:           []float64{0, 0, 0},
			Std:            []float64{1, 1, 1},
		},
	}
}

func TestRun_DefaultBackendWithoutMarks(t *testing.T) {
	t.Parallel()

	spy := newSpy()
	cfg := baseConfig()

	err := New(cfg, spy, testLogger(), testOptions()).Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, []string{export.StageName, infer.StageName, infer.StageName}, spy.stages)

	// Inference on the default backend runs directly on the exported file.
	backendRun := spy.payloads[1].(*infer.Input)
	assert.Equal(t, []string{filepath.Join("/work", "end2end.onnx")}, backendRun.ModelFiles)
	assert.Equal(t, config.BackendDefault, backendRun.Backend)
	assert.Equal(t, filepath.Join("/work", "output_default.jpg"), backendRun.OutputFile)
	assert.Empty(t, backendRun.Tool)

	// The reference run always uses the original checkpoint, delegated to
	// the external inference tool.
	referenceRun := spy.payloads[2].(*infer.Input)
	assert.Equal(t, []string{"retinanet_r50.pth"}, referenceRun.ModelFiles)
	assert.Equal(t, config.BackendPyTorch, referenceRun.Backend)
	assert.Equal(t, filepath.Join("/work", "output_pytorch.jpg"), referenceRun.OutputFile)
	assert.Equal(t, []string{"python3", "tools/infer.py"}, referenceRun.Tool)

	assert.NotEqual(t, backendRun.OutputFile, referenceRun.OutputFile)
}

func TestRun_SplitAndTensorRT(t *testing.T) {
	t.Parallel()

	spy := newSpy()
	cfg := baseConfig()
	cfg.Backend = config.BackendTensorRT
	cfg.ApplyMarks = true
	cfg.Splits = []*config.Split{
		{Name: "backbone", Start: "backbone:input", End: "neck:output", SaveFile: "backbone.onnx"},
		{Name: "head", Start: "neck:output", End: "head:output", SaveFile: "head.onnx"},
	}
	cfg.TensorRT = &config.TensorRT{
		Models: []*config.TRTModel{
			{SaveFile: "backbone.engine", FP16: true},
			{}, // save_file derived from the ONNX base name
		},
	}

	err := New(cfg, spy, testLogger(), testOptions()).Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, []string{
		export.StageName,
		extract.StageName, extract.StageName,
		trt.StageName, trt.StageName,
		infer.StageName, infer.StageName,
	}, spy.stages)

	// Both extractions read from the original exported file.
	first := spy.payloads[1].(*extract.Input)
	second := spy.payloads[2].(*extract.Input)
	assert.Equal(t, filepath.Join("/work", "end2end.onnx"), first.OnnxPath)
	assert.Equal(t, filepath.Join("/work", "end2end.onnx"), second.OnnxPath)
	assert.Equal(t, filepath.Join("/work", "backbone.onnx"), first.SavePath)
	assert.Equal(t, filepath.Join("/work", "head.onnx"), second.SavePath)

	// Engines pair positionally with the split outputs.
	firstBuild := spy.payloads[3].(*trt.Input)
	secondBuild := spy.payloads[4].(*trt.Input)
	assert.Equal(t, filepath.Join("/work", "backbone.onnx"), firstBuild.OnnxPath)
	assert.Equal(t, filepath.Join("/work", "backbone.engine"), firstBuild.SavePath)
	assert.True(t, firstBuild.FP16)
	assert.Equal(t, filepath.Join("/work", "head.engine"), secondBuild.SavePath)

	// Backend inference consumes the engine files, not the ONNX files.
	backendRun := spy.payloads[5].(*infer.Input)
	assert.Equal(t, []string{
		filepath.Join("/work", "backbone.engine"),
		filepath.Join("/work", "head.engine"),
	}, backendRun.ModelFiles)
	assert.Equal(t, filepath.Join("/work", "output_tensorrt.jpg"), backendRun.OutputFile)
}

func TestRun_ModelParamCountMismatch(t *testing.T) {
	t.Parallel()

	spy := newSpy()
	cfg := baseConfig()
	cfg.Backend = config.BackendTensorRT
	cfg.ApplyMarks = true
	cfg.Splits = []*config.Split{
		{Name: "backbone", Start: "a", End: "b", SaveFile: "backbone.onnx"},
		{Name: "head", Start: "b", End: "c", SaveFile: "head.onnx"},
	}
	cfg.TensorRT = &config.TensorRT{Models: []*config.TRTModel{{}}}

	err := New(cfg, spy, testLogger(), testOptions()).Run(context.Background())

	require.Error(t, err)
	assert.ErrorContains(t, err, "1 model blocks but the pipeline produced 2 intermediate files")
	// The mismatch must surface before any engine build is dispatched.
	assert.NotContains(t, spy.stages, trt.StageName)
	assert.Equal(t, []string{export.StageName, extract.StageName, extract.StageName}, spy.stages)
}

func TestRun_ShortCircuitsOnFailure(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name       string
		failAt     int
		wantStages []string
	}{
		{
			name:       "export failure stops everything",
			failAt:     0,
			wantStages: []string{export.StageName},
		},
		{
			name:       "first split failure skips the second split",
			failAt:     1,
			wantStages: []string{export.StageName, extract.StageName},
		},
		{
			name:   "backend visualization failure skips the reference run",
			failAt: 3,
			wantStages: []string{
				export.StageName, extract.StageName, extract.StageName, infer.StageName,
			},
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			spy := newSpy()
			spy.failAt = tc.failAt
			cfg := baseConfig()
			cfg.ApplyMarks = true
			cfg.Splits = []*config.Split{
				{Name: "backbone", Start: "a", End: "b", SaveFile: "backbone.onnx"},
				{Name: "head", Start: "b", End: "c", SaveFile: "head.onnx"},
			}

			err := New(cfg, spy, testLogger(), testOptions()).Run(context.Background())

			require.Error(t, err)
			var stageErr *task.StageError
			require.ErrorAs(t, err, &stageErr)
			assert.Equal(t, tc.wantStages, spy.stages)
		})
	}
}

func TestRun_DefaultBackendSkipsEngineBuild(t *testing.T) {
	t.Parallel()

	// The default backend means no compile stage: inference gets the
	// intermediate file list unchanged, split outputs included.
	spy := newSpy()
	cfg := baseConfig()
	cfg.ApplyMarks = true
	cfg.Splits = []*config.Split{
		{Name: "backbone", Start: "a", End: "b", SaveFile: "backbone.onnx"},
		{Name: "head", Start: "b", End: "c", SaveFile: "head.onnx"},
	}

	err := New(cfg, spy, testLogger(), testOptions()).Run(context.Background())

	require.NoError(t, err)
	assert.NotContains(t, spy.stages, trt.StageName)
	backendRun := spy.payloads[3].(*infer.Input)
	assert.Equal(t, []string{
		filepath.Join("/work", "backbone.onnx"),
		filepath.Join("/work", "head.onnx"),
	}, backendRun.ModelFiles)
}
