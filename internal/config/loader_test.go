package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeConfig writes an HCL deploy config into a temp dir and returns its path.
func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "deploy.hcl")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_FullConfig(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
		codebase    = "mmdet"
		backend     = "tensorrt"
		apply_marks = true

		onnx {
			save_file = "end2end.onnx"
			opset     = 11
		}

		split "backbone" {
			start     = "backbone:input"
			end       = "neck:output"
			save_file = "backbone.onnx"
		}

		split "head" {
			start     = "neck:output"
			end       = "head:output"
			save_file = "head.onnx"
		}

		tensorrt {
			model {
				save_file          = "backbone.engine"
				fp16               = true
				max_workspace_size = 1073741824
			}
			model {
				min_shape = [1, 3, 320, 320]
				opt_shape = [1, 3, 800, 1344]
				max_shape = [1, 3, 1344, 1344]
			}
		}

		inference {
			labels_file     = "coco_labels.txt"
			score_threshold = 0.5
		}
	`)

	deploy, err := NewLoader().Load(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, "mmdet", deploy.Codebase)
	assert.Equal(t, BackendTensorRT, deploy.Backend)
	assert.True(t, deploy.ApplyMarks)

	require.NotNil(t, deploy.ONNX)
	assert.Equal(t, "end2end.onnx", deploy.ONNX.SaveFile)
	assert.Equal(t, 11, deploy.ONNX.Opset)

	require.Len(t, deploy.Splits, 2)
	assert.Equal(t, "backbone", deploy.Splits[0].Name)
	assert.Equal(t, "backbone:input", deploy.Splits[0].Start)
	assert.Equal(t, "head.onnx", deploy.Splits[1].SaveFile)

	require.NotNil(t, deploy.TensorRT)
	require.Len(t, deploy.TensorRT.Models, 2)
	assert.True(t, deploy.TensorRT.Models[0].FP16)
	assert.Equal(t, int64(1073741824), deploy.TensorRT.Models[0].MaxWorkspaceSize)
	assert.Equal(t, []int{1, 3, 800, 1344}, deploy.TensorRT.Models[1].OptShape)
	assert.Empty(t, deploy.TensorRT.Models[1].SaveFile)

	assert.Equal(t, "coco_labels.txt", deploy.Inference.LabelsFile)
	require.NotNil(t, deploy.Inference.ScoreThreshold)
	assert.Equal(t, 0.5, *deploy.Inference.ScoreThreshold)
}

func TestLoad_Defaults(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
		codebase = "mmdet"
		onnx {
			save_file = "end2end.onnx"
		}
	`)

	deploy, err := NewLoader().Load(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, BackendDefault, deploy.Backend)
	assert.False(t, deploy.ApplyMarks)
	assert.Empty(t, deploy.Splits)

	require.NotNil(t, deploy.Tools)
	assert.Equal(t, []string{"python3", "tools/torch2onnx.py"}, deploy.Tools.Exporter)
	assert.Equal(t, []string{"trtexec"}, deploy.Tools.Builder)
	assert.Equal(t, []string{"python3", "tools/infer.py"}, deploy.Tools.Inference)

	require.NotNil(t, deploy.Inference)
	require.NotNil(t, deploy.Inference.ScoreThreshold)
	assert.Equal(t, 0.3, *deploy.Inference.ScoreThreshold)
	assert.Equal(t, 640, deploy.Inference.InputWidth)
	assert.Equal(t, 640, deploy.Inference.InputHeight)
	assert.Equal(t, []float64{0, 0, 0}, deploy.Inference.Mean)
	assert.Equal(t, []float64{1, 1, 1}, deploy.Inference.Std)
}

func TestLoad_Errors(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		body    string
		wantErr string
	}{
		{
			name:    "syntax error",
			body:    `codebase = "mmdet`,
			wantErr: "failed to parse",
		},
		{
			name: "missing codebase",
			body: `
				onnx { save_file = "end2end.onnx" }
			`,
			wantErr: "failed to decode",
		},
		{
			name:    "missing onnx block",
			body:    `codebase = "mmdet"`,
			wantErr: "missing the required onnx block",
		},
		{
			name: "unknown backend",
			body: `
				codebase = "mmdet"
				backend  = "openvino"
				onnx { save_file = "end2end.onnx" }
			`,
			wantErr: `unknown backend "openvino"`,
		},
		{
			name: "apply_marks without split blocks",
			body: `
				codebase    = "mmdet"
				apply_marks = true
				onnx { save_file = "end2end.onnx" }
			`,
			wantErr: "no split blocks",
		},
		{
			name: "tensorrt backend without model blocks",
			body: `
				codebase = "mmdet"
				backend  = "tensorrt"
				onnx { save_file = "end2end.onnx" }
			`,
			wantErr: "no tensorrt model blocks",
		},
		{
			name: "split with empty marks",
			body: `
				codebase    = "mmdet"
				apply_marks = true
				onnx { save_file = "end2end.onnx" }
				split "bad" {
					start     = ""
					end       = "head:output"
					save_file = "bad.onnx"
				}
			`,
			wantErr: "must set both start and end",
		},
		{
			name: "score threshold out of range",
			body: `
				codebase = "mmdet"
				onnx { save_file = "end2end.onnx" }
				inference { score_threshold = 1.5 }
			`,
			wantErr: "score_threshold",
		},
		{
			name: "explicit zero score threshold",
			body: `
				codebase = "mmdet"
				onnx { save_file = "end2end.onnx" }
				inference { score_threshold = 0 }
			`,
			wantErr: "score_threshold must be in (0, 1]",
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			path := writeConfig(t, tc.body)

			_, err := NewLoader().Load(context.Background(), path)

			require.Error(t, err)
			assert.ErrorContains(t, err, tc.wantErr)
		})
	}
}
