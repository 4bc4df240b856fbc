// Package trt implements the onnx2tensorrt stage: it compiles an ONNX file
// into a TensorRT engine with the configured builder command.
package trt

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/vk/modeldeploy/internal/ctxlog"
	"github.com/vk/modeldeploy/internal/stage"
)

// StageName identifies this stage in worker requests.
const StageName = "onnx2tensorrt"

// Input carries one engine build across the worker boundary.
type Input struct {
	OnnxPath         string   `json:"onnx_path"`
	SavePath         string   `json:"save_path"`
	Device           string   `json:"device"`
	FP16             bool     `json:"fp16,omitempty"`
	MaxWorkspaceSize int64    `json:"max_workspace_size,omitempty"`
	MinShape         []int    `json:"min_shape,omitempty"`
	OptShape         []int    `json:"opt_shape,omitempty"`
	MaxShape         []int    `json:"max_shape,omitempty"`
	Builder          []string `json:"builder"`
}

// Stage is the onnx2tensorrt stage handler.
type Stage struct{}

func (Stage) Name() string  { return StageName }
func (Stage) NewInput() any { return &Input{} }

// Run invokes the engine builder and verifies the engine was produced.
func (Stage) Run(ctx context.Context, input any) error {
	in := input.(*Input)
	ctxlog.FromContext(ctx).Info("Building TensorRT engine.",
		"onnx", in.OnnxPath,
		"save_path", in.SavePath,
		"fp16", in.FP16,
	)

	if err := stage.RunTool(ctx, BuildArgs(in)); err != nil {
		return err
	}
	if _, err := os.Stat(in.SavePath); err != nil {
		return fmt.Errorf("builder finished but %s was not produced: %w", in.SavePath, err)
	}
	return nil
}

// BuildArgs assembles a trtexec-style builder command line.
func BuildArgs(in *Input) []string {
	argv := append([]string{}, in.Builder...)
	argv = append(argv,
		"--onnx="+in.OnnxPath,
		"--saveEngine="+in.SavePath,
		"--device="+strconv.Itoa(DeviceIndex(in.Device)),
	)
	if in.FP16 {
		argv = append(argv, "--fp16")
	}
	if in.MaxWorkspaceSize > 0 {
		// trtexec takes the workspace size in mebibytes.
		argv = append(argv, fmt.Sprintf("--workspace=%d", in.MaxWorkspaceSize/(1<<20)))
	}
	if len(in.MinShape) > 0 {
		argv = append(argv, "--minShapes=input:"+shapeSpec(in.MinShape))
	}
	if len(in.OptShape) > 0 {
		argv = append(argv, "--optShapes=input:"+shapeSpec(in.OptShape))
	}
	if len(in.MaxShape) > 0 {
		argv = append(argv, "--maxShapes=input:"+shapeSpec(in.MaxShape))
	}
	return argv
}

// EngineFileName derives the default engine file name from an ONNX path,
// e.g. /work/end2end.onnx -> end2end.engine.
func EngineFileName(onnxPath string) string {
	base := filepath.Base(onnxPath)
	return strings.TrimSuffix(base, filepath.Ext(base)) + ".engine"
}

// DeviceIndex extracts the ordinal from a device string such as "cuda:1".
// Plain "cuda" or anything unparseable maps to device 0.
func DeviceIndex(device string) int {
	_, ordinal, ok := strings.Cut(device, ":")
	if !ok {
		return 0
	}
	n, err := strconv.Atoi(ordinal)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func shapeSpec(shape []int) string {
	parts := make([]string, len(shape))
	for i, d := range shape {
		parts[i] = strconv.Itoa(d)
	}
	return strings.Join(parts, "x")
}
