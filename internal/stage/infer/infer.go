// Package infer implements the inference stage: it runs a converted model
// (or the original checkpoint) against the sample image and writes a
// visualization of the result, so backend and reference outputs can be
// compared side by side.
package infer

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"os"
	"strings"

	"gocv.io/x/gocv"

	"github.com/vk/modeldeploy/internal/ctxlog"
	"github.com/vk/modeldeploy/internal/stage"
)

// StageName identifies this stage in worker requests.
const StageName = "inference"

// nmsThreshold is the IoU cutoff used when suppressing overlapping boxes.
const nmsThreshold = 0.45

// Settings carries the preprocessing and visualization parameters from the
// deploy config.
type Settings struct {
	LabelsFile     string    `json:"labels_file,omitempty"`
	ScoreThreshold float64   `json:"score_threshold"`
	InputWidth     int       `json:"input_width"`
	InputHeight    int       `json:"input_height"`
	Mean           []float64 `json:"mean"`
	Std            []float64 `json:"std"`
}

// Input carries one inference run across the worker boundary. When Tool is
// set the run is delegated to that external command instead of the DNN
// path; the checkpoint-based reference run uses this, since a raw training
// checkpoint is not loadable by the DNN importers.
type Input struct {
	ModelFiles []string `json:"model_files"`
	ModelCfg   string   `json:"model_cfg"`
	Img        string   `json:"img"`
	Codebase   string   `json:"codebase"`
	Backend    string   `json:"backend"`
	Device     string   `json:"device"`
	OutputFile string   `json:"output_file"`
	Show       bool     `json:"show"`
	Tool       []string `json:"tool,omitempty"`
	Settings   Settings `json:"settings"`
}

// Stage is the inference stage handler.
type Stage struct{}

func (Stage) Name() string  { return StageName }
func (Stage) NewInput() any { return &Input{} }

// forwardPass runs one loaded model part on an input tensor.
type forwardPass func(gocv.Mat) (gocv.Mat, error)

// Run executes one inference: either by delegating to the configured
// external tool, or by loading every model file, threading a forward pass
// through them in order, drawing the postprocessed result, and writing it
// to OutputFile.
func (Stage) Run(ctx context.Context, input any) error {
	in := input.(*Input)
	logger := ctxlog.FromContext(ctx)

	if len(in.ModelFiles) == 0 {
		return fmt.Errorf("inference needs at least one model file")
	}
	logger.Info("Running inference.",
		"models", in.ModelFiles,
		"backend", in.Backend,
		"codebase", in.Codebase,
		"output_file", in.OutputFile,
	)

	if len(in.Tool) > 0 {
		return runTool(ctx, in)
	}

	img := gocv.IMRead(in.Img, gocv.IMReadColor)
	if img.Empty() {
		return fmt.Errorf("failed to read image %s", in.Img)
	}
	defer img.Close()

	parts := make([]forwardPass, 0, len(in.ModelFiles))
	for _, modelFile := range in.ModelFiles {
		net := gocv.ReadNet(modelFile, "")
		if net.Empty() {
			return fmt.Errorf("failed to load model %s", modelFile)
		}
		defer net.Close()

		if strings.HasPrefix(in.Device, "cuda") {
			if err := net.SetPreferableBackend(gocv.NetBackendCUDA); err != nil {
				return fmt.Errorf("failed to select CUDA backend: %w", err)
			}
			if err := net.SetPreferableTarget(gocv.NetTargetCUDA); err != nil {
				return fmt.Errorf("failed to select CUDA target: %w", err)
			}
		}
		parts = append(parts, netForward(&net))
	}

	output, err := forward(parts, img, in.Settings)
	if err != nil {
		return err
	}

	labels, err := LoadLabels(in.Settings.LabelsFile)
	if err != nil {
		return err
	}

	switch in.Codebase {
	case "mmcls":
		drawClassification(&img, output, labels)
	default:
		drawDetections(&img, output, labels, in.Settings)
	}

	if ok := gocv.IMWrite(in.OutputFile, img); !ok {
		return fmt.Errorf("failed to write visualization to %s", in.OutputFile)
	}
	logger.Info("Visualization written.", "output_file", in.OutputFile)

	if in.Show {
		window := gocv.NewWindow(fmt.Sprintf("modeldeploy: %s", in.Backend))
		defer window.Close()
		window.IMShow(img)
		window.WaitKey(0)
	}
	return nil
}

// runTool delegates the whole inference to the configured external command
// and verifies that the visualization was produced.
func runTool(ctx context.Context, in *Input) error {
	if err := stage.RunTool(ctx, BuildToolArgs(in)); err != nil {
		return err
	}
	if _, err := os.Stat(in.OutputFile); err != nil {
		return fmt.Errorf("inference tool finished but %s was not produced: %w", in.OutputFile, err)
	}
	return nil
}

// BuildToolArgs assembles the external inference command line. The tool
// receives the model config and every model file as positionals, matching
// the export/extract/build tool conventions.
func BuildToolArgs(in *Input) []string {
	argv := append([]string{}, in.Tool...)
	argv = append(argv, in.ModelCfg)
	argv = append(argv, in.ModelFiles...)
	argv = append(argv,
		"--img", in.Img,
		"--codebase", in.Codebase,
		"--backend", in.Backend,
		"--device", in.Device,
		"--output", in.OutputFile,
	)
	if in.Show {
		argv = append(argv, "--show")
	}
	return argv
}

// netForward wraps one loaded network as a forwardPass.
func netForward(net *gocv.Net) forwardPass {
	return func(input gocv.Mat) (gocv.Mat, error) {
		net.SetInput(input, "")
		out := net.Forward("")
		if out.Empty() {
			out.Close()
			return gocv.Mat{}, fmt.Errorf("network produced no output")
		}
		return out, nil
	}
}

// chainForward threads input through every model part in order, so a split
// model is evaluated as the composition of its sub-graphs. Intermediate
// tensors are closed as the chain advances; the caller owns the returned
// Mat. input is never closed.
func chainForward(input gocv.Mat, parts []forwardPass) (gocv.Mat, error) {
	current := input
	for i, part := range parts {
		next, err := part(current)
		if i > 0 {
			current.Close()
		}
		if err != nil {
			return gocv.Mat{}, fmt.Errorf("model part %d failed: %w", i, err)
		}
		current = next
	}
	return current, nil
}

// forward preprocesses the image, runs the model-part chain, and returns
// the flattened final output.
func forward(parts []forwardPass, img gocv.Mat, s Settings) ([]float32, error) {
	// BlobFromImage takes a single scale factor, so per-channel std reduces
	// to its first channel here.
	scale := 1.0
	if len(s.Std) > 0 && s.Std[0] != 0 {
		scale = 1.0 / s.Std[0]
	}
	mean := gocv.NewScalar(s.Mean[0], s.Mean[1], s.Mean[2], 0)

	blob := gocv.BlobFromImage(img, scale, image.Pt(s.InputWidth, s.InputHeight), mean, true, false)
	defer blob.Close()

	out, err := chainForward(blob, parts)
	if err != nil {
		return nil, err
	}
	defer out.Close()

	flat := out.Reshape(1, 1)
	defer flat.Close()

	result := make([]float32, flat.Total())
	for i := range result {
		result[i] = flat.GetFloatAt(0, i)
	}
	if len(result) == 0 {
		return nil, fmt.Errorf("network produced no output")
	}
	return result, nil
}

func drawDetections(dst *gocv.Mat, output []float32, labels []string, s Settings) {
	bounds := image.Rect(0, 0, dst.Cols(), dst.Rows())
	dets := ParseDetections(output, bounds.Dx(), bounds.Dy(), float32(s.ScoreThreshold))
	if len(dets) == 0 {
		return
	}

	boxes := make([]image.Rectangle, len(dets))
	scores := make([]float32, len(dets))
	for i, d := range dets {
		boxes[i] = d.Box
		scores[i] = d.Score
	}

	for _, idx := range gocv.NMSBoxes(boxes, scores, float32(s.ScoreThreshold), nmsThreshold) {
		d := dets[idx]
		clr := classColor(d.ClassID)
		gocv.Rectangle(dst, d.Box, clr, 2)
		caption := fmt.Sprintf("%s %.2f", labelFor(labels, d.ClassID), d.Score)
		org := image.Pt(d.Box.Min.X, d.Box.Min.Y-6)
		if org.Y < 12 {
			org.Y = d.Box.Min.Y + 14
		}
		gocv.PutText(dst, caption, org, gocv.FontHersheySimplex, 0.5, clr, 1)
	}
}

func drawClassification(dst *gocv.Mat, output []float32, labels []string) {
	logits := make([]float64, len(output))
	for i, v := range output {
		logits[i] = float64(v)
	}
	probs := Softmax(logits)

	clr := color.RGBA{R: 255, G: 255, B: 255, A: 255}
	for line, idx := range TopK(probs, 5) {
		caption := fmt.Sprintf("%s: %.3f", labelFor(labels, idx), probs[idx])
		gocv.PutText(dst, caption, image.Pt(10, 24+line*22), gocv.FontHersheySimplex, 0.6, clr, 2)
	}
}

// classColor returns a stable per-class color from a small palette.
func classColor(classID int) color.RGBA {
	palette := []color.RGBA{
		{R: 255, G: 56, B: 56, A: 255},
		{R: 72, G: 249, B: 10, A: 255},
		{R: 61, G: 219, B: 255, A: 255},
		{R: 255, G: 157, B: 151, A: 255},
		{R: 207, G: 210, B: 49, A: 255},
		{R: 146, G: 204, B: 23, A: 255},
	}
	if classID < 0 {
		classID = -classID
	}
	return palette[classID%len(palette)]
}
