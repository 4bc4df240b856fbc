package config

import (
	"fmt"
)

// Known backend identifiers. The set is closed: anything else in the deploy
// config is rejected at load time.
const (
	// BackendDefault runs inference directly on the intermediate ONNX files.
	BackendDefault = "default"
	// BackendTensorRT compiles each intermediate file into a TensorRT engine.
	BackendTensorRT = "tensorrt"
	// BackendPyTorch tags the reference visualization that runs against the
	// original checkpoint. It is never a valid deploy-config backend.
	BackendPyTorch = "pytorch"
)

// Deploy is the decoded deploy configuration file.
type Deploy struct {
	Codebase   string     `hcl:"codebase"`
	Backend    string     `hcl:"backend,optional"`
	ApplyMarks bool       `hcl:"apply_marks,optional"`
	WorkDir    string     `hcl:"work_dir,optional"`
	ONNX       *ONNX      `hcl:"onnx,block"`
	Splits     []*Split   `hcl:"split,block"`
	TensorRT   *TensorRT  `hcl:"tensorrt,block"`
	Tools      *Tools     `hcl:"tools,block"`
	Inference  *Inference `hcl:"inference,block"`
}

// ONNX configures the export to the intermediate exchange format.
type ONNX struct {
	SaveFile string `hcl:"save_file"`
	Opset    int    `hcl:"opset,optional"`
}

// Split names one sub-graph to extract between two boundary marks. Blocks
// are applied in declaration order.
type Split struct {
	Name     string `hcl:"name,label"`
	Start    string `hcl:"start"`
	End      string `hcl:"end"`
	SaveFile string `hcl:"save_file"`
}

// TensorRT holds the backend build parameters, one model block per
// intermediate file.
type TensorRT struct {
	Models []*TRTModel `hcl:"model,block"`
}

// TRTModel is the build parameter set for a single engine.
type TRTModel struct {
	SaveFile         string `hcl:"save_file,optional"`
	FP16             bool   `hcl:"fp16,optional"`
	MaxWorkspaceSize int64  `hcl:"max_workspace_size,optional"`
	MinShape         []int  `hcl:"min_shape,optional"`
	OptShape         []int  `hcl:"opt_shape,optional"`
	MaxShape         []int  `hcl:"max_shape,optional"`
}

// Tools names the external toolchain commands the stages shell out to.
type Tools struct {
	Exporter  []string `hcl:"exporter,optional"`
	Extractor []string `hcl:"extractor,optional"`
	Builder   []string `hcl:"builder,optional"`
	Inference []string `hcl:"inference,optional"`
}

// Inference configures preprocessing and visualization. ScoreThreshold is
// a pointer so that an explicit zero in the config file stays
// distinguishable from an omitted attribute and gets rejected instead of
// silently defaulted.
type Inference struct {
	LabelsFile     string    `hcl:"labels_file,optional"`
	ScoreThreshold *float64  `hcl:"score_threshold,optional"`
	InputWidth     int       `hcl:"input_width,optional"`
	InputHeight    int       `hcl:"input_height,optional"`
	Mean           []float64 `hcl:"mean,optional"`
	Std            []float64 `hcl:"std,optional"`
}

// applyDefaults fills in every optional section the config file omitted.
func (d *Deploy) applyDefaults() {
	if d.Backend == "" {
		d.Backend = BackendDefault
	}
	if d.Tools == nil {
		d.Tools = &Tools{}
	}
	if len(d.Tools.Exporter) == 0 {
		d.Tools.Exporter = []string{"python3", "tools/torch2onnx.py"}
	}
	if len(d.Tools.Extractor) == 0 {
		d.Tools.Extractor = []string{"python3", "tools/extract_subgraph.py"}
	}
	if len(d.Tools.Builder) == 0 {
		d.Tools.Builder = []string{"trtexec"}
	}
	if len(d.Tools.Inference) == 0 {
		d.Tools.Inference = []string{"python3", "tools/infer.py"}
	}
	if d.Inference == nil {
		d.Inference = &Inference{}
	}
	if d.Inference.ScoreThreshold == nil {
		th := 0.3
		d.Inference.ScoreThreshold = &th
	}
	if d.Inference.InputWidth == 0 {
		d.Inference.InputWidth = 640
	}
	if d.Inference.InputHeight == 0 {
		d.Inference.InputHeight = 640
	}
	if len(d.Inference.Mean) == 0 {
		d.Inference.Mean = []float64{0, 0, 0}
	}
	if len(d.Inference.Std) == 0 {
		d.Inference.Std = []float64{1, 1, 1}
	}
}

// validate rejects every configuration inconsistency that can be detected
// without knowing how many intermediate files the split stage will produce.
// The model-params count check lives in the pipeline, which is the first
// place that number is known.
func (d *Deploy) validate() error {
	if d.ONNX == nil {
		return fmt.Errorf("deploy config is missing the required onnx block")
	}
	if d.ONNX.SaveFile == "" {
		return fmt.Errorf("onnx block must set save_file")
	}
	switch d.Backend {
	case BackendDefault, BackendTensorRT:
	default:
		return fmt.Errorf("unknown backend %q, must be %q or %q", d.Backend, BackendDefault, BackendTensorRT)
	}
	if d.ApplyMarks && len(d.Splits) == 0 {
		return fmt.Errorf("apply_marks is set but the deploy config has no split blocks")
	}
	if d.Backend == BackendTensorRT {
		if d.TensorRT == nil || len(d.TensorRT.Models) == 0 {
			return fmt.Errorf("backend is %q but the deploy config has no tensorrt model blocks", BackendTensorRT)
		}
	}
	for _, s := range d.Splits {
		if s.Start == "" || s.End == "" {
			return fmt.Errorf("split %q must set both start and end marks", s.Name)
		}
		if s.SaveFile == "" {
			return fmt.Errorf("split %q must set save_file", s.Name)
		}
	}
	if th := *d.Inference.ScoreThreshold; th <= 0 || th > 1 {
		return fmt.Errorf("inference score_threshold must be in (0, 1], got %v", th)
	}
	if len(d.Inference.Mean) != 3 || len(d.Inference.Std) != 3 {
		return fmt.Errorf("inference mean and std must each have 3 channel values")
	}
	return nil
}
