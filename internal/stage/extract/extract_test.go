package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildArgs(t *testing.T) {
	t.Parallel()

	in := &Input{
		OnnxPath:  "/tmp/work/end2end.onnx",
		Start:     "backbone:input",
		End:       "neck:output",
		SavePath:  "/tmp/work/backbone.onnx",
		Extractor: []string{"python3", "tools/extract_subgraph.py"},
	}

	assert.Equal(t, []string{
		"python3", "tools/extract_subgraph.py",
		"/tmp/work/end2end.onnx",
		"--start", "backbone:input",
		"--end", "neck:output",
		"--output", "/tmp/work/backbone.onnx",
	}, BuildArgs(in))
}
