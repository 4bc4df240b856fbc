package infer

import (
	"bufio"
	"fmt"
	"image"
	"math"
	"os"
	"strings"

	"gonum.org/v1/gonum/floats"
)

// Detection is one decoded detection-head row.
type Detection struct {
	ClassID int
	Score   float32
	Box     image.Rectangle
}

// ParseDetections decodes an SSD-style detection output: rows of
// [batch, class, score, left, top, right, bottom] with normalized
// coordinates. Rows below threshold are dropped and boxes are clamped to
// the image bounds.
func ParseDetections(data []float32, width, height int, threshold float32) []Detection {
	var dets []Detection
	for i := 0; i+7 <= len(data); i += 7 {
		score := data[i+2]
		if score < threshold {
			continue
		}
		box := image.Rect(
			int(data[i+3]*float32(width)),
			int(data[i+4]*float32(height)),
			int(data[i+5]*float32(width)),
			int(data[i+6]*float32(height)),
		).Intersect(image.Rect(0, 0, width, height))
		if box.Empty() {
			continue
		}
		dets = append(dets, Detection{
			ClassID: int(data[i+1]),
			Score:   score,
			Box:     box,
		})
	}
	return dets
}

// Softmax converts logits into a probability distribution.
func Softmax(logits []float64) []float64 {
	if len(logits) == 0 {
		return nil
	}
	probs := make([]float64, len(logits))
	max := floats.Max(logits)
	for i, v := range logits {
		probs[i] = math.Exp(v - max)
	}
	floats.Scale(1/floats.Sum(probs), probs)
	return probs
}

// TopK returns the indices of the k largest values, best first.
func TopK(values []float64, k int) []int {
	if k > len(values) {
		k = len(values)
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	inds := make([]int, len(values))
	floats.Argsort(sorted, inds)

	top := make([]int, 0, k)
	for i := len(inds) - 1; i >= len(inds)-k; i-- {
		top = append(top, inds[i])
	}
	return top
}

// LoadLabels reads one class name per line. An empty path yields no labels,
// in which case labelFor falls back to numeric class names.
func LoadLabels(path string) ([]string, error) {
	if path == "" {
		return nil, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open labels file: %w", err)
	}
	defer f.Close()

	var labels []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			labels = append(labels, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read labels file: %w", err)
	}
	return labels, nil
}

func labelFor(labels []string, classID int) string {
	if classID >= 0 && classID < len(labels) {
		return labels[classID]
	}
	return fmt.Sprintf("cls %d", classID)
}
